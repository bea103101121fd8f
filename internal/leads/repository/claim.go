package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"autotext_backend/internal/leads/domain"
)

// ErrClaimConflict means another worker holds the row lock right now.
// Not an error condition; the caller skips the lead for this run.
var ErrClaimConflict = errors.New("lead claimed by another worker")

// Claim is exclusive ownership of one lead for one dispatch cycle. It
// wraps a transaction holding a row-level lock; every mutation method
// runs inside that transaction and becomes visible on Commit. Other
// workers attempting to claim the same lead get ErrClaimConflict until
// the claim is released either way.
type Claim struct {
	tx   pgx.Tx
	lead domain.Lead
}

// Lead returns the row as it was at claim time.
func (c *Claim) Lead() domain.Lead { return c.lead }

// ClaimLead locks a lead row without waiting. A row already locked by a
// concurrent run is skipped, not waited on.
func (r *Repository) ClaimLead(ctx context.Context, id uuid.UUID) (*Claim, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1 FOR UPDATE SKIP LOCKED`, id)
	lead, err := scanLead(row)
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			// Locked elsewhere or deleted; either way, not ours this run.
			return nil, ErrClaimConflict
		}
		return nil, err
	}

	return &Claim{tx: tx, lead: lead}, nil
}

// Commit releases the claim, making all mutations visible.
func (c *Claim) Commit(ctx context.Context) error {
	return c.tx.Commit(ctx)
}

// Rollback releases the claim and discards any mutations. Safe to call
// after Commit; it becomes a no-op.
func (c *Claim) Rollback(ctx context.Context) {
	_ = c.tx.Rollback(ctx)
}

// SaveDraft persists a generated draft on the claimed lead.
func (c *Claim) SaveDraft(ctx context.Context, body string, status domain.MessageStatus, token *uuid.UUID) error {
	_, err := c.tx.Exec(ctx, `
		UPDATE leads
		SET message_status = $2, ai_message = $3, ai_draft_updated_at = now(),
		    send_token = $4, last_send_error = NULL, updated_at = now()
		WHERE id = $1`,
		c.lead.ID, string(status), body, token)
	return err
}

// MarkSentParams carries everything the post-send transaction needs:
// the delivered body, the gateway's message id, and the schedule the
// scheduler computed for the touch after this one.
type MarkSentParams struct {
	Body        string
	ProviderSID string
	FromNumber  string
	SentAt      time.Time
	NextSendAt  *time.Time
	NextStage   string
}

// MarkSent records a successful delivery: it appends the message log
// entry and advances the lead's state in the same transaction, so a
// crash between send and commit leaves the claim unreleased rather
// than the log and the lead disagreeing. The manual override and send
// token are consumed here; both are one-shot.
func (c *Claim) MarkSent(ctx context.Context, params MarkSentParams) error {
	_, err := c.tx.Exec(ctx, `
		INSERT INTO messages (lead_id, body, direction, origin, from_number, provider_sid, delivery_status, follow_up_stage, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'sent', $7, $8)`,
		c.lead.ID, params.Body, domain.DirectionOut, domain.OriginAI,
		params.FromNumber, params.ProviderSID, c.lead.FollowUpStage, params.SentAt)
	if err != nil {
		return err
	}

	_, err = c.tx.Exec(ctx, `
		UPDATE leads
		SET message_status = 'sent', ai_message = '', send_token = NULL,
		    ai_message_count = ai_message_count + 1,
		    last_texted = $2, last_ai_sent_at = $2,
		    next_ai_send_at = $3, manual_next_ai_send_at = NULL,
		    follow_up_stage = $4, last_send_error = NULL, updated_at = now()
		WHERE id = $1`,
		c.lead.ID, params.SentAt, params.NextSendAt, params.NextStage)
	return err
}

// RecordSendFailure notes a terminal delivery failure. The lead stays
// approved so an operator can intervene; it will not be retried until
// the error is cleared or the draft is skipped.
func (c *Claim) RecordSendFailure(ctx context.Context, reason string) error {
	_, err := c.tx.Exec(ctx, `
		UPDATE leads SET last_send_error = $2, updated_at = now() WHERE id = $1`,
		c.lead.ID, reason)
	return err
}
