// Package repository is the persistence layer for leads and their
// message log, backed by Postgres via pgx.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"autotext_backend/internal/leads/domain"
)

var ErrNotFound = errors.New("lead not found")

const leadColumns = `id, first_name, last_name, phone, email, vehicle_interest, source, score,
	opted_in_for_ai, opted_out, ai_active, has_replied, new_message,
	message_status, ai_message, ai_draft_updated_at, follow_up_stage, ai_message_count,
	last_texted, last_ai_sent_at, next_ai_send_at, manual_next_ai_send_at,
	send_token, last_send_error, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (domain.Lead, error) {
	var lead domain.Lead
	var status string
	var lastSendError *string
	err := row.Scan(
		&lead.ID, &lead.FirstName, &lead.LastName, &lead.Phone, &lead.Email,
		&lead.VehicleInterest, &lead.Source, &lead.Score,
		&lead.OptedInForAI, &lead.OptedOut, &lead.AIActive, &lead.HasReplied, &lead.NewMessage,
		&status, &lead.AIMessage, &lead.AIDraftUpdatedAt, &lead.FollowUpStage, &lead.AIMessageCount,
		&lead.LastTexted, &lead.LastAISentAt, &lead.NextAISendAt, &lead.ManualNextAISendAt,
		&lead.SendToken, &lastSendError, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		return domain.Lead{}, err
	}
	lead.MessageStatus = domain.MessageStatus(status)
	if lastSendError != nil {
		lead.LastSendError = *lastSendError
	}
	return lead, nil
}

type CreateLeadParams struct {
	FirstName       string
	LastName        string
	Phone           string
	Email           string
	VehicleInterest string
	Source          string
	Score           int
	OptedInForAI    bool
	NextAISendAt    *time.Time
}

func (r *Repository) Create(ctx context.Context, params CreateLeadParams) (domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO leads (first_name, last_name, phone, email, vehicle_interest, source, score,
			opted_in_for_ai, next_ai_send_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+leadColumns,
		params.FirstName, params.LastName, params.Phone, params.Email,
		params.VehicleInterest, params.Source, params.Score,
		params.OptedInForAI, params.NextAISendAt,
	)
	return scanLead(row)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, ErrNotFound
	}
	return lead, err
}

// GetByPhoneSuffix matches a lead by the last ten digits of its phone
// number, tolerating country-code differences between the stored value
// and what the SMS gateway reports for inbound messages.
func (r *Repository) GetByPhoneSuffix(ctx context.Context, last10 string) (domain.Lead, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE right(phone, 10) = $1 LIMIT 1`, last10)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, ErrNotFound
	}
	return lead, err
}

type ListParams struct {
	NeedsReview bool
	Unread      bool
	Limit       int
	Offset      int
}

func (r *Repository) List(ctx context.Context, params ListParams) ([]domain.Lead, error) {
	if params.Limit < 1 || params.Limit > 200 {
		params.Limit = 50
	}

	query := `SELECT ` + leadColumns + ` FROM leads`
	switch {
	case params.NeedsReview:
		query += ` WHERE message_status = 'pending' AND NOT opted_out`
	case params.Unread:
		query += ` WHERE new_message`
	}
	query += ` ORDER BY updated_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, params.Limit, params.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := make([]domain.Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

// DueLeadIDs selects leads eligible for the dispatch loop right now,
// oldest due first. The manual override takes precedence over the
// scheduled time, and a null effective time counts as due so freshly
// activated leads are picked up without waiting for a recompute.
func (r *Repository) DueLeadIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit < 1 {
		limit = 25
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM leads
		WHERE ai_active AND opted_in_for_ai AND NOT opted_out AND NOT has_replied
		  AND last_send_error IS NULL
		  AND (COALESCE(manual_next_ai_send_at, next_ai_send_at) IS NULL
		       OR COALESCE(manual_next_ai_send_at, next_ai_send_at) <= $1)
		ORDER BY COALESCE(manual_next_ai_send_at, next_ai_send_at) ASC NULLS FIRST
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0, limit)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StuckApproved lists leads whose approved draft repeatedly failed to
// send. They need a human; the dispatch loop has given up on them.
func (r *Repository) StuckApproved(ctx context.Context, limit int) ([]domain.Lead, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+` FROM leads
		WHERE message_status = 'approved' AND last_send_error IS NOT NULL
		ORDER BY updated_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := make([]domain.Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

// SaveDraft stores a freshly generated draft outside of a dispatch
// claim (the "regenerate" review action). The opted_out guard is part
// of the statement so a racing opt-out can never gain a pending draft.
func (r *Repository) SaveDraft(ctx context.Context, id uuid.UUID, body string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET message_status = 'pending', ai_message = $2, ai_draft_updated_at = now(),
		    send_token = NULL, last_send_error = NULL, updated_at = now()
		WHERE id = $1 AND NOT opted_out`,
		id, body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Approve clears a pending draft for sending. The send token is minted
// by the caller and travels with the message to the gateway, making the
// send step idempotent across crashed dispatch runs.
func (r *Repository) Approve(ctx context.Context, id uuid.UUID, token uuid.UUID, sendAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET message_status = 'approved', send_token = $2, next_ai_send_at = $3,
		    last_send_error = NULL, updated_at = now()
		WHERE id = $1 AND message_status = 'pending' AND NOT opted_out`,
		id, token, sendAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Skip discards the current draft and pushes the schedule forward by
// one day. The stage does not move; the skipped touch is simply lost.
func (r *Repository) Skip(ctx context.Context, id uuid.UUID, nextSendAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET message_status = 'not_started', ai_message = '', send_token = NULL,
		    next_ai_send_at = $2, last_send_error = NULL, updated_at = now()
		WHERE id = $1 AND message_status IN ('pending', 'approved')`,
		id, nextSendAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAIActive starts or pauses automated follow-up. Activation may
// carry a recomputed schedule and a (possibly reset) stage; pausing
// always clears the schedule.
func (r *Repository) SetAIActive(ctx context.Context, id uuid.UUID, active bool, stage string, nextSendAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET ai_active = $2, follow_up_stage = $3, next_ai_send_at = $4,
		    has_replied = CASE WHEN $2 THEN FALSE ELSE has_replied END,
		    updated_at = now()
		WHERE id = $1 AND NOT opted_out`,
		id, active, stage, nextSendAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetManualNextSendAt pins or clears the one-shot manual override.
func (r *Repository) SetManualNextSendAt(ctx context.Context, id uuid.UUID, at *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET manual_next_ai_send_at = $2, updated_at = now()
		WHERE id = $1`,
		id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkReplied applies the inbound-reply interrupt: the lead leaves
// dispatch consideration entirely until a human re-activates it.
func (r *Repository) MarkReplied(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET has_replied = TRUE, new_message = TRUE, ai_active = FALSE,
		    next_ai_send_at = NULL, manual_next_ai_send_at = NULL,
		    follow_up_stage = $2, message_status = 'not_started', ai_message = '',
		    send_token = NULL, updated_at = now()
		WHERE id = $1`,
		id, domain.StageReplied)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkOptedOut records a sticky opt-out. Nothing ever flips these flags
// back automatically.
func (r *Repository) MarkOptedOut(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET opted_out = TRUE, opted_in_for_ai = FALSE, ai_active = FALSE,
		    next_ai_send_at = NULL, manual_next_ai_send_at = NULL,
		    message_status = 'not_started', ai_message = '', send_token = NULL,
		    updated_at = now()
		WHERE id = $1`,
		id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkConversationRead clears the unread flag after an agent opens the
// inbox thread.
func (r *Repository) MarkConversationRead(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET new_message = FALSE, updated_at = now() WHERE id = $1`, id)
	return err
}

// UpdateScore persists a recomputed lead score.
func (r *Repository) UpdateScore(ctx context.Context, id uuid.UUID, score int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET score = $2, updated_at = now() WHERE id = $1`, id, score)
	return err
}

// RecordManualSend logs a manually sent outbound message and resets the
// draft cycle, since a human touch supersedes whatever the AI had
// queued for this stage.
func (r *Repository) RecordManualSend(ctx context.Context, id uuid.UUID, body, providerSID, from string, sentAt time.Time) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE leads
		SET message_status = 'not_started', ai_message = '', send_token = NULL,
		    last_texted = $2, updated_at = now()
		WHERE id = $1`,
		id, sentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (lead_id, body, direction, origin, from_number, provider_sid, delivery_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'sent', $7)`,
		id, body, domain.DirectionOut, domain.OriginManual, from, providerSID, sentAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}
