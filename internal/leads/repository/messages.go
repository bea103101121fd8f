package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"autotext_backend/internal/leads/domain"
)

type InsertMessageParams struct {
	LeadID         uuid.UUID
	Body           string
	Direction      string
	Origin         string
	FromNumber     string
	ProviderSID    string
	DeliveryStatus string
	FollowUpStage  string
	CreatedAt      time.Time
}

// InsertMessage appends one entry to the lead's message log. The log is
// append-only; nothing in the codebase updates or deletes rows here.
func (r *Repository) InsertMessage(ctx context.Context, params InsertMessageParams) (uuid.UUID, error) {
	if params.CreatedAt.IsZero() {
		params.CreatedAt = time.Now().UTC()
	}
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages (lead_id, body, direction, origin, from_number, provider_sid, delivery_status, follow_up_stage, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		params.LeadID, params.Body, params.Direction, params.Origin,
		params.FromNumber, params.ProviderSID, params.DeliveryStatus,
		params.FollowUpStage, params.CreatedAt,
	).Scan(&id)
	return id, err
}

// MessagesByLead returns the conversation timeline, oldest first.
func (r *Repository) MessagesByLead(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.Message, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, body, direction, origin,
		       COALESCE(from_number, ''), COALESCE(provider_sid, ''),
		       COALESCE(delivery_status, ''), COALESCE(follow_up_stage, ''),
		       read, created_at
		FROM messages
		WHERE lead_id = $1
		ORDER BY created_at ASC
		LIMIT $2`, leadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(
			&m.ID, &m.LeadID, &m.Body, &m.Direction, &m.Origin,
			&m.FromNumber, &m.ProviderSID, &m.DeliveryStatus, &m.FollowUpStage,
			&m.Read, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// RecentMessages returns the last n entries for generation context,
// newest first.
func (r *Repository) RecentMessages(ctx context.Context, leadID uuid.UUID, n int) ([]domain.Message, error) {
	if n < 1 || n > 20 {
		n = 5
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, body, direction, origin,
		       COALESCE(from_number, ''), COALESCE(provider_sid, ''),
		       COALESCE(delivery_status, ''), COALESCE(follow_up_stage, ''),
		       read, created_at
		FROM messages
		WHERE lead_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, leadID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]domain.Message, 0, n)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(
			&m.ID, &m.LeadID, &m.Body, &m.Direction, &m.Origin,
			&m.FromNumber, &m.ProviderSID, &m.DeliveryStatus, &m.FollowUpStage,
			&m.Read, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkMessagesRead flags a lead's inbound messages as read.
func (r *Repository) MarkMessagesRead(ctx context.Context, leadID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages SET read = TRUE
		WHERE lead_id = $1 AND direction = $2 AND NOT read`,
		leadID, domain.DirectionIn)
	return err
}
