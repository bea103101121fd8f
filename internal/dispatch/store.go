package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"autotext_backend/internal/leads/domain"
	"autotext_backend/internal/leads/repository"
)

// pgStore adapts the leads repository to the Store interface. Only the
// claim return type needs bridging; everything else lines up.
type pgStore struct {
	repo *repository.Repository
}

// NewStore wraps the Postgres leads repository for the dispatcher.
func NewStore(repo *repository.Repository) Store {
	return pgStore{repo: repo}
}

func (s pgStore) DueLeadIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	return s.repo.DueLeadIDs(ctx, now, limit)
}

func (s pgStore) ClaimLead(ctx context.Context, id uuid.UUID) (LeadClaim, error) {
	claim, err := s.repo.ClaimLead(ctx, id)
	if err != nil {
		return nil, err
	}
	return claim, nil
}

func (s pgStore) RecentMessages(ctx context.Context, leadID uuid.UUID, n int) ([]domain.Message, error) {
	return s.repo.RecentMessages(ctx, leadID, n)
}
