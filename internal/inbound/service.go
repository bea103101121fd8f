// Package inbound handles messages arriving from leads: the reply
// interrupt that pauses AI follow-up, and sticky opt-out processing.
package inbound

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"autotext_backend/internal/events"
	"autotext_backend/internal/leads/domain"
	"autotext_backend/internal/leads/repository"
	"autotext_backend/platform/apperr"
	"autotext_backend/platform/logger"
	"autotext_backend/platform/phone"
)

// optOutKeywords are the carrier-standard stop words. Matching is on
// the whole trimmed body, case-insensitive.
var optOutKeywords = map[string]bool{
	"STOP":        true,
	"STOPALL":     true,
	"UNSUBSCRIBE": true,
	"CANCEL":      true,
	"END":         true,
	"QUIT":        true,
}

// Store is what inbound processing needs from persistence.
type Store interface {
	GetByPhoneSuffix(ctx context.Context, last10 string) (domain.Lead, error)
	Create(ctx context.Context, params repository.CreateLeadParams) (domain.Lead, error)
	InsertMessage(ctx context.Context, params repository.InsertMessageParams) (uuid.UUID, error)
	MarkReplied(ctx context.Context, id uuid.UUID) error
	MarkOptedOut(ctx context.Context, id uuid.UUID) error
}

type Service struct {
	store      Store
	bus        events.Bus
	log        *logger.Logger
	autocreate bool
}

func NewService(store Store, bus events.Bus, log *logger.Logger, autocreate bool) *Service {
	return &Service{store: store, bus: bus, log: log, autocreate: autocreate}
}

// Result reports what an inbound message did to the lead.
type Result struct {
	Lead     domain.Lead
	Created  bool
	OptedOut bool
}

// HandleInbound applies the reply interrupt for one inbound message.
// Whatever state the lead was in, afterwards it is out of dispatch
// consideration: follow-up paused, schedule cleared, draft discarded.
// An opt-out keyword additionally makes the removal permanent.
func (s *Service) HandleInbound(ctx context.Context, from, body string, receivedAt time.Time) (Result, error) {
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	var result Result
	lead, err := s.store.GetByPhoneSuffix(ctx, phone.Last10(from))
	switch {
	case err == nil:
		result.Lead = lead
	case errors.Is(err, repository.ErrNotFound) && s.autocreate:
		lead, err = s.store.Create(ctx, repository.CreateLeadParams{
			Phone:  senderKey(from),
			Source: "sms_inbound",
		})
		if err != nil {
			return Result{}, apperr.Wrap(apperr.KindInternal, "create lead from inbound", err)
		}
		result.Lead = lead
		result.Created = true
		s.log.Info("lead autocreated from inbound", "lead_id", lead.ID.String())
	case errors.Is(err, repository.ErrNotFound):
		return Result{}, apperr.NotFound("no lead matches sender")
	default:
		return Result{}, apperr.Wrap(apperr.KindInternal, "look up inbound sender", err)
	}

	if _, err := s.store.InsertMessage(ctx, repository.InsertMessageParams{
		LeadID:        lead.ID,
		Body:          body,
		Direction:     domain.DirectionIn,
		Origin:        domain.OriginInbound,
		FromNumber:    senderKey(from),
		FollowUpStage: lead.FollowUpStage,
		CreatedAt:     receivedAt,
	}); err != nil {
		return Result{}, apperr.Wrap(apperr.KindInternal, "log inbound message", err)
	}

	if err := s.store.MarkReplied(ctx, lead.ID); err != nil {
		return Result{}, apperr.Wrap(apperr.KindInternal, "apply reply interrupt", err)
	}

	keyword := strings.ToUpper(strings.TrimSpace(body))
	if optOutKeywords[keyword] {
		if err := s.store.MarkOptedOut(ctx, lead.ID); err != nil {
			return Result{}, apperr.Wrap(apperr.KindInternal, "apply opt-out", err)
		}
		result.OptedOut = true
		s.bus.Publish(ctx, events.LeadOptedOut{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    lead.ID,
			Phone:     lead.Phone,
			Keyword:   keyword,
		})
		s.log.Info("lead opted out", "lead_id", lead.ID.String(), "keyword", keyword)
	}

	s.bus.Publish(ctx, events.LeadReplied{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		Phone:     lead.Phone,
		Body:      body,
	})

	result.Lead, err = s.refresh(ctx, lead)
	return result, err
}

// senderKey normalizes the webhook sender to E.164, falling back to the
// raw trimmed number when validation rejects it. The carrier delivered
// from that number, so it is still a usable lead key.
func senderKey(from string) string {
	if normalized := phone.NormalizeE164(from); normalized != "" {
		return normalized
	}
	return strings.TrimSpace(from)
}

func (s *Service) refresh(ctx context.Context, lead domain.Lead) (domain.Lead, error) {
	fresh, err := s.store.GetByPhoneSuffix(ctx, phone.Last10(lead.Phone))
	if err != nil {
		// The interrupt already landed; stale data is not worth failing over.
		return lead, nil
	}
	return fresh, nil
}
