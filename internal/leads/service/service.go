// Package service implements lead operations: creation, the draft
// review actions, AI start/stop, manual scheduling and manual sends.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"autotext_backend/internal/ai"
	"autotext_backend/internal/events"
	"autotext_backend/internal/followup"
	"autotext_backend/internal/leads/domain"
	"autotext_backend/internal/leads/repository"
	"autotext_backend/internal/leads/scoring"
	"autotext_backend/internal/sms"
	"autotext_backend/platform/apperr"
	"autotext_backend/platform/logger"
	"autotext_backend/platform/phone"
)

// Store is what the service needs from persistence. The Postgres
// repository satisfies it; tests use an in-memory fake.
type Store interface {
	Create(ctx context.Context, params repository.CreateLeadParams) (domain.Lead, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Lead, error)
	StuckApproved(ctx context.Context, limit int) ([]domain.Lead, error)
	SaveDraft(ctx context.Context, id uuid.UUID, body string) error
	Approve(ctx context.Context, id uuid.UUID, token uuid.UUID, sendAt time.Time) error
	Skip(ctx context.Context, id uuid.UUID, nextSendAt time.Time) error
	SetAIActive(ctx context.Context, id uuid.UUID, active bool, stage string, nextSendAt *time.Time) error
	SetManualNextSendAt(ctx context.Context, id uuid.UUID, at *time.Time) error
	RecordManualSend(ctx context.Context, id uuid.UUID, body, providerSID, from string, sentAt time.Time) error
	UpdateScore(ctx context.Context, id uuid.UUID, score int) error
	MessagesByLead(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.Message, error)
	RecentMessages(ctx context.Context, leadID uuid.UUID, n int) ([]domain.Message, error)
	MarkConversationRead(ctx context.Context, id uuid.UUID) error
	MarkMessagesRead(ctx context.Context, leadID uuid.UUID) error
}

// DispatchTicker requests an extra dispatch cycle outside the regular
// schedule, so approved drafts go out at their "send soon" time instead
// of waiting for the next periodic run. Optional; nil means the periodic
// schedule alone drives dispatch.
type DispatchTicker interface {
	EnqueueDispatchCycle(ctx context.Context, runAt time.Time) error
}

type Service struct {
	store         Store
	sched         *followup.Scheduler
	composer      ai.Composer
	gateway       sms.Gateway
	bus           events.Bus
	log           *logger.Logger
	ticker        DispatchTicker
	sendSoonDelay time.Duration
	fromNumber    string

	now func() time.Time
}

type Params struct {
	Store         Store
	Scheduler     *followup.Scheduler
	Composer      ai.Composer
	Gateway       sms.Gateway
	Bus           events.Bus
	Log           *logger.Logger
	Ticker        DispatchTicker
	SendSoonDelay time.Duration
	FromNumber    string
}

func New(p Params) *Service {
	if p.SendSoonDelay <= 0 {
		p.SendSoonDelay = 5 * time.Minute
	}
	return &Service{
		store:         p.Store,
		sched:         p.Scheduler,
		composer:      p.Composer,
		gateway:       p.Gateway,
		bus:           p.Bus,
		log:           p.Log,
		ticker:        p.Ticker,
		sendSoonDelay: p.SendSoonDelay,
		fromNumber:    p.FromNumber,
		now:           time.Now,
	}
}

type CreateParams struct {
	FirstName       string
	LastName        string
	Phone           string
	Email           string
	VehicleInterest string
	Source          string
	OptInForAI      bool
}

// Create registers a new lead. Opted-in leads get their first touch
// scheduled immediately.
func (s *Service) Create(ctx context.Context, params CreateParams) (domain.Lead, error) {
	normalized := phone.NormalizeE164(params.Phone)
	if normalized == "" {
		return domain.Lead{}, apperr.Validation("a valid phone number is required")
	}

	now := s.now()
	repoParams := repository.CreateLeadParams{
		FirstName:       params.FirstName,
		LastName:        params.LastName,
		Phone:           normalized,
		Email:           params.Email,
		VehicleInterest: params.VehicleInterest,
		Source:          params.Source,
		OptedInForAI:    params.OptInForAI,
	}
	repoParams.Score = scoring.Score(domain.Lead{
		Source:          params.Source,
		VehicleInterest: params.VehicleInterest,
		Email:           params.Email,
		OptedInForAI:    params.OptInForAI,
	})

	if params.OptInForAI {
		probe := domain.Lead{
			OptedInForAI:  true,
			AIActive:      true,
			FollowUpStage: domain.StageInitial,
			CreatedAt:     now,
		}
		if next := s.sched.ComputeNext(&probe, now); next != nil {
			repoParams.NextAISendAt = &next.SendAt
		}
	}

	lead, err := s.store.Create(ctx, repoParams)
	if err != nil {
		return domain.Lead{}, apperr.Wrap(apperr.KindInternal, "create lead", err)
	}

	s.bus.Publish(ctx, events.LeadCreated{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		Phone:     lead.Phone,
		Source:    lead.Source,
	})
	return lead, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	lead, err := s.store.GetByID(ctx, id)
	if err == repository.ErrNotFound {
		return domain.Lead{}, apperr.NotFound("lead not found")
	}
	return lead, err
}

func (s *Service) List(ctx context.Context, params repository.ListParams) ([]domain.Lead, error) {
	return s.store.List(ctx, params)
}

func (s *Service) StuckApproved(ctx context.Context, limit int) ([]domain.Lead, error) {
	return s.store.StuckApproved(ctx, limit)
}

// ApproveDraft clears a pending draft for sending "soon": the schedule
// moves to now plus a short delay so the next dispatch run picks it up.
// The minted send token travels with the approval and identifies this
// particular send attempt from here on.
func (s *Service) ApproveDraft(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	lead, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Lead{}, err
	}
	if _, err := lead.MessageStatus.Transition(domain.StatusApproved); err != nil {
		return domain.Lead{}, apperr.Conflict(err.Error())
	}

	sendAt := s.now().Add(s.sendSoonDelay)
	if err := s.store.Approve(ctx, id, uuid.New(), sendAt); err != nil {
		if err == repository.ErrNotFound {
			return domain.Lead{}, apperr.Conflict("draft is no longer pending")
		}
		return domain.Lead{}, apperr.Wrap(apperr.KindInternal, "approve draft", err)
	}

	if s.ticker != nil {
		if err := s.ticker.EnqueueDispatchCycle(ctx, sendAt); err != nil {
			// The periodic schedule still covers this lead; just slower.
			s.log.Warn("send-soon tick enqueue failed", "lead_id", id.String(), "error", err)
		}
	}
	return s.GetByID(ctx, id)
}

// SkipDraft discards the current draft and pushes the next touch out by
// one day. The cadence stage stays where it is.
func (s *Service) SkipDraft(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	lead, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Lead{}, err
	}
	if !lead.MessageStatus.CanTransitionTo(domain.StatusSkipped) {
		return domain.Lead{}, apperr.Conflict("no draft to skip")
	}

	if err := s.store.Skip(ctx, id, s.now().Add(24*time.Hour)); err != nil {
		if err == repository.ErrNotFound {
			return domain.Lead{}, apperr.Conflict("no draft to skip")
		}
		return domain.Lead{}, apperr.Wrap(apperr.KindInternal, "skip draft", err)
	}
	return s.GetByID(ctx, id)
}

// RegenerateDraft replaces the lead's draft with a fresh one and puts
// it back in the review queue.
func (s *Service) RegenerateDraft(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	lead, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Lead{}, err
	}
	if lead.OptedOut {
		return domain.Lead{}, apperr.Forbidden("lead has opted out")
	}

	recent, err := s.store.RecentMessages(ctx, id, 5)
	if err != nil {
		return domain.Lead{}, apperr.Wrap(apperr.KindInternal, "load conversation", err)
	}

	body, err := s.composer.Compose(ctx, ai.ComposeRequest{
		Lead:        lead,
		TouchNumber: lead.AIMessageCount + 1,
		Recent:      recent,
	})
	if err != nil {
		return domain.Lead{}, apperr.Wrap(apperr.KindInternal, "generate draft", err)
	}

	if err := s.store.SaveDraft(ctx, id, body); err != nil {
		return domain.Lead{}, apperr.Wrap(apperr.KindInternal, "save draft", err)
	}

	s.bus.Publish(ctx, events.DraftGenerated{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		Stage:     lead.FollowUpStage,
	})
	return s.GetByID(ctx, id)
}

// StartAI (re)activates automated follow-up. A lead parked in the
// replied stage restarts the cadence from the top.
func (s *Service) StartAI(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	lead, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Lead{}, err
	}
	if lead.OptedOut {
		return domain.Lead{}, apperr.Forbidden("lead has opted out")
	}

	stage := lead.FollowUpStage
	if stage == domain.StageReplied || stage == "" {
		stage = domain.StageInitial
	}

	now := s.now()
	probe := lead
	probe.AIActive = true
	probe.HasReplied = false
	probe.FollowUpStage = stage
	probe.ManualNextAISendAt = nil

	var nextAt *time.Time
	if next := s.sched.ComputeNext(&probe, now); next != nil {
		nextAt = &next.SendAt
	}

	if err := s.store.SetAIActive(ctx, id, true, stage, nextAt); err != nil {
		if err == repository.ErrNotFound {
			return domain.Lead{}, apperr.Forbidden("lead has opted out")
		}
		return domain.Lead{}, apperr.Wrap(apperr.KindInternal, "start ai", err)
	}
	return s.GetByID(ctx, id)
}

// PauseAI stops automated follow-up without losing cadence position.
func (s *Service) PauseAI(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	lead, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Lead{}, err
	}

	if err := s.store.SetAIActive(ctx, id, false, lead.FollowUpStage, nil); err != nil && err != repository.ErrNotFound {
		return domain.Lead{}, apperr.Wrap(apperr.KindInternal, "pause ai", err)
	}
	return s.GetByID(ctx, id)
}

// SetManualSchedule pins (or clears) the one-shot manual override for
// the next touch. It wins over anything the cadence computes.
func (s *Service) SetManualSchedule(ctx context.Context, id uuid.UUID, at *time.Time) (domain.Lead, error) {
	if at != nil && at.Before(s.now()) {
		return domain.Lead{}, apperr.Validation("manual send time must be in the future")
	}
	if err := s.store.SetManualNextSendAt(ctx, id, at); err != nil {
		if err == repository.ErrNotFound {
			return domain.Lead{}, apperr.NotFound("lead not found")
		}
		return domain.Lead{}, apperr.Wrap(apperr.KindInternal, "set manual schedule", err)
	}
	return s.GetByID(ctx, id)
}

// ManualSend delivers an agent-written message right now, bypassing the
// draft cycle entirely. Whatever AI draft existed is discarded.
func (s *Service) ManualSend(ctx context.Context, id uuid.UUID, body string) (domain.Lead, error) {
	lead, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Lead{}, err
	}
	if lead.OptedOut {
		return domain.Lead{}, apperr.Forbidden("lead has opted out")
	}

	sid, err := s.gateway.Send(ctx, lead.Phone, body)
	if err != nil {
		return domain.Lead{}, apperr.Wrap(apperr.KindInternal, "send message", err)
	}

	if err := s.store.RecordManualSend(ctx, id, body, sid, s.fromNumber, s.now()); err != nil {
		// The SMS went out; surface the bookkeeping failure loudly.
		s.log.DatabaseError("record_manual_send", err)
		return domain.Lead{}, apperr.Wrap(apperr.KindInternal, "record manual send", err)
	}
	return s.GetByID(ctx, id)
}

// History returns the conversation and clears the unread markers.
func (s *Service) History(ctx context.Context, id uuid.UUID, limit int) ([]domain.Message, error) {
	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}
	msgs, err := s.store.MessagesByLead(ctx, id, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "load history", err)
	}
	if err := s.store.MarkConversationRead(ctx, id); err != nil {
		s.log.DatabaseError("mark_conversation_read", err)
	}
	if err := s.store.MarkMessagesRead(ctx, id); err != nil {
		s.log.DatabaseError("mark_messages_read", err)
	}
	return msgs, nil
}

// RefreshScore recomputes and persists the lead's score.
func (s *Service) RefreshScore(ctx context.Context, id uuid.UUID) (int, error) {
	lead, err := s.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	score := scoring.Score(lead)
	if score != lead.Score {
		if err := s.store.UpdateScore(ctx, id, score); err != nil {
			return 0, apperr.Wrap(apperr.KindInternal, "update score", err)
		}
	}
	return score, nil
}

// RefreshAllScores recomputes every lead's score in pages. Run nightly
// so recency-sensitive components decay without waiting for an event.
// The page size must stay within what the repository's List honors,
// or leads past the first page are silently skipped.
func (s *Service) RefreshAllScores(ctx context.Context) (int, error) {
	const pageSize = 200

	updated := 0
	for offset := 0; ; offset += pageSize {
		page, err := s.store.List(ctx, repository.ListParams{Limit: pageSize, Offset: offset})
		if err != nil {
			return updated, apperr.Wrap(apperr.KindInternal, "list leads", err)
		}
		for _, lead := range page {
			score := scoring.Score(lead)
			if score == lead.Score {
				continue
			}
			if err := s.store.UpdateScore(ctx, lead.ID, score); err != nil {
				s.log.DatabaseError("update_score", err)
				continue
			}
			updated++
		}
		if len(page) < pageSize {
			return updated, nil
		}
	}
}

// SubscribeScoring keeps scores current as engagement events land.
func (s *Service) SubscribeScoring(bus events.Bus) {
	rescore := events.HandlerFunc(func(ctx context.Context, e events.Event) error {
		var leadID uuid.UUID
		switch ev := e.(type) {
		case events.LeadReplied:
			leadID = ev.LeadID
		case events.LeadOptedOut:
			leadID = ev.LeadID
		default:
			return nil
		}
		_, err := s.RefreshScore(ctx, leadID)
		return err
	})
	bus.Subscribe(events.LeadReplied{}.EventName(), rescore)
	bus.Subscribe(events.LeadOptedOut{}.EventName(), rescore)
}
