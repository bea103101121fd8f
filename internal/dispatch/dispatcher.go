// Package dispatch runs the follow-up engine's core loop: claim due
// leads, generate or send exactly one thing per lead, advance state,
// schedule the next touch.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"autotext_backend/internal/ai"
	"autotext_backend/internal/events"
	"autotext_backend/internal/followup"
	"autotext_backend/internal/leads/domain"
	"autotext_backend/internal/leads/repository"
	"autotext_backend/internal/sms"
	"autotext_backend/platform/logger"
)

// LeadClaim is exclusive ownership of one lead for this run. All
// mutations land in one transaction released by Commit or Rollback.
type LeadClaim interface {
	Lead() domain.Lead
	SaveDraft(ctx context.Context, body string, status domain.MessageStatus, token *uuid.UUID) error
	MarkSent(ctx context.Context, params repository.MarkSentParams) error
	RecordSendFailure(ctx context.Context, reason string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context)
}

// Store is what the dispatcher needs from persistence.
type Store interface {
	DueLeadIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ClaimLead(ctx context.Context, id uuid.UUID) (LeadClaim, error)
	RecentMessages(ctx context.Context, leadID uuid.UUID, n int) ([]domain.Message, error)
}

// Summary is what one run reports back to the trigger.
type Summary struct {
	Selected  int
	Claimed   int
	Generated int
	Sent      int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

type Params struct {
	Store       Store
	Scheduler   *followup.Scheduler
	Composer    ai.Composer
	Gateway     sms.Gateway
	Bus         events.Bus
	Log         *logger.Logger
	Retry       RetryPolicy
	BatchSize   int
	Concurrency int
	RunBudget   time.Duration
	CallTimeout time.Duration
	AutoApprove bool
	FromNumber  string
}

// Dispatcher executes dispatch cycles. Multiple dispatchers may run
// concurrently against the same database; row claims keep them from
// stepping on each other's leads.
type Dispatcher struct {
	store       Store
	sched       *followup.Scheduler
	composer    ai.Composer
	gateway     sms.Gateway
	bus         events.Bus
	log         *logger.Logger
	retry       RetryPolicy
	batchSize   int
	concurrency int
	runBudget   time.Duration
	callTimeout time.Duration
	autoApprove bool
	fromNumber  string

	now func() time.Time
}

func New(p Params) *Dispatcher {
	if p.BatchSize < 1 {
		p.BatchSize = 25
	}
	if p.Concurrency < 1 {
		p.Concurrency = 4
	}
	if p.RunBudget <= 0 {
		p.RunBudget = 4 * time.Minute
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = 30 * time.Second
	}
	if p.Retry.MaxAttempts == 0 {
		p.Retry = DefaultRetryPolicy()
	}
	return &Dispatcher{
		store:       p.Store,
		sched:       p.Scheduler,
		composer:    p.Composer,
		gateway:     p.Gateway,
		bus:         p.Bus,
		log:         p.Log,
		retry:       p.Retry,
		batchSize:   p.BatchSize,
		concurrency: p.Concurrency,
		runBudget:   p.RunBudget,
		callTimeout: p.CallTimeout,
		autoApprove: p.AutoApprove,
		fromNumber:  p.FromNumber,
		now:         time.Now,
	}
}

type counters struct {
	claimed, generated, sent, failed, skipped int
}

// Run executes one dispatch cycle. Per-lead failures are isolated; the
// returned error covers only run-level problems like the due query
// failing.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	started := d.now()

	if !d.sched.Window().Contains(started) {
		d.log.Debug("dispatch outside send window, nothing to do")
		return Summary{Duration: d.now().Sub(started)}, nil
	}

	ids, err := d.store.DueLeadIDs(ctx, started, d.batchSize)
	if err != nil {
		d.log.DatabaseError("due_leads", err)
		return Summary{Duration: d.now().Sub(started)}, err
	}

	// The budget gates claiming new leads only; a lead already being
	// processed gets to finish so its transaction is never half done.
	budget, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.runBudget)
	defer cancel()

	results := make([]counters, len(ids))
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(d.concurrency)

	for i, id := range ids {
		if budget.Err() != nil {
			d.log.Warn("dispatch run budget exhausted", "remaining", len(ids)-i)
			break
		}
		i, id := i, id
		g.Go(func() error {
			results[i] = d.processLead(gctx, id, started)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Selected: len(ids), Duration: d.now().Sub(started)}
	for _, c := range results {
		summary.Claimed += c.claimed
		summary.Generated += c.generated
		summary.Sent += c.sent
		summary.Failed += c.failed
		summary.Skipped += c.skipped
	}

	d.log.DispatchRun(summary.Selected, summary.Claimed, summary.Generated,
		summary.Sent, summary.Failed, summary.Skipped,
		float64(summary.Duration.Milliseconds()))
	return summary, nil
}

// processLead performs exactly one action for one lead: generate a
// draft, or send an approved one. Anything else releases the claim
// untouched.
func (d *Dispatcher) processLead(ctx context.Context, id uuid.UUID, now time.Time) counters {
	claim, err := d.store.ClaimLead(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrClaimConflict) {
			return counters{skipped: 1}
		}
		d.log.DatabaseError("claim_lead", err)
		return counters{failed: 1}
	}
	defer claim.Rollback(ctx)

	lead := claim.Lead()

	// The row may have changed between selection and claim; re-check
	// against the claimed state, which is the authoritative one.
	if !d.stillDue(lead, now) {
		return counters{claimed: 1, skipped: 1}
	}

	switch lead.MessageStatus {
	case domain.StatusApproved:
		return d.sendApproved(ctx, claim, lead, now)
	case domain.StatusPending:
		// Waiting on human review; nothing for the loop to do.
		return counters{claimed: 1, skipped: 1}
	default:
		return d.generateDraft(ctx, claim, lead)
	}
}

func (d *Dispatcher) stillDue(lead domain.Lead, now time.Time) bool {
	if !lead.Eligible() || lead.LastSendError != "" {
		return false
	}
	next := lead.EffectiveNextSendAt()
	return next == nil || !next.After(now)
}

func (d *Dispatcher) generateDraft(ctx context.Context, claim LeadClaim, lead domain.Lead) counters {
	recent, err := d.store.RecentMessages(ctx, lead.ID, 5)
	if err != nil {
		d.log.DatabaseError("recent_messages", err)
		return counters{claimed: 1, failed: 1}
	}

	// Bound the generation call so a hung model response cannot hold
	// the row claim past the run.
	composeCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	body, err := d.composer.Compose(composeCtx, ai.ComposeRequest{
		Lead:        lead,
		TouchNumber: lead.AIMessageCount + 1,
		Recent:      recent,
	})
	cancel()
	if err != nil {
		// Recoverable: the schedule has not advanced, so the next run
		// tries again.
		d.log.Warn("draft generation failed", "lead_id", lead.ID.String(), "error", err)
		return counters{claimed: 1, failed: 1}
	}

	status := domain.StatusPending
	var token *uuid.UUID
	if d.autoApprove {
		status = domain.StatusApproved
		t := uuid.New()
		token = &t
	}

	if err := claim.SaveDraft(ctx, body, status, token); err != nil {
		d.log.DatabaseError("save_draft", err)
		return counters{claimed: 1, failed: 1}
	}
	if err := claim.Commit(ctx); err != nil {
		d.log.DatabaseError("commit_draft", err)
		return counters{claimed: 1, failed: 1}
	}

	d.bus.Publish(ctx, events.DraftGenerated{
		BaseEvent:    events.NewBaseEvent(),
		LeadID:       lead.ID,
		Stage:        lead.FollowUpStage,
		AutoApproved: d.autoApprove,
	})
	return counters{claimed: 1, generated: 1}
}

func (d *Dispatcher) sendApproved(ctx context.Context, claim LeadClaim, lead domain.Lead, now time.Time) counters {
	var sid string
	attempts, err := d.retry.Do(ctx, func(ctx context.Context) error {
		sendCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
		var sendErr error
		sid, sendErr = d.gateway.Send(sendCtx, lead.Phone, lead.AIMessage)
		return sendErr
	})
	if err != nil {
		// Out of retries. Record the failure inside the claim so the
		// lead drops out of the due query until someone looks at it.
		d.log.SendFailure(lead.ID.String(), attempts, err)
		if ferr := claim.RecordSendFailure(ctx, err.Error()); ferr != nil {
			d.log.DatabaseError("record_send_failure", ferr)
			return counters{claimed: 1, failed: 1}
		}
		if cerr := claim.Commit(ctx); cerr != nil {
			d.log.DatabaseError("commit_send_failure", cerr)
			return counters{claimed: 1, failed: 1}
		}
		d.bus.Publish(ctx, events.SendFailed{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    lead.ID,
			Phone:     lead.Phone,
			Stage:     lead.FollowUpStage,
			Attempts:  attempts,
			Reason:    err.Error(),
		})
		return counters{claimed: 1, failed: 1}
	}

	// A manual override, once honored, is spent. Compute the next touch
	// from the cadence as if no override existed.
	scheduled := lead
	scheduled.ManualNextAISendAt = nil
	scheduled.LastAISentAt = &now
	next := d.sched.ComputeNext(&scheduled, now)

	params := repository.MarkSentParams{
		Body:        lead.AIMessage,
		ProviderSID: sid,
		FromNumber:  d.fromNumber,
		SentAt:      now,
		NextStage:   lead.FollowUpStage,
	}
	if next != nil {
		params.NextSendAt = &next.SendAt
		params.NextStage = next.Stage
	}

	if err := claim.MarkSent(ctx, params); err != nil {
		d.log.DatabaseError("mark_sent", err)
		return counters{claimed: 1, failed: 1}
	}
	if err := claim.Commit(ctx); err != nil {
		d.log.DatabaseError("commit_sent", err)
		return counters{claimed: 1, failed: 1}
	}

	d.bus.Publish(ctx, events.FollowupSent{
		BaseEvent:   events.NewBaseEvent(),
		LeadID:      lead.ID,
		Stage:       lead.FollowUpStage,
		ProviderSID: sid,
	})
	return counters{claimed: 1, sent: 1}
}
