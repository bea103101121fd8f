package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"autotext_backend/internal/ai"
	"autotext_backend/internal/followup"
	"autotext_backend/internal/leads/domain"
	"autotext_backend/internal/leads/repository"
	"autotext_backend/platform/events"
	"autotext_backend/platform/logger"
)

// runAt is inside the 08:00-19:00 UTC test window.
var runAt = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

// ---------------------------------------------------------------------------
// fakes

type leadRec struct {
	rowLock  sync.Mutex
	lead     domain.Lead
	messages []domain.Message
}

type fakeStore struct {
	mu    sync.Mutex
	leads map[uuid.UUID]*leadRec
}

func newFakeStore(leads ...domain.Lead) *fakeStore {
	s := &fakeStore{leads: make(map[uuid.UUID]*leadRec)}
	for _, l := range leads {
		s.leads[l.ID] = &leadRec{lead: l}
	}
	return s
}

func (s *fakeStore) get(id uuid.UUID) domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leads[id].lead
}

func (s *fakeStore) messagesFor(id uuid.UUID) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.leads[id].messages...)
}

// DueLeadIDs mirrors the SQL predicate of the real repository.
func (s *fakeStore) DueLeadIDs(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*leadRec
	for _, rec := range s.leads {
		l := rec.lead
		if !l.AIActive || !l.OptedInForAI || l.OptedOut || l.HasReplied || l.LastSendError != "" {
			continue
		}
		if next := l.EffectiveNextSendAt(); next != nil && next.After(now) {
			continue
		}
		due = append(due, rec)
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].lead.EffectiveNextSendAt(), due[j].lead.EffectiveNextSendAt()
		if a == nil {
			return true
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})
	ids := make([]uuid.UUID, 0, len(due))
	for _, rec := range due {
		if len(ids) == limit {
			break
		}
		ids = append(ids, rec.lead.ID)
	}
	return ids, nil
}

func (s *fakeStore) ClaimLead(_ context.Context, id uuid.UUID) (LeadClaim, error) {
	s.mu.Lock()
	rec, ok := s.leads[id]
	s.mu.Unlock()
	if !ok {
		return nil, repository.ErrClaimConflict
	}
	if !rec.rowLock.TryLock() {
		return nil, repository.ErrClaimConflict
	}
	return &fakeClaim{store: s, rec: rec, lead: rec.lead}, nil
}

func (s *fakeStore) RecentMessages(_ context.Context, leadID uuid.UUID, n int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.leads[leadID].messages
	out := make([]domain.Message, 0, n)
	for i := len(msgs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}

type fakeClaim struct {
	store   *fakeStore
	rec     *leadRec
	lead    domain.Lead
	pending []func(*leadRec)
	done    bool
}

func (c *fakeClaim) Lead() domain.Lead { return c.lead }

func (c *fakeClaim) SaveDraft(_ context.Context, body string, status domain.MessageStatus, token *uuid.UUID) error {
	c.pending = append(c.pending, func(rec *leadRec) {
		rec.lead.MessageStatus = status
		rec.lead.AIMessage = body
		rec.lead.SendToken = token
		rec.lead.LastSendError = ""
	})
	return nil
}

func (c *fakeClaim) MarkSent(_ context.Context, params repository.MarkSentParams) error {
	c.pending = append(c.pending, func(rec *leadRec) {
		rec.messages = append(rec.messages, domain.Message{
			ID:            uuid.New(),
			LeadID:        rec.lead.ID,
			Body:          params.Body,
			Direction:     domain.DirectionOut,
			Origin:        domain.OriginAI,
			ProviderSID:   params.ProviderSID,
			FollowUpStage: rec.lead.FollowUpStage,
			CreatedAt:     params.SentAt,
		})
		rec.lead.MessageStatus = domain.StatusSent
		rec.lead.AIMessage = ""
		rec.lead.SendToken = nil
		rec.lead.AIMessageCount++
		sentAt := params.SentAt
		rec.lead.LastTexted = &sentAt
		rec.lead.LastAISentAt = &sentAt
		rec.lead.NextAISendAt = params.NextSendAt
		rec.lead.ManualNextAISendAt = nil
		rec.lead.FollowUpStage = params.NextStage
		rec.lead.LastSendError = ""
	})
	return nil
}

func (c *fakeClaim) RecordSendFailure(_ context.Context, reason string) error {
	c.pending = append(c.pending, func(rec *leadRec) {
		rec.lead.LastSendError = reason
	})
	return nil
}

func (c *fakeClaim) Commit(context.Context) error {
	if c.done {
		return errors.New("claim already released")
	}
	c.store.mu.Lock()
	for _, apply := range c.pending {
		apply(c.rec)
	}
	c.store.mu.Unlock()
	c.done = true
	c.rec.rowLock.Unlock()
	return nil
}

func (c *fakeClaim) Rollback(context.Context) {
	if c.done {
		return
	}
	c.done = true
	c.rec.rowLock.Unlock()
}

type fakeComposer struct {
	mu    sync.Mutex
	body  string
	err   error
	calls int
}

func (f *fakeComposer) Compose(context.Context, ai.ComposeRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.body, f.err
}

// blockingComposer never answers; it waits for the context to expire,
// the way a hung upstream generation call would.
type blockingComposer struct{}

func (blockingComposer) Compose(ctx context.Context, _ ai.ComposeRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type fakeGateway struct {
	mu       sync.Mutex
	calls    int
	failures int // first n calls fail
}

func (f *fakeGateway) Send(context.Context, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("gateway unavailable")
	}
	return fmt.Sprintf("SM%04d", f.calls), nil
}

// ---------------------------------------------------------------------------
// helpers

func testDispatcher(t *testing.T, store Store, composer ai.Composer, gateway *fakeGateway, autoApprove bool) *Dispatcher {
	t.Helper()
	log := logger.New("development")
	window, err := followup.ParseWindow("08:00", "19:00", "UTC")
	if err != nil {
		t.Fatalf("ParseWindow: %v", err)
	}
	sched := followup.NewScheduler(followup.DefaultTable(), window, 7*24*time.Hour, log)

	d := New(Params{
		Store:       store,
		Scheduler:   sched,
		Composer:    composer,
		Gateway:     gateway,
		Bus:         events.NewInMemoryBus(log),
		Log:         log,
		Retry:       RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		BatchSize:   25,
		Concurrency: 2,
		RunBudget:   time.Minute,
		AutoApprove: autoApprove,
		FromNumber:  "+15550100000",
	})
	d.now = func() time.Time { return runAt }
	return d
}

func dueLead(status domain.MessageStatus, stage string) domain.Lead {
	created := runAt.Add(-48 * time.Hour)
	next := runAt.Add(-time.Minute)
	l := domain.Lead{
		ID:            uuid.New(),
		FirstName:     "Sam",
		Phone:         "+15550123456",
		OptedInForAI:  true,
		AIActive:      true,
		MessageStatus: status,
		FollowUpStage: stage,
		NextAISendAt:  &next,
		CreatedAt:     created,
	}
	if status == domain.StatusApproved {
		l.AIMessage = "Hey Sam, still interested in the Silverado?"
		token := uuid.New()
		l.SendToken = &token
	}
	return l
}

// ---------------------------------------------------------------------------
// tests

func TestRunOutsideWindowDoesNothing(t *testing.T) {
	store := newFakeStore(dueLead(domain.StatusApproved, "Day 1 – Msg 1"))
	gateway := &fakeGateway{}
	d := testDispatcher(t, store, &fakeComposer{body: "hi"}, gateway, false)
	d.now = func() time.Time { return time.Date(2026, 1, 5, 22, 0, 0, 0, time.UTC) }

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Selected != 0 || gateway.calls != 0 {
		t.Fatalf("outside the window nothing may happen: %+v, gateway calls %d", summary, gateway.calls)
	}
}

func TestRunGeneratesDraftForNewLead(t *testing.T) {
	lead := dueLead(domain.StatusNotStarted, "Day 0")
	store := newFakeStore(lead)
	composer := &fakeComposer{body: "Welcome in! Want to swing by for a test drive?"}
	d := testDispatcher(t, store, composer, &fakeGateway{}, false)

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Generated != 1 || summary.Sent != 0 {
		t.Fatalf("summary = %+v, want one generation", summary)
	}

	got := store.get(lead.ID)
	if got.MessageStatus != domain.StatusPending {
		t.Errorf("status = %q, want pending review", got.MessageStatus)
	}
	if got.AIMessage != composer.body {
		t.Errorf("draft body not persisted: %q", got.AIMessage)
	}
	if got.SendToken != nil {
		t.Error("pending draft must not carry a send token")
	}
}

func TestRunAutoApprovePolicy(t *testing.T) {
	lead := dueLead(domain.StatusNotStarted, "Day 0")
	store := newFakeStore(lead)
	d := testDispatcher(t, store, &fakeComposer{body: "draft"}, &fakeGateway{}, true)

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := store.get(lead.ID)
	if got.MessageStatus != domain.StatusApproved {
		t.Fatalf("status = %q, want approved under auto-approve", got.MessageStatus)
	}
	if got.SendToken == nil {
		t.Error("auto-approved draft must carry a send token")
	}
}

func TestRunSendsApprovedDraft(t *testing.T) {
	lead := dueLead(domain.StatusApproved, "Week 2 – Msg 1")
	store := newFakeStore(lead)
	gateway := &fakeGateway{}
	d := testDispatcher(t, store, &fakeComposer{body: "unused"}, gateway, false)

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Sent != 1 {
		t.Fatalf("summary = %+v, want one send", summary)
	}
	if gateway.calls != 1 {
		t.Fatalf("gateway calls = %d, want exactly 1", gateway.calls)
	}

	got := store.get(lead.ID)
	if got.MessageStatus != domain.StatusSent {
		t.Errorf("status = %q, want sent", got.MessageStatus)
	}
	if got.AIMessageCount != 1 {
		t.Errorf("ai_message_count = %d, want 1", got.AIMessageCount)
	}
	if got.AIMessage != "" {
		t.Error("draft must be cleared after send")
	}
	if got.FollowUpStage != "Week 3 – Msg 1" {
		t.Errorf("stage = %q, want advanced to Week 3 – Msg 1", got.FollowUpStage)
	}
	if got.NextAISendAt == nil || !got.NextAISendAt.After(runAt) {
		t.Errorf("next send %v must be in the future", got.NextAISendAt)
	}

	msgs := store.messagesFor(lead.ID)
	if len(msgs) != 1 {
		t.Fatalf("message log entries = %d, want 1", len(msgs))
	}
	if msgs[0].Origin != domain.OriginAI || msgs[0].Direction != domain.DirectionOut {
		t.Errorf("log entry origin/direction = %q/%q", msgs[0].Origin, msgs[0].Direction)
	}
	if msgs[0].ProviderSID == "" {
		t.Error("log entry must record the provider message id")
	}
}

func TestRunSecondPassDoesNotDoubleSend(t *testing.T) {
	lead := dueLead(domain.StatusApproved, "Week 2 – Msg 1")
	store := newFakeStore(lead)
	gateway := &fakeGateway{}
	d := testDispatcher(t, store, &fakeComposer{body: "unused"}, gateway, false)

	for i := 0; i < 2; i++ {
		if _, err := d.Run(context.Background()); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}

	if gateway.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1 across both runs", gateway.calls)
	}
	if msgs := store.messagesFor(lead.ID); len(msgs) != 1 {
		t.Fatalf("message log entries = %d, want 1", len(msgs))
	}
}

func TestRunPendingLeadWaitsForReview(t *testing.T) {
	lead := dueLead(domain.StatusPending, "Day 1 – Msg 1")
	lead.AIMessage = "awaiting review"
	store := newFakeStore(lead)
	gateway := &fakeGateway{}
	composer := &fakeComposer{body: "new draft"}
	d := testDispatcher(t, store, composer, gateway, false)

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gateway.calls != 0 || composer.calls != 0 {
		t.Fatal("pending leads must not trigger sends or regeneration")
	}
	if summary.Skipped != 1 {
		t.Fatalf("summary = %+v, want one skip", summary)
	}
}

func TestRunSendRetriesThenSucceeds(t *testing.T) {
	lead := dueLead(domain.StatusApproved, "Week 2 – Msg 1")
	store := newFakeStore(lead)
	gateway := &fakeGateway{failures: 2}
	d := testDispatcher(t, store, &fakeComposer{}, gateway, false)

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Sent != 1 {
		t.Fatalf("summary = %+v, want recovery within the retry budget", summary)
	}
	if gateway.calls != 3 {
		t.Fatalf("gateway calls = %d, want 3", gateway.calls)
	}
}

func TestRunTerminalSendFailureParksLead(t *testing.T) {
	lead := dueLead(domain.StatusApproved, "Week 2 – Msg 1")
	store := newFakeStore(lead)
	gateway := &fakeGateway{failures: 100}
	d := testDispatcher(t, store, &fakeComposer{}, gateway, false)

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v, want one failure", summary)
	}
	if gateway.calls != 3 {
		t.Fatalf("gateway calls = %d, want the full retry budget", gateway.calls)
	}

	got := store.get(lead.ID)
	if got.MessageStatus != domain.StatusApproved {
		t.Errorf("status = %q, must stay approved for manual intervention", got.MessageStatus)
	}
	if got.LastSendError == "" {
		t.Error("terminal failure must be recorded")
	}

	// The parked lead must not be selected again.
	callsBefore := gateway.calls
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if gateway.calls != callsBefore {
		t.Fatal("parked lead was retried automatically")
	}
}

func TestRunGenerationFailureLeavesLeadUntouched(t *testing.T) {
	lead := dueLead(domain.StatusNotStarted, "Day 0")
	store := newFakeStore(lead)
	composer := &fakeComposer{err: errors.New("model overloaded")}
	d := testDispatcher(t, store, composer, &fakeGateway{}, false)

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 || summary.Generated != 0 {
		t.Fatalf("summary = %+v, want one isolated failure", summary)
	}

	got := store.get(lead.ID)
	if got.MessageStatus != domain.StatusNotStarted || got.AIMessage != "" {
		t.Fatal("failed generation must not mutate the lead")
	}
	// Schedule unchanged, so the next run picks it up again.
	if got.NextAISendAt == nil || !got.NextAISendAt.Equal(*lead.NextAISendAt) {
		t.Fatal("failed generation must not advance the schedule")
	}
}

func TestRunSkipsLeadClaimedElsewhere(t *testing.T) {
	lead := dueLead(domain.StatusApproved, "Week 2 – Msg 1")
	store := newFakeStore(lead)
	gateway := &fakeGateway{}
	d := testDispatcher(t, store, &fakeComposer{}, gateway, false)

	// Another worker holds the row for the whole run.
	foreign, err := store.ClaimLead(context.Background(), lead.ID)
	if err != nil {
		t.Fatalf("ClaimLead: %v", err)
	}

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gateway.calls != 0 {
		t.Fatal("a lead claimed elsewhere must not be acted on")
	}
	if summary.Skipped != 1 {
		t.Fatalf("summary = %+v, want one skip", summary)
	}

	foreign.Rollback(context.Background())
}

func TestRunRechecksEligibilityAfterClaim(t *testing.T) {
	// Lead opts out after selection typing would have happened; the
	// post-claim re-check must drop it without action.
	lead := dueLead(domain.StatusApproved, "Week 2 – Msg 1")
	lead.OptedOut = true
	lead.OptedInForAI = false
	store := newFakeStore(lead)
	gateway := &fakeGateway{}
	d := testDispatcher(t, store, &fakeComposer{}, gateway, false)

	if got := d.processLead(context.Background(), lead.ID, runAt); got.skipped != 1 {
		t.Fatalf("processLead counters = %+v, want a skip", got)
	}
	if gateway.calls != 0 {
		t.Fatal("opted-out lead must never reach the gateway")
	}
}

func TestRunConsumesManualOverrideOnSend(t *testing.T) {
	lead := dueLead(domain.StatusApproved, "Week 2 – Msg 1")
	manual := runAt.Add(-5 * time.Minute)
	lead.ManualNextAISendAt = &manual
	lead.NextAISendAt = nil
	store := newFakeStore(lead)
	d := testDispatcher(t, store, &fakeComposer{}, &fakeGateway{}, false)

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := store.get(lead.ID)
	if got.MessageStatus != domain.StatusSent {
		t.Fatalf("status = %q, want sent", got.MessageStatus)
	}
	if got.ManualNextAISendAt != nil {
		t.Error("manual override must be consumed by the send")
	}
	if got.NextAISendAt == nil || !got.NextAISendAt.After(runAt) {
		t.Error("next send must come from the cadence, in the future")
	}
}

func TestRunHonorsEarlierManualOverride(t *testing.T) {
	lead := dueLead(domain.StatusApproved, "Week 2 – Msg 1")
	future := runAt.Add(48 * time.Hour)
	manual := runAt.Add(-5 * time.Minute)
	lead.NextAISendAt = &future
	lead.ManualNextAISendAt = &manual
	store := newFakeStore(lead)
	gateway := &fakeGateway{}
	d := testDispatcher(t, store, &fakeComposer{}, gateway, false)

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Sent != 1 || gateway.calls != 1 {
		t.Fatalf("summary = %+v, gateway calls %d; a manual time before the scheduled one must make the lead due", summary, gateway.calls)
	}
	if got := store.get(lead.ID); got.MessageStatus != domain.StatusSent {
		t.Fatalf("status = %q, want sent", got.MessageStatus)
	}
}

func TestRunBoundsHungGeneration(t *testing.T) {
	lead := dueLead(domain.StatusNotStarted, "Day 0")
	store := newFakeStore(lead)
	d := testDispatcher(t, store, blockingComposer{}, &fakeGateway{}, false)
	d.callTimeout = 20 * time.Millisecond

	done := make(chan Summary, 1)
	go func() {
		summary, _ := d.Run(context.Background())
		done <- summary
	}()

	var summary Summary
	select {
	case summary = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run never finished; the generation call must be bounded")
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v, want the timed-out generation counted as a failure", summary)
	}

	got := store.get(lead.ID)
	if got.MessageStatus != domain.StatusNotStarted || got.AIMessage != "" {
		t.Errorf("lead changed after a timed-out generation: status=%q draft=%q", got.MessageStatus, got.AIMessage)
	}
}

func TestConcurrentRunsNeverDoubleProcess(t *testing.T) {
	leads := make([]domain.Lead, 8)
	for i := range leads {
		leads[i] = dueLead(domain.StatusApproved, "Week 2 – Msg 1")
	}
	store := newFakeStore(leads...)
	gateway := &fakeGateway{}
	d1 := testDispatcher(t, store, &fakeComposer{}, gateway, false)
	d2 := testDispatcher(t, store, &fakeComposer{}, gateway, false)

	var wg sync.WaitGroup
	for _, d := range []*Dispatcher{d1, d2} {
		wg.Add(1)
		go func(d *Dispatcher) {
			defer wg.Done()
			_, _ = d.Run(context.Background())
		}(d)
	}
	wg.Wait()

	if gateway.calls != len(leads) {
		t.Fatalf("gateway calls = %d, want exactly %d across both runs", gateway.calls, len(leads))
	}
	for _, l := range leads {
		if msgs := store.messagesFor(l.ID); len(msgs) != 1 {
			t.Fatalf("lead %s has %d log entries, want 1", l.ID, len(msgs))
		}
	}
}
