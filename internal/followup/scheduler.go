package followup

import (
	"math/rand"
	"sync"
	"time"

	"autotext_backend/internal/leads/domain"
	"autotext_backend/platform/logger"
)

// Next is a computed schedule: when the lead's next touch should go out
// and which stage it belongs to.
type Next struct {
	SendAt    time.Time
	Stage     string
	Exhausted bool
}

// Scheduler turns a lead's cadence position into a concrete next send
// time inside the allowed window. It is safe for concurrent use.
type Scheduler struct {
	table     *Table
	window    Window
	exhausted time.Duration
	log       *logger.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewScheduler builds a scheduler. exhausted is the long check-in delay
// applied once the cadence table runs out, keeping leads lightly active
// instead of going silent forever.
func NewScheduler(table *Table, window Window, exhausted time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		table:     table,
		window:    window,
		exhausted: exhausted,
		log:       log,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Window returns the scheduler's send window, shared with the dispatch
// loop's run gate.
func (s *Scheduler) Window() Window { return s.window }

// ComputeNext returns the lead's next send time and stage, or nil when
// the lead must not be scheduled at all.
//
// A manual override is honored verbatim and leaves the stage alone; the
// caller clears it once the override has produced a send. Otherwise the
// cadence delay is applied to the last AI send (or lead creation), then
// jittered inside that day's window and clamped forward if needed.
func (s *Scheduler) ComputeNext(lead *domain.Lead, now time.Time) *Next {
	if !lead.AIActive || lead.OptedOut {
		return nil
	}

	if lead.ManualNextAISendAt != nil {
		return &Next{SendAt: *lead.ManualNextAISendAt, Stage: lead.FollowUpStage}
	}

	stage := lead.FollowUpStage
	step, known := s.table.Lookup(stage)
	if !known {
		s.log.Anomaly("unknown_stage", lead.ID.String(), "stage "+stage+" not in cadence, restarting at "+s.table.Initial())
		stage = s.table.Initial()
	}

	base := now
	switch {
	case lead.LastAISentAt != nil:
		base = *lead.LastAISentAt
	case !lead.CreatedAt.IsZero():
		base = lead.CreatedAt
	}

	next := Next{Stage: step.Next}
	delay := step.Delay
	if step.Terminal() {
		// Cadence over: keep a slow check-in rhythm, stage stays put.
		next.Stage = stage
		next.Exhausted = true
		delay = s.exhausted
	}

	proposed := base.Add(delay)

	s.mu.Lock()
	jittered := s.window.JitterAfter(proposed, s.rnd)
	s.mu.Unlock()

	next.SendAt = s.window.Clamp(jittered)
	return &next
}
