package followup

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"

	"autotext_backend/internal/leads/domain"
	"autotext_backend/platform/logger"
)

func testScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := NewScheduler(DefaultTable(), testWindow(t), 7*day, logger.New("development"))
	s.rnd = rand.New(rand.NewSource(1))
	return s
}

func activeLead(created string) *domain.Lead {
	ts, _ := time.Parse(time.RFC3339, created)
	return &domain.Lead{
		ID:            uuid.New(),
		OptedInForAI:  true,
		AIActive:      true,
		FollowUpStage: domain.StageInitial,
		CreatedAt:     ts,
	}
}

func TestComputeNextSkipsIneligibleLeads(t *testing.T) {
	s := testScheduler(t)
	now := time.Now()

	paused := activeLead("2026-01-05T10:00:00Z")
	paused.AIActive = false
	if s.ComputeNext(paused, now) != nil {
		t.Error("paused lead must not be scheduled")
	}

	out := activeLead("2026-01-05T10:00:00Z")
	out.OptedOut = true
	if s.ComputeNext(out, now) != nil {
		t.Error("opted-out lead must never be scheduled")
	}
}

func TestComputeNextManualOverrideWinsVerbatim(t *testing.T) {
	s := testScheduler(t)
	lead := activeLead("2026-01-05T10:00:00Z")
	lead.FollowUpStage = "Week 2 – Msg 1"
	manual, _ := time.Parse(time.RFC3339, "2026-03-01T09:00:00Z")
	lead.ManualNextAISendAt = &manual

	next := s.ComputeNext(lead, time.Now())
	if next == nil {
		t.Fatal("expected a schedule")
	}
	if !next.SendAt.Equal(manual) {
		t.Fatalf("manual override must be returned verbatim: got %s, want %s", next.SendAt, manual)
	}
	if next.Stage != lead.FollowUpStage {
		t.Fatalf("manual override must not advance the stage: got %q", next.Stage)
	}
}

func TestComputeNextFirstTouchFromCreation(t *testing.T) {
	s := testScheduler(t)
	// Created mid-window; Day 0 has zero delay, so the first touch lands
	// between creation and the window close on the same day.
	created, _ := time.Parse(time.RFC3339, "2026-01-05T10:00:00Z")
	end, _ := time.Parse(time.RFC3339, "2026-01-05T19:00:00Z")
	lead := activeLead("2026-01-05T10:00:00Z")

	for i := 0; i < 100; i++ {
		next := s.ComputeNext(lead, created)
		if next == nil {
			t.Fatal("expected a schedule")
		}
		if next.SendAt.Before(created) || next.SendAt.After(end) {
			t.Fatalf("first touch %s outside [creation, window end]", next.SendAt)
		}
		if next.Stage != "Day 0 – Msg 2" {
			t.Fatalf("next stage = %q, want burst message 2", next.Stage)
		}
	}
}

func TestComputeNextDelayedTouchRespectsWindow(t *testing.T) {
	s := testScheduler(t)
	// Last send at 10:00; 12h delay proposes 22:00, past the window, so
	// the touch must land inside the next day's window.
	lead := activeLead("2026-01-04T09:00:00Z")
	lead.FollowUpStage = "Day 1 – Msg 1"
	last, _ := time.Parse(time.RFC3339, "2026-01-05T10:00:00Z")
	lead.LastAISentAt = &last

	nextStart, _ := time.Parse(time.RFC3339, "2026-01-06T08:00:00Z")
	nextEnd, _ := time.Parse(time.RFC3339, "2026-01-06T19:00:00Z")
	for i := 0; i < 100; i++ {
		next := s.ComputeNext(lead, last)
		if next == nil {
			t.Fatal("expected a schedule")
		}
		if next.SendAt.Before(nextStart) || next.SendAt.After(nextEnd) {
			t.Fatalf("send %s outside next day's window", next.SendAt)
		}
	}
}

func TestComputeNextNeverBeforeBaseNeverOutsideWindow(t *testing.T) {
	s := testScheduler(t)
	w := s.Window()

	stages := []string{"Day 0", "Day 0 – Msg 3", "Day 1 – Msg 2", "Day 3 – Msg 1", "Week 2 – Msg 1"}
	last, _ := time.Parse(time.RFC3339, "2026-01-05T11:30:00Z")

	for _, stage := range stages {
		lead := activeLead("2026-01-01T10:00:00Z")
		lead.FollowUpStage = stage
		lead.LastAISentAt = &last

		for i := 0; i < 50; i++ {
			next := s.ComputeNext(lead, last)
			if next == nil {
				t.Fatalf("stage %q: expected a schedule", stage)
			}
			if next.SendAt.Before(last) {
				t.Fatalf("stage %q: send %s before base %s", stage, next.SendAt, last)
			}
			if !w.Contains(next.SendAt) {
				t.Fatalf("stage %q: send %s outside window", stage, next.SendAt)
			}
		}
	}
}

func TestComputeNextUnknownStageRestartsCadence(t *testing.T) {
	s := testScheduler(t)
	lead := activeLead("2026-01-05T10:00:00Z")
	lead.FollowUpStage = "Quarter 9"

	next := s.ComputeNext(lead, time.Now())
	if next == nil {
		t.Fatal("unknown stage must still produce a schedule")
	}
	if next.Stage != "Day 0 – Msg 2" {
		t.Fatalf("unknown stage must restart at the initial step: got next stage %q", next.Stage)
	}
}

func TestComputeNextExhaustedCadenceKeepsCheckingIn(t *testing.T) {
	s := testScheduler(t)
	lead := activeLead("2026-01-01T10:00:00Z")
	lead.FollowUpStage = "Week 6 – Msg N"
	last, _ := time.Parse(time.RFC3339, "2026-01-05T12:00:00Z")
	lead.LastAISentAt = &last

	next := s.ComputeNext(lead, last)
	if next == nil {
		t.Fatal("exhausted cadence must still schedule a check-in")
	}
	if !next.Exhausted {
		t.Error("expected Exhausted flag on terminal stage")
	}
	if next.Stage != "Week 6 – Msg N" {
		t.Errorf("terminal stage must not advance: got %q", next.Stage)
	}
	if next.SendAt.Before(last.Add(7 * day)) {
		t.Errorf("check-in %s sooner than the 7-day fallback", next.SendAt)
	}
}
