package domain

import "testing"

func TestMessageStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    MessageStatus
		to      MessageStatus
		allowed bool
	}{
		{"draft created", StatusNotStarted, StatusPending, true},
		{"approve pending", StatusPending, StatusApproved, true},
		{"skip pending", StatusPending, StatusSkipped, true},
		{"regenerate pending", StatusPending, StatusPending, true},
		{"send approved", StatusApproved, StatusSent, true},
		{"skip approved", StatusApproved, StatusSkipped, true},
		{"new cycle after sent", StatusSent, StatusNotStarted, true},
		{"new draft after sent", StatusSent, StatusPending, true},
		{"new draft after skip", StatusSkipped, StatusPending, true},

		{"cannot send unreviewed", StatusPending, StatusSent, false},
		{"cannot send from scratch", StatusNotStarted, StatusSent, false},
		{"cannot approve without draft", StatusNotStarted, StatusApproved, false},
		{"cannot approve sent", StatusSent, StatusApproved, false},
		{"cannot re-send", StatusSent, StatusSent, false},
		{"cannot approve skipped", StatusSkipped, StatusApproved, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.from.Transition(tc.to)
			if tc.allowed {
				if err != nil {
					t.Fatalf("Transition(%q -> %q) unexpected error: %v", tc.from, tc.to, err)
				}
				if got != tc.to {
					t.Fatalf("Transition(%q -> %q) = %q, want %q", tc.from, tc.to, got, tc.to)
				}
				return
			}
			if err == nil {
				t.Fatalf("Transition(%q -> %q) expected error, got none", tc.from, tc.to)
			}
			if got != tc.from {
				t.Fatalf("failed transition must not move state: got %q, want %q", got, tc.from)
			}
		})
	}
}

func TestMessageStatusTransitionRejectsUnknownTarget(t *testing.T) {
	if _, err := StatusPending.Transition(MessageStatus("bogus")); err == nil {
		t.Fatal("expected error for unknown target status")
	}
}

func TestMessageStatusHelpers(t *testing.T) {
	if !StatusPending.NeedsReview() {
		t.Error("pending drafts must surface for review")
	}
	if StatusApproved.NeedsReview() {
		t.Error("approved drafts are past review")
	}
	if !StatusApproved.Sendable() {
		t.Error("approved drafts must be sendable")
	}
	if StatusPending.Sendable() {
		t.Error("pending drafts must never be sendable")
	}
}

func TestLeadEligible(t *testing.T) {
	base := func() *Lead {
		return &Lead{OptedInForAI: true, AIActive: true}
	}

	if !base().Eligible() {
		t.Fatal("opted-in active lead must be eligible")
	}

	l := base()
	l.OptedOut = true
	if l.Eligible() {
		t.Error("opted-out lead must never be eligible")
	}

	l = base()
	l.HasReplied = true
	if l.Eligible() {
		t.Error("replied lead must not be eligible")
	}

	l = base()
	l.AIActive = false
	if l.Eligible() {
		t.Error("paused lead must not be eligible")
	}
}

func TestLeadEffectiveNextSendAt(t *testing.T) {
	l := &Lead{}
	if l.EffectiveNextSendAt() != nil {
		t.Fatal("lead with no schedule has no effective send time")
	}

	sched := mustTime(t, "2026-03-02T15:00:00Z")
	manual := mustTime(t, "2026-03-01T09:00:00Z")

	l.NextAISendAt = &sched
	if got := l.EffectiveNextSendAt(); got == nil || !got.Equal(sched) {
		t.Fatalf("EffectiveNextSendAt = %v, want %v", got, sched)
	}

	l.ManualNextAISendAt = &manual
	if got := l.EffectiveNextSendAt(); got == nil || !got.Equal(manual) {
		t.Fatalf("manual override must win: got %v, want %v", got, manual)
	}
}
