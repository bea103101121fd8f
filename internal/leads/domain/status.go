package domain

import "fmt"

// MessageStatus tracks a lead's AI draft through its review lifecycle.
type MessageStatus string

const (
	// StatusNotStarted means no draft exists yet for the current stage.
	StatusNotStarted MessageStatus = "not_started"
	// StatusPending means a draft exists and is waiting for human review.
	StatusPending MessageStatus = "pending"
	// StatusApproved means a reviewer cleared the draft for sending.
	StatusApproved MessageStatus = "approved"
	// StatusSent means the draft went out; the cycle restarts at the next stage.
	StatusSent MessageStatus = "sent"
	// StatusSkipped means a reviewer discarded the draft for this stage.
	StatusSkipped MessageStatus = "skipped"
)

// validTransitions maps each status to the statuses it may move to.
// Regeneration keeps a pending draft pending, so pending -> pending is legal.
var validTransitions = map[MessageStatus][]MessageStatus{
	StatusNotStarted: {StatusPending},
	StatusPending:    {StatusPending, StatusApproved, StatusSkipped},
	StatusApproved:   {StatusSent, StatusSkipped, StatusPending},
	StatusSent:       {StatusNotStarted, StatusPending},
	StatusSkipped:    {StatusNotStarted, StatusPending},
}

// IsValid reports whether s is one of the known statuses.
func (s MessageStatus) IsValid() bool {
	switch s {
	case StatusNotStarted, StatusPending, StatusApproved, StatusSent, StatusSkipped:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to target is allowed.
func (s MessageStatus) CanTransitionTo(target MessageStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Transition validates and returns the target status, or an error naming
// both states when the move is not allowed.
func (s MessageStatus) Transition(target MessageStatus) (MessageStatus, error) {
	if !target.IsValid() {
		return s, fmt.Errorf("unknown message status %q", target)
	}
	if !s.CanTransitionTo(target) {
		return s, fmt.Errorf("cannot move draft from %q to %q", s, target)
	}
	return target, nil
}

// NeedsReview reports whether the lead should surface in the review queue.
func (s MessageStatus) NeedsReview() bool {
	return s == StatusPending
}

// Sendable reports whether the dispatch loop may deliver the draft.
func (s MessageStatus) Sendable() bool {
	return s == StatusApproved
}
