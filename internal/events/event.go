// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"autotext_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Lead Lifecycle Events
// =============================================================================

// LeadCreated is published when a new lead enters the system.
type LeadCreated struct {
	BaseEvent
	LeadID uuid.UUID `json:"leadId"`
	Phone  string    `json:"phone"`
	Source string    `json:"source,omitempty"`
}

func (e LeadCreated) EventName() string { return "leads.lead.created" }

// LeadReplied is published when an inbound message arrives for a known lead.
// AI follow-up for the lead has already been paused by the time handlers run.
type LeadReplied struct {
	BaseEvent
	LeadID uuid.UUID `json:"leadId"`
	Phone  string    `json:"phone"`
	Body   string    `json:"body"`
}

func (e LeadReplied) EventName() string { return "leads.lead.replied" }

// LeadOptedOut is published when an inbound message matched an opt-out
// keyword. Opt-out is sticky; handlers must never re-enable follow-up.
type LeadOptedOut struct {
	BaseEvent
	LeadID  uuid.UUID `json:"leadId"`
	Phone   string    `json:"phone"`
	Keyword string    `json:"keyword"`
}

func (e LeadOptedOut) EventName() string { return "leads.lead.opted_out" }

// =============================================================================
// Follow-up Dispatch Events
// =============================================================================

// DraftGenerated is published when the dispatch loop produces a new AI draft.
type DraftGenerated struct {
	BaseEvent
	LeadID       uuid.UUID `json:"leadId"`
	Stage        string    `json:"stage"`
	AutoApproved bool      `json:"autoApproved"`
}

func (e DraftGenerated) EventName() string { return "followup.draft.generated" }

// FollowupSent is published after an outbound AI follow-up was delivered to
// the gateway and the lead's state was advanced in the same transaction.
type FollowupSent struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	Stage       string    `json:"stage"`
	ProviderSID string    `json:"providerSid"`
}

func (e FollowupSent) EventName() string { return "followup.message.sent" }

// SendFailed is published when delivery for a lead failed terminally after
// the retry budget was exhausted. The lead stays Approved and needs a human.
type SendFailed struct {
	BaseEvent
	LeadID   uuid.UUID `json:"leadId"`
	Phone    string    `json:"phone"`
	Stage    string    `json:"stage"`
	Attempts int       `json:"attempts"`
	Reason   string    `json:"reason"`
}

func (e SendFailed) EventName() string { return "followup.message.send_failed" }
