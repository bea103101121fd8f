// Package domain holds the lead aggregate and its follow-up state machine.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Follow-up stage labels. Numbered stages come from the cadence table;
// these two are fixed markers outside of it.
const (
	StageInitial = "Day 0"
	StageReplied = "Replied"
)

// Message direction relative to the dealership.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Message origin.
const (
	OriginAI      = "ai"
	OriginManual  = "manual"
	OriginSystem  = "system"
	OriginInbound = "inbound"
)

// Lead is the aggregate root for a sales lead and its texting state.
type Lead struct {
	ID              uuid.UUID `json:"id"`
	FirstName       string    `json:"firstName"`
	LastName        string    `json:"lastName"`
	Phone           string    `json:"phone"`
	Email           string    `json:"email,omitempty"`
	VehicleInterest string    `json:"vehicleInterest,omitempty"`
	Source          string    `json:"source,omitempty"`
	Score           int       `json:"score"`

	OptedInForAI bool `json:"optedInForAi"`
	OptedOut     bool `json:"optedOut"`
	AIActive     bool `json:"aiActive"`
	HasReplied   bool `json:"hasReplied"`
	NewMessage   bool `json:"newMessage"`

	MessageStatus    MessageStatus `json:"messageStatus"`
	AIMessage        string        `json:"aiMessage,omitempty"`
	AIDraftUpdatedAt *time.Time    `json:"aiDraftUpdatedAt,omitempty"`
	FollowUpStage    string        `json:"followUpStage"`
	AIMessageCount   int           `json:"aiMessageCount"`

	LastTexted         *time.Time `json:"lastTexted,omitempty"`
	LastAISentAt       *time.Time `json:"lastAiSentAt,omitempty"`
	NextAISendAt       *time.Time `json:"nextAiSendAt,omitempty"`
	ManualNextAISendAt *time.Time `json:"manualNextAiSendAt,omitempty"`

	SendToken     *uuid.UUID `json:"-"`
	LastSendError string     `json:"lastSendError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FullName joins the name parts, tolerating either being empty.
func (l *Lead) FullName() string {
	switch {
	case l.FirstName == "":
		return l.LastName
	case l.LastName == "":
		return l.FirstName
	default:
		return l.FirstName + " " + l.LastName
	}
}

// Eligible reports whether the lead may be considered by the dispatch loop
// at all. The due-time check happens in the repository query; this guards
// the sticky flags.
func (l *Lead) Eligible() bool {
	return l.OptedInForAI && l.AIActive && !l.OptedOut && !l.HasReplied
}

// EffectiveNextSendAt returns the manual override when set, otherwise the
// scheduled time. A manual time always wins, even when it is earlier.
func (l *Lead) EffectiveNextSendAt() *time.Time {
	if l.ManualNextAISendAt != nil {
		return l.ManualNextAISendAt
	}
	return l.NextAISendAt
}

// Message is a single SMS on a lead's conversation timeline.
type Message struct {
	ID             uuid.UUID `json:"id"`
	LeadID         uuid.UUID `json:"leadId"`
	Body           string    `json:"body"`
	Direction      string    `json:"direction"`
	Origin         string    `json:"origin"`
	FromNumber     string    `json:"fromNumber,omitempty"`
	ProviderSID    string    `json:"providerSid,omitempty"`
	DeliveryStatus string    `json:"deliveryStatus,omitempty"`
	FollowUpStage  string    `json:"followUpStage,omitempty"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"createdAt"`
}
