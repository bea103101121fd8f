package transport

import "time"

// Request DTOs
type CreateLeadRequest struct {
	FirstName       string `json:"firstName" validate:"omitempty,max=100"`
	LastName        string `json:"lastName" validate:"omitempty,max=100"`
	Phone           string `json:"phone" validate:"required,min=7,max=20"`
	Email           string `json:"email,omitempty" validate:"omitempty,email"`
	VehicleInterest string `json:"vehicleInterest,omitempty" validate:"omitempty,max=200"`
	Source          string `json:"source,omitempty" validate:"omitempty,max=50"`
	OptInForAI      bool   `json:"optInForAi"`
}

type ManualSendRequest struct {
	Body string `json:"body" validate:"required,min=1,max=1600"`
}

// ScheduleRequest pins the one-shot manual override; a null time
// clears a previously set override.
type ScheduleRequest struct {
	NextSendAt *time.Time `json:"nextSendAt"`
}

type ListLeadsQuery struct {
	View   string `form:"view" validate:"omitempty,oneof=all review unread stuck"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=200"`
	Offset int    `form:"offset" validate:"omitempty,min=0"`
}
