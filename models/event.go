package models

import (
	"time"
)

// StepEvent is one session entering one onboarding step, as stored in the event store.
type StepEvent struct {
	EventID   string    `json:"eventId,omitempty"`
	SessionID string    `json:"session_id" binding:"required"`
	Step      string    `json:"step" binding:"required"`
	Timestamp time.Time `json:"timestamp"`
	IPAddress string    `json:"-"`
	UserAgent string    `json:"-"`
}

// FunnelRow is computed per request and never stored. DropOff is a percentage
// with one decimal and a trailing "%", or "-" when undefined.
type FunnelRow struct {
	Step    string `json:"step"`
	Label   string `json:"label"`
	Count   uint64 `json:"count"`
	DropOff string `json:"dropOff"`
}

type FunnelReport struct {
	WindowDays  int         `json:"windowDays"`
	Since       time.Time   `json:"since"`
	GeneratedAt time.Time   `json:"generatedAt"`
	Rows        []FunnelRow `json:"rows"`
}
