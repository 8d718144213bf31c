package onboarding

import "errors"

var (
	ErrAlreadyStarted        = errors.New("onboarding already started")
	ErrNotStarted            = errors.New("onboarding not started")
	ErrMissingRequiredAnswer = errors.New("missing required answer")
	ErrInvalidAnswer         = errors.New("invalid answer")
	ErrUnknownArchetype      = errors.New("unknown archetype")

	ErrEmitterFull   = errors.New("step event buffer full")
	ErrEmitterClosed = errors.New("step event emitter closed")
)

// Status is the outcome of a successful Advance.
type Status int

const (
	StatusAdvanced Status = iota + 1
	// StatusTerminal means the session was already on the last step; nothing changed.
	StatusTerminal
)

func (s Status) String() string {
	switch s {
	case StatusAdvanced:
		return "advanced"
	case StatusTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}
