package models

import (
	"encoding/json"
	"time"
)

// Profile is the per-user onboarding result, keyed by the authenticated user id.
type Profile struct {
	UserID      string          `json:"user_id" binding:"required"`
	SessionID   string          `json:"session_id" binding:"required"`
	ArchetypeID int             `json:"archetype_id" binding:"required,min=1"`
	Variation   string          `json:"variation,omitempty"`
	Answers     json.RawMessage `json:"answers" binding:"required"`
	CompletedAt time.Time       `json:"completed_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type AdminLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}
