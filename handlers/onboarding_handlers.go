package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"voiceonboard/api/metrics"
	"voiceonboard/api/models"
	"voiceonboard/api/onboarding"
	"voiceonboard/api/store"
)

const maxEventsPerRequest = 500

type StepEventWriter interface {
	InsertStepEvents(ctx context.Context, events []models.StepEvent) error
}

type ProfileRepository interface {
	UpsertProfile(ctx context.Context, p *models.Profile) error
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

type OnboardingHandlers struct {
	Events   StepEventWriter
	Profiles ProfileRepository
	catalog  *onboarding.Catalog
	metrics  *metrics.Recorder
	logger   *zap.Logger
	timeout  time.Duration
	now      func() time.Time
}

func NewOnboardingHandlers(events StepEventWriter, profiles ProfileRepository, catalog *onboarding.Catalog, rec *metrics.Recorder, logger *zap.Logger, timeout time.Duration) *OnboardingHandlers {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OnboardingHandlers{
		Events:   events,
		Profiles: profiles,
		catalog:  catalog,
		metrics:  rec,
		logger:   logger,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// TrackStepEvents accepts a JSON array of step events from the app.
func (h *OnboardingHandlers) TrackStepEvents(c *gin.Context) {
	var incoming []models.StepEvent
	if err := c.ShouldBindJSON(&incoming); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if len(incoming) == 0 {
		c.Status(http.StatusOK)
		return
	}
	if len(incoming) > maxEventsPerRequest {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Too many events in one request", "max": maxEventsPerRequest})
		return
	}

	now := h.now()
	events := make([]models.StepEvent, 0, len(incoming))
	for i, event := range incoming {
		if event.SessionID == "" || !h.catalog.Has(event.Step) {
			h.metrics.EventsRejected(len(incoming))
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid step event",
				"index": i,
				"step":  event.Step,
			})
			return
		}
		event.EventID = uuid.New().String()
		event.IPAddress = c.ClientIP()
		event.UserAgent = c.Request.UserAgent()
		if event.Timestamp.IsZero() {
			event.Timestamp = now
		}
		event.Timestamp = event.Timestamp.UTC()
		events = append(events, event)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.Events.InsertStepEvents(ctx, events); err != nil {
		h.logger.Error("failed to insert step events", zap.Int("count", len(events)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record step events"})
		return
	}
	for _, event := range events {
		h.metrics.EventsIngested(event.Step, 1)
	}

	c.JSON(http.StatusOK, gin.H{"accepted": len(events)})
}

// SaveProfile upserts the profile of a user who finished onboarding.
func (h *OnboardingHandlers) SaveProfile(c *gin.Context) {
	var p models.Profile
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if _, ok := h.catalog.Archetype(onboarding.ArchetypeID(p.ArchetypeID)); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown archetype_id", "archetype_id": p.ArchetypeID})
		return
	}
	var answers map[string]json.RawMessage
	if err := json.Unmarshal(p.Answers, &answers); err != nil || answers == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "answers must be a JSON object"})
		return
	}
	if p.CompletedAt.IsZero() {
		p.CompletedAt = h.now()
	}
	p.CompletedAt = p.CompletedAt.UTC()

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.Profiles.UpsertProfile(ctx, &p); err != nil {
		h.logger.Error("failed to upsert profile", zap.String("user_id", p.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save profile"})
		return
	}
	h.metrics.ProfileUpserted()

	c.JSON(http.StatusOK, p)
}

// GetProfile returns a stored profile to the dashboard.
func (h *OnboardingHandlers) GetProfile(c *gin.Context) {
	userID := c.Param("userId")

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	p, err := h.Profiles.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
			return
		}
		h.logger.Error("failed to load profile", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load profile"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// ListSteps returns the canonical step catalog.
func (h *OnboardingHandlers) ListSteps(c *gin.Context) {
	type stepView struct {
		Key      string `json:"key"`
		Label    string `json:"label"`
		Ordinal  int    `json:"ordinal"`
		Required bool   `json:"required"`
	}
	steps := h.catalog.Steps()
	out := make([]stepView, len(steps))
	for i, s := range steps {
		out[i] = stepView{Key: s.Key, Label: s.Label, Ordinal: i, Required: s.Required}
	}
	c.JSON(http.StatusOK, out)
}
