// Package client talks to the onboarding API on behalf of the app. It is the
// Sink behind an onboarding.AsyncEmitter and the engine's ProfileWriter.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"voiceonboard/api/onboarding"
)

const (
	eventsPath  = "/api/onboarding/events"
	profilePath = "/api/onboarding/profile"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Path, e.StatusCode, e.Body)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendStepEvents posts one batch of step events.
func (c *Client) SendStepEvents(ctx context.Context, events []onboarding.StepEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := c.post(ctx, eventsPath, events); err != nil {
		return fmt.Errorf("send %d step events: %w", len(events), err)
	}
	c.logger.Debug("step events sent", zap.Int("count", len(events)))
	return nil
}

type profileRequest struct {
	UserID      string             `json:"user_id"`
	SessionID   string             `json:"session_id"`
	ArchetypeID int                `json:"archetype_id"`
	Variation   string             `json:"variation,omitempty"`
	Answers     onboarding.Answers `json:"answers"`
	CompletedAt time.Time          `json:"completed_at"`
}

// SaveProfile upserts the completed profile. The server keys it by user id, so
// a retry overwrites rather than duplicates.
func (c *Client) SaveProfile(ctx context.Context, p onboarding.Profile) error {
	req := profileRequest{
		UserID:      p.UserID,
		SessionID:   p.SessionID,
		ArchetypeID: int(p.ArchetypeID),
		Variation:   p.Variation,
		Answers:     p.Answers,
		CompletedAt: p.CompletedAt,
	}
	if err := c.post(ctx, profilePath, req); err != nil {
		return fmt.Errorf("save profile for user %s: %w", p.UserID, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

var (
	_ onboarding.Sink          = (*Client)(nil)
	_ onboarding.ProfileWriter = (*Client)(nil)
)
