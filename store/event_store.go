package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"voiceonboard/api/database"
	"voiceonboard/api/models"
)

const createEventsTable = `
	CREATE TABLE IF NOT EXISTS onboarding_events (
		event_id   String,
		session_id String,
		step       LowCardinality(String),
		timestamp  DateTime64(3, 'UTC'),
		ip_address String,
		user_agent String
	)
	ENGINE = MergeTree
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (step, timestamp, session_id)
`

// EventStore keeps onboarding step events in ClickHouse.
type EventStore struct {
	DB     *database.ClickHouseClient
	logger *zap.Logger
}

func NewEventStore(chClient *database.ClickHouseClient, logger *zap.Logger) *EventStore {
	return &EventStore{
		DB:     chClient,
		logger: logger,
	}
}

func (s *EventStore) EnsureSchema(ctx context.Context) error {
	if err := s.DB.Conn.Exec(ctx, createEventsTable); err != nil {
		return fmt.Errorf("failed to create onboarding_events table: %w", err)
	}
	return nil
}

func (s *EventStore) InsertStepEvents(ctx context.Context, events []models.StepEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Column order must match createEventsTable.
	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO onboarding_events (
			event_id, session_id, step, timestamp, ip_address, user_agent
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, event := range events {
		err := batch.Append(
			event.EventID,
			event.SessionID,
			event.Step,
			event.Timestamp,
			event.IPAddress,
			event.UserAgent,
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append event %s to batch: %w", event.EventID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	s.logger.Debug("inserted step events", zap.Int("count", len(events)))
	return nil
}

// DistinctSessions counts the sessions with at least one event for step at or
// after since. A session that entered the step twice counts once.
func (s *EventStore) DistinctSessions(ctx context.Context, step string, since time.Time) (uint64, error) {
	query := `
		SELECT uniqExact(session_id)
		FROM onboarding_events
		WHERE step = ? AND timestamp >= ?
	`
	var count uint64
	if err := s.DB.Conn.QueryRow(ctx, query, step, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions for step %s: %w", step, err)
	}
	return count, nil
}
