package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"voiceonboard/api/models"
)

var ErrProfileNotFound = errors.New("profile not found")

const createProfilesTable = `
	CREATE TABLE IF NOT EXISTS onboarding_profiles (
		user_id      TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL,
		archetype_id INTEGER NOT NULL,
		variation    TEXT NOT NULL DEFAULT '',
		answers      JSONB NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
`

// ProfileStore keeps completed onboarding profiles in PostgreSQL.
type ProfileStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewProfileStore(db *sql.DB, logger *zap.Logger) *ProfileStore {
	return &ProfileStore{db: db, logger: logger}
}

func (s *ProfileStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createProfilesTable); err != nil {
		return fmt.Errorf("failed to create onboarding_profiles table: %w", err)
	}
	return nil
}

// UpsertProfile writes p keyed by user id. A second write for the same user
// replaces the first.
func (s *ProfileStore) UpsertProfile(ctx context.Context, p *models.Profile) error {
	query := `
		INSERT INTO onboarding_profiles (user_id, session_id, archetype_id, variation, answers, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			archetype_id = EXCLUDED.archetype_id,
			variation = EXCLUDED.variation,
			answers = EXCLUDED.answers,
			completed_at = EXCLUDED.completed_at,
			updated_at = NOW()
		RETURNING updated_at;
	`
	// JSONB must go over the wire as text; lib/pq sends []byte as bytea.
	err := s.db.QueryRowContext(ctx, query,
		p.UserID, p.SessionID, p.ArchetypeID, p.Variation, string(p.Answers), p.CompletedAt,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert profile for user %s: %w", p.UserID, err)
	}

	s.logger.Info("profile upserted", zap.String("user_id", p.UserID), zap.Int("archetype_id", p.ArchetypeID))
	return nil
}

func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	p := &models.Profile{}
	var answers []byte
	query := `
		SELECT user_id, session_id, archetype_id, variation, answers, completed_at, updated_at
		FROM onboarding_profiles
		WHERE user_id = $1;
	`
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID,
		&p.SessionID,
		&p.ArchetypeID,
		&p.Variation,
		&answers,
		&p.CompletedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrProfileNotFound)
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	p.Answers = answers
	return p, nil
}
