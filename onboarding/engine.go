package onboarding

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StepEvent records a session entering a step.
type StepEvent struct {
	SessionID string    `json:"session_id"`
	Step      string    `json:"step"`
	Timestamp time.Time `json:"timestamp"`
}

// AuthState is the sign-in state the engine observes. An empty UserID means anonymous.
type AuthState struct {
	UserID string
}

func (a AuthState) Authenticated() bool { return a.UserID != "" }

// Session is one onboarding attempt.
type Session struct {
	ID           string     `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	CurrentIndex int        `json:"current_index"`
	Answers      Answers    `json:"answers"`
	Reveal       *Reveal    `json:"reveal,omitempty"`
	UserID       string     `json:"user_id,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Profile is what gets persisted for a user who finished onboarding.
type Profile struct {
	UserID      string      `json:"user_id"`
	SessionID   string      `json:"session_id"`
	ArchetypeID ArchetypeID `json:"archetype_id"`
	Variation   string      `json:"variation,omitempty"`
	Answers     Answers     `json:"answers"`
	CompletedAt time.Time   `json:"completed_at"`
}

// ProfileWriter persists a completed profile. Writes are keyed by user id and
// must overwrite on repeat.
type ProfileWriter interface {
	SaveProfile(ctx context.Context, p Profile) error
}

type EngineOption func(*Engine)

func WithEmitter(em Emitter) EngineOption { return func(e *Engine) { e.emitter = em } }

func WithProfileWriter(w ProfileWriter) EngineOption { return func(e *Engine) { e.profiles = w } }

func WithClock(now func() time.Time) EngineOption { return func(e *Engine) { e.now = now } }

func WithIDGenerator(newID func() string) EngineOption { return func(e *Engine) { e.newID = newID } }

// WithRand sets the source for reveal variations. A *rand.Rand is not safe for
// concurrent use; do not share one between engines driven in parallel.
func WithRand(r *rand.Rand) EngineOption { return func(e *Engine) { e.rnd = r } }

func WithAuth(state AuthState) EngineOption { return func(e *Engine) { e.auth = state } }

func WithLogger(l *zap.Logger) EngineOption { return func(e *Engine) { e.logger = l } }

// Engine drives one session through a Catalog. It is meant to be driven by a
// single interactive flow; the mutex only guards against auth callbacks
// arriving from another goroutine.
type Engine struct {
	mu sync.Mutex

	catalog  *Catalog
	emitter  Emitter
	profiles ProfileWriter
	now      func() time.Time
	newID    func() string
	rnd      *rand.Rand
	logger   *zap.Logger
	auth     AuthState

	session        *Session
	emitted        map[string]bool
	variations     map[ArchetypeID]string
	progress       float64
	profileSaved   bool
	profileWriting bool
}

func NewEngine(catalog *Catalog, opts ...EngineOption) *Engine {
	e := &Engine{
		catalog:    catalog,
		emitter:    nopEmitter{},
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.NewString() },
		logger:     zap.NewNop(),
		emitted:    make(map[string]bool),
		variations: make(map[ArchetypeID]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start opens the session and enters the first step.
func (e *Engine) Start() (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		return Session{}, fmt.Errorf("%w: session %s", ErrAlreadyStarted, e.session.ID)
	}
	e.session = &Session{
		ID:        e.newID(),
		StartedAt: e.now(),
		UserID:    e.auth.UserID,
	}
	e.enter(0)
	e.logger.Debug("onboarding started", zap.String("session_id", e.session.ID))
	return e.snapshotLocked(), nil
}

// RecordAnswer stores value as the answer of the current step, replacing any
// earlier answer. stepKey must name the current step.
func (e *Engine) RecordAnswer(stepKey, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return ErrNotStarted
	}
	step := e.catalog.Step(e.session.CurrentIndex)
	if stepKey != step.Key {
		return fmt.Errorf("%w: %q is not the current step (%q)", ErrInvalidAnswer, stepKey, step.Key)
	}
	value = strings.TrimSpace(value)
	archetype, ok := step.Accepts(value)
	if !ok {
		return fmt.Errorf("%w: %q is not an option of %s", ErrInvalidAnswer, value, step.Key)
	}
	e.session.Answers.Set(step.Key, Answer{Text: value, Archetype: archetype})
	return nil
}

// Advance moves to the next step whose condition holds. It never moves
// backwards and returns StatusTerminal without changes on the last step.
// Entering the terminal step writes the profile after the transition is
// applied; a failed write does not fail Advance.
func (e *Engine) Advance(ctx context.Context) (Status, error) {
	e.mu.Lock()
	status, completed, err := e.advanceLocked()
	e.mu.Unlock()
	if err != nil || !completed {
		return status, err
	}

	if err := e.writeProfile(ctx); err != nil {
		e.logger.Warn("profile write failed, will retry on SyncProfile", zap.Error(err))
	}
	return status, nil
}

func (e *Engine) advanceLocked() (Status, bool, error) {
	if e.session == nil {
		return 0, false, ErrNotStarted
	}
	cur := e.session.CurrentIndex
	if e.catalog.Terminal(cur) {
		return StatusTerminal, false, nil
	}

	step := e.catalog.Step(cur)
	if step.Required && !e.session.Answers.Has(step.Key) {
		return 0, false, fmt.Errorf("%w: %s", ErrMissingRequiredAnswer, step.Key)
	}
	if step.RequiresAuth && !e.auth.Authenticated() {
		return 0, false, fmt.Errorf("%w: %s requires sign-in", ErrMissingRequiredAnswer, step.Key)
	}

	next := e.nextEligible(cur)
	e.enter(next)
	if !e.catalog.Terminal(next) {
		return StatusAdvanced, false, nil
	}
	completed := e.now()
	e.session.CompletedAt = &completed
	return StatusAdvanced, true, nil
}

// Progress is the indicator fraction for the current step, in [0,1] and never
// lower than a value returned earlier for this session.
func (e *Engine) Progress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

// CurrentStep returns the step the session is on.
func (e *Engine) CurrentStep() (Step, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return Step{}, ErrNotStarted
	}
	return e.catalog.Step(e.session.CurrentIndex), nil
}

// Session returns a copy of the session state.
func (e *Engine) Session() (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return Session{}, false
	}
	return e.snapshotLocked(), true
}

// SelectVoiceArchetype is Catalog.SelectVoiceArchetype on the engine's catalog.
func (e *Engine) SelectVoiceArchetype(answers Answers) ArchetypeID {
	return e.catalog.SelectVoiceArchetype(answers)
}

// SelectRevealVariation picks a variation of archetype uniformly at random the
// first time and returns that same variation on every later call for the same
// archetype in this session. It never changes Session.Reveal.
func (e *Engine) SelectRevealVariation(archetype ArchetypeID) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selectVariationLocked(archetype)
}

// OnAuthChanged records a sign-in or sign-out reported by the auth provider.
func (e *Engine) OnAuthChanged(state AuthState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.auth = state
	if e.session != nil && !e.profileSaved {
		e.session.UserID = state.UserID
	}
}

// SyncProfile writes the profile of a completed, authenticated session if an
// earlier write did not go through. It is a no-op otherwise, including while
// another write is in flight.
func (e *Engine) SyncProfile(ctx context.Context) error {
	return e.writeProfile(ctx)
}

func (e *Engine) nextEligible(cur int) int {
	snap := Snapshot{Answers: e.session.Answers, Authenticated: e.auth.Authenticated()}
	for i := cur + 1; i < e.catalog.Len(); i++ {
		cond := e.catalog.Step(i).Condition
		if cond == nil || cond(snap) {
			return i
		}
	}
	return e.catalog.Len() - 1
}

func (e *Engine) enter(i int) {
	step := e.catalog.Step(i)
	e.session.CurrentIndex = i

	if step.Reveals {
		archetype := e.catalog.SelectVoiceArchetype(e.session.Answers)
		variation, err := e.selectVariationLocked(archetype)
		if err != nil {
			e.logger.Error("reveal variation", zap.Error(err))
		}
		if e.session.Reveal == nil {
			e.session.Reveal = &Reveal{Archetype: archetype, Variation: variation}
		}
		e.session.Answers.Set(step.Key, Answer{Text: strconv.Itoa(int(archetype)), Archetype: archetype})
	}

	p := e.stepProgress(i)
	if p > e.progress {
		e.progress = p
	}

	if e.emitted[step.Key] {
		return
	}
	e.emitted[step.Key] = true
	e.emitter.Emit(StepEvent{SessionID: e.session.ID, Step: step.Key, Timestamp: e.now()})
}

func (e *Engine) stepProgress(i int) float64 {
	var p float64
	if w := e.catalog.Step(i).Weight; w != nil {
		p = *w
	} else {
		p = float64(i) / float64(e.catalog.Len())
	}
	return min(max(p, 0), 1)
}

func (e *Engine) selectVariationLocked(archetype ArchetypeID) (string, error) {
	if v, ok := e.variations[archetype]; ok {
		return v, nil
	}
	a, ok := e.catalog.Archetype(archetype)
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownArchetype, archetype)
	}
	var n int
	if e.rnd != nil {
		n = e.rnd.IntN(len(a.Variations))
	} else {
		n = rand.IntN(len(a.Variations))
	}
	variation := a.Variations[n]
	e.variations[archetype] = variation
	return variation, nil
}

// pendingProfileLocked builds the profile still owed for a completed,
// authenticated session.
func (e *Engine) pendingProfileLocked() (Profile, bool) {
	if e.profileSaved || e.profileWriting || e.profiles == nil || e.session == nil || e.session.CompletedAt == nil {
		return Profile{}, false
	}
	if !e.auth.Authenticated() {
		return Profile{}, false
	}

	p := Profile{
		UserID:      e.auth.UserID,
		SessionID:   e.session.ID,
		Answers:     e.session.Answers.Clone(),
		CompletedAt: *e.session.CompletedAt,
	}
	if e.session.Reveal != nil {
		p.ArchetypeID = e.session.Reveal.Archetype
		p.Variation = e.session.Reveal.Variation
	} else {
		p.ArchetypeID = e.catalog.SelectVoiceArchetype(e.session.Answers)
	}
	return p, true
}

// writeProfile calls the ProfileWriter without holding the engine lock.
func (e *Engine) writeProfile(ctx context.Context) error {
	e.mu.Lock()
	p, ok := e.pendingProfileLocked()
	if ok {
		e.profileWriting = true
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}

	err := e.profiles.SaveProfile(ctx, p)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.profileWriting = false
	if err != nil {
		return fmt.Errorf("save profile for user %s session %s: %w", p.UserID, p.SessionID, err)
	}
	e.profileSaved = true
	e.session.UserID = p.UserID
	e.logger.Info("onboarding profile saved",
		zap.String("session_id", p.SessionID),
		zap.String("user_id", p.UserID),
		zap.Int("archetype_id", int(p.ArchetypeID)))
	return nil
}

func (e *Engine) snapshotLocked() Session {
	s := *e.session
	s.Answers = e.session.Answers.Clone()
	if e.session.Reveal != nil {
		r := *e.session.Reveal
		s.Reveal = &r
	}
	if e.session.CompletedAt != nil {
		t := *e.session.CompletedAt
		s.CompletedAt = &t
	}
	return s
}
