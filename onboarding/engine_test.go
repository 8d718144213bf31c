package onboarding

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	events []StepEvent
}

func (r *recordingEmitter) Emit(ev StepEvent) { r.events = append(r.events, ev) }

func (r *recordingEmitter) steps() []string {
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Step)
	}
	return out
}

type fakeProfiles struct {
	saved []Profile
	err   error
}

func (f *fakeProfiles) SaveProfile(_ context.Context, p Profile) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, p)
	return nil
}

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func newTestEngine(opts ...EngineOption) (*Engine, *recordingEmitter) {
	rec := &recordingEmitter{}
	base := []EngineOption{
		WithEmitter(rec),
		WithClock(fixedClock()),
		WithIDGenerator(func() string { return "s" }),
		WithRand(rand.New(rand.NewPCG(1, 2))),
	}
	return NewEngine(DefaultCatalog(), append(base, opts...)...), rec
}

// runToEnd answers every question with the option at pick and advances until
// the terminal step, returning every progress value observed.
func runToEnd(t *testing.T, e *Engine, pick int) []float64 {
	t.Helper()
	progress := []float64{e.Progress()}
	for i := 0; i < 50; i++ {
		step, err := e.CurrentStep()
		require.NoError(t, err)
		if len(step.Options) > 0 {
			require.NoError(t, e.RecordAnswer(step.Key, step.Options[pick].Text))
		}
		status, err := e.Advance(context.Background())
		require.NoError(t, err)
		progress = append(progress, e.Progress())
		if status == StatusTerminal {
			return progress
		}
	}
	t.Fatal("onboarding did not terminate")
	return nil
}

func isCanonicalSubsequence(c *Catalog, keys []string) bool {
	last := -1
	for _, k := range keys {
		_, idx, ok := c.Lookup(k)
		if !ok || idx <= last {
			return false
		}
		last = idx
	}
	return true
}

func TestStartEmitsFirstStep(t *testing.T) {
	e, rec := newTestEngine()

	s, err := e.Start()
	require.NoError(t, err)
	assert.Equal(t, "s", s.ID)
	assert.Equal(t, 0, s.CurrentIndex)
	assert.False(t, s.StartedAt.IsZero())
	assert.Equal(t, []string{StepIntro}, rec.steps())
	assert.Equal(t, "s", rec.events[0].SessionID)

	_, err = e.Start()
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Len(t, rec.events, 1)
}

func TestOperationsBeforeStart(t *testing.T) {
	e, rec := newTestEngine()

	_, err := e.Advance(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, e.RecordAnswer(StepIntro, "x"), ErrNotStarted)
	_, err = e.CurrentStep()
	assert.ErrorIs(t, err, ErrNotStarted)
	_, ok := e.Session()
	assert.False(t, ok)
	assert.Zero(t, e.Progress())
	assert.Empty(t, rec.events)
}

func TestStartAnswerAdvanceEmitsTwoEvents(t *testing.T) {
	e, rec := newTestEngine()
	_, err := e.Start()
	require.NoError(t, err)

	// The session is on intro1, so an answer for q1 is rejected and does not
	// block leaving the optional intro step.
	err = e.RecordAnswer(StepInnerVoice, "X")
	assert.ErrorIs(t, err, ErrInvalidAnswer)

	status, err := e.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusAdvanced, status)
	assert.Equal(t, []string{StepIntro, StepVoiceContext}, rec.steps())
	for _, ev := range rec.events {
		assert.Equal(t, "s", ev.SessionID)
	}
}

func TestRecordAnswerValidation(t *testing.T) {
	e, _ := newTestEngine()
	_, err := e.Start()
	require.NoError(t, err)
	_, err = e.Advance(context.Background())
	require.NoError(t, err)
	_, err = e.Advance(context.Background())
	require.NoError(t, err)

	step, err := e.CurrentStep()
	require.NoError(t, err)
	require.Equal(t, StepInnerVoice, step.Key)

	assert.ErrorIs(t, e.RecordAnswer(StepInnerVoice, "not an option"), ErrInvalidAnswer)
	assert.ErrorIs(t, e.RecordAnswer(StepInnerVoice, "   "), ErrInvalidAnswer)
	assert.ErrorIs(t, e.RecordAnswer(StepSelfTalk, step.Options[0].Text), ErrInvalidAnswer)

	require.NoError(t, e.RecordAnswer(StepInnerVoice, step.Options[0].Text))
	require.NoError(t, e.RecordAnswer(StepInnerVoice, " "+step.Options[3].Text+" "))

	s, _ := e.Session()
	got, ok := s.Answers.Get(StepInnerVoice)
	require.True(t, ok)
	assert.Equal(t, step.Options[3].Text, got.Text)
	assert.Equal(t, ArchetypeHonestFriend, got.Archetype)
}

func TestAdvanceRequiresAnswer(t *testing.T) {
	e, rec := newTestEngine()
	_, err := e.Start()
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = e.Advance(context.Background())
		require.NoError(t, err)
	}

	_, err = e.Advance(context.Background())
	assert.ErrorIs(t, err, ErrMissingRequiredAnswer)

	step, _ := e.CurrentStep()
	assert.Equal(t, StepInnerVoice, step.Key)
	assert.Len(t, rec.events, 3)
}

func TestFullRunInvariants(t *testing.T) {
	for pick := 0; pick < 4; pick++ {
		e, rec := newTestEngine(WithAuth(AuthState{UserID: "u1"}))
		_, err := e.Start()
		require.NoError(t, err)

		progress := runToEnd(t, e, pick)

		for i, p := range progress {
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
			if i > 0 {
				assert.GreaterOrEqual(t, p, progress[i-1], "progress decreased at %d", i)
			}
		}
		assert.Equal(t, 1.0, progress[len(progress)-1])
		assert.True(t, isCanonicalSubsequence(DefaultCatalog(), rec.steps()), "steps %v", rec.steps())
		assert.Equal(t, StepComplete, rec.steps()[len(rec.events)-1])
		assert.NotContains(t, rec.steps(), StepAuth)
	}
}

func TestAdvanceAtTerminalIsNoop(t *testing.T) {
	e, rec := newTestEngine(WithAuth(AuthState{UserID: "u1"}))
	_, err := e.Start()
	require.NoError(t, err)
	runToEnd(t, e, 0)
	emitted := len(rec.events)

	for i := 0; i < 3; i++ {
		status, err := e.Advance(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StatusTerminal, status)
	}
	assert.Len(t, rec.events, emitted)
}

func TestOverthinkingSkippedForQuickMovers(t *testing.T) {
	// Option 3 of q3 is the "move on quickly" answer.
	e, rec := newTestEngine(WithAuth(AuthState{UserID: "u1"}))
	_, err := e.Start()
	require.NoError(t, err)
	runToEnd(t, e, 3)
	assert.NotContains(t, rec.steps(), StepOverthinking)
	assert.Contains(t, rec.steps(), StepVoiceReveal)

	e, rec = newTestEngine(WithAuth(AuthState{UserID: "u1"}))
	_, err = e.Start()
	require.NoError(t, err)
	runToEnd(t, e, 2)
	assert.Contains(t, rec.steps(), StepOverthinking)
}

func TestRevealChosenOnEntry(t *testing.T) {
	e, _ := newTestEngine(WithAuth(AuthState{UserID: "u1"}))
	_, err := e.Start()
	require.NoError(t, err)

	for {
		step, _ := e.CurrentStep()
		if step.Key == StepVoiceReveal {
			break
		}
		if len(step.Options) > 0 {
			require.NoError(t, e.RecordAnswer(step.Key, step.Options[2].Text))
		}
		_, err := e.Advance(context.Background())
		require.NoError(t, err)
	}

	s, _ := e.Session()
	require.NotNil(t, s.Reveal)
	assert.Equal(t, ArchetypeQuietSage, s.Reveal.Archetype)
	arch, _ := DefaultCatalog().Archetype(ArchetypeQuietSage)
	assert.Contains(t, arch.Variations, s.Reveal.Variation)

	revealAnswer, ok := s.Answers.Get(StepVoiceReveal)
	require.True(t, ok)
	assert.Equal(t, "3", revealAnswer.Text)

	for i := 0; i < 20; i++ {
		v, err := e.SelectRevealVariation(ArchetypeQuietSage)
		require.NoError(t, err)
		assert.Equal(t, s.Reveal.Variation, v)
	}
	assert.Equal(t, ArchetypeQuietSage, e.SelectVoiceArchetype(s.Answers))
}

func advanceTo(t *testing.T, e *Engine, key string, pick int) {
	t.Helper()
	for i := 0; i < 50; i++ {
		step, err := e.CurrentStep()
		require.NoError(t, err)
		if step.Key == key {
			return
		}
		if len(step.Options) > 0 {
			require.NoError(t, e.RecordAnswer(step.Key, step.Options[pick].Text))
		}
		_, err = e.Advance(context.Background())
		require.NoError(t, err)
	}
	t.Fatalf("never reached %s", key)
}

func TestRevealVariationStableAcrossOtherArchetypes(t *testing.T) {
	profiles := &fakeProfiles{}
	e, _ := newTestEngine(WithAuth(AuthState{UserID: "u1"}), WithProfileWriter(profiles))
	_, err := e.Start()
	require.NoError(t, err)
	advanceTo(t, e, StepVoiceReveal, 2)

	s, _ := e.Session()
	require.NotNil(t, s.Reveal)
	revealed := *s.Reveal
	require.Equal(t, ArchetypeQuietSage, revealed.Archetype)

	gentle, err := e.SelectRevealVariation(ArchetypeGentleGuide)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		v, err := e.SelectRevealVariation(ArchetypeGentleGuide)
		require.NoError(t, err)
		assert.Equal(t, gentle, v)

		v, err = e.SelectRevealVariation(ArchetypeQuietSage)
		require.NoError(t, err)
		assert.Equal(t, revealed.Variation, v)
	}

	s, _ = e.Session()
	assert.Equal(t, revealed, *s.Reveal)

	advanceTo(t, e, StepComplete, 2)
	require.Len(t, profiles.saved, 1)
	assert.Equal(t, revealed.Archetype, profiles.saved[0].ArchetypeID)
	assert.Equal(t, revealed.Variation, profiles.saved[0].Variation)
}

type blockingProfiles struct {
	started chan struct{}
	release chan struct{}
	saved   []Profile
}

func (b *blockingProfiles) SaveProfile(_ context.Context, p Profile) error {
	close(b.started)
	<-b.release
	b.saved = append(b.saved, p)
	return nil
}

func TestProfileWriteDoesNotHoldEngine(t *testing.T) {
	profiles := &blockingProfiles{started: make(chan struct{}), release: make(chan struct{})}
	e, _ := newTestEngine(WithAuth(AuthState{UserID: "u1"}), WithProfileWriter(profiles))
	_, err := e.Start()
	require.NoError(t, err)
	advanceTo(t, e, StepVoiceReveal, 0)

	done := make(chan error, 1)
	go func() {
		_, err := e.Advance(context.Background())
		done <- err
	}()
	<-profiles.started

	step, err := e.CurrentStep()
	require.NoError(t, err)
	assert.Equal(t, StepComplete, step.Key)
	assert.Equal(t, 1.0, e.Progress())
	// A second write is not started while the first is in flight.
	require.NoError(t, e.SyncProfile(context.Background()))

	close(profiles.release)
	require.NoError(t, <-done)
	require.Len(t, profiles.saved, 1)

	require.NoError(t, e.SyncProfile(context.Background()))
	assert.Len(t, profiles.saved, 1)
}

func TestSelectRevealVariationUnknownArchetype(t *testing.T) {
	e, _ := newTestEngine()
	_, err := e.SelectRevealVariation(42)
	assert.ErrorIs(t, err, ErrUnknownArchetype)
}

func TestSelectRevealVariationUniformAcrossSessions(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	arch, _ := DefaultCatalog().Archetype(ArchetypeGentleGuide)
	counts := make(map[string]int)

	const trials = 6000
	for i := 0; i < trials; i++ {
		e := NewEngine(DefaultCatalog(), WithRand(rng))
		_, err := e.Start()
		require.NoError(t, err)
		v, err := e.SelectRevealVariation(ArchetypeGentleGuide)
		require.NoError(t, err)
		counts[v]++
	}

	require.Len(t, counts, len(arch.Variations))
	expected := trials / len(arch.Variations)
	for v, n := range counts {
		assert.InDelta(t, expected, n, float64(expected)*0.1, "variation %q", v)
	}
}

func TestAuthScreenBlocksUntilSignedIn(t *testing.T) {
	profiles := &fakeProfiles{}
	e, rec := newTestEngine(WithProfileWriter(profiles))
	_, err := e.Start()
	require.NoError(t, err)

	for {
		step, _ := e.CurrentStep()
		if step.Key == StepAuth {
			break
		}
		if len(step.Options) > 0 {
			require.NoError(t, e.RecordAnswer(step.Key, step.Options[1].Text))
		}
		_, err := e.Advance(context.Background())
		require.NoError(t, err)
	}

	_, err = e.Advance(context.Background())
	assert.ErrorIs(t, err, ErrMissingRequiredAnswer)
	assert.Empty(t, profiles.saved)

	e.OnAuthChanged(AuthState{UserID: "apple|123"})
	status, err := e.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusAdvanced, status)
	assert.Contains(t, rec.steps(), StepAuth)

	require.Len(t, profiles.saved, 1)
	p := profiles.saved[0]
	assert.Equal(t, "apple|123", p.UserID)
	assert.Equal(t, "s", p.SessionID)
	assert.Equal(t, ArchetypeSteadyCoach, p.ArchetypeID)
	assert.NotEmpty(t, p.Variation)
	assert.False(t, p.CompletedAt.IsZero())
	assert.True(t, p.Answers.Has(StepInnerVoice))

	_, err = e.Advance(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.SyncProfile(context.Background()))
	assert.Len(t, profiles.saved, 1)

	s, _ := e.Session()
	assert.Equal(t, "apple|123", s.UserID)
	require.NotNil(t, s.CompletedAt)
}

func TestProfileWriteFailureDoesNotBlockCompletion(t *testing.T) {
	profiles := &fakeProfiles{err: errors.New("network down")}
	e, _ := newTestEngine(WithAuth(AuthState{UserID: "u1"}), WithProfileWriter(profiles))
	_, err := e.Start()
	require.NoError(t, err)
	runToEnd(t, e, 0)

	step, _ := e.CurrentStep()
	assert.Equal(t, StepComplete, step.Key)
	assert.Empty(t, profiles.saved)

	err = e.SyncProfile(context.Background())
	assert.ErrorContains(t, err, "network down")

	profiles.err = nil
	require.NoError(t, e.SyncProfile(context.Background()))
	require.NoError(t, e.SyncProfile(context.Background()))
	assert.Len(t, profiles.saved, 1)
	assert.Equal(t, ArchetypeGentleGuide, profiles.saved[0].ArchetypeID)
}

func TestProgressFallsBackToIndex(t *testing.T) {
	e, _ := newTestEngine()
	_, err := e.Start()
	require.NoError(t, err)
	assert.Equal(t, 0.0, e.Progress())

	_, err = e.Advance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1.0/13.0, e.Progress(), 1e-9)

	_, err = e.Advance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.15, e.Progress(), 1e-9)
}

func TestProgressNeverDecreases(t *testing.T) {
	// Unweighted step late in the flow: index/total would drop below the
	// preceding weight.
	steps := []Step{
		{Key: "a", Weight: weight(0.9)},
		{Key: "b"},
		{Key: "c"},
	}
	c, err := NewCatalog(steps, DefaultArchetypes())
	require.NoError(t, err)

	e := NewEngine(c)
	_, err = e.Start()
	require.NoError(t, err)
	assert.Equal(t, 0.9, e.Progress())

	_, err = e.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.9, e.Progress())
}

func TestSessionSnapshotIsACopy(t *testing.T) {
	e, _ := newTestEngine()
	_, err := e.Start()
	require.NoError(t, err)
	require.NoError(t, e.RecordAnswer(StepIntro, "ok"))

	s, _ := e.Session()
	s.Answers.Set(StepIntro, Answer{Text: "changed"})
	s.CurrentIndex = 5

	again, _ := e.Session()
	got, _ := again.Answers.Get(StepIntro)
	assert.Equal(t, "ok", got.Text)
	assert.Equal(t, 0, again.CurrentIndex)
}
