package onboarding

import (
	"fmt"
)

// Canonical step keys. The order of DefaultCatalog is the funnel order.
const (
	StepIntro          = "intro1"
	StepVoiceContext   = "voiceContext"
	StepInnerVoice     = "q1_innerVoice"
	StepSelfTalk       = "q2_selfTalk"
	StepStressResponse = "q3_stressResponse"
	StepHardestPart    = "q4_hardestPart"
	StepTrustAdvice    = "q5_trustAdvice"
	StepEndOfDay       = "q6_endOfDay"
	StepQuoteResonance = "q7_quoteResonance"
	StepOverthinking   = "q8_overthinking"
	StepVoiceReveal    = "voiceReveal"
	StepAuth           = "authScreen"
	StepComplete       = "complete"
)

// Picking this q3 option skips the overthinking question.
const moveOnQuicklyOptText = "I move on pretty quickly"

// Snapshot is the read-only view a step Condition is evaluated against.
type Snapshot struct {
	Answers       Answers
	Authenticated bool
}

// Condition reports whether a step should be entered. A nil Condition always enters.
type Condition func(s Snapshot) bool

// Option is one enumerated answer of a question step.
type Option struct {
	Text      string      `json:"text"`
	Archetype ArchetypeID `json:"archetype,omitempty"`
}

type Step struct {
	Key          string    `json:"key"`
	Label        string    `json:"label"`
	Required     bool      `json:"required"`
	RequiresAuth bool      `json:"requiresAuth,omitempty"`
	Options      []Option  `json:"options,omitempty"`
	Condition    Condition `json:"-"`

	// Weight is the progress fraction shown while the step is current. Nil falls
	// back to index/total.
	Weight *float64 `json:"weight,omitempty"`

	// Reveals marks the step whose entry picks the archetype and variation.
	Reveals bool `json:"reveals,omitempty"`
}

// Accepts reports whether value is a valid answer for the step and, when it
// matches an option, which archetype the option is tagged with.
func (s Step) Accepts(value string) (ArchetypeID, bool) {
	if value == "" {
		return 0, false
	}
	if len(s.Options) == 0 {
		return 0, true
	}
	for _, opt := range s.Options {
		if opt.Text == value {
			return opt.Archetype, true
		}
	}
	return 0, false
}

// Catalog is the fixed, ordered set of onboarding steps plus the archetypes
// their answers vote for.
type Catalog struct {
	steps      []Step
	index      map[string]int
	archetypes []Archetype
}

// NewCatalog validates steps and archetypes. Keys must be unique, weights inside
// [0,1] and non-decreasing, and option tags must name a known archetype.
func NewCatalog(steps []Step, archetypes []Archetype) (*Catalog, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("catalog needs at least one step")
	}
	if len(archetypes) == 0 {
		return nil, fmt.Errorf("catalog needs at least one archetype")
	}

	known := make(map[ArchetypeID]bool, len(archetypes))
	for _, a := range archetypes {
		if known[a.ID] {
			return nil, fmt.Errorf("duplicate archetype id %d", a.ID)
		}
		if len(a.Variations) == 0 {
			return nil, fmt.Errorf("archetype %d has no variations", a.ID)
		}
		known[a.ID] = true
	}

	c := &Catalog{
		steps:      append([]Step(nil), steps...),
		index:      make(map[string]int, len(steps)),
		archetypes: append([]Archetype(nil), archetypes...),
	}
	lastWeight := 0.0
	for i, s := range steps {
		if s.Key == "" {
			return nil, fmt.Errorf("step %d has an empty key", i)
		}
		if _, dup := c.index[s.Key]; dup {
			return nil, fmt.Errorf("duplicate step key %q", s.Key)
		}
		if s.Weight != nil {
			w := *s.Weight
			if w < 0 || w > 1 {
				return nil, fmt.Errorf("step %q weight %v outside [0,1]", s.Key, w)
			}
			if w < lastWeight {
				return nil, fmt.Errorf("step %q weight %v is below an earlier weight %v", s.Key, w, lastWeight)
			}
			lastWeight = w
		}
		for _, opt := range s.Options {
			if opt.Archetype != 0 && !known[opt.Archetype] {
				return nil, fmt.Errorf("step %q option %q tags unknown archetype %d", s.Key, opt.Text, opt.Archetype)
			}
		}
		c.index[s.Key] = i
	}
	if steps[len(steps)-1].Condition != nil {
		return nil, fmt.Errorf("terminal step %q cannot be conditional", steps[len(steps)-1].Key)
	}
	return c, nil
}

// Steps returns the steps in canonical order.
func (c *Catalog) Steps() []Step {
	return append([]Step(nil), c.steps...)
}

func (c *Catalog) Len() int { return len(c.steps) }

func (c *Catalog) Step(i int) Step { return c.steps[i] }

// Lookup returns the step with key and its ordinal.
func (c *Catalog) Lookup(key string) (Step, int, bool) {
	i, ok := c.index[key]
	if !ok {
		return Step{}, -1, false
	}
	return c.steps[i], i, true
}

func (c *Catalog) Has(key string) bool {
	_, ok := c.index[key]
	return ok
}

// Terminal reports whether i is the last step.
func (c *Catalog) Terminal(i int) bool { return i == len(c.steps)-1 }

func (c *Catalog) Archetypes() []Archetype {
	return append([]Archetype(nil), c.archetypes...)
}

func (c *Catalog) Archetype(id ArchetypeID) (Archetype, bool) {
	for _, a := range c.archetypes {
		if a.ID == id {
			return a, true
		}
	}
	return Archetype{}, false
}

// SelectVoiceArchetype tallies the archetype tags of the collected answers and
// returns the most frequent one. Ties, and an empty tally, go to the archetype
// defined first.
func (c *Catalog) SelectVoiceArchetype(answers Answers) ArchetypeID {
	votes := make(map[ArchetypeID]int, len(c.archetypes))
	for _, key := range answers.Keys() {
		// Only question answers vote; the reveal answer records the result.
		if s, _, ok := c.Lookup(key); !ok || len(s.Options) == 0 {
			continue
		}
		a, _ := answers.Get(key)
		if a.Archetype != 0 {
			votes[a.Archetype]++
		}
	}

	best := c.archetypes[0].ID
	bestVotes := votes[best]
	for _, a := range c.archetypes[1:] {
		if votes[a.ID] > bestVotes {
			best, bestVotes = a.ID, votes[a.ID]
		}
	}
	return best
}

func weight(w float64) *float64 { return &w }

// DefaultCatalog is the production onboarding flow.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultSteps(), DefaultArchetypes())
	if err != nil {
		panic(fmt.Sprintf("default onboarding catalog is invalid: %v", err))
	}
	return c
}

func question(key, label string, w float64, opts ...Option) Step {
	return Step{Key: key, Label: label, Weight: weight(w), Required: true, Options: opts}
}

func defaultSteps() []Step {
	return []Step{
		{Key: StepIntro, Label: "Intro"},
		{Key: StepVoiceContext, Label: "Voice Context"},
		question(StepInnerVoice, "Q1: Inner Voice", 0.15,
			Option{"Soft and reassuring", ArchetypeGentleGuide},
			Option{"Pushy, always a next step", ArchetypeSteadyCoach},
			Option{"Quiet, asks questions", ArchetypeQuietSage},
			Option{"Blunt and matter-of-fact", ArchetypeHonestFriend},
		),
		question(StepSelfTalk, "Q2: Self Talk", 0.22,
			Option{"I try to comfort myself", ArchetypeGentleGuide},
			Option{"I tell myself to keep going", ArchetypeSteadyCoach},
			Option{"I step back and reflect", ArchetypeQuietSage},
			Option{"I call it like it is", ArchetypeHonestFriend},
		),
		question(StepStressResponse, "Q3: Stress Response", 0.29,
			Option{"I need someone to slow me down", ArchetypeGentleGuide},
			Option{"I make a plan and push through", ArchetypeSteadyCoach},
			Option{"I replay it over and over", ArchetypeQuietSage},
			Option{moveOnQuicklyOptText, ArchetypeHonestFriend},
		),
		question(StepHardestPart, "Q4: Hardest Part", 0.36,
			Option{"Being kind to myself", ArchetypeGentleGuide},
			Option{"Staying motivated", ArchetypeSteadyCoach},
			Option{"Quieting my thoughts", ArchetypeQuietSage},
			Option{"Facing the truth", ArchetypeHonestFriend},
		),
		question(StepTrustAdvice, "Q5: Trust Advice", 0.43,
			Option{"From someone warm", ArchetypeGentleGuide},
			Option{"From someone who has done it", ArchetypeSteadyCoach},
			Option{"From someone thoughtful", ArchetypeQuietSage},
			Option{"From someone honest", ArchetypeHonestFriend},
		),
		question(StepEndOfDay, "Q6: End of Day", 0.50,
			Option{"A gentle wind-down", ArchetypeGentleGuide},
			Option{"A recap of what I got done", ArchetypeSteadyCoach},
			Option{"A moment of stillness", ArchetypeQuietSage},
			Option{"An honest look back", ArchetypeHonestFriend},
		),
		question(StepQuoteResonance, "Q7: Quote Resonance", 0.57,
			Option{"Be gentle with yourself, you're doing the best you can", ArchetypeGentleGuide},
			Option{"Discipline is choosing what you want most", ArchetypeSteadyCoach},
			Option{"The quieter you become, the more you can hear", ArchetypeQuietSage},
			Option{"The truth will set you free, but first it will annoy you", ArchetypeHonestFriend},
		),
		func() Step {
			s := question(StepOverthinking, "Q8: Overthinking", 0.64,
				Option{"I need reassurance", ArchetypeGentleGuide},
				Option{"I need a push to act", ArchetypeSteadyCoach},
				Option{"I need space to untangle it", ArchetypeQuietSage},
				Option{"I need someone to cut through it", ArchetypeHonestFriend},
			)
			s.Condition = func(snap Snapshot) bool {
				a, ok := snap.Answers.Get(StepStressResponse)
				return !ok || a.Text != moveOnQuicklyOptText
			}
			return s
		}(),
		{Key: StepVoiceReveal, Label: "Voice Reveal", Weight: weight(0.80), Reveals: true},
		{
			Key:          StepAuth,
			Label:        "Auth Screen",
			Weight:       weight(0.92),
			RequiresAuth: true,
			Condition:    func(snap Snapshot) bool { return !snap.Authenticated },
		},
		{Key: StepComplete, Label: "Complete", Weight: weight(1.0)},
	}
}
