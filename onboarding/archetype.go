package onboarding

// ArchetypeID identifies a voice archetype. Zero means "none".
type ArchetypeID int

const (
	ArchetypeGentleGuide ArchetypeID = iota + 1
	ArchetypeSteadyCoach
	ArchetypeQuietSage
	ArchetypeHonestFriend
)

// Archetype is a voice style. Variations are alternative reveal texts; one is
// picked per reveal.
type Archetype struct {
	ID         ArchetypeID `json:"id"`
	Name       string      `json:"name"`
	Variations []string    `json:"variations"`
}

// Reveal is the archetype and variation shown on the reveal step. It is chosen
// once per session and kept on the Session.
type Reveal struct {
	Archetype ArchetypeID `json:"archetype"`
	Variation string      `json:"variation"`
}

// DefaultArchetypes is ordered; the order breaks ties in SelectVoiceArchetype.
func DefaultArchetypes() []Archetype {
	return []Archetype{
		{
			ID:   ArchetypeGentleGuide,
			Name: "The Gentle Guide",
			Variations: []string{
				"Your inner voice is soft. It meets you where you are.",
				"You respond best to warmth. Your voice will hold space for you.",
				"Kindness first. Your voice will remind you that you're allowed to rest.",
			},
		},
		{
			ID:   ArchetypeSteadyCoach,
			Name: "The Steady Coach",
			Variations: []string{
				"You like momentum. Your voice will keep you moving.",
				"One step, then the next. Your voice will keep score with you.",
				"You do your best with a plan. Your voice will help you make one.",
			},
		},
		{
			ID:   ArchetypeQuietSage,
			Name: "The Quiet Sage",
			Variations: []string{
				"You think in layers. Your voice will help you find the center.",
				"Stillness is where you get clear. Your voice will make room for it.",
				"You ask good questions. Your voice will ask them back.",
			},
		},
		{
			ID:   ArchetypeHonestFriend,
			Name: "The Honest Friend",
			Variations: []string{
				"You want it straight. Your voice won't sugarcoat it.",
				"No fluff. Your voice will tell you what you need to hear.",
				"You trust the truth. Your voice will keep you honest.",
			},
		},
	}
}
