package onboarding

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Answer is what a user gave for one step. Archetype is set when the answer
// matched an option tagged with one.
type Answer struct {
	Text      string      `json:"text"`
	Archetype ArchetypeID `json:"archetype,omitempty"`
}

// Answers maps step keys to answers and remembers first-insertion order.
// The zero value is ready to use.
type Answers struct {
	order []string
	byKey map[string]Answer
}

// Set stores or overwrites the answer for key. Overwriting keeps the original position.
func (a *Answers) Set(key string, ans Answer) {
	if a.byKey == nil {
		a.byKey = make(map[string]Answer)
	}
	if _, ok := a.byKey[key]; !ok {
		a.order = append(a.order, key)
	}
	a.byKey[key] = ans
}

func (a Answers) Get(key string) (Answer, bool) {
	ans, ok := a.byKey[key]
	return ans, ok
}

func (a Answers) Has(key string) bool {
	_, ok := a.byKey[key]
	return ok
}

func (a Answers) Keys() []string {
	return append([]string(nil), a.order...)
}

func (a Answers) Len() int { return len(a.order) }

// Clone returns an independent copy.
func (a Answers) Clone() Answers {
	out := Answers{order: append([]string(nil), a.order...)}
	if a.byKey != nil {
		out.byKey = make(map[string]Answer, len(a.byKey))
		for k, v := range a.byKey {
			out.byKey[k] = v
		}
	}
	return out
}

// MarshalJSON writes the answers as an object in insertion order.
func (a Answers) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range a.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(a.byKey[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, keeping the key order it was written in.
func (a *Answers) UnmarshalJSON(data []byte) error {
	*a = Answers{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("answers: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var ans Answer
		if err := dec.Decode(&ans); err != nil {
			return err
		}
		a.Set(key, ans)
	}
	_, err = dec.Token()
	return err
}
