// Package settings defines the per-user synthesis preferences and the
// emotion vocabulary shared by the store, the synthesis queue and the
// chat front ends.
package settings

import (
	"fmt"
	"strings"
)

// Emotion selects the affect prefix prepended to synthesized text.
type Emotion int

const (
	Neutral Emotion = iota
	Sad
	Angry
	Happy
	Scared
)

// SamplesMax caps the number of candidate takes a user may request per job.
const SamplesMax = 5

var emotionNames = [...]string{"Neutral", "Sad", "Angry", "Happy", "Scared"}

func (e Emotion) String() string {
	if e < Neutral || int(e) >= len(emotionNames) {
		return fmt.Sprintf("Emotion(%d)", int(e))
	}
	return emotionNames[e]
}

// Valid reports whether e is one of the defined emotions.
func (e Emotion) Valid() bool {
	return e >= Neutral && int(e) < len(emotionNames)
}

// PromptTag returns the conditioning prefix for e, or "" for Neutral.
// The prefix steers the engine without being spoken verbatim.
func (e Emotion) PromptTag() string {
	if e == Neutral || !e.Valid() {
		return ""
	}
	return fmt.Sprintf("[I am really %s,] ", strings.ToLower(emotionNames[e]))
}

// ParseEmotion resolves a case-insensitive emotion name.
func ParseEmotion(name string) (Emotion, error) {
	for i, n := range emotionNames {
		if strings.EqualFold(n, name) {
			return Emotion(i), nil
		}
	}
	return Neutral, fmt.Errorf("unknown emotion: %q", name)
}

// Emotions lists all defined emotions in declaration order, for menus.
func Emotions() []Emotion {
	out := make([]Emotion, len(emotionNames))
	for i := range emotionNames {
		out[i] = Emotion(i)
	}
	return out
}

// UserSettings is the resolved per-user state a synthesis job runs with.
// Voice naming follows the active-voice rule: CustomVoice set means the
// user's own enrolled voice is active, otherwise DefaultVoice (a builtin)
// applies.
type UserSettings struct {
	UserID      string
	Emotion     Emotion
	SampleCount int

	// DefaultVoice is the builtin voice name, meaningful when no custom
	// voice is active.
	DefaultVoice string

	// CustomVoice is the active enrolled voice, nil when a builtin is in use.
	CustomVoice *VoiceRef
}

// VoiceRef identifies one enrolled voice and its sample directory.
type VoiceRef struct {
	ID   int64
	Name string
	Path string
}

// ActiveVoiceName is the label shown to the user for the voice in effect.
func (s UserSettings) ActiveVoiceName() string {
	if s.CustomVoice != nil {
		return s.CustomVoice.Name
	}
	return s.DefaultVoice
}

// UsesCustomVoice reports whether synthesis should condition on the user's
// own samples rather than a builtin voice.
func (s UserSettings) UsesCustomVoice() bool {
	return s.CustomVoice != nil
}
