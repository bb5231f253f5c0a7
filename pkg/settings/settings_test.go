package settings

import "testing"

func TestParseEmotion(t *testing.T) {
	tests := []struct {
		input   string
		want    Emotion
		wantErr bool
	}{
		{"Neutral", Neutral, false},
		{"sad", Sad, false},
		{"ANGRY", Angry, false},
		{"Happy", Happy, false},
		{"scared", Scared, false},
		{"furious", Neutral, true},
		{"", Neutral, true},
	}
	for _, tt := range tests {
		got, err := ParseEmotion(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEmotion(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseEmotion(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestPromptTag(t *testing.T) {
	if got := Neutral.PromptTag(); got != "" {
		t.Errorf("neutral tag should be empty, got %q", got)
	}
	if got := Happy.PromptTag(); got != "[I am really happy,] " {
		t.Errorf("unexpected happy tag: %q", got)
	}
	if got := Emotion(99).PromptTag(); got != "" {
		t.Errorf("out-of-range tag should be empty, got %q", got)
	}
}

func TestEmotionValid(t *testing.T) {
	for _, e := range Emotions() {
		if !e.Valid() {
			t.Errorf("%v should be valid", e)
		}
	}
	if Emotion(-1).Valid() || Emotion(5).Valid() {
		t.Error("out-of-range emotions should be invalid")
	}
}

func TestActiveVoiceName(t *testing.T) {
	s := UserSettings{DefaultVoice: "train_dotrice"}
	if got := s.ActiveVoiceName(); got != "train_dotrice" {
		t.Errorf("ActiveVoiceName = %q", got)
	}
	if s.UsesCustomVoice() {
		t.Error("no custom voice set")
	}

	s.CustomVoice = &VoiceRef{ID: 1, Name: "mine", Path: "/tmp/v"}
	if got := s.ActiveVoiceName(); got != "mine" {
		t.Errorf("ActiveVoiceName = %q", got)
	}
	if !s.UsesCustomVoice() {
		t.Error("custom voice should be active")
	}
}
