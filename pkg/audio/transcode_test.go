package audio

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// failingTranscoder uses /bin/false so every codec invocation fails,
// which exercises the cleanup paths without needing ffmpeg installed.
func failingTranscoder() *Transcoder {
	return NewTranscoder("false", "false")
}

func TestSwapExt(t *testing.T) {
	tests := []struct {
		in, ext, want string
	}{
		{"/tmp/a.wav", ".ogg", "/tmp/a.ogg"},
		{"/tmp/noext", ".wav", "/tmp/noext.wav"},
		{"/tmp/a.b.wav", ".ogg", "/tmp/a.b.ogg"},
	}
	for _, tt := range tests {
		if got := swapExt(tt.in, tt.ext); got != tt.want {
			t.Errorf("swapExt(%q, %q) = %q, want %q", tt.in, tt.ext, got, tt.want)
		}
	}
}

func TestToVoiceNoteRemovesPartialOutput(t *testing.T) {
	dir := t.TempDir()
	wav := filepath.Join(dir, "in.wav")
	if err := os.WriteFile(wav, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Simulate a partial file left behind by a dying encoder.
	ogg := filepath.Join(dir, "in.ogg")
	if err := os.WriteFile(ogg, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := failingTranscoder().ToVoiceNote(context.Background(), wav)
	if err == nil {
		t.Fatal("expected conversion failure")
	}
	if _, err := os.Stat(ogg); !os.IsNotExist(err) {
		t.Error("partial output should be removed on failure")
	}
}

func TestToWAVAlwaysRemovesInput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "note.oga")
	if err := os.WriteFile(in, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := failingTranscoder().ToWAV(context.Background(), in, filepath.Join(dir, "out.wav"))
	if err == nil {
		t.Fatal("expected conversion failure")
	}
	if _, err := os.Stat(in); !os.IsNotExist(err) {
		t.Error("input must be removed even when conversion fails")
	}
}

func TestConcatWAVEmptyInput(t *testing.T) {
	err := NewTranscoder("", "").ConcatWAV(context.Background(), nil, "/tmp/out.wav")
	if err == nil {
		t.Error("empty input list should fail")
	}
}

func TestConcatWAVSingleInputRenames(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "only.wav")
	if err := os.WriteFile(in, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out.wav")

	// A single clip needs no codec invocation at all.
	if err := failingTranscoder().ConcatWAV(context.Background(), []string{in}, out); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "audio" {
		t.Errorf("unexpected output content: %q", data)
	}
	if _, err := os.Stat(in); !os.IsNotExist(err) {
		t.Error("input should have been moved")
	}
}
