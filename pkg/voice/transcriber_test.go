package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestWhisperTranscriber_ImplementsInterface(t *testing.T) {
	var _ Transcriber = (*WhisperTranscriber)(nil)
}

func TestWhisperTranscriber_Transcribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			t.Errorf("expected path /transcribe, got %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file field: %v", err)
		}
		resp := TranscriptionResponse{Text: "make it say hello", Language: "en", Duration: 2.1}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	tr := NewWhisperTranscriber(server.URL)

	audioFile := filepath.Join(t.TempDir(), "note.ogg")
	if err := os.WriteFile(audioFile, []byte("fake audio data"), 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}

	result, err := tr.Transcribe(context.Background(), audioFile)
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	if result.Text != "make it say hello" {
		t.Errorf("unexpected text: %q", result.Text)
	}
	if result.Language != "en" {
		t.Errorf("unexpected language: %q", result.Language)
	}
}

func TestWhisperTranscriber_TranscribeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "model not loaded"}`))
	}))
	defer server.Close()

	tr := NewWhisperTranscriber(server.URL)

	audioFile := filepath.Join(t.TempDir(), "note.ogg")
	os.WriteFile(audioFile, []byte("fake audio data"), 0644)

	_, err := tr.Transcribe(context.Background(), audioFile)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestWhisperTranscriber_MissingFile(t *testing.T) {
	tr := NewWhisperTranscriber("http://localhost:1")
	if _, err := tr.Transcribe(context.Background(), "/nope/missing.ogg"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
