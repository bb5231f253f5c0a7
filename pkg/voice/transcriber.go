// Package voice transcribes user voice notes so spoken requests can drive
// text-to-speech generation like typed ones.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mynahbot/mynah/pkg/logger"
	"github.com/mynahbot/mynah/pkg/utils"
)

// TranscriptionResponse is the transcriber server's reply.
type TranscriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Transcriber converts an audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioFilePath string) (*TranscriptionResponse, error)
	IsAvailable() bool
}

// WhisperTranscriber talks to a local whisper server over HTTP.
type WhisperTranscriber struct {
	apiBase    string
	httpClient *http.Client
}

func NewWhisperTranscriber(apiBase string) *WhisperTranscriber {
	if apiBase == "" {
		apiBase = "http://localhost:8200"
	}

	logger.InfoCF("voice", "Creating Whisper transcriber", map[string]any{
		"api_base": apiBase,
	})

	return &WhisperTranscriber{
		apiBase:    apiBase,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (t *WhisperTranscriber) Transcribe(ctx context.Context, audioFilePath string) (*TranscriptionResponse, error) {
	audioFile, err := os.Open(audioFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer audioFile.Close()

	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	part, err := writer.CreateFormFile("file", filepath.Base(audioFilePath))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, audioFile); err != nil {
		return nil, fmt.Errorf("failed to copy file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.apiBase+"/transcribe", &requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result TranscriptionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	logger.InfoCF("voice", "Transcription completed", map[string]any{
		"text_length": len(result.Text),
		"language":    result.Language,
		"preview":     utils.Truncate(result.Text, 50),
	})
	return &result, nil
}

func (t *WhisperTranscriber) IsAvailable() bool {
	resp, err := t.httpClient.Get(t.apiBase + "/health")
	if err != nil {
		logger.DebugCF("voice", "Whisper health check failed", map[string]any{
			"error": err.Error(),
		})
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
