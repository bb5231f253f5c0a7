// Package synth talks to the text-to-speech inference engine and
// serializes all synthesis through a single-worker queue.
package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mynahbot/mynah/pkg/logger"
)

// Request is one synthesis call: one text clip rendered as Candidates
// independent takes. SamplePaths, when set, conditions the engine on a
// custom voice's samples instead of the builtin Voice.
type Request struct {
	Text        string
	Voice       string
	SamplePaths []string
	Candidates  int
}

// Engine is the inference backend. It holds heavy mutable state (model
// caches, device memory) and must only ever be called from the queue's
// single worker.
type Engine interface {
	// Synthesize returns Candidates raw WAV buffers for the request text.
	Synthesize(ctx context.Context, req Request) ([][]byte, error)
	// ClearCache drops transient engine memory between jobs.
	ClearCache(ctx context.Context) error
	IsAvailable() bool
}

// HTTPEngine is an Engine backed by an inference server sharing the host
// filesystem, so voice samples are referenced by path.
type HTTPEngine struct {
	apiBase    string
	httpClient *http.Client
}

type synthesizeRequest struct {
	Text        string   `json:"text"`
	Voice       string   `json:"voice,omitempty"`
	SamplePaths []string `json:"sample_paths,omitempty"`
	Candidates  int      `json:"candidates"`
}

type synthesizeResponse struct {
	Candidates []string `json:"candidates"` // base64 WAV
	Error      string   `json:"error,omitempty"`
}

func NewHTTPEngine(apiBase string, timeout time.Duration) *HTTPEngine {
	if apiBase == "" {
		apiBase = "http://localhost:8102"
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	logger.InfoCF("synth", "Creating TTS engine client", map[string]any{
		"api_base": apiBase,
		"timeout":  timeout.String(),
	})

	return &HTTPEngine{
		apiBase:    apiBase,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (e *HTTPEngine) Synthesize(ctx context.Context, req Request) ([][]byte, error) {
	if req.Candidates < 1 {
		req.Candidates = 1
	}

	body, err := json.Marshal(synthesizeRequest{
		Text:        req.Text,
		Voice:       req.Voice,
		SamplePaths: req.SamplePaths,
		Candidates:  req.Candidates,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.apiBase+"/api/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("engine error (status %d): %s", resp.StatusCode, string(msg))
	}

	var sr synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode synthesis response: %w", err)
	}
	if sr.Error != "" {
		return nil, fmt.Errorf("engine error: %s", sr.Error)
	}
	if len(sr.Candidates) != req.Candidates {
		return nil, fmt.Errorf("engine returned %d candidates, want %d", len(sr.Candidates), req.Candidates)
	}

	buffers := make([][]byte, len(sr.Candidates))
	for i, enc := range sr.Candidates {
		buf, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("decode candidate %d: %w", i, err)
		}
		buffers[i] = buf
	}
	return buffers, nil
}

func (e *HTTPEngine) ClearCache(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "POST", e.apiBase+"/api/cache/clear", nil)
	if err != nil {
		return fmt.Errorf("create cache clear request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cache clear failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cache clear failed (status %d)", resp.StatusCode)
	}
	return nil
}

// IsAvailable checks whether the engine server is reachable.
func (e *HTTPEngine) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", e.apiBase+"/api/health", nil)
	if err != nil {
		return false
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		logger.DebugCF("synth", "Engine health check failed", map[string]any{"error": err.Error()})
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
