// Package enroll runs the multi-step custom voice enrollment flow: pick a
// name, stream in audio clips, then accept or cancel. Each session owns a
// partial sample directory that must be purged on every exit path except a
// successful accept.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/mynahbot/mynah/pkg/assets"
	"github.com/mynahbot/mynah/pkg/logger"
	"github.com/mynahbot/mynah/pkg/store"
	"github.com/mynahbot/mynah/pkg/utils"
)

var (
	ErrNoSession       = errors.New("enroll: no active session")
	ErrSessionActive   = errors.New("enroll: a session is already active")
	ErrNameRequired    = errors.New("enroll: voice name is empty or invalid")
	ErrWrongState      = errors.New("enroll: action not valid in this state")
	ErrVoiceLimit      = errors.New("enroll: voice limit reached")
	ErrClipTooLong     = errors.New("enroll: clip would exceed the maximum total duration")
	ErrNotEnoughAudio  = errors.New("enroll: not enough audio recorded yet")
	ErrTranscodeFailed = errors.New("enroll: could not decode the audio clip")
)

type State int

const (
	StateAwaitingName State = iota
	StateAwaitingAudio
)

// transcoder is the slice of audio.Transcoder the session flow needs.
type transcoder interface {
	ToWAV(ctx context.Context, inputPath, outPath string) error
	Duration(ctx context.Context, path string) (float64, error)
}

// session is one user's in-flight enrollment.
type session struct {
	uid       int64
	state     State
	voiceName string
	dir       string
	clips     int
	totalSecs float64
	lastSeen  time.Time
}

// Config bounds the enrollment flow.
type Config struct {
	MinDurationSec float64       // minimum total audio to accept
	MaxDurationSec float64       // hard cap on total audio
	MaxVoices      int           // per-user enrolled voice cap
	IdleTimeout    time.Duration // sessions silent longer than this are swept
}

// Manager tracks at most one session per user. Sessions are independent
// across users; the mutex only guards the session map itself.
type Manager struct {
	store  *store.Store
	assets *assets.Store
	tc     transcoder
	cfg    Config

	mu       sync.Mutex
	sessions map[int64]*session
}

func NewManager(st *store.Store, as *assets.Store, tc transcoder, cfg Config) *Manager {
	if cfg.MinDurationSec <= 0 {
		cfg.MinDurationSec = 20
	}
	if cfg.MaxDurationSec <= 0 {
		cfg.MaxDurationSec = 120
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 15 * time.Minute
	}
	return &Manager{
		store:    st,
		assets:   as,
		tc:       tc,
		cfg:      cfg,
		sessions: make(map[int64]*session),
	}
}

// Begin opens a session for uid in the awaiting-name state.
func (m *Manager) Begin(ctx context.Context, uid int64) error {
	if m.cfg.MaxVoices > 0 {
		voices, err := m.store.ListVoices(ctx, uid)
		if err != nil {
			return err
		}
		if len(voices) >= m.cfg.MaxVoices {
			return ErrVoiceLimit
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[uid]; ok {
		return ErrSessionActive
	}
	m.sessions[uid] = &session{uid: uid, state: StateAwaitingName, lastSeen: time.Now()}
	logger.InfoCF("enroll", "Session started", map[string]any{"user": uid})
	return nil
}

// Active reports whether uid has a session, and its state.
func (m *Manager) Active(uid int64) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[uid]
	if !ok {
		return 0, false
	}
	return s.state, true
}

// SetName sanitizes and claims the proposed voice name, creating the
// sample directory and moving the session to awaiting-audio.
func (m *Manager) SetName(ctx context.Context, uid int64, raw string) (string, error) {
	s, err := m.get(uid, StateAwaitingName)
	if err != nil {
		return "", err
	}

	name := utils.SanitizeFilename(raw)
	if name == "" {
		return "", ErrNameRequired
	}

	voices, err := m.store.ListVoices(ctx, uid)
	if err != nil {
		return "", err
	}
	for _, v := range voices {
		if v.Name == name {
			return "", store.ErrDuplicateName
		}
	}

	dir, err := m.assets.EnsureVoiceDir(strconv.FormatInt(uid, 10), name)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	s.voiceName = name
	s.dir = dir
	s.state = StateAwaitingAudio
	s.lastSeen = time.Now()
	m.mu.Unlock()
	return name, nil
}

// AddSample converts a downloaded audio file to WAV inside the session
// directory and accumulates its duration. The input file is consumed.
// Returns the running total in seconds.
func (m *Manager) AddSample(ctx context.Context, uid int64, inputPath string) (float64, error) {
	s, err := m.get(uid, StateAwaitingAudio)
	if err != nil {
		return 0, err
	}

	wavPath := filepath.Join(s.dir, fmt.Sprintf("%d.wav", s.clips))
	if err := m.tc.ToWAV(ctx, inputPath, wavPath); err != nil {
		logger.WarnCF("enroll", "Clip transcode failed", map[string]any{
			"user": uid, "error": err.Error(),
		})
		return s.totalSecs, fmt.Errorf("%w: %v", ErrTranscodeFailed, err)
	}

	secs, err := m.tc.Duration(ctx, wavPath)
	if err != nil {
		m.assets.RemovePath(wavPath)
		return s.totalSecs, fmt.Errorf("%w: %v", ErrTranscodeFailed, err)
	}

	if s.totalSecs+secs > m.cfg.MaxDurationSec {
		m.assets.RemovePath(wavPath)
		return s.totalSecs, ErrClipTooLong
	}

	m.mu.Lock()
	s.clips++
	s.totalSecs += secs
	s.lastSeen = time.Now()
	total := s.totalSecs
	m.mu.Unlock()

	logger.DebugCF("enroll", "Clip accepted", map[string]any{
		"user": uid, "clip_secs": secs, "total_secs": total,
	})
	return total, nil
}

// Progress reports the accumulated duration and what is still missing.
func (m *Manager) Progress(uid int64) (totalSecs, minSecs float64, err error) {
	s, err := m.get(uid, StateAwaitingAudio)
	if err != nil {
		return 0, m.cfg.MinDurationSec, err
	}
	return s.totalSecs, m.cfg.MinDurationSec, nil
}

// Accept finishes enrollment: the accumulated audio must meet the minimum
// duration, then the voice row is inserted. On insert failure the sample
// directory is removed so no unregistered directory is left behind.
func (m *Manager) Accept(ctx context.Context, uid int64) (store.Voice, error) {
	s, err := m.get(uid, StateAwaitingAudio)
	if err != nil {
		return store.Voice{}, err
	}
	if s.totalSecs < m.cfg.MinDurationSec {
		return store.Voice{}, ErrNotEnoughAudio
	}

	id, err := m.store.InsertVoice(ctx, uid, s.voiceName, s.dir)
	if err != nil {
		m.discard(s)
		return store.Voice{}, err
	}

	m.mu.Lock()
	delete(m.sessions, uid)
	m.mu.Unlock()

	logger.InfoCF("enroll", "Voice enrolled", map[string]any{
		"user": uid, "voice": s.voiceName, "clips": s.clips, "total_secs": s.totalSecs,
	})
	return store.Voice{ID: id, UserID: uid, Name: s.voiceName, Path: s.dir}, nil
}

// Cancel aborts the session and purges any partial directory.
func (m *Manager) Cancel(uid int64) error {
	m.mu.Lock()
	s, ok := m.sessions[uid]
	m.mu.Unlock()
	if !ok {
		return ErrNoSession
	}
	m.discard(s)
	logger.InfoCF("enroll", "Session cancelled", map[string]any{"user": uid})
	return nil
}

// SweepIdle cancels sessions that have been silent past the idle timeout,
// returning how many were swept. Meant to be called on a ticker.
func (m *Manager) SweepIdle() int {
	cutoff := time.Now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var stale []*session
	for _, s := range m.sessions {
		if s.lastSeen.Before(cutoff) {
			stale = append(stale, s)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		m.discard(s)
		logger.WarnCF("enroll", "Swept idle session", map[string]any{
			"user": s.uid, "voice": s.voiceName,
		})
	}
	return len(stale)
}

func (m *Manager) get(uid int64, want State) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[uid]
	if !ok {
		return nil, ErrNoSession
	}
	if s.state != want {
		return nil, ErrWrongState
	}
	s.lastSeen = time.Now()
	return s, nil
}

func (m *Manager) discard(s *session) {
	m.mu.Lock()
	delete(m.sessions, s.uid)
	m.mu.Unlock()

	if s.dir != "" {
		if err := m.assets.RemovePath(s.dir); err != nil {
			logger.ErrorCF("enroll", "Failed to purge session directory", map[string]any{
				"user": s.uid, "dir": s.dir, "error": err.Error(),
			})
		}
	}
}
