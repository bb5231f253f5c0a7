// Package store is the sole owner of the persistent users/voices relation.
// Every read and write of user settings and voice metadata goes through it;
// the reconciler in this package repairs drift between these rows and the
// on-disk sample tree.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/mynahbot/mynah/pkg/settings"
)

var (
	ErrDuplicateName     = errors.New("store: voice name already exists for this user")
	ErrVoiceNotFound     = errors.New("store: voice not found")
	ErrUserNotFound      = errors.New("store: user not found")
	ErrSampleCountRange  = errors.New("store: sample count out of range")
	ErrInvalidEmotion    = errors.New("store: invalid emotion")
	ErrEmptyVoiceName    = errors.New("store: voice name is empty")
	ErrVoiceLimitReached = errors.New("store: voice limit reached")
)

// Voice is one enrolled custom voice row.
type Voice struct {
	ID     int64
	UserID int64
	Name   string
	Path   string
}

// Store wraps the sqlite settings database.
type Store struct {
	db           *sql.DB
	defaultVoice string
}

// Open opens (creating if needed) the settings database at path.
// defaultVoice is the builtin voice new and reset users fall back to.
func Open(path, defaultVoice string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	s := &Store{db: db, defaultVoice: defaultVoice}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			uid INTEGER PRIMARY KEY,
			emotion INTEGER NOT NULL DEFAULT 0,
			sample_count INTEGER NOT NULL DEFAULT 1,
			voice_id INTEGER REFERENCES voices(id) ON DELETE SET NULL,
			default_voice TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS voices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(uid) ON DELETE CASCADE,
			name TEXT NOT NULL,
			path TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_voices_user_name ON voices(user_id, name)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureUser inserts a default-settings row for uid if none exists.
func (s *Store) EnsureUser(ctx context.Context, uid int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (uid, default_voice) VALUES (?, ?) ON CONFLICT(uid) DO NOTHING`,
		uid, s.defaultVoice)
	if err != nil {
		return fmt.Errorf("store: ensure user %d: %w", uid, err)
	}
	return nil
}

// Settings resolves the full per-user state with one joined read, so the
// active-voice answer cannot race a concurrent voice removal.
func (s *Store) Settings(ctx context.Context, uid int64) (settings.UserSettings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT u.emotion, u.sample_count, u.default_voice, v.id, v.name, v.path
		 FROM users u LEFT JOIN voices v ON u.voice_id = v.id
		 WHERE u.uid = ?`, uid)

	var (
		us        settings.UserSettings
		emotion   int
		voiceID   sql.NullInt64
		voiceName sql.NullString
		voicePath sql.NullString
	)
	err := row.Scan(&emotion, &us.SampleCount, &us.DefaultVoice, &voiceID, &voiceName, &voicePath)
	if errors.Is(err, sql.ErrNoRows) {
		return us, ErrUserNotFound
	}
	if err != nil {
		return us, fmt.Errorf("store: read settings for %d: %w", uid, err)
	}

	us.UserID = fmt.Sprintf("%d", uid)
	us.Emotion = settings.Emotion(emotion)
	if voiceID.Valid {
		us.CustomVoice = &settings.VoiceRef{
			ID:   voiceID.Int64,
			Name: voiceName.String,
			Path: voicePath.String,
		}
	}
	return us, nil
}

// ActiveVoice returns the name of the voice currently in effect for uid.
func (s *Store) ActiveVoice(ctx context.Context, uid int64) (string, error) {
	us, err := s.Settings(ctx, uid)
	if err != nil {
		return "", err
	}
	return us.ActiveVoiceName(), nil
}

// SetDefaultVoice activates a builtin voice and clears any custom selection.
func (s *Store) SetDefaultVoice(ctx context.Context, uid int64, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET default_voice = ?, voice_id = NULL WHERE uid = ?`, name, uid)
	if err != nil {
		return fmt.Errorf("store: set default voice for %d: %w", uid, err)
	}
	return checkUserUpdated(res, uid)
}

// SetCustomVoice activates one of the user's own enrolled voices.
func (s *Store) SetCustomVoice(ctx context.Context, uid, voiceID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET voice_id = ?
		 WHERE uid = ? AND EXISTS (SELECT 1 FROM voices WHERE id = ? AND user_id = ?)`,
		voiceID, uid, voiceID, uid)
	if err != nil {
		return fmt.Errorf("store: set custom voice for %d: %w", uid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set custom voice for %d: %w", uid, err)
	}
	if n == 0 {
		return ErrVoiceNotFound
	}
	return nil
}

func (s *Store) SetEmotion(ctx context.Context, uid int64, e settings.Emotion) error {
	if !e.Valid() {
		return ErrInvalidEmotion
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET emotion = ? WHERE uid = ?`, int(e), uid)
	if err != nil {
		return fmt.Errorf("store: set emotion for %d: %w", uid, err)
	}
	return checkUserUpdated(res, uid)
}

func (s *Store) SetSampleCount(ctx context.Context, uid int64, n int) error {
	if n < 1 || n > settings.SamplesMax {
		return ErrSampleCountRange
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET sample_count = ? WHERE uid = ?`, n, uid)
	if err != nil {
		return fmt.Errorf("store: set sample count for %d: %w", uid, err)
	}
	return checkUserUpdated(res, uid)
}

// ListVoices returns uid's voices in insertion order.
func (s *Store) ListVoices(ctx context.Context, uid int64) ([]Voice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, path FROM voices WHERE user_id = ? ORDER BY id`, uid)
	if err != nil {
		return nil, fmt.Errorf("store: list voices for %d: %w", uid, err)
	}
	defer rows.Close()

	var list []Voice
	for rows.Next() {
		var v Voice
		if err := rows.Scan(&v.ID, &v.UserID, &v.Name, &v.Path); err != nil {
			return nil, fmt.Errorf("store: scan voice: %w", err)
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

// Users returns every known uid, for the reconciler.
func (s *Store) Users(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uid FROM users ORDER BY uid`)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	defer rows.Close()

	var uids []int64
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("store: scan uid: %w", err)
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// InsertVoice registers a new voice. The name must be unique per user; the
// unique index backs the pre-check so a lost race still cannot produce
// duplicate rows.
func (s *Store) InsertVoice(ctx context.Context, uid int64, name, path string) (int64, error) {
	if name == "" {
		return 0, ErrEmptyVoiceName
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: insert voice: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM voices WHERE user_id = ? AND name = ?`, uid, name).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("store: insert voice: %w", err)
	}
	if exists > 0 {
		return 0, ErrDuplicateName
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO voices (user_id, name, path) VALUES (?, ?, ?)`, uid, name, path)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateName
		}
		return 0, fmt.Errorf("store: insert voice: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert voice: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: insert voice: %w", err)
	}
	return id, nil
}

// RemoveVoice deletes the voice row and returns its sample directory path,
// so the caller can delete the directory afterwards. If the voice was the
// user's active selection, the user is reset to the builtin default in the
// same transaction.
func (s *Store) RemoveVoice(ctx context.Context, uid, voiceID int64) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: remove voice: %w", err)
	}
	defer tx.Rollback()

	var path string
	err = tx.QueryRowContext(ctx,
		`SELECT path FROM voices WHERE id = ? AND user_id = ?`, voiceID, uid).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrVoiceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: remove voice: %w", err)
	}

	var active sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT voice_id FROM users WHERE uid = ?`, uid).Scan(&active)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("store: remove voice: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM voices WHERE id = ?`, voiceID); err != nil {
		return "", fmt.Errorf("store: remove voice: %w", err)
	}

	if active.Valid && active.Int64 == voiceID {
		_, err := tx.ExecContext(ctx,
			`UPDATE users SET default_voice = ?, voice_id = NULL WHERE uid = ?`,
			s.defaultVoice, uid)
		if err != nil {
			return "", fmt.Errorf("store: remove voice: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: remove voice: %w", err)
	}
	return path, nil
}

func checkUserUpdated(res sql.Result, uid int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update user %d: %w", uid, err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
