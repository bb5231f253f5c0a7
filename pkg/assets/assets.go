// Package assets manages the on-disk voice sample tree. Layout is
// <root>/<user_id>/<voice_name>/<sample files>; the settings database
// holds the matching rows and the reconciler keeps the two in sync.
package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Store owns the voice-asset root directory.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the asset root directory.
func (s *Store) Root() string {
	return s.root
}

// EnsureRoot creates the asset root if it does not exist yet.
func (s *Store) EnsureRoot() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("assets: create root: %w", err)
	}
	return nil
}

// UserDir returns the directory holding one user's voices.
func (s *Store) UserDir(userID string) string {
	return filepath.Join(s.root, userID)
}

// VoiceDir returns the directory holding one voice's samples.
func (s *Store) VoiceDir(userID, voiceName string) string {
	return filepath.Join(s.root, userID, voiceName)
}

// EnsureVoiceDir creates the directory for a voice, parents included.
func (s *Store) EnsureVoiceDir(userID, voiceName string) (string, error) {
	dir := s.VoiceDir(userID, voiceName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("assets: create voice dir %s/%s: %w", userID, voiceName, err)
	}
	return dir, nil
}

// ListUserDirs returns the names of all top-level entries under the root
// that are directories, sorted. Each is expected to be a user id.
func (s *Store) ListUserDirs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("assets: read root: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ListVoiceDirs returns the voice directory names under one user, sorted.
// A missing user directory yields an empty list, not an error.
func (s *Store) ListVoiceDirs(userID string) ([]string, error) {
	entries, err := os.ReadDir(s.UserDir(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("assets: read user dir %s: %w", userID, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ListSamples returns the full paths of regular files in a voice
// directory, sorted by name.
func (s *Store) ListSamples(userID, voiceName string) ([]string, error) {
	dir := s.VoiceDir(userID, voiceName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("assets: read voice dir %s/%s: %w", userID, voiceName, err)
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// RemoveVoiceDir deletes a voice directory and its samples. Missing
// directories are not an error: the row side may already be gone.
func (s *Store) RemoveVoiceDir(userID, voiceName string) error {
	if err := os.RemoveAll(s.VoiceDir(userID, voiceName)); err != nil {
		return fmt.Errorf("assets: remove voice dir %s/%s: %w", userID, voiceName, err)
	}
	return nil
}

// RemoveUserDir deletes one user's entire voice tree.
func (s *Store) RemoveUserDir(userID string) error {
	if err := os.RemoveAll(s.UserDir(userID)); err != nil {
		return fmt.Errorf("assets: remove user dir %s: %w", userID, err)
	}
	return nil
}

// RemovePath deletes an arbitrary entry under the root. The path must be
// confined to the root; anything else is rejected.
func (s *Store) RemovePath(path string) error {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		return fmt.Errorf("assets: path %s escapes root %s", path, s.root)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("assets: remove %s: %w", path, err)
	}
	return nil
}
