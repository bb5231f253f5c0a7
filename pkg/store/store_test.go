package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mynahbot/mynah/pkg/settings"
)

const testDefaultVoice = "train_dotrice"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), testDefaultVoice)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnsureUserIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnsureUser(ctx, 42); err != nil {
		t.Fatal(err)
	}
	if err := s.SetEmotion(ctx, 42, settings.Happy); err != nil {
		t.Fatal(err)
	}
	// Second ensure must not reset existing settings.
	if err := s.EnsureUser(ctx, 42); err != nil {
		t.Fatal(err)
	}

	us, err := s.Settings(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if us.Emotion != settings.Happy {
		t.Errorf("emotion reset by second EnsureUser: %v", us.Emotion)
	}
	if us.SampleCount != 1 {
		t.Errorf("unexpected default sample count: %d", us.SampleCount)
	}
	if us.DefaultVoice != testDefaultVoice {
		t.Errorf("unexpected default voice: %s", us.DefaultVoice)
	}
}

func TestSettingsUnknownUser(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Settings(context.Background(), 999); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestActiveVoiceSwitching(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnsureUser(ctx, 1); err != nil {
		t.Fatal(err)
	}
	id, err := s.InsertVoice(ctx, 1, "mine", "/data/1/mine")
	if err != nil {
		t.Fatal(err)
	}

	name, err := s.ActiveVoice(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if name != testDefaultVoice {
		t.Errorf("fresh user should use default voice, got %q", name)
	}

	if err := s.SetCustomVoice(ctx, 1, id); err != nil {
		t.Fatal(err)
	}
	if name, _ = s.ActiveVoice(ctx, 1); name != "mine" {
		t.Errorf("custom voice not active, got %q", name)
	}

	if err := s.SetDefaultVoice(ctx, 1, "angie"); err != nil {
		t.Fatal(err)
	}
	us, err := s.Settings(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if us.CustomVoice != nil {
		t.Error("SetDefaultVoice must clear the custom selection")
	}
	if us.ActiveVoiceName() != "angie" {
		t.Errorf("active voice = %q, want angie", us.ActiveVoiceName())
	}
}

func TestSetCustomVoiceOwnership(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, uid := range []int64{1, 2} {
		if err := s.EnsureUser(ctx, uid); err != nil {
			t.Fatal(err)
		}
	}
	id, err := s.InsertVoice(ctx, 1, "mine", "/data/1/mine")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SetCustomVoice(ctx, 2, id); !errors.Is(err, ErrVoiceNotFound) {
		t.Errorf("activating another user's voice should fail, got %v", err)
	}
}

func TestSampleCountBounds(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.EnsureUser(ctx, 1); err != nil {
		t.Fatal(err)
	}

	for _, n := range []int{0, -1, settings.SamplesMax + 1} {
		if err := s.SetSampleCount(ctx, 1, n); !errors.Is(err, ErrSampleCountRange) {
			t.Errorf("SetSampleCount(%d) = %v, want ErrSampleCountRange", n, err)
		}
	}
	if err := s.SetSampleCount(ctx, 1, settings.SamplesMax); err != nil {
		t.Errorf("max should be accepted: %v", err)
	}
}

func TestInsertVoiceDuplicateName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.EnsureUser(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureUser(ctx, 2); err != nil {
		t.Fatal(err)
	}

	if _, err := s.InsertVoice(ctx, 1, "same", "/data/1/same"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertVoice(ctx, 1, "same", "/data/1/same"); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}
	// Same name under a different user is fine.
	if _, err := s.InsertVoice(ctx, 2, "same", "/data/2/same"); err != nil {
		t.Errorf("per-user uniqueness only: %v", err)
	}
}

func TestListVoicesInsertionOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.EnsureUser(ctx, 1); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"zulu", "alpha", "mike"} {
		if _, err := s.InsertVoice(ctx, 1, name, "/data/1/"+name); err != nil {
			t.Fatal(err)
		}
	}

	voices, err := s.ListVoices(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]string, len(voices))
	for i, v := range voices {
		got[i] = v.Name
	}
	want := []string{"zulu", "alpha", "mike"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("voices not in insertion order: %v", got)
		}
	}
}

func TestRemoveActiveVoiceResetsSelection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.EnsureUser(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDefaultVoice(ctx, 1, "angie"); err != nil {
		t.Fatal(err)
	}

	id, err := s.InsertVoice(ctx, 1, "mine", "/data/1/mine")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetCustomVoice(ctx, 1, id); err != nil {
		t.Fatal(err)
	}

	path, err := s.RemoveVoice(ctx, 1, id)
	if err != nil {
		t.Fatal(err)
	}
	if path != "/data/1/mine" {
		t.Errorf("returned path = %q", path)
	}

	name, err := s.ActiveVoice(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if name != testDefaultVoice {
		t.Errorf("removing the active voice must reset to %q, got %q", testDefaultVoice, name)
	}
}

func TestRemoveInactiveVoiceKeepsSelection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.EnsureUser(ctx, 1); err != nil {
		t.Fatal(err)
	}

	keep, err := s.InsertVoice(ctx, 1, "keep", "/data/1/keep")
	if err != nil {
		t.Fatal(err)
	}
	drop, err := s.InsertVoice(ctx, 1, "drop", "/data/1/drop")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetCustomVoice(ctx, 1, keep); err != nil {
		t.Fatal(err)
	}

	if _, err := s.RemoveVoice(ctx, 1, drop); err != nil {
		t.Fatal(err)
	}
	name, err := s.ActiveVoice(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if name != "keep" {
		t.Errorf("removing an inactive voice must not change the selection, got %q", name)
	}
}

func TestRemoveVoiceNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.EnsureUser(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RemoveVoice(ctx, 1, 12345); !errors.Is(err, ErrVoiceNotFound) {
		t.Errorf("expected ErrVoiceNotFound, got %v", err)
	}
}
