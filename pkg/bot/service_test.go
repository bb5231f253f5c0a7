package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mynahbot/mynah/pkg/assets"
	"github.com/mynahbot/mynah/pkg/bus"
	"github.com/mynahbot/mynah/pkg/enroll"
	"github.com/mynahbot/mynah/pkg/store"
	"github.com/mynahbot/mynah/pkg/synth"
	"github.com/mynahbot/mynah/pkg/voice"
)

type stubEngine struct{}

func (stubEngine) Synthesize(_ context.Context, req synth.Request) ([][]byte, error) {
	bufs := make([][]byte, req.Candidates)
	for i := range bufs {
		bufs[i] = []byte("wav")
	}
	return bufs, nil
}
func (stubEngine) ClearCache(context.Context) error { return nil }
func (stubEngine) IsAvailable() bool                { return true }

type stubConcat struct{}

func (stubConcat) ConcatWAV(_ context.Context, inputs []string, outPath string) error {
	data, err := os.ReadFile(inputs[0])
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}

type stubEncoder struct{ fail bool }

func (e stubEncoder) ToVoiceNote(_ context.Context, wavPath string) (string, error) {
	if e.fail {
		return "", fmt.Errorf("no encoder")
	}
	ogg := strings.TrimSuffix(wavPath, ".wav") + ".ogg"
	if err := os.WriteFile(ogg, []byte("ogg"), 0o644); err != nil {
		return "", err
	}
	return ogg, nil
}

type stubClipper struct{}

func (stubClipper) ToWAV(_ context.Context, inputPath, outPath string) error {
	defer os.Remove(inputPath)
	return os.WriteFile(outPath, []byte("wav"), 0o644)
}
func (stubClipper) Duration(context.Context, string) (float64, error) { return 30, nil }

type stubTranscriber struct{ text string }

func (s stubTranscriber) Transcribe(context.Context, string) (*voice.TranscriptionResponse, error) {
	return &voice.TranscriptionResponse{Text: s.text}, nil
}
func (stubTranscriber) IsAvailable() bool { return true }

type fixture struct {
	svc   *Service
	bus   *bus.MessageBus
	queue *synth.Queue
	store *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), "train_dotrice")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	as := assets.NewStore(t.TempDir())
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	q := synth.NewQueue(stubEngine{}, stubConcat{}, t.TempDir(), synth.Options{ClipLimit: 300})
	en := enroll.NewManager(st, as, stubClipper{}, enroll.Config{
		MinDurationSec: 20, MaxDurationSec: 120,
	})

	svc := NewService(st, as, q, en, stubEncoder{}, stubTranscriber{text: "spoken words"}, nil, mb, Config{
		BuiltinVoices: []string{"train_dotrice", "angie"},
	})
	return &fixture{svc: svc, bus: mb, queue: q, store: st}
}

func (f *fixture) send(t *testing.T, content string, media ...string) string {
	t.Helper()
	f.svc.handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "1", ChatID: "100",
		Content: content, Media: media,
	})
	return f.recv(t)
}

func (f *fixture) recv(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, ok := f.bus.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("no outbound reply")
	}
	return out.Content
}

func TestHelpCommand(t *testing.T) {
	f := newFixture(t)
	reply := f.send(t, "/help")
	if !strings.Contains(reply, "/gen") || !strings.Contains(reply, "/add_voice") {
		t.Errorf("help text incomplete: %q", reply)
	}
}

func TestEmotionCommand(t *testing.T) {
	f := newFixture(t)

	if reply := f.send(t, "/emotion"); !strings.Contains(reply, "Neutral") {
		t.Errorf("emotion list missing: %q", reply)
	}
	if reply := f.send(t, "/emotion happy"); !strings.Contains(reply, "Happy") {
		t.Errorf("unexpected reply: %q", reply)
	}
	if reply := f.send(t, "/emotion furious"); !strings.Contains(reply, "Unknown emotion") {
		t.Errorf("unexpected reply: %q", reply)
	}

	us, err := f.store.Settings(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if us.Emotion.String() != "Happy" {
		t.Errorf("emotion not persisted: %v", us.Emotion)
	}
}

func TestSampleCountCommand(t *testing.T) {
	f := newFixture(t)

	if reply := f.send(t, "/samples 3"); !strings.Contains(reply, "3 take") {
		t.Errorf("unexpected reply: %q", reply)
	}
	if reply := f.send(t, "/samples 99"); !strings.Contains(reply, "between 1 and") {
		t.Errorf("range violation not reported: %q", reply)
	}
	if reply := f.send(t, "/samples lots"); !strings.Contains(reply, "Usage") {
		t.Errorf("non-numeric arg not reported: %q", reply)
	}
}

func TestVoiceCommand(t *testing.T) {
	f := newFixture(t)

	if reply := f.send(t, "/voice angie"); !strings.Contains(reply, "angie") {
		t.Errorf("unexpected reply: %q", reply)
	}
	if reply := f.send(t, "/voice nobody"); !strings.Contains(reply, "Unknown voice") {
		t.Errorf("unexpected reply: %q", reply)
	}

	name, err := f.store.ActiveVoice(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if name != "angie" {
		t.Errorf("active voice = %q", name)
	}
}

func TestGenerateQueuesJob(t *testing.T) {
	f := newFixture(t)

	reply := f.send(t, "/gen hello there")
	if !strings.Contains(reply, "Queued") {
		t.Errorf("unexpected reply: %q", reply)
	}
	if !f.queue.Pending(1) {
		t.Error("job should be waiting in the queue")
	}
}

func TestBareTextGenerates(t *testing.T) {
	f := newFixture(t)

	reply := f.send(t, "just speak this")
	if !strings.Contains(reply, "Queued") {
		t.Errorf("bare text should generate: %q", reply)
	}
}

func TestRetryWithoutHistory(t *testing.T) {
	f := newFixture(t)
	if reply := f.send(t, "/retry"); !strings.Contains(reply, "Nothing to retry") {
		t.Errorf("unexpected reply: %q", reply)
	}
}

func TestRetryResubmitsLastText(t *testing.T) {
	f := newFixture(t)

	f.send(t, "/gen say it again")
	reply := f.send(t, "/retry")
	if !strings.Contains(reply, "Queued") {
		t.Errorf("retry should queue: %q", reply)
	}
	// Still exactly one pending slot for the user.
	if !f.queue.Pending(1) {
		t.Error("job should be waiting in the queue")
	}
}

func TestVoiceNoteGeneration(t *testing.T) {
	f := newFixture(t)

	note := filepath.Join(t.TempDir(), "note.oga")
	if err := os.WriteFile(note, []byte("opus"), 0o644); err != nil {
		t.Fatal(err)
	}

	reply := f.send(t, "", note)
	if !strings.Contains(reply, "Queued") {
		t.Errorf("voice note should generate: %q", reply)
	}
}

func TestEnrollmentConversation(t *testing.T) {
	f := newFixture(t)
	tmp := t.TempDir()

	if reply := f.send(t, "/add_voice"); !strings.Contains(reply, "name") {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if reply := f.send(t, "My New Voice"); !strings.Contains(reply, "My New Voice") {
		t.Fatalf("unexpected reply: %q", reply)
	}

	clip := filepath.Join(tmp, "clip.oga")
	if err := os.WriteFile(clip, []byte("opus"), 0o644); err != nil {
		t.Fatal(err)
	}
	if reply := f.send(t, "", clip); !strings.Contains(reply, "30s") {
		t.Fatalf("unexpected reply: %q", reply)
	}

	if reply := f.send(t, "/accept"); !strings.Contains(reply, "saved and selected") {
		t.Fatalf("unexpected reply: %q", reply)
	}

	name, err := f.store.ActiveVoice(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if name != "My New Voice" {
		t.Errorf("new voice should be active, got %q", name)
	}
}

func TestEnrollmentCancelConversation(t *testing.T) {
	f := newFixture(t)

	f.send(t, "/add_voice")
	f.send(t, "doomed")
	if reply := f.send(t, "/cancel"); !strings.Contains(reply, "cancelled") {
		t.Errorf("unexpected reply: %q", reply)
	}

	voices, err := f.store.ListVoices(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(voices) != 0 {
		t.Errorf("cancelled enrollment left rows: %v", voices)
	}
}

func TestOnResultSuccess(t *testing.T) {
	f := newFixture(t)

	wav := filepath.Join(t.TempDir(), "out_0.wav")
	if err := os.WriteFile(wav, []byte("wav"), 0o644); err != nil {
		t.Fatal(err)
	}

	f.svc.OnResult(synth.Result{
		Job:     &synth.Job{ID: "j1", Channel: "telegram", ChatID: "100"},
		Outputs: []string{wav},
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, ok := f.bus.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("no outbound message")
	}
	if len(out.Attachments) != 1 || out.Attachments[0].Type != "voice" {
		t.Errorf("expected one voice attachment: %+v", out.Attachments)
	}
	if _, err := os.Stat(wav); !os.IsNotExist(err) {
		t.Error("wav should be removed after encoding")
	}
}

func TestOnResultFailure(t *testing.T) {
	f := newFixture(t)

	f.svc.OnResult(synth.Result{
		Job: &synth.Job{ID: "j1", Channel: "telegram", ChatID: "100"},
		Err: fmt.Errorf("engine down"),
	})

	if reply := f.recv(t); !strings.Contains(reply, "/retry") {
		t.Errorf("failure reply should suggest retry: %q", reply)
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in, cmd, args string
	}{
		{"/gen hello world", "/gen", "hello world"},
		{"/help", "/help", ""},
		{"/gen@mynah_bot hi", "/gen", "hi"},
		{"plain text", "", "plain text"},
		{"  /voice  angie ", "/voice", "angie"},
	}
	for _, tt := range tests {
		cmd, args := splitCommand(tt.in)
		if cmd != tt.cmd || args != tt.args {
			t.Errorf("splitCommand(%q) = (%q, %q), want (%q, %q)", tt.in, cmd, args, tt.cmd, tt.args)
		}
	}
}
