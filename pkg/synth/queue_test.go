package synth

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mynahbot/mynah/pkg/settings"
)

// fakeEngine renders each request as a readable marker so tests can check
// which text and candidate index produced which bytes.
type fakeEngine struct {
	mu          sync.Mutex
	calls       []Request
	failMatch   string
	cacheClears int
}

func (f *fakeEngine) Synthesize(_ context.Context, req Request) ([][]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.failMatch != "" && strings.Contains(req.Text, f.failMatch) {
		return nil, fmt.Errorf("model exploded")
	}

	bufs := make([][]byte, req.Candidates)
	for i := range bufs {
		bufs[i] = []byte(fmt.Sprintf("<%s|c%d>", req.Text, i))
	}
	return bufs, nil
}

func (f *fakeEngine) ClearCache(context.Context) error {
	f.mu.Lock()
	f.cacheClears++
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) IsAvailable() bool { return true }

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// byteConcat joins input files by simple byte append, standing in for the
// external codec so tests stay hermetic.
type byteConcat struct{}

func (byteConcat) ConcatWAV(_ context.Context, inputs []string, outPath string) error {
	var joined []byte
	for _, in := range inputs {
		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		joined = append(joined, data...)
	}
	return os.WriteFile(outPath, joined, 0o644)
}

func startQueue(t *testing.T, engine Engine, opts Options) (*Queue, chan Result, context.CancelFunc) {
	t.Helper()
	results := make(chan Result, 16)
	opts.Notify = func(r Result) { results <- r }

	q := NewQueue(engine, byteConcat{}, t.TempDir(), opts)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("worker did not stop")
		}
	})
	return q, results, cancel
}

func waitResult(t *testing.T, results chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a result")
		return Result{}
	}
}

func TestQueueExecutesJob(t *testing.T) {
	engine := &fakeEngine{}
	q, results, _ := startQueue(t, engine, Options{ClipLimit: 300})

	err := q.Submit(&Job{UserID: 1, Text: "Hello world.", Voice: "angie", Candidates: 1})
	if err != nil {
		t.Fatal(err)
	}

	r := waitResult(t, results)
	if r.Err != nil {
		t.Fatalf("job failed: %v", r.Err)
	}
	if len(r.Outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(r.Outputs))
	}
	data, err := os.ReadFile(r.Outputs[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "<Hello world.|c0>" {
		t.Errorf("unexpected audio content: %q", data)
	}
}

func TestQueueEmotionPrefix(t *testing.T) {
	engine := &fakeEngine{}
	q, results, _ := startQueue(t, engine, Options{ClipLimit: 300})

	if err := q.Submit(&Job{UserID: 1, Text: "Hi.", Emotion: settings.Happy}); err != nil {
		t.Fatal(err)
	}
	r := waitResult(t, results)
	if r.Err != nil {
		t.Fatal(r.Err)
	}

	engine.mu.Lock()
	text := engine.calls[0].Text
	engine.mu.Unlock()
	if text != "[I am really happy,] Hi." {
		t.Errorf("emotion prefix missing: %q", text)
	}
}

func TestQueueMultiClipCandidateAlignment(t *testing.T) {
	engine := &fakeEngine{}
	q, results, _ := startQueue(t, engine, Options{ClipLimit: 12})

	// Splits into "Alpha one." and "Bravo two." under the 12-char budget.
	err := q.Submit(&Job{UserID: 1, Text: "Alpha one. Bravo two.", Candidates: 2})
	if err != nil {
		t.Fatal(err)
	}

	r := waitResult(t, results)
	if r.Err != nil {
		t.Fatalf("job failed: %v", r.Err)
	}
	if len(r.Outputs) != 2 {
		t.Fatalf("expected 2 candidate outputs, got %d", len(r.Outputs))
	}

	want := []string{
		"<Alpha one.|c0><Bravo two.|c0>",
		"<Alpha one.|c1><Bravo two.|c1>",
	}
	for i, out := range r.Outputs {
		data, err := os.ReadFile(out)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != want[i] {
			t.Errorf("candidate %d: got %q, want %q", i, data, want[i])
		}
	}
}

func TestQueueRetrySupersedes(t *testing.T) {
	engine := &fakeEngine{}
	results := make(chan Result, 16)
	q := NewQueue(engine, byteConcat{}, t.TempDir(), Options{
		ClipLimit: 300,
		Notify:    func(r Result) { results <- r },
	})

	// Both submitted before the worker starts: the retry must win.
	if err := q.Submit(&Job{UserID: 1, Text: "stale request."}); err != nil {
		t.Fatal(err)
	}
	if err := q.Submit(&Job{UserID: 1, Text: "fresh request."}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	r := waitResult(t, results)
	if r.Err != nil {
		t.Fatal(r.Err)
	}
	if r.Job.Text != "fresh request." {
		t.Errorf("wrong job executed: %q", r.Job.Text)
	}
	if n := engine.callCount(); n != 1 {
		t.Errorf("superseded job reached the engine: %d calls", n)
	}
	select {
	case extra := <-results:
		t.Errorf("unexpected second result: %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestQueueDistinctUsersBothRunInOrder(t *testing.T) {
	engine := &fakeEngine{}
	results := make(chan Result, 16)
	q := NewQueue(engine, byteConcat{}, t.TempDir(), Options{
		ClipLimit: 300,
		Notify:    func(r Result) { results <- r },
	})

	if err := q.Submit(&Job{UserID: 1, Text: "first user."}); err != nil {
		t.Fatal(err)
	}
	if err := q.Submit(&Job{UserID: 2, Text: "second user."}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	first := waitResult(t, results)
	second := waitResult(t, results)
	if first.Job.UserID != 1 || second.Job.UserID != 2 {
		t.Errorf("submission order not preserved: %d then %d",
			first.Job.UserID, second.Job.UserID)
	}
}

func TestQueueWorkerSurvivesJobFailure(t *testing.T) {
	engine := &fakeEngine{failMatch: "doomed"}
	q, results, _ := startQueue(t, engine, Options{ClipLimit: 300})

	if err := q.Submit(&Job{UserID: 1, Text: "doomed text."}); err != nil {
		t.Fatal(err)
	}
	if err := q.Submit(&Job{UserID: 2, Text: "healthy text."}); err != nil {
		t.Fatal(err)
	}

	bad := waitResult(t, results)
	if bad.Err == nil {
		t.Error("expected failure for first job")
	}
	good := waitResult(t, results)
	if good.Err != nil {
		t.Errorf("worker should proceed to the next job: %v", good.Err)
	}
}

func TestQueueCacheClearPolicy(t *testing.T) {
	engine := &fakeEngine{}
	q, results, _ := startQueue(t, engine, Options{ClipLimit: 300, KeepCache: true})

	if err := q.Submit(&Job{UserID: 1, Text: "warm cache."}); err != nil {
		t.Fatal(err)
	}
	waitResult(t, results)

	engine.mu.Lock()
	clears := engine.cacheClears
	engine.mu.Unlock()
	if clears != 0 {
		t.Errorf("keep-cache mode must not clear: %d clears", clears)
	}
}

func TestQueueSubmitAfterClose(t *testing.T) {
	q := NewQueue(&fakeEngine{}, byteConcat{}, t.TempDir(), Options{})
	q.Close()
	if err := q.Submit(&Job{UserID: 1, Text: "late."}); err == nil {
		t.Error("submit after close should fail")
	}
}
