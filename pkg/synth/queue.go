package synth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mynahbot/mynah/pkg/logger"
	"github.com/mynahbot/mynah/pkg/settings"
)

// Concatenator joins per-clip WAV files into one output in order.
// *audio.Transcoder satisfies it.
type Concatenator interface {
	ConcatWAV(ctx context.Context, inputs []string, outPath string) error
}

// Job is one accepted generation request. Jobs are ephemeral; they live in
// the queue until executed or superseded by a newer request from the same
// user.
type Job struct {
	ID          string
	UserID      int64
	Channel     string
	ChatID      string
	Text        string
	Voice       string
	SamplePaths []string
	Emotion     settings.Emotion
	Candidates  int
	SubmittedAt time.Time

	superseded bool // guarded by the queue mutex
}

// Result reports job completion or failure to the submitter. Outputs holds
// one complete WAV path per requested candidate.
type Result struct {
	Job     *Job
	Outputs []string
	Err     error
	Elapsed time.Duration
}

// Options tunes queue policy.
type Options struct {
	// ClipLimit is the per-clip character budget for long-text splitting.
	ClipLimit int
	// KeepCache leaves engine caches warm between jobs, trading memory
	// pressure for latency.
	KeepCache bool
	// Notify receives every executed job's result. Called from the worker
	// goroutine; it must not block for long.
	Notify func(Result)
}

// Queue serializes synthesis: a single worker owns the engine and consumes
// an unbounded FIFO. Each user has one pending slot; a newer submission
// supersedes an older one that has not started yet.
type Queue struct {
	engine    Engine
	concat    Concatenator
	outputDir string
	opts      Options

	mu      sync.Mutex
	cond    *sync.Cond
	fifo    []*Job
	pending map[int64]*Job
	closed  bool
}

func NewQueue(engine Engine, concat Concatenator, outputDir string, opts Options) *Queue {
	if opts.ClipLimit <= 0 {
		opts.ClipLimit = 300
	}
	q := &Queue{
		engine:    engine,
		concat:    concat,
		outputDir: outputDir,
		opts:      opts,
		pending:   make(map[int64]*Job),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Submit enqueues a job and returns immediately. If the same user already
// has a job waiting, that older job is dropped in favor of this one.
func (q *Queue) Submit(job *Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()[:8]
	}
	if job.Candidates < 1 {
		job.Candidates = 1
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("synth: queue is closed")
	}

	if prev := q.pending[job.UserID]; prev != nil {
		prev.superseded = true
		logger.InfoCF("synth", "Superseding queued job", map[string]any{
			"user": job.UserID, "old_job": prev.ID, "new_job": job.ID,
		})
	}
	q.pending[job.UserID] = job
	q.fifo = append(q.fifo, job)
	q.cond.Signal()
	return nil
}

// Pending reports whether the user has a job waiting to start.
func (q *Queue) Pending(userID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[userID] != nil
}

// Close stops the worker after the current job. Further submissions fail.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Run consumes jobs until the context is cancelled or the queue is closed.
// It is the only caller of the engine.
func (q *Queue) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}()

	for {
		job, ok := q.next(ctx)
		if !ok {
			return
		}
		if job == nil {
			continue // superseded, dropped without execution
		}

		result := q.execute(ctx, job)
		if result.Err != nil {
			logger.ErrorCF("synth", "Job failed", map[string]any{
				"job": job.ID, "user": job.UserID, "error": result.Err.Error(),
			})
		} else {
			logger.InfoCF("synth", "Job completed", map[string]any{
				"job": job.ID, "user": job.UserID,
				"outputs": len(result.Outputs), "elapsed": result.Elapsed.String(),
			})
		}

		if !q.opts.KeepCache {
			if err := q.engine.ClearCache(ctx); err != nil {
				logger.WarnCF("synth", "Cache clear failed", map[string]any{"error": err.Error()})
			}
		}

		if q.opts.Notify != nil {
			q.opts.Notify(result)
		}
	}
}

// next blocks for the next job. The nil,true case means the head job was
// superseded and the caller should loop. false means shut down.
func (q *Queue) next(ctx context.Context) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.fifo) == 0 && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}
	if ctx.Err() != nil || (q.closed && len(q.fifo) == 0) {
		return nil, false
	}

	job := q.fifo[0]
	q.fifo = q.fifo[1:]
	if q.pending[job.UserID] == job {
		delete(q.pending, job.UserID)
	}
	if job.superseded {
		logger.DebugCF("synth", "Dropping superseded job", map[string]any{
			"job": job.ID, "user": job.UserID,
		})
		return nil, true
	}
	return job, true
}

// execute renders one job: split into clips, synthesize each clip's
// candidates, then concatenate clip audio per candidate index so take i of
// every clip joins only take i of the others.
func (q *Queue) execute(ctx context.Context, job *Job) Result {
	start := time.Now()
	result := Result{Job: job}

	clips := SplitText(job.Text, q.opts.ClipLimit)
	if len(clips) == 0 {
		result.Err = fmt.Errorf("nothing to synthesize")
		return result
	}

	tag := job.Emotion.PromptTag()
	k := job.Candidates

	clipFiles := make([][]string, k)
	cleanup := func() {
		for _, files := range clipFiles {
			for _, f := range files {
				os.Remove(f)
			}
		}
	}

	for ci, clip := range clips {
		buffers, err := q.engine.Synthesize(ctx, Request{
			Text:        tag + clip,
			Voice:       job.Voice,
			SamplePaths: job.SamplePaths,
			Candidates:  k,
		})
		if err != nil {
			cleanup()
			result.Err = fmt.Errorf("clip %d/%d: %w", ci+1, len(clips), err)
			return result
		}
		if len(buffers) != k {
			cleanup()
			result.Err = fmt.Errorf("clip %d/%d: engine returned %d candidates, want %d",
				ci+1, len(clips), len(buffers), k)
			return result
		}

		for cand, buf := range buffers {
			path := filepath.Join(q.outputDir, fmt.Sprintf("%s_%d_%d.wav", job.ID, ci, cand))
			if err := os.WriteFile(path, buf, 0o644); err != nil {
				cleanup()
				result.Err = fmt.Errorf("write clip audio: %w", err)
				return result
			}
			clipFiles[cand] = append(clipFiles[cand], path)
		}
	}

	outputs := make([]string, 0, k)
	for cand := 0; cand < k; cand++ {
		out := filepath.Join(q.outputDir, fmt.Sprintf("%s_%d.wav", job.ID, cand))
		if err := q.concat.ConcatWAV(ctx, clipFiles[cand], out); err != nil {
			cleanup()
			for _, f := range outputs {
				os.Remove(f)
			}
			result.Err = fmt.Errorf("concatenate candidate %d: %w", cand, err)
			return result
		}
		for _, f := range clipFiles[cand] {
			os.Remove(f)
		}
		outputs = append(outputs, out)
	}

	result.Outputs = outputs
	result.Elapsed = time.Since(start)
	return result
}
