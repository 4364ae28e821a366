package worker

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"studyforge/internal/config"
	"studyforge/internal/models"
	"studyforge/internal/queue"
	"studyforge/internal/store"
)

// scriptedPipeline returns its scripted errors in order, then succeeds.
type scriptedPipeline struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (p *scriptedPipeline) Run(ctx context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return err
	}
	return nil
}

func (p *scriptedPipeline) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type statusRecorder struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (r *statusRecorder) Publish(ev models.ChangeEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *statusRecorder) snapshot() []models.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ChangeEvent(nil), r.events...)
}

func newWorkerFixture(t *testing.T, pipe PipelineRunner, maxRetries int, baseDelay time.Duration) (*Pool, *queue.DB, *store.Store, *statusRecorder) {
	t.Helper()

	db, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	recorder := &statusRecorder{}
	st := store.New(&store.Artifacts{Root: t.TempDir()}, recorder, 0)

	pool := NewPool(db, st, pipe, config.WorkerConfig{
		Count:        1,
		PollInterval: 10 * time.Millisecond,
		LeaseTime:    time.Second,
		SoftTimeout:  5 * time.Second,
		HardTimeout:  10 * time.Second,
	}, config.RetryConfig{MaxRetries: maxRetries, BaseDelay: baseDelay})

	return pool, db, st, recorder
}

func enqueueJob(t *testing.T, db *queue.DB, st *store.Store, id string) {
	t.Helper()
	err := st.Put(models.Job{
		JobID:     id,
		Status:    models.StatusQueued,
		InputType: models.InputTopic,
		Options:   models.DefaultOptions(),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Enqueue(id, 0, 0); err != nil {
		t.Fatal(err)
	}
}

func waitForStatus(t *testing.T, st *store.Store, id string, want models.JobStatus, timeout time.Duration) models.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := st.GetFresh(id)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := st.GetFresh(id)
	t.Fatalf("job %s never reached %s, last state: %+v", id, want, job)
	return models.Job{}
}

func TestTransientFailuresRetryThenSucceed(t *testing.T) {
	pipe := &scriptedPipeline{errs: []error{
		errors.New("tts provider: connection timeout"),
		errors.New("tts provider: connection timeout"),
	}}
	pool, db, st, recorder := newWorkerFixture(t, pipe, 3, 20*time.Millisecond)

	enqueueJob(t, db, st, "job1")

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	waitForStatus(t, st, "job1", models.StatusSucceeded, 5*time.Second)
	cancel()
	pool.Wait()

	if got := pipe.callCount(); got != 3 {
		t.Errorf("pipeline ran %d times, want 3", got)
	}

	// The status trace must show the RUNNING -> QUEUED regression on each
	// retry with the retry message attached.
	var sawRegression bool
	events := recorder.snapshot()
	for i := 1; i < len(events); i++ {
		if events[i-1].Status == models.StatusRunning && events[i].Status == models.StatusQueued {
			sawRegression = true
			if !strings.HasPrefix(events[i].ErrorMessage, "Retrying after error:") {
				t.Errorf("retry event missing message: %+v", events[i])
			}
		}
	}
	if !sawRegression {
		t.Error("no RUNNING -> QUEUED regression observed across retries")
	}

	final := events[len(events)-1]
	if final.Status != models.StatusSucceeded || final.ErrorMessage != "" {
		t.Errorf("final event = %+v, want clean SUCCEEDED", final)
	}

	has, err := db.HasPending("job1")
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("queue entry survives a successful run")
	}
}

func TestPermanentFailureFailsImmediately(t *testing.T) {
	pipe := &scriptedPipeline{errs: []error{
		errors.New("stage script: invalid options payload"),
	}}
	pool, db, st, _ := newWorkerFixture(t, pipe, 3, 20*time.Millisecond)

	enqueueJob(t, db, st, "job1")

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	job := waitForStatus(t, st, "job1", models.StatusFailed, 5*time.Second)
	cancel()
	pool.Wait()

	if got := pipe.callCount(); got != 1 {
		t.Errorf("pipeline ran %d times, want 1 (no retry on permanent error)", got)
	}
	if !strings.Contains(job.ErrorMessage, "invalid options") {
		t.Errorf("error message not preserved: %q", job.ErrorMessage)
	}

	has, err := db.HasPending("job1")
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("queue entry survives a failed run")
	}
}

func TestRetriesExhaustMarksFailed(t *testing.T) {
	transient := errors.New("connection reset by peer")
	pipe := &scriptedPipeline{errs: []error{transient, transient, transient}}
	pool, db, st, _ := newWorkerFixture(t, pipe, 2, 10*time.Millisecond)

	enqueueJob(t, db, st, "job1")

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	// Attempts 0 and 1 retry; attempt 2 hits the ceiling and fails.
	waitForStatus(t, st, "job1", models.StatusFailed, 5*time.Second)
	cancel()
	pool.Wait()

	if got := pipe.callCount(); got != 3 {
		t.Errorf("pipeline ran %d times, want 3", got)
	}
	has, _ := db.HasPending("job1")
	if has {
		t.Error("queue entry survives exhausted retries")
	}
}

func TestTaskForDeletedJobIsDropped(t *testing.T) {
	pipe := &scriptedPipeline{}
	pool, db, _, _ := newWorkerFixture(t, pipe, 3, 10*time.Millisecond)

	// Queue entry with no record behind it.
	if err := db.Enqueue("ghost", 0, 0); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		has, err := db.HasPending("ghost")
		if err != nil {
			t.Fatal(err)
		}
		if !has {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	pool.Wait()

	has, err := db.HasPending("ghost")
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("task for deleted job was not dropped")
	}
	if pipe.callCount() != 0 {
		t.Error("pipeline must not run for a deleted job")
	}
}
