package pipeline

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"studyforge/internal/models"
	"studyforge/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	art := &store.Artifacts{Root: t.TempDir()}
	return store.New(art, nil, time.Second)
}

func seedJob(t *testing.T, st *store.Store, id string) {
	t.Helper()
	err := st.Put(models.Job{
		JobID:     id,
		Status:    models.StatusRunning,
		InputType: models.InputTopic,
		Options:   models.DefaultOptions(),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Artifacts.EnsureDirs(id); err != nil {
		t.Fatal(err)
	}
}

// markerStage writes a marker artifact and skips itself when it already
// exists, like the real stages do. calls counts actual executions.
func markerStage(st *store.Store, name string, calls *int, fail *error) StageFunc {
	return func(ctx context.Context, jobID string) error {
		if st.Artifacts.Exists(jobID, "extracted", name) {
			return nil
		}
		*calls++
		if fail != nil && *fail != nil {
			return *fail
		}
		return os.WriteFile(st.Artifacts.Path(jobID, "extracted", name), []byte("done"), 0o644)
	}
}

func TestRunExecutesStagesInOrder(t *testing.T) {
	st := newTestStore(t)
	seedJob(t, st, "job1")

	var order []string
	stage := func(name models.JobStage, enter, exit int) Stage {
		return Stage{Name: name, Enter: enter, Exit: exit, Run: func(ctx context.Context, jobID string) error {
			job, err := st.GetFresh(jobID)
			if err != nil {
				return err
			}
			if job.Stage != name || job.ProgressPct != enter {
				t.Errorf("stage %s entered with stage=%s pct=%d, want pct=%d", name, job.Stage, job.ProgressPct, enter)
			}
			order = append(order, string(name))
			return nil
		}}
	}

	p := New(st, []Stage{
		stage("one", 0, 10),
		stage("two", 10, 50),
		stage("three", 50, 100),
	})

	if err := p.Run(context.Background(), "job1"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if strings.Join(order, ",") != "one,two,three" {
		t.Errorf("stage order = %v", order)
	}

	job, err := st.GetFresh("job1")
	if err != nil {
		t.Fatal(err)
	}
	if job.ProgressPct != 100 {
		t.Errorf("final progress = %d, want 100", job.ProgressPct)
	}
}

func TestRunAbortsOnStageError(t *testing.T) {
	st := newTestStore(t)
	seedJob(t, st, "job1")

	boom := errors.New("synthesis exploded")
	ranThird := false

	p := New(st, []Stage{
		{Name: "one", Enter: 0, Exit: 10, Run: func(ctx context.Context, jobID string) error { return nil }},
		{Name: "two", Enter: 10, Exit: 50, Run: func(ctx context.Context, jobID string) error { return boom }},
		{Name: "three", Enter: 50, Exit: 100, Run: func(ctx context.Context, jobID string) error {
			ranThird = true
			return nil
		}},
	})

	err := p.Run(context.Background(), "job1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped stage error, got %v", err)
	}
	if !strings.Contains(err.Error(), "stage two") {
		t.Errorf("error should name the stage: %v", err)
	}
	if ranThird {
		t.Error("stages after a failure must not run")
	}

	job, _ := st.GetFresh("job1")
	if job.Stage != "two" || job.ProgressPct != 10 {
		t.Errorf("job left at stage=%s pct=%d, want two/10", job.Stage, job.ProgressPct)
	}
}

func TestRunResumesPastCompletedStages(t *testing.T) {
	st := newTestStore(t)
	seedJob(t, st, "job1")

	var calls1, calls2 int
	var fail2 error = errors.New("connection timeout")

	p := New(st, []Stage{
		{Name: "one", Enter: 0, Exit: 50, Run: markerStage(st, "one.marker", &calls1, nil)},
		{Name: "two", Enter: 50, Exit: 100, Run: markerStage(st, "two.marker", &calls2, &fail2)},
	})

	if err := p.Run(context.Background(), "job1"); err == nil {
		t.Fatal("first run should fail at stage two")
	}

	fail2 = nil
	if err := p.Run(context.Background(), "job1"); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if calls1 != 1 {
		t.Errorf("stage one executed %d times, want 1 (idempotent skip on resume)", calls1)
	}
	if calls2 != 2 {
		t.Errorf("stage two executed %d times, want 2", calls2)
	}
}

func TestRunMissingJob(t *testing.T) {
	st := newTestStore(t)
	p := New(st, nil)
	if err := p.Run(context.Background(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestRunHonorsCanceledContext(t *testing.T) {
	st := newTestStore(t)
	seedJob(t, st, "job1")

	ran := false
	p := New(st, []Stage{
		{Name: "one", Enter: 0, Exit: 100, Run: func(ctx context.Context, jobID string) error {
			ran = true
			return nil
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Run(ctx, "job1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ran {
		t.Error("no stage should run after cancellation")
	}
}
