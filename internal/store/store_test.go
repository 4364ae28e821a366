package store

import (
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"studyforge/internal/models"
)

type recordingNotifier struct {
	events []models.ChangeEvent
}

func (n *recordingNotifier) Publish(ev models.ChangeEvent) {
	n.events = append(n.events, ev)
}

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	art := &Artifacts{Root: t.TempDir()}
	return New(art, notifier, ttl), notifier
}

func testJob(id string) models.Job {
	return models.Job{
		JobID:     id,
		Status:    models.StatusQueued,
		Title:     "Photosynthesis",
		InputType: models.InputTopic,
		Options:   models.DefaultOptions(),
		CreatedAt: time.Now().UTC(),
	}
}

func TestPutAndGet(t *testing.T) {
	st, _ := newTestStore(t, 2*time.Second)

	if err := st.Put(testJob("abc12345")); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	job, err := st.Get("abc12345")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if job.Status != models.StatusQueued || job.Title != "Photosynthesis" {
		t.Errorf("unexpected job: %+v", job)
	}
	if job.UpdatedAt.IsZero() {
		t.Error("updated_at must be set on write")
	}
}

func TestGetMissing(t *testing.T) {
	st, _ := newTestStore(t, time.Second)
	if _, err := st.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePartial(t *testing.T) {
	st, _ := newTestStore(t, time.Second)
	if err := st.Put(testJob("job1")); err != nil {
		t.Fatal(err)
	}

	running := models.StatusRunning
	pct := 25
	job, err := st.Update("job1", models.JobUpdate{Status: &running, ProgressPct: &pct})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if job.Status != models.StatusRunning || job.ProgressPct != 25 {
		t.Errorf("update not applied: %+v", job)
	}
	// Untouched fields survive.
	if job.Title != "Photosynthesis" {
		t.Errorf("title clobbered: %q", job.Title)
	}
}

func TestUpdateMissingJob(t *testing.T) {
	st, _ := newTestStore(t, time.Second)
	running := models.StatusRunning
	if _, err := st.Update("gone", models.JobUpdate{Status: &running}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCacheServesStaleWithinTTL(t *testing.T) {
	st, _ := newTestStore(t, time.Hour)
	if err := st.Put(testJob("job1")); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Get("job1"); err != nil {
		t.Fatal(err)
	}

	// Mutate the file behind the store's back.
	job := testJob("job1")
	job.Title = "Mitosis"
	data, _ := json.Marshal(job)
	if err := os.WriteFile(st.Artifacts.Path("job1", "metadata.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	cached, err := st.Get("job1")
	if err != nil {
		t.Fatal(err)
	}
	if cached.Title != "Photosynthesis" {
		t.Errorf("expected stale cached title, got %q", cached.Title)
	}

	fresh, err := st.GetFresh("job1")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Title != "Mitosis" {
		t.Errorf("GetFresh must bypass cache, got %q", fresh.Title)
	}
}

func TestWritePublishesChangeEvent(t *testing.T) {
	st, notifier := newTestStore(t, time.Second)
	if err := st.Put(testJob("job1")); err != nil {
		t.Fatal(err)
	}

	failed := models.StatusFailed
	msg := "boom"
	if _, err := st.Update("job1", models.JobUpdate{Status: &failed, ErrorMessage: &msg}); err != nil {
		t.Fatal(err)
	}

	if len(notifier.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(notifier.events))
	}
	last := notifier.events[1]
	if last.JobID != "job1" || last.Status != models.StatusFailed || last.ErrorMessage != "boom" {
		t.Errorf("unexpected event: %+v", last)
	}
}

func TestListAndSummarize(t *testing.T) {
	st, _ := newTestStore(t, time.Second)

	for i, status := range []models.JobStatus{models.StatusQueued, models.StatusRunning, models.StatusSucceeded, models.StatusFailed} {
		job := testJob(string(rune('a'+i)) + "0000000")
		job.Status = status
		job.CreatedAt = time.Now().Add(time.Duration(i) * time.Minute)
		if err := st.Put(job); err != nil {
			t.Fatal(err)
		}
	}

	jobs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(jobs) != 4 {
		t.Fatalf("expected 4 jobs, got %d", len(jobs))
	}
	// Newest first.
	if !jobs[0].CreatedAt.After(jobs[1].CreatedAt) {
		t.Error("list not sorted newest first")
	}

	m := Summarize(jobs)
	if m.TotalJobs != 4 || m.QueuedJobs != 1 || m.RunningJobs != 1 || m.SucceededJobs != 1 || m.FailedJobs != 1 {
		t.Errorf("unexpected metrics: %+v", m)
	}
}

func TestListEmptyRoot(t *testing.T) {
	st, _ := newTestStore(t, time.Second)
	jobs, err := st.List()
	if err != nil {
		t.Fatalf("list on empty root: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs, got %d", len(jobs))
	}
}

func TestDeleteAndInvalidate(t *testing.T) {
	st, _ := newTestStore(t, time.Hour)
	if err := st.Put(testJob("job1")); err != nil {
		t.Fatal(err)
	}
	if err := st.Artifacts.Delete("job1"); err != nil {
		t.Fatal(err)
	}
	st.Invalidate("job1")

	if _, err := st.Get("job1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
