package cleanup

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"studyforge/internal/config"
	"studyforge/internal/models"
	"studyforge/internal/queue"
	"studyforge/internal/ratelimit"
	"studyforge/internal/store"
)

func newSweeperFixture(t *testing.T, cfg config.CleanupConfig) (*Sweeper, *store.Store, *queue.DB) {
	t.Helper()

	db, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	st := store.New(&store.Artifacts{Root: t.TempDir()}, nil, 0)
	limiter := ratelimit.New(db, 100, 100)
	return New(st, db, limiter, cfg), st, db
}

// writeAgedRecord plants a metadata.json with a back-dated updated_at, which
// the store would otherwise overwrite on every write.
func writeAgedRecord(t *testing.T, st *store.Store, id string, status models.JobStatus, age time.Duration) {
	t.Helper()
	job := models.Job{
		JobID:     id,
		Status:    status,
		InputType: models.InputTopic,
		Options:   models.DefaultOptions(),
		CreatedAt: time.Now().Add(-age).UTC(),
		UpdatedAt: time.Now().Add(-age).UTC(),
	}
	dir := st.Artifacts.JobDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	data, _ := json.MarshalIndent(job, "", "  ")
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRetentionSweepDeletesOldJobs(t *testing.T) {
	s, st, _ := newSweeperFixture(t, config.CleanupConfig{
		RetentionDays:  7,
		Interval:       time.Hour,
		ReconcileAfter: time.Minute,
	})

	writeAgedRecord(t, st, "old00001", models.StatusSucceeded, 30*24*time.Hour)
	writeAgedRecord(t, st, "new00001", models.StatusSucceeded, time.Hour)

	s.sweepRetention()

	if _, err := st.GetFresh("old00001"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("old job survived retention sweep: %v", err)
	}
	if _, err := st.GetFresh("new00001"); err != nil {
		t.Errorf("recent job was deleted: %v", err)
	}
}

func TestRetentionSweepReapsStuckJobs(t *testing.T) {
	s, st, db := newSweeperFixture(t, config.CleanupConfig{
		RetentionDays:  7,
		Interval:       time.Hour,
		ReconcileAfter: time.Minute,
	})

	writeAgedRecord(t, st, "stuck001", models.StatusQueued, 30*24*time.Hour)
	if err := db.Enqueue("stuck001", 0, 0); err != nil {
		t.Fatal(err)
	}

	s.sweepRetention()

	if _, err := st.GetFresh("stuck001"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("stuck job survived: %v", err)
	}
	has, err := db.HasPending("stuck001")
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("queue entries survived the reap")
	}
}

func TestOrphanSweepReenqueues(t *testing.T) {
	s, st, db := newSweeperFixture(t, config.CleanupConfig{
		RetentionDays:  7,
		Interval:       time.Hour,
		ReconcileAfter: time.Millisecond,
	})

	// QUEUED record with no queue entry behind it.
	writeAgedRecord(t, st, "orphan01", models.StatusQueued, time.Minute)

	s.sweepOrphans()

	has, err := db.HasPending("orphan01")
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("orphaned job was not re-enqueued")
	}
}

func TestOrphanSweepSkipsHealthyJobs(t *testing.T) {
	s, st, db := newSweeperFixture(t, config.CleanupConfig{
		RetentionDays:  7,
		Interval:       time.Hour,
		ReconcileAfter: time.Millisecond,
	})

	writeAgedRecord(t, st, "queued01", models.StatusQueued, time.Minute)
	if err := db.Enqueue("queued01", 0, 0); err != nil {
		t.Fatal(err)
	}
	writeAgedRecord(t, st, "done0001", models.StatusSucceeded, time.Minute)

	s.sweepOrphans()

	// Exactly the one pre-existing entry, no duplicates, nothing for the
	// terminal job.
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("task count = %d, want 1", n)
	}
}
