package queue

import (
	"database/sql"
	"time"
)

// DB wraps the sqlite handle backing the durable work queue and the
// rate-limit counters.
type DB struct {
	*sql.DB
}

// Task is one queued execution attempt for a job.
type Task struct {
	ID          int64
	JobID       string
	Attempt     int
	AvailableAt time.Time
	EnqueuedAt  time.Time
}

// Open opens (or creates) the queue database.
func Open(dataSourceName string) (*DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}
	return &DB{db}, nil
}

// InitSchema creates the queue and counter tables.
func (db *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		available_at DATETIME NOT NULL,
		leased_until DATETIME,
		enqueued_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_available ON tasks(available_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_job ON tasks(job_id);

	CREATE TABLE IF NOT EXISTS rate_counters (
		scope TEXT NOT NULL,
		client TEXT NOT NULL,
		window_start DATETIME NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (scope, client, window_start)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Enqueue adds an execution attempt for a job, runnable after the given delay.
func (db *DB) Enqueue(jobID string, attempt int, delay time.Duration) error {
	now := time.Now()
	_, err := db.Exec(`
		INSERT INTO tasks (job_id, attempt, available_at, enqueued_at)
		VALUES (?, ?, ?, ?)
	`, jobID, attempt, now.Add(delay), now)
	return err
}

// Lease atomically claims the oldest runnable task and holds it until
// leaseUntil. Returns sql.ErrNoRows when nothing is runnable.
func (db *DB) Lease(leaseUntil time.Time) (*Task, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	var t Task
	err = tx.QueryRow(`
		SELECT id, job_id, attempt, available_at, enqueued_at
		FROM tasks
		WHERE available_at <= ?
		  AND (leased_until IS NULL OR leased_until < ?)
		ORDER BY enqueued_at ASC
		LIMIT 1
	`, now, now).Scan(&t.ID, &t.JobID, &t.Attempt, &t.AvailableAt, &t.EnqueuedAt)
	if err != nil {
		return nil, err
	}

	if _, err = tx.Exec(`UPDATE tasks SET leased_until = ? WHERE id = ?`, leaseUntil, t.ID); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Ack removes a finished task from the queue.
func (db *DB) Ack(taskID int64) error {
	_, err := db.Exec(`DELETE FROM tasks WHERE id = ?`, taskID)
	return err
}

// Requeue releases the lease and schedules the task to run again after the
// given delay with an incremented attempt counter.
func (db *DB) Requeue(taskID int64, delay time.Duration) error {
	_, err := db.Exec(`
		UPDATE tasks
		SET attempt = attempt + 1, available_at = ?, leased_until = NULL
		WHERE id = ?
	`, time.Now().Add(delay), taskID)
	return err
}

// HasPending reports whether any queue entry exists for the job, leased or not.
// The reconciliation sweep uses this to spot orphaned QUEUED jobs.
func (db *DB) HasPending(jobID string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE job_id = ?`, jobID).Scan(&n)
	return n > 0, err
}

// DeleteForJob drops all queue entries for a job, used on external delete.
func (db *DB) DeleteForJob(jobID string) error {
	_, err := db.Exec(`DELETE FROM tasks WHERE job_id = ?`, jobID)
	return err
}

// PendingRetries sums the attempt counters of live queue entries, a rough
// retry gauge for the dashboard.
func (db *DB) PendingRetries() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COALESCE(SUM(attempt), 0) FROM tasks`).Scan(&n)
	return n, err
}

// IncrCounter bumps the (scope, client) counter for the window starting at
// windowStart and returns the new count.
func (db *DB) IncrCounter(scope, client string, windowStart time.Time) (int, error) {
	_, err := db.Exec(`
		INSERT INTO rate_counters (scope, client, window_start, count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(scope, client, window_start)
		DO UPDATE SET count = count + 1
	`, scope, client, windowStart)
	if err != nil {
		return 0, err
	}

	var n int
	err = db.QueryRow(`
		SELECT count FROM rate_counters
		WHERE scope = ? AND client = ? AND window_start = ?
	`, scope, client, windowStart).Scan(&n)
	return n, err
}

// PruneCounters deletes counter rows for windows that started before cutoff.
func (db *DB) PruneCounters(cutoff time.Time) error {
	_, err := db.Exec(`DELETE FROM rate_counters WHERE window_start < ?`, cutoff)
	return err
}
