package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"studyforge/internal/models"
)

// ErrNotFound is returned when no metadata record exists for a job id.
var ErrNotFound = errors.New("job not found")

// Notifier receives a compact change event after every successful write.
// Publish must never block; failures are the notifier's problem, not ours.
type Notifier interface {
	Publish(ev models.ChangeEvent)
}

// Store is the job record store: one metadata.json per job directory, with a
// short-lived read cache in front of it. All mutation of job state anywhere
// in the process goes through Put/Update.
type Store struct {
	Artifacts *Artifacts
	notifier  Notifier
	cacheTTL  time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	job     models.Job
	fetched time.Time
}

// New creates a store over the given artifact tree. notifier may be nil.
func New(artifacts *Artifacts, notifier Notifier, cacheTTL time.Duration) *Store {
	return &Store{
		Artifacts: artifacts,
		notifier:  notifier,
		cacheTTL:  cacheTTL,
		cache:     make(map[string]cacheEntry),
	}
}

func (s *Store) metaPath(jobID string) string {
	return s.Artifacts.Path(jobID, "metadata.json")
}

// Get returns the job record, served from cache when fresh enough.
// The cache TTL is an accepted staleness window for polling reads.
func (s *Store) Get(jobID string) (models.Job, error) {
	s.mu.Lock()
	if e, ok := s.cache[jobID]; ok && time.Since(e.fetched) < s.cacheTTL {
		job := e.job
		s.mu.Unlock()
		return job, nil
	}
	s.mu.Unlock()

	return s.GetFresh(jobID)
}

// GetFresh bypasses the cache and reads straight from disk. Paths that must
// observe their own most recent write use this.
func (s *Store) GetFresh(jobID string) (models.Job, error) {
	job, err := s.readMeta(jobID)
	if err != nil {
		return models.Job{}, err
	}

	s.mu.Lock()
	s.cache[jobID] = cacheEntry{job: job, fetched: time.Now()}
	s.mu.Unlock()
	return job, nil
}

func (s *Store) readMeta(jobID string) (models.Job, error) {
	data, err := os.ReadFile(s.metaPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return models.Job{}, ErrNotFound
		}
		return models.Job{}, err
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return models.Job{}, fmt.Errorf("decode metadata for %s: %w", jobID, err)
	}
	return job, nil
}

// Put writes the full record durably, refreshes the cache and publishes the
// change. updated_at is set here on every write.
func (s *Store) Put(job models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(job)
}

// Update applies partial fields with a read-modify-write that holds the store
// lock for the whole sequence, so a concurrent cache read cannot clobber it.
func (s *Store) Update(jobID string, upd models.JobUpdate) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.readMeta(jobID)
	if err != nil {
		return models.Job{}, err
	}

	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.Stage != nil {
		job.Stage = *upd.Stage
	}
	if upd.ProgressPct != nil {
		job.ProgressPct = *upd.ProgressPct
	}
	if upd.Title != nil {
		job.Title = *upd.Title
	}
	if upd.ErrorMessage != nil {
		job.ErrorMessage = *upd.ErrorMessage
	}

	if err := s.writeLocked(job); err != nil {
		return models.Job{}, err
	}
	return job, nil
}

// writeLocked persists the record synchronously, then publishes best-effort.
// Callers hold s.mu.
func (s *Store) writeLocked(job models.Job) error {
	job.UpdatedAt = time.Now().UTC()

	dir := s.Artifacts.JobDir(job.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return err
	}

	// Write via temp file + rename so a reader never sees a torn record.
	tmp := filepath.Join(dir, ".metadata.json.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.metaPath(job.JobID)); err != nil {
		return err
	}

	s.cache[job.JobID] = cacheEntry{job: job, fetched: time.Now()}

	if s.notifier != nil {
		s.notifier.Publish(models.ChangeEvent{
			JobID:        job.JobID,
			Status:       job.Status,
			Stage:        job.Stage,
			ProgressPct:  job.ProgressPct,
			ErrorMessage: job.ErrorMessage,
		})
	}
	return nil
}

// Invalidate drops the cache entry, used after an external delete.
func (s *Store) Invalidate(jobID string) {
	s.mu.Lock()
	delete(s.cache, jobID)
	s.mu.Unlock()
}

// List scans the job tree and returns every readable record, newest first.
// Corrupt or half-deleted directories are skipped, not fatal.
func (s *Store) List() ([]models.Job, error) {
	entries, err := os.ReadDir(filepath.Join(s.Artifacts.Root, "jobs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var jobs []models.Job
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		job, err := s.readMeta(e.Name())
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// Summarize folds a job list into dashboard counters.
func Summarize(jobs []models.Job) models.Metrics {
	var m models.Metrics
	for _, job := range jobs {
		m.TotalJobs++
		switch job.Status {
		case models.StatusQueued:
			m.QueuedJobs++
		case models.StatusRunning:
			m.RunningJobs++
		case models.StatusSucceeded:
			m.SucceededJobs++
		case models.StatusFailed:
			m.FailedJobs++
		}
	}
	return m
}
