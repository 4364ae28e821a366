package cleanup

import (
	"context"
	"io/fs"
	"log"
	"path/filepath"
	"time"

	"studyforge/internal/config"
	"studyforge/internal/models"
	"studyforge/internal/queue"
	"studyforge/internal/ratelimit"
	"studyforge/internal/store"
)

// Sweeper owns the background maintenance loops: retention cleanup of old
// job trees, pruning of stale rate-limit counters and the reconciliation
// sweep that re-enqueues jobs whose queue entry went missing.
type Sweeper struct {
	store   *store.Store
	db      *queue.DB
	limiter *ratelimit.Limiter
	cfg     config.CleanupConfig
}

func New(st *store.Store, db *queue.DB, limiter *ratelimit.Limiter, cfg config.CleanupConfig) *Sweeper {
	return &Sweeper{store: st, db: db, limiter: limiter, cfg: cfg}
}

// Run starts the loops and blocks until ctx is canceled. Both loops run an
// initial pass shortly after startup so a restart does not defer maintenance
// by a full interval.
func (s *Sweeper) Run(ctx context.Context) {
	retention := time.NewTicker(s.cfg.Interval)
	defer retention.Stop()
	reconcile := time.NewTicker(s.cfg.ReconcileAfter)
	defer reconcile.Stop()

	startup := time.NewTimer(30 * time.Second)
	defer startup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-startup.C:
			s.sweepRetention()
			s.sweepOrphans()
		case <-retention.C:
			s.sweepRetention()
		case <-reconcile.C:
			s.sweepOrphans()
		}
	}
}

// sweepRetention deletes job trees older than the retention window and prunes
// expired rate counters.
func (s *Sweeper) sweepRetention() {
	jobs, err := s.store.List()
	if err != nil {
		log.Printf("[CLEANUP] Failed to list jobs: %v", err)
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	removed := 0
	for _, job := range jobs {
		if job.UpdatedAt.After(cutoff) {
			continue
		}
		if !job.Status.Terminal() {
			// Stuck non-terminal jobs past retention are reaped too, but
			// their queue entries must go first.
			if err := s.db.DeleteForJob(job.JobID); err != nil {
				log.Printf("[CLEANUP] Failed to drop queue entries for %s: %v", job.JobID, err)
				continue
			}
		}
		age := time.Since(job.UpdatedAt).Round(time.Hour)
		size := dirSize(s.store.Artifacts.JobDir(job.JobID))
		if err := s.store.Artifacts.Delete(job.JobID); err != nil {
			log.Printf("[CLEANUP] Failed to delete job %s: %v", job.JobID, err)
			continue
		}
		s.store.Invalidate(job.JobID)
		log.Printf("[CLEANUP] Deleted job %s (age %s, %.1f MB)", job.JobID, age, float64(size)/(1<<20))
		removed++
	}
	if removed > 0 {
		log.Printf("[CLEANUP] Retention sweep removed %d jobs", removed)
	}

	s.limiter.Prune()
}

// dirSize walks the job tree and sums file sizes, best effort.
func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// sweepOrphans re-enqueues QUEUED jobs that have no queue entry. This closes
// the gap where the record was written but the enqueue failed.
func (s *Sweeper) sweepOrphans() {
	jobs, err := s.store.List()
	if err != nil {
		log.Printf("[CLEANUP] Failed to list jobs: %v", err)
		return
	}

	for _, job := range jobs {
		if job.Status != models.StatusQueued {
			continue
		}
		if time.Since(job.UpdatedAt) < s.cfg.ReconcileAfter {
			continue
		}
		pending, err := s.db.HasPending(job.JobID)
		if err != nil {
			log.Printf("[CLEANUP] Failed to check queue for %s: %v", job.JobID, err)
			continue
		}
		if pending {
			continue
		}
		if err := s.db.Enqueue(job.JobID, 0, 0); err != nil {
			log.Printf("[CLEANUP] Failed to re-enqueue orphaned job %s: %v", job.JobID, err)
			continue
		}
		log.Printf("[CLEANUP] Re-enqueued orphaned job %s", job.JobID)
	}
}
