package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"studyforge/internal/config"
	"studyforge/internal/models"
	"studyforge/internal/queue"
	"studyforge/internal/store"
)

// PipelineRunner runs the full stage sequence for one job.
type PipelineRunner interface {
	Run(ctx context.Context, jobID string) error
}

// Pool owns the worker goroutines and the in-process guarantee that no two
// workers drive the same job concurrently. Cross-process exclusivity comes
// from the queue's lease semantics, not from here.
type Pool struct {
	db       *queue.DB
	store    *store.Store
	pipeline PipelineRunner
	cfg      config.WorkerConfig
	retry    config.RetryConfig

	active sync.Map // job id -> struct{}
	wg     sync.WaitGroup
}

// NewPool creates the pool; Start launches the workers.
func NewPool(db *queue.DB, st *store.Store, pipeline PipelineRunner, workerCfg config.WorkerConfig, retryCfg config.RetryConfig) *Pool {
	return &Pool{
		db:       db,
		store:    st,
		pipeline: pipeline,
		cfg:      workerCfg,
		retry:    retryCfg,
	}
}

// Start launches the configured number of workers. They stop when ctx is
// canceled; Wait blocks until they have drained.
func (p *Pool) Start(ctx context.Context) {
	for i := 1; i <= p.cfg.Count; i++ {
		w := &worker{id: i, pool: p}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctx)
		}()
	}
	log.Printf("[INIT] Started %d workers", p.cfg.Count)
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

type worker struct {
	id   int
	pool *Pool
}

func (w *worker) run(ctx context.Context) {
	log.Printf("[WORKER-%d] Started", w.id)

	ticker := time.NewTicker(w.pool.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[WORKER-%d] Shutting down", w.id)
			return
		case <-ticker.C:
			w.processNext(ctx)
		}
	}
}

// processNext leases one task and drives its pipeline to completion or
// failure before returning.
func (w *worker) processNext(ctx context.Context) {
	task, err := w.pool.db.Lease(time.Now().Add(w.pool.cfg.LeaseTime))
	if errors.Is(err, sql.ErrNoRows) {
		return
	}
	if err != nil {
		log.Printf("[WORKER-%d] Failed to lease task: %v", w.id, err)
		return
	}

	// Another worker in this process may still be on the same job if its
	// lease expired mid-run. Skip rather than race on the artifact tree.
	if _, loaded := w.pool.active.LoadOrStore(task.JobID, struct{}{}); loaded {
		log.Printf("[WORKER-%d] Job %s already active in-process, releasing", w.id, task.JobID)
		if err := w.pool.db.Requeue(task.ID, w.pool.cfg.PollInterval); err != nil {
			log.Printf("[WORKER-%d] Failed to release task: %v", w.id, err)
		}
		return
	}
	defer w.pool.active.Delete(task.JobID)

	if task.Attempt > 0 {
		log.Printf("[START] JobID=%s WorkerID=%d Attempt=%d/%d", task.JobID, w.id, task.Attempt, w.pool.retry.MaxRetries)
	} else {
		log.Printf("[START] JobID=%s WorkerID=%d Status=running", task.JobID, w.id)
	}

	running := models.StatusRunning
	zero := 0
	if _, err := w.pool.store.Update(task.JobID, models.JobUpdate{Status: &running, ProgressPct: &zero}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Job was deleted while queued; drop the task.
			log.Printf("[WORKER-%d] Job %s no longer exists, dropping task", w.id, task.JobID)
			_ = w.pool.db.Ack(task.ID)
			return
		}
		log.Printf("[WORKER-%d] Failed to mark job %s running: %v", w.id, task.JobID, err)
		return
	}

	runErr := w.execute(ctx, task.JobID)
	if errors.Is(runErr, context.Canceled) {
		// Shutdown mid-run: leave the task leased so it is picked up again
		// after the lease expires, and let idempotent stages fast-forward.
		log.Printf("[WORKER-%d] Job %s interrupted by shutdown", w.id, task.JobID)
		return
	}
	if runErr == nil {
		succeeded := models.StatusSucceeded
		full := 100
		empty := ""
		if _, err := w.pool.store.Update(task.JobID, models.JobUpdate{Status: &succeeded, ProgressPct: &full, ErrorMessage: &empty}); err != nil {
			log.Printf("[ERROR] Failed to mark job %s succeeded: %v", task.JobID, err)
		}
		if err := w.pool.db.Ack(task.ID); err != nil {
			log.Printf("[ERROR] Failed to ack task for job %s: %v", task.JobID, err)
		}
		log.Printf("[FINISH] JobID=%s WorkerID=%d Status=succeeded", task.JobID, w.id)
		return
	}

	w.settle(task, runErr)
}

// settle acts on the classifier's decision for a failed run. This is the
// only place a job's status may regress from RUNNING back to QUEUED.
func (w *worker) settle(task *queue.Task, runErr error) {
	decision := Decide(runErr, task.Attempt, w.pool.retry.MaxRetries, w.pool.retry.BaseDelay)

	if decision.Retry {
		queued := models.StatusQueued
		msg := decision.Message
		if _, err := w.pool.store.Update(task.JobID, models.JobUpdate{Status: &queued, ErrorMessage: &msg}); err != nil {
			log.Printf("[ERROR] Failed to mark job %s for retry: %v", task.JobID, err)
		}
		if err := w.pool.db.Requeue(task.ID, decision.After); err != nil {
			log.Printf("[ERROR] Failed to requeue job %s: %v", task.JobID, err)
		}
		log.Printf("[RETRY] JobID=%s WorkerID=%d Attempt=%d/%d Delay=%s Cause=%v",
			task.JobID, w.id, task.Attempt+1, w.pool.retry.MaxRetries, decision.After, runErr)
		return
	}

	failed := models.StatusFailed
	msg := decision.Message
	if _, err := w.pool.store.Update(task.JobID, models.JobUpdate{Status: &failed, ErrorMessage: &msg}); err != nil {
		log.Printf("[ERROR] Failed to mark job %s failed: %v", task.JobID, err)
	}
	if err := w.pool.db.Ack(task.ID); err != nil {
		log.Printf("[ERROR] Failed to ack task for job %s: %v", task.JobID, err)
	}
	log.Printf("[FAILED] JobID=%s WorkerID=%d Error=%v", task.JobID, w.id, runErr)
}

// execute runs the pipeline under the soft/hard wall-clock ceilings. The
// soft ceiling only logs intent; the hard one abandons the run.
func (w *worker) execute(ctx context.Context, jobID string) error {
	hardCtx, cancel := context.WithTimeout(ctx, w.pool.cfg.HardTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- w.pool.pipeline.Run(hardCtx, jobID)
	}()

	soft := time.NewTimer(w.pool.cfg.SoftTimeout)
	defer soft.Stop()

	select {
	case err := <-done:
		return err
	case <-soft.C:
		log.Printf("[WORKER-%d] Job %s exceeded soft ceiling (%s), hard kill in %s",
			w.id, jobID, w.pool.cfg.SoftTimeout, w.pool.cfg.HardTimeout-w.pool.cfg.SoftTimeout)
	}

	select {
	case err := <-done:
		return err
	case <-hardCtx.Done():
		return fmt.Errorf("job exceeded hard ceiling %s: %w", w.pool.cfg.HardTimeout, hardCtx.Err())
	}
}
