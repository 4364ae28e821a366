package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"studyforge/internal/config"
	"studyforge/internal/models"
	"studyforge/internal/notify"
	"studyforge/internal/store"
)

// Server streams live job status events to SSE subscribers. Each connection
// moves through open (reconnect hint + current state), streaming (push via
// the notifier, or polling when no notifier is wired) and teardown, which
// always runs no matter how streaming ended.
type Server struct {
	store    *store.Store
	broker   *notify.Broker
	cfg      config.StreamConfig
	registry *Registry
}

// New creates the stream server. broker may be nil; connections then run in
// poll mode.
func New(st *store.Store, broker *notify.Broker, cfg config.StreamConfig) *Server {
	return &Server{
		store:    st,
		broker:   broker,
		cfg:      cfg,
		registry: NewRegistry(cfg.MaxSubscribers),
	}
}

// Registry returns the subscriber registry, exposed for accounting.
func (s *Server) Registry() *Registry {
	return s.registry
}

// ServeJob handles one GET /jobs/{id}/events connection.
func (s *Server) ServeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.store.Get(jobID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to load job", http.StatusInternalServerError)
		return
	}

	sub, ok := s.registry.Add(jobID)
	if !ok {
		http.Error(w, "Too many subscribers for this job", http.StatusTooManyRequests)
		return
	}
	defer s.registry.Remove(jobID, sub.ID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fmt.Fprintf(w, "retry: %d\n\n", s.cfg.RetryHintMS)
	flusher.Flush()

	conn := &connection{
		server:   s,
		jobID:    jobID,
		w:        w,
		flusher:  flusher,
		lastSeen: job.Status,
		lastPct:  job.ProgressPct,
	}

	conn.emit(job)
	if job.Status.Terminal() {
		return
	}

	if s.broker != nil {
		conn.streamPush(r)
	} else {
		conn.streamPoll(r)
	}
}

// connection is the streaming state for one subscriber.
type connection struct {
	server   *Server
	jobID    string
	w        http.ResponseWriter
	flusher  http.Flusher
	lastSeen models.JobStatus
	lastPct  int
	lastSend time.Time
}

// streamPush waits on notifier events, re-reading the record on each one.
// Internal errors never surface to the client; they just end the stream.
func (c *connection) streamPush(r *http.Request) {
	events, cancel := c.server.broker.Subscribe(c.jobID)
	defer cancel()

	lifetime := time.NewTimer(c.server.cfg.MaxLifetime)
	defer lifetime.Stop()
	keepalive := time.NewTicker(c.server.cfg.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-lifetime.C:
			return
		case _, open := <-events:
			if !open {
				// Broker shut down mid-stream; degrade to polling.
				c.streamPoll(r)
				return
			}
			if done := c.checkAndEmit(); done {
				return
			}
		case <-keepalive.C:
			// A dropped notification must not wedge the stream: re-check
			// state on the keepalive cadence too.
			if done := c.checkAndEmit(); done {
				return
			}
			c.keepaliveComment()
		}
	}
}

// streamPoll re-reads the job record on a fixed interval. A poller goroutine
// feeds a bounded buffer; when the buffer is full events are dropped rather
// than stalling the poller.
func (c *connection) streamPoll(r *http.Request) {
	buffer := make(chan models.Job, c.server.cfg.BufferSize)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		ticker := time.NewTicker(c.server.cfg.PollInterval)
		defer ticker.Stop()
		defer close(buffer)
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				job, err := c.server.store.Get(c.jobID)
				if err != nil {
					// No new information this tick.
					continue
				}
				select {
				case buffer <- job:
				default:
					log.Printf("[SSE] Buffer full for job %s, dropping event", c.jobID)
				}
				if job.Status.Terminal() {
					return
				}
			}
		}
	}()

	lifetime := time.NewTimer(c.server.cfg.MaxLifetime)
	defer lifetime.Stop()
	keepalive := time.NewTicker(c.server.cfg.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-lifetime.C:
			return
		case job, open := <-buffer:
			if !open {
				return
			}
			if job.Status != c.lastSeen || job.ProgressPct != c.lastPct {
				c.emit(job)
			}
			if job.Status.Terminal() {
				return
			}
		case <-keepalive.C:
			c.keepaliveComment()
		}
	}
}

// checkAndEmit re-reads the record, emits when status or progress moved and
// reports whether the stream should close.
func (c *connection) checkAndEmit() bool {
	job, err := c.server.store.Get(c.jobID)
	if err != nil {
		// Record unreadable (possibly deleted); stop streaming quietly.
		return errors.Is(err, store.ErrNotFound)
	}
	if job.Status != c.lastSeen || job.ProgressPct != c.lastPct {
		c.emit(job)
	}
	return job.Status.Terminal()
}

func (c *connection) emit(job models.Job) {
	stage := string(job.Stage)
	if stage == "" {
		stage = "queued"
	}
	ev := models.StreamEvent{
		JobID:       job.JobID,
		Stage:       stage,
		ProgressPct: job.ProgressPct,
		Message:     fmt.Sprintf("Job status: %s", job.Status),
		LogTail:     c.server.store.Artifacts.LogTail(job.JobID, 10),
		Timestamp:   time.Now().UTC(),
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(c.w, "data: %s\n\n", data)
	c.flusher.Flush()

	c.lastSeen = job.Status
	c.lastPct = job.ProgressPct
	c.lastSend = time.Now()
}

// keepaliveComment writes an SSE comment when nothing real has been sent for
// a full keepalive interval.
func (c *connection) keepaliveComment() {
	if time.Since(c.lastSend) < c.server.cfg.Keepalive {
		return
	}
	fmt.Fprint(c.w, ": keepalive\n\n")
	c.flusher.Flush()
	c.lastSend = time.Now()
}

// Subscriber is the ephemeral per-connection record.
type Subscriber struct {
	ID          string
	ConnectedAt time.Time
}

// Registry is the explicitly-owned subscriber map, keyed by job id. It is
// constructed with the server and enforces the per-job admission cap.
type Registry struct {
	mu    sync.Mutex
	max   int
	byJob map[string]map[string]Subscriber
}

// NewRegistry creates a registry with a per-job subscriber ceiling.
func NewRegistry(maxPerJob int) *Registry {
	return &Registry{
		max:   maxPerJob,
		byJob: make(map[string]map[string]Subscriber),
	}
}

// Add admits a new subscriber unless the job is at capacity.
func (r *Registry) Add(jobID string) (Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.byJob[jobID]) >= r.max {
		return Subscriber{}, false
	}
	sub := Subscriber{ID: uuid.NewString(), ConnectedAt: time.Now()}
	if r.byJob[jobID] == nil {
		r.byJob[jobID] = make(map[string]Subscriber)
	}
	r.byJob[jobID][sub.ID] = sub
	return sub, true
}

// Remove drops a subscriber record. Idempotent.
func (r *Registry) Remove(jobID, subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.byJob[jobID]; ok {
		delete(m, subID)
		if len(m) == 0 {
			delete(r.byJob, jobID)
		}
	}
}

// Count returns the number of live subscribers for a job.
func (r *Registry) Count(jobID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byJob[jobID])
}
