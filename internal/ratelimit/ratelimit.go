package ratelimit

import (
	"log"
	"time"

	"studyforge/internal/queue"
)

// Counter scopes.
const (
	ScopeCreate   = "create"
	ScopeDownload = "download"
)

// Limiter enforces per-client hourly ceilings backed by the queue database's
// counter table. A counter backend failure fails open: the request proceeds.
type Limiter struct {
	db     *queue.DB
	limits map[string]int
}

// New creates a limiter with per-scope hourly ceilings.
func New(db *queue.DB, jobsPerHour, downloadsPerHour int) *Limiter {
	return &Limiter{
		db: db,
		limits: map[string]int{
			ScopeCreate:   jobsPerHour,
			ScopeDownload: downloadsPerHour,
		},
	}
}

// Allow records one request for (scope, client) in the current hourly window
// and reports whether the client is still under the ceiling.
func (l *Limiter) Allow(scope, client string) bool {
	limit, ok := l.limits[scope]
	if !ok || limit <= 0 {
		return true
	}

	window := time.Now().UTC().Truncate(time.Hour)
	n, err := l.db.IncrCounter(scope, client, window)
	if err != nil {
		log.Printf("[RATE_LIMIT] Counter backend error, failing open: %v", err)
		return true
	}
	return n <= limit
}

// Prune drops counter windows older than two hours. Run periodically.
func (l *Limiter) Prune() {
	cutoff := time.Now().UTC().Add(-2 * time.Hour)
	if err := l.db.PruneCounters(cutoff); err != nil {
		log.Printf("[RATE_LIMIT] Failed to prune counters: %v", err)
	}
}
