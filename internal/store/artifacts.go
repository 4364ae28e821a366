package store

import (
	"os"
	"path/filepath"
)

// Stage subdirectories under every job root. This layout is the contract the
// stage functions rely on for their idempotency checks.
var jobSubdirs = []string{
	"input", "extracted", "llm", "assets",
	"audio", "captions", "render", "output", "logs",
}

// Artifacts resolves paths inside the per-job directory tree rooted at Root.
type Artifacts struct {
	Root string
}

// JobDir returns the root directory for one job.
func (a *Artifacts) JobDir(jobID string) string {
	return filepath.Join(a.Root, "jobs", jobID)
}

// Path resolves a file path relative to the job root.
func (a *Artifacts) Path(jobID string, parts ...string) string {
	return filepath.Join(append([]string{a.JobDir(jobID)}, parts...)...)
}

// EnsureDirs creates the full subdirectory set for a job. Safe to call on a
// tree that already exists, and used by in-flight workers to recreate
// directories after an external delete.
func (a *Artifacts) EnsureDirs(jobID string) error {
	for _, sub := range jobSubdirs {
		if err := os.MkdirAll(a.Path(jobID, sub), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether the artifact at the given relative path exists and
// is non-empty. Existence plus non-zero size is the sole completion signal
// for a stage.
func (a *Artifacts) Exists(jobID string, parts ...string) bool {
	info, err := os.Stat(a.Path(jobID, parts...))
	return err == nil && info.Size() > 0
}

// Delete removes the entire job subtree.
func (a *Artifacts) Delete(jobID string) error {
	return os.RemoveAll(a.JobDir(jobID))
}
