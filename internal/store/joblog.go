package store

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// JobLog appends timestamped lines to the per-job log file. The last few
// lines of this file travel with every stream event.
type JobLog struct {
	artifacts *Artifacts
	jobID     string
}

// NewJobLog returns a logger for one job. The logs directory is created lazily
// on first write.
func NewJobLog(artifacts *Artifacts, jobID string) *JobLog {
	return &JobLog{artifacts: artifacts, jobID: jobID}
}

func (l *JobLog) path() string {
	return l.artifacts.Path(l.jobID, "logs", "job.log")
}

// Printf appends one formatted line. Log failures are swallowed: the log is
// advisory and must never fail a stage.
func (l *JobLog) Printf(format string, args ...any) {
	line := fmt.Sprintf("%s | %s\n",
		time.Now().UTC().Format("2006-01-02 15:04:05"),
		fmt.Sprintf(format, args...))

	if err := os.MkdirAll(l.artifacts.Path(l.jobID, "logs"), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(l.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(line)
}

// LogTail returns up to n trailing lines of the job log, empty-slice if the
// log does not exist yet.
func (a *Artifacts) LogTail(jobID string, n int) []string {
	data, err := os.ReadFile(a.Path(jobID, "logs", "job.log"))
	if err != nil {
		return []string{}
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
