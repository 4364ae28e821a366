package models

import "time"

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusQueued    JobStatus = "QUEUED"
	StatusRunning   JobStatus = "RUNNING"
	StatusSucceeded JobStatus = "SUCCEEDED"
	StatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether no further status transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// JobStage names one unit of the pipeline. Stages run in a fixed order.
type JobStage string

const (
	StageExtract  JobStage = "extract"
	StageScript   JobStage = "script"
	StageTimeline JobStage = "timeline"
	StageAssets   JobStage = "assets"
	StageVoice    JobStage = "voice"
	StageCaptions JobStage = "captions"
	StageRender   JobStage = "render"
	StageFinalize JobStage = "finalize"
)

// Input types for a job.
const (
	InputTopic = "topic"
	InputFile  = "file"
)

// JobOptions is the immutable configuration snapshot taken at job creation.
type JobOptions struct {
	Style        string `json:"style"`
	Duration     string `json:"duration"`
	Preset       string `json:"preset"`
	LengthSec    int    `json:"length_sec"`
	VoiceID      string `json:"voice_id"`
	CaptionStyle string `json:"caption_style"`
}

// DefaultOptions fills in the defaults the presets imply.
func DefaultOptions() JobOptions {
	return JobOptions{
		Style:        "standard",
		Duration:     "standard",
		Preset:       "BALANCED",
		LengthSec:    60,
		VoiceID:      "default",
		CaptionStyle: "bold",
	}
}

// Job is the persisted metadata record for one video generation request.
type Job struct {
	JobID         string     `json:"job_id"`
	Status        JobStatus  `json:"status"`
	Stage         JobStage   `json:"stage,omitempty"`
	ProgressPct   int        `json:"progress_pct"`
	Title         string     `json:"title"`
	InputType     string     `json:"input_type"`
	InputFilename string     `json:"input_filename,omitempty"`
	Options       JobOptions `json:"options"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

// JobUpdate carries partial fields for Store.Update. Nil means "leave unchanged".
type JobUpdate struct {
	Status       *JobStatus
	Stage        *JobStage
	ProgressPct  *int
	Title        *string
	ErrorMessage *string
}

// JobCreateRequest is the JSON body for topic-only job creation.
type JobCreateRequest struct {
	Topic   string      `json:"topic"`
	Outline string      `json:"outline,omitempty"`
	Options *JobOptions `json:"options,omitempty"`
}

// JobArtifacts holds download links, populated only once the job succeeded
// and each file actually exists.
type JobArtifacts struct {
	VideoURL string `json:"video_url,omitempty"`
	SrtURL   string `json:"srt_url,omitempty"`
	NotesURL string `json:"notes_url,omitempty"`
	AnkiURL  string `json:"anki_url,omitempty"`
}

// JobResponse is the shape returned by GET /jobs/{id}.
type JobResponse struct {
	JobID        string        `json:"job_id"`
	Status       JobStatus     `json:"status"`
	Stage        JobStage      `json:"stage,omitempty"`
	ProgressPct  int           `json:"progress_pct"`
	Title        string        `json:"title"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Artifacts    *JobArtifacts `json:"artifacts,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// ChangeEvent is the compact record published on every successful job write.
type ChangeEvent struct {
	JobID        string    `json:"job_id"`
	Status       JobStatus `json:"status"`
	Stage        JobStage  `json:"stage,omitempty"`
	ProgressPct  int       `json:"progress_pct"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// StreamEvent is one entry on the per-job event stream.
type StreamEvent struct {
	JobID       string    `json:"job_id"`
	Stage       string    `json:"stage"`
	ProgressPct int       `json:"progress_pct"`
	Message     string    `json:"message"`
	LogTail     []string  `json:"log_tail"`
	Timestamp   time.Time `json:"timestamp"`
}

// Metrics holds queue-wide counters for the dashboard.
type Metrics struct {
	TotalJobs     int64 `json:"total_jobs"`
	QueuedJobs    int64 `json:"queued_jobs"`
	RunningJobs   int64 `json:"running_jobs"`
	SucceededJobs int64 `json:"succeeded_jobs"`
	FailedJobs    int64 `json:"failed_jobs"`
	TotalRetries  int64 `json:"total_retries"`
}
