package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"studyforge/internal/models"
	"studyforge/internal/providers"
	"studyforge/internal/store"
)

// StageFunc is one pipeline stage. It receives only the job id and derives
// everything else from the artifact tree. If its canonical output already
// exists and is non-empty it must return immediately without side effects.
type StageFunc func(ctx context.Context, jobID string) error

// Stage couples a stage function with its name and progress bounds: Enter is
// set just before the body runs, Exit just after it returns clean.
type Stage struct {
	Name  models.JobStage
	Enter int
	Exit  int
	Run   StageFunc
}

// Pipeline drives the fixed stage sequence for one job. It never retries or
// classifies failures; a stage error aborts the run and propagates to the
// task runner as-is. Because every stage checks its own artifact first, the
// whole pipeline can be re-run from the top after any failure and it fast
// forwards to the first incomplete stage.
type Pipeline struct {
	store  *store.Store
	stages []Stage
}

// New builds a pipeline over an explicit stage list. Tests use this with
// synthetic stages; production uses Default.
func New(st *store.Store, stages []Stage) *Pipeline {
	return &Pipeline{store: st, stages: stages}
}

// Env carries the collaborators the real stage bodies need.
type Env struct {
	Store      *store.Store
	LLM        []providers.LLMProvider
	TTS        []providers.TTSProvider
	Images     []providers.ImageProvider
	AssetsRoot string
}

// Default builds the production pipeline in its fixed order.
func Default(env *Env) *Pipeline {
	return New(env.Store, []Stage{
		{models.StageExtract, 0, 10, env.runExtract},
		{models.StageScript, 10, 25, env.runScript},
		{models.StageTimeline, 25, 35, env.runTimeline},
		{models.StageAssets, 35, 50, env.runAssets},
		{models.StageVoice, 50, 65, env.runVoice},
		{models.StageCaptions, 65, 80, env.runCaptions},
		{models.StageRender, 80, 95, env.runRender},
		{models.StageFinalize, 95, 100, env.runFinalize},
	})
}

// Run executes all stages in order for one job.
func (p *Pipeline) Run(ctx context.Context, jobID string) error {
	if _, err := p.store.GetFresh(jobID); err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	jlog := store.NewJobLog(p.store.Artifacts, jobID)

	for _, s := range p.stages {
		if err := ctx.Err(); err != nil {
			return err
		}

		stage := s.Name
		enter := s.Enter
		if _, err := p.store.Update(jobID, models.JobUpdate{Stage: &stage, ProgressPct: &enter}); err != nil {
			return fmt.Errorf("update before stage %s: %w", s.Name, err)
		}

		jlog.Printf("Starting stage: %s", s.Name)
		if err := s.Run(ctx, jobID); err != nil {
			jlog.Printf("Stage %s failed: %v", s.Name, err)
			return fmt.Errorf("stage %s: %w", s.Name, err)
		}
		jlog.Printf("Completed stage: %s", s.Name)

		exit := s.Exit
		if _, err := p.store.Update(jobID, models.JobUpdate{ProgressPct: &exit}); err != nil {
			return fmt.Errorf("update after stage %s: %w", s.Name, err)
		}
	}

	jlog.Printf("Pipeline completed successfully")
	return nil
}

// loadJSON reads a json artifact into out, mapping a missing file to a plain
// not-found error so the classifier treats it as permanent.
func (env *Env) loadJSON(jobID string, out any, parts ...string) error {
	path := env.Store.Artifacts.Path(jobID, parts...)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s not found", filepath.Base(path))
		}
		return err
	}
	return json.Unmarshal(data, out)
}

// saveJSON writes a json artifact, creating the parent directory. Artifacts
// of deleted jobs are recreated rather than treated as a race.
func (env *Env) saveJSON(jobID string, v any, parts ...string) error {
	path := env.Store.Artifacts.Path(jobID, parts...)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
