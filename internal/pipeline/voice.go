package pipeline

import (
	"context"
	"fmt"

	"studyforge/internal/providers"
	"studyforge/internal/store"
)

// runVoice synthesizes the narration track. Providers are tried in rank
// order; if all fail the stage writes silent audio so downstream stages can
// still produce a video.
func (env *Env) runVoice(ctx context.Context, jobID string) error {
	jlog := store.NewJobLog(env.Store.Artifacts, jobID)
	art := env.Store.Artifacts

	if art.Exists(jobID, "audio", "voice.wav") {
		jlog.Printf("CACHE HIT: voice.wav already exists, skipping")
		return nil
	}

	if !art.Exists(jobID, "llm", "script.json") {
		return fmt.Errorf("script.json not found - script stage must run first")
	}
	var script ScriptPlan
	if err := env.loadJSON(jobID, &script, "llm", "script.json"); err != nil {
		return err
	}

	job, err := env.Store.GetFresh(jobID)
	if err != nil {
		return err
	}

	narration := script.Narration()
	outPath := art.Path(jobID, "audio", "voice.wav")

	var attempts []providers.Attempt[struct{}]
	for _, p := range env.TTS {
		prov := p
		attempts = append(attempts, providers.Attempt[struct{}]{
			Name: prov.Name(),
			Run: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, prov.Synthesize(ctx, narration, job.Options.VoiceID, outPath)
			},
		})
	}

	if len(attempts) > 0 {
		if _, name, err := providers.FirstSuccess(ctx, attempts, jlog.Printf); err == nil {
			jlog.Printf("Voice generation completed using %s", name)
			return nil
		}
	}

	// Absolute fallback: silence sized to the timeline, or a minute if the
	// timeline is unreadable.
	seconds := 60
	var timeline TimelinePlan
	if art.Exists(jobID, "render", "timeline.json") {
		if err := env.loadJSON(jobID, &timeline, "render", "timeline.json"); err == nil && timeline.TotalDurationSec > 0 {
			seconds = int(timeline.TotalDurationSec) + 1
		}
	}
	if err := providers.WriteSilentWav(outPath, seconds); err != nil {
		return fmt.Errorf("silent audio fallback: %w", err)
	}
	jlog.Printf("All TTS providers failed, using silent audio")
	return nil
}
