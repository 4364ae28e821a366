package pipeline

import (
	"context"
	"fmt"

	"studyforge/internal/store"
)

// Words-per-minute by pacing preset.
func wpmForPreset(preset string) int {
	switch preset {
	case "FAST":
		return 180
	case "EXAM":
		return 145
	default: // BALANCED
		return 165
	}
}

func motionStylesForPreset(preset string) []string {
	switch preset {
	case "FAST":
		return []string{"zoom_in", "pan_slow", "zoom_out", "static"}
	case "EXAM":
		return []string{"static", "static", "pan_slow"}
	default:
		return []string{"pan_slow", "static", "zoom_in", "static"}
	}
}

// runTimeline converts the script into timed segments. A missing script is a
// hard error; the pipeline never recomputes upstream artifacts implicitly.
func (env *Env) runTimeline(ctx context.Context, jobID string) error {
	jlog := store.NewJobLog(env.Store.Artifacts, jobID)
	art := env.Store.Artifacts

	if art.Exists(jobID, "render", "timeline.json") {
		jlog.Printf("CACHE HIT: timeline.json already exists, skipping")
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

	timeline := buildTimeline(script, job.Options.LengthSec, job.Options.CaptionStyle)
	if err := env.saveJSON(jobID, timeline, "render", "timeline.json"); err != nil {
		return err
	}

	jlog.Printf("Built timeline with %d segments, total duration: %.1fs",
		len(timeline.Segments), timeline.TotalDurationSec)
	return nil
}

func buildTimeline(script ScriptPlan, targetSec int, captionStyle string) TimelinePlan {
	target := float64(targetSec)
	wpm := wpmForPreset(script.StylePreset)
	motions := motionStylesForPreset(script.StylePreset)

	var segments []TimelineSegment
	current := 0.0

	for i, line := range script.ScriptLines {
		duration := estimateSpeechSeconds(line.Line, wpm)
		if duration < 2.0 {
			duration = 2.0
		}
		if target > 0 && current+duration > target {
			duration = target - current
			if duration < 1.0 {
				break
			}
		}

		var visual string
		for _, cue := range script.VisualCues {
			if cue.T >= current && cue.T < current+duration {
				visual = fmt.Sprintf("assets/cue_%d.png", int(cue.T))
				break
			}
		}

		var slideFrame *int
		if len(line.SourceSlideIndices) > 0 {
			idx := line.SourceSlideIndices[0]
			slideFrame = &idx
		}

		segments = append(segments, TimelineSegment{
			Index:           i,
			StartSec:        current,
			EndSec:          current + duration,
			NarrationText:   line.Line,
			EmphasisWords:   line.Emphasis,
			VisualAssetPath: visual,
			SlideFrameIndex: slideFrame,
			CaptionStyle:    captionStyle,
			MotionStyle:     motions[i%len(motions)],
		})
		current += duration
	}

	// Stretch the last segment to fill the target so the render never ends
	// on dead air.
	if len(segments) > 0 && target > 0 && current < target-1 {
		segments[len(segments)-1].EndSec = target
	}

	total := target
	if len(segments) > 0 {
		total = segments[len(segments)-1].EndSec
	}
	return TimelinePlan{Segments: segments, TotalDurationSec: total}
}
