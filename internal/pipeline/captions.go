package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"

	"studyforge/internal/store"
)

// runCaptions produces timed captions from the timeline segments and renders
// them as SRT alongside the json artifact.
func (env *Env) runCaptions(ctx context.Context, jobID string) error {
	jlog := store.NewJobLog(env.Store.Artifacts, jobID)
	art := env.Store.Artifacts

	if art.Exists(jobID, "captions", "captions.json") {
		jlog.Printf("CACHE HIT: captions.json already exists, skipping")
		return nil
	}

	if !art.Exists(jobID, "audio", "voice.wav") {
		return fmt.Errorf("voice.wav not found - voice stage must run first")
	}
	if !art.Exists(jobID, "render", "timeline.json") {
		return fmt.Errorf("timeline.json not found - timeline stage must run first")
	}

	var timeline TimelinePlan
	if err := env.loadJSON(jobID, &timeline, "render", "timeline.json"); err != nil {
		return err
	}

	captions := captionsFromTimeline(timeline)
	if err := env.saveJSON(jobID, captions, "captions", "captions.json"); err != nil {
		return err
	}

	srtPath := art.Path(jobID, "captions", "captions.srt")
	if err := os.WriteFile(srtPath, []byte(renderSRT(captions)), 0o644); err != nil {
		return err
	}

	jlog.Printf("Created %d caption segments", len(captions.Segments))
	return nil
}

// captionsFromTimeline emits one caption per timeline segment, splitting
// long narration lines across two captions for readability.
func captionsFromTimeline(timeline TimelinePlan) Captions {
	captions := Captions{Segments: []CaptionSegment{}}

	for _, seg := range timeline.Segments {
		text := strings.TrimSpace(seg.NarrationText)
		if text == "" {
			continue
		}

		words := strings.Fields(text)
		if len(words) <= 12 {
			captions.Segments = append(captions.Segments, CaptionSegment{
				StartSec: seg.StartSec, EndSec: seg.EndSec, Text: text,
			})
			continue
		}

		mid := len(words) / 2
		half := (seg.EndSec - seg.StartSec) / 2
		captions.Segments = append(captions.Segments,
			CaptionSegment{
				StartSec: seg.StartSec,
				EndSec:   seg.StartSec + half,
				Text:     strings.Join(words[:mid], " "),
			},
			CaptionSegment{
				StartSec: seg.StartSec + half,
				EndSec:   seg.EndSec,
				Text:     strings.Join(words[mid:], " "),
			},
		)
	}
	return captions
}

// renderSRT formats captions as SubRip.
func renderSRT(captions Captions) string {
	var b strings.Builder
	for i, seg := range captions.Segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1, srtTimestamp(seg.StartSec), srtTimestamp(seg.EndSec), seg.Text)
	}
	return b.String()
}

func srtTimestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	total := int(sec)
	millis := int((sec - float64(total)) * 1000)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", total/3600, (total%3600)/60, total%60, millis)
}
