package pipeline

import (
	"strings"
	"testing"
)

func scriptWithLines(preset string, lines ...string) ScriptPlan {
	plan := ScriptPlan{Title: "Test", StylePreset: preset}
	for _, l := range lines {
		plan.ScriptLines = append(plan.ScriptLines, ScriptLine{Line: l})
	}
	return plan
}

func TestWpmForPreset(t *testing.T) {
	if got := wpmForPreset("FAST"); got != 180 {
		t.Errorf("FAST wpm = %d", got)
	}
	if got := wpmForPreset("EXAM"); got != 145 {
		t.Errorf("EXAM wpm = %d", got)
	}
	if got := wpmForPreset("BALANCED"); got != 165 {
		t.Errorf("BALANCED wpm = %d", got)
	}
	if got := wpmForPreset("unknown"); got != 165 {
		t.Errorf("unknown preset should default to balanced, got %d", got)
	}
}

func TestBuildTimelineSegmentsAreContiguous(t *testing.T) {
	script := scriptWithLines("BALANCED",
		"Photosynthesis turns light into chemical energy.",
		"It happens in the chloroplasts of plant cells.",
		"The products are glucose and oxygen.",
	)

	timeline := buildTimeline(script, 60, "bold")
	if len(timeline.Segments) != 3 {
		t.Fatalf("segment count = %d, want 3", len(timeline.Segments))
	}

	for i, seg := range timeline.Segments {
		if seg.EndSec <= seg.StartSec {
			t.Errorf("segment %d has non-positive duration: %+v", i, seg)
		}
		if seg.EndSec-seg.StartSec < 2.0 && i < len(timeline.Segments)-1 {
			t.Errorf("segment %d shorter than the 2s floor", i)
		}
		if i > 0 && seg.StartSec != timeline.Segments[i-1].EndSec {
			t.Errorf("gap before segment %d", i)
		}
		if seg.CaptionStyle != "bold" {
			t.Errorf("segment %d caption style = %q", i, seg.CaptionStyle)
		}
	}
}

func TestBuildTimelineLastSegmentFillsTarget(t *testing.T) {
	script := scriptWithLines("BALANCED", "Short line.")
	timeline := buildTimeline(script, 30, "bold")

	if timeline.TotalDurationSec != 30 {
		t.Errorf("total = %.1f, want 30 (last segment stretched)", timeline.TotalDurationSec)
	}
	last := timeline.Segments[len(timeline.Segments)-1]
	if last.EndSec != 30 {
		t.Errorf("last segment end = %.1f, want 30", last.EndSec)
	}
}

func TestBuildTimelineCapsAtTarget(t *testing.T) {
	long := strings.Repeat("word ", 200)
	script := scriptWithLines("EXAM", long, long, long, long, long)

	timeline := buildTimeline(script, 20, "bold")
	if timeline.TotalDurationSec > 20 {
		t.Errorf("total = %.1f exceeds 20s target", timeline.TotalDurationSec)
	}
}

func TestCaptionsFromTimelineSplitsLongLines(t *testing.T) {
	timeline := TimelinePlan{Segments: []TimelineSegment{
		{StartSec: 0, EndSec: 4, NarrationText: "Short caption here."},
		{StartSec: 4, EndSec: 12, NarrationText: strings.Repeat("word ", 20)},
		{StartSec: 12, EndSec: 14, NarrationText: "   "},
	}}

	captions := captionsFromTimeline(timeline)
	if len(captions.Segments) != 3 {
		t.Fatalf("caption count = %d, want 3 (1 short + 2 halves, blank skipped)", len(captions.Segments))
	}

	first, second := captions.Segments[1], captions.Segments[2]
	if first.EndSec != 8 || second.StartSec != 8 {
		t.Errorf("split not at the midpoint: %.1f / %.1f", first.EndSec, second.StartSec)
	}
	if len(strings.Fields(first.Text)) != 10 || len(strings.Fields(second.Text)) != 10 {
		t.Errorf("words not halved: %d / %d", len(strings.Fields(first.Text)), len(strings.Fields(second.Text)))
	}
}

func TestRenderSRTFormat(t *testing.T) {
	captions := Captions{Segments: []CaptionSegment{
		{StartSec: 0, EndSec: 2.5, Text: "Hello"},
		{StartSec: 61.25, EndSec: 65, Text: "World"},
	}}

	srt := renderSRT(captions)
	if !strings.Contains(srt, "1\n00:00:00,000 --> 00:00:02,500\nHello\n") {
		t.Errorf("first cue malformed:\n%s", srt)
	}
	if !strings.Contains(srt, "2\n00:01:01,250 --> 00:01:05,000\nWorld\n") {
		t.Errorf("second cue malformed:\n%s", srt)
	}
}
