package pipeline

// Artifact shapes exchanged between stages. Every stage reads its inputs
// from these files and writes its own; nothing is passed in memory.

// SlideData is one extracted page/slide of the input document.
type SlideData struct {
	Index         int      `json:"index"`
	Title         string   `json:"title"`
	Bullets       []string `json:"bullets"`
	RawText       string   `json:"raw_text"`
	RenderedImage string   `json:"rendered_image,omitempty"`
}

// SlidesExtracted is the extract stage's canonical output (extracted/slides.json).
type SlidesExtracted struct {
	Slides []SlideData `json:"slides"`
}

// ScriptLine is one spoken line of the narration.
type ScriptLine struct {
	Line               string   `json:"line"`
	Emphasis           []string `json:"emphasis,omitempty"`
	SourceSlideIndices []int    `json:"source_slide_indices,omitempty"`
}

// VisualCue asks for an illustrative image at a point in time.
type VisualCue struct {
	T     float64 `json:"t"`
	Query string  `json:"query"`
}

// ScriptPlan is the script stage's canonical output (llm/script.json).
type ScriptPlan struct {
	Title       string       `json:"title"`
	StylePreset string       `json:"style_preset"`
	ScriptLines []ScriptLine `json:"script_lines"`
	VisualCues  []VisualCue  `json:"visual_cues,omitempty"`
}

// Narration joins all script lines into the full spoken text.
func (s *ScriptPlan) Narration() string {
	text := ""
	for i, line := range s.ScriptLines {
		if i > 0 {
			text += " "
		}
		text += line.Line
	}
	return text
}

// TimelineSegment maps one narration line onto the video timeline.
type TimelineSegment struct {
	Index           int      `json:"index"`
	StartSec        float64  `json:"start_sec"`
	EndSec          float64  `json:"end_sec"`
	NarrationText   string   `json:"narration_text"`
	EmphasisWords   []string `json:"emphasis_words,omitempty"`
	VisualAssetPath string   `json:"visual_asset_path,omitempty"`
	SlideFrameIndex *int     `json:"slide_frame_index,omitempty"`
	CaptionStyle    string   `json:"caption_style"`
	MotionStyle     string   `json:"motion_style"`
}

// TimelinePlan is the timeline stage's canonical output (render/timeline.json).
type TimelinePlan struct {
	Segments         []TimelineSegment `json:"segments"`
	TotalDurationSec float64           `json:"total_duration_sec"`
}

// AssetItem is one resolved visual or audio asset.
type AssetItem struct {
	Type  string `json:"type"` // image, bg_video, music
	Path  string `json:"path"`
	Query string `json:"query,omitempty"`
}

// AssetsManifest is the assets stage's canonical output (assets/assets_manifest.json).
type AssetsManifest struct {
	Items []AssetItem `json:"items"`
}

// CaptionSegment is one timed caption.
type CaptionSegment struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text"`
}

// Captions is the captions stage's canonical output (captions/captions.json).
type Captions struct {
	Segments []CaptionSegment `json:"segments"`
}

// QuizQuestion is one generated flashcard-style question.
type QuizQuestion struct {
	Question string   `json:"question"`
	Choices  []string `json:"choices,omitempty"`
	Answer   string   `json:"answer"`
}

// Quiz holds the study extras generated during finalize.
type Quiz struct {
	Questions []QuizQuestion `json:"questions"`
}
