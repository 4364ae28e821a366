package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"studyforge/internal/models"
	"studyforge/internal/providers"
	"studyforge/internal/store"
)

const scriptSystemPrompt = `You write short, punchy narration scripts for vertical study videos.
Respond with ONLY valid JSON, no preamble, no markdown. Shape:
{"title": "...", "style_preset": "...", "script_lines": [{"line": "...", "emphasis": ["word"]}], "visual_cues": [{"t": 5, "query": "search terms"}]}
Each line is one spoken sentence. Keep the whole script under the requested length when read at ~165 words per minute.`

type topicInput struct {
	Topic   string `json:"topic"`
	Outline string `json:"outline,omitempty"`
}

// runScript turns the topic or extracted slides into a narration script,
// trying the ranked LLM providers first and falling back to a template
// script when none is configured or all fail.
func (env *Env) runScript(ctx context.Context, jobID string) error {
	jlog := store.NewJobLog(env.Store.Artifacts, jobID)
	art := env.Store.Artifacts

	if art.Exists(jobID, "llm", "script.json") {
		jlog.Printf("CACHE HIT: script.json already exists, skipping generation")
		return nil
	}

	job, err := env.Store.GetFresh(jobID)
	if err != nil {
		return err
	}

	var slides SlidesExtracted
	if art.Exists(jobID, "extracted", "slides.json") {
		if err := env.loadJSON(jobID, &slides, "extracted", "slides.json"); err != nil {
			return err
		}
	}

	var topic topicInput
	if art.Exists(jobID, "input", "topic.json") {
		if err := env.loadJSON(jobID, &topic, "input", "topic.json"); err != nil {
			return err
		}
	}

	script, providerName := env.generateScript(ctx, jobID, topic, slides, job.Options, jlog)
	if providerName != "" {
		jlog.Printf("Generated script using %s", providerName)
	} else {
		jlog.Printf("LLM generation unavailable, using fallback script")
	}

	script = trimScriptToLength(script, job.Options.LengthSec)
	if script.StylePreset == "" {
		script.StylePreset = job.Options.Preset
	}

	if err := env.saveJSON(jobID, script, "llm", "script.json"); err != nil {
		return err
	}

	// The generated title becomes the job title clients see.
	if script.Title != "" {
		if _, err := env.Store.Update(jobID, models.JobUpdate{Title: &script.Title}); err != nil {
			return err
		}
	}

	jlog.Printf("Generated script with %d lines", len(script.ScriptLines))
	return nil
}

func (env *Env) generateScript(ctx context.Context, jobID string, topic topicInput, slides SlidesExtracted, opts models.JobOptions, jlog *store.JobLog) (ScriptPlan, string) {
	prompt := buildScriptPrompt(topic, slides, opts)

	var attempts []providers.Attempt[ScriptPlan]
	for _, p := range env.LLM {
		prov := p
		attempts = append(attempts, providers.Attempt[ScriptPlan]{
			Name: prov.Name(),
			Run: func(ctx context.Context) (ScriptPlan, error) {
				raw, err := prov.Generate(ctx, scriptSystemPrompt, prompt)
				if err != nil {
					return ScriptPlan{}, err
				}
				var plan ScriptPlan
				if err := json.Unmarshal([]byte(raw), &plan); err != nil {
					return ScriptPlan{}, fmt.Errorf("parse %s response: %w", prov.Name(), err)
				}
				if len(plan.ScriptLines) == 0 {
					return ScriptPlan{}, fmt.Errorf("%s returned empty script", prov.Name())
				}
				return plan, nil
			},
		})
	}

	if len(attempts) > 0 {
		if plan, name, err := providers.FirstSuccess(ctx, attempts, jlog.Printf); err == nil {
			return plan, name
		}
	}
	return fallbackScript(topic, slides, opts), ""
}

func buildScriptPrompt(topic topicInput, slides SlidesExtracted, opts models.JobOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Style: %s. Target length: %d seconds.\n", opts.Style, opts.LengthSec)

	if topic.Topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", topic.Topic)
		if topic.Outline != "" {
			fmt.Fprintf(&b, "Outline:\n%s\n", topic.Outline)
		}
	}
	if len(slides.Slides) > 0 {
		b.WriteString("Source material:\n")
		for _, s := range slides.Slides {
			fmt.Fprintf(&b, "- %s: %s\n", s.Title, strings.Join(s.Bullets, "; "))
		}
	}
	return b.String()
}

// fallbackScript builds a serviceable script with no LLM at all.
func fallbackScript(topic topicInput, slides SlidesExtracted, opts models.JobOptions) ScriptPlan {
	title := topic.Topic
	if title == "" && len(slides.Slides) > 0 {
		title = slides.Slides[0].Title
	}
	if title == "" {
		title = "Study Video"
	}

	plan := ScriptPlan{
		Title:       title,
		StylePreset: opts.Preset,
		VisualCues:  []VisualCue{{T: 0, Query: title}},
	}

	plan.ScriptLines = append(plan.ScriptLines, ScriptLine{
		Line: fmt.Sprintf("Let's break down %s in under a minute.", title),
	})
	for _, s := range slides.Slides {
		line := s.Title
		if len(s.Bullets) > 0 {
			line = fmt.Sprintf("%s: %s.", s.Title, strings.TrimRight(s.Bullets[0], "."))
		}
		plan.ScriptLines = append(plan.ScriptLines, ScriptLine{
			Line:               line,
			SourceSlideIndices: []int{s.Index},
		})
	}
	if topic.Outline != "" {
		for _, item := range strings.Split(topic.Outline, "\n") {
			if item = strings.TrimSpace(strings.TrimLeft(item, "-* ")); item != "" {
				plan.ScriptLines = append(plan.ScriptLines, ScriptLine{
					Line: fmt.Sprintf("Key point: %s.", strings.TrimRight(item, ".")),
				})
			}
		}
	}
	plan.ScriptLines = append(plan.ScriptLines, ScriptLine{
		Line: fmt.Sprintf("And that's %s. Rewatch if you need it to stick.", title),
	})
	return plan
}

// trimScriptToLength drops trailing lines until the estimated read time fits
// the requested length. The opener always survives.
func trimScriptToLength(plan ScriptPlan, lengthSec int) ScriptPlan {
	if lengthSec <= 0 {
		return plan
	}
	for len(plan.ScriptLines) > 1 && estimateSpeechSeconds(plan.Narration(), 165) > float64(lengthSec) {
		plan.ScriptLines = plan.ScriptLines[:len(plan.ScriptLines)-1]
	}
	return plan
}

// estimateSpeechSeconds approximates reading time from word count.
func estimateSpeechSeconds(text string, wpm int) float64 {
	words := len(strings.Fields(text))
	return float64(words) / float64(wpm) * 60
}
