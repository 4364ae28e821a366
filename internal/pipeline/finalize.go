package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"studyforge/internal/providers"
	"studyforge/internal/store"
)

const quizSystemPrompt = `You write short study quizzes. Respond with ONLY valid JSON:
{"questions": [{"question": "...", "choices": ["a","b","c","d"], "answer": "..."}]}
Write 3 to 5 questions grounded strictly in the provided script.`

// runFinalize promotes the raw render to the output directory and generates
// the study extras: captions copy, notes.md, anki.csv, quiz.json and an
// output manifest.
func (env *Env) runFinalize(ctx context.Context, jobID string) error {
	jlog := store.NewJobLog(env.Store.Artifacts, jobID)
	art := env.Store.Artifacts

	if art.Exists(jobID, "output", "final.mp4") {
		jlog.Printf("CACHE HIT: final.mp4 already exists, skipping")
		return nil
	}

	if !art.Exists(jobID, "render", "video_raw.mp4") {
		return fmt.Errorf("video_raw.mp4 not found - render stage must run first")
	}

	if err := copyFile(art.Path(jobID, "render", "video_raw.mp4"), art.Path(jobID, "output", "final.mp4")); err != nil {
		return fmt.Errorf("promote final video: %w", err)
	}

	if art.Exists(jobID, "captions", "captions.srt") {
		if err := copyFile(art.Path(jobID, "captions", "captions.srt"), art.Path(jobID, "output", "captions.srt")); err != nil {
			jlog.Printf("Could not copy captions.srt: %v", err)
		}
	}

	// Extras are best-effort: a failed notes file must not fail the job.
	var script ScriptPlan
	if err := env.loadJSON(jobID, &script, "llm", "script.json"); err == nil {
		env.writeExtras(ctx, jobID, script, jlog)
	} else {
		jlog.Printf("Skipping extras, script unavailable: %v", err)
	}

	if err := env.writeOutputManifest(jobID); err != nil {
		jlog.Printf("Could not write output manifest: %v", err)
	}

	jlog.Printf("Finalize complete")
	return nil
}

func (env *Env) writeExtras(ctx context.Context, jobID string, script ScriptPlan, jlog *store.JobLog) {
	art := env.Store.Artifacts

	notes := buildNotesMarkdown(script)
	if err := os.WriteFile(art.Path(jobID, "output", "notes.md"), []byte(notes), 0o644); err != nil {
		jlog.Printf("Could not write notes.md: %v", err)
	}

	if err := writeAnkiCSV(art.Path(jobID, "output", "anki.csv"), script); err != nil {
		jlog.Printf("Could not write anki.csv: %v", err)
	}

	quiz := env.generateQuiz(ctx, script, jlog)
	if err := env.saveJSON(jobID, quiz, "output", "quiz.json"); err != nil {
		jlog.Printf("Could not write quiz.json: %v", err)
	}
}

func buildNotesMarkdown(script ScriptPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", script.Title)
	for _, line := range script.ScriptLines {
		fmt.Fprintf(&b, "- %s\n", line.Line)
	}
	return b.String()
}

func writeAnkiCSV(path string, script ScriptPlan) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	for i, line := range script.ScriptLines {
		front := fmt.Sprintf("%s - point %d?", script.Title, i+1)
		if err := w.Write([]string{front, line.Line}); err != nil {
			return err
		}
	}
	return w.Error()
}

// generateQuiz tries the ranked LLM providers, then falls back to template
// questions built from the script lines.
func (env *Env) generateQuiz(ctx context.Context, script ScriptPlan, jlog *store.JobLog) Quiz {
	var attempts []providers.Attempt[Quiz]
	for _, p := range env.LLM {
		prov := p
		attempts = append(attempts, providers.Attempt[Quiz]{
			Name: prov.Name(),
			Run: func(ctx context.Context) (Quiz, error) {
				raw, err := prov.Generate(ctx, quizSystemPrompt, "Script:\n"+script.Narration())
				if err != nil {
					return Quiz{}, err
				}
				var quiz Quiz
				if err := json.Unmarshal([]byte(raw), &quiz); err != nil {
					return Quiz{}, err
				}
				if len(quiz.Questions) == 0 {
					return Quiz{}, fmt.Errorf("%s returned empty quiz", prov.Name())
				}
				return quiz, nil
			},
		})
	}

	if len(attempts) > 0 {
		if quiz, name, err := providers.FirstSuccess(ctx, attempts, jlog.Printf); err == nil {
			jlog.Printf("Generated quiz using %s", name)
			return quiz
		}
		jlog.Printf("LLM quiz generation failed, using fallback")
	}

	quiz := Quiz{Questions: []QuizQuestion{}}
	for i, line := range script.ScriptLines {
		if i == 0 || i >= 4 {
			continue
		}
		quiz.Questions = append(quiz.Questions, QuizQuestion{
			Question: fmt.Sprintf("What does the video say about %s (point %d)?", script.Title, i),
			Answer:   line.Line,
		})
	}
	return quiz
}

func (env *Env) writeOutputManifest(jobID string) error {
	art := env.Store.Artifacts

	manifest := map[string]any{"artifacts": map[string]bool{}}
	files := map[string]bool{}
	for _, name := range []string{"final.mp4", "captions.srt", "notes.md", "anki.csv", "quiz.json"} {
		files[name] = art.Exists(jobID, "output", name)
	}
	manifest["artifacts"] = files

	if info, err := os.Stat(art.Path(jobID, "output", "final.mp4")); err == nil {
		manifest["size_bytes"] = info.Size()
	}
	return env.saveJSON(jobID, manifest, "output", "manifest.json")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
