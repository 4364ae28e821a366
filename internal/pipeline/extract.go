package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"studyforge/internal/models"
	"studyforge/internal/store"
)

// runExtract pulls text content out of the uploaded document. Topic-only
// jobs get an empty slide set; the script stage works from the topic instead.
func (env *Env) runExtract(ctx context.Context, jobID string) error {
	jlog := store.NewJobLog(env.Store.Artifacts, jobID)
	art := env.Store.Artifacts

	if art.Exists(jobID, "extracted", "slides.json") {
		jlog.Printf("CACHE HIT: slides.json already exists, skipping extraction")
		return nil
	}
	if err := art.EnsureDirs(jobID); err != nil {
		return err
	}

	job, err := env.Store.GetFresh(jobID)
	if err != nil {
		return err
	}

	if job.InputType == models.InputTopic {
		jlog.Printf("Topic-only job, creating empty slides structure")
		return env.saveJSON(jobID, SlidesExtracted{Slides: []SlideData{}}, "extracted", "slides.json")
	}

	inputPath := art.Path(jobID, "input", job.InputFilename)
	if _, err := os.Stat(inputPath); err != nil {
		jlog.Printf("No input file found, creating empty slides structure")
		return env.saveJSON(jobID, SlidesExtracted{Slides: []SlideData{}}, "extracted", "slides.json")
	}

	var slides SlidesExtracted
	switch ext := strings.ToLower(filepath.Ext(job.InputFilename)); ext {
	case ".pdf":
		slides = extractPDF(ctx, inputPath, jlog)
	case ".txt", ".md", ".markdown", ".csv":
		slides = extractPlainText(inputPath, jlog)
	default:
		jlog.Printf("No extractor for %s, creating placeholder slide", ext)
		slides = placeholderSlides("Document content")
	}

	if err := env.saveJSON(jobID, slides, "extracted", "slides.json"); err != nil {
		return err
	}
	jlog.Printf("Extracted %d slides", len(slides.Slides))
	return nil
}

// extractPDF shells out to pdftotext, one slide per page. Falls back to a
// placeholder when the tool is missing or fails.
func extractPDF(ctx context.Context, path string, jlog *store.JobLog) SlidesExtracted {
	bin, err := exec.LookPath("pdftotext")
	if err != nil {
		jlog.Printf("pdftotext not installed, creating placeholder slide")
		return placeholderSlides("PDF content")
	}

	out, err := exec.CommandContext(ctx, bin, "-layout", path, "-").Output()
	if err != nil {
		jlog.Printf("PDF extraction error: %v", err)
		return placeholderSlides("PDF content")
	}

	var slides []SlideData
	for _, page := range strings.Split(string(out), "\f") {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		slides = append(slides, slideFromText(len(slides)+1, page))
	}
	if len(slides) == 0 {
		return placeholderSlides("PDF content")
	}
	return SlidesExtracted{Slides: slides}
}

// extractPlainText treats blank-line-separated blocks as slides.
func extractPlainText(path string, jlog *store.JobLog) SlidesExtracted {
	data, err := os.ReadFile(path)
	if err != nil {
		jlog.Printf("Read input failed: %v", err)
		return placeholderSlides("Document content")
	}

	var slides []SlideData
	for _, block := range strings.Split(string(data), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		slides = append(slides, slideFromText(len(slides)+1, block))
		if len(slides) >= 20 {
			break
		}
	}
	if len(slides) == 0 {
		return placeholderSlides("Document content")
	}
	return SlidesExtracted{Slides: slides}
}

// slideFromText uses the first line as title and the rest as bullets.
func slideFromText(index int, text string) SlideData {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	title := fmt.Sprintf("Slide %d", index)
	var bullets []string
	if len(lines) > 0 {
		title = lines[0]
		bullets = lines[1:]
	}
	if len(bullets) > 10 {
		bullets = bullets[:10]
	}
	return SlideData{Index: index, Title: title, Bullets: bullets, RawText: text}
}

func placeholderSlides(label string) SlidesExtracted {
	return SlidesExtracted{Slides: []SlideData{{
		Index:   1,
		Title:   label,
		Bullets: []string{"Content extracted from input"},
		RawText: label,
	}}}
}
