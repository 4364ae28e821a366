package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"studyforge/internal/store"
)

// runRender assembles the raw video with ffmpeg: image slideshow when cue
// images exist, otherwise a plain color background, with the narration
// track muxed in. A failed slideshow falls back to the simple render before
// the stage gives up.
func (env *Env) runRender(ctx context.Context, jobID string) error {
	jlog := store.NewJobLog(env.Store.Artifacts, jobID)
	art := env.Store.Artifacts

	if art.Exists(jobID, "render", "video_raw.mp4") {
		jlog.Printf("CACHE HIT: video_raw.mp4 already exists, skipping")
		return nil
	}

	if !art.Exists(jobID, "render", "timeline.json") {
		return fmt.Errorf("timeline.json not found - timeline stage must run first")
	}
	var timeline TimelinePlan
	if err := env.loadJSON(jobID, &timeline, "render", "timeline.json"); err != nil {
		return err
	}

	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH")
	}

	outPath := art.Path(jobID, "render", "video_raw.mp4")
	voicePath := art.Path(jobID, "audio", "voice.wav")
	duration := timeline.TotalDurationSec
	if duration <= 0 {
		duration = 60
	}

	var manifest AssetsManifest
	if art.Exists(jobID, "assets", "assets_manifest.json") {
		_ = env.loadJSON(jobID, &manifest, "assets", "assets_manifest.json")
	}

	images := collectImages(art, jobID, manifest)
	if len(images) > 0 {
		if err := renderSlideshow(ctx, art, jobID, images, voicePath, outPath, duration); err == nil {
			jlog.Printf("Rendered slideshow video (%d images, %.1fs)", len(images), duration)
			return nil
		} else {
			jlog.Printf("Slideshow render failed, falling back to simple render: %v", err)
		}
	}

	if err := renderSimple(ctx, voicePath, outPath, duration); err != nil {
		return fmt.Errorf("render video: %w", err)
	}
	jlog.Printf("Rendered simple video (%.1fs)", duration)
	return nil
}

func collectImages(art *store.Artifacts, jobID string, manifest AssetsManifest) []string {
	var images []string
	for _, item := range manifest.Items {
		if item.Type != "image" {
			continue
		}
		path := art.Path(jobID, item.Path)
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			images = append(images, path)
		}
	}
	return images
}

// renderSlideshow loops the cue images evenly across the duration using the
// concat demuxer, then muxes the voice track.
func renderSlideshow(ctx context.Context, art *store.Artifacts, jobID string, images []string, voicePath, outPath string, duration float64) error {
	per := duration / float64(len(images))

	var list strings.Builder
	for _, img := range images {
		fmt.Fprintf(&list, "file '%s'\nduration %.3f\n", img, per)
	}
	// concat demuxer needs the last entry repeated without a duration
	fmt.Fprintf(&list, "file '%s'\n", images[len(images)-1])

	listPath := art.Path(jobID, "render", "concat_list.txt")
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return err
	}

	args := []string{
		"-y",
		"-f", "concat", "-safe", "0", "-i", listPath,
		"-i", voicePath,
		"-vf", "scale=1080:1920:force_original_aspect_ratio=decrease,pad=1080:1920:(ow-iw)/2:(oh-ih)/2,format=yuv420p",
		"-c:v", "libx264", "-preset", "fast",
		"-c:a", "aac", "-shortest",
		"-t", fmt.Sprintf("%.2f", duration),
		outPath,
	}
	return runFFmpeg(ctx, args)
}

// renderSimple paints a solid background for the full duration under the
// narration track.
func renderSimple(ctx context.Context, voicePath, outPath string, duration float64) error {
	args := []string{
		"-y",
		"-f", "lavfi", "-i", fmt.Sprintf("color=c=0x1e293b:s=1080x1920:d=%.2f", duration),
		"-i", voicePath,
		"-c:v", "libx264", "-preset", "fast", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-shortest",
		outPath,
	}
	return runFFmpeg(ctx, args)
}

func runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		tail := string(out)
		if len(tail) > 300 {
			tail = tail[len(tail)-300:]
		}
		return fmt.Errorf("ffmpeg: %v: %s", err, tail)
	}
	return nil
}
