package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"studyforge/internal/providers"
	"studyforge/internal/store"
)

// runAssets resolves every visual cue in the script to an image on disk and
// picks a background loop and music track from the shared assets directory.
func (env *Env) runAssets(ctx context.Context, jobID string) error {
	jlog := store.NewJobLog(env.Store.Artifacts, jobID)
	art := env.Store.Artifacts

	if art.Exists(jobID, "assets", "assets_manifest.json") {
		jlog.Printf("CACHE HIT: assets_manifest.json already exists, skipping")
		return nil
	}

	if !art.Exists(jobID, "llm", "script.json") {
		return fmt.Errorf("script.json not found - script stage must run first")
	}
	var script ScriptPlan
	if err := env.loadJSON(jobID, &script, "llm", "script.json"); err != nil {
		return err
	}

	if err := os.MkdirAll(art.Path(jobID, "assets"), 0o755); err != nil {
		return err
	}

	manifest := AssetsManifest{Items: []AssetItem{}}

	for i, cue := range script.VisualCues {
		outPath := art.Path(jobID, "assets", fmt.Sprintf("cue_%d.png", int(cue.T)))
		name := env.fetchCueImage(ctx, cue.Query, outPath, i, jlog)
		jlog.Printf("Resolved cue %q via %s", cue.Query, name)
		manifest.Items = append(manifest.Items, AssetItem{
			Type:  "image",
			Path:  filepath.Join("assets", filepath.Base(outPath)),
			Query: cue.Query,
		})
	}

	if bg := pickFirstFile(filepath.Join(env.AssetsRoot, "bg_loops"), ".mp4", ".webm", ".mov"); bg != "" {
		manifest.Items = append(manifest.Items, AssetItem{Type: "bg_video", Path: bg})
	}
	if music := pickFirstFile(filepath.Join(env.AssetsRoot, "music"), ".mp3", ".wav", ".ogg", ".m4a"); music != "" {
		manifest.Items = append(manifest.Items, AssetItem{Type: "music", Path: music})
	}

	if err := env.saveJSON(jobID, manifest, "assets", "assets_manifest.json"); err != nil {
		return err
	}
	jlog.Printf("Assets manifest written with %d items", len(manifest.Items))
	return nil
}

// fetchCueImage tries the ranked image providers, then falls back to a
// generated title card. Returns the name of whatever produced the file.
func (env *Env) fetchCueImage(ctx context.Context, query, outPath string, seed int, jlog *store.JobLog) string {
	var attempts []providers.Attempt[struct{}]
	for _, p := range env.Images {
		prov := p
		attempts = append(attempts, providers.Attempt[struct{}]{
			Name: prov.Name(),
			Run: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, prov.Fetch(ctx, query, outPath)
			},
		})
	}

	if len(attempts) > 0 {
		if _, name, err := providers.FirstSuccess(ctx, attempts, jlog.Printf); err == nil {
			return name
		}
	}

	if err := providers.WriteTitleCard(outPath, seed); err != nil {
		jlog.Printf("Title card fallback failed: %v", err)
		return "none"
	}
	return "title_card"
}

// pickFirstFile returns the first file in dir with one of the extensions,
// empty string when the directory is absent or empty.
func pickFirstFile(dir string, exts ...string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range exts {
			if ext == want {
				return filepath.Join(dir, e.Name())
			}
		}
	}
	return ""
}
