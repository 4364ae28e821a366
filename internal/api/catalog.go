package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

type catalogEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

type styleEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type durationEntry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Range string `json:"range"`
}

// ListBackgrounds handles GET /assets/backgrounds.
func (s *Server) ListBackgrounds(w http.ResponseWriter, r *http.Request) {
	entries := listAssetDir(s.cfg.Storage.AssetsRoot, "bg_loops", []string{".mp4", ".webm", ".mov"})
	writeJSON(w, map[string]any{"backgrounds": entries, "total": len(entries)})
}

// ListMusic handles GET /assets/music.
func (s *Server) ListMusic(w http.ResponseWriter, r *http.Request) {
	entries := listAssetDir(s.cfg.Storage.AssetsRoot, "music", []string{".mp3", ".wav", ".ogg", ".m4a"})
	writeJSON(w, map[string]any{"tracks": entries, "total": len(entries)})
}

// ListStyles handles GET /assets/styles with the fixed style, duration and
// pacing-preset catalogs.
func (s *Server) ListStyles(w http.ResponseWriter, r *http.Request) {
	styles := []styleEntry{
		{"standard", "Standard", "Clear, educational tone with focused explanations"},
		{"unhinged", "Unhinged", "Chaotic Gen-Z energy, meme-heavy, no chill"},
		{"asmr", "ASMR", "Whispered, calming, soft-spoken narration"},
		{"gossip", "Gossip", "Dramatic storytelling, spilling the tea"},
		{"professor", "Professor", "Academic, authoritative, lecture-style"},
	}

	durations := []durationEntry{
		{"quick", "Quick", "20-45 seconds"},
		{"standard", "Standard", "45-80 seconds"},
		{"extended", "Extended", "2+ minutes"},
		{"custom", "Custom", "You choose"},
	}

	presets := []styleEntry{
		{"FAST", "Fast", "Quick cuts, high energy"},
		{"BALANCED", "Balanced", "Medium pacing"},
		{"EXAM", "Exam", "Slower, clear explanations"},
	}

	writeJSON(w, map[string]any{
		"styles":    styles,
		"durations": durations,
		"presets":   presets,
	})
}

// listAssetDir scans one asset subdirectory for files with the given
// extensions. A missing directory yields an empty catalog, not an error.
func listAssetDir(root, sub string, exts []string) []catalogEntry {
	entries := []catalogEntry{}

	files, err := os.ReadDir(filepath.Join(root, sub))
	if err != nil {
		return entries
	}

	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		allowed[e] = true
	}

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(f.Name()))
		if !allowed[ext] {
			continue
		}
		stem := strings.TrimSuffix(f.Name(), filepath.Ext(f.Name()))
		entries = append(entries, catalogEntry{
			ID:       stem,
			Name:     titleCase(strings.ReplaceAll(stem, "_", " ")),
			Filename: f.Name(),
			Path:     sub + "/" + f.Name(),
		})
	}
	return entries
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
