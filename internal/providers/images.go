package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// ImageProvider fetches one illustrative image for a search query and saves
// it at outPath.
type ImageProvider interface {
	Name() string
	Fetch(ctx context.Context, query, outPath string) error
}

// RankedImages returns image sources in priority order: Openverse (no key
// required), then Pexels when a key is configured.
func RankedImages() []ImageProvider {
	provs := []ImageProvider{&Openverse{}}
	if key := os.Getenv("PEXELS_API_KEY"); key != "" {
		provs = append(provs, &Pexels{APIKey: key})
	}
	return provs
}

var imageClient = &http.Client{Timeout: 30 * time.Second}

// Openverse searches the openly-licensed image catalog.
type Openverse struct{}

func (p *Openverse) Name() string { return "openverse" }

func (p *Openverse) Fetch(ctx context.Context, query, outPath string) error {
	searchURL := fmt.Sprintf(
		"https://api.openverse.org/v1/images/?q=%s&page_size=1&license_type=all-cc",
		url.QueryEscape(query))

	var result struct {
		Results []struct {
			URL string `json:"url"`
		} `json:"results"`
	}
	if err := getJSON(ctx, searchURL, nil, &result); err != nil {
		return err
	}
	if len(result.Results) == 0 {
		return fmt.Errorf("openverse: no results for %q", query)
	}
	return downloadFile(ctx, result.Results[0].URL, nil, outPath)
}

// Pexels searches stock photos; needs an API key.
type Pexels struct {
	APIKey string
}

func (p *Pexels) Name() string { return "pexels" }

func (p *Pexels) Fetch(ctx context.Context, query, outPath string) error {
	searchURL := fmt.Sprintf(
		"https://api.pexels.com/v1/search?query=%s&per_page=1",
		url.QueryEscape(query))
	headers := map[string]string{"Authorization": p.APIKey}

	var result struct {
		Photos []struct {
			Src struct {
				Large string `json:"large"`
			} `json:"src"`
		} `json:"photos"`
	}
	if err := getJSON(ctx, searchURL, headers, &result); err != nil {
		return err
	}
	if len(result.Photos) == 0 {
		return fmt.Errorf("pexels: no results for %q", query)
	}
	return downloadFile(ctx, result.Photos[0].Src.Large, headers, outPath)
}

func getJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := imageClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, req.URL.Host)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func downloadFile(ctx context.Context, rawURL string, headers map[string]string, outPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := imageClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d downloading image", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) < 100 {
		return fmt.Errorf("image response too small (%d bytes)", len(data))
	}
	return os.WriteFile(outPath, data, 0o644)
}

// WriteTitleCard renders a plain colored card image as the fallback visual
// when every image source fails.
func WriteTitleCard(path string, seed int) error {
	palette := []color.RGBA{
		{R: 0x1e, G: 0x29, B: 0x3b, A: 0xff},
		{R: 0x2b, G: 0x1e, B: 0x3b, A: 0xff},
		{R: 0x1e, G: 0x3b, B: 0x32, A: 0xff},
		{R: 0x3b, G: 0x2a, B: 0x1e, A: 0xff},
	}
	bg := palette[seed%len(palette)]

	img := image.NewRGBA(image.Rect(0, 0, 1080, 1920))
	for y := 0; y < 1920; y++ {
		for x := 0; x < 1080; x++ {
			img.Set(x, y, bg)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
