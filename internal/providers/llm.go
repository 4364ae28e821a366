package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// LLMProvider turns a prompt into raw text (expected to be JSON per the
// caller's system prompt).
type LLMProvider interface {
	Name() string
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// RankedLLM returns the configured providers in priority order. An empty
// slice means no API keys are configured and callers should use their
// offline fallback.
func RankedLLM() []LLMProvider {
	var provs []LLMProvider
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		provs = append(provs, &OpenAI{APIKey: key, Model: envOr("OPENAI_MODEL", "gpt-4o-mini")})
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		provs = append(provs, &Anthropic{APIKey: key, Model: envOr("ANTHROPIC_MODEL", "claude-3-5-haiku-latest")})
	}
	return provs
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

var llmClient = &http.Client{Timeout: 60 * time.Second}

// OpenAI calls the chat completions endpoint.
type OpenAI struct {
	APIKey string
	Model  string
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) Generate(ctx context.Context, system, prompt string) (string, error) {
	body := map[string]any{
		"model": p.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": prompt},
		},
		"response_format": map[string]string{"type": "json_object"},
		"temperature":     0.7,
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := postJSON(ctx, "https://api.openai.com/v1/chat/completions", body, map[string]string{
		"Authorization": "Bearer " + p.APIKey,
	}, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("openai: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Anthropic calls the messages endpoint.
type Anthropic struct {
	APIKey string
	Model  string
}

func (p *Anthropic) Name() string { return "anthropic" }

func (p *Anthropic) Generate(ctx context.Context, system, prompt string) (string, error) {
	body := map[string]any{
		"model":      p.Model,
		"max_tokens": 4096,
		"system":     system,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := postJSON(ctx, "https://api.anthropic.com/v1/messages", body, map[string]string{
		"x-api-key":         p.APIKey,
		"anthropic-version": "2023-06-01",
	}, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("anthropic: %s", resp.Error.Message)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("anthropic: empty response")
	}
	return resp.Content[0].Text, nil
}

func postJSON(ctx context.Context, url string, body any, headers map[string]string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := llmClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return json.Unmarshal(data, out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
