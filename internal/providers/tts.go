package providers

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"time"
)

// TTSProvider synthesizes narration audio into a wav file at outPath.
type TTSProvider interface {
	Name() string
	Synthesize(ctx context.Context, text, voiceID, outPath string) error
}

// RankedTTS returns the configured synthesizers in priority order:
// ElevenLabs when a key is present, then a local piper binary if installed.
// The silent-audio fallback is the voice stage's own last resort, not a
// provider.
func RankedTTS() []TTSProvider {
	var provs []TTSProvider
	if key := os.Getenv("ELEVENLABS_API_KEY"); key != "" {
		provs = append(provs, &ElevenLabs{APIKey: key})
	}
	if path, err := exec.LookPath("piper"); err == nil {
		provs = append(provs, &Piper{Binary: path, ModelPath: os.Getenv("PIPER_MODEL")})
	}
	return provs
}

var ttsClient = &http.Client{Timeout: 60 * time.Second}

// ElevenLabs calls the text-to-speech endpoint, then converts mp3 to wav
// with ffmpeg.
type ElevenLabs struct {
	APIKey string
}

func (p *ElevenLabs) Name() string { return "elevenlabs" }

func (p *ElevenLabs) Synthesize(ctx context.Context, text, voiceID, outPath string) error {
	voice := voiceID
	if voice == "" || voice == "default" {
		voice = "21m00Tcm4TlvDq8ikWAM"
	}

	body, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": "eleven_monolingual_v1",
		"voice_settings": map[string]float64{
			"stability":        0.5,
			"similarity_boost": 0.5,
		},
	})
	if err != nil {
		return err
	}

	url := "https://api.elevenlabs.io/v1/text-to-speech/" + voice
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", p.APIKey)

	resp, err := ttsClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("elevenlabs HTTP %d: %s", resp.StatusCode, msg)
	}

	mp3Path := outPath + ".mp3"
	f, err := os.Create(mp3Path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	f.Close()
	defer os.Remove(mp3Path)

	return convertToWav(ctx, mp3Path, outPath)
}

// Piper runs the local piper TTS binary.
type Piper struct {
	Binary    string
	ModelPath string
}

func (p *Piper) Name() string { return "piper" }

func (p *Piper) Synthesize(ctx context.Context, text, voiceID, outPath string) error {
	args := []string{"--output_file", outPath}
	if p.ModelPath != "" {
		args = append(args, "--model", p.ModelPath)
	}

	cmd := exec.CommandContext(ctx, p.Binary, args...)
	cmd.Stdin = bytes.NewReader([]byte(text))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("piper: %v: %s", err, truncate(string(out), 200))
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("piper produced no audio")
	}
	return nil
}

func convertToWav(ctx context.Context, in, out string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y", "-i", in, "-ar", "44100", "-ac", "1", out)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg convert: %v: %s", err, truncate(string(output), 200))
	}
	return nil
}

// WriteSilentWav writes a valid mono 16-bit PCM wav of the given duration.
// Used when every TTS provider fails so the rest of the pipeline still has
// an audio track to work with.
func WriteSilentWav(path string, seconds int) error {
	const sampleRate = 44100
	samples := sampleRate * seconds
	dataLen := samples * 2

	buf := new(bytes.Buffer)
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))

	return os.WriteFile(path, buf.Bytes(), 0o644)
}
