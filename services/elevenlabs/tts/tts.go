package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voiceloop/core"

	"github.com/bytedance/sonic"
)

// ElevenLabsTTSConfig holds configuration for the ElevenLabs TTS service.
type ElevenLabsTTSConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	VoiceID string `json:"voice_id"`
	ModelID string `json:"model_id"`

	// OutputFormat is the ElevenLabs output_format parameter. One encoding is
	// assumed per deployment; the clip MIME is derived from it.
	OutputFormat string `json:"output_format"`

	// Voice settings
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// ElevenLabsTTS converts reply text to audio through the ElevenLabs REST API.
// When no API key or voice is configured, Synthesize reports
// core.ErrUnavailable and the conversation runs text-only.
type ElevenLabsTTS struct {
	config ElevenLabsTTSConfig
	client *http.Client
	logger *core.Logger
}

// NewElevenLabsTTS creates a new ElevenLabs TTS service with the provided config.
func NewElevenLabsTTS(config ElevenLabsTTSConfig, logger *core.Logger) *ElevenLabsTTS {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.elevenlabs.io"
	}
	if config.ModelID == "" {
		config.ModelID = "eleven_turbo_v2_5"
	}
	if config.OutputFormat == "" {
		config.OutputFormat = "mp3_44100_128"
	}
	if config.Stability == 0 {
		config.Stability = 0.5
	}
	if config.SimilarityBoost == 0 {
		config.SimilarityBoost = 0.75
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &ElevenLabsTTS{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With(map[string]any{"component": "elevenlabs"}),
	}
}

// Configured reports whether synthesis credentials and a voice identity are
// both present.
func (e *ElevenLabsTTS) Configured() bool {
	return e.config.APIKey != "" && e.config.VoiceID != ""
}

type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize issues exactly one synthesis request for the reply text.
// Unconfigured synthesis returns core.ErrUnavailable immediately; a
// collaborator non-success response returns a *core.SynthesisError carrying
// its status and raw body.
func (e *ElevenLabsTTS) Synthesize(ctx context.Context, text string) (*core.AudioClip, error) {
	if !e.Configured() {
		return nil, core.ErrUnavailable
	}

	body, err := sonic.Marshal(synthesizeRequest{
		Text:    text,
		ModelID: e.config.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       e.config.Stability,
			SimilarityBoost: e.config.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		e.config.BaseURL, e.config.VoiceID, e.config.OutputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: request failed: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &core.SynthesisError{Status: resp.StatusCode, Body: string(audio)}
	}

	return &core.AudioClip{Bytes: audio, MIME: mimeForOutputFormat(e.config.OutputFormat)}, nil
}

// Voices proxies the voice catalog. The collaborator's status and body pass
// through untouched so the caller can relay them.
func (e *ElevenLabsTTS) Voices(ctx context.Context) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.BaseURL+"/v1/voices", nil)
	if err != nil {
		return 0, nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("xi-api-key", e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("elevenlabs: voices request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("elevenlabs: read voices response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// mimeForOutputFormat maps an ElevenLabs output_format to the clip MIME type.
func mimeForOutputFormat(format string) string {
	switch {
	case strings.HasPrefix(format, "mp3_"):
		return "audio/mpeg"
	case strings.HasPrefix(format, "pcm_"):
		return "audio/pcm"
	case strings.HasPrefix(format, "ulaw_"):
		return "audio/basic"
	default:
		return "application/octet-stream"
	}
}
