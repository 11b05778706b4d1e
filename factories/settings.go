package factories

import (
	"context"
	"fmt"
	"os"

	"voiceloop/conversation"
	"voiceloop/core"
	"voiceloop/server"
	elevenlabstts "voiceloop/services/elevenlabs/tts"
	geminillm "voiceloop/services/gemini/llm"
	openaillm "voiceloop/services/openai/llm"
	wstransport "voiceloop/transports/websocket"

	"github.com/bytedance/sonic"
)

// InferenceSettings selects and configures the inference collaborator.
type InferenceSettings struct {
	// Provider is "gemini" (default) or "openai".
	Provider  string `json:"provider"`
	ProjectID string `json:"project_id"`
	Region    string `json:"region"`
	Model     string `json:"model"`

	OpenAIKey   string `json:"openai_api_key"`
	OpenAIModel string `json:"openai_model"`
}

// SynthesisSettings configures the speech-synthesis collaborator. Missing
// credentials are not an error: the conversation degrades to text-only.
type SynthesisSettings struct {
	APIKey       string `json:"api_key"`
	VoiceID      string `json:"voice_id"`
	ModelID      string `json:"model_id"`
	OutputFormat string `json:"output_format"`
}

// Settings is the top-level configuration, loaded from the environment or a
// JSON settings file.
type Settings struct {
	Port              int    `json:"port"`
	AllowOrigin       string `json:"allow_origin"`
	SpeechLocale      string `json:"speech_locale"`
	SystemInstruction string `json:"system_instruction"`

	Inference InferenceSettings `json:"inference"`
	Synthesis SynthesisSettings `json:"synthesis"`
}

// DefaultSettings returns a Settings pre-filled with defaults.
func DefaultSettings() Settings {
	return Settings{
		Port:              8080,
		SpeechLocale:      "en-US",
		SystemInstruction: "You are a friendly voice assistant. Keep answers short and conversational.",
		Inference:         InferenceSettings{Provider: "gemini"},
	}
}

// SettingsFromJSON parses a JSON blob into Settings, filling defaults for
// anything left unset.
func SettingsFromJSON(data []byte) (Settings, error) {
	cfg := DefaultSettings()
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return DefaultSettings(), fmt.Errorf("settings: %w", err)
	}
	if cfg.Inference.Provider == "" {
		cfg.Inference.Provider = "gemini"
	}
	return cfg, nil
}

// SettingsFromFile reads and parses Settings from a JSON file.
func SettingsFromFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettings(), fmt.Errorf("settings: read %q: %w", path, err)
	}
	return SettingsFromJSON(data)
}

// InferenceReadyChecker is implemented by inference services that support the
// startup connectivity probe.
type InferenceReadyChecker interface {
	conversation.InferenceClient
	CheckReady(ctx context.Context) error
}

// BuildInference constructs the configured inference adapter.
func (s Settings) BuildInference(logger *core.Logger) (conversation.InferenceClient, error) {
	switch s.Inference.Provider {
	case "", "gemini":
		return geminillm.NewGeminiLLMService(geminillm.Config{
			ProjectID: s.Inference.ProjectID,
			Region:    s.Inference.Region,
			Model:     s.Inference.Model,
		}, logger), nil
	case "openai":
		return openaillm.NewOpenAILLMService(openaillm.Config{
			APIKey: s.Inference.OpenAIKey,
			Model:  s.Inference.OpenAIModel,
		}, logger), nil
	default:
		return nil, fmt.Errorf("settings: unknown inference provider %q", s.Inference.Provider)
	}
}

// BuildSynthesis constructs the speech-synthesis adapter.
func (s Settings) BuildSynthesis(logger *core.Logger) *elevenlabstts.ElevenLabsTTS {
	return elevenlabstts.NewElevenLabsTTS(elevenlabstts.ElevenLabsTTSConfig{
		APIKey:       s.Synthesis.APIKey,
		VoiceID:      s.Synthesis.VoiceID,
		ModelID:      s.Synthesis.ModelID,
		OutputFormat: s.Synthesis.OutputFormat,
	}, logger)
}

// BuildServer wires the HTTP boundary around the built adapters.
func (s Settings) BuildServer(infer conversation.InferenceClient, synth server.Synthesizer, ready *server.Readiness, logger *core.Logger) *server.Server {
	sessionCfg := wstransport.DefaultSessionConfig()
	sessionCfg.SystemInstruction = s.SystemInstruction
	sessionCfg.SpeechLocale = s.SpeechLocale
	return server.New(server.Config{
		SystemInstruction: s.SystemInstruction,
		AllowOrigin:       s.AllowOrigin,
		Session:           sessionCfg,
	}, infer, synth, ready, logger)
}
