package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"voiceloop/core"

	"github.com/sashabaranov/go-openai"
)

// Config holds the configuration for the OpenAI service.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string // override for tests and OpenAI-compatible gateways
	MaxTokens   int
	Temperature float32
}

// OpenAILLMService is the OpenAI-backed inference adapter. The conversation
// core hands it a single transcript-style prompt; it issues one non-streaming
// chat completion per call.
type OpenAILLMService struct {
	config Config
	client *openai.Client
	logger *core.Logger
}

// NewOpenAILLMService creates a new instance of OpenAILLMService.
func NewOpenAILLMService(config Config, logger *core.Logger) *OpenAILLMService {
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 512
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	clientCfg := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientCfg.BaseURL = config.BaseURL
	}
	return &OpenAILLMService{
		config: config,
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger.With(map[string]any{"component": "openai"}),
	}
}

// CheckReady is the startup connectivity probe.
func (s *OpenAILLMService) CheckReady(ctx context.Context) error {
	if s.config.APIKey == "" {
		return &core.AuthError{
			Details: "OpenAI API key is not set",
			Help:    "set OPENAI_API_KEY or switch the inference provider",
		}
	}
	if _, err := s.client.ListModels(ctx); err != nil {
		return s.mapError(err)
	}
	return nil
}

// Infer sends exactly one completion request and returns the normalized reply
// text. An empty completion yields core.FallbackReply, not an error.
func (s *OpenAILLMService) Infer(ctx context.Context, prompt string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.config.Model,
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", s.mapError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		s.logger.Warn("empty completion, using fallback reply")
		return core.FallbackReply, nil
	}
	return resp.Choices[0].Message.Content, nil
}

// mapError folds the client's error types into the shared taxonomy:
// credential problems become *core.AuthError, everything else stays generic.
func (s *OpenAILLMService) mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && (apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden) {
		return &core.AuthError{
			Details: apiErr.Message,
			Help:    "check that OPENAI_API_KEY is set to a valid key",
		}
	}
	return fmt.Errorf("openai: completion failed: %w", err)
}
