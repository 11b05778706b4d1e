package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"voiceloop/core"

	"github.com/bytedance/sonic"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// authHelp is the remediation guidance attached to every credential failure.
const authHelp = "run `gcloud auth application-default login` or point GOOGLE_APPLICATION_CREDENTIALS at a service account key"

// Config holds the configuration for the Vertex AI Gemini service.
type Config struct {
	ProjectID string
	Region    string
	Model     string
	// BaseURL overrides the regional Vertex endpoint. Used by tests.
	BaseURL string
	// TokenSource overrides ambient credential discovery. Used by tests.
	TokenSource oauth2.TokenSource
}

// GeminiLLMService sends prompts to Vertex AI Gemini over REST. One request
// per Infer call, no retries; credentials come from Application Default
// Credentials unless a TokenSource is injected.
type GeminiLLMService struct {
	config Config
	client *http.Client
	tokens oauth2.TokenSource
	logger *core.Logger
}

// NewGeminiLLMService creates a new Gemini service with the provided config.
func NewGeminiLLMService(config Config, logger *core.Logger) *GeminiLLMService {
	if config.Region == "" {
		config.Region = "us-central1"
	}
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}
	if config.BaseURL == "" {
		config.BaseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com", config.Region)
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &GeminiLLMService{
		config: config,
		client: &http.Client{Timeout: 60 * time.Second},
		tokens: config.TokenSource,
		logger: logger.With(map[string]any{"component": "gemini"}),
	}
}

// Init resolves the ambient token source. A failure here is not fatal for
// request handling, since Infer retries discovery per call, but it feeds the
// startup readiness probe.
func (s *GeminiLLMService) Init(ctx context.Context) error {
	if s.tokens != nil {
		return nil
	}
	ts, err := google.DefaultTokenSource(ctx, cloudPlatformScope)
	if err != nil {
		return &core.AuthError{Details: err.Error(), Help: authHelp}
	}
	s.tokens = ts
	return nil
}

// CheckReady is the startup connectivity probe: it verifies that credentials
// resolve and a token can be minted. ProjectID is required only here, not at
// request time.
func (s *GeminiLLMService) CheckReady(ctx context.Context) error {
	if s.config.ProjectID == "" {
		return fmt.Errorf("gemini: project id not configured")
	}
	if err := s.Init(ctx); err != nil {
		return err
	}
	if _, err := s.tokens.Token(); err != nil {
		return &core.AuthError{Details: err.Error(), Help: authHelp}
	}
	return nil
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

// Infer sends exactly one generateContent request and returns the normalized
// reply text. Empty-but-successful extraction yields core.FallbackReply, not
// an error.
func (s *GeminiLLMService) Infer(ctx context.Context, prompt string) (string, error) {
	if err := s.Init(ctx); err != nil {
		return "", err
	}

	body, err := sonic.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		s.config.BaseURL, s.config.ProjectID, s.config.Region, s.config.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gemini: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := s.tokens.Token()
	if err != nil {
		return "", &core.AuthError{Details: err.Error(), Help: authHelp}
	}
	token.SetAuthHeader(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gemini: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &core.AuthError{Details: string(raw), Help: authHelp}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("gemini: unexpected status %d: %s", resp.StatusCode, string(raw))
	}

	reply := ExtractReply(raw)
	if reply == "" {
		s.logger.Warn("no extractable text in response, using fallback reply")
		return core.FallbackReply, nil
	}
	return reply, nil
}

// ExtractReply concatenates every textual fragment of the first candidate.
// Fragments arrive either as plain strings or as objects carrying a text
// field; anything else contributes nothing. Returns "" when no candidate
// yields text.
func ExtractReply(raw []byte) string {
	var payload struct {
		Candidates []struct {
			Content struct {
				Parts []any `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := sonic.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	if len(payload.Candidates) == 0 {
		return ""
	}
	var out string
	for _, p := range payload.Candidates[0].Content.Parts {
		out += fragmentText(p)
	}
	return out
}

// fragmentText extracts text from one loosely-typed response fragment.
func fragmentText(fragment any) string {
	switch v := fragment.(type) {
	case string:
		return v
	case map[string]any:
		if t, ok := v["text"].(string); ok {
			return t
		}
	}
	return ""
}
