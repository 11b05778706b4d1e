package server

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"

	"voiceloop/conversation"
	"voiceloop/core"
	wstransport "voiceloop/transports/websocket"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Synthesizer is what the HTTP boundary needs from the speech-synthesis
// adapter beyond the per-turn Synthesize call.
type Synthesizer interface {
	conversation.SynthesisClient
	Configured() bool
	Voices(ctx context.Context) (int, []byte, error)
}

// Config holds the HTTP boundary configuration.
type Config struct {
	SystemInstruction string
	// AllowOrigin is the single browser origin allowed to call the API.
	// Empty disables the CORS headers.
	AllowOrigin string
	// Session configures websocket conversation sessions.
	Session wstransport.SessionConfig
}

// Server exposes the conversation loop over HTTP: one-shot turns on POST
// /chat, long-lived sessions on GET /ws, plus the voice catalog and probes.
type Server struct {
	config   Config
	infer    conversation.InferenceClient
	synth    Synthesizer
	ready    *Readiness
	logger   *core.Logger
	upgrader websocket.Upgrader
}

func New(config Config, infer conversation.InferenceClient, synth Synthesizer, ready *Readiness, logger *core.Logger) *Server {
	if logger == nil {
		logger = core.GetLogger()
	}
	s := &Server{
		config: config,
		infer:  infer,
		synth:  synth,
		ready:  ready,
		logger: logger.With(map[string]any{"component": "server"}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if config.AllowOrigin == "" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origin == config.AllowOrigin
		},
	}
	return s
}

// Routes registers all endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/chat", s.cors(s.handleChat))
	mux.HandleFunc("/voices", s.cors(s.handleVoices))
	mux.HandleFunc("/health", s.cors(s.handleHealth))
	mux.HandleFunc("/check-vertex", s.cors(s.handleCheckVertex))
	mux.HandleFunc("/ws", s.handleWS)
}

// cors applies the single-origin policy from config and answers preflights.
func (s *Server) cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.AllowOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.config.AllowOrigin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

type chatRequest struct {
	Text    string `json:"text"`
	History []struct {
		Role string `json:"role"`
		Text string `json:"text"`
	} `json:"history,omitempty"`
}

type chatResponse struct {
	ReplyText   string `json:"replyText"`
	AudioBase64 string `json:"audioBase64,omitempty"`
	MIME        string `json:"mime,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	logger := s.logger.With(map[string]any{"request_id": uuid.NewString()})

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "validation_error", "unreadable body", "")
		return
	}
	var req chatRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation_error", "text is required and must be a string", "")
		return
	}

	// Each chat request is one stateless turn: a fresh store seeded from the
	// caller-supplied transcript, an orchestrator that completes playback
	// immediately since the clip travels in the response body.
	store := conversation.NewStore()
	for _, h := range req.History {
		switch core.Role(h.Role) {
		case core.RoleUser, core.RoleAssistant:
			store.Append(core.Exchange{Role: core.Role(h.Role), Text: h.Text})
		}
	}
	orc := conversation.NewOrchestrator(
		store,
		s.infer,
		s.synth,
		conversation.NewSupervisor(conversation.ImmediateSink(), logger),
		s.config.SystemInstruction,
		logger,
	)

	if err := orc.BeginCapture(); err != nil {
		s.writeError(w, http.StatusInternalServerError, "server_error", err.Error(), "")
		return
	}
	result, err := orc.SubmitUtterance(r.Context(), req.Text)
	if err != nil {
		s.writeTurnError(w, logger, err)
		return
	}

	var synthErr *core.SynthesisError
	if errors.As(result.SynthErr, &synthErr) {
		// Reply text is valid, but the synthesis collaborator failed hard.
		logger.Warn("synthesis collaborator failure", "status", synthErr.Status)
		s.writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":     "tts_error",
			"details":   synthErr.Body,
			"replyText": result.Reply,
		})
		return
	}

	resp := chatResponse{ReplyText: result.Reply}
	if result.Clip != nil {
		resp.AudioBase64 = base64.StdEncoding.EncodeToString(result.Clip.Bytes)
		resp.MIME = result.Clip.MIME
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeTurnError(w http.ResponseWriter, logger *core.Logger, err error) {
	var valErr *core.ValidationError
	var authErr *core.AuthError
	switch {
	case errors.As(err, &valErr):
		s.writeError(w, http.StatusBadRequest, "validation_error", valErr.Error(), "")
	case errors.As(err, &authErr):
		logger.Error("inference auth failure", "details", authErr.Details)
		s.writeError(w, http.StatusUnauthorized, "auth_error", authErr.Details, authErr.Help)
	default:
		logger.Error("turn failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "server_error", err.Error(), "")
	}
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.synth.Configured() {
		s.writeError(w, http.StatusBadRequest, "tts_not_configured", "synthesis credentials or voice identity missing", "")
		return
	}
	status, body, err := s.synth.Voices(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "tts_error", err.Error(), "")
		return
	}
	// Collaborator status and body pass through untouched.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCheckVertex(w http.ResponseWriter, r *http.Request) {
	ready, details := s.ready.Ready()
	if !ready {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "ready": false, "details": details})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ready": true})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	// The upgraded connection outlives the request context; the session runs
	// until the socket closes.
	session := wstransport.NewSession(conn, s.infer, s.synth, s.config.Session, s.logger)
	session.Run(context.Background())
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, details, help string) {
	payload := map[string]any{"error": code}
	if details != "" {
		payload["details"] = details
	}
	if help != "" {
		payload["help"] = help
	}
	s.writeJSON(w, status, payload)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal response failed", "error", err)
		http.Error(w, "server_error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
