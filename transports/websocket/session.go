package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"voiceloop/conversation"
	"voiceloop/core"
	"voiceloop/protocol"
	"voiceloop/utils/audio"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SessionConfig controls one browser conversation session.
type SessionConfig struct {
	SystemInstruction string
	// SpeechLocale is passed through to the client's recognizer untouched.
	SpeechLocale string
	// OutputEncoding selects how PCM clips are delivered: "wav" (default)
	// wraps them in a RIFF container, "ulaw" transcodes to µ-law 8k for
	// telephony-style clients. Non-PCM clips pass through unchanged.
	OutputEncoding string
	// PCMSampleRate is the sample rate of PCM clips from the synthesizer.
	PCMSampleRate int
	// AckTimeout bounds how long the session waits for the client's
	// playback_ended acknowledgement before declaring the clip finished.
	AckTimeout time.Duration
	// WriteTimeout bounds each frame write so a stalled client cannot block
	// the session.
	WriteTimeout time.Duration
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		OutputEncoding: "wav",
		PCMSampleRate:  24000,
		AckTimeout:     30 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Session drives one websocket conversation: the browser relays its speech
// recognition results up and plays synthesized clips coming down. Each
// session owns its orchestrator, store, and playback supervisor; dropping the
// connection ends the conversation.
type Session struct {
	id     string
	conn   *websocket.Conn
	config SessionConfig
	orc    *conversation.Orchestrator
	logger *core.Logger

	writeMu sync.Mutex // serializes writes to conn

	mu          sync.Mutex
	pendingDone func(error) // playback completion for the in-flight clip
	ackTimer    *time.Timer
}

// NewSession wires a session around an accepted websocket connection.
func NewSession(
	conn *websocket.Conn,
	infer conversation.InferenceClient,
	synth conversation.SynthesisClient,
	config SessionConfig,
	logger *core.Logger,
) *Session {
	if config.AckTimeout <= 0 {
		config.AckTimeout = 30 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.PCMSampleRate <= 0 {
		config.PCMSampleRate = 24000
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	s := &Session{
		id:     uuid.NewString(),
		conn:   conn,
		config: config,
	}
	s.logger = logger.With(map[string]any{"component": "ws_session", "session_id": s.id})

	store := conversation.NewStore()
	supervisor := conversation.NewSupervisor(s, s.logger)
	s.orc = conversation.NewOrchestrator(store, infer, synth, supervisor, config.SystemInstruction, s.logger).
		WithCapturer(s).
		WithStateListener(func(state core.InteractionState) {
			s.send(protocol.MsgState, protocol.StatePayload{State: state.String()})
		})
	return s
}

// ID returns the session's correlation id.
func (s *Session) ID() string {
	return s.id
}

// Run reads client messages until the connection drops or ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	// The watcher goroutine must exit with the read loop, not with the
	// caller's context.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logger.Info("session started")
	defer func() {
		s.orc.Reset()
		s.conn.Close()
		s.logger.Info("session ended")
	}()

	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("read failed", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.dispatch(ctx, data)
	}
}

func (s *Session) dispatch(ctx context.Context, data []byte) {
	msgType, payload, err := protocol.Unmarshal(data)
	if err != nil {
		s.logger.Warn("bad envelope", "error", err)
		return
	}

	switch msgType {
	case protocol.MsgStartListening:
		if err := s.orc.BeginCapture(); err != nil {
			// Busy: capture is exclusive, the request is dropped, not queued.
			s.logger.Debug("capture request rejected", "error", err)
		}

	case protocol.MsgCaptureResult:
		p, err := protocol.UnmarshalPayload[protocol.CaptureResultPayload](payload)
		if err != nil {
			s.logger.Warn("bad capture_result payload", "error", err)
			return
		}
		go s.runTurn(ctx, p.Text)

	case protocol.MsgCaptureError:
		p, _ := protocol.UnmarshalPayload[protocol.CaptureErrorPayload](payload)
		s.orc.CaptureError(p.Kind)

	case protocol.MsgCaptureEnd:
		s.orc.CaptureEnded()

	case protocol.MsgPlaybackEnded:
		p, _ := protocol.UnmarshalPayload[protocol.PlaybackEndedPayload](payload)
		s.finishPlayback(p.Error)

	case protocol.MsgReset:
		s.orc.Reset()
		s.send(protocol.MsgHistory, protocol.HistoryPayload{Exchanges: s.orc.History()})

	default:
		s.logger.Debug("ignoring unknown message", "type", string(msgType))
	}
}

func (s *Session) runTurn(ctx context.Context, text string) {
	result, err := s.orc.SubmitUtterance(ctx, text)
	if err != nil {
		switch {
		case errors.Is(err, conversation.ErrTurnSuperseded):
			// Reset preempted the turn; the result is already discarded.
		case errors.Is(err, conversation.ErrBusy):
			s.logger.Debug("utterance dropped, turn in progress")
		default:
			s.sendTurnError(err)
		}
		return
	}

	s.send(protocol.MsgReply, protocol.ReplyPayload{Text: result.Reply})
	s.send(protocol.MsgHistory, protocol.HistoryPayload{Exchanges: result.History})
	if result.SynthErr != nil {
		var synthErr *core.SynthesisError
		details := result.SynthErr.Error()
		if errors.As(result.SynthErr, &synthErr) {
			details = synthErr.Body
		}
		s.send(protocol.MsgError, protocol.ErrorPayload{Error: "tts_error", Details: details})
	}
}

func (s *Session) sendTurnError(err error) {
	var authErr *core.AuthError
	var valErr *core.ValidationError
	switch {
	case errors.As(err, &authErr):
		s.send(protocol.MsgError, protocol.ErrorPayload{
			Error:   "auth_error",
			Details: authErr.Details,
			Help:    authErr.Help,
		})
	case errors.As(err, &valErr):
		s.send(protocol.MsgError, protocol.ErrorPayload{Error: "validation_error", Details: valErr.Error()})
	default:
		s.send(protocol.MsgError, protocol.ErrorPayload{Error: "server_error", Details: err.Error()})
	}
}

// Start implements conversation.Capturer: tell the browser to start speech
// recognition.
func (s *Session) Start() error {
	return s.send(protocol.MsgListen, protocol.ListenPayload{Locale: s.config.SpeechLocale})
}

// Stop implements conversation.Capturer: tell the browser to stop capturing.
func (s *Session) Stop() {
	s.send(protocol.MsgListenStop, nil)
}

// Begin implements conversation.Sink: deliver the clip to the client and wait
// for its playback_ended acknowledgement, with a timeout fallback so a silent
// client cannot wedge the state machine in Speaking.
func (s *Session) Begin(clip *core.AudioClip, done func(error)) {
	data, mime := s.encodeClip(clip)

	s.mu.Lock()
	s.pendingDone = done
	s.ackTimer = time.AfterFunc(s.ackDeadline(clip), func() {
		s.finishPlayback("")
	})
	s.mu.Unlock()

	if err := s.send(protocol.MsgAudio, protocol.AudioPayload{MIME: mime, Size: len(data)}); err != nil {
		s.finishPlayback(err.Error())
		return
	}
	s.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	err := s.conn.WriteMessage(websocket.BinaryMessage, data)
	s.writeMu.Unlock()
	if err != nil {
		s.finishPlayback(err.Error())
	}
}

// encodeClip applies the session's output encoding to PCM clips; anything
// else passes through untouched.
func (s *Session) encodeClip(clip *core.AudioClip) ([]byte, string) {
	if clip.MIME != "audio/pcm" {
		return clip.Bytes, clip.MIME
	}
	if s.config.OutputEncoding == "ulaw" {
		ulaw, err := audio.PCMBytesToULaw(clip.Bytes)
		if err == nil {
			return ulaw, "audio/basic"
		}
		s.logger.Warn("ulaw transcode failed, sending raw PCM", "error", err)
		return clip.Bytes, clip.MIME
	}
	wav, err := audio.PCMBytesToWavBytes(clip.Bytes, 1, s.config.PCMSampleRate)
	if err != nil {
		s.logger.Warn("wav wrap failed, sending raw PCM", "error", err)
		return clip.Bytes, clip.MIME
	}
	return wav, "audio/wav"
}

// ackDeadline bounds the wait for the playback acknowledgement. For PCM clips
// the real duration plus grace is used; for opaque encodings the configured
// timeout applies.
func (s *Session) ackDeadline(clip *core.AudioClip) time.Duration {
	if clip.MIME == "audio/pcm" {
		if d, err := audio.PCMDuration(clip.Bytes, 1, s.config.PCMSampleRate); err == nil {
			return d + 2*time.Second
		}
	}
	return s.config.AckTimeout
}

func (s *Session) finishPlayback(errStr string) {
	s.mu.Lock()
	done := s.pendingDone
	s.pendingDone = nil
	if s.ackTimer != nil {
		s.ackTimer.Stop()
		s.ackTimer = nil
	}
	s.mu.Unlock()

	if done == nil {
		return
	}
	// Normal completion and playback error take the same path back to Idle.
	if errStr != "" {
		done(errors.New(errStr))
		return
	}
	done(nil)
}

func (s *Session) send(msgType protocol.MessageType, payload interface{}) error {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		s.logger.Error("marshal failed", "type", string(msgType), "error", err)
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
