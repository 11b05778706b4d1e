package protocol

import (
	"encoding/json"

	"voiceloop/core"
)

// MessageType enumerates all conversation-session message types.
type MessageType string

const (
	// Client -> server
	MsgStartListening MessageType = "start_listening"
	MsgCaptureResult  MessageType = "capture_result"
	MsgCaptureError   MessageType = "capture_error"
	MsgCaptureEnd     MessageType = "capture_end"
	MsgPlaybackEnded  MessageType = "playback_ended"
	MsgReset          MessageType = "reset"

	// Server -> client
	MsgListen     MessageType = "listen"
	MsgListenStop MessageType = "listen_stop"

	MsgState   MessageType = "state"
	MsgReply   MessageType = "reply"
	MsgAudio   MessageType = "audio"
	MsgHistory MessageType = "history"
	MsgError   MessageType = "error"
)

// Envelope is the outer JSON wrapper for all WebSocket messages. Audio bytes
// travel in a separate binary frame immediately after their MsgAudio header.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Client -> server payloads ---

// CaptureResultPayload carries one captured utterance from the browser's
// speech recognition.
type CaptureResultPayload struct {
	Text string `json:"text"`
}

// CaptureErrorPayload reports a capture failure; Kind is the recognizer's
// error identifier (e.g. "no-speech", "not-allowed").
type CaptureErrorPayload struct {
	Kind string `json:"kind"`
}

// PlaybackEndedPayload acknowledges that the client finished (or aborted)
// playing the last clip.
type PlaybackEndedPayload struct {
	Error string `json:"error,omitempty"`
}

// --- Server -> client payloads ---

// ListenPayload instructs the client to start speech recognition in the
// configured locale.
type ListenPayload struct {
	Locale string `json:"locale,omitempty"`
}

// StatePayload announces an interaction state transition.
type StatePayload struct {
	State string `json:"state"`
}

// ReplyPayload carries the assistant's reply text for one turn.
type ReplyPayload struct {
	Text string `json:"text"`
}

// AudioPayload is the header for a clip; the clip bytes follow as one binary
// frame.
type AudioPayload struct {
	MIME string `json:"mime"`
	Size int    `json:"size"`
}

// HistoryPayload carries the display window after a turn or reset.
type HistoryPayload struct {
	Exchanges []core.Exchange `json:"exchanges"`
}

// ErrorPayload reports a turn failure to the client. Help is present only on
// credential failures.
type ErrorPayload struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Help    string `json:"help,omitempty"`
}
