package core

// InteractionState is the single live state of one conversation. Exactly one
// value is live at any time; only the orchestrator mutates it.
type InteractionState int32

const (
	StateIdle InteractionState = iota
	StateListening
	StateThinking
	StateSpeaking
)

func (s InteractionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}
