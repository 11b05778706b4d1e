package conversation

import (
	"context"

	"voiceloop/core"
)

// Capturer abstracts the speech-capture technology (browser speech
// recognition relayed over a transport, a telephony STT leg, a test stub).
// Start asks the capture side to begin listening for one utterance; the
// outcome comes back through the orchestrator's CaptureResult, CaptureError,
// and CaptureEnded methods.
type Capturer interface {
	Start() error
	Stop()
}

// InferenceClient sends one prompt to the inference collaborator and returns
// the normalized reply text. Exactly one request per call; no retries.
type InferenceClient interface {
	Infer(ctx context.Context, prompt string) (string, error)
}

// SynthesisClient converts reply text into a playable clip. Returns
// core.ErrUnavailable when synthesis is not configured and a
// *core.SynthesisError on a collaborator non-success response; either way the
// reply text remains a valid turn outcome.
type SynthesisClient interface {
	Synthesize(ctx context.Context, text string) (*core.AudioClip, error)
}
