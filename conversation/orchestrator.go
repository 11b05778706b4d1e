package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"

	"voiceloop/core"
)

// ErrBusy is returned when a capture request arrives while a turn is already
// in flight. The request is rejected, never queued.
var ErrBusy = errors.New("conversation: another turn is in progress")

// ErrTurnSuperseded is returned when a reset preempted the turn while its
// inference or synthesis call was outstanding. The late result is discarded.
var ErrTurnSuperseded = errors.New("conversation: turn superseded by reset")

// TurnResult is the outcome of one completed turn.
type TurnResult struct {
	Reply    string
	Clip     *core.AudioClip // nil when synthesis was unavailable or failed
	SynthErr error           // non-nil when synthesis failed; Reply is still valid
	History  []core.Exchange // display window after the turn
}

// Orchestrator sequences capture → history update → inference → synthesis →
// playback for a single conversation. It owns the interaction state and the
// turn id; all I/O-bound steps release the lock so concurrent capture
// requests can be rejected while one turn is outstanding.
type Orchestrator struct {
	store    *Store
	playback *Supervisor
	infer    InferenceClient
	synth    SynthesisClient
	capturer Capturer
	system   string
	logger   *core.Logger
	onState  func(core.InteractionState)

	mu     sync.Mutex
	state  core.InteractionState
	turnID uint64 // generation tag; results carrying a stale id are dropped
}

func NewOrchestrator(
	store *Store,
	infer InferenceClient,
	synth SynthesisClient,
	playback *Supervisor,
	systemInstruction string,
	logger *core.Logger,
) *Orchestrator {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Orchestrator{
		store:    store,
		playback: playback,
		infer:    infer,
		synth:    synth,
		system:   systemInstruction,
		state:    core.StateIdle,
		logger:   logger.With(map[string]any{"component": "orchestrator"}),
	}
}

// WithCapturer registers the capture technology driven by BeginCapture.
// Returns the orchestrator to allow chaining.
func (o *Orchestrator) WithCapturer(c Capturer) *Orchestrator {
	o.capturer = c
	return o
}

// WithStateListener registers a callback invoked after every state
// transition. The callback runs outside the orchestrator lock.
func (o *Orchestrator) WithStateListener(fn func(core.InteractionState)) *Orchestrator {
	o.onState = fn
	return o
}

// State returns the current interaction state.
func (o *Orchestrator) State() core.InteractionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// History returns the display window of the conversation so far.
func (o *Orchestrator) History() []core.Exchange {
	return o.store.DisplayWindow()
}

// BeginCapture moves Idle → Listening. Rejected with ErrBusy from any other
// state: capture is exclusive, at most one active turn.
func (o *Orchestrator) BeginCapture() error {
	o.mu.Lock()
	if o.state != core.StateIdle {
		o.mu.Unlock()
		return ErrBusy
	}
	if o.capturer != nil {
		if err := o.capturer.Start(); err != nil {
			o.mu.Unlock()
			return err
		}
	}
	o.state = core.StateListening
	o.mu.Unlock()
	o.notify(core.StateListening)
	return nil
}

// CaptureError moves Listening → Idle after a capture failure. No utterance
// was produced, so no turn begins.
func (o *Orchestrator) CaptureError(kind string) {
	o.logger.Warn("capture failed", "kind", kind)
	o.endListening()
}

// CaptureEnded moves Listening → Idle when capture finished without a result.
func (o *Orchestrator) CaptureEnded() {
	o.endListening()
}

func (o *Orchestrator) endListening() {
	o.mu.Lock()
	if o.state != core.StateListening {
		o.mu.Unlock()
		return
	}
	o.state = core.StateIdle
	o.mu.Unlock()
	o.notify(core.StateIdle)
}

// SubmitUtterance runs one full turn for a captured utterance: the user
// exchange is appended before inference, the assistant exchange only after
// inference succeeds. Exactly one inference call and at most one synthesis
// call are issued. Must be called while Listening.
//
// An inference failure aborts the turn and returns the error; the user
// exchange is NOT rolled back. A synthesis failure or unconfigured synthesis
// still yields a successful text-only result.
func (o *Orchestrator) SubmitUtterance(ctx context.Context, text string) (*TurnResult, error) {
	text = strings.TrimSpace(text)

	o.mu.Lock()
	if o.state != core.StateListening {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	if text == "" {
		// Empty utterances are rejected without starting a turn.
		o.state = core.StateIdle
		o.mu.Unlock()
		o.notify(core.StateIdle)
		return nil, &core.ValidationError{Field: "text", Reason: "must be non-empty"}
	}
	o.state = core.StateThinking
	o.turnID++
	id := o.turnID
	// Window is snapshotted before the new utterance lands so the prompt
	// carries only prior exchanges.
	window := o.store.PromptWindow()
	o.store.Append(core.Exchange{Role: core.RoleUser, Text: text})
	o.mu.Unlock()
	o.notify(core.StateThinking)

	prompt := BuildPrompt(o.system, window, text)
	reply, err := o.infer.Infer(ctx, prompt)

	o.mu.Lock()
	if id != o.turnID {
		o.mu.Unlock()
		o.logger.Debug("dropping stale inference result", "turn", id)
		return nil, ErrTurnSuperseded
	}
	if err != nil {
		// Turn aborted: the user exchange stays, no assistant exchange.
		o.state = core.StateIdle
		o.mu.Unlock()
		o.notify(core.StateIdle)
		return nil, err
	}
	o.store.Append(core.Exchange{Role: core.RoleAssistant, Text: reply})
	o.mu.Unlock()

	clip, synthErr := o.synth.Synthesize(ctx, reply)

	o.mu.Lock()
	if id != o.turnID {
		o.mu.Unlock()
		o.logger.Debug("dropping stale synthesis result", "turn", id)
		return nil, ErrTurnSuperseded
	}
	result := &TurnResult{Reply: reply, History: o.store.DisplayWindow()}
	if synthErr == nil && clip != nil {
		o.state = core.StateSpeaking
		o.mu.Unlock()
		o.notify(core.StateSpeaking)
		result.Clip = clip
		o.playback.Play(clip, func(error) {
			// Completion and playback error both return to Idle.
			o.playbackDone(id)
		})
		return result, nil
	}
	o.state = core.StateIdle
	o.mu.Unlock()
	o.notify(core.StateIdle)
	if synthErr != nil && !errors.Is(synthErr, core.ErrUnavailable) {
		o.logger.Warn("synthesis failed, turn continues text-only", "error", synthErr)
		result.SynthErr = synthErr
	}
	return result, nil
}

func (o *Orchestrator) playbackDone(id uint64) {
	o.mu.Lock()
	if id != o.turnID || o.state != core.StateSpeaking {
		o.mu.Unlock()
		return
	}
	o.state = core.StateIdle
	o.mu.Unlock()
	o.notify(core.StateIdle)
}

// Reset clears the conversation memory, halts any in-progress playback, and
// forces Idle regardless of prior state. In-flight inference or synthesis
// results for the preempted turn are discarded when they arrive.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.turnID++
	if o.capturer != nil && o.state == core.StateListening {
		o.capturer.Stop()
	}
	o.state = core.StateIdle
	o.mu.Unlock()
	o.store.Clear()
	o.playback.Stop()
	o.notify(core.StateIdle)
}

func (o *Orchestrator) notify(s core.InteractionState) {
	if o.onState != nil {
		o.onState(s)
	}
}
