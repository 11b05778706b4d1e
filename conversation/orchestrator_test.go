package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voiceloop/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInfer struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	started chan struct{} // closed-ish signal per call, if set
	release chan struct{} // blocks the call until closed, if set
}

func (f *fakeInfer) Infer(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	started := f.started
	release := f.release
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return f.reply, f.err
}

func (f *fakeInfer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeSynth struct {
	mu    sync.Mutex
	clip  *core.AudioClip
	err   error
	count int
}

func (f *fakeSynth) Synthesize(context.Context, string) (*core.AudioClip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return f.clip, f.err
}

// manualSink holds the completion callback so tests control when playback
// finishes.
type manualSink struct {
	mu   sync.Mutex
	done func(error)
}

func (m *manualSink) Begin(_ *core.AudioClip, done func(error)) {
	m.mu.Lock()
	m.done = done
	m.mu.Unlock()
}

func (m *manualSink) finish(err error) {
	m.mu.Lock()
	done := m.done
	m.done = nil
	m.mu.Unlock()
	if done != nil {
		done(err)
	}
}

func newTestOrchestrator(infer InferenceClient, synth SynthesisClient, sink Sink) (*Orchestrator, *Store) {
	store := NewStore()
	if sink == nil {
		sink = ImmediateSink()
	}
	orc := NewOrchestrator(store, infer, synth, NewSupervisor(sink, nil), "sys", nil)
	return orc, store
}

func TestTurnSuccessWithAudio(t *testing.T) {
	infer := &fakeInfer{reply: "Hello!"}
	synth := &fakeSynth{clip: &core.AudioClip{Bytes: []byte("mp3"), MIME: "audio/mpeg"}}
	sink := &manualSink{}
	orc, store := newTestOrchestrator(infer, synth, sink)

	require.NoError(t, orc.BeginCapture())
	assert.Equal(t, core.StateListening, orc.State())

	result, err := orc.SubmitUtterance(context.Background(), "hi there")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", result.Reply)
	require.NotNil(t, result.Clip)
	assert.Equal(t, "audio/mpeg", result.Clip.MIME)
	assert.NoError(t, result.SynthErr)

	// Playback still running: the turn holds Speaking until completion.
	assert.Equal(t, core.StateSpeaking, orc.State())
	sink.finish(nil)
	assert.Equal(t, core.StateIdle, orc.State())

	assert.Equal(t, 2, store.Len())
	assert.Equal(t, 1, infer.calls())
	assert.Equal(t, 1, synth.count)
}

func TestPlaybackErrorAlsoReturnsIdle(t *testing.T) {
	infer := &fakeInfer{reply: "ok"}
	synth := &fakeSynth{clip: &core.AudioClip{Bytes: []byte("x"), MIME: "audio/mpeg"}}
	sink := &manualSink{}
	orc, _ := newTestOrchestrator(infer, synth, sink)

	require.NoError(t, orc.BeginCapture())
	_, err := orc.SubmitUtterance(context.Background(), "hi")
	require.NoError(t, err)

	sink.finish(errors.New("decoder blew up"))
	assert.Equal(t, core.StateIdle, orc.State())
}

func TestTurnTextOnlyWhenSynthesisUnavailable(t *testing.T) {
	infer := &fakeInfer{reply: "Hello!"}
	synth := &fakeSynth{err: core.ErrUnavailable}
	orc, store := newTestOrchestrator(infer, synth, nil)

	require.NoError(t, orc.BeginCapture())
	result, err := orc.SubmitUtterance(context.Background(), "hi")
	require.NoError(t, err)

	assert.Equal(t, "Hello!", result.Reply)
	assert.Nil(t, result.Clip)
	assert.NoError(t, result.SynthErr)
	assert.Equal(t, core.StateIdle, orc.State())
	assert.Equal(t, 2, store.Len())
}

func TestSynthesisFailureKeepsReply(t *testing.T) {
	infer := &fakeInfer{reply: "Hello!"}
	synth := &fakeSynth{err: &core.SynthesisError{Status: 429, Body: "quota exceeded"}}
	orc, store := newTestOrchestrator(infer, synth, nil)

	require.NoError(t, orc.BeginCapture())
	result, err := orc.SubmitUtterance(context.Background(), "hi")
	require.NoError(t, err)

	assert.Equal(t, "Hello!", result.Reply)
	assert.Nil(t, result.Clip)

	var synthErr *core.SynthesisError
	require.ErrorAs(t, result.SynthErr, &synthErr)
	assert.Equal(t, 429, synthErr.Status)
	assert.Equal(t, core.StateIdle, orc.State())
	// Text and audio success are independent: both exchanges recorded.
	assert.Equal(t, 2, store.Len())
}

func TestInferenceFailureRetainsUserExchange(t *testing.T) {
	infer := &fakeInfer{err: errors.New("downstream 503")}
	synth := &fakeSynth{}
	orc, store := newTestOrchestrator(infer, synth, nil)

	require.NoError(t, orc.BeginCapture())
	_, err := orc.SubmitUtterance(context.Background(), "hi")
	require.Error(t, err)

	assert.Equal(t, core.StateIdle, orc.State())
	// The user exchange is not rolled back: memory length goes odd.
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 0, synth.count)
}

func TestEmptyUtteranceRejected(t *testing.T) {
	infer := &fakeInfer{reply: "x"}
	orc, store := newTestOrchestrator(infer, &fakeSynth{err: core.ErrUnavailable}, nil)

	require.NoError(t, orc.BeginCapture())
	_, err := orc.SubmitUtterance(context.Background(), "   ")

	var valErr *core.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, core.StateIdle, orc.State())
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, infer.calls())
}

func TestCaptureIsExclusive(t *testing.T) {
	infer := &fakeInfer{reply: "ok", started: make(chan struct{}, 1), release: make(chan struct{})}
	orc, _ := newTestOrchestrator(infer, &fakeSynth{err: core.ErrUnavailable}, nil)

	require.NoError(t, orc.BeginCapture())
	assert.ErrorIs(t, orc.BeginCapture(), ErrBusy)

	turnDone := make(chan struct{})
	go func() {
		defer close(turnDone)
		orc.SubmitUtterance(context.Background(), "hi")
	}()
	<-infer.started

	// While Thinking, new capture requests are rejected, never queued.
	assert.Equal(t, core.StateThinking, orc.State())
	assert.ErrorIs(t, orc.BeginCapture(), ErrBusy)

	close(infer.release)
	<-turnDone
	assert.Equal(t, core.StateIdle, orc.State())
	require.NoError(t, orc.BeginCapture())
}

func TestCaptureFailureReturnsToIdle(t *testing.T) {
	orc, store := newTestOrchestrator(&fakeInfer{}, &fakeSynth{}, nil)

	require.NoError(t, orc.BeginCapture())
	orc.CaptureError("no-speech")
	assert.Equal(t, core.StateIdle, orc.State())
	assert.Equal(t, 0, store.Len())

	require.NoError(t, orc.BeginCapture())
	orc.CaptureEnded()
	assert.Equal(t, core.StateIdle, orc.State())
}

func TestResetPreemptsSpeaking(t *testing.T) {
	infer := &fakeInfer{reply: "long answer"}
	synth := &fakeSynth{clip: &core.AudioClip{Bytes: []byte("x"), MIME: "audio/mpeg"}}
	sink := &manualSink{}
	orc, store := newTestOrchestrator(infer, synth, sink)

	require.NoError(t, orc.BeginCapture())
	_, err := orc.SubmitUtterance(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, core.StateSpeaking, orc.State())

	orc.Reset()
	assert.Equal(t, core.StateIdle, orc.State())
	assert.Equal(t, 0, store.Len())

	// The preempted clip's completion arrives late and is dropped.
	sink.finish(nil)
	assert.Equal(t, core.StateIdle, orc.State())
	require.NoError(t, orc.BeginCapture())
}

func TestResetDropsLateInferenceResult(t *testing.T) {
	infer := &fakeInfer{reply: "late", started: make(chan struct{}, 1), release: make(chan struct{})}
	orc, store := newTestOrchestrator(infer, &fakeSynth{err: core.ErrUnavailable}, nil)

	require.NoError(t, orc.BeginCapture())
	resultCh := make(chan error, 1)
	go func() {
		_, err := orc.SubmitUtterance(context.Background(), "hi")
		resultCh <- err
	}()
	<-infer.started

	orc.Reset()
	close(infer.release)

	select {
	case err := <-resultCh:
		assert.ErrorIs(t, err, ErrTurnSuperseded)
	case <-time.After(time.Second):
		t.Fatal("turn did not resolve")
	}
	// The late reply never lands in the cleared store.
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, core.StateIdle, orc.State())
}

func TestMemoryParityAfterSuccessfulTurns(t *testing.T) {
	infer := &fakeInfer{reply: "ack"}
	orc, store := newTestOrchestrator(infer, &fakeSynth{err: core.ErrUnavailable}, nil)

	const turns = 4
	for i := 0; i < turns; i++ {
		require.NoError(t, orc.BeginCapture())
		_, err := orc.SubmitUtterance(context.Background(), "hello")
		require.NoError(t, err)
	}
	// N successful turns leave exactly 2N exchanges.
	assert.Equal(t, 2*turns, store.Len())
}

func TestPromptWindowExcludesCurrentUtterance(t *testing.T) {
	infer := &fakeInfer{reply: "r"}
	orc, _ := newTestOrchestrator(infer, &fakeSynth{err: core.ErrUnavailable}, nil)

	require.NoError(t, orc.BeginCapture())
	_, err := orc.SubmitUtterance(context.Background(), "first")
	require.NoError(t, err)

	require.NoError(t, orc.BeginCapture())
	_, err = orc.SubmitUtterance(context.Background(), "second")
	require.NoError(t, err)

	require.Len(t, infer.prompts, 2)
	assert.Equal(t, "sys\nUser: first\nAssistant:", infer.prompts[0])
	assert.Equal(t, "sys\nUser: first\nAssistant: r\nUser: second\nAssistant:", infer.prompts[1])
}

type fakeCapturer struct {
	startErr error
	starts   int
	stops    int
}

func (f *fakeCapturer) Start() error {
	f.starts++
	return f.startErr
}

func (f *fakeCapturer) Stop() { f.stops++ }

func TestCapturerStartFailureStaysIdle(t *testing.T) {
	mic := &fakeCapturer{startErr: errors.New("mic unavailable")}
	orc, _ := newTestOrchestrator(&fakeInfer{}, &fakeSynth{}, nil)
	orc.WithCapturer(mic)

	require.Error(t, orc.BeginCapture())
	assert.Equal(t, core.StateIdle, orc.State())
}

func TestResetStopsActiveCapture(t *testing.T) {
	mic := &fakeCapturer{}
	orc, _ := newTestOrchestrator(&fakeInfer{}, &fakeSynth{}, nil)
	orc.WithCapturer(mic)

	require.NoError(t, orc.BeginCapture())
	orc.Reset()

	assert.Equal(t, 1, mic.stops)
	assert.Equal(t, core.StateIdle, orc.State())
}

func TestStateListenerSeesEveryTransition(t *testing.T) {
	infer := &fakeInfer{reply: "ok"}
	var mu sync.Mutex
	var seen []core.InteractionState
	orc, _ := newTestOrchestrator(infer, &fakeSynth{err: core.ErrUnavailable}, nil)
	orc.WithStateListener(func(s core.InteractionState) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	require.NoError(t, orc.BeginCapture())
	_, err := orc.SubmitUtterance(context.Background(), "hi")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []core.InteractionState{core.StateListening, core.StateThinking, core.StateIdle}, seen)
}
