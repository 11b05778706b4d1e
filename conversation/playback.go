package conversation

import (
	"sync"

	"voiceloop/core"
)

// Sink delivers a clip to whatever actually plays it (a websocket client, an
// immediate-delivery HTTP response, a test double) and reports back. done must
// be invoked exactly once: nil on normal completion, non-nil on playback
// error.
type Sink interface {
	Begin(clip *core.AudioClip, done func(error))
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(clip *core.AudioClip, done func(error))

func (f SinkFunc) Begin(clip *core.AudioClip, done func(error)) {
	f(clip, done)
}

// ImmediateSink completes playback as soon as the clip is handed over. Used
// for the stateless HTTP path where the clip travels in the response body and
// the caller plays it on its own time.
func ImmediateSink() Sink {
	return SinkFunc(func(_ *core.AudioClip, done func(error)) {
		done(nil)
	})
}

// Supervisor owns at most one clip at a time. Play hands the clip to the sink
// and arranges for the completion callback to fire once; Stop halts and
// discards the current clip immediately. A sink callback arriving after Stop
// (or after a newer Play) belongs to a stale generation and is dropped.
type Supervisor struct {
	mu     sync.Mutex
	sink   Sink
	logger *core.Logger
	gen    uint64 // bumped on every Play and Stop; stale callbacks are ignored
	active bool
}

func NewSupervisor(sink Sink, logger *core.Logger) *Supervisor {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Supervisor{
		sink:   sink,
		logger: logger.With(map[string]any{"component": "playback"}),
	}
}

// Play begins playback of clip. Any in-progress clip is superseded. done
// fires exactly once when the sink reports completion or error, unless a
// later Play or Stop supersedes this clip first.
func (s *Supervisor) Play(clip *core.AudioClip, done func(err error)) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.active = true
	s.mu.Unlock()

	s.sink.Begin(clip, func(err error) {
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			s.logger.Debug("dropping completion for superseded clip")
			return
		}
		s.active = false
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("playback ended with error", "error", err)
		}
		if done != nil {
			done(err)
		}
	})
}

// Stop halts any in-progress playback and discards the current clip.
// Idempotent when nothing is playing.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	wasActive := s.active
	s.gen++
	s.active = false
	s.mu.Unlock()
	if wasActive {
		s.logger.Debug("playback stopped, clip discarded")
	}
}

// Playing reports whether a clip is currently being played.
func (s *Supervisor) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
