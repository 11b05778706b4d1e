package server

import "sync"

// Readiness is the process-wide inference-reachability flag. It is set once
// by the startup probe and exposed read-only to the readiness endpoint;
// request handling never mutates it.
type Readiness struct {
	mu      sync.RWMutex
	ready   bool
	details string
}

func NewReadiness() *Readiness {
	return &Readiness{details: "startup probe has not completed"}
}

// Set records the outcome of the startup connectivity probe.
func (r *Readiness) Set(ready bool, details string) {
	r.mu.Lock()
	r.ready = ready
	r.details = details
	r.mu.Unlock()
}

// Ready reports the probe outcome and its detail message.
func (r *Readiness) Ready() (bool, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready, r.details
}
