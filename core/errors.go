package core

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned by a synthesis client that has no credentials or
// voice configured. It marks a recognized text-only mode, not a failure.
var ErrUnavailable = errors.New("speech synthesis not configured")

// ValidationError reports bad or missing caller input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthError reports a credential problem with the inference collaborator.
// Help carries remediation guidance for the operator.
type AuthError struct {
	Details string
	Help    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("inference auth failure: %s", e.Details)
}

// SynthesisError carries the synthesis collaborator's non-success status and
// raw error body. The turn's reply text remains valid when this occurs.
type SynthesisError struct {
	Status int
	Body   string
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed with status %d: %s", e.Status, e.Body)
}
