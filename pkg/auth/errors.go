package auth

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned by a Prompter when the user dismisses the prompt.
var ErrCancelled = errors.New("authentication cancelled")

type Reason int

const (
	ReasonCancelled Reason = iota
	ReasonRejected
	ReasonNetwork
	ReasonTimeout
)

func (r Reason) String() string {
	switch r {
	case ReasonCancelled:
		return "cancelled"
	case ReasonRejected:
		return "rejected"
	case ReasonNetwork:
		return "network"
	case ReasonTimeout:
		return "timeout"
	}
	return "unknown"
}

// AuthenticationError is returned by the Orchestrator for every failed attempt.
type AuthenticationError struct {
	Platform   string
	Reason     Reason
	StatusCode int
	Err        error
}

func (e *AuthenticationError) Error() string {
	switch e.Reason {
	case ReasonCancelled:
		return fmt.Sprintf("%s: authentication cancelled", e.Platform)
	case ReasonRejected:
		if e.StatusCode != 0 {
			return fmt.Sprintf("%s: credentials rejected by provider (HTTP %d)", e.Platform, e.StatusCode)
		}
		return fmt.Sprintf("%s: credentials rejected: %v", e.Platform, e.Err)
	case ReasonTimeout:
		return fmt.Sprintf("%s: timed out waiting for authorization", e.Platform)
	}
	return fmt.Sprintf("%s: could not reach provider: %v", e.Platform, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// IsCancelled reports whether err is a user cancellation.
func IsCancelled(err error) bool {
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return ae.Reason == ReasonCancelled
	}
	return errors.Is(err, ErrCancelled)
}
