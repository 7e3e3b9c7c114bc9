package executor

import (
	"errors"
	"fmt"
)

// ErrNotImplemented is wrapped by executors registered only to reserve an id.
var ErrNotImplemented = errors.New("deployment not implemented for this platform")

type Kind int

const (
	KindConfiguration Kind = iota
	KindAuthFailure
	KindTransferFailure
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthFailure:
		return "auth-failure"
	case KindTransferFailure:
		return "transfer-failure"
	}
	return "unknown"
}

// DeploymentError reports a failed deploy attempt. Uploaded counts the files
// that reached the remote host before the failure.
type DeploymentError struct {
	Platform string
	Kind     Kind
	Uploaded int
	Err      error
}

func (e *DeploymentError) Error() string {
	switch e.Kind {
	case KindAuthFailure:
		return fmt.Sprintf("%s: could not connect to remote host: %v", e.Platform, e.Err)
	case KindTransferFailure:
		return fmt.Sprintf("%s: upload failed after %d file(s): %v", e.Platform, e.Uploaded, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Platform, e.Err)
}

func (e *DeploymentError) Unwrap() error { return e.Err }

// KindOf returns the kind of a DeploymentError in err's chain.
func KindOf(err error) (Kind, bool) {
	var de *DeploymentError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}
