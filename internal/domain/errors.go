package domain

import (
	"errors"
	"fmt"
)

// ErrPipelineInvalidated is the root of every fatal error: the graph, the
// session and the source must be recreated from scratch.
var ErrPipelineInvalidated = errors.New("pipeline invalidated")

type SessionErrorKind int

const (
	ActivationFailed SessionErrorKind = iota
	DeactivationFailed
)

func (k SessionErrorKind) String() string {
	switch k {
	case ActivationFailed:
		return "activation failed"
	case DeactivationFailed:
		return "deactivation failed"
	default:
		return "unknown session error"
	}
}

type SessionError struct {
	Kind   SessionErrorKind
	Reason string
	Err    error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("session %s: %s", e.Kind, e.Reason)
}

func (e *SessionError) Unwrap() error { return e.Err }

type GraphErrorKind int

const (
	AttachFailed GraphErrorKind = iota
	ConnectFailed
	StartFailed
	ConfigureFailed
)

func (k GraphErrorKind) String() string {
	switch k {
	case AttachFailed:
		return "attach failed"
	case ConnectFailed:
		return "connect failed"
	case StartFailed:
		return "start failed"
	case ConfigureFailed:
		return "configure failed"
	default:
		return "unknown graph error"
	}
}

type GraphError struct {
	Kind   GraphErrorKind
	Reason string
	Err    error
}

func (e *GraphError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("graph %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("graph %s: %s", e.Kind, e.Reason)
}

func (e *GraphError) Unwrap() error { return e.Err }

// FatalError is returned when the coordinator cannot recover on its own.
type FatalError struct {
	Cause string
	Event string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%v: %s (event %s)", ErrPipelineInvalidated, e.Cause, e.Event)
}

func (e *FatalError) Unwrap() error { return ErrPipelineInvalidated }

func IsFatal(err error) bool {
	return errors.Is(err, ErrPipelineInvalidated)
}

type AssetLoadError struct {
	Path string
	Err  error
}

func (e *AssetLoadError) Error() string {
	return fmt.Sprintf("loading audio asset %s: %v", e.Path, e.Err)
}

func (e *AssetLoadError) Unwrap() error { return e.Err }
