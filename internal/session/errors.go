package session

import "errors"

// ErrInvalidHandle reports a handle that was never issued or was already released.
var ErrInvalidHandle = errors.New("invalid handle")

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("session closed")

// ErrAlreadyConfigured is returned by Configure once the process session exists.
var ErrAlreadyConfigured = errors.New("session already configured")

// EngineError wraps any failure raised while producing a response.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	if e.Op == "" {
		return "engine failure: " + e.Err.Error()
	}
	return "engine failure (" + e.Op + "): " + e.Err.Error()
}

func (e *EngineError) Unwrap() error { return e.Err }

// IsEngineFailure reports whether err came from the engine.
func IsEngineFailure(err error) bool {
	var e *EngineError
	return errors.As(err, &e)
}

// IsInvalidHandle reports whether err indicates an unknown or released handle.
func IsInvalidHandle(err error) bool { return errors.Is(err, ErrInvalidHandle) }
