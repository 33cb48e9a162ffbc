package session

import (
	"sync"
	"sync/atomic"

	"powerbridge/internal/engine"
)

// The process-wide session is created exactly once, either explicitly through
// Configure or lazily on the first Default call.
var (
	defaultMu      sync.Mutex
	defaultSession atomic.Pointer[Session]
)

// Configure installs the process session. It fails with ErrAlreadyConfigured
// (returning the existing session) once one exists.
func Configure(eng engine.Engine, cfg Config) (*Session, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if s := defaultSession.Load(); s != nil {
		return s, ErrAlreadyConfigured
	}
	s := New(eng, cfg)
	defaultSession.Store(s)
	return s, nil
}

// Default returns the process session, creating one backed by the in-process
// llama engine with default settings if Configure was never called.
func Default() *Session {
	if s := defaultSession.Load(); s != nil {
		return s
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if s := defaultSession.Load(); s != nil {
		return s
	}
	s := New(engine.NewLocalWithAdapter(engine.Config{}, engine.NewLlamaAdapter(0, 0)), Config{})
	defaultSession.Store(s)
	return s
}
