package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"powerbridge/internal/engine"
)

// scriptEngine splits each request into fixed chunks. Requests prefixed with
// "fail:", "panic:" or "stream:" trigger failures or an endless stream.
type scriptEngine struct {
	mu      sync.Mutex
	inits   []string
	initErr error
	exited  chan struct{}
	closed  bool
}

func newScriptEngine() *scriptEngine { return &scriptEngine{exited: make(chan struct{}, 64)} }

func (e *scriptEngine) Init(workFolder string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inits = append(e.inits, workFolder)
	return e.initErr
}

func (e *scriptEngine) Produce(ctx context.Context, request string, sink engine.Sink) error {
	defer func() { e.exited <- struct{}{} }()
	switch {
	case strings.HasPrefix(request, "fail:"):
		sink.Emit("partial")
		return errors.New(strings.TrimPrefix(request, "fail:"))
	case strings.HasPrefix(request, "panic:"):
		panic(strings.TrimPrefix(request, "panic:"))
	case request == "stream:":
		for {
			if !sink.Emit("tick") {
				return ctx.Err()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
	case strings.HasPrefix(request, "gate:"):
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
		sink.Emit(strings.TrimPrefix(request, "gate:"))
		return nil
	}
	for _, c := range splitChunks(request) {
		if !sink.Emit(c) {
			return nil
		}
	}
	return nil
}

func (e *scriptEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *scriptEngine) initCalls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.inits...)
}

// splitChunks cuts s after its first two bytes: "Hello" -> "He", "llo".
func splitChunks(s string) []string {
	if len(s) <= 2 {
		return []string{s}
	}
	return []string{s[:2], s[2:]}
}

// pollNext polls until a chunk or error arrives.
func pollNext(t *testing.T, s *Session, h Handle) (string, error) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, ok, err := s.Poll(h)
		if err != nil || ok {
			return c, err
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no chunk for handle %d", h)
	return "", nil
}

// waitDone waits until the engine finished h and everything was consumed.
func waitDone(t *testing.T, s *Session, h Handle) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		done, err := s.Done(h)
		if err != nil {
			t.Fatalf("Done: %v", err)
		}
		if done {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("handle %d never finished", h)
}

func closeSession(t *testing.T, s *Session) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
}
