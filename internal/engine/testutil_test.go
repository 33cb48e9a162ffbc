package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeAdapter is a lightweight in-memory adapter used for tests.
type fakeAdapter struct {
	startErr error
	genErr   error
	tokens   []string
	final    FinalResult
	started  []string
	// gate, when set, blocks Generate until closed.
	gate chan struct{}
	mu   sync.Mutex
}

func (f *fakeAdapter) Start(modelPath string) (InferSession, error) {
	f.mu.Lock()
	f.started = append(f.started, modelPath)
	f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &fakeSession{f: f}, nil
}

type fakeSession struct {
	f          *fakeAdapter
	lastPrompt string
	lastParams InferParams
}

func (s *fakeSession) Generate(ctx context.Context, prompt string, params InferParams, onToken func(string) error) (FinalResult, error) {
	s.lastPrompt = prompt
	s.lastParams = params
	if s.f.gate != nil {
		select {
		case <-s.f.gate:
		case <-ctx.Done():
			return FinalResult{}, ctx.Err()
		}
	}
	if s.f.genErr != nil {
		return FinalResult{}, s.f.genErr
	}
	for _, t := range s.f.tokens {
		select {
		case <-ctx.Done():
			return FinalResult{}, ctx.Err()
		default:
		}
		if err := onToken(t); err != nil {
			return FinalResult{}, err
		}
	}
	return s.f.final, nil
}

func (s *fakeSession) Close() error { return nil }

// recordSink collects chunks; it refuses data after limit chunks when limit > 0.
type recordSink struct {
	mu     sync.Mutex
	chunks []string
	limit  int
}

func (r *recordSink) Emit(chunk string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit > 0 && len(r.chunks) >= r.limit {
		return false
	}
	r.chunks = append(r.chunks, chunk)
	return true
}

func (r *recordSink) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.chunks...)
}

// workFolder creates a temp folder holding the given model files.
func workFolder(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", n, err)
		}
	}
	return dir
}

func chatRequest(model string, stream bool, prompt string) string {
	s := `{"model":"` + model + `","max_tokens":16,"stream":`
	if stream {
		s += "true"
	} else {
		s += "false"
	}
	return s + `,"messages":[{"role":"user","content":"` + strings.ReplaceAll(prompt, `"`, `\"`) + `"}]}`
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}
