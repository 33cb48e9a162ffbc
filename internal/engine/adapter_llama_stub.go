//go:build !llama

package engine

// No-CGO stub for the llama adapter, compiled when the 'llama' build tag is
// NOT set. The real adapter lives in adapter_llama.go.

import (
	"context"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = false

type llamaAdapter struct {
	ctxSize int
	threads int
}

func NewLlamaAdapter(ctxSize, threads int) InferenceAdapter {
	return &llamaAdapter{ctxSize: ctxSize, threads: threads}
}

type llamaSession struct{}

func (a *llamaAdapter) Start(modelPath string) (InferSession, error) {
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

func (s *llamaSession) Generate(ctx context.Context, prompt string, params InferParams, onToken func(string) error) (FinalResult, error) {
	select {
	case <-ctx.Done():
		return FinalResult{}, ctx.Err()
	default:
	}
	return FinalResult{}, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

func (s *llamaSession) Close() error { return nil }
