//go:build llama

package engine

import (
	"context"
	"errors"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// llamaAdapter holds global config used to initialize a model instance
type llamaAdapter struct {
	ctxSize int
	threads int
}

func NewLlamaAdapter(ctxSize, threads int) InferenceAdapter {
	return &llamaAdapter{ctxSize: ctxSize, threads: threads}
}

// llamaSession owns the loaded model
type llamaSession struct {
	mu      sync.Mutex
	model   *llama.LLama
	threads int
}

func (a *llamaAdapter) Start(modelPath string) (InferSession, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	mo := []llama.ModelOption{}
	if a.ctxSize > 0 {
		mo = append(mo, llama.SetContext(a.ctxSize))
	}
	m, err := llama.New(modelPath, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaSession{model: m, threads: a.threads}, nil
}

func (s *llamaSession) Generate(ctx context.Context, prompt string, params InferParams, onToken func(string) error) (FinalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return FinalResult{}, errors.New("llama model not initialized")
	}

	var cbErr error
	s.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if err := onToken(tok); err != nil {
			cbErr = err
			return false
		}
		return true
	})

	text, err := s.model.Predict(prompt, mapInferParamsToPredictOptions(params, s.threads)...)
	if cbErr != nil {
		return FinalResult{}, cbErr
	}
	if ctx.Err() != nil {
		return FinalResult{}, ctx.Err()
	}
	if err != nil {
		return FinalResult{}, err
	}
	// token counts not available without deeper hooks
	return FinalResult{Content: text, FinishReason: "stop"}, nil
}

func (s *llamaSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model != nil {
		s.model.Free()
		s.model = nil
	}
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// mapInferParamsToPredictOptions converts our adapter params into go-llama.cpp options
func mapInferParamsToPredictOptions(params InferParams, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, params.MaxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(zf(params.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(params.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(params.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(params.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if params.Seed != 0 {
		po = append(po, llama.SetSeed(params.Seed))
	}
	if len(params.Stop) > 0 {
		po = append(po, llama.SetStopWords(params.Stop...))
	}
	return po
}
