// Package engine hosts the inference collaborator driven by a session: it
// resolves models inside a work folder, admits one generation per model at a
// time, and streams the output as "data: " chunks into a Sink.
//
// Build tags and runtimes:
//
//   - In-process llama: go-llama.cpp adapter, enabled with `-tags=llama`.
//     Files: adapter_llama.go, llama_cgo.go. Without the tag,
//     adapter_llama_stub.go fails fast with a dependency-unavailable error.
//   - llama-server: adapter_llama_server.go talks to a running llama.cpp
//     server over its OpenAI-compatible streaming endpoint.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"powerbridge/internal/registry"
	"powerbridge/pkg/types"
)

// Engine is the inference collaborator driven by a session.
type Engine interface {
	// Init configures the engine with the folder holding its models.
	Init(workFolder string) error
	// Produce generates the response for request, appending chunks to sink
	// until done, ctx is canceled, or sink refuses more data.
	Produce(ctx context.Context, request string, sink Sink) error
}

// Sink receives chunks in production order. Emit reports false when the
// consumer is gone and production should stop.
type Sink interface {
	Emit(chunk string) bool
}

// Backends understood by NewLocal.
const (
	BackendLlama  = "llama"
	BackendServer = "server"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth  = 8
	defaultMaxWait        = 30 * time.Second
	defaultMaxTokens      = 512
	defaultConnectTimeout = 5 * time.Second
)

// Config holds the engine tunables.
type Config struct {
	Backend          string
	LlamaCtx         int
	LlamaThreads     int
	ServerURL        string
	ServerAPIKey     string
	RequestTimeout   time.Duration
	MaxQueueDepth    int
	MaxWait          time.Duration
	DefaultMaxTokens int
}

func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendLlama
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = defaultMaxQueueDepth
	}
	if c.MaxWait <= 0 {
		c.MaxWait = defaultMaxWait
	}
	if c.DefaultMaxTokens <= 0 {
		c.DefaultMaxTokens = defaultMaxTokens
	}
	return c
}

// Local is the Engine backed by an InferenceAdapter.
type Local struct {
	cfg     Config
	adapter InferenceAdapter

	mu          sync.Mutex
	initialized bool
	workFolder  string
	models      []types.Model
	instances   map[string]*instance

	loadMu sync.Mutex
}

// NewLocal constructs an engine using the adapter selected by cfg.Backend.
func NewLocal(cfg Config) (*Local, error) {
	cfg = cfg.withDefaults()
	var a InferenceAdapter
	switch cfg.Backend {
	case BackendLlama:
		a = NewLlamaAdapter(cfg.LlamaCtx, cfg.LlamaThreads)
	case BackendServer:
		if strings.TrimSpace(cfg.ServerURL) == "" {
			return nil, errors.New("server backend requires a server url")
		}
		a = NewLlamaServerAdapter(cfg.ServerURL, cfg.ServerAPIKey, cfg.RequestTimeout, defaultConnectTimeout)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return NewLocalWithAdapter(cfg, a), nil
}

// NewLocalWithAdapter constructs an engine around an explicit adapter.
func NewLocalWithAdapter(cfg Config, a InferenceAdapter) *Local {
	return &Local{
		cfg:       cfg.withDefaults(),
		adapter:   a,
		instances: make(map[string]*instance),
	}
}

// Init scans workFolder for models. Once it succeeds later calls are no-ops.
func (e *Local) Init(workFolder string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}
	models, err := registry.LoadDir(workFolder)
	if err != nil {
		return fmt.Errorf("scan work folder: %w", err)
	}
	// llama-server holds its own model; the folder may be empty.
	if len(models) == 0 && e.cfg.Backend != BackendServer {
		return ErrModelNotFound("(no *.gguf in " + workFolder + ")")
	}
	e.workFolder = workFolder
	e.models = models
	e.initialized = true
	zlog.Info().Str("work_folder", workFolder).Int("models", len(models)).Msg("engine initialized")
	return nil
}

// Models returns the models discovered by Init.
func (e *Local) Models() []types.Model {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Model, len(e.models))
	copy(out, e.models)
	return out
}

// Produce runs one chat request to completion.
func (e *Local) Produce(ctx context.Context, request string, sink Sink) error {
	req, err := DecodeChatRequest(request)
	if err != nil {
		return err
	}
	mdl, err := e.resolveModel(req.Model)
	if err != nil {
		return err
	}
	inst, err := e.ensureInstance(mdl)
	if err != nil {
		return err
	}
	release, err := e.beginGeneration(ctx, inst)
	if err != nil {
		return err
	}
	defer release()

	w := newChunkWriter(sink, mdl.ID, req.Stream)
	var (
		b      strings.Builder
		tokens int
	)
	onTok := func(tok string) error {
		tokens++
		if !req.Stream {
			b.WriteString(tok)
			return nil
		}
		return w.content(tok)
	}
	start := time.Now()
	final, err := inst.sess.Generate(ctx, renderPrompt(req.Messages), paramsFromRequest(req, e.cfg.DefaultMaxTokens), onTok)
	if err != nil {
		return err
	}
	if !req.Stream {
		content := final.Content
		if content == "" {
			content = b.String()
		}
		if err := w.content(content); err != nil {
			return err
		}
	}
	usage := final.Usage
	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = tokens
		usage.TotalTokens = usage.PromptTokens + tokens
	}
	zlog.Debug().Str("model", mdl.ID).Int("tokens", tokens).Dur("dur", time.Since(start)).Msg("generation done")
	return w.finish(final.FinishReason, usage)
}

// Close frees every loaded model.
func (e *Local) Close() error {
	e.mu.Lock()
	insts := e.instances
	e.instances = make(map[string]*instance)
	e.mu.Unlock()
	var errs []error
	for _, inst := range insts {
		if err := inst.sess.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Local) resolveModel(id string) (types.Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return types.Model{}, ErrNotInitialized
	}
	if len(e.models) == 0 {
		// llama-server picks models by name; nothing on disk to resolve
		return types.Model{ID: id, Name: id, Path: id}, nil
	}
	if id == "" {
		return e.models[0], nil
	}
	for _, m := range e.models {
		if m.ID == id || strings.TrimSuffix(m.ID, ".gguf") == id {
			return m, nil
		}
	}
	return types.Model{}, ErrModelNotFound(id)
}

func (e *Local) ensureInstance(mdl types.Model) (*instance, error) {
	e.mu.Lock()
	inst := e.instances[mdl.Path]
	e.mu.Unlock()
	if inst != nil {
		return inst, nil
	}

	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	e.mu.Lock()
	inst = e.instances[mdl.Path]
	e.mu.Unlock()
	if inst != nil {
		return inst, nil
	}
	start := time.Now()
	sess, err := e.adapter.Start(mdl.Path)
	if err != nil {
		return nil, err
	}
	inst = newInstance(mdl.ID, sess, e.cfg.MaxQueueDepth)
	e.mu.Lock()
	e.instances[mdl.Path] = inst
	e.mu.Unlock()
	zlog.Info().Str("model", mdl.ID).Dur("dur", time.Since(start)).Msg("model loaded")
	return inst, nil
}
