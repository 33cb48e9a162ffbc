// Package session owns the response table and exposes the submit/poll/release
// protocol to the boundary layer.
//
// A Session is the sole owner of every response slot. Submit registers a slot
// and starts the engine on its own goroutine; Poll never blocks on the engine;
// Release removes the slot from the table before tearing it down, so a poll
// that races a release either completes against the live slot or reports
// ErrInvalidHandle.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"powerbridge/internal/engine"
	"powerbridge/internal/slot"
	"powerbridge/internal/table"
)

// Handle identifies one in-flight response.
type Handle = table.Handle

// Config encapsulates Session tunables.
type Config struct {
	// MaxLiveResponses caps the number of unreleased responses; 0 is unlimited.
	MaxLiveResponses int
	// Publisher receives lifecycle events; nil drops them.
	Publisher EventPublisher
}

// Stats is a point-in-time view of the session.
type Stats struct {
	WorkFolder    string
	LiveResponses int
	Handles       []Handle
	SubmitsTotal  uint64
	ReleasesTotal uint64
	Uptime        time.Duration
}

// Session drives one engine on behalf of the boundary layer.
type Session struct {
	eng   engine.Engine
	table *table.Table
	pub   EventPublisher
	start time.Time

	// initMu serializes engine initialization; the first successful Init fixes
	// the work folder for the lifetime of the session.
	initMu      sync.Mutex
	initialized bool
	workFolder  string

	// mu guards closed against concurrent Submit/Close.
	mu     sync.RWMutex
	closed bool

	producers sync.WaitGroup
	submits   atomic.Uint64
	releases  atomic.Uint64
}

// New constructs a Session around eng.
func New(eng engine.Engine, cfg Config) *Session {
	pub := cfg.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	return &Session{
		eng:   eng,
		table: table.New(cfg.MaxLiveResponses),
		pub:   pub,
		start: time.Now(),
	}
}

// Submit registers a new response and starts the engine on it. It returns
// without waiting for any output. The engine is initialized with workFolder
// on first use; later calls with a different folder are accepted and the
// folder is ignored. An initialization failure is reported through Poll on
// the returned handle.
func (s *Session) Submit(workFolder, request string) (Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		submitsTotal.WithLabelValues("rejected").Inc()
		return 0, ErrClosed
	}

	initErr := s.ensureInit(workFolder)

	sl := slot.New()
	h, err := s.table.Insert(sl)
	if err != nil {
		submitsTotal.WithLabelValues("rejected").Inc()
		zlog.Warn().Err(err).Int("live", s.table.Len()).Msg("submit rejected")
		return 0, fmt.Errorf("submit: %w", err)
	}
	liveResponses.Inc()
	s.submits.Add(1)

	if initErr != nil {
		submitsTotal.WithLabelValues("init_failed").Inc()
		s.fail(h, sl, &EngineError{Op: "init", Err: initErr})
		return h, nil
	}
	submitsTotal.WithLabelValues("ok").Inc()
	s.pub.Publish(Event{Name: EventSubmit, Handle: uint64(h)})
	zlog.Debug().Uint64("handle", uint64(h)).Int("request_bytes", len(request)).Msg("submit")

	ctx, cancel := context.WithCancel(context.Background())
	sl.SetCancel(cancel)
	s.producers.Add(1)
	go s.produce(ctx, cancel, h, sl, request)
	return h, nil
}

// Poll returns the next chunk of h. ok is false when nothing is available
// yet; this is also what a finished, fully consumed response returns. An
// engine failure is reported once every produced chunk has been consumed.
func (s *Session) Poll(h Handle) (chunk string, ok bool, err error) {
	sl, found := s.table.Lookup(h)
	if !found {
		pollsTotal.WithLabelValues("invalid").Inc()
		return "", false, ErrInvalidHandle
	}
	return s.take(sl)
}

// PollWait is Poll with a bounded wait: when nothing is buffered it waits up
// to timeout (or until ctx is done) for the engine to produce, finish or for
// the response to be released. The result contract is the same as Poll.
func (s *Session) PollWait(ctx context.Context, h Handle, timeout time.Duration) (string, bool, error) {
	sl, found := s.table.Lookup(h)
	if !found {
		pollsTotal.WithLabelValues("invalid").Inc()
		return "", false, ErrInvalidHandle
	}
	if timeout > 0 {
		wctx, cancel := context.WithTimeout(ctx, timeout)
		// a timeout is an empty poll, not an error
		_ = sl.Wait(wctx)
		cancel()
	}
	return s.take(sl)
}

func (s *Session) take(sl *slot.Slot) (string, bool, error) {
	chunk, ok, err := sl.TryTake()
	switch {
	case errors.Is(err, slot.ErrReleased):
		pollsTotal.WithLabelValues("invalid").Inc()
		return "", false, ErrInvalidHandle
	case err != nil:
		pollsTotal.WithLabelValues("error").Inc()
		return "", false, err
	case ok:
		pollsTotal.WithLabelValues("chunk").Inc()
		return chunk, true, nil
	default:
		pollsTotal.WithLabelValues("empty").Inc()
		return "", false, nil
	}
}

// Done reports whether the engine has finished h and every chunk was consumed.
func (s *Session) Done(h Handle) (bool, error) {
	sl, found := s.table.Lookup(h)
	if !found {
		return false, ErrInvalidHandle
	}
	return sl.Done(), nil
}

// Release removes h from the table, tells the engine to abandon it and frees
// its buffered output. Releasing an unknown handle returns ErrInvalidHandle
// and has no other effect.
func (s *Session) Release(h Handle) error {
	sl, found := s.table.Remove(h)
	if !found {
		releasesTotal.WithLabelValues("invalid").Inc()
		return ErrInvalidHandle
	}
	state := sl.State()
	sl.Release()
	liveResponses.Dec()
	s.releases.Add(1)
	releasesTotal.WithLabelValues("ok").Inc()
	s.pub.Publish(Event{Name: EventRelease, Handle: uint64(h), Fields: map[string]any{"state": string(state)}})
	zlog.Debug().Uint64("handle", uint64(h)).Str("state", string(state)).Msg("release")
	return nil
}

// WorkFolder returns the folder the engine was initialized with.
func (s *Session) WorkFolder() string {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.workFolder
}

// Stats returns a snapshot of the session.
func (s *Session) Stats() Stats {
	return Stats{
		WorkFolder:    s.WorkFolder(),
		LiveResponses: s.table.Len(),
		Handles:       s.table.Handles(),
		SubmitsTotal:  s.submits.Load(),
		ReleasesTotal: s.releases.Load(),
		Uptime:        time.Since(s.start),
	}
}

// Close releases every live response, waits for producers to exit (bounded by
// ctx) and closes the engine when it implements io.Closer. Submit fails with
// ErrClosed afterwards.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	slots := s.table.Drain()
	for _, sl := range slots {
		sl.Release()
	}
	liveResponses.Sub(float64(len(slots)))
	zlog.Info().Int("released", len(slots)).Msg("session closing")

	done := make(chan struct{})
	go func() {
		s.producers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if c, ok := s.eng.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Session) ensureInit(workFolder string) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initialized {
		if workFolder != s.workFolder {
			zlog.Warn().Str("work_folder", workFolder).Str("active", s.workFolder).Msg("engine already configured; work folder ignored")
			s.pub.Publish(Event{Name: EventConfigIgnored, Fields: map[string]any{"work_folder": workFolder, "active": s.workFolder}})
		}
		return nil
	}
	if err := s.eng.Init(workFolder); err != nil {
		zlog.Error().Err(err).Str("work_folder", workFolder).Msg("engine init failed")
		s.pub.Publish(Event{Name: EventEngineInitError, Fields: map[string]any{"work_folder": workFolder, "error": err.Error()}})
		return err
	}
	s.initialized = true
	s.workFolder = workFolder
	return nil
}

func (s *Session) produce(ctx context.Context, cancel context.CancelFunc, h Handle, sl *slot.Slot, request string) {
	defer s.producers.Done()
	defer cancel()
	start := time.Now()
	err := s.runEngine(ctx, request, sl)
	if ctx.Err() != nil {
		// released: nothing may be observed past this point
		zlog.Debug().Uint64("handle", uint64(h)).Dur("dur", time.Since(start)).Msg("production abandoned")
		return
	}
	if err != nil {
		s.fail(h, sl, &EngineError{Op: "produce", Err: err})
		return
	}
	sl.Finish(nil)
	zlog.Debug().Uint64("handle", uint64(h)).Dur("dur", time.Since(start)).Msg("production finished")
}

// runEngine shields the session from engine panics.
func (s *Session) runEngine(ctx context.Context, request string, sl *slot.Slot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	return s.eng.Produce(ctx, request, sl)
}

func (s *Session) fail(h Handle, sl *slot.Slot, err *EngineError) {
	sl.Finish(err)
	engineFailuresTotal.Inc()
	s.pub.Publish(Event{Name: EventEngineFailure, Handle: uint64(h), Fields: map[string]any{"op": err.Op, "error": err.Err.Error()}})
	zlog.Error().Uint64("handle", uint64(h)).Str("op", err.Op).Err(err.Err).Msg("engine failure")
}
