// Package bridge is the boundary adapter between a host runtime and the
// session. Host values are copied in with bounded sizes; every failure is
// turned into a sentinel string (poll path) or dropped (destroy path) so
// nothing ever escapes across the boundary as a panic.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"powerbridge/internal/session"
)

// Boundary limits observed by host callers.
const (
	DefaultMaxWorkFolderBytes = 256
	DefaultMaxRequestBytes    = 2048
)

// ErrorPrefix starts every error reported by GetResponse.
const ErrorPrefix = "[ERROR]: "

// Service is the subset of a session the bridge drives.
type Service interface {
	Submit(workFolder, request string) (session.Handle, error)
	Poll(h session.Handle) (string, bool, error)
	Release(h session.Handle) error
}

// waitPoller is implemented by services that can block until a chunk is
// available.
type waitPoller interface {
	PollWait(ctx context.Context, h session.Handle, timeout time.Duration) (string, bool, error)
}

// Options tunes the boundary. Zero values select the defaults.
type Options struct {
	MaxWorkFolderBytes int
	MaxRequestBytes    int
	// EmptyBackoff makes GetResponse sleep before returning an empty string,
	// keeping naive host polling loops from spinning.
	EmptyBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxWorkFolderBytes <= 0 {
		o.MaxWorkFolderBytes = DefaultMaxWorkFolderBytes
	}
	if o.MaxRequestBytes <= 0 {
		o.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if o.EmptyBackoff < 0 {
		o.EmptyBackoff = 0
	}
	return o
}

// Bridge translates boundary calls into session operations.
type Bridge struct {
	svc  Service
	opts Options
	log  zerolog.Logger
}

// New returns a Bridge over svc.
func New(svc Service, opts Options) *Bridge {
	return &Bridge{svc: svc, opts: opts.withDefaults(), log: zerolog.Nop()}
}

// SetLogger installs a structured logger.
func (b *Bridge) SetLogger(l zerolog.Logger) { b.log = l.With().Str("component", "bridge").Logger() }

// Options returns the effective options.
func (b *Bridge) Options() Options { return b.opts }

// Infer submits a request and returns its handle. A rejected submit returns
// 0, which GetResponse reports as an invalid handle.
func (b *Bridge) Infer(workFolder, request string) (handle uint64) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Msg("infer panicked")
			handle = 0
		}
	}()
	wf := Truncate(workFolder, b.opts.MaxWorkFolderBytes)
	req := Truncate(request, b.opts.MaxRequestBytes)
	if len(wf) != len(workFolder) || len(req) != len(request) {
		b.log.Warn().
			Int("work_folder_bytes", len(workFolder)).
			Int("request_bytes", len(request)).
			Msg("boundary input truncated")
	}
	h, err := b.svc.Submit(wf, req)
	if err != nil {
		b.log.Error().Err(err).Msg("submit failed")
		return 0
	}
	return uint64(h)
}

// GetResponse returns the next chunk for handle: "" when nothing is available
// yet, or ErrorPrefix followed by the failure message.
func (b *Bridge) GetResponse(handle uint64) (out string) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Uint64("handle", handle).Msg("get response panicked")
			out = ErrorPrefix + fmt.Sprint(r)
		}
	}()
	chunk, ok, err := b.svc.Poll(session.Handle(handle))
	if err != nil {
		return ErrorPrefix + err.Error()
	}
	if !ok {
		if b.opts.EmptyBackoff > 0 {
			time.Sleep(b.opts.EmptyBackoff)
		}
		return ""
	}
	return chunk
}

// WaitResponse is GetResponse with a bounded wait: it returns as soon as a
// chunk, completion or failure is available, or "" once wait elapses or ctx
// is done. Services that cannot wait fall back to a single GetResponse.
func (b *Bridge) WaitResponse(ctx context.Context, handle uint64, wait time.Duration) (out string) {
	wp, ok := b.svc.(waitPoller)
	if !ok || wait <= 0 {
		return b.GetResponse(handle)
	}
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Uint64("handle", handle).Msg("wait response panicked")
			out = ErrorPrefix + fmt.Sprint(r)
		}
	}()
	chunk, ok, err := wp.PollWait(ctx, session.Handle(handle), wait)
	if err != nil {
		return ErrorPrefix + err.Error()
	}
	if !ok {
		return ""
	}
	return chunk
}

// DestroyResponse releases handle. Failures are logged and dropped.
func (b *Bridge) DestroyResponse(handle uint64) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Uint64("handle", handle).Msg("destroy response panicked")
		}
	}()
	if err := b.svc.Release(session.Handle(handle)); err != nil {
		b.log.Debug().Err(err).Uint64("handle", handle).Msg("destroy response ignored")
	}
}

// Truncate returns a copy of s cut to at most max bytes without splitting a
// UTF-8 sequence.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return strings.Clone(s)
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.Clone(s[:cut])
}

// ReadLimit is how many bytes of a host string must be read for Truncate to
// give the same result with max as it would on the whole string.
func ReadLimit(max int) int {
	if max <= 0 {
		return 0
	}
	return max + 1
}

// IsError reports whether a GetResponse result is an error sentinel.
func IsError(chunk string) bool { return strings.HasPrefix(chunk, ErrorPrefix) }
