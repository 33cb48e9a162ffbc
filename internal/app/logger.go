package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"powerbridge/internal/engine"
	"powerbridge/internal/httpapi"
	"powerbridge/internal/session"
)

// NewLogger builds the process logger. JSON output is meant for log
// collectors; otherwise a console writer is used. A nil w writes to stderr.
func NewLogger(level string, json bool, w io.Writer) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if !json {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// InstallLogger hands l to every package that logs.
func InstallLogger(l zerolog.Logger) {
	engine.SetLogger(l)
	session.SetLogger(l)
	httpapi.SetLogger(l)
}

// logPublisher writes session events to the logger.
type logPublisher struct {
	log zerolog.Logger
}

func (p logPublisher) Publish(e session.Event) {
	ev := p.log.Debug()
	switch e.Name {
	case session.EventEngineFailure, session.EventEngineInitError:
		ev = p.log.Warn()
	case session.EventConfigIgnored:
		ev = p.log.Info()
	}
	if e.Handle != 0 {
		ev = ev.Uint64("handle", e.Handle)
	}
	ev.Fields(e.Fields).Str("event", e.Name).Msg("session event")
}
