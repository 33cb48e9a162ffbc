package engine

import "github.com/rs/zerolog"

// zlog is the package logger. It discards everything until SetLogger is called.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the engine and its adapters.
func SetLogger(l zerolog.Logger) { zlog = l.With().Str("component", "engine").Logger() }
