package session

import "github.com/rs/zerolog"

var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the session.
func SetLogger(l zerolog.Logger) { zlog = l.With().Str("component", "session").Logger() }
