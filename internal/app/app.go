// Package app wires configuration into a running bridge: engine, session,
// boundary adapter and the host-facing service used by the HTTP surface.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"powerbridge/internal/bridge"
	"powerbridge/internal/config"
	"powerbridge/internal/engine"
	"powerbridge/internal/session"
	"powerbridge/pkg/types"
)

// EngineConfig maps file configuration onto engine tunables.
func EngineConfig(c config.Config) engine.Config {
	return engine.Config{
		Backend:          c.Backend,
		LlamaCtx:         c.LlamaCtx,
		LlamaThreads:     c.LlamaThreads,
		ServerURL:        c.ServerURL,
		ServerAPIKey:     c.ServerAPIKey,
		MaxQueueDepth:    c.MaxQueueDepth,
		MaxWait:          c.MaxWait(),
		DefaultMaxTokens: c.MaxTokens,
	}
}

// BridgeOptions maps file configuration onto boundary limits.
func BridgeOptions(c config.Config) bridge.Options {
	return bridge.Options{
		MaxWorkFolderBytes: c.MaxWorkFolderBytes,
		MaxRequestBytes:    c.MaxRequestBytes,
		EmptyBackoff:       c.EmptyPollBackoff(),
	}
}

// Host is the boundary as seen by a host: a bridge over one session.
type Host struct {
	*bridge.Bridge
	sess *session.Session
}

// New builds a Host with its own session. The caller owns Close.
func New(c config.Config, log zerolog.Logger) (*Host, error) {
	c.ApplyDefaults()
	eng, err := engine.NewLocal(EngineConfig(c))
	if err != nil {
		return nil, err
	}
	return newHost(session.New(eng, sessionConfig(c, log)), c, log), nil
}

// Process builds a Host over the process-wide session, configuring it from c
// unless another caller already did.
func Process(c config.Config, log zerolog.Logger) (*Host, error) {
	c.ApplyDefaults()
	eng, err := engine.NewLocal(EngineConfig(c))
	if err != nil {
		return nil, err
	}
	sess, err := session.Configure(eng, sessionConfig(c, log))
	if err != nil && !errors.Is(err, session.ErrAlreadyConfigured) {
		return nil, err
	}
	if err != nil {
		log.Warn().Msg("process session already configured; settings ignored")
	}
	return newHost(sess, c, log), nil
}

// NewWithSession builds a Host over an existing session.
func NewWithSession(sess *session.Session, c config.Config, log zerolog.Logger) *Host {
	c.ApplyDefaults()
	return newHost(sess, c, log)
}

func newHost(sess *session.Session, c config.Config, log zerolog.Logger) *Host {
	b := bridge.New(sess, BridgeOptions(c))
	b.SetLogger(log)
	return &Host{Bridge: b, sess: sess}
}

func sessionConfig(c config.Config, log zerolog.Logger) session.Config {
	return session.Config{
		MaxLiveResponses: c.MaxLiveResponses,
		Publisher:        logPublisher{log: log.With().Str("component", "events").Logger()},
	}
}

// Session returns the session behind the host.
func (h *Host) Session() *session.Session { return h.sess }

// Status reports the session state for GET /status.
func (h *Host) Status() types.StatusResponse {
	st := h.sess.Stats()
	handles := make([]uint64, len(st.Handles))
	for i, hd := range st.Handles {
		handles[i] = uint64(hd)
	}
	return types.StatusResponse{
		WorkFolder:    st.WorkFolder,
		LiveResponses: st.LiveResponses,
		Handles:       handles,
		SubmitsTotal:  st.SubmitsTotal,
		ReleasesTotal: st.ReleasesTotal,
		UptimeSeconds: int64(st.Uptime / time.Second),
	}
}

// Close tears the session down.
func (h *Host) Close(ctx context.Context) error { return h.sess.Close(ctx) }
