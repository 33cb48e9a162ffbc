// Package httpapi exposes the boundary over HTTP so a host can be simulated
// from any language: submit, poll and release map one-to-one onto routes and
// keep the boundary's string contract.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"powerbridge/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Infer(workFolder, request string) uint64
	GetResponse(handle uint64) string
	WaitResponse(ctx context.Context, handle uint64, wait time.Duration) string
	DestroyResponse(handle uint64)
	Status() types.StatusResponse
}

// NewMux builds the router. POST /responses forwards the request string as
// is, empty included; like every other host surface, a bad request is
// reported through polling, never by the submit route.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Post("/responses", func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		h := svc.Infer(req.WorkFolder, req.Request)
		if h == 0 {
			submitRejectedTotal.Inc()
			if ev := requestEvent(r, LevelError); ev != nil {
				ev.Msg("submit rejected")
			}
			writeJSONError(w, http.StatusServiceUnavailable, "submit rejected")
			return
		}
		if ev := requestEvent(r, LevelInfo); ev != nil {
			ev.Uint64("handle", h).Msg("submit")
		}
		writeJSON(w, http.StatusOK, types.SubmitResponse{Handle: h})
	})

	r.Get("/responses/{handle}", func(w http.ResponseWriter, r *http.Request) {
		h, ok := parseHandle(w, r)
		if !ok {
			return
		}
		wait, err := parseWait(r.URL.Query().Get("wait_ms"))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		var chunk string
		if wait > 0 {
			// Join server base context with request context so shutdown ends the wait too.
			ctx, cancel := joinContexts(serverBaseCtx, r.Context())
			chunk = svc.WaitResponse(ctx, h, wait)
			cancel()
		} else {
			chunk = svc.GetResponse(h)
		}
		if ev := requestEvent(r, LevelDebug); ev != nil {
			ev.Uint64("handle", h).Int("bytes", len(chunk)).Msg("poll")
		}
		writeJSON(w, http.StatusOK, types.PollResponse{Chunk: chunk})
	})

	r.Delete("/responses/{handle}", func(w http.ResponseWriter, r *http.Request) {
		h, ok := parseHandle(w, r)
		if !ok {
			return
		}
		svc.DestroyResponse(h)
		if ev := requestEvent(r, LevelInfo); ev != nil {
			ev.Uint64("handle", h).Msg("release")
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	return r
}

func parseHandle(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	h, err := strconv.ParseUint(chi.URLParam(r, "handle"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid handle")
		return 0, false
	}
	return h, true
}

func parseWait(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms < 0 {
		return 0, errInvalidWait
	}
	if ms > maxPollWaitMS {
		ms = maxPollWaitMS
	}
	return time.Duration(ms) * time.Millisecond, nil
}

type httpError string

func (e httpError) Error() string { return string(e) }

const errInvalidWait = httpError("wait_ms must be a non-negative integer")
