package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"powerbridge/internal/app"
	"powerbridge/internal/config"
	"powerbridge/internal/engine"
	"powerbridge/internal/httpapi"
	"powerbridge/pkg/types"
)

// createTempModelsDir creates a temporary directory populated with empty .gguf files.
func createTempModelsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte(""), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir
}

// newLlamaServer fakes llama-server's streaming completions endpoint: every
// prompt is answered with words, one SSE event each.
func newLlamaServer(t *testing.T, words ...string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl, _ := w.(http.Flusher)
		for i, word := range words {
			finish := ""
			if i == len(words)-1 {
				finish = "stop"
			}
			b, _ := json.Marshal(map[string]any{
				"object":  "text_completion",
				"choices": []map[string]any{{"text": word, "finish_reason": finish}},
			})
			fmt.Fprintf(w, "data: %s\n\n", b)
			if fl != nil {
				fl.Flush()
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newBridgeServer runs the whole stack (engine, session, bridge, HTTP) against
// a llama-server at llamaURL.
func newBridgeServer(t *testing.T, llamaURL string, mutate func(*config.Config)) *httptest.Server {
	t.Helper()
	cfg := config.Config{Backend: engine.BackendServer, ServerURL: llamaURL}
	if mutate != nil {
		mutate(&cfg)
	}
	host, err := app.New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(host))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = host.Close(ctx)
	})
	return srv
}

func chatBody(t *testing.T, workFolder, model, prompt string) []byte {
	t.Helper()
	req, _ := json.Marshal(types.ChatRequest{
		Model:    model,
		Stream:   true,
		Messages: []types.ChatMessage{{Role: "user", Content: prompt}},
	})
	b, _ := json.Marshal(types.SubmitRequest{WorkFolder: workFolder, Request: string(req)})
	return b
}

func httpDo(t *testing.T, method, url string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	out, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, out
}

func submit(t *testing.T, srv *httptest.Server, body []byte) uint64 {
	t.Helper()
	resp, out := httpDo(t, http.MethodPost, srv.URL+"/responses", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status=%d body=%s", resp.StatusCode, out)
	}
	var sr types.SubmitResponse
	if err := json.Unmarshal(out, &sr); err != nil || sr.Handle == 0 {
		t.Fatalf("submit body=%s err=%v", out, err)
	}
	return sr.Handle
}

func poll(t *testing.T, srv *httptest.Server, h uint64) string {
	t.Helper()
	resp, out := httpDo(t, http.MethodGet, fmt.Sprintf("%s/responses/%d?wait_ms=500", srv.URL, h), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("poll status=%d body=%s", resp.StatusCode, out)
	}
	var pr types.PollResponse
	if err := json.Unmarshal(out, &pr); err != nil {
		t.Fatalf("poll body=%s err=%v", out, err)
	}
	return pr.Chunk
}

// collect polls h until the end-of-stream marker or an error sentinel and
// returns the delta text plus the terminal chunk.
func collect(t *testing.T, srv *httptest.Server, h uint64) (string, string) {
	t.Helper()
	var text strings.Builder
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		chunk := poll(t, srv, h)
		switch {
		case chunk == "":
			continue
		case chunk == engine.DoneChunk, strings.HasPrefix(chunk, "[ERROR]: "):
			return text.String(), chunk
		}
		var c types.ChatChunk
		if err := json.Unmarshal([]byte(strings.TrimPrefix(chunk, engine.DataPrefix)), &c); err != nil {
			t.Fatalf("decode %q: %v", chunk, err)
		}
		for _, ch := range c.Choices {
			text.WriteString(ch.Delta.Content)
		}
	}
	t.Fatalf("handle %d did not finish", h)
	return "", ""
}
