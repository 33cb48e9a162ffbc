package engine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// sseWriter helps write SSE-style lines.
type sseWriter struct{ w http.ResponseWriter }

func (sw sseWriter) writeLine(line string) {
	sw.w.Write([]byte(line))
	sw.w.Write([]byte("\n"))
	if f, ok := sw.w.(http.Flusher); ok {
		f.Flush()
	}
}

func completionFrag(text, finish string) string {
	b, _ := json.Marshal(map[string]any{
		"object":  "text_completion",
		"choices": []map[string]any{{"text": text, "finish_reason": finish}},
	})
	return "data: " + string(b)
}

func TestLlamaServerAdapter_Stream(t *testing.T) {
	var gotBody openAICompletionRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing auth header")
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		sw := sseWriter{w: w}
		sw.writeLine(completionFrag("Hello", ""))
		sw.writeLine("")
		sw.writeLine("data: not-json")
		sw.writeLine(completionFrag(" World", "length"))
		sw.writeLine("data: [DONE]")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	a := NewLlamaServerAdapter(ts.URL, "k", 5*time.Second, 2*time.Second)
	sess, err := a.Start("tiny")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Close()
	var b strings.Builder
	final, err := sess.Generate(testCtx(t), "Say hi", InferParams{MaxTokens: 16}, func(tok string) error {
		b.WriteString(tok)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if b.String() != "Hello World" || final.Content != "Hello World" || final.FinishReason != "length" {
		t.Fatalf("unexpected result: %q %+v", b.String(), final)
	}
	if gotBody.Model != "tiny" || !gotBody.Stream || gotBody.MaxTokens != 16 {
		t.Fatalf("unexpected payload: %+v", gotBody)
	}
}

func TestLlamaServerAdapter_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model missing", http.StatusNotFound)
	}))
	defer ts.Close()
	sess, _ := NewLlamaServerAdapter(ts.URL, "", time.Second, time.Second).Start("x")
	if _, err := sess.Generate(testCtx(t), "p", InferParams{}, func(string) error { return nil }); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected http error, got %v", err)
	}
}

func TestLocal_ServerBackendWithoutModelsOnDisk(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		sw := sseWriter{w: w}
		sw.writeLine(completionFrag("ok", "stop"))
		sw.writeLine("data: [DONE]")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	e, err := NewLocal(Config{Backend: BackendServer, ServerURL: ts.URL})
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if err := e.Init(t.TempDir()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	sink := &recordSink{}
	if err := e.Produce(testCtx(t), chatRequest("remote-model", true, "hi"), sink); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	got := sink.all()
	if len(got) != 3 || got[2] != DoneChunk {
		t.Fatalf("unexpected chunks: %v", got)
	}
	if c := decodeChunk(t, got[0]); c.Model != "remote-model" || c.Choices[0].Delta.Content != "ok" {
		t.Fatalf("unexpected chunk: %+v", c)
	}
}

func TestNewLocal_Validation(t *testing.T) {
	if _, err := NewLocal(Config{Backend: BackendServer}); err == nil {
		t.Fatalf("expected error without server url")
	}
	if _, err := NewLocal(Config{Backend: "tpu"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	if _, err := NewLocal(Config{}); err != nil {
		t.Fatalf("default backend: %v", err)
	}
}
