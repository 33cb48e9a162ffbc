package engine

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"powerbridge/pkg/types"
)

func decodeChunk(t *testing.T, c string) types.ChatChunk {
	t.Helper()
	if !strings.HasPrefix(c, DataPrefix) {
		t.Fatalf("chunk missing data prefix: %q", c)
	}
	var out types.ChatChunk
	if err := json.Unmarshal([]byte(strings.TrimPrefix(c, DataPrefix)), &out); err != nil {
		t.Fatalf("decode %q: %v", c, err)
	}
	return out
}

func TestLocal_ProduceStreamsTokens(t *testing.T) {
	fa := &fakeAdapter{tokens: []string{"He", "llo"}, final: FinalResult{FinishReason: "stop"}}
	e := NewLocalWithAdapter(Config{}, fa)
	if err := e.Init(workFolder(t, "m.gguf")); err != nil {
		t.Fatalf("Init: %v", err)
	}
	sink := &recordSink{}
	if err := e.Produce(testCtx(t), chatRequest("m", true, "hello"), sink); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	got := sink.all()
	if len(got) != 4 {
		t.Fatalf("expected 4 chunks (2 tokens, finish, done), got %d: %v", len(got), got)
	}
	first := decodeChunk(t, got[0])
	if first.Object != "chat.completion.chunk" || first.Model != "m.gguf" {
		t.Fatalf("unexpected chunk header: %+v", first)
	}
	if first.Choices[0].Delta.Role != "assistant" || first.Choices[0].Delta.Content != "He" {
		t.Fatalf("unexpected first delta: %+v", first.Choices[0])
	}
	second := decodeChunk(t, got[1])
	if second.Choices[0].Delta.Role != "" || second.Choices[0].Delta.Content != "llo" || second.ID != first.ID {
		t.Fatalf("unexpected second chunk: %+v", second)
	}
	fin := decodeChunk(t, got[2])
	if fin.Choices[0].FinishReason != "stop" || fin.Usage == nil || fin.Usage.CompletionTokens != 2 {
		t.Fatalf("unexpected finish chunk: %+v", fin)
	}
	if got[3] != DoneChunk {
		t.Fatalf("last chunk=%q", got[3])
	}
	if len(fa.started) != 1 || !strings.HasSuffix(fa.started[0], "m.gguf") {
		t.Fatalf("adapter started with %v", fa.started)
	}
}

func TestLocal_ProduceNonStreaming(t *testing.T) {
	fa := &fakeAdapter{tokens: []string{"a", "b", "c"}}
	e := NewLocalWithAdapter(Config{}, fa)
	if err := e.Init(workFolder(t, "m.gguf")); err != nil {
		t.Fatalf("Init: %v", err)
	}
	sink := &recordSink{}
	if err := e.Produce(testCtx(t), chatRequest("", false, "x"), sink); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	got := sink.all()
	if len(got) != 3 {
		t.Fatalf("expected content, finish, done; got %v", got)
	}
	c := decodeChunk(t, got[0])
	if c.Object != "chat.completion" || c.Choices[0].Delta.Content != "abc" {
		t.Fatalf("unexpected chunk: %+v", c)
	}
}

func TestLocal_InitErrors(t *testing.T) {
	e := NewLocalWithAdapter(Config{}, &fakeAdapter{})
	if err := e.Init(workFolder(t, "readme.txt")); !IsModelNotFound(err) {
		t.Fatalf("expected model not found for empty folder, got %v", err)
	}
	if err := e.Init("/definitely/not/here"); err == nil {
		t.Fatalf("expected error for missing folder")
	}
	if err := e.Produce(testCtx(t), chatRequest("", true, "x"), &recordSink{}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestLocal_InitOnlyOnce(t *testing.T) {
	e := NewLocalWithAdapter(Config{}, &fakeAdapter{})
	first := workFolder(t, "a.gguf")
	if err := e.Init(first); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := e.Init(workFolder(t, "b.gguf")); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if ms := e.Models(); len(ms) != 1 || ms[0].ID != "a.gguf" {
		t.Fatalf("engine was reconfigured: %+v", ms)
	}
}

func TestLocal_ProduceErrors(t *testing.T) {
	e := NewLocalWithAdapter(Config{}, &fakeAdapter{genErr: errors.New("gpu on fire")})
	if err := e.Init(workFolder(t, "m.gguf")); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := e.Produce(testCtx(t), "not json", &recordSink{}); err == nil {
		t.Fatalf("expected decode error")
	}
	if err := e.Produce(testCtx(t), chatRequest("other", true, "x"), &recordSink{}); !IsModelNotFound(err) {
		t.Fatalf("expected model not found, got %v", err)
	}
	if err := e.Produce(testCtx(t), chatRequest("m", true, "x"), &recordSink{}); err == nil || err.Error() != "gpu on fire" {
		t.Fatalf("expected generation error, got %v", err)
	}
}

func TestLocal_StartErrorPropagates(t *testing.T) {
	e := NewLocalWithAdapter(Config{}, &fakeAdapter{startErr: ErrDependencyUnavailable("no llama")})
	if err := e.Init(workFolder(t, "m.gguf")); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := e.Produce(testCtx(t), chatRequest("m", true, "x"), &recordSink{}); !IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency unavailable, got %v", err)
	}
}

func TestLocal_SinkRefusalStopsGeneration(t *testing.T) {
	fa := &fakeAdapter{tokens: []string{"1", "2", "3", "4", "5"}}
	e := NewLocalWithAdapter(Config{}, fa)
	if err := e.Init(workFolder(t, "m.gguf")); err != nil {
		t.Fatalf("Init: %v", err)
	}
	sink := &recordSink{limit: 2}
	err := e.Produce(testCtx(t), chatRequest("m", true, "x"), sink)
	if !errors.Is(err, errAbandoned) {
		t.Fatalf("expected errAbandoned, got %v", err)
	}
	if n := len(sink.all()); n != 2 {
		t.Fatalf("sink got %d chunks", n)
	}
}

func TestLocal_AdmissionTooBusy(t *testing.T) {
	fa := &fakeAdapter{tokens: []string{"x"}, gate: make(chan struct{})}
	e := NewLocalWithAdapter(Config{MaxQueueDepth: 1, MaxWait: 30 * time.Millisecond}, fa)
	if err := e.Init(workFolder(t, "m.gguf")); err != nil {
		t.Fatalf("Init: %v", err)
	}
	ctx := testCtx(t)
	done := make(chan error, 1)
	go func() { done <- e.Produce(ctx, chatRequest("m", true, "x"), &recordSink{}) }()
	// wait until the first generation holds the model
	deadline := time.Now().Add(time.Second)
	for {
		e.mu.Lock()
		inst := e.instances[e.models[0].Path]
		e.mu.Unlock()
		if inst != nil && len(inst.genCh) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first generation never started")
		}
		time.Sleep(time.Millisecond)
	}
	if err := e.Produce(testCtx(t), chatRequest("m", true, "y"), &recordSink{}); !IsTooBusy(err) {
		t.Fatalf("expected too busy, got %v", err)
	}
	close(fa.gate)
	if err := <-done; err != nil {
		t.Fatalf("first Produce: %v", err)
	}
}

func TestRenderPromptAndParams(t *testing.T) {
	req, err := DecodeChatRequest(`{"messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"}],"stop":["END"],"temperature":0.5}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p := renderPrompt(req.Messages)
	want := "<|im_start|>system\nbe brief<|im_end|>\n<|im_start|>user\nhi<|im_end|>\n<|im_start|>assistant\n"
	if p != want {
		t.Fatalf("prompt=%q", p)
	}
	params := paramsFromRequest(req, 99)
	if params.MaxTokens != 99 || params.Temperature != 0.5 || len(params.Stop) != 2 || params.Stop[1] != "END" {
		t.Fatalf("params=%+v", params)
	}
	if _, err := DecodeChatRequest(`{"messages":[]}`); err == nil {
		t.Fatalf("expected error for empty messages")
	}
	if _, err := DecodeChatRequest(`{"messages":[{"role":"robot","content":"x"}]}`); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}
