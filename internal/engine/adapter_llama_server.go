package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// llamaServerAdapter implements InferenceAdapter by talking to a running
// llama.cpp server over its OpenAI-compatible streaming endpoint.
type llamaServerAdapter struct {
	baseURL    string
	apiKey     string
	reqTimeout time.Duration
	httpClient *http.Client
}

// NewLlamaServerAdapter constructs a server-backed adapter.
func NewLlamaServerAdapter(baseURL, apiKey string, reqTimeout, connectTimeout time.Duration) InferenceAdapter {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every request carries a context deadline instead.
	cli := &http.Client{Transport: tr, Timeout: 0}
	return &llamaServerAdapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		reqTimeout: reqTimeout,
		httpClient: cli,
	}
}

// llamaServerSession carries the model name sent to the server.
type llamaServerSession struct {
	adapter *llamaServerAdapter
	modelID string
}

func (a *llamaServerAdapter) Start(modelPath string) (InferSession, error) {
	// In server mode the model is selected by name; the on-disk path is not used.
	return &llamaServerSession{adapter: a, modelID: strings.TrimSpace(modelPath)}, nil
}

// openAICompletionRequest represents the payload for /v1/completions.
type openAICompletionRequest struct {
	Model         string   `json:"model,omitempty"`
	Prompt        string   `json:"prompt"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   float32  `json:"temperature,omitempty"`
	TopP          float32  `json:"top_p,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	Seed          int      `json:"seed,omitempty"`
	Stream        bool     `json:"stream"`
	RepeatPenalty float32  `json:"repeat_penalty,omitempty"`
}

type openAIStreamChoice struct {
	Text  string `json:"text"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type openAIStreamResponse struct {
	Object  string               `json:"object"`
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (s *llamaServerSession) Generate(ctx context.Context, prompt string, params InferParams, onToken func(string) error) (FinalResult, error) {
	if s.adapter == nil || s.adapter.httpClient == nil {
		return FinalResult{}, errors.New("llama server adapter not initialized")
	}
	if s.adapter.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.adapter.reqTimeout)
		defer cancel()
	}
	payload := openAICompletionRequest{
		Model:         s.modelID,
		Prompt:        prompt,
		MaxTokens:     params.MaxTokens,
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		TopK:          params.TopK,
		Stop:          params.Stop,
		Seed:          params.Seed,
		Stream:        true,
		RepeatPenalty: params.RepeatPenalty,
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.adapter.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return FinalResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.adapter.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.adapter.apiKey)
	}
	resp, err := s.adapter.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return FinalResult{}, ctx.Err()
		}
		return FinalResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return FinalResult{}, errors.New("llama server http error: " + resp.Status + ": " + string(b))
	}

	var (
		final FinalResult
		b     strings.Builder
	)
	r := bufio.NewReader(resp.Body)
	for {
		line, err := r.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" && strings.HasPrefix(strings.ToLower(line), "data:") {
			data := strings.TrimSpace(line[len("data:"):])
			if data == "[DONE]" {
				break
			}
			var msg openAIStreamResponse
			if jerr := json.Unmarshal([]byte(data), &msg); jerr != nil {
				zlog.Warn().Str("adapter", "llama_server").Str("line", line).Msg("unknown stream line")
			} else {
				if msg.Usage != nil {
					final.Usage = Usage{
						PromptTokens:     msg.Usage.PromptTokens,
						CompletionTokens: msg.Usage.CompletionTokens,
						TotalTokens:      msg.Usage.TotalTokens,
					}
				}
				if len(msg.Choices) > 0 {
					c := msg.Choices[0]
					frag := c.Text
					if frag == "" {
						frag = c.Delta.Content
					}
					if frag != "" {
						b.WriteString(frag)
						if cbErr := onToken(frag); cbErr != nil {
							return final, cbErr
						}
					}
					if c.FinishReason != "" {
						final.FinishReason = c.FinishReason
					}
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return final, ctx.Err()
			}
			zlog.Error().Str("adapter", "llama_server").Err(err).Msg("stream read error")
			return final, err
		}
	}
	final.Content = b.String()
	return final, nil
}

func (s *llamaServerSession) Close() error { return nil }
