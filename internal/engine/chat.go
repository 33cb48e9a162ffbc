package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"powerbridge/pkg/types"
)

// DecodeChatRequest parses and validates a request string.
func DecodeChatRequest(request string) (types.ChatRequest, error) {
	var req types.ChatRequest
	if strings.TrimSpace(request) == "" {
		return req, errors.New("empty request")
	}
	if err := json.Unmarshal([]byte(request), &req); err != nil {
		return req, fmt.Errorf("invalid request: %w", err)
	}
	if len(req.Messages) == 0 {
		return req, errors.New("invalid request: messages are required")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			return req, fmt.Errorf("invalid request: message %d has unknown role %q", i, m.Role)
		}
	}
	return req, nil
}

// renderPrompt flattens the conversation into a ChatML prompt that ends with
// an open assistant turn.
func renderPrompt(msgs []types.ChatMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString("<|im_start|>")
		b.WriteString(m.Role)
		b.WriteByte('\n')
		b.WriteString(m.Content)
		b.WriteString("<|im_end|>\n")
	}
	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}

// paramsFromRequest maps request sampling fields to adapter params.
func paramsFromRequest(req types.ChatRequest, defaultMaxTokens int) InferParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	stop := append([]string{"<|im_end|>"}, req.Stop...)
	return InferParams{
		Temperature:   float32(req.Temperature),
		TopP:          float32(req.TopP),
		TopK:          req.TopK,
		MaxTokens:     maxTokens,
		Stop:          stop,
		Seed:          int(req.Seed),
		RepeatPenalty: float32(req.RepeatPenalty),
	}
}
