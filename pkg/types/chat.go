package types

// ChatMessage is one turn of a chat conversation.
type ChatMessage struct {
	// Role of the author: system, user or assistant.
	// example: user
	Role string `json:"role" example:"user"`
	// Message text.
	// example: Write a haiku about the ocean.
	Content string `json:"content" example:"Write a haiku about the ocean."`
}

// ChatRequest is the request string accepted by the engine, in the
// OpenAI chat completions shape.
type ChatRequest struct {
	// Model identifier inside the work folder. If empty, the first model found is used.
	// example: qwen2-0.5b-q4_k_m.gguf
	Model string `json:"model,omitempty" example:"qwen2-0.5b-q4_k_m.gguf"`
	// Conversation so far. At least one message is required.
	Messages []ChatMessage `json:"messages"`
	// If true, output is delivered as one chunk per token. Otherwise a single
	// completion chunk is produced at the end.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
	// Maximum number of new tokens to generate.
	// example: 1920
	MaxTokens int `json:"max_tokens,omitempty" example:"1920"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// Top-K sampling: limit candidates to top K tokens.
	// example: 40
	TopK int `json:"top_k,omitempty" example:"40"`
	// Optional stop sequences.
	Stop []string `json:"stop,omitempty"`
	// Random seed for reproducibility; 0 or omitted lets the engine choose.
	// example: 42
	Seed int64 `json:"seed,omitempty" example:"42"`
	// Repeat penalty.
	// example: 1.1
	RepeatPenalty float64 `json:"repeat_penalty,omitempty" example:"1.1"`
}

// ChatDelta is the incremental content carried by one streamed chunk.
type ChatDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// ChatChoice is one choice inside a streamed chunk.
type ChatChoice struct {
	Index        int       `json:"index"`
	Delta        ChatDelta `json:"delta"`
	FinishReason string    `json:"finish_reason"`
}

// Usage contains token accounting for a finished response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatChunk is the payload of one "data: " line produced by the engine.
type ChatChunk struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}
