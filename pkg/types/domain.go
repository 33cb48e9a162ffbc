package types

// Model represents a model file discovered inside a work folder.
type Model struct {
	// Stable identifier for the model (file name).
	// example: qwen2-0.5b-q4_k_m.gguf
	ID string `json:"id" example:"qwen2-0.5b-q4_k_m.gguf"`
	// Human-friendly name.
	Name string `json:"name"`
	// Absolute path to the model file on disk.
	// example: /data/storage/el2/base/files/qwen2-0.5b-q4_k_m.gguf
	Path string `json:"path" example:"/data/storage/el2/base/files/qwen2-0.5b-q4_k_m.gguf"`
}
