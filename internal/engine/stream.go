package engine

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"powerbridge/pkg/types"
)

const (
	// DataPrefix starts every chunk produced by the engine.
	DataPrefix = "data: "
	// DoneChunk is the last chunk of every successful response.
	DoneChunk = DataPrefix + "[DONE]"
)

// chunkWriter formats engine output as server-sent-event style chunks and
// forwards them to a Sink.
type chunkWriter struct {
	sink    Sink
	id      string
	model   string
	created int64
	object  string
	roleSet bool
}

func newChunkWriter(sink Sink, model string, stream bool) *chunkWriter {
	obj := "chat.completion.chunk"
	if !stream {
		obj = "chat.completion"
	}
	return &chunkWriter{
		sink:    sink,
		id:      "chatcmpl-" + uuid.NewString(),
		model:   model,
		created: time.Now().Unix(),
		object:  obj,
	}
}

// content emits one delta. It returns errAbandoned once the sink stops
// accepting data.
func (w *chunkWriter) content(text string) error {
	d := types.ChatDelta{Content: text}
	if !w.roleSet {
		d.Role = "assistant"
		w.roleSet = true
	}
	return w.emit(types.ChatChoice{Delta: d}, nil)
}

// finish emits the closing chunk carrying the finish reason and usage, then
// the terminal [DONE] marker.
func (w *chunkWriter) finish(reason string, u Usage) error {
	if reason == "" {
		reason = "stop"
	}
	usage := &types.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if err := w.emit(types.ChatChoice{FinishReason: reason}, usage); err != nil {
		return err
	}
	if !w.sink.Emit(DoneChunk) {
		return errAbandoned
	}
	return nil
}

func (w *chunkWriter) emit(choice types.ChatChoice, usage *types.Usage) error {
	b, err := json.Marshal(types.ChatChunk{
		ID:      w.id,
		Object:  w.object,
		Created: w.created,
		Model:   w.model,
		Choices: []types.ChatChoice{choice},
		Usage:   usage,
	})
	if err != nil {
		return err
	}
	if !w.sink.Emit(DataPrefix + string(b)) {
		return errAbandoned
	}
	return nil
}
