package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"powerbridge/internal/app"
	"powerbridge/internal/bridge"
	"powerbridge/internal/engine"
	"powerbridge/pkg/types"
)

// boundary is the host-facing surface the worker loop drives.
type boundary interface {
	Infer(workFolder, request string) uint64
	GetResponse(handle uint64) string
	DestroyResponse(handle uint64)
}

var (
	errRejected = errors.New("submit rejected")
	errTimeout  = errors.New("timed out waiting for response")
)

type chatOptions struct {
	model     string
	system    string
	maxTokens int
	stream    bool
	backoff   time.Duration
	timeout   time.Duration
}

func newChatCmd(root *rootOptions) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:     "chat [prompt]",
		Short:   "Submit one chat request and stream the answer",
		Example: "  bridgectl chat --work-folder ~/models/llm \"Write a haiku about the ocean\"",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			// the worker loop sleeps between empty polls itself
			cfg.EmptyPollBackoffMS = -1
			host, err := app.New(cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = host.Close(ctx)
			}()
			req, err := buildChatRequest(strings.Join(args, " "), opts)
			if err != nil {
				return err
			}
			backoff := opts.backoff
			if backoff <= 0 {
				backoff = cfg.PollBackoff()
			}
			_, err = runWorker(cmd.Context(), host, cfg.WorkFolder, req, backoff, opts.timeout, cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout())
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.model, "model", "", "Model id inside the work folder (default: first found)")
	f.StringVar(&opts.system, "system", "", "Optional system prompt")
	f.IntVar(&opts.maxTokens, "max-tokens", 0, "Maximum new tokens (0 = engine default)")
	f.BoolVar(&opts.stream, "stream", true, "Request token-by-token chunks")
	f.DurationVar(&opts.backoff, "backoff", 0, "Sleep between empty polls (default from config)")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Give up after this long")
	return cmd
}

func buildChatRequest(prompt string, opts *chatOptions) (string, error) {
	req := types.ChatRequest{Model: opts.model, Stream: opts.stream, MaxTokens: opts.maxTokens}
	if opts.system != "" {
		req.Messages = append(req.Messages, types.ChatMessage{Role: "system", Content: opts.system})
	}
	req.Messages = append(req.Messages, types.ChatMessage{Role: "user", Content: prompt})
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// runWorker submits request, polls until the end-of-stream marker, a failure
// or the timeout, and always releases the handle. Delta content is written to
// out as it arrives; the full text is returned.
func runWorker(ctx context.Context, b boundary, workFolder, request string, backoff, timeout time.Duration, out io.Writer) (string, error) {
	h := b.Infer(workFolder, request)
	if h == 0 {
		return "", errRejected
	}
	defer b.DestroyResponse(h)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var text strings.Builder
	for {
		chunk := b.GetResponse(h)
		switch {
		case bridge.IsError(chunk):
			return text.String(), errors.New(strings.TrimPrefix(chunk, bridge.ErrorPrefix))
		case chunk == engine.DoneChunk:
			return text.String(), nil
		case chunk != "":
			delta, err := chunkContent(chunk)
			if err != nil {
				return text.String(), err
			}
			text.WriteString(delta)
			if out != nil {
				_, _ = io.WriteString(out, delta)
			}
			continue
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return text.String(), errTimeout
			}
			return text.String(), ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// chunkContent extracts the delta text of one "data: " chunk.
func chunkContent(chunk string) (string, error) {
	payload, ok := strings.CutPrefix(chunk, engine.DataPrefix)
	if !ok {
		return "", fmt.Errorf("unexpected chunk %q", chunk)
	}
	var c types.ChatChunk
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return "", fmt.Errorf("decode chunk: %w", err)
	}
	var sb strings.Builder
	for _, ch := range c.Choices {
		sb.WriteString(ch.Delta.Content)
	}
	return sb.String(), nil
}
