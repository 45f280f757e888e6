package ports

import (
	"context"

	"github.com/aretw0/copilotz/pkg/domain"
)

// StreamFunc receives answer fragments as the model produces them.
type StreamFunc func(chunk string)

// ChatRequest is one model call.
type ChatRequest struct {
	// Instructions is sent as the system message.
	Instructions string
	Messages     []domain.Message
	// Stream, when set, asks the executor to stream the answer.
	Stream StreamFunc
}

// ChatResponse is the raw model answer.
type ChatResponse struct {
	// Prompt is the exact message list sent to the model.
	Prompt []domain.Message
	Answer string
	Tokens int
}

// ChatExecutor sends a prompt to a language model.
type ChatExecutor interface {
	Execute(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatExecutorFunc adapts a function to ChatExecutor.
type ChatExecutorFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

// Execute calls f.
func (f ChatExecutorFunc) Execute(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return f(ctx, req)
}

// Transcriber converts audio input into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Embedder maps text to a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed calls f.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}
