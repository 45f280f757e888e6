// Package openai implements ports.ChatExecutor, ports.Transcriber and
// ports.Embedder over OpenAI-compatible APIs.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aretw0/copilotz/internal/logging"
	"github.com/aretw0/copilotz/pkg/domain"
	"github.com/aretw0/copilotz/pkg/ports"
)

// DefaultModel is used when no model is configured.
const DefaultModel = openai.GPT4oMini

// Client talks to an OpenAI-compatible endpoint.
type Client struct {
	api                *openai.Client
	model              string
	transcriptionModel string
	embeddingModel     string
	language           string
	temperature        *float32
	jsonMode           bool
	logger             *slog.Logger
}

type settings struct {
	cfg    openai.ClientConfig
	client *Client
}

// Option configures the Client.
type Option func(*settings)

// WithBaseURL points the client at another OpenAI-compatible API.
func WithBaseURL(url string) Option {
	return func(s *settings) {
		if url != "" {
			s.cfg.BaseURL = url
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		s.cfg.HTTPClient = c
	}
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(s *settings) {
		if model != "" {
			s.client.model = model
		}
	}
}

// WithTranscriptionModel sets the speech-to-text model.
func WithTranscriptionModel(model string) Option {
	return func(s *settings) {
		if model != "" {
			s.client.transcriptionModel = model
		}
	}
}

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model string) Option {
	return func(s *settings) {
		if model != "" {
			s.client.embeddingModel = model
		}
	}
}

// WithLanguage sets the ISO-639-1 language hint for transcriptions.
func WithLanguage(lang string) Option {
	return func(s *settings) {
		s.client.language = lang
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(s *settings) {
		s.client.temperature = &t
	}
}

// WithJSONMode asks the model for a JSON object answer.
func WithJSONMode(enabled bool) Option {
	return func(s *settings) {
		s.client.jsonMode = enabled
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.client.logger = logger
	}
}

// New creates a client authenticated with apiKey.
func New(apiKey string, opts ...Option) *Client {
	s := &settings{
		cfg: openai.DefaultConfig(apiKey),
		client: &Client{
			model:              DefaultModel,
			transcriptionModel: openai.Whisper1,
			embeddingModel:     string(openai.SmallEmbedding3),
			logger:             logging.NewNop(),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.client.api = openai.NewClientWithConfig(s.cfg)
	return s.client
}

var (
	_ ports.ChatExecutor = (*Client)(nil)
	_ ports.Transcriber  = (*Client)(nil)
	_ ports.Embedder     = (*Client)(nil)
)

// Execute sends the instructions as the system message followed by the
// thread messages. When req.Stream is set the answer is streamed.
func (c *Client) Execute(ctx context.Context, req ports.ChatRequest) (*ports.ChatResponse, error) {
	prompt := make([]domain.Message, 0, len(req.Messages)+1)
	if req.Instructions != "" {
		prompt = append(prompt, domain.Message{Role: domain.RoleSystem, Content: req.Instructions})
	}
	prompt = append(prompt, req.Messages...)

	msgs := make([]openai.ChatCompletionMessage, len(prompt))
	for i, m := range prompt {
		msgs[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}

	creq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	}
	if c.temperature != nil {
		creq.Temperature = *c.temperature
	}
	if c.jsonMode {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	var (
		answer string
		tokens int
		err    error
	)
	if req.Stream != nil {
		answer, tokens, err = c.stream(ctx, creq, req.Stream)
	} else {
		answer, tokens, err = c.complete(ctx, creq)
	}
	if err != nil {
		c.logger.Error("chat completion failed", "model", c.model, "duration", time.Since(start), "error", err)
		return nil, err
	}
	c.logger.Debug("chat completion", "model", c.model, "tokens", tokens, "duration", time.Since(start))

	return &ports.ChatResponse{Prompt: prompt, Answer: answer, Tokens: tokens}, nil
}

func (c *Client) complete(ctx context.Context, creq openai.ChatCompletionRequest) (string, int, error) {
	resp, err := c.api.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", 0, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, errors.New("no choices in response")
	}
	return resp.Choices[0].Message.Content, resp.Usage.TotalTokens, nil
}

func (c *Client) stream(ctx context.Context, creq openai.ChatCompletionRequest, sink ports.StreamFunc) (string, int, error) {
	creq.Stream = true
	creq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	s, err := c.api.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return "", 0, fmt.Errorf("openai api error: %w", err)
	}
	defer s.Close()

	var (
		sb     strings.Builder
		tokens int
	)
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("openai stream: %w", err)
		}
		if chunk.Usage != nil {
			tokens = chunk.Usage.TotalTokens
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			sb.WriteString(choice.Delta.Content)
			sink(choice.Delta.Content)
		}
	}
	return sb.String(), tokens, nil
}

// Transcribe converts audio to text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcriptionModel,
		FilePath: "audio" + audioExtension(mimeType),
		Reader:   bytes.NewReader(audio),
		Language: c.language,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return resp.Text, nil
}

// Embed returns the embedding vector of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding in response")
	}
	return resp.Data[0].Embedding, nil
}

func audioExtension(mimeType string) string {
	mt, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(mt) {
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	default:
		return ".webm"
	}
}
