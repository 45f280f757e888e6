package copilotz

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/copilotz/pkg/adapters/file"
	"github.com/aretw0/copilotz/pkg/adapters/openai"
	"github.com/aretw0/copilotz/pkg/adapters/redis"
	"github.com/aretw0/copilotz/pkg/adapters/sqlite"
	"github.com/aretw0/copilotz/pkg/config"
	"github.com/aretw0/copilotz/pkg/persistence/middleware"
	"github.com/aretw0/copilotz/pkg/ports"
	"github.com/aretw0/copilotz/pkg/rag"
)

// ErrMissingAPIKey is returned when the configured API key variable is empty.
var ErrMissingAPIKey = errors.New("copilotz: model api key is not set")

// FromConfig builds a copilot from a definition. A nil chat uses the OpenAI
// adapter described by cfg.Model, which also transcribes audio messages.
// Options are applied after the ones derived from cfg.
func FromConfig(ctx context.Context, cfg *config.Config, chat ports.ChatExecutor, opts ...Option) (*Copilot, error) {
	base := []Option{
		WithName(cfg.Name),
		WithPersona(Persona{
			Name:      cfg.Persona.Name,
			Backstory: cfg.Persona.Backstory,
			Job:       cfg.Persona.Job,
		}),
		WithInstructions(cfg.Instructions),
		WithTools(cfg.ActionTools()...),
		WithWorkflows(cfg.Workflows...),
		WithMaxIterations(cfg.MaxIterations),
		WithMaxTurns(cfg.MaxTurns),
		WithMaxParallelCalls(cfg.MaxParallelCalls),
	}
	if cfg.CopilotActions != nil {
		base = append(base, WithCopilotActions(cfg.CopilotActions...))
	}

	if chat == nil {
		client, err := NewChat(cfg.Model)
		if err != nil {
			return nil, err
		}
		chat = client
		base = append(base, WithTranscriber(client))
	}

	if len(cfg.Knowledge.Documents) > 0 {
		idx, err := knowledgeIndex(ctx, cfg, chat)
		if err != nil {
			return nil, err
		}
		base = append(base, WithKnowledge(idx))
	}

	storeOpts, err := storeOptions(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	base = append(base, storeOpts...)

	return New(ctx, chat, append(base, opts...)...)
}

// NewChat creates the OpenAI adapter described by m.
func NewChat(m config.Model) (*openai.Client, error) {
	key := m.APIKey()
	if key == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingAPIKey, m.APIKeyEnv)
	}
	opts := []openai.Option{
		openai.WithBaseURL(m.BaseURL),
		openai.WithModel(m.Name),
		openai.WithTranscriptionModel(m.TranscriptionModel),
		openai.WithEmbeddingModel(m.EmbeddingModel),
		openai.WithLanguage(m.Language),
		openai.WithJSONMode(m.JSONMode()),
	}
	if m.Temperature != nil {
		opts = append(opts, openai.WithTemperature(*m.Temperature))
	}
	return openai.New(key, opts...), nil
}

// knowledgeIndex embeds the configured documents. chat embeds them when it
// can, otherwise the OpenAI adapter of cfg.Model does.
func knowledgeIndex(ctx context.Context, cfg *config.Config, chat ports.ChatExecutor) (*rag.Index, error) {
	embedder, ok := chat.(ports.Embedder)
	if !ok {
		client, err := NewChat(cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("knowledge: %w", err)
		}
		embedder = client
	}

	var opts []rag.Option
	if cfg.Knowledge.Threshold > 0 {
		opts = append(opts, rag.WithThreshold(cfg.Knowledge.Threshold))
	}
	if cfg.Knowledge.Limit > 0 {
		opts = append(opts, rag.WithLimit(cfg.Knowledge.Limit))
	}
	idx := rag.NewIndex(embedder, opts...)
	for i, d := range cfg.Knowledge.Documents {
		if _, err := idx.AddDocument(ctx, d.Collection, d.Text); err != nil {
			return nil, fmt.Errorf("knowledge document %d: %w", i, err)
		}
	}
	return idx, nil
}

func storeOptions(ctx context.Context, s config.Store) ([]Option, error) {
	mws, err := taskMiddleware(s)
	if err != nil {
		return nil, err
	}
	opts, err := driverOptions(ctx, s)
	if err != nil {
		return nil, err
	}
	if len(mws) > 0 {
		opts = append(opts, WithTaskMiddleware(mws...))
	}
	return opts, nil
}

// taskMiddleware builds the task store decorators. Redaction runs before
// encryption.
func taskMiddleware(s config.Store) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if len(s.Redact) > 0 {
		pii, err := middleware.NewPIIMiddleware(s.Redact)
		if err != nil {
			return nil, err
		}
		mws = append(mws, pii)
	}

	active, fallback, err := s.Encryption.Keys()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	if active != nil {
		enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallback})
		if err != nil {
			return nil, err
		}
		mws = append(mws, enc)
	}
	return mws, nil
}

func driverOptions(ctx context.Context, s config.Store) ([]Option, error) {
	switch s.Driver {
	case config.StoreMemory, "":
		return nil, nil
	case config.StoreFile:
		store := file.New(s.Path)
		return []Option{WithTaskStore(store.Tasks()), WithLogStore(store.Logs())}, nil
	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, s.Path)
		if err != nil {
			return nil, err
		}
		return []Option{
			WithTaskStore(store.Tasks()),
			WithLogStore(store.Logs()),
			WithCloser(store.Close),
		}, nil
	case config.StoreRedis:
		var opts []redis.Option
		if s.Redis.Prefix != "" {
			opts = append(opts, redis.WithPrefix(s.Redis.Prefix))
		}
		if s.Redis.TTL > 0 {
			opts = append(opts, redis.WithTTL(s.Redis.TTL))
		}
		store := redis.New(s.Redis.Address, s.Redis.Password, s.Redis.DB, opts...)
		return []Option{
			WithTaskStore(store.Tasks()),
			WithLogStore(store.Logs()),
			WithLocker(store.Locker(), s.LockTTL),
			WithCloser(store.Close),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalidConfig, s.Driver)
	}
}
