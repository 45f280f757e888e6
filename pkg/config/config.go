// Package config loads copilot definitions from YAML or JSON files.
//
// A definition names the persona, the tools the copilot can call, the
// workflows it can run, the chat model and the stores backing task state and
// turn logs. Keys use snake_case:
//
//	name: support
//	persona:
//	  name: Ana
//	  job: answer customer questions
//	model:
//	  name: gpt-4o-mini
//	  api_key_env: OPENAI_API_KEY
//	tools:
//	  - name: weather
//	    spec_type: openapi3
//	    spec_file: weather.yaml
//	  - name: echo
//	    spec_type: json-schema
//	    source: native:echo
//	    schema:
//	      properties:
//	        message: {type: string}
//	knowledge:
//	  documents:
//	    - {collection: faq, file: faq.md}
//
// "${VAR}" references in the file are expanded from the environment before
// decoding.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/aretw0/copilotz/pkg/actions"
	"github.com/aretw0/copilotz/pkg/domain"
)

// ErrInvalidConfig is returned when a definition fails validation.
var ErrInvalidConfig = errors.New("invalid copilot config")

// Store drivers.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// DefaultAPIKeyEnv is read when the model names no API key variable.
const DefaultAPIKeyEnv = "OPENAI_API_KEY"

// Config is a copilot definition.
type Config struct {
	Name         string  `mapstructure:"name"`
	Persona      Persona `mapstructure:"persona"`
	Instructions string  `mapstructure:"instructions"`
	Model        Model   `mapstructure:"model"`

	MaxIterations    int `mapstructure:"max_iterations"`
	MaxTurns         int `mapstructure:"max_turns"`
	MaxParallelCalls int `mapstructure:"max_parallel_calls"`

	Tools     []Tool            `mapstructure:"tools"`
	Workflows []domain.Workflow `mapstructure:"workflows"`
	// CopilotActions limits the actions offered outside the active step.
	// Nil offers every action.
	CopilotActions []string `mapstructure:"copilot_actions"`

	Knowledge Knowledge `mapstructure:"knowledge"`

	Store   Store   `mapstructure:"store"`
	Log     Log     `mapstructure:"log"`
	Metrics Metrics `mapstructure:"metrics"`
}

// Knowledge lists the documents indexed for the rag modules.
type Knowledge struct {
	Documents []Document `mapstructure:"documents"`
	// Threshold and Limit fall back to the index defaults when zero.
	Threshold float64 `mapstructure:"threshold"`
	Limit     int     `mapstructure:"limit"`
}

// Document is one knowledge source. File is read into Text on load,
// relative to the config file.
type Document struct {
	Collection string `mapstructure:"collection"`
	File       string `mapstructure:"file"`
	Text       string `mapstructure:"text"`
}

// Persona describes who the copilot is.
type Persona struct {
	Name      string `mapstructure:"name"`
	Backstory string `mapstructure:"backstory"`
	Job       string `mapstructure:"job"`
}

// Model configures the chat provider.
type Model struct {
	Provider  string `mapstructure:"provider"`
	Name      string `mapstructure:"name"`
	BaseURL   string `mapstructure:"base_url"`
	APIKeyEnv string `mapstructure:"api_key_env"`
	// Temperature is left to the provider when nil.
	Temperature *float32 `mapstructure:"temperature"`
	// ResponseType "json" asks the provider for a JSON object answer.
	ResponseType       string `mapstructure:"response_type"`
	TranscriptionModel string `mapstructure:"transcription_model"`
	EmbeddingModel     string `mapstructure:"embedding_model"`
	Language           string `mapstructure:"language"`
}

// APIKey reads the API key from the configured environment variable.
func (m Model) APIKey() string {
	return os.Getenv(m.APIKeyEnv)
}

// JSONMode reports whether the provider should answer with a JSON object.
func (m Model) JSONMode() bool {
	return m.ResponseType == "json"
}

// Tool is a tool declaration as written in a config file.
type Tool struct {
	actions.Tool `mapstructure:",squash"`
	// SpecFile points to the OpenAPI document, relative to the config file.
	SpecFile string `mapstructure:"spec_file"`
}

// Store selects where tasks and turn logs live.
type Store struct {
	Driver string `mapstructure:"driver"`
	// Path is the base directory of the file driver or the database file of
	// the sqlite driver.
	Path  string `mapstructure:"path"`
	Redis Redis  `mapstructure:"redis"`
	// LockTTL bounds per-thread locks held in Redis.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// Encryption seals the persisted task context when KeyEnv is set.
	Encryption Encryption `mapstructure:"encryption"`
	// Redact lists key patterns whose task state values are masked before
	// they are persisted.
	Redact []string `mapstructure:"redact"`
}

// Encryption names the environment variables holding base64 AES-256 keys.
type Encryption struct {
	KeyEnv string `mapstructure:"key_env"`
	// FallbackKeyEnvs hold retired keys still accepted for decryption.
	FallbackKeyEnvs []string `mapstructure:"fallback_key_envs"`
}

// Keys decodes the active and fallback keys. The active key is nil when
// encryption is disabled.
func (e Encryption) Keys() (active []byte, fallback [][]byte, err error) {
	if e.KeyEnv == "" {
		return nil, nil, nil
	}
	if active, err = decodeKey(e.KeyEnv); err != nil {
		return nil, nil, err
	}
	for _, env := range e.FallbackKeyEnvs {
		k, err := decodeKey(env)
		if err != nil {
			return nil, nil, err
		}
		fallback = append(fallback, k)
	}
	return active, fallback, nil
}

func decodeKey(env string) ([]byte, error) {
	v := os.Getenv(env)
	if v == "" {
		return nil, fmt.Errorf("encryption key %s is not set", env)
	}
	k, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("encryption key %s: %w", env, err)
	}
	if len(k) != 32 {
		return nil, fmt.Errorf("encryption key %s must decode to 32 bytes, got %d", env, len(k))
	}
	return k, nil
}

// Redis configures the redis driver.
type Redis struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Log configures the CLI logger.
type Log struct {
	Level string `mapstructure:"level"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	// Address serves /metrics when set, e.g. ":9090".
	Address string `mapstructure:"address"`
}

// ActionTools returns the tool declarations ready for actions.Build.
func (c *Config) ActionTools() []actions.Tool {
	tools := make([]actions.Tool, len(c.Tools))
	for i, t := range c.Tools {
		tools[i] = t.Tool
	}
	return tools
}

func (c *Config) applyDefaults() {
	if c.Model.Provider == "" {
		c.Model.Provider = "openai"
	}
	if c.Model.APIKeyEnv == "" {
		c.Model.APIKeyEnv = DefaultAPIKeyEnv
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.Store.Path == "" {
		switch c.Store.Driver {
		case StoreFile:
			c.Store.Path = ".copilotz"
		case StoreSQLite:
			c.Store.Path = ".copilotz/copilotz.db"
		}
	}
	if c.Store.Driver == StoreRedis && c.Store.Redis.Address == "" {
		c.Store.Redis.Address = "localhost:6379"
	}
}

// Validate checks the definition. Workflow structure is checked when the
// workflows are handed to the state machine.
func (c *Config) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if c.Model.Provider != "openai" {
		errs = append(errs, fmt.Errorf("unsupported model provider %q", c.Model.Provider))
	}
	if c.MaxIterations < 0 || c.MaxTurns < 0 || c.MaxParallelCalls < 0 {
		errs = append(errs, errors.New("max_iterations, max_turns and max_parallel_calls must not be negative"))
	}

	if k := c.Knowledge; k.Threshold < 0 || k.Threshold > 1 || k.Limit < 0 {
		errs = append(errs, errors.New("knowledge threshold must be within [0, 1] and limit must not be negative"))
	}
	for i, d := range c.Knowledge.Documents {
		if strings.TrimSpace(d.Text) == "" {
			errs = append(errs, fmt.Errorf("knowledge document %d has no text", i))
		}
	}

	seen := make(map[string]bool)
	for i, t := range c.Tools {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("tools[%d]: name is required", i))
		} else if seen[t.Name] {
			errs = append(errs, fmt.Errorf("tools[%d]: duplicate tool %q", i, t.Name))
		}
		seen[t.Name] = true

		switch t.SpecType {
		case actions.SpecOpenAPI3:
			if t.Spec == "" {
				errs = append(errs, fmt.Errorf("tool %q: openapi3 tools need spec or spec_file", t.Name))
			}
		case actions.SpecJSONSchema, actions.SpecShortSchema:
			if t.Source == nil {
				errs = append(errs, fmt.Errorf("tool %q: source is required", t.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("tool %q: %w %q", t.Name, actions.ErrUnknownSpecType, t.SpecType))
		}
	}

	switch c.Store.Driver {
	case StoreMemory, StoreFile, StoreSQLite, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	for _, p := range c.Store.Redact {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("store.redact %q: %w", p, err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
