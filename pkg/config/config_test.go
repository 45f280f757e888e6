package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/copilotz/pkg/actions"
	"github.com/aretw0/copilotz/pkg/config"
)

const weatherSpec = `openapi: 3.0.0
info: {title: weather, version: "1"}
servers:
  - url: https://weather.example.com
paths: {}
`

const supportYAML = `
name: support
persona:
  name: Ana
  backstory: veteran agent
  job: answer customer questions
instructions: Be brief.
model:
  name: gpt-4o-mini
  api_key_env: SUPPORT_KEY
  temperature: 0.2
  response_type: json
max_iterations: 4
max_parallel_calls: 3
tools:
  - name: weather
    spec_type: openapi3
    spec_file: weather.yaml
    auth:
      token: ${WEATHER_TOKEN}
  - name: echo
    description: repeats the message
    spec_type: json-schema
    source: native:echo
    schema:
      $ref: "#/definitions/x"
      properties:
        message: {type: string}
  - name: hook
    spec_type: short-schema
    source: https://hooks.example.com/notify
    schema:
      text: "string!"
workflows:
  - name: onboarding
    steps:
      - name: collect
        instructions: ask for the name
        next: confirm
      - name: confirm
copilot_actions: [echo]
store:
  driver: redis
  lock_ttl: 30s
  redis:
    prefix: "support:"
    ttl: 24h
metrics:
  address: ":9090"
`

func env(vars map[string]string) config.Option {
	return config.WithLookupEnv(func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	})
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weather.yaml"), []byte(weatherSpec), 0o644))
	path := filepath.Join(dir, "copilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(supportYAML), 0o644))

	cfg, err := config.Load(path, env(map[string]string{"WEATHER_TOKEN": "secret"}))
	require.NoError(t, err)

	assert.Equal(t, "support", cfg.Name)
	assert.Equal(t, config.Persona{Name: "Ana", Backstory: "veteran agent", Job: "answer customer questions"}, cfg.Persona)
	assert.Equal(t, "openai", cfg.Model.Provider)
	require.NotNil(t, cfg.Model.Temperature)
	assert.InDelta(t, 0.2, *cfg.Model.Temperature, 1e-6)
	assert.True(t, cfg.Model.JSONMode())
	assert.Equal(t, 4, cfg.MaxIterations)
	assert.Equal(t, 3, cfg.MaxParallelCalls)

	tools := cfg.ActionTools()
	require.Len(t, tools, 3)
	assert.Equal(t, weatherSpec, tools[0].Spec)
	assert.Equal(t, "secret", tools[0].Auth.Token)
	assert.Equal(t, actions.Native{Name: "echo"}, tools[1].Source)
	assert.Equal(t, "#/definitions/x", tools[1].Schema["$ref"])
	assert.Equal(t, actions.Remote{URL: "https://hooks.example.com/notify"}, tools[2].Source)
	assert.Nil(t, tools[0].Source)

	require.Len(t, cfg.Workflows, 1)
	assert.Equal(t, "confirm", cfg.Workflows[0].Steps[0].Next)
	assert.Equal(t, []string{"echo"}, cfg.CopilotActions)

	assert.Equal(t, config.StoreRedis, cfg.Store.Driver)
	assert.Equal(t, 30*time.Second, cfg.Store.LockTTL)
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Address)
	assert.Equal(t, 24*time.Hour, cfg.Store.Redis.TTL)
	assert.Equal(t, ":9090", cfg.Metrics.Address)
}

func TestParse_JSONDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte(`{"name": "mini", "max_turns": 2}`), config.FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxTurns)
	assert.Equal(t, config.DefaultAPIKeyEnv, cfg.Model.APIKeyEnv)
	assert.Equal(t, config.StoreMemory, cfg.Store.Driver)
	assert.Nil(t, cfg.CopilotActions)
}

func TestParse_StorePathDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte("name: x\nstore: {driver: sqlite}"), config.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, ".copilotz/copilotz.db", cfg.Store.Path)

	cfg, err = config.Parse([]byte("name: x\nstore: {driver: file}"), config.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, ".copilotz", cfg.Store.Path)
}

func TestModel_APIKey(t *testing.T) {
	t.Setenv("COPILOTZ_TEST_KEY", "sk-test")
	m := config.Model{APIKeyEnv: "COPILOTZ_TEST_KEY"}
	assert.Equal(t, "sk-test", m.APIKey())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"missing name", `instructions: hi`, "name is required"},
		{"unknown key", "name: x\nmodle: {}", "invalid keys: modle"},
		{"bad source", "name: x\ntools:\n  - {name: a, spec_type: json-schema, source: ftp://x}", "invalid action source"},
		{"missing source", "name: x\ntools:\n  - {name: a, spec_type: json-schema}", "source is required"},
		{"duplicate tool", "name: x\ntools:\n  - {name: a, spec_type: short-schema, source: native:echo}\n  - {name: a, spec_type: short-schema, source: native:echo}", "duplicate tool"},
		{"unknown spec type", "name: x\ntools:\n  - {name: a, spec_type: grpc}", "unknown spec type"},
		{"openapi without spec", "name: x\ntools:\n  - {name: a, spec_type: openapi3}", "need spec or spec_file"},
		{"unknown driver", "name: x\nstore: {driver: mongo}", "unknown store driver"},
		{"provider", "name: x\nmodel: {provider: acme}", "unsupported model provider"},
		{"bad duration", "name: x\nstore: {lock_ttl: soon}", "lock_ttl"},
		{"bad redact pattern", "name: x\nstore: {redact: ['(']}", "store.redact"},
		{"empty document", "name: x\nknowledge: {documents: [{collection: faq}]}", "knowledge document 0 has no text"},
		{"bad threshold", "name: x\nknowledge: {threshold: 1.5}", "knowledge threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.input), config.FormatYAML)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_InvalidConfigSentinel(t *testing.T) {
	_, err := config.Parse([]byte(`instructions: hi`), config.FormatYAML)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLoad_KnowledgeDocuments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "faq.md"), []byte("Refunds take five days."), 0o644))
	path := filepath.Join(dir, "copilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: x
model: {embedding_model: text-embedding-3-large}
knowledge:
  threshold: 0.8
  limit: 5
  documents:
    - {collection: faq, file: faq.md}
    - {collection: policies, text: "Returns need a receipt."}
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-large", cfg.Model.EmbeddingModel)
	assert.InDelta(t, 0.8, cfg.Knowledge.Threshold, 1e-9)
	assert.Equal(t, 5, cfg.Knowledge.Limit)
	require.Len(t, cfg.Knowledge.Documents, 2)
	assert.Equal(t, "Refunds take five days.", cfg.Knowledge.Documents[0].Text)
	assert.Equal(t, "policies", cfg.Knowledge.Documents[1].Collection)

	require.NoError(t, os.WriteFile(path, []byte("name: x\nknowledge: {documents: [{file: faq.md, text: dup}]}\n"), 0o644))
	_, err = config.Load(path)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLoad_MissingSpecFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "copilot.yml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\ntools:\n  - {name: w, spec_type: openapi3, spec_file: nope.yaml}\n"), 0o644))

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `tool "w": read spec`)
}

func TestEncryption_Keys(t *testing.T) {
	t.Setenv("ACTIVE_KEY", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	t.Setenv("OLD_KEY", "AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE=")
	t.Setenv("SHORT_KEY", "c2hvcnQ=")

	active, fallback, err := config.Encryption{}.Keys()
	require.NoError(t, err)
	assert.Nil(t, active)
	assert.Nil(t, fallback)

	active, fallback, err = config.Encryption{KeyEnv: "ACTIVE_KEY", FallbackKeyEnvs: []string{"OLD_KEY"}}.Keys()
	require.NoError(t, err)
	assert.Len(t, active, 32)
	require.Len(t, fallback, 1)
	assert.Equal(t, byte(1), fallback[0][0])

	_, _, err = config.Encryption{KeyEnv: "SHORT_KEY"}.Keys()
	assert.ErrorContains(t, err, "32 bytes")

	_, _, err = config.Encryption{KeyEnv: "COPILOTZ_UNSET_KEY"}.Keys()
	assert.ErrorContains(t, err, "is not set")
}
