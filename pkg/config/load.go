package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/copilotz/pkg/actions"
)

// Format names the syntax of a definition.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

type loader struct {
	lookupEnv func(string) (string, bool)
	baseDir   string
}

// Option configures Load and Parse.
type Option func(*loader)

// WithLookupEnv replaces os.LookupEnv for "${VAR}" expansion.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(l *loader) { l.lookupEnv = fn }
}

// WithBaseDir sets the directory spec_file paths are resolved against.
// Load defaults it to the directory of the config file.
func WithBaseDir(dir string) Option {
	return func(l *loader) { l.baseDir = dir }
}

func newLoader(opts []Option) *loader {
	l := &loader{
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads a definition from path. Files ending in .json are parsed as
// JSON, everything else as YAML.
func Load(path string, opts ...Option) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	format := FormatYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = FormatJSON
	}
	opts = append([]Option{WithBaseDir(filepath.Dir(path))}, opts...)
	cfg, err := Parse(data, format, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes, defaults and validates a definition.
func Parse(data []byte, format Format, opts ...Option) (*Config, error) {
	l := newLoader(opts)

	expanded := envRef.ReplaceAllStringFunc(string(data), func(ref string) string {
		v, _ := l.lookupEnv(ref[2 : len(ref)-1])
		return v
	})

	var raw map[string]any
	switch format {
	case FormatJSON:
		if err := json.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	case FormatYAML, "":
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	var cfg Config
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	if err := l.resolveSpecFiles(&cfg); err != nil {
		return nil, err
	}
	if err := l.resolveDocuments(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(raw map[string]any, out *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			sourceHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}`)

var sourceType = reflect.TypeOf((*actions.Source)(nil)).Elem()

// sourceHook turns "native:<module>" and webhook URLs into actions.Source.
func sourceHook(from, to reflect.Type, data any) (any, error) {
	if to != sourceType || from.Kind() != reflect.String {
		return data, nil
	}
	src, err := actions.ParseSource(data.(string))
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, nil
	}
	return src, nil
}

func (l *loader) resolveSpecFiles(cfg *Config) error {
	for i := range cfg.Tools {
		t := &cfg.Tools[i]
		if t.SpecFile == "" {
			continue
		}
		if t.Spec != "" {
			return fmt.Errorf("%w: tool %q sets both spec and spec_file", ErrInvalidConfig, t.Name)
		}
		data, err := os.ReadFile(l.path(t.SpecFile))
		if err != nil {
			return fmt.Errorf("tool %q: read spec: %w", t.Name, err)
		}
		t.Spec = string(data)
	}
	return nil
}

func (l *loader) resolveDocuments(cfg *Config) error {
	for i := range cfg.Knowledge.Documents {
		d := &cfg.Knowledge.Documents[i]
		if d.File == "" {
			continue
		}
		if d.Text != "" {
			return fmt.Errorf("%w: knowledge document %d sets both text and file", ErrInvalidConfig, i)
		}
		data, err := os.ReadFile(l.path(d.File))
		if err != nil {
			return fmt.Errorf("knowledge document %d: %w", i, err)
		}
		d.Text = string(data)
	}
	return nil
}

func (l *loader) path(p string) string {
	if !filepath.IsAbs(p) && l.baseDir != "" {
		return filepath.Join(l.baseDir, p)
	}
	return p
}
