package actions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/copilotz/pkg/registry"
)

// SpecType selects the dialect a tool is declared in.
type SpecType string

const (
	SpecOpenAPI3    SpecType = "openapi3"
	SpecJSONSchema  SpecType = "json-schema"
	SpecShortSchema SpecType = "short-schema"
)

var (
	// ErrMissingServer is returned for OpenAPI documents without servers[0].url.
	ErrMissingServer = errors.New("openapi document has no server url")
	// ErrUnknownSpecType is returned for tools declared in an unsupported dialect.
	ErrUnknownSpecType = errors.New("unknown spec type")
	// ErrInvalidSource is returned when a tool source cannot be resolved.
	ErrInvalidSource = errors.New("invalid action source")
)

// Source tells Build where the implementation of a non-HTTP action lives.
// It is one of Native, Remote or Inline.
type Source interface {
	isSource()
	String() string
}

// Native binds the action to a module of the module registry.
type Native struct {
	Name string
}

// Remote binds the action to a webhook receiving the arguments as a JSON POST.
type Remote struct {
	URL string
}

// Inline binds the action to a Go function.
type Inline struct {
	Module registry.Module
}

func (Native) isSource() {}
func (Remote) isSource() {}
func (Inline) isSource() {}

func (n Native) String() string { return "native:" + n.Name }
func (r Remote) String() string { return r.URL }
func (Inline) String() string   { return "inline" }

// ParseSource reads the string form used in configuration files:
// "native:<module>" or an http(s) URL.
func ParseSource(s string) (Source, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil, nil
	case strings.HasPrefix(s, "native:"):
		name := strings.TrimPrefix(s, "native:")
		if name == "" {
			return nil, fmt.Errorf("%w: %q names no module", ErrInvalidSource, s)
		}
		return Native{Name: name}, nil
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return Remote{URL: s}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSource, s)
	}
}

// Auth carries credentials for OpenAPI security schemes.
type Auth struct {
	// LoginOperationID names the operation that exchanges credentials for a
	// bearer token. Defaults to "login".
	LoginOperationID string `json:"loginOperationId" yaml:"loginOperationId" mapstructure:"login_operation_id"`
	// TokenPath is the dotted path of the token in the login response.
	// Defaults to "access_token".
	TokenPath string `json:"tokenPath" yaml:"tokenPath" mapstructure:"token_path"`
	// Credentials are passed as arguments to the login operation.
	Credentials map[string]any `json:"credentials" yaml:"credentials" mapstructure:"credentials"`
	// Token skips the login operation when set.
	Token    string `json:"token" yaml:"token" mapstructure:"token"`
	Username string `json:"username" yaml:"username" mapstructure:"username"`
	Password string `json:"password" yaml:"password" mapstructure:"password"`
	APIKey   string `json:"apiKey" yaml:"apiKey" mapstructure:"api_key"`
}

func (a Auth) loginOperation() string {
	if a.LoginOperationID == "" {
		return "login"
	}
	return a.LoginOperationID
}

func (a Auth) tokenPath() string {
	if a.TokenPath == "" {
		return "access_token"
	}
	return a.TokenPath
}

// Tool is a declared capability before it is resolved into actions.
type Tool struct {
	Name        string   `mapstructure:"name"`
	Description string   `mapstructure:"description"`
	SpecType    SpecType `mapstructure:"spec_type"`
	// Spec holds the raw OpenAPI document.
	Spec string `mapstructure:"spec"`
	// Schema is the argument definition for json-schema tools, or the compact
	// notation for short-schema tools.
	Schema map[string]any `mapstructure:"schema"`
	// OutputSchema optionally describes the result, in the same dialect as Schema.
	OutputSchema map[string]any    `mapstructure:"output_schema"`
	Source       Source            `mapstructure:"source"`
	Auth         Auth              `mapstructure:"auth"`
	Headers      map[string]string `mapstructure:"headers"`
	RateLimit    RateLimit         `mapstructure:"rate_limit"`
}

// RateLimit throttles the calls made to the actions of one tool. All actions
// of the tool share one token bucket.
type RateLimit struct {
	// PerMinute is the sustained call rate. Zero disables limiting.
	PerMinute int `mapstructure:"per_minute"`
	// Burst defaults to 1.
	Burst int `mapstructure:"burst"`
}
