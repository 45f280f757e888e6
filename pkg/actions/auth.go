package actions

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

// securityScheme is the subset of an OpenAPI security scheme the invoker uses.
type securityScheme struct {
	Type   string `yaml:"type"`
	Scheme string `yaml:"scheme"`
	In     string `yaml:"in"`
	Name   string `yaml:"name"`
}

func (s securityScheme) bearer() bool {
	return s.Type == "http" && strings.EqualFold(s.Scheme, "bearer")
}

func (s securityScheme) basic() bool {
	return s.Type == "http" && strings.EqualFold(s.Scheme, "basic")
}

// parseSecuritySchemes reads components.securitySchemes from a raw document.
// JSON documents parse as YAML.
func parseSecuritySchemes(raw string) (map[string]securityScheme, error) {
	var doc struct {
		Components struct {
			SecuritySchemes map[string]securityScheme `yaml:"securitySchemes"`
		} `yaml:"components"`
	}
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parse security schemes: %w", err)
	}
	return doc.Components.SecuritySchemes, nil
}

// authenticator applies the security schemes of one tool to outgoing
// requests. Bearer tokens come from the login operation; concurrent callers
// share one login and only a successful token is kept.
type authenticator struct {
	auth    Auth
	schemes []securityScheme
	login   InvokeFunc

	group singleflight.Group
	mu    sync.Mutex
	token string
}

func newAuthenticator(auth Auth, schemes map[string]securityScheme) *authenticator {
	a := &authenticator{auth: auth}
	for _, name := range sortedKeys(schemes) {
		a.schemes = append(a.schemes, schemes[name])
	}
	return a
}

// apply decorates req. operationID is the operation being invoked; the login
// operation is never given a bearer token.
func (a *authenticator) apply(ctx context.Context, req *http.Request, operationID string) error {
	for _, s := range a.schemes {
		switch {
		case s.bearer():
			if operationID == a.auth.loginOperation() {
				continue
			}
			token, err := a.bearerToken(ctx)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+token)
		case s.basic():
			if a.auth.Username != "" || a.auth.Password != "" {
				req.SetBasicAuth(a.auth.Username, a.auth.Password)
			}
		case s.Type == "apiKey":
			if a.auth.APIKey == "" || s.Name == "" {
				continue
			}
			switch s.In {
			case "query":
				q := req.URL.Query()
				q.Set(s.Name, a.auth.APIKey)
				req.URL.RawQuery = q.Encode()
			case "header", "":
				req.Header.Set(s.Name, a.auth.APIKey)
			}
		}
	}
	return nil
}

func (a *authenticator) bearerToken(ctx context.Context) (string, error) {
	if a.auth.Token != "" {
		return a.auth.Token, nil
	}
	a.mu.Lock()
	token := a.token
	a.mu.Unlock()
	if token != "" {
		return token, nil
	}

	// The login outlives a cancelled caller so waiting callers still get it.
	ch := a.group.DoChan("login", func() (any, error) {
		return a.fetchToken(context.WithoutCancel(ctx))
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (a *authenticator) fetchToken(ctx context.Context) (string, error) {
	if a.login == nil {
		return "", fmt.Errorf("bearer auth: login operation %q not found", a.auth.loginOperation())
	}
	res, err := a.login(ctx, a.auth.Credentials)
	if err != nil {
		return "", fmt.Errorf("bearer auth: %w", err)
	}
	token, ok := lookupPath(res, a.auth.tokenPath()).(string)
	if !ok || token == "" {
		return "", fmt.Errorf("bearer auth: no token at %q", a.auth.tokenPath())
	}
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
	return token, nil
}

// expire drops the cached token sent in authorization so the next call logs
// in again. It reports whether a retry can use a fresh token.
func (a *authenticator) expire(authorization string) bool {
	if a == nil || a.auth.Token != "" || a.login == nil {
		return false
	}
	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || token == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token == token {
		a.token = ""
	}
	return true
}

// lookupPath resolves a dotted path inside decoded JSON.
func lookupPath(v any, path string) any {
	for _, key := range strings.Split(path, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[key]
	}
	return v
}
