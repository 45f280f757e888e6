package actions

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/aretw0/copilotz/pkg/domain"
)

var dataURL = regexp.MustCompile(`^data:[\w.+-]+/[\w.+-]+(;[\w-]+=[\w.-]+)*;base64,`)

// IsDataURL reports whether s is a base64 data URL.
func IsDataURL(s string) bool {
	return dataURL.MatchString(s)
}

// EncodeDataURL wraps raw bytes in a base64 data URL.
func EncodeDataURL(mime string, data []byte) string {
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// SplitMedia removes the reserved media map from a result.
func SplitMedia(result any) (any, map[string]any) {
	m, ok := result.(map[string]any)
	if !ok {
		return result, nil
	}
	media, ok := m[domain.MediaKey].(map[string]any)
	if !ok {
		return result, nil
	}
	rest := make(map[string]any, len(m)-1)
	for k, v := range m {
		if k != domain.MediaKey {
			rest[k] = v
		}
	}
	return rest, media
}

// ExtractMedia walks a decoded JSON value, removes every data URL leaf and
// returns them keyed by dotted path.
func ExtractMedia(v any) (any, map[string]any) {
	media := make(map[string]any)
	clean := extract(v, "", media)
	return clean, media
}

func extract(v any, path string, media map[string]any) any {
	switch t := v.(type) {
	case string:
		if IsDataURL(t) {
			key := path
			if key == "" {
				key = "data"
			}
			media[key] = t
			return nil
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			p := joinPath(path, k)
			if s, ok := e.(string); ok && IsDataURL(s) {
				media[p] = s
				continue
			}
			out[k] = extract(e, p, media)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for i, e := range t {
			p := joinPath(path, fmt.Sprint(i))
			if s, ok := e.(string); ok && IsDataURL(s) {
				media[p] = s
				continue
			}
			out = append(out, extract(e, p, media))
		}
		return out
	default:
		return v
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// attachMedia stores media under the reserved key. Non-object results are
// wrapped as {"data": result}.
func attachMedia(result any, media map[string]any) any {
	if len(media) == 0 {
		return result
	}
	m, ok := result.(map[string]any)
	if !ok {
		m = map[string]any{"data": result}
	}
	m[domain.MediaKey] = media
	return m
}

func isBinaryContent(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch {
	case ct == "":
		return false
	case strings.HasSuffix(ct, "json"), strings.HasPrefix(ct, "text/"),
		ct == "application/xml", ct == "application/x-www-form-urlencoded":
		return false
	}
	return true
}
