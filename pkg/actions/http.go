package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/aretw0/copilotz/pkg/registry"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 32 << 20

// HTTPError is returned for responses with a 4xx or 5xx status.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

func (b *builder) newRequest(ctx context.Context, method, target string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// send performs req and decodes the response. Binary bodies become a data URL
// under the media key, keyed by the request path; data URLs inside JSON
// bodies are extracted by dotted path.
func (b *builder) send(req *http.Request) (any, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: msg}
	}

	contentType := resp.Header.Get("Content-Type")
	if isBinaryContent(contentType) {
		mediaType, _, _ := mime.ParseMediaType(contentType)
		return attachMedia(map[string]any{}, map[string]any{
			req.URL.Path: EncodeDataURL(mediaType, data),
		}), nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return string(data), nil
	}
	clean, media := ExtractMedia(decoded)
	return attachMedia(clean, media), nil
}

// remoteModule posts the arguments to a webhook and returns its response.
func (b *builder) remoteModule(target string) registry.Module {
	return func(ctx context.Context, args map[string]any) (any, error) {
		if args == nil {
			args = map[string]any{}
		}
		req, err := b.newRequest(ctx, http.MethodPost, target, args)
		if err != nil {
			return nil, err
		}
		for k, v := range b.headers {
			req.Header.Set(k, v)
		}
		res, err := b.send(req)
		if err != nil {
			return nil, fmt.Errorf("remote %s: %w", target, err)
		}
		return res, nil
	}
}
