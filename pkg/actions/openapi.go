package actions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/aretw0/copilotz/pkg/schema"
)

// operation is one path x method of an OpenAPI document.
type operation struct {
	id     string
	method string
	path   string

	pathParams   map[string]bool
	queryParams  map[string]bool
	headerParams map[string]bool
	// rawBody is set when the request body is not an object; it is then
	// passed through the "body" argument.
	rawBody bool

	input  schema.ShortSchema
	output schema.ShortSchema
	binary bool
}

func (b *builder) buildOpenAPI(ctx context.Context, tool Tool) ([]*Action, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData([]byte(tool.Spec))
	if err != nil {
		return nil, fmt.Errorf("tool %s: load openapi: %w", tool.Name, err)
	}
	if len(doc.Servers) == 0 || doc.Servers[0] == nil || doc.Servers[0].URL == "" {
		return nil, fmt.Errorf("tool %s: %w", tool.Name, ErrMissingServer)
	}
	baseURL := strings.TrimRight(doc.Servers[0].URL, "/")

	schemes, err := parseSecuritySchemes(tool.Spec)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", tool.Name, err)
	}
	auth := newAuthenticator(tool.Auth, schemes)

	var out []*Action
	if doc.Paths == nil {
		return out, nil
	}
	paths := doc.Paths.Map()
	for _, path := range sortedKeys(paths) {
		item := paths[path]
		if item == nil {
			continue
		}
		ops := item.Operations()
		for _, method := range sortedKeys(ops) {
			op, inputDef, outputDef := compileOperation(path, method, item, ops[method])

			name := op.id
			if tool.Name != "" {
				name = tool.Name + "." + op.id
			}
			invoke := b.invokeOperation(tool, baseURL, op, auth)
			if op.id == tool.Auth.loginOperation() {
				auth.login = invoke
			}
			out = append(out, &Action{
				Name:         name,
				Description:  descriptionOf(inputDef),
				Spec:         schema.FunctionSpec(name, inputDef, outputDef),
				Input:        op.input,
				Output:       op.output,
				MediaCapable: op.binary,
				Invoke:       invoke,
			})
		}
	}
	return out, nil
}

func compileOperation(path, method string, item *openapi3.PathItem, op *openapi3.Operation) (*operation, schema.Definition, schema.Definition) {
	o := &operation{
		id:           op.OperationID,
		method:       strings.ToUpper(method),
		path:         path,
		pathParams:   make(map[string]bool),
		queryParams:  make(map[string]bool),
		headerParams: make(map[string]bool),
	}
	if o.id == "" {
		o.id = fallbackOperationID(method, path)
	}

	props := make(map[string]any)
	var required []any

	params := append(openapi3.Parameters{}, item.Parameters...)
	params = append(params, op.Parameters...)
	for _, ref := range params {
		if ref == nil || ref.Value == nil {
			continue
		}
		p := ref.Value
		def := schema.Definition{"type": "string"}
		if p.Schema != nil && p.Schema.Value != nil {
			def = schemaToDefinition(p.Schema.Value, 0)
		}
		if p.Description != "" {
			def["description"] = p.Description
		}
		switch p.In {
		case openapi3.ParameterInPath:
			o.pathParams[p.Name] = true
		case openapi3.ParameterInQuery:
			o.queryParams[p.Name] = true
		case openapi3.ParameterInHeader:
			o.headerParams[p.Name] = true
		default:
			continue
		}
		props[p.Name] = def
		if p.Required || p.In == openapi3.ParameterInPath {
			required = append(required, p.Name)
		}
	}

	input := schema.Definition{"type": "object", "properties": props, "required": required}
	if op.RequestBody != nil && op.RequestBody.Value != nil {
		if mt := jsonMedia(op.RequestBody.Value.Content); mt != nil && mt.Schema != nil && mt.Schema.Value != nil {
			body := schemaToDefinition(mt.Schema.Value, 0)
			if bodyProps, ok := body["properties"].(map[string]any); ok && len(bodyProps) > 0 {
				input = schema.Merge(input, schema.Definition{
					"properties": bodyProps,
					"required":   body["required"],
				})
			} else {
				o.rawBody = true
				props["body"] = body
				if op.RequestBody.Value.Required {
					input["required"] = append(required, "body")
				}
			}
		}
	}
	if desc := firstNonEmpty(op.Summary, op.Description); desc != "" {
		input["description"] = desc
	}

	var output schema.Definition
	if op.Responses != nil {
		if resp := op.Responses.Status(http.StatusOK); resp != nil && resp.Value != nil {
			if mt := jsonMedia(resp.Value.Content); mt != nil && mt.Schema != nil && mt.Schema.Value != nil {
				output = schemaToDefinition(mt.Schema.Value, 0)
			} else if len(resp.Value.Content) > 0 {
				o.binary = true
			}
			if output == nil {
				output = schema.Definition{}
			}
			if resp.Value.Description != nil && *resp.Value.Description != "" {
				output["description"] = *resp.Value.Description
			}
		}
	}

	o.input = schema.ToShortSchema(input)
	o.output = schema.ToShortSchema(output)
	return o, input, output
}

// schemaToDefinition converts a resolved OpenAPI schema into a plain
// definition. References are already resolved by the loader.
func schemaToDefinition(s *openapi3.Schema, depth int) schema.Definition {
	def := schema.Definition{}
	if s == nil || depth > 16 {
		return def
	}
	if s.Type != nil && len(*s.Type) > 0 {
		def["type"] = (*s.Type)[0]
	}
	if s.Format != "" {
		def["format"] = s.Format
	}
	if s.Description != "" {
		def["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, ref := range s.Properties {
			if ref != nil && ref.Value != nil {
				props[name] = schemaToDefinition(ref.Value, depth+1)
			}
		}
		def["properties"] = props
	}
	if len(s.Required) > 0 {
		req := make([]any, len(s.Required))
		for i, r := range s.Required {
			req[i] = r
		}
		def["required"] = req
	}
	if s.Items != nil && s.Items.Value != nil {
		def["items"] = schemaToDefinition(s.Items.Value, depth+1)
	}
	for _, ref := range s.AllOf {
		if ref != nil && ref.Value != nil {
			def = schema.Merge(def, schemaToDefinition(ref.Value, depth+1))
		}
	}
	return def
}

func jsonMedia(content openapi3.Content) *openapi3.MediaType {
	if len(content) == 0 {
		return nil
	}
	if mt := content.Get("application/json"); mt != nil {
		return mt
	}
	for _, ct := range sortedKeys(content) {
		if strings.HasSuffix(strings.Split(ct, ";")[0], "json") {
			return content[ct]
		}
	}
	return nil
}

func (b *builder) invokeOperation(tool Tool, baseURL string, op *operation, auth *authenticator) InvokeFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		if _, err := schema.Validate(op.input, args, schema.AtPath("$args")); err != nil {
			return nil, err
		}

		path := op.path
		query := url.Values{}
		header := http.Header{}
		var body any
		fields := make(map[string]any)
		for _, k := range sortedKeys(args) {
			v := args[k]
			switch {
			case op.pathParams[k]:
				path = substitutePathParam(path, k, url.PathEscape(fmt.Sprint(v)))
			case op.queryParams[k]:
				addQuery(query, k, v)
			case op.headerParams[k]:
				header.Set(k, fmt.Sprint(v))
			case op.rawBody && k == "body":
				body = v
			default:
				fields[k] = v
			}
		}
		if body == nil && len(fields) > 0 && op.method != http.MethodGet {
			body = fields
		}

		target := baseURL + path
		if len(query) > 0 {
			target += "?" + query.Encode()
		}
		do := func() (any, string, error) {
			req, err := b.newRequest(ctx, op.method, target, body)
			if err != nil {
				return nil, "", err
			}
			for k, v := range b.headers {
				req.Header.Set(k, v)
			}
			for k, v := range tool.Headers {
				req.Header.Set(k, v)
			}
			for k, vs := range header {
				req.Header[k] = vs
			}
			if err := auth.apply(ctx, req, op.id); err != nil {
				return nil, "", err
			}
			result, err := b.send(req)
			return result, req.Header.Get("Authorization"), err
		}

		result, authorization, err := do()
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized && auth.expire(authorization) {
			result, _, err = do()
		}
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", op.method, op.path, err)
		}
		if len(op.output) > 0 {
			rest, _ := SplitMedia(result)
			if m, ok := rest.(map[string]any); ok {
				if _, err := schema.Validate(op.output, m, schema.AllowMissing(), schema.AtPath("$response")); err != nil {
					return nil, err
				}
			}
		}
		return result, nil
	}
}

var nonWord = regexp.MustCompile(`[^A-Za-z0-9]+`)

func fallbackOperationID(method, path string) string {
	id := strings.ToLower(method) + "_" + strings.Trim(nonWord.ReplaceAllString(path, "_"), "_")
	return strings.TrimSuffix(id, "_")
}

// substitutePathParam fills both {name} and :name placeholders.
func substitutePathParam(path, name, value string) string {
	path = strings.ReplaceAll(path, "{"+name+"}", value)
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == ":"+name {
			segments[i] = value
		}
	}
	return strings.Join(segments, "/")
}

func addQuery(q url.Values, key string, v any) {
	switch t := v.(type) {
	case []any:
		for _, e := range t {
			q.Add(key, fmt.Sprint(e))
		}
	case []string:
		for _, e := range t {
			q.Add(key, e)
		}
	default:
		q.Set(key, fmt.Sprint(v))
	}
}

func descriptionOf(def schema.Definition) string {
	s, _ := def["description"].(string)
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
