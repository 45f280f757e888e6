package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/aretw0/copilotz/pkg/schema"
)

// BaseInputSchema is the envelope every user input is validated against.
func BaseInputSchema() schema.Definition {
	return schema.Definition{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "User message goes here",
			},
		},
		"required": []any{"message"},
	}
}

// BaseOutputSchema is the answer envelope the model must produce.
func BaseOutputSchema() schema.Definition {
	return schema.Definition{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Assistant message shown to the user. Leave it blank when calling a function unless told otherwise.",
			},
			"nextTurn": map[string]any{
				"type":        "string",
				"description": "Enum ['user', 'assistant']. Who is expected to send the next message.",
			},
			"functions": map[string]any{
				"type":        "array",
				"description": "List of functions",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name": map[string]any{
							"type":        "string",
							"description": "Function name",
						},
						"args": map[string]any{
							"type":        "object",
							"description": `JSON object (not stringified!) with the function arguments. Ex.: {"arg_name": "arg_value"}`,
						},
						"results": map[string]any{
							"type":        "any",
							"description": "Set as `null`. Filled with the function result",
						},
						"status": map[string]any{
							"type":        "string",
							"description": "Set as `null`. Filled with the function result status",
						},
					},
					"required": []any{"name"},
				},
			},
		},
		"required": []any{"message", "functions"},
	}
}

var systemTemplate = template.Must(template.New("system").Parse(`
{{- with .Persona}}{{if .Name}}You are {{.Name}}.
{{end}}{{if .Backstory}}{{.Backstory}}
{{end}}{{if .Job}}Your job: {{.Job}}
{{end}}================
{{end -}}
{{- if .Instructions}}{{.Instructions}}
================
{{end -}}
## FUNCTION CALLS

You have the following functions you can call:

<availableFunctions>
{{.Functions}}
</availableFunctions>

Guidelines:
- Function definitions are formatted as:
  ` + "`" + `function_name(function_description): arg_1<type>(description), ..., arg_n<type>(description)->(response_description): response_param_1<type>(description), ...` + "`" + `
- "!" before an argument only tells you that it is required. Do not include "!" in your function call.
- Do not call functions that are not listed here. If no functions are listed, do not call any.
================
## FORMATTING

User Input Format:
{{.InputFormat}}

Assistant Response Format:
{{.OutputFormat}}

Guidelines:
- Both User Input and Assistant Response are valid JSON. Booleans are ` + "`true`" + ` or ` + "`false`" + `, never strings.
- Only the <message> content is visible to the user. Put all the information the user needs in it.
- Run functions in parallel by adding them to the functions array.
- Look back at your previous message for the results of your last function calls.
- If a function fails, check the args you passed. Retry if they were wrong, otherwise explain the failure to the user.
- If you are waiting for the user, set nextTurn to "user". If you have a clear answer or more work to do, set nextTurn to "assistant".
================
Current date: {{.Now}}
`))

type promptData struct {
	Persona      *Persona
	Instructions string
	Functions    string
	InputFormat  string
	OutputFormat string
	Now          string
}

// buildPrompt renders the system message of a turn.
func (e *Engine) buildPrompt(req *Request, set []string, input, output schema.Definition) (string, error) {
	in, err := formatBlock(input)
	if err != nil {
		return "", fmt.Errorf("encode input format: %w", err)
	}
	out, err := formatBlock(output)
	if err != nil {
		return "", fmt.Errorf("encode output format: %w", err)
	}

	data := promptData{
		Instructions: strings.TrimSpace(req.Instructions),
		Functions:    strings.Join(set, "\n"),
		InputFormat:  in,
		OutputFormat: out,
		Now:          e.now().Format(time.RFC1123),
	}
	if req.Persona != (Persona{}) {
		data.Persona = &req.Persona
	}

	var sb strings.Builder
	if err := systemTemplate.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return sb.String(), nil
}

// formatBlock renders the detailed compact schema. Description tags are
// kept verbatim, so HTML escaping is off.
func formatBlock(def schema.Definition) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(schema.ToShortSchema(def, schema.Detailed()).Compact()); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
