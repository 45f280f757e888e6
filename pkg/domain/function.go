package domain

import "time"

// FunctionStatus tracks the dispatch state of a FunctionCall.
type FunctionStatus string

const (
	FunctionPending FunctionStatus = "pending"
	FunctionOK      FunctionStatus = "ok"
	FunctionFailed  FunctionStatus = "failed"
)

// CallbackFunction is the reserved function name whose args are hoisted into the turn response.
const CallbackFunction = "callback"

// MediaKey is the reserved result field carrying binary payloads extracted from an action result.
const MediaKey = "__media__"

// FunctionCall is a function requested by the model.
// It is produced from the validated answer and mutated in place during dispatch.
type FunctionCall struct {
	Name      string         `json:"name"`
	Args      map[string]any `json:"args,omitempty"`
	Results   any            `json:"results"`
	Status    FunctionStatus `json:"status"`
	StartTime time.Time      `json:"startTime,omitzero"`
}

// ErrorResult builds the inline error payload recorded in FunctionCall.Results.
func ErrorResult(code, message string) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
}
