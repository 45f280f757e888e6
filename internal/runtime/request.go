package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/copilotz/pkg/actions"
	"github.com/aretw0/copilotz/pkg/domain"
	"github.com/aretw0/copilotz/pkg/ports"
	"github.com/aretw0/copilotz/pkg/schema"
)

// HookFunc handles a function call injected by the caller.
// next is the registry action with the same name, or nil when the hook is
// not shadowing one.
type HookFunc func(ctx context.Context, args map[string]any, next *actions.Action) (any, error)

// Hook is a caller-injected action. A requested hook ends the turn after it
// has been dispatched.
type Hook struct {
	// Spec is the prompt line used when no registry action shares the name.
	Spec   string
	Handle HookFunc
}

// Persona describes the copilot answering the turn.
type Persona struct {
	Name      string
	Backstory string
	Job       string
}

// Request is one turn of the function-call loop.
type Request struct {
	Persona      Persona
	Instructions string
	Input        string
	Audio        []byte
	AudioMIME    string
	ThreadID     string
	// ThreadLog replaces the history lookup when non-empty.
	ThreadLog []domain.Message
	// InputSchema and OutputSchema are merged over the base schemas.
	InputSchema  schema.Definition
	OutputSchema schema.Definition
	Actions      actions.Set
	Hooks        map[string]Hook
	Stream       ports.StreamFunc
	// Kind names the loop in log records. Defaults to DefaultKind.
	Kind string
}

// Result is the validated outcome of a turn.
type Result struct {
	Message  string `json:"message"`
	NextTurn string `json:"nextTurn,omitempty"`
	// Answer is the last validated model answer.
	Answer      map[string]any         `json:"answer,omitempty"`
	Prompt      []domain.Message       `json:"prompt"`
	Consumption domain.Consumption     `json:"consumption"`
	Functions   []*domain.FunctionCall `json:"functions"`
	Media       map[string]any         `json:"media,omitempty"`
	// Extra carries the hoisted callback arguments.
	Extra      map[string]any   `json:"extra,omitempty"`
	Iterations int              `json:"iterations"`
	Tokens     int              `json:"tokens"`
	ThreadLog  []domain.Message `json:"-"`
}

// Called reports whether any iteration requested the named function.
func (r *Result) Called(name string) bool {
	for _, fn := range r.Functions {
		if fn.Name == name {
			return true
		}
	}
	return false
}

// TurnError is returned when the model answer cannot be parsed or validated.
// Partial holds the turn state gathered before the failure.
type TurnError struct {
	Code    string
	Message string
	// Raw is the unmodified model answer.
	Raw     string
	Partial *Result
	Err     error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes both domain.ErrInvalidJSON and the underlying cause.
func (e *TurnError) Unwrap() []error {
	if e.Err == nil {
		return []error{domain.ErrInvalidJSON}
	}
	return []error{domain.ErrInvalidJSON, e.Err}
}
