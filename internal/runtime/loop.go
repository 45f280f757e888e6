package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/aretw0/copilotz/pkg/actions"
	"github.com/aretw0/copilotz/pkg/domain"
	"github.com/aretw0/copilotz/pkg/ports"
	"github.com/aretw0/copilotz/pkg/schema"
)

// iteration is the mutable state carried from one model call to the next.
type iteration struct {
	n         int
	threadLog []domain.Message
	input     string
}

// messages returns the history sent to the model for this iteration.
func (it *iteration) messages() []domain.Message {
	msgs := make([]domain.Message, 0, len(it.threadLog)+1)
	msgs = append(msgs, it.threadLog...)
	if it.input != "" {
		msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: it.input})
	}
	return msgs
}

// Run drives one turn to completion.
//
// The model is called, its answer parsed and validated, and the requested
// functions dispatched concurrently. The loop calls the model again while it
// keeps requesting functions, up to the iteration cap. A requested hook ends
// the turn after dispatch.
//
// An answer that cannot be parsed or validated ends the turn with a
// *TurnError. Action failures never abort the turn; they are reported in the
// function results.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Kind == "" {
		req.Kind = DefaultKind
	}

	inputDef := BaseInputSchema()
	if req.InputSchema != nil {
		inputDef = schema.Merge(inputDef, req.InputSchema)
	}
	outputDef := BaseOutputSchema()
	if req.OutputSchema != nil {
		outputDef = schema.Merge(outputDef, req.OutputSchema)
	}
	outShort := schema.ToShortSchema(outputDef)

	set := withHooks(req.Actions, req.Hooks)
	system, err := e.buildPrompt(&req, set.Specs(), inputDef, outputDef)
	if err != nil {
		return nil, err
	}

	input, err := e.formatInput(ctx, &req, schema.ToShortSchema(inputDef))
	if err != nil {
		return nil, err
	}

	threadLog, err := e.history(ctx, &req, outShort)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Functions: make([]*domain.FunctionCall, 0),
		Media:     make(map[string]any),
		Extra:     make(map[string]any),
	}
	it := &iteration{threadLog: threadLog, input: input}

	for {
		it.n++
		res.Iterations = it.n
		msgs := it.messages()

		resp, err := e.callModel(ctx, &req, system, msgs, it.n)
		if err != nil {
			e.record(ctx, &req, res, domain.LogFailed)
			return nil, fmt.Errorf("call model: %w", err)
		}
		res.Tokens += resp.Tokens
		res.Prompt = resp.Prompt
		if res.Prompt == nil {
			res.Prompt = append([]domain.Message{{Role: domain.RoleSystem, Content: system}}, msgs...)
		}

		answer, err := parseAnswer(resp.Answer, outShort)
		if err != nil {
			var terr *TurnError
			if errors.As(err, &terr) {
				terr.Partial = res
			}
			e.logger.Warn("invalid model answer", "thread_id", req.ThreadID, "iteration", it.n, "error", err)
			e.record(ctx, &req, res, domain.LogFailed)
			return nil, err
		}

		calls := functionCalls(answer)
		calls, extra := hoistCallback(calls)
		maps.Copy(res.Extra, extra)

		e.logger.Debug("dispatching functions", "thread_id", req.ThreadID, "iteration", it.n, "count", len(calls))
		maps.Copy(res.Media, e.dispatch(ctx, &req, set, calls))
		res.Functions = append(res.Functions, calls...)

		answer["functions"] = callsToAny(calls)
		res.Answer = answer
		res.Message, _ = answer["message"].(string)
		res.NextTurn, _ = answer["nextTurn"].(string)

		bridge := domain.Message{Role: domain.RoleAssistant, Content: e.encodeAnswer(answer)}
		it.threadLog = append(msgs, bridge)
		it.input = ""

		if !e.shouldContinue(calls, req.Hooks, it.n) {
			break
		}
	}

	res.ThreadLog = it.threadLog
	res.Consumption = domain.Consumption{Type: "actions", Value: len(res.Functions)}
	e.record(ctx, &req, res, domain.LogCompleted)
	return res, nil
}

// shouldContinue reports whether the model must be called again.
func (e *Engine) shouldContinue(calls []*domain.FunctionCall, hooks map[string]Hook, n int) bool {
	if len(calls) == 0 || n >= e.maxIterations {
		return false
	}
	for _, c := range calls {
		if _, ok := hooks[c.Name]; ok {
			return false
		}
	}
	return true
}

func (e *Engine) callModel(ctx context.Context, req *Request, system string, msgs []domain.Message, n int) (*ports.ChatResponse, error) {
	start := e.now()
	resp, err := e.chat.Execute(ctx, ports.ChatRequest{
		Instructions: system,
		Messages:     msgs,
		Stream:       req.Stream,
	})
	if err == nil && resp == nil {
		err = errors.New("empty model response")
	}

	if e.hooks.OnModelCall != nil {
		ev := &domain.ModelEvent{
			EventBase: domain.EventBase{
				Timestamp: e.now(),
				Type:      domain.EventModelCall,
				ThreadID:  req.ThreadID,
			},
			Iteration: n,
			Duration:  since(e.now, start),
			Err:       err,
		}
		if resp != nil {
			ev.Tokens = resp.Tokens
		}
		e.hooks.OnModelCall(ctx, ev)
	}
	return resp, err
}

// parseAnswer decodes the model answer, repairing it when needed, and
// validates it against the output schema. Extra properties are kept.
func parseAnswer(raw string, out schema.ShortSchema) (map[string]any, error) {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return nil, invalidJSON(raw, rerr)
		}
		if err := json.Unmarshal([]byte(repaired), &decoded); err != nil {
			return nil, invalidJSON(raw, err)
		}
	}

	answer, err := schema.Validate(out, decoded)
	if err != nil {
		return nil, invalidJSON(raw, err)
	}
	return answer, nil
}

func invalidJSON(raw string, err error) *TurnError {
	return &TurnError{
		Code:    domain.CodeInvalidJSON,
		Message: err.Error(),
		Raw:     raw,
		Err:     err,
	}
}

// functionCalls builds the dispatch list from a validated answer.
// Entries without a name are dropped.
func functionCalls(answer map[string]any) []*domain.FunctionCall {
	list, _ := answer["functions"].([]any)
	calls := make([]*domain.FunctionCall, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		args, _ := m["args"].(map[string]any)
		if args == nil {
			args = make(map[string]any)
		}
		calls = append(calls, &domain.FunctionCall{Name: name, Args: args})
	}
	return calls
}

// hoistCallback removes the first callback call and returns its args.
func hoistCallback(calls []*domain.FunctionCall) ([]*domain.FunctionCall, map[string]any) {
	for i, c := range calls {
		if c.Name == domain.CallbackFunction {
			rest := make([]*domain.FunctionCall, 0, len(calls)-1)
			rest = append(rest, calls[:i]...)
			rest = append(rest, calls[i+1:]...)
			return rest, c.Args
		}
	}
	return calls, nil
}

func callsToAny(calls []*domain.FunctionCall) []any {
	out := make([]any, len(calls))
	for i, c := range calls {
		out[i] = map[string]any{
			"name":    c.Name,
			"args":    c.Args,
			"results": c.Results,
			"status":  string(c.Status),
		}
	}
	return out
}

// encodeAnswer renders the answer replayed to the model on the next call.
func (e *Engine) encodeAnswer(answer map[string]any) string {
	clean, err := schema.Validate(schema.ToShortSchema(BaseOutputSchema()), answer, schema.StripExtra())
	if err != nil {
		clean = answer
	}
	b, err := json.Marshal(clean)
	if err != nil {
		e.logger.Warn("encode answer", "error", err)
		return "{}"
	}
	return string(b)
}

// formatInput transcribes audio, then wraps the text in the input envelope.
func (e *Engine) formatInput(ctx context.Context, req *Request, in schema.ShortSchema) (string, error) {
	parts := make([]string, 0, 2)
	if req.Input != "" {
		parts = append(parts, req.Input)
	}
	if len(req.Audio) > 0 {
		if e.transcriber == nil {
			e.logger.Warn("audio input ignored, no transcriber configured", "thread_id", req.ThreadID)
		} else {
			text, err := e.transcriber.Transcribe(ctx, req.Audio, req.AudioMIME)
			if err != nil {
				return "", fmt.Errorf("transcribe audio: %w", err)
			}
			if text != "" {
				parts = append(parts, text)
			}
		}
	}
	if len(parts) == 0 {
		return "", nil
	}

	envelope, err := schema.Validate(in, map[string]any{"message": strings.Join(parts, "\n")})
	if err != nil {
		return "", fmt.Errorf("validate input: %w", err)
	}
	b, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("encode input: %w", err)
	}
	return string(b), nil
}

// history returns the thread log a turn starts from. A supplied log wins;
// otherwise the latest completed record of the thread is replayed.
func (e *Engine) history(ctx context.Context, req *Request, out schema.ShortSchema) ([]domain.Message, error) {
	if len(req.ThreadLog) > 0 {
		return domain.StripSystem(req.ThreadLog), nil
	}
	if e.logs == nil || req.ThreadID == "" {
		return nil, nil
	}

	rec, err := e.logs.Latest(ctx, req.ThreadID, req.Kind)
	if errors.Is(err, domain.ErrLogNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load thread history: %w", err)
	}

	log := domain.StripSystem(rec.Output.Prompt)
	if rec.Output.Answer == nil {
		return log, nil
	}
	answer, err := schema.Validate(out, rec.Output.Answer, schema.AllowMissing())
	if err != nil {
		e.logger.Warn("stored answer does not match output schema", "thread_id", req.ThreadID, "log_id", rec.ID, "error", err)
		return log, nil
	}
	b, err := json.Marshal(answer)
	if err != nil {
		return nil, fmt.Errorf("encode stored answer: %w", err)
	}
	return append(log, domain.Message{Role: domain.RoleAssistant, Content: string(b)}), nil
}

func (e *Engine) record(ctx context.Context, req *Request, res *Result, status domain.LogStatus) {
	if e.recorder == nil || req.ThreadID == "" {
		return
	}
	rec := &domain.LogRecord{
		ID:       e.newID(),
		Name:     req.Kind,
		ThreadID: req.ThreadID,
		Input:    req.Input,
		Output: domain.TurnOutput{
			Prompt:      res.Prompt,
			Message:     res.Message,
			Answer:      res.Answer,
			Consumption: domain.Consumption{Type: "actions", Value: len(res.Functions)},
		},
		Status:    status,
		CreatedAt: e.now(),
	}
	if err := e.recorder.Record(ctx, rec); err != nil {
		e.logger.Warn("record turn", "thread_id", req.ThreadID, "error", err)
	}
}

// withHooks overlays hooks on the registry actions. A hook shadowing an
// action keeps its spec and receives the action as next.
func withHooks(base actions.Set, hooks map[string]Hook) actions.Set {
	set := base.Clone()
	for name, h := range hooks {
		next := set[name]
		a := &actions.Action{Name: name, Spec: h.Spec}
		if next != nil {
			cp := *next
			a = &cp
		}
		if a.Spec == "" {
			a.Spec = name
		}
		handle := h.Handle
		a.Invoke = func(ctx context.Context, args map[string]any) (any, error) {
			return handle(ctx, args, next)
		}
		set[name] = a
	}
	return set
}

func since(now func() time.Time, start time.Time) time.Duration {
	return now().Sub(start)
}
