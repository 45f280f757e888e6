package runtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aretw0/copilotz/internal/runtime"
	"github.com/aretw0/copilotz/pkg/actions"
	"github.com/aretw0/copilotz/pkg/adapters/memory"
	"github.com/aretw0/copilotz/pkg/domain"
	"github.com/aretw0/copilotz/pkg/ports"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedChat replays canned answers. The last answer repeats once the
// script is exhausted.
type scriptedChat struct {
	mu       sync.Mutex
	answers  []string
	requests []ports.ChatRequest
}

func newScriptedChat(answers ...string) *scriptedChat {
	return &scriptedChat{answers: answers}
}

func (s *scriptedChat) Execute(_ context.Context, req ports.ChatRequest) (*ports.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i >= len(s.answers) {
		i = len(s.answers) - 1
	}
	return &ports.ChatResponse{Answer: s.answers[i], Tokens: 10}, nil
}

func (s *scriptedChat) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedChat) request(i int) ports.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

const finalAnswer = `{"message":"done","functions":[]}`

func echoSet() actions.Set {
	return actions.Set{
		"echo": {
			Name: "echo",
			Spec: "echo(returns x): !x<any>",
			Invoke: func(_ context.Context, args map[string]any) (any, error) {
				return args["x"], nil
			},
		},
	}
}

func TestRun_EchoFunction(t *testing.T) {
	chat := newScriptedChat(`{"message":"","functions":[{"name":"echo","args":{"x":1}}]}`, finalAnswer)
	engine := runtime.NewEngine(chat)

	res, err := engine.Run(context.Background(), runtime.Request{Input: "hi", Actions: echoSet()})
	require.NoError(t, err)

	require.Len(t, res.Functions, 1)
	assert.Equal(t, "echo", res.Functions[0].Name)
	assert.EqualValues(t, 1, res.Functions[0].Results)
	assert.Equal(t, domain.FunctionOK, res.Functions[0].Status)
	assert.False(t, res.Functions[0].StartTime.IsZero())

	assert.Equal(t, "done", res.Message)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 20, res.Tokens)
	assert.Equal(t, domain.Consumption{Type: "actions", Value: 1}, res.Consumption)
}

func TestRun_SecondCallSeesResults(t *testing.T) {
	chat := newScriptedChat(`{"message":"","functions":[{"name":"echo","args":{"x":"ping"}}]}`, finalAnswer)
	engine := runtime.NewEngine(chat)

	_, err := engine.Run(context.Background(), runtime.Request{Input: "hi", Actions: echoSet()})
	require.NoError(t, err)
	require.Equal(t, 2, chat.calls())

	first := chat.request(0)
	require.Len(t, first.Messages, 1)
	assert.Equal(t, domain.RoleUser, first.Messages[0].Role)
	assert.JSONEq(t, `{"message":"hi"}`, first.Messages[0].Content)

	second := chat.request(1)
	require.Len(t, second.Messages, 2)
	last := second.Messages[1]
	assert.Equal(t, domain.RoleAssistant, last.Role)

	var replay map[string]any
	require.NoError(t, json.Unmarshal([]byte(last.Content), &replay))
	fns := replay["functions"].([]any)
	require.Len(t, fns, 1)
	fn := fns[0].(map[string]any)
	assert.Equal(t, "ping", fn["results"])
	assert.Equal(t, "ok", fn["status"])
}

func TestRun_UnknownFunction(t *testing.T) {
	chat := newScriptedChat(`{"message":"","functions":[{"name":"foo","args":{}}]}`, finalAnswer)
	engine := runtime.NewEngine(chat)

	res, err := engine.Run(context.Background(), runtime.Request{Input: "hi", Actions: echoSet()})
	require.NoError(t, err)

	require.Len(t, res.Functions, 1)
	assert.Equal(t, domain.FunctionFailed, res.Functions[0].Status)
	b, err := json.Marshal(res.Functions[0].Results)
	require.NoError(t, err)
	assert.Contains(t, string(b), "foo")
	assert.Contains(t, string(b), domain.CodeNotFound)
}

func TestRun_InvalidJSON(t *testing.T) {
	raw := "Sorry, I can only answer in prose today."
	chat := newScriptedChat(raw)
	engine := runtime.NewEngine(chat)

	res, err := engine.Run(context.Background(), runtime.Request{Input: "hi"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrInvalidJSON)

	var terr *runtime.TurnError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.CodeInvalidJSON, terr.Code)
	assert.Equal(t, raw, terr.Raw)
	require.NotNil(t, terr.Partial)
	assert.Equal(t, 1, terr.Partial.Iterations)
	assert.Equal(t, 1, chat.calls())
}

func TestRun_SchemaViolationIsInvalidJSON(t *testing.T) {
	chat := newScriptedChat(`{"message": 42, "functions": []}`)
	engine := runtime.NewEngine(chat)

	_, err := engine.Run(context.Background(), runtime.Request{Input: "hi"})
	var terr *runtime.TurnError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.CodeInvalidJSON, terr.Code)
	assert.Contains(t, terr.Message, "$.message")
}

func TestRun_RepairsTrailingComma(t *testing.T) {
	chat := newScriptedChat(`{"message":"ok","functions":[],}`)
	engine := runtime.NewEngine(chat)

	res, err := engine.Run(context.Background(), runtime.Request{Input: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Message)
}

func TestRun_IterationCap(t *testing.T) {
	chat := newScriptedChat(`{"message":"","functions":[{"name":"echo","args":{"x":1}}]}`)
	engine := runtime.NewEngine(chat)

	res, err := engine.Run(context.Background(), runtime.Request{Input: "loop", Actions: echoSet()})
	require.NoError(t, err)

	assert.Equal(t, runtime.DefaultMaxIterations, chat.calls())
	assert.Equal(t, runtime.DefaultMaxIterations, res.Iterations)
	assert.Len(t, res.Functions, runtime.DefaultMaxIterations)
}

func TestRun_CustomIterationCap(t *testing.T) {
	chat := newScriptedChat(`{"message":"","functions":[{"name":"echo","args":{"x":1}}]}`)
	engine := runtime.NewEngine(chat, runtime.WithMaxIterations(2))

	_, err := engine.Run(context.Background(), runtime.Request{Input: "loop", Actions: echoSet()})
	require.NoError(t, err)
	assert.Equal(t, 2, chat.calls())
}

func TestRun_HookEndsTurn(t *testing.T) {
	chat := newScriptedChat(`{"message":"handing off","functions":[{"name":"handoff","args":{"to":"human"}}]}`, finalAnswer)
	engine := runtime.NewEngine(chat)

	var got map[string]any
	hooks := map[string]runtime.Hook{
		"handoff": {
			Spec: "handoff(transfer the thread): !to<string>",
			Handle: func(_ context.Context, args map[string]any, next *actions.Action) (any, error) {
				assert.Nil(t, next)
				got = args
				return map[string]any{"ok": true}, nil
			},
		},
	}

	res, err := engine.Run(context.Background(), runtime.Request{Input: "hi", Hooks: hooks})
	require.NoError(t, err)

	assert.Equal(t, 1, chat.calls())
	assert.Equal(t, "human", got["to"])
	assert.Equal(t, "handing off", res.Message)
	assert.True(t, res.Called("handoff"))
	assert.Contains(t, chat.request(0).Instructions, "handoff(transfer the thread): !to<string>")
}

func TestRun_HookWrapsRegistryAction(t *testing.T) {
	chat := newScriptedChat(`{"message":"","functions":[{"name":"echo","args":{"x":"a"}}]}`, finalAnswer)
	engine := runtime.NewEngine(chat)

	hooks := map[string]runtime.Hook{
		"echo": {
			Handle: func(ctx context.Context, args map[string]any, next *actions.Action) (any, error) {
				if next == nil {
					return nil, errors.New("registry action not passed to hook")
				}
				out, err := next.Invoke(ctx, args)
				return map[string]any{"wrapped": out}, err
			},
		},
	}

	res, err := engine.Run(context.Background(), runtime.Request{Input: "hi", Actions: echoSet(), Hooks: hooks})
	require.NoError(t, err)

	require.Len(t, res.Functions, 1)
	assert.Equal(t, map[string]any{"wrapped": "a"}, res.Functions[0].Results)
	// The registry spec is kept for a shadowing hook.
	assert.Contains(t, chat.request(0).Instructions, "echo(returns x): !x<any>")
}

func TestRun_CallbackIsHoisted(t *testing.T) {
	chat := newScriptedChat(`{"message":"pick","functions":[{"name":"callback","args":{"choice":"a","score":2}}]}`)
	engine := runtime.NewEngine(chat)

	res, err := engine.Run(context.Background(), runtime.Request{Input: "hi"})
	require.NoError(t, err)

	assert.Empty(t, res.Functions)
	assert.Equal(t, "a", res.Extra["choice"])
	assert.EqualValues(t, 2, res.Extra["score"])
	assert.Equal(t, 1, chat.calls())
}

func TestRun_FunctionErrors(t *testing.T) {
	chat := newScriptedChat(`{"message":"","functions":[{"name":"boom"},{"name":"coded"},{"name":"panics"}]}`, finalAnswer)
	engine := runtime.NewEngine(chat)

	set := actions.Set{
		"boom": {Name: "boom", Invoke: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("exploded")
		}},
		"coded": {Name: "coded", Invoke: func(context.Context, map[string]any) (any, error) {
			return nil, domain.NewCodedError(domain.CodeActiveTaskExists, domain.ErrActiveTaskExists, "thread %s is busy", "t1")
		}},
		"panics": {Name: "panics", Invoke: func(context.Context, map[string]any) (any, error) {
			panic("bad state")
		}},
	}

	res, err := engine.Run(context.Background(), runtime.Request{Input: "hi", Actions: set})
	require.NoError(t, err)
	require.Len(t, res.Functions, 3)

	for _, fn := range res.Functions {
		assert.Equal(t, domain.FunctionFailed, fn.Status, fn.Name)
	}
	assert.Equal(t, domain.ErrorResult(domain.CodeFunctionError, "exploded"), res.Functions[0].Results)
	assert.Equal(t, domain.ErrorResult(domain.CodeActiveTaskExists, "thread t1 is busy"), res.Functions[1].Results)

	errPayload := res.Functions[2].Results.(map[string]any)["error"].(map[string]any)
	assert.Equal(t, domain.CodeFunctionError, errPayload["code"])
	assert.Contains(t, errPayload["message"], "bad state")
}

func TestRun_MaxParallelCalls(t *testing.T) {
	chat := newScriptedChat(
		`{"message":"","functions":[{"name":"slow"},{"name":"slow"},{"name":"slow"},{"name":"slow"}]}`,
		finalAnswer,
	)
	engine := runtime.NewEngine(chat, runtime.WithMaxParallelCalls(2))

	var inFlight, peak atomic.Int32
	set := actions.Set{
		"slow": {Name: "slow", Invoke: func(context.Context, map[string]any) (any, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			return "ok", nil
		}},
	}

	res, err := engine.Run(context.Background(), runtime.Request{Input: "hi", Actions: set})
	require.NoError(t, err)
	require.Len(t, res.Functions, 4)
	for _, fn := range res.Functions {
		assert.Equal(t, domain.FunctionOK, fn.Status)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_MediaIsCollected(t *testing.T) {
	chat := newScriptedChat(
		`{"message":"","functions":[{"name":"render"}]}`,
		`{"message":"","functions":[{"name":"thumb"}]}`,
		finalAnswer,
	)
	engine := runtime.NewEngine(chat)

	set := actions.Set{
		"render": {Name: "render", Invoke: func(context.Context, map[string]any) (any, error) {
			return map[string]any{"ok": true, domain.MediaKey: map[string]any{"image": "data:image/png;base64,AAAA"}}, nil
		}},
		"thumb": {Name: "thumb", Invoke: func(context.Context, map[string]any) (any, error) {
			return map[string]any{domain.MediaKey: map[string]any{"thumb": "data:image/png;base64,BBBB"}}, nil
		}},
	}

	res, err := engine.Run(context.Background(), runtime.Request{Input: "draw", Actions: set})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"ok": true}, res.Functions[0].Results)
	assert.Equal(t, map[string]any{}, res.Functions[1].Results)
	assert.Equal(t, map[string]any{
		"image": "data:image/png;base64,AAAA",
		"thumb": "data:image/png;base64,BBBB",
	}, res.Media)
}

func TestRun_OutputSchemaExtension(t *testing.T) {
	chat := newScriptedChat(`{"message":"hi","functions":[],"mood":"happy"}`)
	engine := runtime.NewEngine(chat)

	res, err := engine.Run(context.Background(), runtime.Request{
		Input: "hi",
		OutputSchema: map[string]any{
			"properties": map[string]any{"mood": map[string]any{"type": "string"}},
			"required":   []any{"mood"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "happy", res.Answer["mood"])
	assert.Contains(t, chat.request(0).Instructions, `"mood"`)
}

func TestRun_HistoryFromLogStore(t *testing.T) {
	logs := memory.NewLogStore()
	require.NoError(t, logs.Append(context.Background(), &domain.LogRecord{
		ID:       "l1",
		Name:     runtime.DefaultKind,
		ThreadID: "t1",
		Status:   domain.LogCompleted,
		Output: domain.TurnOutput{
			Prompt: []domain.Message{
				{Role: domain.RoleSystem, Content: "old system prompt"},
				{Role: domain.RoleUser, Content: `{"message":"first"}`},
			},
			Message: "first answer",
			Answer:  map[string]any{"message": "first answer", "functions": []any{}},
		},
	}))

	chat := newScriptedChat(finalAnswer)
	engine := runtime.NewEngine(chat, runtime.WithLogStore(logs), runtime.WithRecorder(logs))

	_, err := engine.Run(context.Background(), runtime.Request{ThreadID: "t1", Input: "second"})
	require.NoError(t, err)

	msgs := chat.request(0).Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.JSONEq(t, `{"message":"first answer","functions":[]}`, msgs[1].Content)
	assert.JSONEq(t, `{"message":"second"}`, msgs[2].Content)

	latest, err := logs.Latest(context.Background(), "t1", runtime.DefaultKind)
	require.NoError(t, err)
	assert.NotEqual(t, "l1", latest.ID)
	assert.Equal(t, "second", latest.Input)
	assert.Equal(t, "done", latest.Output.Message)
}

func TestRun_SuppliedThreadLogSkipsHistory(t *testing.T) {
	logs := memory.NewLogStore()
	chat := newScriptedChat(finalAnswer)
	engine := runtime.NewEngine(chat, runtime.WithLogStore(logs))

	log := []domain.Message{
		{Role: domain.RoleSystem, Content: "stale"},
		{Role: domain.RoleUser, Content: `{"message":"earlier"}`},
	}
	_, err := engine.Run(context.Background(), runtime.Request{ThreadID: "t1", ThreadLog: log})
	require.NoError(t, err)

	msgs := chat.request(0).Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, `{"message":"earlier"}`, msgs[0].Content)
}

func TestRun_FailedTurnIsRecorded(t *testing.T) {
	logs := memory.NewLogStore()
	engine := runtime.NewEngine(newScriptedChat("not json at all"), runtime.WithRecorder(logs))

	_, err := engine.Run(context.Background(), runtime.Request{ThreadID: "t1", Input: "hi"})
	require.Error(t, err)

	all, err := logs.List(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.LogFailed, all[0].Status)

	_, err = logs.Latest(context.Background(), "t1", runtime.DefaultKind)
	assert.ErrorIs(t, err, domain.ErrLogNotFound)
}

type fakeTranscriber struct{ text string }

func (f fakeTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return f.text, nil
}

func TestRun_AudioInput(t *testing.T) {
	chat := newScriptedChat(finalAnswer)
	engine := runtime.NewEngine(chat, runtime.WithTranscriber(fakeTranscriber{text: "spoken"}))

	_, err := engine.Run(context.Background(), runtime.Request{Input: "typed", Audio: []byte{1, 2}, AudioMIME: "audio/ogg"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"typed\nspoken"}`, chat.request(0).Messages[0].Content)
}

func TestRun_ModelError(t *testing.T) {
	boom := errors.New("provider down")
	chat := ports.ChatExecutorFunc(func(context.Context, ports.ChatRequest) (*ports.ChatResponse, error) {
		return nil, boom
	})
	engine := runtime.NewEngine(chat)

	_, err := engine.Run(context.Background(), runtime.Request{Input: "hi"})
	assert.ErrorIs(t, err, boom)
}

func TestRun_LifecycleHooks(t *testing.T) {
	chat := newScriptedChat(`{"message":"","functions":[{"name":"echo","args":{"x":1}},{"name":"foo"}]}`, finalAnswer)

	var (
		mu       sync.Mutex
		models   []int
		called   []string
		returned = map[string]domain.FunctionStatus{}
	)
	hooks := domain.LifecycleHooks{
		OnModelCall: func(_ context.Context, e *domain.ModelEvent) {
			mu.Lock()
			defer mu.Unlock()
			models = append(models, e.Iteration)
		},
		OnFunctionCall: func(_ context.Context, e *domain.FunctionEvent) {
			mu.Lock()
			defer mu.Unlock()
			called = append(called, e.Name)
		},
		OnFunctionReturn: func(_ context.Context, e *domain.FunctionEvent) {
			mu.Lock()
			defer mu.Unlock()
			returned[e.Name] = e.Status
		},
	}
	engine := runtime.NewEngine(chat, runtime.WithLifecycleHooks(hooks))

	_, err := engine.Run(context.Background(), runtime.Request{ThreadID: "t1", Input: "hi", Actions: echoSet()})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, models)
	assert.ElementsMatch(t, []string{"echo", "foo"}, called)
	assert.Equal(t, map[string]domain.FunctionStatus{"echo": domain.FunctionOK, "foo": domain.FunctionFailed}, returned)
}

func TestRun_PromptLayout(t *testing.T) {
	chat := newScriptedChat(finalAnswer)
	engine := runtime.NewEngine(chat)

	_, err := engine.Run(context.Background(), runtime.Request{
		Persona:      runtime.Persona{Name: "Ada", Job: "book meetings"},
		Instructions: "Be brief.",
		Input:        "hi",
		Actions:      echoSet(),
	})
	require.NoError(t, err)

	prompt := chat.request(0).Instructions
	assert.Contains(t, prompt, "You are Ada.")
	assert.Contains(t, prompt, "Your job: book meetings")
	assert.Contains(t, prompt, "Be brief.")
	assert.Contains(t, prompt, "<availableFunctions>\necho(returns x): !x<any>\n</availableFunctions>")
	assert.Contains(t, prompt, `"message":"<string!>User message goes here</string!>"`)
	assert.Contains(t, prompt, `"functions":[`)
}
