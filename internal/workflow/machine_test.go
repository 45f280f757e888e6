package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aretw0/copilotz/internal/runtime"
	"github.com/aretw0/copilotz/internal/workflow"
	"github.com/aretw0/copilotz/pkg/actions"
	"github.com/aretw0/copilotz/pkg/adapters/memory"
	"github.com/aretw0/copilotz/pkg/domain"
	"github.com/aretw0/copilotz/pkg/ports"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedChat struct {
	mu       sync.Mutex
	answers  []string
	requests []ports.ChatRequest
}

func (s *scriptedChat) Execute(_ context.Context, req ports.ChatRequest) (*ports.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	i := min(len(s.requests)-1, len(s.answers)-1)
	return &ports.ChatResponse{Answer: s.answers[i], Tokens: 1}, nil
}

func (s *scriptedChat) request(i int) ports.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func (s *scriptedChat) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

const done = `{"message":"done","functions":[]}`

func call(name, args string) string {
	return `{"message":"","functions":[{"name":"` + name + `","args":` + args + `}]}`
}

func signup() domain.Workflow {
	return domain.Workflow{
		Name:        "signup",
		Description: "register a new customer",
		Steps: []domain.Step{
			{Name: "collect", Description: "collect the email", Instructions: "Ask for the email.", SubmitWhen: "the user gave an email", Next: "confirm", OnSubmit: "crm.save", Actions: []string{"crm.lookup"}},
			{Name: "confirm", Description: "confirm the data", Next: ""},
			{Name: "retry", Description: "apologize and retry", Next: "confirm"},
		},
	}
}

func support() domain.Workflow {
	return domain.Workflow{
		Name:  "support",
		Steps: []domain.Step{{Name: "triage"}},
	}
}

type fixture struct {
	chat    *scriptedChat
	tasks   *memory.TaskStore
	machine *workflow.Machine
	events  []*domain.TaskEvent
	saveErr error
	saved   map[string]any
}

func newFixture(t *testing.T, answers ...string) *fixture {
	t.Helper()
	f := &fixture{
		chat:  &scriptedChat{answers: answers},
		tasks: memory.NewTaskStore(),
	}
	engine := runtime.NewEngine(f.chat)

	var mu sync.Mutex
	hooks := domain.LifecycleHooks{
		OnTaskTransition: func(_ context.Context, e *domain.TaskEvent) {
			mu.Lock()
			defer mu.Unlock()
			f.events = append(f.events, e)
		},
	}

	ids := 0
	m, err := workflow.NewMachine(engine, f.tasks, []domain.Workflow{signup(), support()},
		workflow.WithLifecycleHooks(hooks),
		workflow.WithIDGenerator(func() string {
			ids++
			return "task-" + string(rune('0'+ids))
		}),
	)
	require.NoError(t, err)
	f.machine = m
	return f
}

func (f *fixture) registry() actions.Set {
	return actions.Set{
		"crm.save": {Name: "crm.save", Spec: "crm.save(store the customer)", Invoke: func(_ context.Context, args map[string]any) (any, error) {
			f.saved = args
			if f.saveErr != nil {
				return nil, f.saveErr
			}
			return map[string]any{"customerId": "c-1"}, nil
		}},
		"crm.lookup": {Name: "crm.lookup", Spec: "crm.lookup(find a customer)", Invoke: func(context.Context, map[string]any) (any, error) {
			return "nobody", nil
		}},
		"weather": {Name: "weather", Spec: "weather(current weather)", Invoke: func(context.Context, map[string]any) (any, error) {
			return "sunny", nil
		}},
	}
}

func (f *fixture) seed(t *testing.T, step string) *domain.Task {
	t.Helper()
	wf := signup()
	task := domain.NewTask("seeded", "t1", &wf, time.Now())
	task.CurrentStep = step
	require.NoError(t, f.tasks.Create(context.Background(), task))
	return task
}

func (f *fixture) run(t *testing.T) *workflow.Result {
	t.Helper()
	res, err := f.machine.Run(context.Background(), workflow.Request{
		Request:        runtime.Request{ThreadID: "t1", Input: "hello", Actions: f.registry()},
		CopilotActions: []string{"weather"},
	})
	require.NoError(t, err)
	return res
}

func TestMachine_CreateTask(t *testing.T) {
	f := newFixture(t, call("createTask", `{"workflow":"signup"}`), done)

	res := f.run(t)

	assert.Equal(t, 2, res.Turns)
	require.NotNil(t, res.Task)
	assert.Equal(t, "task-1", res.Task.ID)
	assert.Equal(t, "signup", res.Task.Workflow)
	assert.Equal(t, "collect", res.Task.CurrentStep)
	assert.Equal(t, domain.TaskActive, res.Task.Status)

	require.Len(t, res.Functions, 1)
	assert.Equal(t, domain.FunctionOK, res.Functions[0].Status)
	assert.Equal(t, "done", res.Message)

	first := f.chat.request(0).Instructions
	assert.Contains(t, first, "There is no active task")
	assert.Contains(t, first, "- signup: register a new customer")
	assert.Contains(t, first, "createTask(Start a workflow for this thread): backlogCurrent<boolean>(move the current task to the backlog first), !workflow<string>(name of one of the available workflows)")
	assert.NotContains(t, first, "crm.lookup(")

	second := f.chat.request(1)
	assert.Contains(t, second.Instructions, "<currentStep>\ncollect: Ask for the email.\n</currentStep>")
	assert.Contains(t, second.Instructions, "Call submit when: the user gave an email")
	assert.Contains(t, second.Instructions, "- 1. collect: collect the email\n- 2. confirm: confirm the data\n")
	assert.Contains(t, second.Instructions, "crm.lookup(find a customer)")
	assert.Contains(t, second.Instructions, "crm.save(store the customer)")
	assert.Contains(t, second.Instructions, "weather(current weather)")
	// The re-run continues the thread log instead of repeating the input.
	require.NotEmpty(t, second.Messages)
	assert.Equal(t, domain.RoleAssistant, second.Messages[len(second.Messages)-1].Role)

	require.Len(t, f.events, 1)
	assert.Equal(t, workflow.ActionCreateTask, f.events[0].Action)
}

func TestMachine_CreateTaskWithActiveTask(t *testing.T) {
	f := newFixture(t, call("createTask", `{"workflow":"support"}`), done)
	f.seed(t, "collect")

	res := f.run(t)

	require.Len(t, res.Functions, 1)
	assert.Equal(t, domain.FunctionFailed, res.Functions[0].Status)
	assert.Equal(t, domain.CodeActiveTaskExists,
		res.Functions[0].Results.(map[string]any)["error"].(map[string]any)["code"])
	assert.Equal(t, "seeded", res.Task.ID)
	assert.Equal(t, domain.TaskActive, res.Task.Status)
}

func TestMachine_CreateTaskBacklogsCurrent(t *testing.T) {
	f := newFixture(t, call("createTask", `{"workflow":"support","backlogCurrent":true}`), done)
	f.seed(t, "collect")

	res := f.run(t)

	assert.Equal(t, "support", res.Task.Workflow)
	assert.Equal(t, domain.TaskActive, res.Task.Status)

	old, err := f.tasks.Get(context.Background(), "seeded")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskBacklog, old.Status)

	all, err := f.tasks.List(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMachine_CreateTaskUnknownWorkflow(t *testing.T) {
	f := newFixture(t, call("createTask", `{"workflow":"ghost"}`), done)

	res := f.run(t)

	assert.Equal(t, domain.FunctionFailed, res.Functions[0].Status)
	assert.Equal(t, domain.CodeNotFound,
		res.Functions[0].Results.(map[string]any)["error"].(map[string]any)["code"])
	assert.Nil(t, res.Task)
}

func TestMachine_SubmitAdvances(t *testing.T) {
	f := newFixture(t, call("submit", `{"args":{"email":"a@b.c"}}`), done)
	f.seed(t, "collect")

	res := f.run(t)

	assert.Equal(t, "confirm", res.Task.CurrentStep)
	assert.Equal(t, domain.TaskActive, res.Task.Status)
	assert.Equal(t, map[string]any{"email": "a@b.c"}, f.saved)
	assert.Equal(t, "c-1", res.Task.Context.State["customerId"])

	rec, ok := res.Task.Context.Steps["collect"]
	require.True(t, ok)
	assert.Equal(t, map[string]any{"email": "a@b.c"}, rec.Args)

	stored, err := f.tasks.Get(context.Background(), "seeded")
	require.NoError(t, err)
	assert.Equal(t, "confirm", stored.CurrentStep)

	require.Len(t, f.events, 1)
	require.NotNil(t, f.events[0].Diff)
	assert.Equal(t, []string{"collect"}, f.events[0].Diff.Steps)
}

func TestMachine_SubmitLastStepCompletes(t *testing.T) {
	f := newFixture(t, call("submit", `{"args":{"ok":true}}`), done)
	f.seed(t, "confirm")

	res := f.run(t)

	assert.Equal(t, domain.TaskCompleted, res.Task.Status)
	assert.Equal(t, true, res.Task.Context.State["ok"])

	_, err := f.tasks.FindActive(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestMachine_SubmitFailure(t *testing.T) {
	f := newFixture(t, call("submit", `{"args":{"email":"bad"}}`), done)
	f.saveErr = errors.New("crm rejected the email")
	f.seed(t, "collect")

	res := f.run(t)

	assert.Equal(t, domain.TaskFailed, res.Task.Status)
	assert.Equal(t, "collect", res.Task.CurrentStep)
	out := res.Functions[0].Results.(map[string]any)
	assert.Contains(t, out["error"], "crm rejected the email")
}

// flakyTasks fails the first n updates.
type flakyTasks struct {
	*memory.TaskStore
	mu       sync.Mutex
	failures int
}

func (s *flakyTasks) Update(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	fail := s.failures > 0
	s.failures--
	s.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	return s.TaskStore.Update(ctx, task)
}

func TestMachine_FailedSaveKeepsTask(t *testing.T) {
	chat := &scriptedChat{answers: []string{
		call("submit", `{"args":{"email":"a@b.c"}}`),
		call("setState", `{"key":"plan","value":"pro"}`),
		done,
	}}
	tasks := &flakyTasks{TaskStore: memory.NewTaskStore(), failures: 1}
	m, err := workflow.NewMachine(runtime.NewEngine(chat), tasks, []domain.Workflow{signup()})
	require.NoError(t, err)

	wf := signup()
	require.NoError(t, tasks.Create(context.Background(), domain.NewTask("seeded", "t1", &wf, time.Now())))

	f := &fixture{}
	res, err := m.Run(context.Background(), workflow.Request{
		Request: runtime.Request{ThreadID: "t1", Input: "hello", Actions: f.registry()},
	})
	require.NoError(t, err)

	require.Len(t, res.Functions, 2)
	assert.Equal(t, domain.FunctionFailed, res.Functions[0].Status)
	assert.Equal(t, domain.FunctionOK, res.Functions[1].Status)

	// the later setState must not persist the step change of the failed submit
	stored, err := tasks.Get(context.Background(), "seeded")
	require.NoError(t, err)
	assert.Equal(t, "collect", stored.CurrentStep)
	assert.NotContains(t, stored.Context.Steps, "collect")
	assert.NotContains(t, stored.Context.State, "customerId")
	assert.Equal(t, "pro", stored.Context.State["plan"])

	assert.Equal(t, "collect", res.Task.CurrentStep)
	assert.Contains(t, chat.request(1).Instructions, "collect: Ask for the email.")
}

func TestMachine_FailedRerunKeepsPartialResult(t *testing.T) {
	f := newFixture(t, call("createTask", `{"workflow":"signup"}`), `not json at all`)

	_, err := f.machine.Run(context.Background(), workflow.Request{
		Request: runtime.Request{ThreadID: "t1", Input: "hello", Actions: f.registry()},
	})

	var runErr *workflow.RunError
	require.ErrorAs(t, err, &runErr)
	assert.ErrorIs(t, err, domain.ErrInvalidJSON)
	require.NotNil(t, runErr.Partial)
	assert.Equal(t, 2, runErr.Partial.Turns)
	require.Len(t, runErr.Partial.Functions, 1)
	assert.Equal(t, workflow.ActionCreateTask, runErr.Partial.Functions[0].Name)
	require.NotNil(t, runErr.Partial.Task)
	assert.Equal(t, "signup", runErr.Partial.Task.Workflow)
}

func TestMachine_SubmitFailureFollowsFailedNext(t *testing.T) {
	wf := signup()
	wf.Steps[0].FailedNext = "retry"

	chat := &scriptedChat{answers: []string{call("submit", `{}`), done}}
	tasks := memory.NewTaskStore()
	m, err := workflow.NewMachine(runtime.NewEngine(chat), tasks, []domain.Workflow{wf})
	require.NoError(t, err)

	task := domain.NewTask("seeded", "t1", &wf, time.Now())
	require.NoError(t, tasks.Create(context.Background(), task))

	registry := actions.Set{
		"crm.save": {Name: "crm.save", Invoke: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("down")
		}},
	}
	res, err := m.Run(context.Background(), workflow.Request{
		Request: runtime.Request{ThreadID: "t1", Input: "go", Actions: registry},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TaskActive, res.Task.Status)
	assert.Equal(t, "retry", res.Task.CurrentStep)
	assert.Contains(t, chat.request(1).Instructions, "<currentStep>\nretry\n</currentStep>")
}

func TestMachine_ChangeStep(t *testing.T) {
	f := newFixture(t, call("changeStep", `{"step":"confirm"}`), done)
	f.seed(t, "collect")

	res := f.run(t)
	assert.Equal(t, "confirm", res.Task.CurrentStep)
}

func TestMachine_ChangeStepUnknown(t *testing.T) {
	f := newFixture(t, call("changeStep", `{"step":"ghost"}`), done)
	f.seed(t, "collect")

	res := f.run(t)
	assert.Equal(t, "collect", res.Task.CurrentStep)
	assert.Equal(t, domain.FunctionFailed, res.Functions[0].Status)
	assert.Equal(t, domain.CodeNotFound,
		res.Functions[0].Results.(map[string]any)["error"].(map[string]any)["code"])
}

func TestMachine_CancelTask(t *testing.T) {
	f := newFixture(t, call("cancelTask", `{}`), done)
	f.seed(t, "collect")

	res := f.run(t)
	assert.Equal(t, domain.TaskCancelled, res.Task.Status)
	assert.Contains(t, f.chat.request(1).Instructions, "There is no active task")
}

func TestMachine_SetState(t *testing.T) {
	f := newFixture(t, call("setState", `{"key":"plan","value":"pro"}`), done)
	f.seed(t, "collect")

	res := f.run(t)
	assert.Equal(t, "pro", res.Task.Context.State["plan"])
	assert.Equal(t, "collect", res.Task.CurrentStep)
	assert.Contains(t, f.chat.request(1).Instructions, `{"plan":"pro"}`)
}

func TestMachine_ControlWithoutTask(t *testing.T) {
	f := newFixture(t, call("submit", `{}`), done)

	res := f.run(t)
	assert.Equal(t, domain.FunctionFailed, res.Functions[0].Status)
	assert.Nil(t, res.Task)
}

func TestMachine_TurnCap(t *testing.T) {
	f := newFixture(t, call("setState", `{"key":"n","value":1}`))
	f.seed(t, "collect")

	res := f.run(t)
	assert.Equal(t, workflow.DefaultMaxTurns, res.Turns)
	assert.Equal(t, workflow.DefaultMaxTurns, f.chat.calls())
	assert.Len(t, res.Functions, workflow.DefaultMaxTurns)
	assert.Equal(t, workflow.DefaultMaxTurns, res.Iterations)
}

func TestNewMachine_RejectsInvalidWorkflow(t *testing.T) {
	bad := domain.Workflow{Name: "bad", Steps: []domain.Step{{Name: "a", Next: "b"}}}
	_, err := workflow.NewMachine(nil, memory.NewTaskStore(), []domain.Workflow{bad})
	assert.ErrorIs(t, err, workflow.ErrInvalidWorkflow)

	_, err = workflow.NewMachine(nil, memory.NewTaskStore(), []domain.Workflow{support(), support()})
	assert.ErrorIs(t, err, workflow.ErrInvalidWorkflow)
}
