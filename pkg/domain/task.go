package domain

import "time"

// TaskStatus is the lifecycle position of a Task.
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
	TaskBacklog   TaskStatus = "backlog"
)

// Terminal reports whether no further transition is allowed from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// StepRecord captures the last submission of a step.
type StepRecord struct {
	Args      map[string]any `json:"args,omitempty"`
	Results   any            `json:"results,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TaskContext holds the progress accumulated by a Task.
type TaskContext struct {
	Steps map[string]StepRecord `json:"steps"`
	State map[string]any        `json:"state"`
}

// Task is the persistent per-thread progress marker through a Workflow.
// At most one task per ExtID is active at any time.
type Task struct {
	ID          string      `json:"id"`
	ExtID       string      `json:"ext_id"`
	Workflow    string      `json:"workflow"`
	CurrentStep string      `json:"current_step"`
	Status      TaskStatus  `json:"status"`
	Context     TaskContext `json:"context"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NewTask creates an active task positioned at the workflow's first step.
func NewTask(id, extID string, wf *Workflow, now time.Time) *Task {
	return &Task{
		ID:          id,
		ExtID:       extID,
		Workflow:    wf.Name,
		CurrentStep: wf.EntryStep(),
		Status:      TaskActive,
		Context: TaskContext{
			Steps: make(map[string]StepRecord),
			State: make(map[string]any),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a copy whose maps can be mutated without affecting t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Context.Steps = make(map[string]StepRecord, len(t.Context.Steps))
	for k, v := range t.Context.Steps {
		c.Context.Steps[k] = v
	}
	c.Context.State = make(map[string]any, len(t.Context.State))
	for k, v := range t.Context.State {
		c.Context.State[k] = v
	}
	return &c
}
