package domain

import (
	"reflect"
	"sort"
)

// TaskDiff represents the changes between two snapshots of a task.
// It is designed to be serialized to JSON for logs and event consumers.
type TaskDiff struct {
	// TaskID is always present to identify the target.
	TaskID string `json:"task_id"`

	CurrentStep *string     `json:"current_step,omitempty"`
	Status      *TaskStatus `json:"status,omitempty"`

	// State contains only changed, added or deleted keys.
	// For deletions, the key is present with a nil value.
	State map[string]any `json:"state,omitempty"`

	// Steps lists the step records that were written.
	Steps []string `json:"steps,omitempty"`
}

// Diff calculates the difference between oldTask and newTask.
// If oldTask is nil, it returns a diff representing the entire newTask (creation).
func Diff(oldTask, newTask *Task) *TaskDiff {
	if newTask == nil {
		return nil
	}

	diff := &TaskDiff{
		TaskID: newTask.ID,
	}

	if oldTask == nil || oldTask.CurrentStep != newTask.CurrentStep {
		diff.CurrentStep = &newTask.CurrentStep
	}
	if oldTask == nil || oldTask.Status != newTask.Status {
		diff.Status = &newTask.Status
	}

	diff.State = diffState(oldTask, newTask)
	diff.Steps = diffSteps(oldTask, newTask)

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

func diffState(old *Task, new *Task) map[string]any {
	delta := make(map[string]any)

	if old == nil {
		for k, v := range new.Context.State {
			delta[k] = v
		}
		if len(delta) == 0 {
			return nil
		}
		return delta
	}

	for k, newVal := range new.Context.State {
		oldVal, exists := old.Context.State[k]
		if !exists || !reflect.DeepEqual(oldVal, newVal) {
			delta[k] = newVal
		}
	}

	for k := range old.Context.State {
		if _, exists := new.Context.State[k]; !exists {
			delta[k] = nil
		}
	}

	if len(delta) == 0 {
		return nil
	}
	return delta
}

func diffSteps(old *Task, new *Task) []string {
	var written []string
	for name, rec := range new.Context.Steps {
		if old == nil {
			written = append(written, name)
			continue
		}
		prev, ok := old.Context.Steps[name]
		if !ok || !prev.UpdatedAt.Equal(rec.UpdatedAt) {
			written = append(written, name)
		}
	}
	sort.Strings(written)
	return written
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *TaskDiff) IsEmpty() bool {
	return d.CurrentStep == nil &&
		d.Status == nil &&
		len(d.State) == 0 &&
		len(d.Steps) == 0
}
