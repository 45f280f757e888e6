package workflow

import (
	"encoding/json"
	"strings"
	"text/template"

	"github.com/aretw0/copilotz/pkg/actions"
	"github.com/aretw0/copilotz/pkg/domain"
)

var taskTemplate = template.Must(template.New("task").Parse(`
{{- if .Base}}{{.Base}}
================
{{end -}}
## WORKFLOWS
{{if .Workflows}}Available workflows:
{{range .Workflows}}- {{.Name}}{{if .Description}}: {{.Description}}{{end}}
{{end}}{{else}}No workflows are available.
{{end -}}
{{if .Task}}
You are working on a task. Keep moving it forward on its workflow until it is completed.
<workflow>
{{.Workflow.Name}}{{if .Workflow.Description}}: {{.Workflow.Description}}{{end}}
{{- if .Workflow.Instructions}}
{{.Workflow.Instructions}}{{end}}
</workflow>
Steps, in order:
<steps>
{{range .Steps}}- {{.Position}}. {{.Name}}{{if .Description}}: {{.Description}}{{end}}
{{end -}}
</steps>
Current step:
<currentStep>
{{.Step.Name}}{{if .Step.Instructions}}: {{.Step.Instructions}}{{end}}
</currentStep>
{{- if .Step.SubmitWhen}}
Call submit when: {{.Step.SubmitWhen}}{{end}}
Task state:
<state>
{{.State}}
</state>
Use changeStep to revisit a step, setState to remember data and cancelTask if the user gives up.
{{else}}
There is no active task. Call createTask with a workflow name when the user's request matches one.
{{end}}`))

type taskPrompt struct {
	Base      string
	Workflows []*domain.Workflow
	Task      *domain.Task
	Workflow  *domain.Workflow
	Step      *domain.Step
	Steps     []stepLine
	State     string
}

type stepLine struct {
	Position    int
	Name        string
	Description string
}

// instructions derives the turn instructions from the base instructions and
// the thread's task.
func (m *Machine) instructions(base string, task *domain.Task) string {
	data := taskPrompt{
		Base:      strings.TrimSpace(base),
		Workflows: m.workflows,
	}
	if task != nil && task.Status == domain.TaskActive {
		if wf, ok := m.workflow(task.Workflow); ok {
			if step, ok := wf.Step(task.CurrentStep); ok {
				data.Task = task
				data.Workflow = wf
				data.Step = step
				for i, s := range wf.Chain() {
					data.Steps = append(data.Steps, stepLine{Position: i + 1, Name: s.Name, Description: s.Description})
				}
				state, err := json.Marshal(task.Context.State)
				if err != nil {
					m.logger.Warn("encode task state", "task_id", task.ID, "error", err)
					state = []byte("{}")
				}
				data.State = string(state)
			}
		}
	}

	var sb strings.Builder
	if err := taskTemplate.Execute(&sb, data); err != nil {
		m.logger.Error("render task instructions", "error", err)
		return base
	}
	return sb.String()
}

// scope returns the actions offered during a turn: the copilot-level
// actions plus the workflow, step and onSubmit actions of the active task.
func (m *Machine) scope(registry actions.Set, copilot []string, task *domain.Task) actions.Set {
	if copilot == nil {
		return registry.Clone()
	}

	set := make(actions.Set)
	add := func(names ...string) {
		for _, name := range names {
			if a, ok := registry[name]; ok {
				set.Add(a)
			}
		}
	}
	add(copilot...)

	if task != nil && task.Status == domain.TaskActive {
		if wf, ok := m.workflow(task.Workflow); ok {
			add(wf.Actions...)
			if step, ok := wf.Step(task.CurrentStep); ok {
				add(step.Actions...)
				if step.OnSubmit != "" {
					add(step.OnSubmit)
				}
			}
		}
	}
	return set
}
