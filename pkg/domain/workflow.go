package domain

// Step is one instruction-bearing state of a Workflow.
// Steps form a linked chain through Next and FailedNext.
type Step struct {
	Name         string   `json:"name" yaml:"name" mapstructure:"name"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Instructions string   `json:"instructions,omitempty" yaml:"instructions,omitempty" mapstructure:"instructions"`
	SubmitWhen   string   `json:"submit_when,omitempty" yaml:"submit_when,omitempty" mapstructure:"submit_when"`
	Next         string   `json:"next,omitempty" yaml:"next,omitempty" mapstructure:"next"`
	FailedNext   string   `json:"failed_next,omitempty" yaml:"failed_next,omitempty" mapstructure:"failed_next"`
	OnSubmit     string   `json:"on_submit,omitempty" yaml:"on_submit,omitempty" mapstructure:"on_submit"`
	Actions      []string `json:"actions,omitempty" yaml:"actions,omitempty" mapstructure:"actions"`
}

// Workflow is a named process whose steps a Task traverses.
type Workflow struct {
	Name         string   `json:"name" yaml:"name" mapstructure:"name"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Instructions string   `json:"instructions,omitempty" yaml:"instructions,omitempty" mapstructure:"instructions"`
	FirstStep    string   `json:"first_step,omitempty" yaml:"first_step,omitempty" mapstructure:"first_step"`
	Steps        []Step   `json:"steps" yaml:"steps" mapstructure:"steps"`
	Actions      []string `json:"actions,omitempty" yaml:"actions,omitempty" mapstructure:"actions"`
}

// EntryStep returns the configured first step, or the first declared step.
func (w *Workflow) EntryStep() string {
	if w.FirstStep != "" {
		return w.FirstStep
	}
	if len(w.Steps) > 0 {
		return w.Steps[0].Name
	}
	return ""
}

// Step looks up a step by name.
func (w *Workflow) Step(name string) (*Step, bool) {
	for i := range w.Steps {
		if w.Steps[i].Name == name {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// Chain returns the steps reachable from the entry step by following Next.
// It stops at the first repeated or unknown step.
func (w *Workflow) Chain() []*Step {
	var chain []*Step
	seen := make(map[string]bool)
	name := w.EntryStep()
	for name != "" && !seen[name] {
		seen[name] = true
		step, ok := w.Step(name)
		if !ok {
			break
		}
		chain = append(chain, step)
		name = step.Next
	}
	return chain
}
