package dsl

import (
	"github.com/aretw0/copilotz/internal/workflow"
	"github.com/aretw0/copilotz/pkg/domain"
)

// Builder manages the workflow construction.
type Builder struct {
	wf    domain.Workflow
	steps []*StepBuilder
	index map[string]*StepBuilder
}

// New creates a builder for the named workflow.
func New(name string) *Builder {
	return &Builder{
		wf:    domain.Workflow{Name: name},
		index: make(map[string]*StepBuilder),
	}
}

// Describe sets the description listed to the model.
func (b *Builder) Describe(description string) *Builder {
	b.wf.Description = description
	return b
}

// Instructions sets the instructions shown while any step is active.
func (b *Builder) Instructions(instructions string) *Builder {
	b.wf.Instructions = instructions
	return b
}

// Actions offers the named actions during every step.
func (b *Builder) Actions(names ...string) *Builder {
	b.wf.Actions = append(b.wf.Actions, names...)
	return b
}

// First sets the entry step. Defaults to the first added step.
func (b *Builder) First(step string) *Builder {
	b.wf.FirstStep = step
	return b
}

// Step adds a step in declaration order.
// If the step already exists, it returns the existing builder.
func (b *Builder) Step(name string) *StepBuilder {
	if sb, ok := b.index[name]; ok {
		return sb
	}
	sb := &StepBuilder{step: domain.Step{Name: name}}
	b.steps = append(b.steps, sb)
	b.index[name] = sb
	return sb
}

// Build assembles and validates the workflow.
func (b *Builder) Build() (domain.Workflow, error) {
	wf := b.wf
	wf.Steps = make([]domain.Step, len(b.steps))
	for i, sb := range b.steps {
		wf.Steps[i] = sb.Build()
	}
	if err := workflow.Validate(&wf); err != nil {
		return domain.Workflow{}, err
	}
	return wf, nil
}

// MustBuild is like Build but panics on an invalid workflow.
func (b *Builder) MustBuild() domain.Workflow {
	wf, err := b.Build()
	if err != nil {
		panic(err)
	}
	return wf
}
