package dsl

import "github.com/aretw0/copilotz/pkg/domain"

// StepBuilder provides a fluent API for configuring a step.
type StepBuilder struct {
	step domain.Step
}

// Describe sets the one-line description listed in the step overview.
func (s *StepBuilder) Describe(description string) *StepBuilder {
	s.step.Description = description
	return s
}

// Instructions sets what the model should do while the step is current.
func (s *StepBuilder) Instructions(instructions string) *StepBuilder {
	s.step.Instructions = instructions
	return s
}

// SubmitWhen tells the model when to call submit.
func (s *StepBuilder) SubmitWhen(condition string) *StepBuilder {
	s.step.SubmitWhen = condition
	return s
}

// OnSubmit names the action invoked with the submitted arguments.
func (s *StepBuilder) OnSubmit(action string) *StepBuilder {
	s.step.OnSubmit = action
	return s
}

// Actions offers the named actions while the step is current.
func (s *StepBuilder) Actions(names ...string) *StepBuilder {
	s.step.Actions = append(s.step.Actions, names...)
	return s
}

// Go sets the step reached after a successful submit.
func (s *StepBuilder) Go(next string) *StepBuilder {
	s.step.Next = next
	return s
}

// Fail sets the step reached when the submit action fails.
func (s *StepBuilder) Fail(next string) *StepBuilder {
	s.step.FailedNext = next
	return s
}

// Terminal marks the step as the end of the chain.
func (s *StepBuilder) Terminal() *StepBuilder {
	s.step.Next = ""
	return s
}

// Build returns the underlying domain.Step.
func (s *StepBuilder) Build() domain.Step {
	step := s.step
	step.Actions = append([]string(nil), s.step.Actions...)
	return step
}
