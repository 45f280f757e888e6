package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/copilotz/pkg/domain"
)

// ErrInvalidWorkflow wraps every problem reported by Validate.
var ErrInvalidWorkflow = errors.New("invalid workflow")

// Validate checks that every step link resolves and that the Next chain from
// the entry step ends at a step with an empty Next, without cycles.
func Validate(wf *domain.Workflow) error {
	var problems []string
	if wf.Name == "" {
		problems = append(problems, "workflow has no name")
	}
	if len(wf.Steps) == 0 {
		problems = append(problems, "workflow has no steps")
	}

	seen := make(map[string]bool, len(wf.Steps))
	for _, s := range wf.Steps {
		switch {
		case s.Name == "":
			problems = append(problems, "step with empty name")
		case seen[s.Name]:
			problems = append(problems, fmt.Sprintf("duplicate step '%s'", s.Name))
		}
		seen[s.Name] = true
	}

	for _, s := range wf.Steps {
		if s.Next != "" && !seen[s.Next] {
			problems = append(problems, fmt.Sprintf("step '%s': next step '%s' not found", s.Name, s.Next))
		}
		if s.FailedNext != "" && !seen[s.FailedNext] {
			problems = append(problems, fmt.Sprintf("step '%s': failed_next step '%s' not found", s.Name, s.FailedNext))
		}
	}

	if entry := wf.EntryStep(); entry != "" && !seen[entry] {
		problems = append(problems, fmt.Sprintf("first step '%s' not found", entry))
	} else if entry != "" {
		if p := checkChain(wf, entry); p != "" {
			problems = append(problems, p)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w '%s': found %d errors:\n- %s", ErrInvalidWorkflow, wf.Name, len(problems), strings.Join(problems, "\n- "))
	}
	return nil
}

// checkChain follows Next from start and reports a cycle or a dangling link.
func checkChain(wf *domain.Workflow, start string) string {
	visited := make(map[string]bool)
	path := []string{}
	current := start
	for current != "" {
		if visited[current] {
			return fmt.Sprintf("cycle in next chain: %s -> %s", strings.Join(path, " -> "), current)
		}
		visited[current] = true
		path = append(path, current)

		step, ok := wf.Step(current)
		if !ok {
			// Reported by the link check.
			return ""
		}
		current = step.Next
	}
	return ""
}
