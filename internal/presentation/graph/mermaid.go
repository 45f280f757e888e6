package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/copilotz/pkg/domain"
)

// TaskOverlay contains task state to visualize on the workflow.
type TaskOverlay struct {
	VisitedSteps []string
	CurrentStep  string
}

// OverlayFor derives the overlay of a task: every step with a record is
// visited, and the current step is highlighted while the task is active.
func OverlayFor(task *domain.Task) *TaskOverlay {
	if task == nil {
		return nil
	}
	o := &TaskOverlay{}
	for name := range task.Context.Steps {
		o.VisitedSteps = append(o.VisitedSteps, name)
	}
	if task.Status == domain.TaskActive {
		o.CurrentStep = task.CurrentStep
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart of a workflow.
// It applies semantic styling:
// - Entry step: ((Circle))
// - Step with an on_submit action: [[Subroutine]]
// - Terminal step: ([Stadium])
// - Default: [Rectangle]
// Next links are solid arrows; failed_next links are dotted and labeled.
func GenerateMermaid(wf *domain.Workflow, overlay *TaskOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	entry := wf.EntryStep()
	for _, step := range wf.Steps {
		safeID := sanitizeMermaidID(step.Name)

		opener, closer := "[", "]"
		switch {
		case step.Name == entry:
			opener, closer = "((", "))"
		case step.OnSubmit != "":
			opener, closer = "[[", "]]"
		case step.Next == "":
			opener, closer = "([", "])"
		}

		label := escapeLabel(step.Name)
		if step.OnSubmit != "" {
			label = fmt.Sprintf("%s <br/> %s", label, escapeLabel(step.OnSubmit))
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, label, closer)

		if step.Next != "" {
			if step.SubmitWhen != "" {
				fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", safeID, escapeLabel(step.SubmitWhen), sanitizeMermaidID(step.Next))
			} else {
				fmt.Fprintf(&sb, "    %s --> %s\n", safeID, sanitizeMermaidID(step.Next))
			}
		}
		if step.FailedNext != "" {
			fmt.Fprintf(&sb, "    %s -. \"failed\" .-> %s\n", safeID, sanitizeMermaidID(step.FailedNext))
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, step := range wf.Steps {
			for _, name := range overlay.VisitedSteps {
				if name == step.Name && !visitedSet[name] {
					visitedSet[name] = true
					fmt.Fprintf(&sb, "    class %s visited;\n", sanitizeMermaidID(name))
				}
			}
		}

		if overlay.CurrentStep != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentStep))
		}
	}

	return sb.String()
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
