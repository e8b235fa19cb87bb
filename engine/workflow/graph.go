package workflow

import (
	"strings"

	"github.com/flowmatic/flowmatic/engine/core"
)

// buildGraph validates every declared dependency and records the adjacency
// map. Only top-level steps participate in the graph; nested conditional
// steps run inside their parent.
func buildGraph(wf *Config) error {
	wf.graph = make(map[string][]string, len(wf.Steps))
	topLevel := make(map[string]bool, len(wf.Steps))
	for _, step := range wf.Steps {
		topLevel[step.ID] = true
	}
	for _, step := range wf.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := wf.index[dep]; !ok {
				return core.NewValidationError("step %s depends on unknown step: %s", step.ID, dep)
			}
			if !topLevel[dep] {
				return core.NewValidationError(
					"step %s depends on nested step %s, which is not addressable", step.ID, dep)
			}
		}
		wf.graph[step.ID] = append([]string(nil), step.DependsOn...)
	}
	return nil
}

// computeExecutionOrder runs Kahn's algorithm over the dependency graph.
// When several steps are ready at once, declaration order wins, so the
// result is stable across runs of the same definition.
func computeExecutionOrder(wf *Config) error {
	inDegree := make(map[string]int, len(wf.Steps))
	dependents := make(map[string][]string, len(wf.Steps))
	for _, step := range wf.Steps {
		inDegree[step.ID] = len(step.DependsOn)
		for _, dep := range step.DependsOn {
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	order := make([]string, 0, len(wf.Steps))
	done := make(map[string]bool, len(wf.Steps))
	for len(order) < len(wf.Steps) {
		progressed := false
		for _, step := range wf.Steps {
			if done[step.ID] || inDegree[step.ID] != 0 {
				continue
			}
			done[step.ID] = true
			order = append(order, step.ID)
			for _, dependent := range dependents[step.ID] {
				inDegree[dependent]--
			}
			progressed = true
			break
		}
		if !progressed {
			var stuck []string
			for _, step := range wf.Steps {
				if !done[step.ID] {
					stuck = append(stuck, step.ID)
				}
			}
			return core.NewValidationError(
				"circular dependency detected involving steps: %s", strings.Join(stuck, ", "))
		}
	}
	wf.ExecutionOrder = order
	return nil
}
