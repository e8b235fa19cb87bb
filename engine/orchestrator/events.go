package orchestrator

import (
	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/engine/workflow"
)

// Events receives execution lifecycle notifications. Implementations must be
// fast and non-blocking; the engine calls them inline on the execution path.
type Events interface {
	WorkflowStarted(executionID string, wf *workflow.Config)
	WorkflowFinished(execution *Execution)
	StepStarted(executionID, stepID string, kind core.StepKind, index int)
	StepFinished(executionID string, result *core.StepResult)
	SecurityViolation(executionID, stepID string, err error)
}

// NoopEvents discards every notification.
type NoopEvents struct{}

func (NoopEvents) WorkflowStarted(string, *workflow.Config)       {}
func (NoopEvents) WorkflowFinished(*Execution)                    {}
func (NoopEvents) StepStarted(string, string, core.StepKind, int) {}
func (NoopEvents) StepFinished(string, *core.StepResult)          {}
func (NoopEvents) SecurityViolation(string, string, error)        {}
