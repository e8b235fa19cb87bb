package core

// -----------------------------------------------------------------------------
// Step Kind
// -----------------------------------------------------------------------------

// StepKind selects the executor for a workflow step.
type StepKind string

const (
	StepShell       StepKind = "shell"
	StepAssert      StepKind = "assert"
	StepTemplate    StepKind = "template"
	StepWebhook     StepKind = "webhook"
	StepConditional StepKind = "conditional"
)

func (k StepKind) String() string {
	return string(k)
}

// Valid reports whether k names a known step kind.
func (k StepKind) Valid() bool {
	switch k {
	case StepShell, StepAssert, StepTemplate, StepWebhook, StepConditional:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Step Status
// -----------------------------------------------------------------------------

// StepStatus tracks the per-step state machine. PENDING and RUNNING are
// transient; every other status is terminal.
type StepStatus string

const (
	StepStatusPending    StepStatus = "PENDING"
	StepStatusRunning    StepStatus = "RUNNING"
	StepStatusCompleted  StepStatus = "COMPLETED"
	StepStatusFailed     StepStatus = "FAILED"
	StepStatusSkipped    StepStatus = "SKIPPED"
	StepStatusCached     StepStatus = "CACHED"
	StepStatusTimeout    StepStatus = "TIMEOUT"
	StepStatusTerminated StepStatus = "TERMINATED"
)

func (s StepStatus) String() string {
	return string(s)
}

// Terminal reports whether no further transition is allowed out of s.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepStatusPending, StepStatusRunning:
		return false
	default:
		return true
	}
}

// -----------------------------------------------------------------------------
// Workflow Status
// -----------------------------------------------------------------------------

type WorkflowStatus string

const (
	WorkflowStatusRunning   WorkflowStatus = "RUNNING"
	WorkflowStatusCompleted WorkflowStatus = "COMPLETED"
	WorkflowStatusFailed    WorkflowStatus = "FAILED"
	WorkflowStatusTimeout   WorkflowStatus = "TIMEOUT"
)

func (s WorkflowStatus) String() string {
	return string(s)
}

// -----------------------------------------------------------------------------
// Inputs / Outputs
// -----------------------------------------------------------------------------

// Input is the execution-scoped input map handed to a workflow run.
type Input map[string]any

// Output is a sanitized step or workflow output map.
type Output map[string]any
