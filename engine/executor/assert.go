package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/engine/security"
	"github.com/flowmatic/flowmatic/engine/workflow"
)

// AssertExecutor evaluates a restricted boolean condition against the
// execution context. The on_failure policy decides whether a false condition
// fails the step, logs a warning, or passes through.
type AssertExecutor struct {
	env *Env
}

func NewAssertExecutor(env *Env) *AssertExecutor {
	return &AssertExecutor{env: env}
}

func (e *AssertExecutor) Kind() core.StepKind {
	return core.StepAssert
}

func (e *AssertExecutor) Execute(ctx context.Context, step *workflow.Step, execCtx map[string]any, secCtx *security.Context) *core.StepResult {
	result := core.NewStepResult(step.ID)
	spec := step.Assert

	if err := e.env.Validator.ValidateString(spec.Condition, "assert condition"); err != nil {
		secCtx.LogSecurityEvent("blocked assert condition in step " + step.ID)
		result.SetFailed(err)
		return result
	}

	// An unevaluable condition counts as a failed assertion, not a crash.
	rendered := e.env.Templates.Render(spec.Condition, execCtx)
	passed, evalErr := e.env.Templates.Evaluate(rendered, execCtx)
	if evalErr != nil {
		passed = false
	}

	outputs := core.Output{"passed": passed, "condition": spec.Condition}
	if passed {
		result.SetCompleted(outputs)
		return result
	}

	message := spec.Message
	if message == "" {
		message = fmt.Sprintf("assertion failed: %s", spec.Condition)
	}
	if evalErr != nil {
		message = fmt.Sprintf("%s (%s)", message, core.RedactError(evalErr))
	}

	switch spec.OnFailure {
	case workflow.AssertWarn:
		e.env.Log.Warn("assertion failed", "step", step.ID, "message", message)
		outputs["warning"] = message
		result.SetCompleted(outputs)
	case workflow.AssertContinue:
		outputs["message"] = message
		result.SetStatus(core.StepStatusSkipped, outputs, "")
	default:
		result.SetFailed(errors.New(message))
	}
	return result
}
