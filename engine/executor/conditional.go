package executor

import (
	"context"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/engine/security"
	"github.com/flowmatic/flowmatic/engine/workflow"
)

// ConditionalExecutor evaluates a branch condition and runs the selected arm's
// nested steps sequentially. Nested results are published into the execution
// context under steps.<id> like top-level ones, and the first nested failure
// fails the branch.
type ConditionalExecutor struct {
	env      *Env
	registry *Registry
}

func NewConditionalExecutor(env *Env, registry *Registry) *ConditionalExecutor {
	return &ConditionalExecutor{env: env, registry: registry}
}

func (e *ConditionalExecutor) Kind() core.StepKind {
	return core.StepConditional
}

func (e *ConditionalExecutor) Execute(ctx context.Context, step *workflow.Step, execCtx map[string]any, secCtx *security.Context) *core.StepResult {
	result := core.NewStepResult(step.ID)
	spec := step.Conditional

	if err := e.env.Validator.ValidateString(spec.Condition, "conditional condition"); err != nil {
		secCtx.LogSecurityEvent("blocked conditional condition in step " + step.ID)
		result.SetFailed(err)
		return result
	}

	rendered := e.env.Templates.Render(spec.Condition, execCtx)
	taken, evalErr := e.env.Templates.Evaluate(rendered, execCtx)
	if evalErr != nil {
		result.SetFailed(evalErr)
		return result
	}

	arm := spec.Then
	branch := "then"
	if !taken {
		arm = spec.Else
		branch = "else"
	}
	e.env.Log.Debug("conditional branch selected",
		"step", step.ID, "branch", branch, "nested_steps", len(arm))

	executed := make([]string, 0, len(arm))
	for _, nested := range arm {
		nestedResult := e.registry.Execute(ctx, nested, execCtx, secCtx)
		e.publish(execCtx, nested.ID, nestedResult)
		executed = append(executed, nested.ID)
		if nestedResult.Status == core.StepStatusFailed || nestedResult.Status == core.StepStatusTimeout {
			result.SetStatus(core.StepStatusFailed, core.Output{
				"condition_result": taken,
				"branch":           branch,
				"executed_steps":   executed,
			}, "nested step "+nested.ID+" failed")
			return result
		}
	}

	result.SetCompleted(core.Output{
		"condition_result": taken,
		"branch":           branch,
		"executed_steps":   executed,
	})
	return result
}

func (e *ConditionalExecutor) publish(execCtx map[string]any, stepID string, res *core.StepResult) {
	steps, ok := execCtx["steps"].(map[string]any)
	if !ok {
		steps = map[string]any{}
		execCtx["steps"] = steps
	}
	steps[stepID] = res.AsContextValue()
}
