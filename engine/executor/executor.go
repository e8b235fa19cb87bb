package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/engine/security"
	"github.com/flowmatic/flowmatic/engine/workflow"
	"github.com/flowmatic/flowmatic/pkg/logger"
	"github.com/flowmatic/flowmatic/pkg/tplengine"
)

// Env carries the shared collaborators every executor needs. LimitProcess,
// when set, is called with the pid of each started step subprocess to apply
// OS resource ceilings.
type Env struct {
	Validator       *security.Validator
	Templates       *tplengine.TemplateEngine
	Workspace       string
	MaxStepDuration time.Duration
	MaxFileSizeMB   int
	LimitProcess    func(pid int, secCtx *security.Context)
	Log             logger.Logger
}

// StepExecutor runs one step kind. Execute always returns a finalized
// StepResult; failures are recorded on the result, not returned as errors.
type StepExecutor interface {
	Kind() core.StepKind
	Execute(ctx context.Context, step *workflow.Step, execCtx map[string]any, secCtx *security.Context) *core.StepResult
}

// Registry dispatches steps to their kind executor and applies the step's
// retry policy around failed attempts.
type Registry struct {
	executors map[core.StepKind]StepExecutor
	env       *Env
}

// NewRegistry wires the built-in executors for the given environment.
func NewRegistry(env *Env) *Registry {
	if env.Log == nil {
		env.Log = logger.GetDefault()
	}
	if env.Templates == nil {
		env.Templates = tplengine.New()
	}
	r := &Registry{executors: map[core.StepKind]StepExecutor{}, env: env}
	r.Register(NewShellExecutor(env))
	r.Register(NewAssertExecutor(env))
	r.Register(NewTemplateExecutor(env))
	r.Register(NewWebhookExecutor(env))
	r.Register(NewConditionalExecutor(env, r))
	return r
}

// Register adds or replaces the executor for a kind.
func (r *Registry) Register(exec StepExecutor) {
	r.executors[exec.Kind()] = exec
}

// Execute runs step with the registered executor, retrying failed attempts
// per the step's retry policy. Security rejections are deterministic and are
// never retried.
func (r *Registry) Execute(ctx context.Context, step *workflow.Step, execCtx map[string]any, secCtx *security.Context) *core.StepResult {
	exec, ok := r.executors[step.Kind]
	if !ok {
		result := core.NewStepResult(step.ID)
		result.SetFailed(core.NewValidationError("no executor registered for step type %s", step.Kind))
		return result
	}

	var result *core.StepResult
	attempt := func(ctx context.Context) error {
		result = exec.Execute(ctx, step, execCtx, secCtx)
		if result.Status != core.StepStatusFailed {
			return nil
		}
		if strings.HasPrefix(result.Error, "security violation") {
			return nil
		}
		return retry.RetryableError(errors.New(result.Error))
	}

	if step.Retry.MaxAttempts <= 0 {
		_ = attempt(ctx)
		return result
	}
	delay := step.Retry.Delay
	if delay <= 0 {
		delay = time.Second
	}
	backoff := retry.WithMaxRetries(uint64(step.Retry.MaxAttempts), retry.NewExponential(delay))
	if err := retry.Do(ctx, backoff, attempt); err != nil && result == nil {
		result = core.NewStepResult(step.ID)
		result.SetFailed(err)
	}
	return result
}
