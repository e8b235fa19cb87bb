package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/engine/executor"
	"github.com/flowmatic/flowmatic/engine/infra/cache"
	"github.com/flowmatic/flowmatic/engine/resources"
	"github.com/flowmatic/flowmatic/engine/security"
	"github.com/flowmatic/flowmatic/engine/workflow"
	"github.com/flowmatic/flowmatic/pkg/config"
	"github.com/flowmatic/flowmatic/pkg/logger"
	"github.com/flowmatic/flowmatic/pkg/tplengine"
)

// Execution is the record of one workflow run.
type Execution struct {
	ID           string                      `json:"id"`
	WorkflowName string                      `json:"workflow_name"`
	Status       core.WorkflowStatus         `json:"status"`
	StartedAt    time.Time                   `json:"started_at"`
	CompletedAt  time.Time                   `json:"completed_at,omitzero"`
	Inputs       core.Input                  `json:"inputs,omitempty"`
	Outputs      core.Output                 `json:"outputs,omitempty"`
	StepResults  map[string]*core.StepResult `json:"step_results"`
	StepOrder    []string                    `json:"step_order"`
	Error        string                      `json:"error,omitempty"`
	DryRun       bool                        `json:"dry_run,omitempty"`
}

// RunOptions tune a single Execute call.
type RunOptions struct {
	ExecutionID string
	ResumeFrom  string
	NoCache     bool
	DryRun      bool
}

// Engine drives workflow executions: input validation, the per-step state
// machine, caching, fail-fast error handling and output extraction. Steps run
// sequentially in the precomputed execution order.
type Engine struct {
	cfg       *config.Config
	registry  *executor.Registry
	cache     *cache.StepCache
	resources *resources.Manager
	templates *tplengine.TemplateEngine
	events    Events
	log       logger.Logger

	mu         sync.Mutex
	executions map[string]*Execution
}

// Option configures an Engine.
type Option func(*Engine)

// WithEvents attaches a lifecycle listener.
func WithEvents(events Events) Option {
	return func(e *Engine) { e.events = events }
}

// WithCache replaces the default step cache.
func WithCache(c *cache.StepCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithRegistry replaces the default executor registry.
func WithRegistry(r *executor.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// NewEngine builds an execution engine for the given configuration and
// security profile.
func NewEngine(cfg *config.Config, profile security.Profile, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := logger.GetDefault()
	manager := resources.NewManager(cfg.Limits.MaxMemoryMB, 0, log)
	env := &executor.Env{
		Validator:       security.NewValidator(profile).WithDetailedLogging(cfg.Runtime.DetailedLogging),
		Templates:       tplengine.New(),
		Workspace:       cfg.Security.Workspace,
		MaxStepDuration: cfg.Limits.MaxStepDuration,
		MaxFileSizeMB:   cfg.Limits.MaxFileSizeMB,
		LimitProcess:    manager.LimitProcess,
		Log:             log,
	}
	e := &Engine{
		cfg:        cfg,
		registry:   executor.NewRegistry(env),
		cache:      cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL),
		resources:  manager,
		templates:  env.Templates,
		events:     NoopEvents{},
		log:        log,
		executions: map[string]*Execution{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs wf to completion, fail-fast on the first step failure. The
// returned Execution is always non-nil once the run was admitted; admission
// failures (permissions, bad inputs, exhausted slots) return only an error.
func (e *Engine) Execute(ctx context.Context, wf *workflow.Config, inputs core.Input, secCtx *security.Context, opts RunOptions) (*Execution, error) {
	if !secCtx.HasPermission(security.PermWorkflowExecute) {
		secCtx.LogSecurityEvent("workflow execution denied for " + wf.Name)
		return nil, core.NewSecurityError(secCtx.Profile.String(),
			"missing permission: %s", security.PermWorkflowExecute)
	}
	resolved, err := e.resolveInputs(wf, inputs, secCtx)
	if err != nil {
		return nil, err
	}
	if opts.ResumeFrom != "" {
		if _, ok := wf.StepByID(opts.ResumeFrom); !ok {
			return nil, core.NewValidationError("resume step not found: %s", opts.ResumeFrom)
		}
	}

	execution := &Execution{
		ID:           opts.ExecutionID,
		WorkflowName: wf.Name,
		Status:       core.WorkflowStatusRunning,
		StartedAt:    time.Now().UTC(),
		Inputs:       core.Input(core.RedactMap(resolved)),
		StepResults:  map[string]*core.StepResult{},
		StepOrder:    append([]string(nil), wf.ExecutionOrder...),
	}
	if execution.ID == "" {
		execution.ID = uuid.NewString()
	}
	e.register(execution)

	if opts.DryRun || !secCtx.Profile.AllowExecution() {
		return e.plan(execution, wf), nil
	}

	if err := e.resources.Allocate(secCtx); err != nil {
		e.mu.Lock()
		execution.Status = core.WorkflowStatusFailed
		execution.Error = err.Error()
		execution.CompletedAt = time.Now().UTC()
		e.mu.Unlock()
		return execution, err
	}
	defer e.resources.Release()

	timeout := wf.Timeout
	if max := e.cfg.Limits.MaxWorkflowDuration; max > 0 && timeout > max {
		timeout = max
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.events.WorkflowStarted(execution.ID, wf)
	e.log.Info("workflow started",
		"execution_id", execution.ID, "workflow", wf.Name, "steps", len(wf.ExecutionOrder))

	err = e.runSteps(runCtx, wf, resolved, secCtx, execution, opts)
	e.mu.Lock()
	execution.CompletedAt = time.Now().UTC()
	if err == nil {
		execution.Status = core.WorkflowStatusCompleted
	}
	e.mu.Unlock()
	if err == nil {
		e.log.Info("workflow completed",
			"execution_id", execution.ID, "duration", execution.CompletedAt.Sub(execution.StartedAt))
	}
	e.events.WorkflowFinished(execution)
	return execution, err
}

// GetExecution returns a snapshot of a previously started execution. The
// snapshot is detached; concurrent readers never observe the live record.
func (e *Engine) GetExecution(id string) (*Execution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.executions[id]
	if !ok {
		return nil, false
	}
	return exec.clone(), true
}

// ListExecutions returns a snapshot of every known execution.
func (e *Engine) ListExecutions() []*Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Execution, 0, len(e.executions))
	for _, exec := range e.executions {
		out = append(out, exec.clone())
	}
	return out
}

// StartCacheSweeper runs background TTL sweeping until ctx is canceled.
func (e *Engine) StartCacheSweeper(ctx context.Context, interval time.Duration) {
	go e.cache.Sweep(ctx, interval)
}

func (e *Engine) register(execution *Execution) {
	e.mu.Lock()
	e.executions[execution.ID] = execution
	e.mu.Unlock()
}

// plan records the execution order without running anything: the dry-run and
// plan_only path.
func (e *Engine) plan(execution *Execution, wf *workflow.Config) *Execution {
	e.mu.Lock()
	execution.DryRun = true
	for _, stepID := range wf.ExecutionOrder {
		result := core.NewStepResult(stepID)
		result.SetStatus(core.StepStatusSkipped, nil, "")
		execution.StepResults[stepID] = result
	}
	execution.Status = core.WorkflowStatusCompleted
	execution.CompletedAt = time.Now().UTC()
	e.mu.Unlock()
	e.log.Info("workflow planned", "execution_id", execution.ID, "workflow", wf.Name)
	return execution
}

// clone deep-copies an execution record so callers cannot mutate, or race
// with, the engine's copy.
func (x *Execution) clone() *Execution {
	c := *x
	c.StepOrder = append([]string(nil), x.StepOrder...)
	c.StepResults = make(map[string]*core.StepResult, len(x.StepResults))
	for id, res := range x.StepResults {
		c.StepResults[id] = res.Clone()
	}
	if x.Inputs != nil {
		c.Inputs = make(core.Input, len(x.Inputs))
		for k, v := range x.Inputs {
			c.Inputs[k] = v
		}
	}
	if x.Outputs != nil {
		c.Outputs = make(core.Output, len(x.Outputs))
		for k, v := range x.Outputs {
			c.Outputs[k] = v
		}
	}
	return &c
}

func (e *Engine) runSteps(ctx context.Context, wf *workflow.Config, inputs core.Input, secCtx *security.Context, execution *Execution, opts RunOptions) error {
	execCtx := map[string]any{
		"inputs": map[string]any(inputs),
		"env":    toAnyMap(wf.Environment),
		"workflow": map[string]any{
			"name":         wf.Name,
			"version":      wf.Version,
			"execution_id": execution.ID,
		},
		"steps": map[string]any{},
	}

	resuming := opts.ResumeFrom != ""
	for index, stepID := range wf.ExecutionOrder {
		step, _ := wf.StepByID(stepID)

		if resuming {
			if stepID == opts.ResumeFrom {
				resuming = false
			} else {
				result := core.NewStepResult(stepID)
				result.SetStatus(core.StepStatusSkipped, nil, "skipped on resume")
				e.record(execution, execCtx, result)
				continue
			}
		}

		if ctx.Err() == context.DeadlineExceeded {
			result := core.NewStepResult(stepID)
			result.SetStatus(core.StepStatusTimeout, nil, "workflow deadline exceeded")
			e.record(execution, execCtx, result)
			return e.fail(execution, core.WorkflowStatusTimeout,
				core.NewWorkflowTimeoutError(wf.Name, "deadline exceeded before step %s", stepID))
		}

		if skip, reason := e.whenGate(step, execCtx); skip {
			result := core.NewStepResult(stepID)
			result.SetStatus(core.StepStatusSkipped, nil, reason)
			e.record(execution, execCtx, result)
			e.log.Debug("step skipped", "execution_id", execution.ID, "step", stepID, "reason", reason)
			continue
		}

		cacheKey := ""
		useCache := step.Cache.IsEnabled() && !opts.NoCache
		if useCache {
			cacheKey = workflow.CacheKey(step, inputs, execCtx)
			if outputs, hit := e.cache.Get(cacheKey); hit {
				result := core.NewStepResult(stepID)
				result.Cached = true
				result.CacheKey = cacheKey
				result.SetStatus(core.StepStatusCached, outputs, "")
				e.record(execution, execCtx, result)
				e.events.StepFinished(execution.ID, result)
				e.log.Debug("step served from cache", "execution_id", execution.ID, "step", stepID)
				continue
			}
		}

		e.events.StepStarted(execution.ID, stepID, step.Kind, index)
		result := e.registry.Execute(ctx, step, execCtx, secCtx)
		result.CacheKey = cacheKey
		e.record(execution, execCtx, result)
		e.events.StepFinished(execution.ID, result)

		switch result.Status {
		case core.StepStatusCompleted:
			if useCache {
				e.cache.Put(cacheKey, result.Outputs, step.Cache.TTL)
			}
		case core.StepStatusTimeout:
			if ctx.Err() == context.DeadlineExceeded {
				return e.fail(execution, core.WorkflowStatusTimeout,
					core.NewWorkflowTimeoutError(wf.Name, "deadline exceeded during step %s", stepID))
			}
			return e.fail(execution, core.WorkflowStatusFailed,
				fmt.Errorf("step %s timed out", stepID))
		case core.StepStatusFailed:
			err := errors.New(result.Error)
			if isSecurityFailure(result) {
				e.events.SecurityViolation(execution.ID, stepID, err)
			}
			return e.fail(execution, core.WorkflowStatusFailed,
				fmt.Errorf("step %s failed: %s", stepID, result.Error))
		}
	}

	outputs := e.extractOutputs(wf, execCtx)
	e.mu.Lock()
	execution.Outputs = outputs
	e.mu.Unlock()
	return nil
}

func (e *Engine) record(execution *Execution, execCtx map[string]any, result *core.StepResult) {
	e.mu.Lock()
	execution.StepResults[result.StepID] = result
	e.mu.Unlock()
	steps := execCtx["steps"].(map[string]any)
	steps[result.StepID] = result.AsContextValue()
}

func (e *Engine) fail(execution *Execution, status core.WorkflowStatus, err error) error {
	e.mu.Lock()
	execution.Status = status
	execution.Error = core.RedactError(err)
	e.mu.Unlock()
	e.log.Error("workflow failed",
		"execution_id", execution.ID, "status", status, "error", execution.Error)
	return err
}

// whenGate evaluates a step's when condition leniently: an unevaluable gate
// skips the step instead of failing the run.
func (e *Engine) whenGate(step *workflow.Step, execCtx map[string]any) (skip bool, reason string) {
	if step.When == "" {
		return false, ""
	}
	rendered := e.templates.Render(step.When, execCtx)
	ok, err := e.templates.Evaluate(rendered, execCtx)
	if err != nil {
		return true, "when condition not evaluable"
	}
	if !ok {
		return true, "when condition false"
	}
	return false, ""
}

// resolveInputs applies declared defaults, enforces required inputs and
// validates every string value under the caller's profile.
func (e *Engine) resolveInputs(wf *workflow.Config, inputs core.Input, secCtx *security.Context) (core.Input, error) {
	validator := security.NewValidator(secCtx.Profile)
	resolved := core.Input{}
	for k, v := range inputs {
		if _, declared := wf.InputByName(k); !declared {
			return nil, core.NewValidationError("unknown input: %s", k)
		}
		resolved[k] = v
	}
	for _, decl := range wf.Inputs {
		if _, ok := resolved[decl.Name]; !ok {
			if decl.Default != nil {
				resolved[decl.Name] = decl.Default
				continue
			}
			if decl.Required {
				return nil, core.NewValidationError("missing required input: %s", decl.Name)
			}
		}
	}
	for k, v := range resolved {
		if s, ok := v.(string); ok {
			if err := validator.ValidateString(s, "input "+k); err != nil {
				secCtx.LogSecurityEvent("blocked workflow input " + k)
				return nil, err
			}
		}
	}
	return resolved, nil
}

// extractOutputs resolves each declared workflow output from the finished
// step results. Unresolvable references are logged and omitted, never fatal.
func (e *Engine) extractOutputs(wf *workflow.Config, execCtx map[string]any) core.Output {
	if len(wf.Outputs) == 0 {
		return nil
	}
	outputs := core.Output{}
	for name, out := range wf.Outputs {
		value, found := e.templates.Resolve("steps."+out.From, execCtx)
		if !found {
			e.log.Warn("workflow output not resolvable", "output", name, "from", out.From)
			continue
		}
		outputs[name] = value
	}
	return core.Output(core.RedactMap(outputs))
}

func isSecurityFailure(result *core.StepResult) bool {
	return len(result.Error) >= 18 && result.Error[:18] == "security violation"
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
