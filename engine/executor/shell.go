package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/engine/security"
	"github.com/flowmatic/flowmatic/engine/workflow"
)

// baseEnvKeys is the allow-list of host environment variables a shell step
// inherits. Everything else must come from the step's validated environment
// block.
var baseEnvKeys = []string{"PATH", "HOME", "USER", "SHELL", "LANG"}

// ShellExecutor runs commands without a shell interpreter. The command is
// validated before and after template rendering, split into argv directly,
// and executed with a minimal environment.
type ShellExecutor struct {
	env *Env
}

func NewShellExecutor(env *Env) *ShellExecutor {
	return &ShellExecutor{env: env}
}

func (e *ShellExecutor) Kind() core.StepKind {
	return core.StepShell
}

func (e *ShellExecutor) Execute(ctx context.Context, step *workflow.Step, execCtx map[string]any, secCtx *security.Context) *core.StepResult {
	result := core.NewStepResult(step.ID)
	spec := step.Shell

	if !secCtx.Profile.AllowExecution() {
		result.SetFailed(core.NewSecurityError(secCtx.Profile.String(),
			"profile does not permit step execution"))
		return result
	}
	if !secCtx.HasPermission(security.PermShellExecute) {
		secCtx.LogSecurityEvent("shell execution denied for step " + step.ID)
		result.SetFailed(core.NewSecurityError(secCtx.Profile.String(),
			"missing permission: %s", security.PermShellExecute))
		return result
	}

	if err := e.env.Validator.ValidateShellCommand(spec.Command); err != nil {
		secCtx.LogSecurityEvent("blocked shell command in step " + step.ID)
		result.SetFailed(err)
		return result
	}
	rendered, err := e.env.Templates.RenderStrict(spec.Command, execCtx)
	if err != nil {
		result.SetFailed(err)
		return result
	}
	// Rendered values may have smuggled in metacharacters; check again.
	if err := e.env.Validator.ValidateShellCommand(rendered); err != nil {
		secCtx.LogSecurityEvent("blocked rendered shell command in step " + step.ID)
		result.SetFailed(err)
		return result
	}

	argv, err := shlex.Split(rendered)
	if err != nil {
		result.SetFailed(fmt.Errorf("cannot tokenize command: %w", err))
		return result
	}
	if len(argv) == 0 {
		result.SetFailed(errors.New("empty command"))
		return result
	}

	timeout := step.Timeout
	if e.env.MaxStepDuration > 0 && timeout > e.env.MaxStepDuration {
		timeout = e.env.MaxStepDuration
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Env = e.buildEnv(spec.Environment, execCtx, result)
	if result.Status.Terminal() {
		return result
	}
	if spec.WorkingDirectory != "" {
		dir, err := e.env.Validator.ValidatePath(spec.WorkingDirectory)
		if err != nil {
			result.SetFailed(err)
			return result
		}
		cmd.Dir = filepath.Join(e.env.Workspace, dir)
	} else {
		cmd.Dir = e.env.Workspace
	}
	if err := os.MkdirAll(cmd.Dir, 0o755); err != nil {
		result.SetFailed(fmt.Errorf("cannot prepare working directory: %w", err))
		return result
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Start()
	if runErr == nil {
		if e.env.LimitProcess != nil {
			e.env.LimitProcess(cmd.Process.Pid, secCtx)
		}
		runErr = cmd.Wait()
	}
	elapsed := time.Since(start)

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	result.ExitCode = &exitCode

	trimmed := strings.TrimSpace(stdout.String())
	outputs := core.Output{
		"stdout":    core.RedactOutput(trimmed),
		"stderr":    core.RedactOutput(strings.TrimSpace(stderr.String())),
		"exit_code": exitCode,
	}
	for name := range step.Outputs {
		if _, taken := outputs[name]; !taken {
			outputs[name] = core.RedactOutput(trimmed)
		}
	}

	if runCtx.Err() == context.DeadlineExceeded {
		e.env.Log.Warn("shell step timed out", "step", step.ID, "timeout", timeout)
		result.SetStatus(core.StepStatusTimeout, outputs,
			fmt.Sprintf("command timed out after %s", timeout))
		return result
	}
	if runErr != nil {
		e.env.Log.Debug("shell step failed",
			"step", step.ID, "exit_code", exitCode, "elapsed", elapsed)
		result.SetStatus(core.StepStatusFailed, outputs, core.RedactError(runErr))
		return result
	}
	result.SetCompleted(outputs)
	return result
}

// buildEnv assembles the child environment: the host allow-list plus the
// step's validated environment block. On a validation failure the result is
// finalized and the caller stops.
func (e *ShellExecutor) buildEnv(extra map[string]string, execCtx map[string]any, result *core.StepResult) []string {
	env := make([]string, 0, len(baseEnvKeys)+len(extra))
	for _, key := range baseEnvKeys {
		if value, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+value)
		}
	}
	for key, value := range extra {
		rendered := e.env.Templates.Render(value, execCtx)
		if err := e.env.Validator.ValidateString(rendered, "environment variable "+key); err != nil {
			result.SetFailed(err)
			return nil
		}
		env = append(env, key+"="+rendered)
	}
	return env
}
