package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/engine/security"
	"github.com/flowmatic/flowmatic/engine/workflow"
)

// TemplateExecutor renders a template body and writes it to a file under the
// sandbox workspace. Output paths are validated so the step can never write
// outside the workspace root.
type TemplateExecutor struct {
	env *Env
}

func NewTemplateExecutor(env *Env) *TemplateExecutor {
	return &TemplateExecutor{env: env}
}

func (e *TemplateExecutor) Kind() core.StepKind {
	return core.StepTemplate
}

func (e *TemplateExecutor) Execute(ctx context.Context, step *workflow.Step, execCtx map[string]any, secCtx *security.Context) *core.StepResult {
	result := core.NewStepResult(step.ID)
	spec := step.Template

	if !secCtx.HasPermission(security.PermFileWrite) {
		secCtx.LogSecurityEvent("file write denied for step " + step.ID)
		result.SetFailed(core.NewSecurityError(secCtx.Profile.String(),
			"missing permission: %s", security.PermFileWrite))
		return result
	}

	if err := e.env.Validator.ValidateTemplate(spec.Template); err != nil {
		secCtx.LogSecurityEvent("blocked template body in step " + step.ID)
		result.SetFailed(err)
		return result
	}
	outputPath, err := e.env.Validator.ValidatePath(spec.Output)
	if err != nil {
		secCtx.LogSecurityEvent("blocked template output path in step " + step.ID)
		result.SetFailed(err)
		return result
	}

	rendered, err := e.env.Templates.RenderStrict(spec.Template, execCtx)
	if err != nil {
		result.SetFailed(err)
		return result
	}
	if max := e.env.MaxFileSizeMB; max > 0 && len(rendered) > max*1024*1024 {
		result.SetFailed(fmt.Errorf("rendered template exceeds %d MB", max))
		return result
	}

	target := filepath.Join(e.env.Workspace, outputPath)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		result.SetFailed(fmt.Errorf("cannot create output directory: %w", err))
		return result
	}
	if err := os.WriteFile(target, []byte(rendered), 0o644); err != nil {
		result.SetFailed(fmt.Errorf("cannot write rendered template: %w", err))
		return result
	}

	result.SetCompleted(core.Output{
		"path":       outputPath,
		"size_bytes": len(rendered),
	})
	return result
}
