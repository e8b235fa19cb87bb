package executor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/engine/security"
	"github.com/flowmatic/flowmatic/engine/workflow"
)

const maxWebhookResponseBytes = 64 * 1024

// WebhookExecutor performs one outbound HTTP call. URL, headers and body are
// rendered against the execution context and validated first; the response
// body is redacted and truncated before it enters the outputs map.
type WebhookExecutor struct {
	env    *Env
	client *resty.Client
}

func NewWebhookExecutor(env *Env) *WebhookExecutor {
	timeout := 30 * time.Second
	if env.MaxStepDuration > 0 && env.MaxStepDuration < timeout {
		timeout = env.MaxStepDuration
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "flowmatic").
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(3))
	return &WebhookExecutor{env: env, client: client}
}

func (e *WebhookExecutor) Kind() core.StepKind {
	return core.StepWebhook
}

func (e *WebhookExecutor) Execute(ctx context.Context, step *workflow.Step, execCtx map[string]any, secCtx *security.Context) *core.StepResult {
	result := core.NewStepResult(step.ID)
	spec := step.Webhook

	if !secCtx.Profile.AllowExecution() {
		result.SetFailed(core.NewSecurityError(secCtx.Profile.String(),
			"profile does not permit step execution"))
		return result
	}

	target, err := e.env.Templates.RenderStrict(spec.URL, execCtx)
	if err != nil {
		result.SetFailed(err)
		return result
	}
	if err := e.validateURL(target, secCtx); err != nil {
		secCtx.LogSecurityEvent("blocked webhook url in step " + step.ID)
		result.SetFailed(err)
		return result
	}

	req := e.client.R().SetContext(ctx)
	for key, value := range spec.Headers {
		rendered := e.env.Templates.Render(value, execCtx)
		if err := e.env.Validator.ValidateString(rendered, "webhook header "+key); err != nil {
			result.SetFailed(err)
			return result
		}
		req.SetHeader(key, rendered)
	}
	if spec.Body != "" {
		body, err := e.env.Templates.RenderStrict(spec.Body, execCtx)
		if err != nil {
			result.SetFailed(err)
			return result
		}
		if err := e.env.Validator.ValidateString(body, "webhook body"); err != nil {
			result.SetFailed(err)
			return result
		}
		req.SetBody(body)
	}

	resp, err := req.Execute(spec.Method, target)
	if err != nil {
		result.SetFailed(fmt.Errorf("webhook request failed: %w", err))
		return result
	}

	body := resp.String()
	if len(body) > maxWebhookResponseBytes {
		body = body[:maxWebhookResponseBytes]
	}
	outputs := core.Output{
		"status_code": resp.StatusCode(),
		"body":        core.RedactOutput(body),
		"duration_ms": resp.Time().Milliseconds(),
	}
	if resp.IsError() {
		result.SetStatus(core.StepStatusFailed, outputs,
			fmt.Sprintf("webhook returned status %d", resp.StatusCode()))
		return result
	}
	result.SetCompleted(outputs)
	return result
}

// validateURL rejects non-HTTP schemes and anything matching the blocked
// pattern sets.
func (e *WebhookExecutor) validateURL(raw string, secCtx *security.Context) error {
	if err := e.env.Validator.ValidateString(raw, "webhook url"); err != nil {
		return err
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return core.NewSecurityError(secCtx.Profile.String(), "invalid webhook url")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return core.NewSecurityError(secCtx.Profile.String(),
			"webhook url scheme %q not allowed", scheme)
	}
	if parsed.Host == "" {
		return core.NewSecurityError(secCtx.Profile.String(), "webhook url has no host")
	}
	return nil
}
