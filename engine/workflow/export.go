package workflow

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// exportView is the serialization shape for Export. Durations are written
// back as integer seconds so exported files round-trip through the parser.
type exportView struct {
	Name        string            `yaml:"name"`
	Version     string            `yaml:"version"`
	Description string            `yaml:"description,omitempty"`
	Author      string            `yaml:"author,omitempty"`
	Tags        []string          `yaml:"tags,omitempty"`
	Inputs      map[string]any    `yaml:"inputs,omitempty"`
	Outputs     map[string]any    `yaml:"outputs,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Timeout     int               `yaml:"timeout,omitempty"`
	Steps       []map[string]any  `yaml:"steps"`
}

// Export serializes the parsed workflow back to YAML.
func Export(wf *Config) ([]byte, error) {
	view := exportView{
		Name:        wf.Name,
		Version:     wf.Version,
		Description: wf.Description,
		Author:      wf.Author,
		Tags:        wf.Tags,
		Environment: wf.Environment,
		Timeout:     int(wf.Timeout.Seconds()),
	}
	if len(wf.Inputs) > 0 {
		view.Inputs = map[string]any{}
		for _, in := range wf.Inputs {
			entry := map[string]any{}
			if in.Type != "" {
				entry["type"] = in.Type
			}
			if in.Description != "" {
				entry["description"] = in.Description
			}
			if in.Required {
				entry["required"] = true
			}
			if in.Default != nil {
				entry["default"] = in.Default
			}
			view.Inputs[in.Name] = entry
		}
	}
	if len(wf.Outputs) > 0 {
		view.Outputs = map[string]any{}
		for name, out := range wf.Outputs {
			view.Outputs[name] = map[string]any{"from": out.From}
		}
	}
	for _, step := range wf.Steps {
		view.Steps = append(view.Steps, exportStep(step))
	}
	data, err := yaml.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workflow: %w", err)
	}
	return data, nil
}

// ExportFile writes the exported YAML to path.
func ExportFile(wf *Config, path string) error {
	data, err := Export(wf)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write workflow file: %w", err)
	}
	return nil
}

func exportStep(step *Step) map[string]any {
	out := map[string]any{
		"id":   step.ID,
		"type": string(step.Kind),
	}
	if step.Name != "" {
		out["name"] = step.Name
	}
	if step.Description != "" {
		out["description"] = step.Description
	}
	if len(step.DependsOn) > 0 {
		out["depends_on"] = step.DependsOn
	}
	if step.When != "" {
		out["when"] = step.When
	}
	if step.Timeout > 0 && step.Timeout != defaultStepTimeout {
		out["timeout"] = int(step.Timeout.Seconds())
	}
	if step.Retry.MaxAttempts > 0 {
		out["retry"] = map[string]any{
			"max_attempts": step.Retry.MaxAttempts,
			"delay":        int(step.Retry.Delay.Seconds()),
		}
	}
	if step.Cache.Enabled != nil || step.Cache.Key != "" || step.Cache.TTL > 0 {
		cache := map[string]any{}
		if step.Cache.Enabled != nil {
			cache["enabled"] = *step.Cache.Enabled
		}
		if step.Cache.Key != "" {
			cache["key"] = step.Cache.Key
		}
		if step.Cache.TTL > 0 {
			cache["ttl"] = int(step.Cache.TTL.Seconds())
		}
		out["cache"] = cache
	}
	if len(step.Inputs) > 0 {
		out["inputs"] = step.Inputs
	}
	if len(step.Outputs) > 0 {
		outputs := map[string]any{}
		for name, o := range step.Outputs {
			entry := map[string]any{}
			if o.Type != "" {
				entry["type"] = o.Type
			}
			if o.Description != "" {
				entry["description"] = o.Description
			}
			if o.From != "" {
				entry["from"] = o.From
			}
			outputs[name] = entry
		}
		out["outputs"] = outputs
	}
	switch step.Kind {
	case "shell":
		out["command"] = step.Shell.Command
		if step.Shell.WorkingDirectory != "" {
			out["working_directory"] = step.Shell.WorkingDirectory
		}
		if len(step.Shell.Environment) > 0 {
			out["environment"] = step.Shell.Environment
		}
	case "assert":
		out["condition"] = step.Assert.Condition
		if step.Assert.Message != "" {
			out["message"] = step.Assert.Message
		}
		if step.Assert.OnFailure != AssertFail {
			out["on_failure"] = step.Assert.OnFailure
		}
	case "template":
		out["template"] = step.Template.Template
		out["output"] = step.Template.Output
	case "webhook":
		out["url"] = step.Webhook.URL
		out["method"] = step.Webhook.Method
		if len(step.Webhook.Headers) > 0 {
			out["headers"] = step.Webhook.Headers
		}
		if step.Webhook.Body != "" {
			out["body"] = step.Webhook.Body
		}
	case "conditional":
		out["condition"] = step.Conditional.Condition
		if len(step.Conditional.Then) > 0 {
			var nested []map[string]any
			for _, ns := range step.Conditional.Then {
				nested = append(nested, exportStep(ns))
			}
			out["then_steps"] = nested
		}
		if len(step.Conditional.Else) > 0 {
			var nested []map[string]any
			for _, ns := range step.Conditional.Else {
				nested = append(nested, exportStep(ns))
			}
			out["else_steps"] = nested
		}
	}
	return out
}
