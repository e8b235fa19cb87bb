package workflow

import (
	"time"

	"github.com/flowmatic/flowmatic/engine/core"
)

// Config is the in-memory representation of a parsed workflow definition.
// It is constructed once by Parse and read-only afterwards.
type Config struct {
	Name        string            `json:"name"                  yaml:"name"`
	Version     string            `json:"version"               yaml:"version"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Author      string            `json:"author,omitempty"      yaml:"author,omitempty"`
	Tags        []string          `json:"tags,omitempty"        yaml:"tags,omitempty"`
	Inputs      []Input           `json:"inputs,omitempty"      yaml:"inputs,omitempty"`
	Outputs     map[string]Output `json:"outputs,omitempty"     yaml:"outputs,omitempty"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"     yaml:"timeout,omitempty"`
	Retry       RetryPolicy       `json:"retry,omitempty"       yaml:"retry,omitempty"`
	Cache       CachePolicy       `json:"cache,omitempty"       yaml:"cache,omitempty"`
	Steps       []*Step           `json:"steps"                 yaml:"steps"`

	// ExecutionOrder is the topologically sorted step id sequence computed
	// at parse time. Ties break by source declaration order.
	ExecutionOrder []string `json:"execution_order" yaml:"-"`

	graph map[string][]string
	index map[string]*Step
}

// Input declares one workflow input parameter.
type Input struct {
	Name        string `json:"name"                  yaml:"name"`
	Type        string `json:"type,omitempty"        yaml:"type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty"    yaml:"required,omitempty"`
	Default     any    `json:"default,omitempty"     yaml:"default,omitempty"`
}

// Output maps a workflow-level output name to a step output reference of the
// form "stepId.outputs.key".
type Output struct {
	Name string `json:"name" yaml:"name"`
	From string `json:"from" yaml:"from"`
}

// RetryPolicy bounds re-execution of a failed step attempt.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	Delay       time.Duration `json:"delay,omitempty"        yaml:"delay,omitempty"`
}

// CachePolicy controls result caching for a step. Caching defaults to
// enabled when the definition says nothing.
type CachePolicy struct {
	Enabled *bool         `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Key     string        `json:"key,omitempty"     yaml:"key,omitempty"`
	TTL     time.Duration `json:"ttl,omitempty"     yaml:"ttl,omitempty"`
}

// IsEnabled resolves the tri-state Enabled flag.
func (c CachePolicy) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// StepOutput declares one named output a step produces.
type StepOutput struct {
	Name        string `json:"name"                  yaml:"name"`
	Type        string `json:"type,omitempty"        yaml:"type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	From        string `json:"from,omitempty"        yaml:"from,omitempty"`
}

// Step is one unit of work. Exactly one of the kind-specific spec pointers is
// set, selected by Kind.
type Step struct {
	ID          string                `json:"id"                    yaml:"id"`
	Kind        core.StepKind         `json:"type"                  yaml:"type"`
	Name        string                `json:"name,omitempty"        yaml:"name,omitempty"`
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	DependsOn   []string              `json:"depends_on,omitempty"  yaml:"depends_on,omitempty"`
	When        string                `json:"when,omitempty"        yaml:"when,omitempty"`
	Timeout     time.Duration         `json:"timeout,omitempty"     yaml:"timeout,omitempty"`
	Retry       RetryPolicy           `json:"retry,omitempty"       yaml:"retry,omitempty"`
	Cache       CachePolicy           `json:"cache,omitempty"       yaml:"cache,omitempty"`
	Inputs      map[string]any        `json:"inputs,omitempty"      yaml:"inputs,omitempty"`
	Outputs     map[string]StepOutput `json:"outputs,omitempty"     yaml:"outputs,omitempty"`

	Shell       *ShellSpec       `json:"shell,omitempty"       yaml:"shell,omitempty"`
	Assert      *AssertSpec      `json:"assert,omitempty"      yaml:"assert,omitempty"`
	Template    *TemplateSpec    `json:"template,omitempty"    yaml:"template,omitempty"`
	Webhook     *WebhookSpec     `json:"webhook,omitempty"     yaml:"webhook,omitempty"`
	Conditional *ConditionalSpec `json:"conditional,omitempty" yaml:"conditional,omitempty"`
}

// ShellSpec configures a shell step.
type ShellSpec struct {
	Command          string            `json:"command"                     yaml:"command"`
	WorkingDirectory string            `json:"working_directory,omitempty" yaml:"working_directory,omitempty"`
	Environment      map[string]string `json:"environment,omitempty"       yaml:"environment,omitempty"`
}

// AssertOnFailure policies.
const (
	AssertFail     = "fail"
	AssertWarn     = "warn"
	AssertContinue = "continue"
)

// AssertSpec configures an assertion step.
type AssertSpec struct {
	Condition string `json:"condition"            yaml:"condition"`
	Message   string `json:"message,omitempty"    yaml:"message,omitempty"`
	OnFailure string `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`
}

// TemplateSpec configures a template rendering step. Output is the
// destination path, always resolved under the sandbox workspace root.
type TemplateSpec struct {
	Template string `json:"template" yaml:"template"`
	Output   string `json:"output"   yaml:"output"`
}

// WebhookSpec configures an outbound HTTP call step.
type WebhookSpec struct {
	URL     string            `json:"url"               yaml:"url"`
	Method  string            `json:"method,omitempty"  yaml:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `json:"body,omitempty"    yaml:"body,omitempty"`
}

// ConditionalSpec configures a conditional branch step. Then and Else arms
// are nested step lists executed sequentially against the shared context.
type ConditionalSpec struct {
	Condition string  `json:"condition"            yaml:"condition"`
	Then      []*Step `json:"then_steps,omitempty" yaml:"then_steps,omitempty"`
	Else      []*Step `json:"else_steps,omitempty" yaml:"else_steps,omitempty"`
}

// StepByID returns a step from the id-addressed table, which includes nested
// conditional steps.
func (w *Config) StepByID(id string) (*Step, bool) {
	s, ok := w.index[id]
	return s, ok
}

// DependencyGraph returns a copy of the adjacency map (step id → dependency
// ids).
func (w *Config) DependencyGraph() map[string][]string {
	out := make(map[string][]string, len(w.graph))
	for id, deps := range w.graph {
		out[id] = append([]string(nil), deps...)
	}
	return out
}

// InputByName returns the declared workflow input, if any.
func (w *Config) InputByName(name string) (Input, bool) {
	for _, in := range w.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return Input{}, false
}
