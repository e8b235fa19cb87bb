package workflow

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/flowmatic/flowmatic/engine/core"
)

const (
	defaultStepTimeout     = 5 * time.Minute
	defaultWorkflowTimeout = time.Hour
)

// Parser reads structured workflow data, builds the validated step table and
// dependency graph, and computes the deterministic execution order.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// ParseFile parses a workflow YAML file.
func (p *Parser) ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.NewParseError(fmt.Sprintf("workflow file not found: %s", path), err)
	}
	return p.Parse(data)
}

// Parse parses workflow YAML bytes.
func (p *Parser) Parse(data []byte) (*Config, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, core.NewParseError("invalid YAML", err)
	}
	return p.ParseMap(raw)
}

// ParseMap parses an already-decoded workflow definition.
func (p *Parser) ParseMap(raw map[string]any) (*Config, error) {
	var def rawDefinition
	if err := decode(raw, &def); err != nil {
		return nil, core.NewParseError("malformed workflow definition", err)
	}
	if def.Name == "" {
		return nil, core.NewValidationError("workflow name is required")
	}
	if def.Version == "" {
		return nil, core.NewValidationError("workflow version is required")
	}
	if len(def.Steps) == 0 {
		return nil, core.NewValidationError("workflow must have at least one step")
	}

	wf := &Config{
		Name:        def.Name,
		Version:     def.Version,
		Description: def.Description,
		Author:      def.Author,
		Tags:        def.Tags,
		Environment: def.Environment,
		Outputs:     map[string]Output{},
		index:       map[string]*Step{},
	}
	var err error
	if wf.Timeout, err = parseTimeout(def.Timeout, defaultWorkflowTimeout); err != nil {
		return nil, core.NewValidationError("invalid workflow timeout: %v", err)
	}
	if wf.Retry, err = parseRetry(def.Retry); err != nil {
		return nil, core.NewValidationError("invalid workflow retry policy: %v", err)
	}
	if wf.Cache, err = parseCache(def.Cache); err != nil {
		return nil, core.NewValidationError("invalid workflow cache policy: %v", err)
	}

	for name, in := range def.Inputs {
		wf.Inputs = append(wf.Inputs, Input{
			Name:        name,
			Type:        in.Type,
			Description: in.Description,
			Required:    in.Required,
			Default:     in.Default,
		})
	}
	sort.Slice(wf.Inputs, func(i, j int) bool { return wf.Inputs[i].Name < wf.Inputs[j].Name })

	for name, out := range def.Outputs {
		wf.Outputs[name] = Output{Name: name, From: out.From}
	}

	for _, stepData := range def.Steps {
		step, err := p.parseStep(stepData, wf, nil)
		if err != nil {
			return nil, err
		}
		wf.Steps = append(wf.Steps, step)
	}

	if err := p.validateOutputs(wf); err != nil {
		return nil, err
	}
	if err := buildGraph(wf); err != nil {
		return nil, err
	}
	if err := computeExecutionOrder(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// parseStep builds one Step from raw data, recursing into conditional arms.
// ancestors carries the enclosing conditional step ids so nested steps cannot
// reference them.
func (p *Parser) parseStep(data map[string]any, wf *Config, ancestors []string) (*Step, error) {
	var raw rawStep
	if err := decode(data, &raw); err != nil {
		return nil, core.NewParseError("malformed step definition", err)
	}
	if raw.ID == "" {
		return nil, core.NewValidationError("step id is required")
	}
	if raw.Type == "" {
		return nil, core.NewValidationError("step type is required for step %s", raw.ID)
	}
	kind := core.StepKind(raw.Type)
	if !kind.Valid() {
		return nil, core.NewValidationError("unknown step type %q for step %s", raw.Type, raw.ID)
	}
	if _, exists := wf.index[raw.ID]; exists {
		return nil, core.NewValidationError("duplicate step id: %s", raw.ID)
	}

	step := &Step{
		ID:          raw.ID,
		Kind:        kind,
		Name:        raw.Name,
		Description: raw.Description,
		When:        raw.When,
		Inputs:      raw.Inputs,
		Outputs:     map[string]StepOutput{},
	}
	var err error
	if step.Timeout, err = parseTimeout(raw.Timeout, defaultStepTimeout); err != nil {
		return nil, core.NewValidationError("invalid timeout for step %s: %v", raw.ID, err)
	}
	if step.Retry, err = parseRetry(raw.Retry); err != nil {
		return nil, core.NewValidationError("invalid retry policy for step %s: %v", raw.ID, err)
	}
	if step.Cache, err = parseCache(raw.Cache); err != nil {
		return nil, core.NewValidationError("invalid cache policy for step %s: %v", raw.ID, err)
	}
	if step.DependsOn, err = parseDependsOn(raw.DependsOn); err != nil {
		return nil, core.NewValidationError("invalid depends_on for step %s: %v", raw.ID, err)
	}
	for _, dep := range step.DependsOn {
		for _, anc := range ancestors {
			if dep == anc {
				return nil, core.NewValidationError(
					"nested step %s must not depend on ancestor step %s", raw.ID, anc)
			}
		}
	}
	parseStepOutputs(step, raw.Outputs)

	wf.index[raw.ID] = step

	switch kind {
	case core.StepShell:
		if raw.Command == "" {
			return nil, core.NewValidationError("shell step %s requires command", raw.ID)
		}
		step.Shell = &ShellSpec{
			Command:          raw.Command,
			WorkingDirectory: raw.WorkingDirectory,
			Environment:      raw.Environment,
		}
	case core.StepAssert:
		if raw.Condition == "" {
			return nil, core.NewValidationError("assert step %s requires condition", raw.ID)
		}
		onFailure := raw.OnFailure
		if onFailure == "" {
			onFailure = AssertFail
		}
		switch onFailure {
		case AssertFail, AssertWarn, AssertContinue:
		default:
			return nil, core.NewValidationError(
				"assert step %s has unknown on_failure policy %q", raw.ID, onFailure)
		}
		step.Assert = &AssertSpec{Condition: raw.Condition, Message: raw.Message, OnFailure: onFailure}
	case core.StepTemplate:
		if raw.Template == "" || raw.Output == "" {
			return nil, core.NewValidationError("template step %s requires template and output", raw.ID)
		}
		step.Template = &TemplateSpec{Template: raw.Template, Output: raw.Output}
	case core.StepWebhook:
		if raw.URL == "" {
			return nil, core.NewValidationError("webhook step %s requires url", raw.ID)
		}
		method := strings.ToUpper(raw.Method)
		if method == "" {
			method = "POST"
		}
		switch method {
		case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS":
		default:
			return nil, core.NewValidationError(
				"webhook step %s has unknown http method %q", raw.ID, raw.Method)
		}
		step.Webhook = &WebhookSpec{URL: raw.URL, Method: method, Headers: raw.Headers, Body: raw.Body}
	case core.StepConditional:
		if raw.Condition == "" {
			return nil, core.NewValidationError("conditional step %s requires condition", raw.ID)
		}
		spec := &ConditionalSpec{Condition: raw.Condition}
		nestedAncestors := append(append([]string(nil), ancestors...), raw.ID)
		for _, nested := range raw.ThenSteps {
			ns, err := p.parseStep(nested, wf, nestedAncestors)
			if err != nil {
				return nil, err
			}
			spec.Then = append(spec.Then, ns)
		}
		for _, nested := range raw.ElseSteps {
			ns, err := p.parseStep(nested, wf, nestedAncestors)
			if err != nil {
				return nil, err
			}
			spec.Else = append(spec.Else, ns)
		}
		step.Conditional = spec
	}
	return step, nil
}

// validateOutputs checks every workflow output reference resolves to a known
// step id.
func (p *Parser) validateOutputs(wf *Config) error {
	for name, out := range wf.Outputs {
		if out.From == "" {
			return core.NewValidationError("output %s requires a from reference", name)
		}
		stepID := strings.SplitN(out.From, ".", 2)[0]
		if _, ok := wf.index[stepID]; !ok {
			return core.NewValidationError("output %s references unknown step: %s", name, stepID)
		}
	}
	return nil
}

// Lint returns non-fatal issues: step input templates that reference unknown
// step outputs.
func (p *Parser) Lint(wf *Config) []string {
	var issues []string
	for _, step := range wf.Steps {
		for inputName, inputValue := range step.Inputs {
			s, ok := inputValue.(string)
			if !ok || !strings.Contains(s, ".outputs.") {
				continue
			}
			for _, ref := range templateStepRefs(s) {
				if _, known := wf.index[ref]; !known {
					issues = append(issues, fmt.Sprintf(
						"step %s input %s references unknown step: %s", step.ID, inputName, ref))
				}
			}
		}
	}
	return issues
}

func templateStepRefs(s string) []string {
	var refs []string
	for _, part := range strings.Split(s, ".outputs.") {
		fields := strings.FieldsFunc(part, func(r rune) bool {
			return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
		})
		if len(fields) > 0 {
			refs = append(refs, fields[len(fields)-1])
		}
	}
	if len(refs) > 1 {
		refs = refs[:len(refs)-1]
	}
	return refs
}

// -----------------------------------------------------------------------------
// Raw decoding
// -----------------------------------------------------------------------------

type rawDefinition struct {
	Name        string               `mapstructure:"name"`
	Version     string               `mapstructure:"version"`
	Description string               `mapstructure:"description"`
	Author      string               `mapstructure:"author"`
	Tags        []string             `mapstructure:"tags"`
	Inputs      map[string]rawInput  `mapstructure:"inputs"`
	Outputs     map[string]rawOutput `mapstructure:"outputs"`
	Environment map[string]string    `mapstructure:"environment"`
	Timeout     any                  `mapstructure:"timeout"`
	Retry       rawRetry             `mapstructure:"retry"`
	Cache       rawCache             `mapstructure:"cache"`
	Steps       []map[string]any     `mapstructure:"steps"`
}

type rawInput struct {
	Type        string `mapstructure:"type"`
	Description string `mapstructure:"description"`
	Required    bool   `mapstructure:"required"`
	Default     any    `mapstructure:"default"`
}

type rawOutput struct {
	From string `mapstructure:"from"`
}

type rawRetry struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	Delay       any `mapstructure:"delay"`
}

type rawCache struct {
	Enabled *bool  `mapstructure:"enabled"`
	Key     string `mapstructure:"key"`
	TTL     any    `mapstructure:"ttl"`
}

type rawStep struct {
	ID          string         `mapstructure:"id"`
	Type        string         `mapstructure:"type"`
	Name        string         `mapstructure:"name"`
	Description string         `mapstructure:"description"`
	DependsOn   any            `mapstructure:"depends_on"`
	When        string         `mapstructure:"when"`
	Timeout     any            `mapstructure:"timeout"`
	Retry       rawRetry       `mapstructure:"retry"`
	Cache       rawCache       `mapstructure:"cache"`
	Inputs      map[string]any `mapstructure:"inputs"`
	Outputs     map[string]any `mapstructure:"outputs"`

	Command          string            `mapstructure:"command"`
	WorkingDirectory string            `mapstructure:"working_directory"`
	Environment      map[string]string `mapstructure:"environment"`

	Condition string `mapstructure:"condition"`
	Message   string `mapstructure:"message"`
	OnFailure string `mapstructure:"on_failure"`

	Template string `mapstructure:"template"`
	Output   string `mapstructure:"output"`

	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
	Body    string            `mapstructure:"body"`

	ThenSteps []map[string]any `mapstructure:"then_steps"`
	ElseSteps []map[string]any `mapstructure:"else_steps"`
}

func decode(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// parseTimeout accepts an integer (seconds) or a duration string ("90s",
// "5m").
func parseTimeout(v any, def time.Duration) (time.Duration, error) {
	switch t := v.(type) {
	case nil:
		return def, nil
	case int:
		return time.Duration(t) * time.Second, nil
	case int64:
		return time.Duration(t) * time.Second, nil
	case uint64:
		return time.Duration(t) * time.Second, nil
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	case string:
		if secs, err := strconv.Atoi(t); err == nil {
			return time.Duration(secs) * time.Second, nil
		}
		d, err := str2duration.ParseDuration(t)
		if err != nil {
			return 0, fmt.Errorf("cannot parse duration %q", t)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("unsupported duration value %v", v)
	}
}

func parseRetry(raw rawRetry) (RetryPolicy, error) {
	delay, err := parseTimeout(raw.Delay, 0)
	if err != nil {
		return RetryPolicy{}, err
	}
	if raw.MaxAttempts < 0 {
		return RetryPolicy{}, fmt.Errorf("max_attempts must be non-negative")
	}
	return RetryPolicy{MaxAttempts: raw.MaxAttempts, Delay: delay}, nil
}

func parseCache(raw rawCache) (CachePolicy, error) {
	ttl, err := parseTimeout(raw.TTL, 0)
	if err != nil {
		return CachePolicy{}, err
	}
	return CachePolicy{Enabled: raw.Enabled, Key: raw.Key, TTL: ttl}, nil
}

// parseDependsOn accepts a single id or a list of ids.
func parseDependsOn(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("dependency ids must be strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("depends_on must be a string or list of strings")
	}
}

// parseStepOutputs accepts either {name: {type, from}} objects or plain
// string values.
func parseStepOutputs(step *Step, raw map[string]any) {
	for name, cfg := range raw {
		switch t := cfg.(type) {
		case map[string]any:
			var out rawStepOutput
			if err := decode(t, &out); err == nil {
				step.Outputs[name] = StepOutput{
					Name: name, Type: out.Type, Description: out.Description, From: out.From,
				}
				continue
			}
			step.Outputs[name] = StepOutput{Name: name, Type: "string"}
		default:
			step.Outputs[name] = StepOutput{Name: name, Type: "string", From: fmt.Sprintf("%v", t)}
		}
	}
}

type rawStepOutput struct {
	Type        string `mapstructure:"type"`
	Description string `mapstructure:"description"`
	From        string `mapstructure:"from"`
}
