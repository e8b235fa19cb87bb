package core

import "fmt"

// -----------------------------------------------------------------------------
// Error taxonomy
// -----------------------------------------------------------------------------

// ParseError reports malformed workflow source (bad YAML, missing file).
type ParseError struct {
	Msg string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("parse error: %s", e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

func NewParseError(msg string, err error) *ParseError {
	return &ParseError{Msg: msg, Err: err}
}

// ValidationError reports a structurally invalid definition: duplicate ids,
// unresolved references, missing required fields, dependency cycles.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Msg)
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// SecurityError reports a rejected input, command, template, path, or a
// permission denial. Reason is safe to surface to callers; it never contains
// matched pattern text or secret values.
type SecurityError struct {
	Reason  string
	Profile string
}

func (e *SecurityError) Error() string {
	if e.Profile != "" {
		return fmt.Sprintf("security violation (%s profile): %s", e.Profile, e.Reason)
	}
	return fmt.Sprintf("security violation: %s", e.Reason)
}

func NewSecurityError(profile, format string, args ...any) *SecurityError {
	return &SecurityError{Profile: profile, Reason: fmt.Sprintf(format, args...)}
}

// ResourceExhaustionError reports that the allocation ceiling was reached.
type ResourceExhaustionError struct {
	Msg string
}

func (e *ResourceExhaustionError) Error() string {
	return fmt.Sprintf("resource exhaustion: %s", e.Msg)
}

func NewResourceExhaustionError(format string, args ...any) *ResourceExhaustionError {
	return &ResourceExhaustionError{Msg: fmt.Sprintf(format, args...)}
}

// WorkflowTimeoutError reports that the overall execution deadline passed.
type WorkflowTimeoutError struct {
	Workflow string
	Msg      string
}

func (e *WorkflowTimeoutError) Error() string {
	return fmt.Sprintf("workflow %q timed out: %s", e.Workflow, e.Msg)
}

func NewWorkflowTimeoutError(workflow, format string, args ...any) *WorkflowTimeoutError {
	return &WorkflowTimeoutError{Workflow: workflow, Msg: fmt.Sprintf(format, args...)}
}
