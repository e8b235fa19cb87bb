package core

import (
	"sync"
	"time"
)

// StepResult records one step's execution. It is created at step start and
// finalized exactly once; after finalization the struct is read-only.
type StepResult struct {
	StepID      string     `json:"step_id"`
	Status      StepStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at,omitzero"`
	Duration    float64    `json:"duration_seconds"`
	Outputs     Output     `json:"outputs,omitempty"`
	Error       string     `json:"error,omitempty"`
	Cached      bool       `json:"cached"`
	CacheKey    string     `json:"cache_key,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`

	finalizeOnce sync.Once
}

// NewStepResult creates a RUNNING result stamped with the current time.
func NewStepResult(stepID string) *StepResult {
	return &StepResult{
		StepID:    stepID,
		Status:    StepStatusRunning,
		StartedAt: time.Now().UTC(),
		Outputs:   Output{},
	}
}

// SetCompleted finalizes the result as COMPLETED with redacted outputs.
func (r *StepResult) SetCompleted(outputs Output) {
	r.finalize(StepStatusCompleted, "", outputs)
}

// SetFailed finalizes the result as FAILED with a redacted error string.
func (r *StepResult) SetFailed(err error) {
	r.finalize(StepStatusFailed, RedactError(err), nil)
}

// SetStatus finalizes the result with an explicit terminal status, for
// SKIPPED, CACHED, TIMEOUT and TERMINATED paths.
func (r *StepResult) SetStatus(status StepStatus, outputs Output, errMsg string) {
	r.finalize(status, RedactOutput(errMsg), outputs)
}

func (r *StepResult) finalize(status StepStatus, errMsg string, outputs Output) {
	r.finalizeOnce.Do(func() {
		r.CompletedAt = time.Now().UTC()
		r.Duration = r.CompletedAt.Sub(r.StartedAt).Seconds()
		r.Status = status
		if errMsg != "" {
			r.Error = errMsg
		}
		if outputs != nil {
			r.Outputs = Output(RedactMap(outputs))
		}
	})
}

// Clone returns a detached copy for read-only snapshots. The clone shares no
// mutable state with the original.
func (r *StepResult) Clone() *StepResult {
	c := &StepResult{
		StepID:      r.StepID,
		Status:      r.Status,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Duration:    r.Duration,
		Error:       r.Error,
		Cached:      r.Cached,
		CacheKey:    r.CacheKey,
	}
	if r.Outputs != nil {
		c.Outputs = make(Output, len(r.Outputs))
		for k, v := range r.Outputs {
			c.Outputs[k] = v
		}
	}
	if r.ExitCode != nil {
		code := *r.ExitCode
		c.ExitCode = &code
	}
	return c
}

// AsContextValue returns the structured form stored under steps.<id> in the
// execution context for template and condition resolution.
func (r *StepResult) AsContextValue() map[string]any {
	v := map[string]any{
		"step_id":          r.StepID,
		"status":           r.Status.String(),
		"duration_seconds": r.Duration,
		"outputs":          map[string]any(r.Outputs),
		"cached":           r.Cached,
	}
	if r.Error != "" {
		v["error"] = r.Error
	}
	if r.ExitCode != nil {
		v["exit_code"] = *r.ExitCode
	}
	return v
}
