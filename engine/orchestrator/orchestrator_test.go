package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/engine/security"
	"github.com/flowmatic/flowmatic/engine/workflow"
	"github.com/flowmatic/flowmatic/pkg/config"
)

func testEngine(t *testing.T, profile security.Profile, opts ...Option) *Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Security.Workspace = t.TempDir()
	return NewEngine(cfg, profile, opts...)
}

func runnerCtx(profile security.Profile) *security.Context {
	return security.NewContext("tester",
		[]string{security.PermWorkflowExecute, security.PermShellExecute, security.PermFileWrite},
		profile)
}

func parse(t *testing.T, yaml string) *workflow.Config {
	t.Helper()
	wf, err := workflow.NewParser().Parse([]byte(yaml))
	require.NoError(t, err)
	return wf
}

const pipelineYAML = `
name: pipeline
version: "1.0"
inputs:
  greeting:
    type: string
    default: hello
outputs:
  said:
    from: speak.outputs.stdout
steps:
  - id: speak
    type: shell
    command: echo {{ inputs.greeting }}
  - id: verify
    type: assert
    condition: "{{ steps.speak.outputs.exit_code }} == 0"
    depends_on: [speak]
`

func TestEngine_Execute(t *testing.T) {
	t.Run("Should run a workflow end to end and extract outputs", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, pipelineYAML)

		execution, err := engine.Execute(context.Background(), wf, nil, runnerCtx(security.ProfileStandard), RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, core.WorkflowStatusCompleted, execution.Status)
		assert.Equal(t, core.StepStatusCompleted, execution.StepResults["speak"].Status)
		assert.Equal(t, core.StepStatusCompleted, execution.StepResults["verify"].Status)
		assert.Equal(t, "hello", execution.Outputs["said"])
	})

	t.Run("Should apply input defaults and overrides", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, pipelineYAML)

		execution, err := engine.Execute(context.Background(), wf,
			core.Input{"greeting": "howdy"}, runnerCtx(security.ProfileStandard), RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, "howdy", execution.Outputs["said"])
	})

	t.Run("Should reject unknown inputs", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, pipelineYAML)

		_, err := engine.Execute(context.Background(), wf,
			core.Input{"bogus": 1}, runnerCtx(security.ProfileStandard), RunOptions{})
		assert.ErrorContains(t, err, "unknown input")
	})

	t.Run("Should reject missing required inputs", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, `
name: t
version: "1"
inputs:
  target:
    type: string
    required: true
steps:
  - id: a
    type: shell
    command: echo {{ inputs.target }}
`)
		_, err := engine.Execute(context.Background(), wf, nil, runnerCtx(security.ProfileStandard), RunOptions{})
		assert.ErrorContains(t, err, "missing required input")
	})

	t.Run("Should reject dangerous input values", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, pipelineYAML)
		secCtx := runnerCtx(security.ProfileStandard)

		_, err := engine.Execute(context.Background(), wf,
			core.Input{"greeting": "__import__('os')"}, secCtx, RunOptions{})
		require.Error(t, err)
		var secErr *core.SecurityError
		assert.ErrorAs(t, err, &secErr)
		assert.NotEmpty(t, secCtx.AuditTrail())
	})

	t.Run("Should require the workflow execute permission", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, pipelineYAML)
		secCtx := security.NewContext("tester", nil, security.ProfileStandard)

		_, err := engine.Execute(context.Background(), wf, nil, secCtx, RunOptions{})
		require.Error(t, err)
		var secErr *core.SecurityError
		assert.ErrorAs(t, err, &secErr)
	})

	t.Run("Should fail fast on the first failing step", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, `
name: t
version: "1"
steps:
  - id: boom
    type: shell
    command: "false"
  - id: after
    type: shell
    command: echo never
    depends_on: [boom]
`)
		execution, err := engine.Execute(context.Background(), wf, nil, runnerCtx(security.ProfileStandard), RunOptions{})
		require.Error(t, err)
		assert.Equal(t, core.WorkflowStatusFailed, execution.Status)
		assert.Equal(t, core.StepStatusFailed, execution.StepResults["boom"].Status)
		_, ran := execution.StepResults["after"]
		assert.False(t, ran, "steps after a failure should not run")
	})

	t.Run("Should skip steps whose when gate is false", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, `
name: t
version: "1"
inputs:
  deploy:
    type: boolean
    default: false
steps:
  - id: build
    type: shell
    command: echo building
  - id: ship
    type: shell
    command: echo shipping
    when: "{{ inputs.deploy }} == true"
    depends_on: [build]
`)
		execution, err := engine.Execute(context.Background(), wf, nil, runnerCtx(security.ProfileStandard), RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, core.StepStatusCompleted, execution.StepResults["build"].Status)
		assert.Equal(t, core.StepStatusSkipped, execution.StepResults["ship"].Status)
	})

	t.Run("Should skip steps whose when gate is not evaluable", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, `
name: t
version: "1"
steps:
  - id: a
    type: shell
    command: echo hi
    when: "{{ steps.ghost.outputs.ok }} == true"
`)
		execution, err := engine.Execute(context.Background(), wf, nil, runnerCtx(security.ProfileStandard), RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, core.StepStatusSkipped, execution.StepResults["a"].Status)
	})

	t.Run("Should serve repeated runs from the cache", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, pipelineYAML)
		secCtx := runnerCtx(security.ProfileStandard)

		first, err := engine.Execute(context.Background(), wf, nil, secCtx, RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, core.StepStatusCompleted, first.StepResults["speak"].Status)

		second, err := engine.Execute(context.Background(), wf, nil, secCtx, RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, core.StepStatusCached, second.StepResults["speak"].Status)
		assert.True(t, second.StepResults["speak"].Cached)
		assert.Equal(t, "hello", second.Outputs["said"])
	})

	t.Run("Should bypass the cache when disabled for the run", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, pipelineYAML)
		secCtx := runnerCtx(security.ProfileStandard)

		_, err := engine.Execute(context.Background(), wf, nil, secCtx, RunOptions{})
		require.NoError(t, err)
		second, err := engine.Execute(context.Background(), wf, nil, secCtx, RunOptions{NoCache: true})
		require.NoError(t, err)
		assert.Equal(t, core.StepStatusCompleted, second.StepResults["speak"].Status)
	})

	t.Run("Should miss the cache when inputs differ", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, pipelineYAML)
		secCtx := runnerCtx(security.ProfileStandard)

		_, err := engine.Execute(context.Background(), wf, core.Input{"greeting": "one"}, secCtx, RunOptions{})
		require.NoError(t, err)
		second, err := engine.Execute(context.Background(), wf, core.Input{"greeting": "two"}, secCtx, RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, core.StepStatusCompleted, second.StepResults["speak"].Status)
		assert.Equal(t, "two", second.Outputs["said"])
	})

	t.Run("Should resume from a named step", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, pipelineYAML)
		secCtx := runnerCtx(security.ProfileStandard)

		execution, err := engine.Execute(context.Background(), wf, nil, secCtx,
			RunOptions{ResumeFrom: "verify", NoCache: true})
		// The verify assertion cannot see speak's outputs, so it fails; what
		// matters here is that speak was skipped, not executed.
		require.Error(t, err)
		assert.Equal(t, core.StepStatusSkipped, execution.StepResults["speak"].Status)
	})

	t.Run("Should reject resuming from an unknown step", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, pipelineYAML)

		_, err := engine.Execute(context.Background(), wf, nil,
			runnerCtx(security.ProfileStandard), RunOptions{ResumeFrom: "ghost"})
		assert.ErrorContains(t, err, "resume step not found")
	})

	t.Run("Should plan without executing on dry runs", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, pipelineYAML)

		execution, err := engine.Execute(context.Background(), wf, nil,
			runnerCtx(security.ProfileStandard), RunOptions{DryRun: true})
		require.NoError(t, err)
		assert.True(t, execution.DryRun)
		assert.Equal(t, core.WorkflowStatusCompleted, execution.Status)
		assert.Equal(t, core.StepStatusSkipped, execution.StepResults["speak"].Status)
		assert.Empty(t, execution.Outputs)
	})

	t.Run("Should plan instead of execute under the plan_only profile", func(t *testing.T) {
		engine := testEngine(t, security.ProfilePlanOnly)
		wf := parse(t, pipelineYAML)

		execution, err := engine.Execute(context.Background(), wf, nil,
			runnerCtx(security.ProfilePlanOnly), RunOptions{})
		require.NoError(t, err)
		assert.True(t, execution.DryRun)
	})

	t.Run("Should time out a workflow past its deadline", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, `
name: slow
version: "1"
timeout: 1
steps:
  - id: nap
    type: shell
    command: sleep 3
  - id: after
    type: shell
    command: echo never
    depends_on: [nap]
`)
		execution, err := engine.Execute(context.Background(), wf, nil,
			runnerCtx(security.ProfileStandard), RunOptions{})
		require.Error(t, err)
		var timeoutErr *core.WorkflowTimeoutError
		assert.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, core.WorkflowStatusTimeout, execution.Status)
		assert.Equal(t, core.StepStatusTimeout, execution.StepResults["nap"].Status)
		_, ran := execution.StepResults["after"]
		assert.False(t, ran, "steps after the deadline should not run")
		assert.Equal(t, 0, engine.resources.Active(), "the execution slot must be released")
	})

	t.Run("Should record executions for later lookup", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, pipelineYAML)

		execution, err := engine.Execute(context.Background(), wf, nil,
			runnerCtx(security.ProfileStandard), RunOptions{ExecutionID: "run-1"})
		require.NoError(t, err)
		assert.Equal(t, "run-1", execution.ID)

		got, ok := engine.GetExecution("run-1")
		require.True(t, ok)
		assert.Equal(t, execution.ID, got.ID)
		assert.Equal(t, core.WorkflowStatusCompleted, got.Status)
		assert.Len(t, engine.ListExecutions(), 1)
	})

	t.Run("Should serve detached execution snapshots to concurrent readers", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, pipelineYAML)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 500; i++ {
				if exec, ok := engine.GetExecution("snap-1"); ok &&
					exec.Status == core.WorkflowStatusCompleted {
					return
				}
				engine.ListExecutions()
			}
		}()

		execution, err := engine.Execute(context.Background(), wf, nil,
			runnerCtx(security.ProfileStandard), RunOptions{ExecutionID: "snap-1"})
		require.NoError(t, err)
		<-done

		snapshot, ok := engine.GetExecution("snap-1")
		require.True(t, ok)
		assert.Equal(t, execution.Status, snapshot.Status)

		// Mutating the snapshot must not leak into the stored record.
		snapshot.StepResults["speak"].Outputs["stdout"] = "tampered"
		snapshot.StepOrder[0] = "tampered"
		fresh, _ := engine.GetExecution("snap-1")
		assert.Equal(t, "hello", fresh.StepResults["speak"].Outputs["stdout"])
		assert.Equal(t, "speak", fresh.StepOrder[0])
	})
}

type recordingEvents struct {
	started   []string
	kinds     []core.StepKind
	indexes   []int
	finished  []string
	workflows int
}

func (r *recordingEvents) WorkflowStarted(string, *workflow.Config) { r.workflows++ }
func (r *recordingEvents) WorkflowFinished(*Execution)              {}
func (r *recordingEvents) StepStarted(_, stepID string, kind core.StepKind, index int) {
	r.started = append(r.started, stepID)
	r.kinds = append(r.kinds, kind)
	r.indexes = append(r.indexes, index)
}
func (r *recordingEvents) StepFinished(_ string, res *core.StepResult) {
	r.finished = append(r.finished, res.StepID)
}
func (r *recordingEvents) SecurityViolation(string, string, error) {}

func TestEngine_Events(t *testing.T) {
	t.Run("Should notify listeners for each executed step", func(t *testing.T) {
		events := &recordingEvents{}
		engine := testEngine(t, security.ProfileStandard, WithEvents(events))
		wf := parse(t, pipelineYAML)

		_, err := engine.Execute(context.Background(), wf, nil,
			runnerCtx(security.ProfileStandard), RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, events.workflows)
		assert.Equal(t, []string{"speak", "verify"}, events.started)
		assert.Equal(t, []core.StepKind{core.StepShell, core.StepAssert}, events.kinds)
		assert.Equal(t, []int{0, 1}, events.indexes)
		assert.Equal(t, []string{"speak", "verify"}, events.finished)
	})
}

func TestEngine_Timing(t *testing.T) {
	t.Run("Should stamp step durations", func(t *testing.T) {
		engine := testEngine(t, security.ProfileStandard)
		wf := parse(t, pipelineYAML)

		execution, err := engine.Execute(context.Background(), wf, nil,
			runnerCtx(security.ProfileStandard), RunOptions{})
		require.NoError(t, err)
		res := execution.StepResults["speak"]
		assert.False(t, res.StartedAt.IsZero())
		assert.False(t, res.CompletedAt.IsZero())
		assert.GreaterOrEqual(t, res.Duration, 0.0)
		assert.Less(t, res.Duration, 60.0)
	})
}
