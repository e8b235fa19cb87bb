package resources

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/engine/security"
)

func TestManager(t *testing.T) {
	t.Run("Should track allocated slots", func(t *testing.T) {
		m := NewManager(0, 0, nil)
		secCtx := security.NewContext("tester", nil, security.ProfileRestricted)
		require.NoError(t, m.Allocate(secCtx))
		assert.Equal(t, 1, m.Active())
		m.Release()
		assert.Equal(t, 0, m.Active())
	})

	t.Run("Should reject allocations past the profile ceiling", func(t *testing.T) {
		m := NewManager(0, 0, nil)
		secCtx := security.NewContext("tester", nil, security.ProfilePlanOnly)
		limit := security.ProfilePlanOnly.MaxConcurrentExecutions()
		for i := 0; i < limit; i++ {
			require.NoError(t, m.Allocate(secCtx))
		}
		err := m.Allocate(secCtx)
		require.Error(t, err)
		var exhausted *core.ResourceExhaustionError
		assert.ErrorAs(t, err, &exhausted)
	})

	t.Run("Should not release below zero", func(t *testing.T) {
		m := NewManager(0, 0, nil)
		m.Release()
		assert.Equal(t, 0, m.Active())
	})

	t.Run("Should report process usage", func(t *testing.T) {
		m := NewManager(0, 0, nil)
		u := m.CurrentUsage()
		assert.Equal(t, 0, u.ActiveExecutions)
		assert.GreaterOrEqual(t, u.PeakMemoryMB, int64(0))
	})

	t.Run("Should leave the engine process limits untouched on allocate", func(t *testing.T) {
		var before unix.Rlimit
		require.NoError(t, unix.Getrlimit(unix.RLIMIT_AS, &before))

		m := NewManager(64, 1, nil)
		secCtx := security.NewContext("tester", nil, security.ProfileStandard)
		require.NoError(t, m.Allocate(secCtx))
		defer m.Release()

		var after unix.Rlimit
		require.NoError(t, unix.Getrlimit(unix.RLIMIT_AS, &after))
		assert.Equal(t, before, after)
	})

	t.Run("Should apply ceilings to a step subprocess", func(t *testing.T) {
		cmd := exec.Command("sleep", "10")
		require.NoError(t, cmd.Start())
		defer func() {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}()

		m := NewManager(4096, 30, nil)
		secCtx := security.NewContext("tester", nil, security.ProfileStandard)
		m.LimitProcess(cmd.Process.Pid, secCtx)

		var got unix.Rlimit
		require.NoError(t, unix.Prlimit(cmd.Process.Pid, unix.RLIMIT_AS, nil, &got))
		assert.Equal(t, uint64(4096)*1024*1024, got.Cur)
		require.NoError(t, unix.Prlimit(cmd.Process.Pid, unix.RLIMIT_CPU, nil, &got))
		assert.Equal(t, uint64(30), got.Cur)
	})

	t.Run("Should honor per-context limit overrides", func(t *testing.T) {
		m := NewManager(1024, 60, nil)
		secCtx := security.NewContext("tester", nil, security.ProfileStandard).
			WithResourceLimits(security.ResourceLimits{MemoryMB: 2048, CPUSeconds: 5})

		memoryMB, cpuSeconds := m.effectiveLimits(secCtx)
		assert.Equal(t, 2048, memoryMB)
		assert.Equal(t, 5, cpuSeconds)

		memoryMB, cpuSeconds = m.effectiveLimits(security.NewContext("tester", nil, security.ProfileStandard))
		assert.Equal(t, 1024, memoryMB)
		assert.Equal(t, 60, cpuSeconds)
	})
}
