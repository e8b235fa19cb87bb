package resources

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/engine/security"
	"github.com/flowmatic/flowmatic/pkg/logger"
)

// Usage is a point-in-time snapshot of process resource consumption.
type Usage struct {
	ActiveExecutions int
	PeakMemoryMB     int64
	UserCPUSeconds   float64
	SystemCPUSeconds float64
}

// Manager enforces the per-profile concurrency ceiling and applies
// best-effort OS resource limits to step subprocesses. Limits never touch the
// engine's own process; they are set on each child via prlimit and die with
// it, so releasing a slot needs no undo.
type Manager struct {
	mu     sync.Mutex
	active int

	memoryMB   int
	cpuSeconds int
	log        logger.Logger
}

// NewManager builds a resource manager with the configured default ceilings.
func NewManager(memoryMB, cpuSeconds int, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Manager{memoryMB: memoryMB, cpuSeconds: cpuSeconds, log: log}
}

// Allocate reserves one execution slot. It fails when the security profile's
// concurrency ceiling is reached.
func (m *Manager) Allocate(secCtx *security.Context) error {
	limit := secCtx.Profile.MaxConcurrentExecutions()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active >= limit {
		return core.NewResourceExhaustionError(
			"concurrent execution limit reached (%d) for profile %s", limit, secCtx.Profile)
	}
	m.active++
	return nil
}

// Release frees one execution slot.
func (m *Manager) Release() {
	m.mu.Lock()
	if m.active > 0 {
		m.active--
	}
	m.mu.Unlock()
}

// Active returns the number of allocated execution slots.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// CurrentUsage reports process rusage plus the live slot count.
func (m *Manager) CurrentUsage() Usage {
	u := Usage{ActiveExecutions: m.Active()}
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		m.log.Debug("rusage unavailable", "error", err)
		return u
	}
	// ru_maxrss is kilobytes on Linux.
	u.PeakMemoryMB = ru.Maxrss / 1024
	u.UserCPUSeconds = float64(ru.Utime.Sec) + float64(ru.Utime.Usec)/1e6
	u.SystemCPUSeconds = float64(ru.Stime.Sec) + float64(ru.Stime.Usec)/1e6
	return u
}

// LimitProcess applies the memory and CPU ceilings to a started step
// subprocess. Best-effort: a kernel that refuses a limit gets a warning, not
// a failed step. An unprivileged process cannot prlimit arbitrary pids, only
// its own children.
func (m *Manager) LimitProcess(pid int, secCtx *security.Context) {
	memoryMB, cpuSeconds := m.effectiveLimits(secCtx)
	if memoryMB > 0 {
		bytes := uint64(memoryMB) * 1024 * 1024
		lim := unix.Rlimit{Cur: bytes, Max: bytes}
		if err := unix.Prlimit(pid, unix.RLIMIT_AS, &lim, nil); err != nil {
			m.log.Warn("could not apply memory limit",
				"pid", pid, "memory_mb", memoryMB, "error", err)
		}
	}
	if cpuSeconds > 0 {
		secs := uint64(cpuSeconds)
		lim := unix.Rlimit{Cur: secs, Max: secs}
		if err := unix.Prlimit(pid, unix.RLIMIT_CPU, &lim, nil); err != nil {
			m.log.Warn("could not apply cpu limit",
				"pid", pid, "cpu_seconds", cpuSeconds, "error", err)
		}
	}
}

// effectiveLimits resolves the configured ceilings against per-context
// overrides.
func (m *Manager) effectiveLimits(secCtx *security.Context) (memoryMB, cpuSeconds int) {
	memoryMB = m.memoryMB
	cpuSeconds = m.cpuSeconds
	if secCtx != nil && secCtx.ResourceLimits != nil {
		if secCtx.ResourceLimits.MemoryMB > 0 {
			memoryMB = secCtx.ResourceLimits.MemoryMB
		}
		if secCtx.ResourceLimits.CPUSeconds > 0 {
			cpuSeconds = secCtx.ResourceLimits.CPUSeconds
		}
	}
	return memoryMB, cpuSeconds
}
