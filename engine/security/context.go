package security

import (
	"sync"
	"time"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/pkg/logger"
)

// Permissions the engine checks before acting on a caller's behalf.
const (
	PermWorkflowExecute = "workflow.execute"
	PermShellExecute    = "shell.execute"
	PermFileWrite       = "file.write"
	PermAdmin           = "admin"
)

// ResourceLimits override the configured ceilings for one execution.
type ResourceLimits struct {
	MemoryMB   int
	CPUSeconds int
}

// Context carries the caller identity, permission set, profile and an
// append-only sanitized audit trail for one execution. It is never shared
// across concurrent executions.
type Context struct {
	UserID         string
	Profile        Profile
	ResourceLimits *ResourceLimits

	mu          sync.Mutex
	permissions map[string]bool
	auditTrail  []string
	maxLogLen   int
}

// NewContext builds a security context for one execution.
func NewContext(userID string, permissions []string, profile Profile) *Context {
	perms := make(map[string]bool, len(permissions))
	for _, p := range permissions {
		perms[p] = true
	}
	return &Context{
		UserID:      userID,
		Profile:     profile,
		permissions: perms,
		maxLogLen:   1000,
	}
}

// WithResourceLimits sets per-execution ceiling overrides.
func (c *Context) WithResourceLimits(limits ResourceLimits) *Context {
	c.ResourceLimits = &limits
	return c
}

// WithMaxLogLength caps the sanitized length of audit trail entries.
func (c *Context) WithMaxLogLength(n int) *Context {
	if n > 0 {
		c.maxLogLen = n
	}
	return c
}

// HasPermission reports whether the caller holds the permission. The admin
// permission implies every other one.
func (c *Context) HasPermission(permission string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.permissions[permission] || c.permissions[PermAdmin]
}

// LogSecurityEvent appends a sanitized, timestamped entry to the audit trail.
func (c *Context) LogSecurityEvent(event string) {
	sanitized := core.SanitizeLogEntry(event, c.maxLogLen)
	stamp := time.Now().UTC().Format(time.RFC3339)
	c.mu.Lock()
	c.auditTrail = append(c.auditTrail, stamp+": "+sanitized)
	c.mu.Unlock()
	logger.GetDefault().Info("security event", "user", c.UserID, "event", sanitized)
}

// AuditTrail returns a snapshot copy of the audit entries.
func (c *Context) AuditTrail() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.auditTrail))
	copy(out, c.auditTrail)
	return out
}
