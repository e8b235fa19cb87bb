package security

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/pkg/logger"
)

// Pattern sets are cumulative: every profile blocks the base set, standard
// and stricter add reflection and process/file-execution primitives, and
// restricted/plan_only add direct file-open/input primitives on top.
var (
	basePatterns = []string{
		`__import__`,
		`\beval\s*\(`,
		`\bexec\s*\(`,
		`getattr\s*\(.*__builtins__`,
		`globals\s*\(\s*\)`,
		`__builtins__`,
		`__globals__`,
		`__class__`,
		`__mro__`,
		`__subclasses__`,
		`\.mro\s*\(\s*\)`,
		`\.subclasses\s*\(\s*\)`,
	}
	standardPatterns = []string{
		`\bcompile\s*\(`,
		`\bgetattr\s*\(`,
		`\bsetattr\s*\(`,
		`\bdelattr\s*\(`,
		`\blocals\s*\(`,
		`\bvars\s*\(`,
		`\bdir\s*\(`,
		`\bsubprocess\b`,
		`os\.system`,
		`os\.popen`,
		`os\.spawn`,
		`os\.exec`,
		`\bimportlib\b`,
	}
	strictPatterns = []string{
		`\bopen\s*\(`,
		`\bfile\s*\(`,
		`\binput\s*\(`,
		`\braw_input\s*\(`,
	}

	// Shell metacharacters are rejected independent of profile: command
	// chaining, substitution, and pipes into shell or netcat-like sinks.
	shellPatterns = []*regexp.Regexp{
		regexp.MustCompile(`;`),
		regexp.MustCompile(`&&`),
		regexp.MustCompile("`"),
		regexp.MustCompile(`\$\(`),
		regexp.MustCompile(`(?i)\|\s*(sh|bash|zsh|dash|nc|ncat|netcat)\b`),
		regexp.MustCompile(`>\s*/dev/`),
	}

	templatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\{\{[^}]*__[^}]*\}\}`),
		regexp.MustCompile(`(?i)\{\{[^}]*\b(class|mro|subclasses|globals|builtins|import)\b[^}]*\}\}`),
		regexp.MustCompile(`(?i)\{\{[^}]*\bconfig\b[^}]*\}\}`),
	}

	// Directory names no validated path may touch.
	sensitiveDirs = map[string]bool{
		"etc":  true,
		"proc": true,
		"sys":  true,
		"dev":  true,
		"root": true,
		"home": true,
	}
)

// Validator performs pattern-based rejection of inputs resembling code,
// shell, template, or path injection. Strictness follows the profile.
type Validator struct {
	profile   Profile
	blocked   *regexp.Regexp
	maxLength int
	detailed  bool
}

// NewValidator builds a validator for the given profile.
func NewValidator(profile Profile) *Validator {
	patterns := make([]string, 0, len(basePatterns)+len(standardPatterns)+len(strictPatterns))
	patterns = append(patterns, basePatterns...)
	if profile != ProfileElevated {
		patterns = append(patterns, standardPatterns...)
	}
	if profile == ProfileRestricted || profile == ProfilePlanOnly {
		patterns = append(patterns, strictPatterns...)
	}
	return &Validator{
		profile:   profile,
		blocked:   regexp.MustCompile(`(?i)` + strings.Join(patterns, "|")),
		maxLength: profile.MaxInputLength(),
	}
}

// WithDetailedLogging enables server-side logging of the matched pattern.
// The returned error text never includes it either way.
func (v *Validator) WithDetailedLogging(enabled bool) *Validator {
	v.detailed = enabled
	return v
}

func (v *Validator) Profile() Profile {
	return v.profile
}

// ValidateString rejects values containing code-execution or introspection
// primitives, and values longer than the profile ceiling. The context string
// names the field being validated for the error message.
func (v *Validator) ValidateString(value, context string) error {
	if len(value) > v.maxLength {
		return core.NewSecurityError(v.profile.String(),
			"input too long in %s (max %d characters)", context, v.maxLength)
	}
	if m := v.blocked.FindString(value); m != "" {
		if v.detailed {
			logger.GetDefault().Warn("blocked dangerous pattern",
				"context", context, "pattern", m, "profile", v.profile)
		}
		return core.NewSecurityError(v.profile.String(),
			"potentially dangerous content detected in %s", context)
	}
	return nil
}

// ValidatePath normalizes path and rejects parent-directory traversal,
// absolute paths, and paths touching sensitive directory names. The returned
// path is relative and safe to join under a workspace root.
func (v *Validator) ValidatePath(path string) (string, error) {
	if path == "" {
		return "", core.NewSecurityError(v.profile.String(), "empty file path")
	}
	normalized := filepath.Clean(path)
	if filepath.IsAbs(normalized) {
		return "", core.NewSecurityError(v.profile.String(), "absolute file path not allowed")
	}
	for _, part := range strings.Split(normalized, string(filepath.Separator)) {
		if part == ".." {
			return "", core.NewSecurityError(v.profile.String(), "parent directory traversal not allowed")
		}
		if sensitiveDirs[strings.ToLower(part)] {
			return "", core.NewSecurityError(v.profile.String(), "access to sensitive directory denied")
		}
	}
	return normalized, nil
}

// ValidateShellCommand rejects commands containing chaining or substitution
// metacharacters on top of the profile's string validation.
func (v *Validator) ValidateShellCommand(cmd string) error {
	if err := v.ValidateString(cmd, "shell command"); err != nil {
		return err
	}
	for _, p := range shellPatterns {
		if p.MatchString(cmd) {
			return core.NewSecurityError(v.profile.String(),
				"shell command contains forbidden metacharacters")
		}
	}
	return nil
}

// ValidateTemplate rejects template bodies whose expressions reference
// object-introspection attributes or configuration objects.
func (v *Validator) ValidateTemplate(body string) error {
	if err := v.ValidateString(body, "template"); err != nil {
		return err
	}
	for _, p := range templatePatterns {
		if p.MatchString(body) {
			return core.NewSecurityError(v.profile.String(),
				"template contains a forbidden expression")
		}
	}
	return nil
}
