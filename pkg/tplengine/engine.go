package tplengine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/flowmatic/flowmatic/engine/core"
)

// varPattern matches {{ dotted.path }} references. Paths are identifiers
// joined with dots; anything else inside the braces is not a reference and
// is left untouched (the security validator decides whether it is hostile).
var varPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z0-9_]+)*)\s*\}\}`)

// TemplateEngine renders {{ dotted.path }} substitutions against an execution
// context and evaluates restricted boolean conditions. It is stateless and
// safe for concurrent use.
type TemplateEngine struct{}

func New() *TemplateEngine {
	return &TemplateEngine{}
}

// HasTemplate reports whether s contains template markers.
func HasTemplate(s string) bool {
	return strings.Contains(s, "{{") && strings.Contains(s, "}}")
}

// Render substitutes every resolvable {{ dotted.path }} in tpl with its
// context value. Unresolved paths stay verbatim so callers can tolerate
// partial contexts during gate pre-checks.
func (e *TemplateEngine) Render(tpl string, ctx map[string]any) string {
	if !HasTemplate(tpl) {
		return tpl
	}
	snapshot := core.StableJSONBytes(ctx)
	return varPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		path := varPattern.FindStringSubmatch(match)[1]
		res := gjson.GetBytes(snapshot, path)
		if !res.Exists() {
			return match
		}
		if res.Type == gjson.Null {
			return ""
		}
		return res.String()
	})
}

// RenderStrict renders tpl and fails if any reference stays unresolved.
// Step execution uses this; gate pre-checks use Render.
func (e *TemplateEngine) RenderStrict(tpl string, ctx map[string]any) (string, error) {
	out := e.Render(tpl, ctx)
	if left := Unresolved(out); len(left) > 0 {
		return "", fmt.Errorf("unresolved template reference: %s", strings.Join(left, ", "))
	}
	return out, nil
}

// Unresolved returns the dotted paths still referenced in s after rendering.
func Unresolved(s string) []string {
	matches := varPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, m[1])
	}
	return paths
}

// Resolve walks ctx by the dot-separated path and returns the raw value.
func (e *TemplateEngine) Resolve(path string, ctx map[string]any) (any, bool) {
	res := gjson.GetBytes(core.StableJSONBytes(ctx), path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}
