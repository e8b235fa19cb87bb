package tplengine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Condition grammar, deliberately tiny: boolean literals, a bare context
// lookup evaluated for truthiness, or exactly one binary comparison between
// two operands. Function calls, attribute access and every other expression
// form are rejected, not attempted.

var comparisonOps = []string{"==", "!=", ">=", "<=", ">", "<"}

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z0-9_]+)*$`)

// Evaluate evaluates a restricted boolean condition against ctx. The returned
// error means the expression is outside the allow-listed grammar; callers
// decide whether that maps to false (when gates) or to a failure (asserts).
func (e *TemplateEngine) Evaluate(cond string, ctx map[string]any) (bool, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return false, nil
	}
	if v, ok := boolLiteral(cond); ok {
		return v, nil
	}
	if op, lhs, rhs, ok := splitComparison(cond); ok {
		return e.compare(op, lhs, rhs, ctx)
	}
	if !identPattern.MatchString(cond) {
		return false, fmt.Errorf("unsupported expression: only literals, variable lookups and binary comparisons are allowed")
	}
	v, found := e.Resolve(cond, ctx)
	if !found {
		return false, fmt.Errorf("unknown variable %q in condition", cond)
	}
	return truthy(v), nil
}

func boolLiteral(s string) (value, ok bool) {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	default:
		return false, false
	}
}

// splitComparison finds the single binary operator in cond. Two-character
// operators are matched first so ">=" is not read as ">".
func splitComparison(cond string) (op, lhs, rhs string, ok bool) {
	for _, candidate := range comparisonOps {
		idx := strings.Index(cond, candidate)
		if idx < 0 {
			continue
		}
		lhs = strings.TrimSpace(cond[:idx])
		rhs = strings.TrimSpace(cond[idx+len(candidate):])
		if lhs == "" || rhs == "" {
			return "", "", "", false
		}
		return candidate, lhs, rhs, true
	}
	return "", "", "", false
}

func (e *TemplateEngine) compare(op, lhs, rhs string, ctx map[string]any) (bool, error) {
	left, err := e.operand(lhs, ctx)
	if err != nil {
		return false, err
	}
	right, err := e.operand(rhs, ctx)
	if err != nil {
		return false, err
	}
	if ln, lok := toNumber(left); lok {
		if rn, rok := toNumber(right); rok {
			return compareNumbers(op, ln, rn), nil
		}
	}
	return compareStrings(op, stringOf(left), stringOf(right)), nil
}

// operand resolves one side of a comparison: a quoted string literal, a
// number, a boolean literal, or a context lookup. A path that resolves is
// replaced by its value; an unresolved identifier falls back to its literal
// text, matching lenient gate evaluation over partial contexts.
func (e *TemplateEngine) operand(tok string, ctx map[string]any) (any, error) {
	if len(tok) >= 2 {
		if (tok[0] == '\'' && tok[len(tok)-1] == '\'') || (tok[0] == '"' && tok[len(tok)-1] == '"') {
			return tok[1 : len(tok)-1], nil
		}
	}
	if n, err := strconv.ParseFloat(tok, 64); err == nil {
		return n, nil
	}
	if v, ok := boolLiteral(tok); ok {
		return v, nil
	}
	if !identPattern.MatchString(tok) {
		return nil, fmt.Errorf("unsupported operand in condition")
	}
	if v, found := e.Resolve(tok, ctx); found {
		return v, nil
	}
	return tok, nil
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func compareNumbers(op string, l, r float64) bool {
	switch op {
	case "==":
		return l == r
	case "!=":
		return l != r
	case ">":
		return l > r
	case "<":
		return l < r
	case ">=":
		return l >= r
	case "<=":
		return l <= r
	}
	return false
}

func compareStrings(op, l, r string) bool {
	switch op {
	case "==":
		return l == r
	case "!=":
		return l != r
	case ">":
		return l > r
	case "<":
		return l < r
	case ">=":
		return l >= r
	case "<=":
		return l <= r
	}
	return false
}

func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && !strings.EqualFold(t, "false") && t != "0"
	case float64:
		return t != 0
	case int:
		return t != 0
	case nil:
		return false
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
