package rules

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// operators are checked in this order so that ">=" is never split as ">".
var operators = []string{"==", ">=", "<=", ">", "<"}

// Evaluate evaluates an expression of the shape `<path> <op> <literal>`
// against a facts document. It never panics: malformed expressions,
// missing paths and incomparable operands all yield false.
func Evaluate(expr string, facts any) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	path, op, literal, found := splitExpression(expr)
	if !found {
		return false
	}

	values, err := Select(path, facts)
	if err != nil || len(values) == 0 {
		return false
	}
	return compare(values[0], op, parseLiteral(literal))
}

// HasOperator reports whether expr contains a comparison operator.
func HasOperator(expr string) bool {
	_, _, _, found := splitExpression(expr)
	return found
}

// Select evaluates a path query against facts. Paths without a "$" or "@"
// root are taken relative to the document root.
func Select(path string, facts any) ([]any, error) {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "$") && !strings.HasPrefix(path, "@") {
		path = "$." + path
	}
	x, err := jp.ParseString(path)
	if err != nil {
		return nil, err
	}
	return x.Get(facts), nil
}

// splitExpression tries the operators in priority order, ignoring any
// occurrence inside a double-quoted literal.
func splitExpression(expr string) (path, op, literal string, found bool) {
	for _, candidate := range operators {
		idx := indexUnquoted(expr, candidate)
		if idx < 0 {
			continue
		}
		path = strings.TrimSpace(expr[:idx])
		literal = strings.TrimSpace(expr[idx+len(candidate):])
		if path == "" || literal == "" {
			return "", "", "", false
		}
		return path, candidate, literal, true
	}
	return "", "", "", false
}

func indexUnquoted(s, token string) int {
	quoted := false
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			quoted = !quoted
			continue
		}
		if !quoted && strings.HasPrefix(s[i:], token) {
			return i
		}
	}
	return -1
}

func parseLiteral(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if len(raw) >= 2 && strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) {
		return raw[1 : len(raw)-1]
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func compare(left any, op string, right any) bool {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf
		case ">=":
			return lf >= rf
		case "<=":
			return lf <= rf
		case ">":
			return lf > rf
		case "<":
			return lf < rf
		}
		return false
	}
	if op != "==" {
		return false
	}
	return reflect.DeepEqual(left, right)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// truthy reports whether a selection yielded a meaningful value.
func truthy(values []any) bool {
	for _, v := range values {
		switch x := v.(type) {
		case nil:
			continue
		case bool:
			if x {
				return true
			}
		case string:
			if x != "" {
				return true
			}
		case []any:
			if len(x) > 0 {
				return true
			}
		case map[string]any:
			if len(x) > 0 {
				return true
			}
		default:
			return true
		}
	}
	return false
}
