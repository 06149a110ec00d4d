// Package expression renders task properties and condition expressions
// against execution variables. Templates embed expr-lang expressions in
// {{ ... }} segments.
package expression

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
)

var segmentPattern = regexp.MustCompile(`\{\{(.*?)\}\}`)

// EvaluationError wraps an expression failure. Inside condition-evaluating
// tasks it is treated as a task failure of the evaluating node, not a
// system fault.
type EvaluationError struct {
	Expression string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluating %q: %v", e.Expression, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Render substitutes every {{ ... }} segment with its evaluated, stringified
// value. A template without segments is returned unchanged.
func Render(template string, vars map[string]any) (string, error) {
	var evalErr error

	result := segmentPattern.ReplaceAllStringFunc(template, func(segment string) string {
		if evalErr != nil {
			return segment
		}

		source := strings.TrimSpace(segmentPattern.FindStringSubmatch(segment)[1])

		value, err := eval(source, vars)
		if err != nil {
			evalErr = err

			return segment
		}

		return stringify(value)
	})

	if evalErr != nil {
		return "", evalErr
	}

	return result, nil
}

// RenderAny evaluates a template that is exactly one expression segment and
// returns the native value (list, map, number…). Templates mixing literal
// text fall back to Render semantics.
func RenderAny(template string, vars map[string]any) (any, error) {
	trimmed := strings.TrimSpace(template)

	match := segmentPattern.FindStringSubmatch(trimmed)
	if match != nil && match[0] == trimmed {
		return eval(strings.TrimSpace(match[1]), vars)
	}

	return Render(template, vars)
}

// RenderBool renders a condition expression to a boolean. Bare expressions
// without {{ }} delimiters are accepted.
func RenderBool(template string, vars map[string]any) (bool, error) {
	value, err := renderBare(template, vars)
	if err != nil {
		return false, err
	}

	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		return v == "true", nil
	default:
		return false, &EvaluationError{
			Expression: template,
			Err:        fmt.Errorf("expected a boolean, got %T", value),
		}
	}
}

// RenderString renders a switch-style expression to its string value.
func RenderString(template string, vars map[string]any) (string, error) {
	value, err := renderBare(template, vars)
	if err != nil {
		return "", err
	}

	return stringify(value), nil
}

// RenderItems renders an each-container values expression into a list of
// iteration keys. JSON array strings are decoded.
func RenderItems(template string, vars map[string]any) ([]string, error) {
	value, err := renderBare(template, vars)
	if err != nil {
		return nil, err
	}

	if str, ok := value.(string); ok {
		var decoded []any
		if err := json.Unmarshal([]byte(str), &decoded); err != nil {
			return nil, &EvaluationError{
				Expression: template,
				Err:        fmt.Errorf("expected a list, got %q", str),
			}
		}

		value = decoded
	}

	list, ok := value.([]any)
	if !ok {
		return nil, &EvaluationError{
			Expression: template,
			Err:        fmt.Errorf("expected a list, got %T", value),
		}
	}

	items := make([]string, len(list))
	for i, item := range list {
		items[i] = stringify(item)
	}

	return items, nil
}

func renderBare(template string, vars map[string]any) (any, error) {
	if segmentPattern.MatchString(template) {
		return RenderAny(template, vars)
	}

	return eval(strings.TrimSpace(template), vars)
}

func eval(source string, vars map[string]any) (any, error) {
	if vars == nil {
		vars = map[string]any{}
	}

	program, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, &EvaluationError{Expression: source, Err: err}
	}

	value, err := expr.Run(program, vars)
	if err != nil {
		return nil, &EvaluationError{Expression: source, Err: err}
	}

	return value, nil
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any, map[string]any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}
