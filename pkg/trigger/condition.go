// Package trigger evaluates flow triggers: cron schedules with backfill,
// flow listeners reacting to upstream executions, and windowed
// multiple-condition triggers. Evaluators are pure against a state store
// so they can run in any scheduler replica.
package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/expression"
	"github.com/kestrelflow/kestrel/pkg/flow"
)

// evaluateTimeCondition checks a candidate instant against a time-based
// condition. Execution-based condition types accept any instant.
func evaluateTimeCondition(c *flow.Condition, at time.Time) (bool, error) {
	switch c.Type {
	case flow.ConditionTimeBetween:
		return timeBetween(c.After, c.Before, at)
	case flow.ConditionDateBetween:
		return dateBetween(c.After, c.Before, at)
	case flow.ConditionDayWeekInMonth:
		return dayWeekInMonth(c.Weekday, c.DayInMonth, at), nil
	case flow.ConditionExpression:
		return expression.RenderBool(c.Expression, map[string]any{
			"date": at,
		})
	default:
		return true, nil
	}
}

// evaluateExecutionCondition checks a finished upstream execution against
// an execution-based condition. Time-based condition types accept any
// upstream.
func evaluateExecutionCondition(c *flow.Condition, up *execution.Execution) (bool, error) {
	switch c.Type {
	case flow.ConditionExecutionFlow:
		if c.NamespacePrefix {
			if up.Namespace != c.Namespace && !strings.HasPrefix(up.Namespace, c.Namespace+".") {
				return false, nil
			}
		} else if c.Namespace != "" && up.Namespace != c.Namespace {
			return false, nil
		}

		return c.FlowID == "" || up.FlowID == c.FlowID, nil
	case flow.ConditionExecutionState:
		if len(c.States) == 0 {
			return true, nil
		}

		for _, s := range c.States {
			if string(up.State.Current) == s {
				return true, nil
			}
		}

		return false, nil
	case flow.ConditionExecutionLabels:
		for k, v := range c.Labels {
			if up.Labels[k] != v {
				return false, nil
			}
		}

		return true, nil
	case flow.ConditionExecutionOutputs:
		return expression.RenderBool(c.Expression, map[string]any{
			"outputs":   up.Outputs,
			"labels":    up.Labels,
			"namespace": up.Namespace,
			"flow_id":   up.FlowID,
			"state":     string(up.State.Current),
		})
	default:
		return true, nil
	}
}

// acceptsInstant evaluates every time-based condition of the list against
// the candidate instant.
func acceptsInstant(conditions []flow.Condition, at time.Time) (bool, error) {
	for i := range conditions {
		ok, err := evaluateTimeCondition(&conditions[i], at)
		if err != nil {
			return false, fmt.Errorf("evaluating condition %s: %w", conditions[i].Type, err)
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// matchesUpstream evaluates every execution-based condition of the list
// against the upstream execution.
func matchesUpstream(conditions []flow.Condition, up *execution.Execution) (bool, error) {
	for i := range conditions {
		ok, err := evaluateExecutionCondition(&conditions[i], up)
		if err != nil {
			return false, fmt.Errorf("evaluating condition %s: %w", conditions[i].Type, err)
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// timeBetween checks the instant's clock time against a daily window in
// "15:04" form. Windows crossing midnight are supported.
func timeBetween(after, before string, at time.Time) (bool, error) {
	clock := at.Hour()*60 + at.Minute()

	start, err := parseClock(after)
	if err != nil {
		return false, err
	}

	end, err := parseClock(before)
	if err != nil {
		return false, err
	}

	if after == "" {
		return clock <= end, nil
	}

	if before == "" {
		return clock >= start, nil
	}

	if start <= end {
		return clock >= start && clock <= end, nil
	}

	return clock >= start || clock <= end, nil
}

func parseClock(value string) (int, error) {
	if value == "" {
		return 0, nil
	}

	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", value, err)
	}

	return parsed.Hour()*60 + parsed.Minute(), nil
}

func dateBetween(after, before string, at time.Time) (bool, error) {
	if after != "" {
		start, err := time.Parse(time.RFC3339, after)
		if err != nil {
			return false, fmt.Errorf("invalid date %q: %w", after, err)
		}

		if at.Before(start) {
			return false, nil
		}
	}

	if before != "" {
		end, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return false, fmt.Errorf("invalid date %q: %w", before, err)
		}

		if at.After(end) {
			return false, nil
		}
	}

	return true, nil
}

// dayWeekInMonth accepts instants falling on the given occurrence of a
// weekday within their month, e.g. the first Monday or the last Friday.
func dayWeekInMonth(weekday time.Weekday, occurrence flow.DayInMonth, at time.Time) bool {
	if at.Weekday() != weekday {
		return false
	}

	day := at.Day()

	switch occurrence {
	case flow.DayInMonthFirst:
		return day <= 7
	case flow.DayInMonthSecond:
		return day > 7 && day <= 14
	case flow.DayInMonthThird:
		return day > 14 && day <= 21
	case flow.DayInMonthFourth:
		return day > 21 && day <= 28
	case flow.DayInMonthLast:
		next := at.AddDate(0, 0, 7)

		return next.Month() != at.Month()
	default:
		return true
	}
}
