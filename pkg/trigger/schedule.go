package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kestrelflow/kestrel/pkg/flow"
)

// maxFiringsPerEvaluation bounds one backfill sweep so a long outage is
// drained over several evaluations instead of one giant burst.
const maxFiringsPerEvaluation = 100

// Firing is one execution the trigger evaluator decided to create. The
// caller turns it into an execution with the trigger's inputs, labels and
// variables attached.
type Firing struct {
	TriggerID string
	Type      string
	At        time.Time
	Inputs    map[string]any
	Labels    map[string]string
	Variables map[string]any
}

// ScheduleEvaluator computes due fire instants for cron triggers,
// including backfill through a missed window, and filters them through
// the trigger's time conditions.
type ScheduleEvaluator struct {
	states StateStore
	logger *slog.Logger
}

func NewScheduleEvaluator(states StateStore, logger *slog.Logger) *ScheduleEvaluator {
	return &ScheduleEvaluator{states: states, logger: logger}
}

// Evaluate returns the firings due for the trigger at the given instant
// and advances the trigger's anchor. Evaluating twice at the same instant
// fires nothing the second time.
func (e *ScheduleEvaluator) Evaluate(ctx context.Context, f *flow.Flow, tr *flow.Trigger, now time.Time) ([]Firing, error) {
	if tr.Disabled || f.Disabled {
		return nil, nil
	}

	schedule, loc, err := parseSchedule(tr)
	if err != nil {
		return nil, err
	}

	now = now.In(loc)

	st, err := e.states.Get(ctx, f.UID(), tr.ID)
	if err != nil {
		return nil, fmt.Errorf("reading trigger state: %w", err)
	}

	anchor := st.LastFire
	if anchor.IsZero() {
		if tr.Backfill != nil {
			// Backfill replays every instant since the configured start.
			anchor = tr.Backfill.Start.Add(-time.Second)
		} else {
			anchor = now
		}
	}

	anchor = anchor.In(loc)

	var firings []Firing

	next := schedule.Next(anchor)

	for !next.IsZero() && !next.After(now) && len(firings) < maxFiringsPerEvaluation {
		ok, condErr := acceptsInstant(tr.Conditions, next)
		if condErr != nil {
			return nil, condErr
		}

		if ok {
			firings = append(firings, Firing{
				TriggerID: tr.ID,
				Type:      flow.TriggerSchedule,
				At:        next,
				Inputs:    tr.Inputs,
				Labels:    tr.Labels,
				Variables: map[string]any{
					"date":     next,
					"previous": anchor,
					"next":     schedule.Next(next),
				},
			})
		}

		anchor = next
		next = schedule.Next(anchor)
	}

	st.LastFire = anchor

	if err := e.states.Put(ctx, f.UID(), tr.ID, st); err != nil {
		return nil, fmt.Errorf("saving trigger state: %w", err)
	}

	if len(firings) > 1 {
		e.logger.InfoContext(ctx, "Backfilling missed schedule firings",
			"flow_id", f.ID, "trigger_id", tr.ID, "count", len(firings))
	}

	return firings, nil
}

// NextAfter returns the next fire instant strictly after the given time,
// for scheduler sleep planning.
func (e *ScheduleEvaluator) NextAfter(tr *flow.Trigger, after time.Time) (time.Time, error) {
	schedule, loc, err := parseSchedule(tr)
	if err != nil {
		return time.Time{}, err
	}

	return schedule.Next(after.In(loc)), nil
}

func parseSchedule(tr *flow.Trigger) (cron.Schedule, *time.Location, error) {
	schedule, err := cron.ParseStandard(tr.Cron)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid cron expression %q: %w", tr.Cron, err)
	}

	loc := time.UTC

	if tr.Timezone != "" {
		loc, err = time.LoadLocation(tr.Timezone)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid timezone %q: %w", tr.Timezone, err)
		}
	}

	return schedule, loc, nil
}
