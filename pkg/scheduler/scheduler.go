// Package scheduler turns flow triggers into executions. A polling loop
// evaluates cron schedule triggers and a queue subscription feeds finished
// executions into the flow-listener triggers.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelflow/kestrel/pkg/events"
	"github.com/kestrelflow/kestrel/pkg/execution"
	"github.com/kestrelflow/kestrel/pkg/flow"
	"github.com/kestrelflow/kestrel/pkg/queue"
	"github.com/kestrelflow/kestrel/pkg/repository"
	"github.com/kestrelflow/kestrel/pkg/trigger"
)

const defaultPollInterval = time.Second

type Scheduler struct {
	logger       *slog.Logger
	flows        repository.FlowRepository
	executions   repository.ExecutionRepository
	bus          queue.EventBus
	schedules    *trigger.ScheduleEvaluator
	listeners    *trigger.ListenerEvaluator
	pollInterval time.Duration
}

func New(
	flows repository.FlowRepository,
	executions repository.ExecutionRepository,
	states trigger.StateStore,
	bus queue.EventBus,
	pollInterval time.Duration,
	logger *slog.Logger,
) *Scheduler {
	logger = logger.With("module", "scheduler")

	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Scheduler{
		logger:       logger,
		flows:        flows,
		executions:   executions,
		bus:          bus,
		schedules:    trigger.NewScheduleEvaluator(states, logger),
		listeners:    trigger.NewListenerEvaluator(states, logger),
		pollInterval: pollInterval,
	}
}

// Start subscribes to finished executions for the listener triggers and
// polls the schedule triggers until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.bus.Handle(events.ExecutionFinishedEvent, s.handleExecutionFinished)

	if err := s.bus.Subscribe(ctx, events.ExecutionTopic); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Scheduler started", "poll_interval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := s.EvaluateSchedules(ctx, now.UTC()); err != nil {
				s.logger.ErrorContext(ctx, "Schedule evaluation failed", "error", err)
			}
		}
	}
}

// EvaluateSchedules evaluates every schedule trigger of every flow at the
// given instant and creates the due executions.
func (s *Scheduler) EvaluateSchedules(ctx context.Context, now time.Time) error {
	flows, err := s.flows.List(ctx, "", "")
	if err != nil {
		return fmt.Errorf("listing flows: %w", err)
	}

	for _, f := range flows {
		for i := range f.Triggers {
			tr := &f.Triggers[i]
			if tr.Type != flow.TriggerSchedule {
				continue
			}

			firings, err := s.schedules.Evaluate(ctx, f, tr, now)
			if err != nil {
				s.logger.ErrorContext(ctx, "Trigger evaluation failed",
					"flow_id", f.ID, "trigger_id", tr.ID, "error", err)

				continue
			}

			for _, firing := range firings {
				if err := s.fire(ctx, f, firing); err != nil {
					s.logger.ErrorContext(ctx, "Creating triggered execution failed",
						"flow_id", f.ID, "trigger_id", firing.TriggerID, "error", err)
				}
			}
		}
	}

	return nil
}

func (s *Scheduler) handleExecutionFinished(ctx context.Context, event any) error {
	evt, ok := event.(*events.ExecutionFinished)
	if !ok || evt.Execution == nil {
		s.logger.ErrorContext(ctx, "Invalid event payload for ExecutionFinished")

		return nil
	}

	return s.OnExecutionFinished(ctx, evt.Execution, time.Now().UTC())
}

// OnExecutionFinished feeds one finished execution into every listener
// trigger and creates the executions of the triggers that became
// satisfied.
func (s *Scheduler) OnExecutionFinished(ctx context.Context, up *execution.Execution, now time.Time) error {
	flows, err := s.flows.List(ctx, up.TenantID, "")
	if err != nil {
		return fmt.Errorf("listing flows: %w", err)
	}

	for _, f := range flows {
		for i := range f.Triggers {
			tr := &f.Triggers[i]
			if tr.Type != flow.TriggerFlowListener && tr.Type != flow.TriggerMultipleCondition {
				continue
			}

			firing, err := s.listeners.OnExecutionFinished(ctx, f, tr, up, now)
			if err != nil {
				s.logger.ErrorContext(ctx, "Listener evaluation failed",
					"flow_id", f.ID, "trigger_id", tr.ID, "error", err)

				continue
			}

			if firing == nil {
				continue
			}

			if err := s.fire(ctx, f, *firing); err != nil {
				s.logger.ErrorContext(ctx, "Creating triggered execution failed",
					"flow_id", f.ID, "trigger_id", firing.TriggerID, "error", err)
			}
		}
	}

	return nil
}

// fire materializes one trigger firing as a CREATED execution and hands
// it to the executor.
func (s *Scheduler) fire(ctx context.Context, f *flow.Flow, firing trigger.Firing) error {
	inputs, err := f.ResolveInputs(firing.Inputs)
	if err != nil {
		return fmt.Errorf("resolving trigger inputs: %w", err)
	}

	ex := execution.New(f, inputs, firing.Labels)
	ex.Trigger = &execution.TriggerInfo{
		ID:        firing.TriggerID,
		Type:      firing.Type,
		Variables: firing.Variables,
	}

	if err := s.executions.Save(ctx, ex); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Trigger fired",
		"flow_id", f.ID,
		"trigger_id", firing.TriggerID,
		"execution_id", ex.ID,
		"at", firing.At)

	return s.bus.Publish(ctx, ex.ID, events.ExecutionUpdated{
		BaseEvent: events.NewBaseEvent(events.ExecutionUpdatedEvent),
		Execution: ex,
	})
}
