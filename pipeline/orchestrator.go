package pipeline

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/models"
)

type completedStep[C RunContext] struct {
	step Step[C]
	data *models.StepData
}

// completedStack records successful steps. Only the orchestrator touches it.
type completedStack[C RunContext] struct {
	entries []completedStep[C]
}

func (s *completedStack[C]) push(step Step[C], data *models.StepData) {
	s.entries = append(s.entries, completedStep[C]{step: step, data: data})
}

func (s *completedStack[C]) pop() (completedStep[C], bool) {
	if len(s.entries) == 0 {
		return completedStep[C]{}, false
	}
	top := s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	return top, true
}

// Orchestrator runs the steps of one pipeline. It keeps no per-run state, so
// a single instance can serve concurrent runs for different tenants.
type Orchestrator[C RunContext] struct {
	name      string
	logger    *logrus.Logger
	observers []Observer
}

func NewOrchestrator[C RunContext](name string, logger *logrus.Logger, observers ...Observer) *Orchestrator[C] {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Orchestrator[C]{name: name, logger: logger, observers: observers}
}

func (o *Orchestrator[C]) Name() string { return o.name }

// Run executes steps ascending by Order. The first failure of a compensable
// or validating step stops the run and rolls back the completed steps in
// reverse completion order. Steps never reached are never rolled back. The
// rollback ignores cancellation of ctx so a cancelled run still unwinds.
func (o *Orchestrator[C]) Run(ctx context.Context, steps []Step[C], data models.StepDataSet, rc C) *Outcome {
	tenant := rc.Tenant()
	outcome := &Outcome{RunID: rc.RunID(), Pipeline: o.name, TenantID: tenant.ID}
	log := o.logger.WithFields(logrus.Fields{
		"pipeline": o.name,
		"run_id":   outcome.RunID,
		"tenant":   tenant.ID,
	})

	stack := &completedStack[C]{}
	log.Infof("Starting %s pipeline with %d steps", o.name, len(steps))

	for _, step := range sortSteps(steps) {
		id := step.Identifier()
		stepData := data.For(id)
		stepLog := log.WithFields(logrus.Fields{"step": id, "order": step.Order(), "policy": step.Policy().String()})

		o.emit(Event{Kind: StepStarted, Step: id}, outcome)
		stepLog.Info("Executing step")

		err := step.Execute(ctx, stepData, rc)
		if err == nil {
			stack.push(step, stepData)
			outcome.Completed = append(outcome.Completed, id)
			o.emit(Event{Kind: StepSucceeded, Step: id}, outcome)
			stepLog.Info("Completed step")
			continue
		}

		if step.Policy() == PolicyBestEffort {
			outcome.Warnings = multierror.Append(outcome.Warnings, fmt.Errorf("%s: %w", id, err))
			o.emit(Event{Kind: StepWarned, Step: id, Err: err}, outcome)
			stepLog.WithError(err).Warn("Best-effort step failed, continuing")
			continue
		}

		outcome.FailedStep = id
		if step.Policy() == PolicyValidating {
			outcome.Err = &ValidationError{Step: id, Err: err}
		} else {
			outcome.Err = &StepError{Step: id, Err: err}
		}
		o.emit(Event{Kind: StepFailed, Step: id, Err: err}, outcome)
		stepLog.WithError(err).Error("Step failed, compensating completed steps")

		o.compensate(context.WithoutCancel(ctx), stack, rc, outcome, log)
		break
	}

	if outcome.Succeeded() {
		log.Info("Pipeline completed")
	} else {
		log.WithFields(logrus.Fields{
			"failed_step":     outcome.FailedStep,
			"rolled_back":     outcome.RolledBack,
			"rollback_failed": outcome.RollbackFailed,
		}).Error("Pipeline failed")
	}
	o.emit(Event{Kind: RunFinished, Err: outcome.Err, Outcome: outcome}, outcome)
	return outcome
}

func (o *Orchestrator[C]) compensate(ctx context.Context, stack *completedStack[C], rc C, outcome *Outcome, log *logrus.Entry) {
	for {
		entry, ok := stack.pop()
		if !ok {
			return
		}
		id := entry.step.Identifier()
		if o.rollback(ctx, entry, rc, log) {
			outcome.RolledBack = append(outcome.RolledBack, id)
			o.emit(Event{Kind: StepRolledBack, Step: id}, outcome)
			log.WithField("step", id).Info("Rolled back step")
			continue
		}
		rbErr := fmt.Errorf("rollback of step %s failed", id)
		outcome.RollbackFailed = append(outcome.RollbackFailed, id)
		outcome.RollbackErr = multierror.Append(outcome.RollbackErr, rbErr)
		o.emit(Event{Kind: StepRollbackFailed, Step: id, Err: rbErr}, outcome)
		log.WithField("step", id).Error("Rollback failed, continuing unwind")
	}
}

// rollback guards the unwind against a panicking step.
func (o *Orchestrator[C]) rollback(ctx context.Context, entry completedStep[C], rc C, log *logrus.Entry) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("step", entry.step.Identifier()).Errorf("Rollback panicked: %v", r)
			ok = false
		}
	}()
	return entry.step.Rollback(ctx, entry.data, rc)
}

func (o *Orchestrator[C]) emit(e Event, outcome *Outcome) {
	e.Pipeline = o.name
	e.RunID = outcome.RunID
	e.TenantID = outcome.TenantID
	for _, obs := range o.observers {
		obs.Observe(e)
	}
}
