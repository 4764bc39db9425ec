package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsObserver counts runs and compensations.
type MetricsObserver struct {
	runs      *prometheus.CounterVec
	steps     *prometheus.CounterVec
	rollbacks *prometheus.CounterVec
}

func NewMetricsObserver(reg prometheus.Registerer) *MetricsObserver {
	m := &MetricsObserver{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenant_pipeline_runs_total",
			Help: "Tenant pipeline runs by pipeline and result.",
		}, []string{"pipeline", "result"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenant_pipeline_steps_total",
			Help: "Tenant pipeline step executions by pipeline, step and result.",
		}, []string{"pipeline", "step", "result"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenant_pipeline_step_rollbacks_total",
			Help: "Step compensations by pipeline, step and result.",
		}, []string{"pipeline", "step", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.steps, m.rollbacks)
	}
	return m
}

func (m *MetricsObserver) Observe(e Event) {
	switch e.Kind {
	case StepSucceeded:
		m.steps.WithLabelValues(e.Pipeline, e.Step, "success").Inc()
	case StepFailed:
		m.steps.WithLabelValues(e.Pipeline, e.Step, "failed").Inc()
	case StepWarned:
		m.steps.WithLabelValues(e.Pipeline, e.Step, "warned").Inc()
	case StepRolledBack:
		m.rollbacks.WithLabelValues(e.Pipeline, e.Step, "success").Inc()
	case StepRollbackFailed:
		m.rollbacks.WithLabelValues(e.Pipeline, e.Step, "failed").Inc()
	case RunFinished:
		result := "success"
		if e.Err != nil {
			result = "failed"
		}
		m.runs.WithLabelValues(e.Pipeline, result).Inc()
	}
}
