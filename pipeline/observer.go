package pipeline

type EventKind string

const (
	StepStarted        EventKind = "STARTED"
	StepSucceeded      EventKind = "SUCCESS"
	StepFailed         EventKind = "FAILED"
	StepWarned         EventKind = "WARNED"
	StepRolledBack     EventKind = "ROLLED_BACK"
	StepRollbackFailed EventKind = "ROLLBACK_FAILED"
	RunFinished        EventKind = "RUN_FINISHED"
)

// Event describes one transition of a pipeline run. Step is empty for
// RunFinished.
type Event struct {
	Kind     EventKind
	Pipeline string
	RunID    string
	TenantID string
	Step     string
	Err      error
	Outcome  *Outcome
}

// Observer receives run events synchronously, in order.
type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
