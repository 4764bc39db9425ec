package pipeline

import (
	"errors"
	"fmt"
)

var ErrInvalidRegistry = errors.New("invalid step registry")

// ValidationError is returned when a validating step rejects the run. No
// side effect has been performed.
type ValidationError struct {
	Step string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed at step %s: %v", e.Step, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StepError is returned when a step's side effect failed and the completed
// steps were compensated.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ConfigValueNotFoundError is returned by DeletionContext when a value the
// deletion needs is missing from the snapshot.
type ConfigValueNotFoundError struct {
	TenantID string
	Name     string
}

func (e *ConfigValueNotFoundError) Error() string {
	return fmt.Sprintf("configuration value %q not found for tenant %s", e.Name, e.TenantID)
}
