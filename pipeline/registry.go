package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// Registry is the explicit, validated list of steps of one pipeline.
type Registry[C RunContext] struct {
	steps []Step[C]
	byID  map[string]Step[C]
}

// NewRegistry validates steps and returns them as a registry. Identifiers and
// orders must be unique, identifiers must not contain '_' and validating
// steps must be ordered before every other step.
func NewRegistry[C RunContext](steps ...Step[C]) (*Registry[C], error) {
	sorted := sortSteps(steps)
	r := &Registry[C]{steps: sorted, byID: make(map[string]Step[C], len(steps))}

	orders := make(map[int]string, len(steps))
	seenMutating := ""
	for _, s := range sorted {
		id := s.Identifier()
		if id == "" || strings.Contains(id, "_") {
			return nil, fmt.Errorf("%w: step identifier %q must be non-empty and contain no '_'", ErrInvalidRegistry, id)
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("%w: duplicate step identifier %q", ErrInvalidRegistry, id)
		}
		if other, dup := orders[s.Order()]; dup {
			return nil, fmt.Errorf("%w: steps %q and %q share order %d", ErrInvalidRegistry, other, id, s.Order())
		}
		if s.Policy() == PolicyValidating && seenMutating != "" {
			return nil, fmt.Errorf("%w: validating step %q is ordered after %q", ErrInvalidRegistry, id, seenMutating)
		}
		if s.Policy() != PolicyValidating && seenMutating == "" {
			seenMutating = id
		}
		r.byID[id] = s
		orders[s.Order()] = id
	}
	return r, nil
}

// Steps returns the steps sorted ascending by order.
func (r *Registry[C]) Steps() []Step[C] {
	out := make([]Step[C], len(r.steps))
	copy(out, r.steps)
	return out
}

func (r *Registry[C]) Lookup(id string) (Step[C], bool) {
	s, ok := r.byID[id]
	return s, ok
}

// Identifiers returns the step identifiers in execution order.
func (r *Registry[C]) Identifiers() []string {
	ids := make([]string, len(r.steps))
	for i, s := range r.steps {
		ids[i] = s.Identifier()
	}
	return ids
}

func sortSteps[C RunContext](steps []Step[C]) []Step[C] {
	sorted := make([]Step[C], len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order() < sorted[j].Order()
	})
	return sorted
}
