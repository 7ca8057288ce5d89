// Package execution runs strategy actions through typed executors and keeps
// the action_executions ledger consistent.
package execution

import (
	"context"
	"sort"

	"treta/internal/domain"
)

// Params is the ambient context handed to an executor.
type Params struct {
	RequestID       string
	TraceID         string
	CorrelationID   string
	RequestedStatus string
	Prompt          string
}

// Executor performs the side effect of one or more action types. A returned
// error is recorded as a failed execution; it never reaches the caller.
type Executor interface {
	Name() string
	Types() []string
	Execute(ctx context.Context, action domain.StrategyAction, p Params) (map[string]any, error)
}

// Registry maps action types to executors. The last registration of a type wins.
type Registry struct {
	byType map[string]Executor
}

func NewRegistry(execs ...Executor) *Registry {
	r := &Registry{byType: map[string]Executor{}}
	for _, e := range execs {
		r.Register(e)
	}
	return r
}

func (r *Registry) Register(e Executor) {
	for _, t := range e.Types() {
		r.byType[t] = e
	}
}

// For returns the executor of actionType, if any.
func (r *Registry) For(actionType string) (Executor, bool) {
	if r == nil {
		return nil, false
	}
	e, ok := r.byType[actionType]
	return e, ok
}

// Types lists the registered action types in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
