package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/events"
	"treta/internal/logging"
	"treta/internal/repo"
	"treta/internal/strategy"
)

const (
	PolicyName = "StrategyActionExecutionLayer"

	DefaultTimeout         = 30 * time.Second
	DefaultBreakerFailures = 3
	DefaultBreakerWindow   = 10 * time.Minute

	eventSource = "strategy_action_execution_layer"
)

// Skip reasons reported in Outcome.Reason.
const (
	ReasonBreakerOpen = "circuit_breaker_open"
	reasonNoExecutor  = "no_executor_for:"
)

// Publisher receives the notification events of the layer.
type Publisher interface {
	Push(e events.Event) bool
}

// Outcome is the result of one Execute call.
type Outcome struct {
	Action      domain.StrategyAction `json:"action"`
	ExecutionID int64                 `json:"execution_id,omitempty"`
	Executor    string                `json:"executor"`
	Status      string                `json:"status" enum:"success,failed,failed_timeout,skipped"`
	Reason      string                `json:"reason,omitempty"`
	Output      map[string]any        `json:"output,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// Layer moves pending actions to a terminal status through their executor.
type Layer struct {
	Repo     repo.Repo
	Registry *Registry
	Bus      Publisher
	Log      *zap.Logger
	Now      func() time.Time

	DefaultTimeout  time.Duration
	Timeouts        map[string]time.Duration
	BreakerFailures int
	BreakerWindow   time.Duration
}

func (l Layer) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now().UTC()
}

func (l Layer) timeout(actionType string) time.Duration {
	if d, ok := l.Timeouts[actionType]; ok && d > 0 {
		return d
	}
	if l.DefaultTimeout > 0 {
		return l.DefaultTimeout
	}
	return DefaultTimeout
}

func (l Layer) breaker() (int, time.Duration) {
	n, w := l.BreakerFailures, l.BreakerWindow
	if n <= 0 {
		n = DefaultBreakerFailures
	}
	if w <= 0 {
		w = DefaultBreakerWindow
	}
	return n, w
}

func (l Layer) load(ctx context.Context, actionID string) (domain.StrategyAction, error) {
	a, err := l.Repo.GetStrategyAction(ctx, actionID)
	if errors.Is(err, repo.ErrNotFound) {
		return a, domain.NotFoundError{Kind: "strategy_action", ID: actionID}
	}
	if err != nil {
		return a, err
	}
	if a.Status != domain.ActionPendingConfirmation {
		return a, domain.ConflictError{Code: "action_not_pending", Message: fmt.Sprintf("action %s is %s", actionID, a.Status)}
	}
	return a, nil
}

// Execute runs the pending action actionID and, on success, moves it to
// status (executed or auto_executed). Failures, timeouts and skips leave the
// action pending.
func (l Layer) Execute(ctx context.Context, actionID, status string) (Outcome, error) {
	if status != domain.ActionExecuted && status != domain.ActionAutoExecuted {
		return Outcome{}, domain.ClientError{Code: "invalid_status", Message: "status must be executed or auto_executed"}
	}
	a, err := l.load(ctx, actionID)
	if err != nil {
		return Outcome{Action: a}, err
	}
	log := logging.OrNop(l.Log)
	trace := events.TraceFrom(ctx)
	fields := append(trace.Fields(), zap.String("action_id", a.ID), zap.String("action_type", a.Type))
	timeout := l.timeout(a.Type)
	now := l.now()

	if n, err := l.Repo.ReapStaleExecutions(ctx, a.ID, now.Add(-timeout).Format(time.RFC3339)); err != nil {
		return Outcome{Action: a}, fmt.Errorf("reap stale executions: %w", err)
	} else if n > 0 {
		log.Warn("stale executions reaped", append(fields, zap.Int64("rows", n))...)
	}

	maxFailures, window := l.breaker()
	failures, err := l.Repo.CountRecentFailures(ctx, a.ID, now.Add(-window).Format(time.RFC3339))
	if err != nil {
		return Outcome{Action: a}, fmt.Errorf("count failures: %w", err)
	}
	if failures >= maxFailures {
		out := Outcome{Action: a, Executor: "none", Status: domain.ExecutionSkipped, Reason: ReasonBreakerOpen}
		log.Warn("strategy action skipped: circuit breaker open", append(fields, zap.Int("failures", failures))...)
		return out, l.finishSkipped(ctx, out, status)
	}

	exec, ok := l.Registry.For(a.Type)
	out := Outcome{Action: a, Executor: "none"}
	if ok {
		out.Executor = exec.Name()
	}
	corr := trace.CorrelationID()
	if a.DecisionID != nil {
		corr = *a.DecisionID
	}
	id, err := l.Repo.CreateQueuedExecution(ctx, repo.ExecutionInput{
		ActionID:      a.ID,
		ActionType:    a.Type,
		Executor:      out.Executor,
		RequestID:     trace.RequestID,
		TraceID:       trace.TraceID,
		CorrelationID: corr,
		Input:         a,
	})
	if errors.Is(err, repo.ErrExecutionInFlight) {
		return out, domain.ConflictError{Code: "execution_in_flight", Message: fmt.Sprintf("action %s already has an execution in flight", a.ID)}
	}
	if err != nil {
		return out, fmt.Errorf("queue execution: %w", err)
	}
	out.ExecutionID = id

	if !ok {
		out.Status = domain.ExecutionSkipped
		out.Reason = reasonNoExecutor + a.Type
		log.Warn("no executor for action type", fields...)
		if err := l.Repo.CompleteExecution(ctx, id, domain.ExecutionSkipped, map[string]any{"reason": out.Reason}, ""); err != nil {
			return out, fmt.Errorf("complete execution: %w", err)
		}
		return out, l.finishSkipped(ctx, out, status)
	}

	if err := l.Repo.MarkExecutionRunning(ctx, id); err != nil {
		return out, fmt.Errorf("start execution: %w", err)
	}
	started := time.Now()
	res := run(ctx, exec, a, Params{
		RequestID:       trace.RequestID,
		TraceID:         trace.TraceID,
		CorrelationID:   corr,
		RequestedStatus: status,
		Prompt:          a.Reasoning,
	}, timeout)
	out.Output = res.output
	fields = append(fields, zap.String("executor", out.Executor), zap.Duration("elapsed", time.Since(started)))

	switch {
	case res.timedOut:
		out.Status = domain.ExecutionFailedTimeout
		out.Error = fmt.Sprintf("execution exceeded %s", timeout)
	case res.err != nil:
		out.Status = domain.ExecutionFailed
		out.Error = res.err.Error()
	default:
		out.Status = domain.ExecutionSuccess
	}
	if err := l.Repo.CompleteExecution(ctx, id, out.Status, out.Output, out.Error); err != nil {
		return out, fmt.Errorf("complete execution: %w", err)
	}

	if out.Status != domain.ExecutionSuccess {
		log.Warn("strategy action execution failed", append(fields, zap.String("status", out.Status), zap.String("error", out.Error))...)
		return out, l.finishFailed(ctx, out, status)
	}

	executedAt := l.now().Format(time.RFC3339)
	a.Status = status
	a.ExecutedAt = &executedAt
	if err := l.Repo.UpsertStrategyAction(ctx, a); err != nil {
		return out, fmt.Errorf("update action: %w", err)
	}
	out.Action = a
	log.Info("strategy action executed", append(fields, zap.String("status", status))...)
	return out, l.finishSucceeded(ctx, out, status)
}

type runResult struct {
	output   map[string]any
	err      error
	timedOut bool
}

// run calls the executor under timeout, turning a panic into an error.
func run(ctx context.Context, exec Executor, a domain.StrategyAction, p Params, timeout time.Duration) runResult {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runResult{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		out, err := exec.Execute(runCtx, a, p)
		done <- runResult{output: out, err: err}
	}()

	select {
	case r := <-done:
		if r.output == nil {
			r.output = map[string]any{}
		}
		return r
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return runResult{output: map[string]any{}, err: ctx.Err()}
		}
		return runResult{output: map[string]any{}, timedOut: true}
	}
}

func revenueDelta(a domain.StrategyAction) float64 {
	if a.RevenueDelta == nil {
		return 0
	}
	return *a.RevenueDelta
}

func (l Layer) finishSucceeded(ctx context.Context, out Outcome, status string) error {
	a := out.Action
	if err := l.Repo.RecordDecisionOutcome(ctx, a, domain.ExecutionSuccess, revenueDelta(a), strategy.RiskScore(a.RiskLevel)); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	l.publish(ctx, events.StrategyActionExecuted, out)
	return l.logDecision(ctx, out, status, domain.DecisionAllow, domain.LogExecuted,
		"Strategy action status transitioned to executed state.")
}

func (l Layer) finishFailed(ctx context.Context, out Outcome, status string) error {
	a := out.Action
	if err := l.Repo.RecordDecisionOutcome(ctx, a, domain.ExecutionFailed, revenueDelta(a), strategy.RiskScore(a.RiskLevel)); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	l.publish(ctx, events.StrategyActionFailed, out)
	reason := "Strategy action execution failed."
	if out.Status == domain.ExecutionFailedTimeout {
		reason = "Strategy action execution timed out."
	}
	return l.logDecision(ctx, out, status, domain.DecisionAllow, domain.LogFailed, reason)
}

func (l Layer) finishSkipped(ctx context.Context, out Outcome, status string) error {
	l.publish(ctx, events.StrategyActionSkipped, out)
	return l.logDecision(ctx, out, status, domain.DecisionDeny, domain.LogSkipped, "Strategy action execution skipped: "+out.Reason+".")
}

func (l Layer) publish(ctx context.Context, typ string, out Outcome) {
	if l.Bus == nil {
		return
	}
	trace := events.TraceFrom(ctx)
	l.Bus.Push(events.Event{
		Type: typ,
		Payload: map[string]any{
			"action_id":    out.Action.ID,
			"action":       out.Action,
			"status":       out.Status,
			"executor":     out.Executor,
			"execution_id": out.ExecutionID,
			"reason":       out.Reason,
			"error":        out.Error,
		},
		Source:        eventSource,
		RequestID:     trace.RequestID,
		TraceID:       trace.TraceID,
		ParentEventID: trace.EventID,
		DecisionID:    trace.DecisionID,
	})
}

func (l Layer) logDecision(ctx context.Context, out Outcome, status, decision, logStatus, reason string) error {
	risk := strategy.RiskScore(out.Action.RiskLevel)
	_, err := l.Repo.CreateDecisionLog(ctx, repo.DecisionLogInput{
		DecisionType:   domain.DecisionTypeStrategyAction,
		EntityType:     "action",
		EntityID:       out.Action.ID,
		ActionType:     "execute",
		Decision:       decision,
		RiskScore:      &risk,
		PolicyName:     PolicyName,
		PolicySnapshot: map[string]any{"executor": out.Executor},
		Inputs:         map[string]any{"action_id": out.Action.ID, "requested_status": status},
		Outputs: map[string]any{
			"action":       out.Action,
			"status":       out.Status,
			"execution_id": out.ExecutionID,
			"output":       out.Output,
		},
		Reason:        reason,
		CorrelationID: events.TraceFrom(ctx).CorrelationID(),
		Status:        logStatus,
		Error:         out.Error,
	})
	if err != nil {
		return fmt.Errorf("record execution decision: %w", err)
	}
	return nil
}

// Reject marks a pending action rejected.
func (l Layer) Reject(ctx context.Context, actionID string) (domain.StrategyAction, error) {
	a, err := l.load(ctx, actionID)
	if err != nil {
		return a, err
	}
	a.Status = domain.ActionRejected
	if err := l.Repo.UpsertStrategyAction(ctx, a); err != nil {
		return a, fmt.Errorf("reject action: %w", err)
	}
	risk := strategy.RiskScore(a.RiskLevel)
	_, err = l.Repo.CreateDecisionLog(ctx, repo.DecisionLogInput{
		DecisionType:  domain.DecisionTypeStrategyAction,
		EntityType:    "action",
		EntityID:      a.ID,
		ActionType:    "skip",
		Decision:      domain.DecisionDeny,
		RiskScore:     &risk,
		PolicyName:    PolicyName,
		Inputs:        map[string]any{"action_id": a.ID},
		Outputs:       map[string]any{"action": a},
		Reason:        "Strategy action was rejected by operator.",
		CorrelationID: events.TraceFrom(ctx).CorrelationID(),
		Status:        domain.LogSkipped,
	})
	if err != nil {
		return a, fmt.Errorf("record rejection: %w", err)
	}
	logging.OrNop(l.Log).Info("strategy action rejected", append(events.TraceFields(ctx), zap.String("action_id", a.ID))...)
	return a, nil
}
