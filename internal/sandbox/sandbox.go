package sandbox

import (
	"context"
	"time"

	"program-trader/internal/decision"
	"program-trader/internal/market"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Strategy is the entire tenant-facing surface: one entry point that receives
// the evaluation runtime and returns a decision-shaped value. No other method
// is recognized.
type Strategy interface {
	ShouldTrade(rt *Runtime) (decision.Raw, error)
}

// Budget bounds one evaluation. Exceeding either limit aborts the run with a
// timeout fault; arbitrary tenant logic must not stall a worker.
type Budget struct {
	WallClock time.Duration
	Steps     int64
}

func (b Budget) withDefaults() Budget {
	if b.WallClock <= 0 {
		b.WallClock = 2 * time.Second
	}
	if b.Steps <= 0 {
		b.Steps = 100_000
	}
	return b
}

// Result is the outcome of one sandboxed evaluation. Exactly one of Raw and
// Fault is meaningful; Logs carries the bounded capture either way. Cancelled
// reports that the host context ended before the strategy finished: that is a
// lifecycle event, not a tenant fault, and carries no Fault.
type Result struct {
	InvocationID string
	Raw          decision.Raw
	Fault        *Fault
	Cancelled    bool
	Logs         []string
	StepsUsed    int64
	Elapsed      time.Duration
}

type outcome struct {
	raw   decision.Raw
	fault *Fault
}

// Evaluate runs one strategy against one frozen snapshot under the budget.
// The strategy runs on its own goroutine; panics and errors become faults at
// this boundary and never reach the caller. On wall-clock expiry the goroutine
// is abandoned and its result, if any, discarded - its step budget guarantees
// it cannot run forever.
func Evaluate(ctx context.Context, strategy Strategy, snapshot *market.Context, budget Budget, log *zap.Logger) Result {
	budget = budget.withDefaults()
	invocationID := uuid.NewString()
	rt := newRuntime(snapshot, invocationID, budget.Steps)
	started := time.Now()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{fault: faultFromPanic(r)}
			}
		}()
		if strategy == nil {
			done <- outcome{fault: raised("no strategy bound")}
			return
		}
		raw, err := strategy.ShouldTrade(rt)
		if err != nil {
			done <- outcome{fault: raised("%v", err)}
			return
		}
		done <- outcome{raw: raw}
	}()

	timer := time.NewTimer(budget.WallClock)
	defer timer.Stop()

	result := Result{InvocationID: invocationID}
	select {
	case out := <-done:
		result.Raw = out.raw
		result.Fault = out.fault
	case <-timer.C:
		result.Fault = &Fault{Kind: FaultTimeout, Msg: "wall clock budget exceeded"}
	case <-ctx.Done():
		result.Cancelled = true
	}
	result.Logs = rt.capturedLogs()
	result.StepsUsed = rt.StepsUsed()
	result.Elapsed = time.Since(started)

	if log != nil {
		for _, line := range result.Logs {
			log.Debug("strategy log", zap.String("invocation_id", invocationID), zap.String("line", line))
		}
		if result.Fault != nil {
			log.Debug("evaluation faulted",
				zap.String("invocation_id", invocationID),
				zap.String("kind", string(result.Fault.Kind)),
				zap.String("msg", result.Fault.Msg),
			)
		}
	}
	return result
}

func faultFromPanic(r any) *Fault {
	switch v := r.(type) {
	case budgetExceeded:
		return &Fault{Kind: FaultTimeout, Msg: "step budget exceeded"}
	case capabilityPanic:
		return &Fault{Kind: FaultCapabilityViolation, Msg: "disallowed primitive: " + v.name}
	default:
		return raised("strategy panicked: %v", v)
	}
}
