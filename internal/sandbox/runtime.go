package sandbox

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"program-trader/internal/market"
)

const (
	maxLogLines   = 64
	maxLogLineLen = 512

	stepLookup = 10
	stepCall   = 1
)

// budgetExceeded and capabilityPanic are thrown by primitives and recovered
// at the evaluation boundary; they never leave the sandbox package.
type budgetExceeded struct{}

type capabilityPanic struct{ name string }

// Runtime is the complete capability surface one evaluation sees: the frozen
// snapshot accessors, a clock pinned to the snapshot instant, bounded logging,
// and nothing else. Every primitive call charges the step budget. A fresh
// Runtime is built per evaluation; nothing is shared between concurrent
// evaluations.
type Runtime struct {
	snapshot     *market.Context
	invocationID string
	frozenNow    time.Time

	steps    atomic.Int64
	maxSteps int64

	logMu    sync.Mutex
	logLines []string
	logFull  bool
}

func newRuntime(snapshot *market.Context, invocationID string, maxSteps int64) *Runtime {
	now := snapshot.BuiltAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return &Runtime{
		snapshot:     snapshot,
		invocationID: invocationID,
		frozenNow:    now,
		maxSteps:     maxSteps,
	}
}

func (rt *Runtime) InvocationID() string { return rt.invocationID }

func (rt *Runtime) Snapshot() *market.Context { return rt.snapshot }

// Step charges n steps and aborts the evaluation once the budget is spent.
func (rt *Runtime) Step(n int64) {
	if rt.maxSteps > 0 && rt.steps.Add(n) > rt.maxSteps {
		panic(budgetExceeded{})
	}
}

func (rt *Runtime) StepsUsed() int64 { return rt.steps.Load() }

// Now returns the instant the snapshot was built. Two reads within one
// evaluation always agree; time never advances mid-run.
func (rt *Runtime) Now() time.Time {
	rt.Step(stepCall)
	return rt.frozenNow
}

// Log records one line attributed to the invocation. Capture is bounded in
// line count and line length; overflow is noted once and further lines are
// dropped. Logging never affects control flow.
func (rt *Runtime) Log(args ...any) {
	rt.Step(stepCall)
	line := fmt.Sprintln(args...)
	if len(line) > 0 && line[len(line)-1] == '\n' {
		line = line[:len(line)-1]
	}
	if len(line) > maxLogLineLen {
		line = line[:maxLogLineLen]
	}
	rt.logMu.Lock()
	defer rt.logMu.Unlock()
	if len(rt.logLines) >= maxLogLines {
		if !rt.logFull {
			rt.logFull = true
			rt.logLines = append(rt.logLines, "(log capture truncated)")
		}
		return
	}
	rt.logLines = append(rt.logLines, line)
}

func (rt *Runtime) capturedLogs() []string {
	rt.logMu.Lock()
	defer rt.logMu.Unlock()
	return append([]string(nil), rt.logLines...)
}

// Violation aborts the evaluation for an attempt to reach a primitive outside
// the whitelist.
func (rt *Runtime) Violation(name string) {
	panic(capabilityPanic{name: name})
}

func (rt *Runtime) Indicator(symbol, name, period string) (market.IndicatorResult, error) {
	rt.Step(stepLookup)
	return rt.snapshot.Indicator(symbol, name, period)
}

func (rt *Runtime) FlowMetric(symbol, name, period string) (market.FlowResult, error) {
	rt.Step(stepLookup)
	return rt.snapshot.FlowMetric(symbol, name, period)
}

func (rt *Runtime) Candles(symbol, period string, count int) ([]market.Candle, error) {
	rt.Step(stepLookup)
	return rt.snapshot.Candles(symbol, period, count)
}

func (rt *Runtime) Regime(symbol, period string) (market.RegimeInfo, error) {
	rt.Step(stepLookup)
	return rt.snapshot.Regime(symbol, period)
}

func (rt *Runtime) PriceChange(symbol, period string) (float64, error) {
	rt.Step(stepLookup)
	return rt.snapshot.PriceChange(symbol, period)
}

func (rt *Runtime) Ticker(symbol string) (market.Ticker, error) {
	rt.Step(stepLookup)
	return rt.snapshot.Ticker(symbol)
}

func (rt *Runtime) LastPrice(symbol string) (float64, error) {
	rt.Step(stepLookup)
	return rt.snapshot.LastPrice(symbol)
}
