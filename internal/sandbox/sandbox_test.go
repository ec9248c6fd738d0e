package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"program-trader/internal/decision"
	"program-trader/internal/market"
)

type strategyFunc func(rt *Runtime) (decision.Raw, error)

func (f strategyFunc) ShouldTrade(rt *Runtime) (decision.Raw, error) { return f(rt) }

func testSnapshot() *market.Context {
	snap := &market.Context{TriggerSymbol: "BTC", TriggerType: market.TriggerScheduled}
	market.BindSource(snap, market.NewStore())
	return snap
}

func TestEvaluateReturnsDecision(t *testing.T) {
	strategy := strategyFunc(func(rt *Runtime) (decision.Raw, error) {
		return decision.Raw{Operation: "hold", Symbol: rt.Snapshot().TriggerSymbol}, nil
	})
	result := Evaluate(context.Background(), strategy, testSnapshot(), Budget{}, nil)
	if result.Fault != nil {
		t.Fatalf("unexpected fault: %v", result.Fault)
	}
	if result.Raw.Operation != "hold" || result.Raw.Symbol != "BTC" {
		t.Fatalf("unexpected raw decision: %+v", result.Raw)
	}
	if result.InvocationID == "" {
		t.Fatalf("expected an invocation id")
	}
}

func TestEvaluateStepBudget(t *testing.T) {
	strategy := strategyFunc(func(rt *Runtime) (decision.Raw, error) {
		for {
			rt.Step(1)
		}
	})
	result := Evaluate(context.Background(), strategy, testSnapshot(), Budget{Steps: 100, WallClock: time.Second}, nil)
	if result.Fault == nil || result.Fault.Kind != FaultTimeout {
		t.Fatalf("expected timeout fault, got %v", result.Fault)
	}
	if !strings.Contains(result.Fault.Msg, "step budget") {
		t.Fatalf("expected step budget message, got %q", result.Fault.Msg)
	}
}

func TestEvaluateWallClock(t *testing.T) {
	started := make(chan struct{})
	strategy := strategyFunc(func(rt *Runtime) (decision.Raw, error) {
		close(started)
		time.Sleep(time.Second)
		return decision.Raw{Operation: "hold", Symbol: "BTC"}, nil
	})
	result := Evaluate(context.Background(), strategy, testSnapshot(), Budget{WallClock: 20 * time.Millisecond}, nil)
	<-started
	if result.Fault == nil || result.Fault.Kind != FaultTimeout {
		t.Fatalf("expected timeout fault, got %v", result.Fault)
	}
}

func TestEvaluateErrorBecomesRaisedFault(t *testing.T) {
	strategy := strategyFunc(func(rt *Runtime) (decision.Raw, error) {
		return decision.Raw{}, errors.New("division by zero")
	})
	result := Evaluate(context.Background(), strategy, testSnapshot(), Budget{}, nil)
	if result.Fault == nil || result.Fault.Kind != FaultRaised {
		t.Fatalf("expected raised fault, got %v", result.Fault)
	}
	if !strings.Contains(result.Fault.Msg, "division by zero") {
		t.Fatalf("fault must carry the strategy error, got %q", result.Fault.Msg)
	}
}

func TestEvaluatePanicBecomesRaisedFault(t *testing.T) {
	strategy := strategyFunc(func(rt *Runtime) (decision.Raw, error) {
		panic("boom")
	})
	result := Evaluate(context.Background(), strategy, testSnapshot(), Budget{}, nil)
	if result.Fault == nil || result.Fault.Kind != FaultRaised {
		t.Fatalf("expected raised fault, got %v", result.Fault)
	}
}

func TestEvaluateCapabilityViolation(t *testing.T) {
	strategy := strategyFunc(func(rt *Runtime) (decision.Raw, error) {
		rt.Violation("http_get")
		return decision.Raw{}, nil
	})
	result := Evaluate(context.Background(), strategy, testSnapshot(), Budget{}, nil)
	if result.Fault == nil || result.Fault.Kind != FaultCapabilityViolation {
		t.Fatalf("expected capability fault, got %v", result.Fault)
	}
	if !strings.Contains(result.Fault.Msg, "http_get") {
		t.Fatalf("fault must name the primitive, got %q", result.Fault.Msg)
	}
}

func TestEvaluateFrozenClock(t *testing.T) {
	strategy := strategyFunc(func(rt *Runtime) (decision.Raw, error) {
		first := rt.Now()
		time.Sleep(5 * time.Millisecond)
		if !rt.Now().Equal(first) {
			return decision.Raw{}, errors.New("clock advanced")
		}
		return decision.Raw{Operation: "hold", Symbol: "BTC"}, nil
	})
	snap := testSnapshot()
	result := Evaluate(context.Background(), strategy, snap, Budget{}, nil)
	if result.Fault != nil {
		t.Fatalf("unexpected fault: %v", result.Fault)
	}
}

func TestEvaluateDeterministicAcrossRuns(t *testing.T) {
	strategy := strategyFunc(func(rt *Runtime) (decision.Raw, error) {
		price, err := rt.LastPrice("BTC")
		if err != nil {
			return decision.Raw{}, err
		}
		portion := 0.5
		lev := float64(2)
		max := price * 1.01
		return decision.Raw{
			Operation:     "buy",
			Symbol:        "BTC",
			TargetPortion: &portion,
			Leverage:      &lev,
			MaxPrice:      &max,
		}, nil
	})
	store := market.NewStore()
	store.SetTicker(market.Ticker{Symbol: "BTC", Price: 50000})
	snap := &market.Context{TriggerSymbol: "BTC"}
	market.BindSource(snap, store)

	first := Evaluate(context.Background(), strategy, snap, Budget{}, nil)
	second := Evaluate(context.Background(), strategy, snap, Budget{}, nil)
	if first.Fault != nil || second.Fault != nil {
		t.Fatalf("unexpected faults: %v %v", first.Fault, second.Fault)
	}
	if *first.Raw.MaxPrice != *second.Raw.MaxPrice {
		t.Fatalf("same snapshot must produce same output: %g vs %g", *first.Raw.MaxPrice, *second.Raw.MaxPrice)
	}
	if first.InvocationID == second.InvocationID {
		t.Fatalf("invocation ids must be unique")
	}
	if first.StepsUsed != second.StepsUsed {
		t.Fatalf("step charge must be deterministic: %d vs %d", first.StepsUsed, second.StepsUsed)
	}
}

func TestLogCaptureBounds(t *testing.T) {
	strategy := strategyFunc(func(rt *Runtime) (decision.Raw, error) {
		long := strings.Repeat("x", maxLogLineLen*2)
		rt.Log(long)
		for i := 0; i < maxLogLines+10; i++ {
			rt.Log("line", i)
		}
		return decision.Raw{Operation: "hold", Symbol: "BTC"}, nil
	})
	result := Evaluate(context.Background(), strategy, testSnapshot(), Budget{}, nil)
	if result.Fault != nil {
		t.Fatalf("unexpected fault: %v", result.Fault)
	}
	if len(result.Logs) != maxLogLines+1 {
		t.Fatalf("expected %d captured lines, got %d", maxLogLines+1, len(result.Logs))
	}
	if len(result.Logs[0]) != maxLogLineLen {
		t.Fatalf("expected first line truncated to %d, got %d", maxLogLineLen, len(result.Logs[0]))
	}
	if result.Logs[len(result.Logs)-1] != "(log capture truncated)" {
		t.Fatalf("expected truncation marker, got %q", result.Logs[len(result.Logs)-1])
	}
}

func TestEvaluateNilStrategy(t *testing.T) {
	result := Evaluate(context.Background(), nil, testSnapshot(), Budget{}, nil)
	if result.Fault == nil || result.Fault.Kind != FaultRaised {
		t.Fatalf("expected raised fault for nil strategy, got %v", result.Fault)
	}
}

func TestEvaluateContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	strategy := strategyFunc(func(rt *Runtime) (decision.Raw, error) {
		cancel()
		time.Sleep(time.Second)
		return decision.Raw{}, nil
	})
	result := Evaluate(ctx, strategy, testSnapshot(), Budget{WallClock: 5 * time.Second}, nil)
	if !result.Cancelled {
		t.Fatalf("expected cancelled result")
	}
	if result.Fault != nil {
		t.Fatalf("cancellation must not synthesize a fault, got %v", result.Fault)
	}
}

func TestStepChargesAreCounted(t *testing.T) {
	strategy := strategyFunc(func(rt *Runtime) (decision.Raw, error) {
		for i := 0; i < 7; i++ {
			rt.Step(3)
		}
		return decision.Raw{Operation: "hold", Symbol: "BTC"}, nil
	})
	result := Evaluate(context.Background(), strategy, testSnapshot(), Budget{}, nil)
	if result.Fault != nil {
		t.Fatalf("unexpected fault: %v", result.Fault)
	}
	if result.StepsUsed != 21 {
		t.Fatalf("expected 21 steps, got %d", result.StepsUsed)
	}
}

func TestFaultError(t *testing.T) {
	fault := &Fault{Kind: FaultTimeout, Msg: "step budget exceeded"}
	want := fmt.Sprintf("sandbox fault %s: %s", FaultTimeout, fault.Msg)
	if fault.Error() != want {
		t.Fatalf("expected %q, got %q", want, fault.Error())
	}
}
