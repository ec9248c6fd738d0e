package scheduler

import (
	"testing"

	"program-trader/internal/market"
)

func poolStore() *market.Store {
	store := market.NewStore()
	store.SetIndicator("BTC", "RSI", "5m", market.IndicatorResult{Kind: market.IndicatorValue, Value: 25})
	store.SetFlowMetric("BTC", "cvd", "15m", market.FlowResult{Kind: market.FlowDelta, Current: -1200})
	store.SetPriceChange("BTC", "1h", -3.5)
	store.SetFlowMetric("BTC", "taker_volume", "5m", market.FlowResult{
		Kind: market.FlowTwoSided,
		Buy:  800,
		Sell: 200,
	})
	return store
}

func TestPoolAndLogic(t *testing.T) {
	pool := Pool{
		Name:  "oversold",
		Logic: market.PoolAnd,
		Conditions: []Condition{
			{SignalName: "rsi low", Metric: "RSI", TimeWindow: "5m", Operator: market.OpLess, Threshold: 30},
			{SignalName: "cvd down", Metric: "cvd", TimeWindow: "15m", Operator: market.OpLess, Threshold: 0},
		},
	}
	satisfied, signals := pool.Evaluate(poolStore(), "BTC")
	if !satisfied {
		t.Fatalf("expected pool satisfied")
	}
	if len(signals) != 2 {
		t.Fatalf("expected both signals, got %d", len(signals))
	}
	if signals[0].CurrentValue != 25 || !signals[0].ConditionMet {
		t.Fatalf("unexpected signal: %+v", signals[0])
	}

	pool.Conditions[1].Threshold = -5000
	satisfied, signals = pool.Evaluate(poolStore(), "BTC")
	if satisfied || signals != nil {
		t.Fatalf("AND with one false condition must not be satisfied")
	}
}

func TestPoolOrLogic(t *testing.T) {
	pool := Pool{
		Name:  "either",
		Logic: market.PoolOr,
		Conditions: []Condition{
			{SignalName: "rsi high", Metric: "RSI", TimeWindow: "5m", Operator: market.OpGreater, Threshold: 70},
			{SignalName: "dump", Metric: "price_change", TimeWindow: "1h", Operator: market.OpAbsGreaterThan, Threshold: 3},
		},
	}
	satisfied, signals := pool.Evaluate(poolStore(), "BTC")
	if !satisfied {
		t.Fatalf("expected OR pool satisfied")
	}
	if len(signals) != 1 || signals[0].SignalName != "dump" {
		t.Fatalf("expected only the true condition, got %+v", signals)
	}
}

func TestPoolTakerVolume(t *testing.T) {
	cond := Condition{
		SignalName:      "buy pressure",
		Metric:          "taker_volume",
		TimeWindow:      "5m",
		Direction:       market.OrderBuy,
		RatioThreshold:  0.7,
		VolumeThreshold: 500,
	}
	pool := Pool{Name: "flow", Logic: market.PoolAnd, Conditions: []Condition{cond}}
	satisfied, signals := pool.Evaluate(poolStore(), "BTC")
	if !satisfied {
		t.Fatalf("expected taker volume condition met")
	}
	tv := signals[0].TakerVolume
	if tv == nil {
		t.Fatalf("expected taker volume payload")
	}
	if tv.Ratio != 0.8 || tv.Total != 1000 {
		t.Fatalf("unexpected ratio/total: %+v", tv)
	}

	cond.VolumeThreshold = 5000
	pool.Conditions = []Condition{cond}
	if satisfied, _ := pool.Evaluate(poolStore(), "BTC"); satisfied {
		t.Fatalf("volume below threshold must not satisfy")
	}

	cond.VolumeThreshold = 500
	cond.Direction = market.OrderSell
	pool.Conditions = []Condition{cond}
	if satisfied, _ := pool.Evaluate(poolStore(), "BTC"); satisfied {
		t.Fatalf("sell ratio 0.2 must not satisfy threshold 0.7")
	}
}

func TestPoolMissingMetricIsFalse(t *testing.T) {
	pool := Pool{
		Name:  "missing",
		Logic: market.PoolAnd,
		Conditions: []Condition{
			{SignalName: "ghost", Metric: "RSI", TimeWindow: "4h", Operator: market.OpLess, Threshold: 30},
		},
	}
	if satisfied, _ := pool.Evaluate(market.NewStore(), "BTC"); satisfied {
		t.Fatalf("missing metric must evaluate false")
	}
}

func TestPoolNoConditions(t *testing.T) {
	pool := Pool{Name: "empty", Logic: market.PoolAnd}
	if satisfied, _ := pool.Evaluate(poolStore(), "BTC"); satisfied {
		t.Fatalf("empty pool must never fire")
	}
}
