package scheduler

import (
	"math"

	"program-trader/internal/market"
)

// Condition is one pool member: the Signal shape minus the live fields,
// which are computed from current metrics at evaluation time.
type Condition struct {
	SignalID    string          `yaml:"signal_id"`
	SignalName  string          `yaml:"signal_name"`
	Description string          `yaml:"description"`
	Metric      string          `yaml:"metric"`
	TimeWindow  string          `yaml:"time_window"`
	Operator    market.Operator `yaml:"operator"`
	Threshold   float64         `yaml:"threshold"`

	// taker_volume composite fields.
	Direction       market.OrderSide `yaml:"direction"`
	RatioThreshold  float64          `yaml:"ratio_threshold"`
	VolumeThreshold float64          `yaml:"volume_threshold"`
}

// Pool is a named set of conditions combined with AND or OR over one or more
// watched symbols.
type Pool struct {
	Name         string           `yaml:"name"`
	Logic        market.PoolLogic `yaml:"logic"`
	Symbols      []string         `yaml:"symbols"`
	RegimePeriod string           `yaml:"regime_period"`
	Conditions   []Condition      `yaml:"conditions"`
}

// Evaluate computes every member condition for symbol and combines them with
// the pool logic. The returned signals are all conditions currently true,
// not just whichever one newly flipped.
func (p Pool) Evaluate(source market.Source, symbol string) (bool, []market.Signal) {
	if len(p.Conditions) == 0 {
		return false, nil
	}
	var signals []market.Signal
	allMet := true
	anyMet := false
	for _, cond := range p.Conditions {
		signal := cond.evaluate(source, symbol)
		if signal.ConditionMet {
			anyMet = true
			signals = append(signals, signal)
		} else {
			allMet = false
		}
	}
	satisfied := anyMet
	if p.Logic == market.PoolAnd {
		satisfied = allMet
	}
	if !satisfied {
		return false, nil
	}
	return true, signals
}

// evaluate fills in the live half of the signal. Both condition shapes reduce
// to a boolean condition_met here, so pool logic treats them identically.
func (c Condition) evaluate(source market.Source, symbol string) market.Signal {
	signal := market.Signal{
		SignalID:    c.SignalID,
		SignalName:  c.SignalName,
		Description: c.Description,
		Metric:      c.Metric,
		TimeWindow:  c.TimeWindow,
		Operator:    c.Operator,
		Threshold:   c.Threshold,
	}
	if c.Metric == "taker_volume" {
		signal.TakerVolume = c.evaluateTakerVolume(source, symbol)
		signal.ConditionMet = signal.TakerVolume.ConditionMet
		return signal
	}
	value, ok := lookupMetric(source, symbol, c.Metric, c.TimeWindow)
	if !ok {
		return signal
	}
	signal.CurrentValue = value
	signal.ConditionMet = applyOperator(c.Operator, value, c.Threshold)
	return signal
}

func (c Condition) evaluateTakerVolume(source market.Source, symbol string) *market.TakerVolumeSignal {
	out := &market.TakerVolumeSignal{
		Direction:       c.Direction,
		RatioThreshold:  c.RatioThreshold,
		VolumeThreshold: c.VolumeThreshold,
	}
	flow, err := source.FlowMetric(symbol, "taker_volume", c.TimeWindow)
	if err != nil {
		return out
	}
	out.Buy = flow.Buy
	out.Sell = flow.Sell
	out.Total = flow.Buy + flow.Sell
	if out.Total > 0 {
		side := flow.Buy
		if c.Direction == market.OrderSell {
			side = flow.Sell
		}
		out.Ratio = side / out.Total
	}
	out.ConditionMet = out.Ratio >= c.RatioThreshold && out.Total >= c.VolumeThreshold
	return out
}

// lookupMetric resolves a condition metric name against the live stores:
// flow families first, price change, then indicators.
func lookupMetric(source market.Source, symbol, metric, window string) (float64, bool) {
	switch metric {
	case "cvd", "oi", "funding", "liquidations":
		flow, err := source.FlowMetric(symbol, metric, window)
		if err != nil {
			return 0, false
		}
		return flow.Current, true
	case "price_change":
		change, err := source.PriceChange(symbol, window)
		if err != nil {
			return 0, false
		}
		return change, true
	}
	result, err := source.Indicator(symbol, metric, window)
	if err != nil {
		return 0, false
	}
	return result.Value, true
}

func applyOperator(op market.Operator, value, threshold float64) bool {
	switch op {
	case market.OpLess:
		return value < threshold
	case market.OpGreater:
		return value > threshold
	case market.OpLessOrEqual:
		return value <= threshold
	case market.OpGreaterOrEqual:
		return value >= threshold
	case market.OpAbsGreaterThan:
		return math.Abs(value) > threshold
	}
	return false
}
