package market

import (
	"fmt"
	"strings"
)

type IndicatorKind string

const (
	IndicatorValue  IndicatorKind = "value"
	IndicatorSeries IndicatorKind = "series"
	IndicatorMACD   IndicatorKind = "macd"
	IndicatorBands  IndicatorKind = "bands"
	IndicatorStoch  IndicatorKind = "stoch"
)

// IndicatorResult is the fixed-shape record returned by an indicator lookup.
// Kind selects which field group is populated; the shape is resolved from the
// indicator name at lookup time.
type IndicatorResult struct {
	Kind IndicatorKind

	Value  float64
	Series []float64

	MACD      float64
	Signal    float64
	Histogram float64

	Upper  float64
	Middle float64
	Lower  float64

	K float64
	D float64
}

type FlowKind string

const (
	FlowDelta    FlowKind = "delta"
	FlowTwoSided FlowKind = "two_sided"
)

// FlowResult carries a flow metric value: either a single running value with a
// short trailing history (CVD, OI, funding) or a buy/sell split (taker volume).
type FlowResult struct {
	Kind    FlowKind
	Current float64
	Buy     float64
	Sell    float64
	History []float64
}

func (f FlowResult) Total() float64 {
	if f.Kind == FlowTwoSided {
		return f.Buy + f.Sell
	}
	return f.Current
}

// Source is the read-only accessor surface the snapshot builder binds into a
// Context. Implementations may fail a lookup but must never block indefinitely
// and must never expose mutation.
type Source interface {
	Indicator(symbol, name, period string) (IndicatorResult, error)
	FlowMetric(symbol, name, period string) (FlowResult, error)
	Candles(symbol, period string, count int) ([]Candle, error)
	Regime(symbol, period string) (RegimeInfo, error)
	PriceChange(symbol, period string) (float64, error)
	Ticker(symbol string) (Ticker, error)
}

// IndicatorKindFor maps an indicator name to its result shape.
func IndicatorKindFor(name string) (IndicatorKind, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	switch {
	case upper == "":
		return "", fmt.Errorf("indicator name is required")
	case strings.HasPrefix(upper, "MACD"):
		return IndicatorMACD, nil
	case strings.HasPrefix(upper, "BOLL"):
		return IndicatorBands, nil
	case strings.HasPrefix(upper, "KDJ"), strings.HasPrefix(upper, "STOCH"):
		return IndicatorStoch, nil
	case strings.HasPrefix(upper, "EMA"), strings.HasPrefix(upper, "SMA"), strings.HasPrefix(upper, "VWAP"):
		return IndicatorSeries, nil
	default:
		return IndicatorValue, nil
	}
}
