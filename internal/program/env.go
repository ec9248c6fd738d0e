package program

import (
	"fmt"
	"math"

	"program-trader/internal/market"
	"program-trader/internal/program/lang"
	"program-trader/internal/sandbox"
)

// runtimeEnv binds the restricted language to one evaluation's Runtime. All
// state reads go through the frozen snapshot; there is nothing else to reach.
type runtimeEnv struct {
	rt     *sandbox.Runtime
	params map[string]float64
}

func newEnv(rt *sandbox.Runtime, params map[string]float64) *runtimeEnv {
	return &runtimeEnv{rt: rt, params: params}
}

func (e *runtimeEnv) Step(n int64) { e.rt.Step(n) }

func (e *runtimeEnv) Lookup(name string) (lang.Value, bool) {
	snap := e.rt.Snapshot()
	switch name {
	case "trigger_symbol":
		return snap.TriggerSymbol, true
	case "trigger_type":
		return string(snap.TriggerType), true
	case "signal_pool_name":
		return snap.SignalPoolName, true
	case "pool_logic":
		return string(snap.PoolLogic), true
	case "available_balance":
		return snap.AvailableBalance, true
	case "total_equity":
		return snap.TotalEquity, true
	case "used_margin":
		return snap.UsedMargin, true
	case "margin_usage_percent":
		return snap.MarginUsagePercent, true
	case "maintenance_margin":
		return snap.MaintenanceMargin, true
	case "max_leverage":
		return float64(snap.MaxLeverage), true
	case "default_leverage":
		return float64(snap.DefaultLeverage), true
	case "signal_count":
		return float64(len(snap.TriggeredSignals)), true
	case "position_count":
		return float64(len(snap.Positions)), true
	case "open_order_count":
		return float64(len(snap.OpenOrders)), true
	case "has_regime":
		return snap.RegimeSnapshot != nil, true
	}
	return nil, false
}

func knownIdent(name string) bool {
	switch name {
	case "trigger_symbol", "trigger_type", "signal_pool_name", "pool_logic",
		"available_balance", "total_equity", "used_margin", "margin_usage_percent",
		"maintenance_margin", "max_leverage", "default_leverage",
		"signal_count", "position_count", "open_order_count", "has_regime":
		return true
	}
	return false
}

type builtin func(e *runtimeEnv, args []lang.Value) (lang.Value, error)

// Call dispatches into the whitelist. An unknown name is a capability
// violation, not a soft error: the attempt itself aborts the evaluation.
func (e *runtimeEnv) Call(name string, args []lang.Value) (lang.Value, error) {
	fn, ok := builtins[name]
	if !ok {
		e.rt.Violation(name)
	}
	return fn(e, args)
}

var builtins = map[string]builtin{
	"abs":   mathUnary(math.Abs),
	"floor": mathUnary(math.Floor),
	"ceil":  mathUnary(math.Ceil),
	"round": mathUnary(math.Round),
	"sqrt":  mathUnary(math.Sqrt),
	"exp":   mathUnary(math.Exp),
	"ln": mathUnary(func(v float64) float64 {
		return math.Log(v)
	}),
	"pow": func(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
		x, y, err := twoNumbers("pow", args)
		if err != nil {
			return nil, err
		}
		return math.Pow(x, y), nil
	},
	"min": func(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
		x, y, err := twoNumbers("min", args)
		if err != nil {
			return nil, err
		}
		return math.Min(x, y), nil
	},
	"max": func(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
		x, y, err := twoNumbers("max", args)
		if err != nil {
			return nil, err
		}
		return math.Max(x, y), nil
	},
	"now": func(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
		if len(args) != 0 {
			return nil, fmt.Errorf("now takes no arguments")
		}
		return float64(e.rt.Now().Unix()), nil
	},
	"log": func(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
		e.rt.Log(args...)
		return true, nil
	},
	"param": func(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
		name, err := oneString("param", args)
		if err != nil {
			return nil, err
		}
		value, ok := e.params[name]
		if !ok {
			return nil, fmt.Errorf("param %q is not defined", name)
		}
		return value, nil
	},
	"indicator":    builtinIndicator,
	"flow":         builtinFlow,
	"candles":      builtinCandles,
	"regime":       builtinRegime,
	"price_change": builtinPriceChange,
	"price":        builtinPrice,
	"ticker":       builtinTicker,
	"has_position": builtinHasPosition,
	"position":     builtinPosition,
	"signal":       builtinSignal,
	"len":          builtinLen,
	"nth":          builtinNth,
	"last":         builtinLast,
}

func builtinIndicator(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
	symbol, name, period, err := threeStrings("indicator", args)
	if err != nil {
		return nil, err
	}
	result, err := e.rt.Indicator(symbol, name, period)
	if err != nil {
		return nil, err
	}
	record := map[string]lang.Value{}
	switch result.Kind {
	case market.IndicatorMACD:
		record["macd"] = result.MACD
		record["signal"] = result.Signal
		record["histogram"] = result.Histogram
	case market.IndicatorBands:
		record["upper"] = result.Upper
		record["middle"] = result.Middle
		record["lower"] = result.Lower
	case market.IndicatorStoch:
		record["k"] = result.K
		record["d"] = result.D
	case market.IndicatorSeries:
		record["value"] = result.Value
		record["series"] = floatList(result.Series)
	default:
		record["value"] = result.Value
	}
	return record, nil
}

func builtinFlow(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
	symbol, name, period, err := threeStrings("flow", args)
	if err != nil {
		return nil, err
	}
	result, err := e.rt.FlowMetric(symbol, name, period)
	if err != nil {
		return nil, err
	}
	return map[string]lang.Value{
		"current": result.Current,
		"buy":     result.Buy,
		"sell":    result.Sell,
		"total":   result.Total(),
		"history": floatList(result.History),
	}, nil
}

func builtinCandles(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("candles takes (symbol, period, count)")
	}
	symbol, ok1 := args[0].(string)
	period, ok2 := args[1].(string)
	count, ok3 := args[2].(float64)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("candles takes (symbol, period, count)")
	}
	series, err := e.rt.Candles(symbol, period, int(count))
	if err != nil {
		return nil, err
	}
	out := make([]lang.Value, len(series))
	for i, c := range series {
		out[i] = map[string]lang.Value{
			"timestamp": float64(c.Timestamp.Unix()),
			"open":      c.Open,
			"high":      c.High,
			"low":       c.Low,
			"close":     c.Close,
			"volume":    c.Volume,
		}
	}
	return out, nil
}

func builtinRegime(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
	symbol, period, err := twoStrings("regime", args)
	if err != nil {
		return nil, err
	}
	info, err := e.rt.Regime(symbol, period)
	if err != nil {
		return nil, err
	}
	return regimeRecord(info), nil
}

func builtinPriceChange(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
	symbol, period, err := twoStrings("price_change", args)
	if err != nil {
		return nil, err
	}
	change, err := e.rt.PriceChange(symbol, period)
	if err != nil {
		return nil, err
	}
	return change, nil
}

func builtinPrice(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
	symbol, err := oneString("price", args)
	if err != nil {
		return nil, err
	}
	price, err := e.rt.LastPrice(symbol)
	if err != nil {
		return nil, err
	}
	return price, nil
}

func builtinTicker(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
	symbol, err := oneString("ticker", args)
	if err != nil {
		return nil, err
	}
	ticker, err := e.rt.Ticker(symbol)
	if err != nil {
		return nil, err
	}
	return map[string]lang.Value{
		"price":     ticker.Price,
		"change24h": ticker.Change24h,
		"volume24h": ticker.Volume24h,
	}, nil
}

func builtinHasPosition(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
	symbol, err := oneString("has_position", args)
	if err != nil {
		return nil, err
	}
	e.rt.Step(1)
	_, ok := e.rt.Snapshot().Position(symbol)
	return ok, nil
}

func builtinPosition(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
	symbol, err := oneString("position", args)
	if err != nil {
		return nil, err
	}
	e.rt.Step(1)
	pos, ok := e.rt.Snapshot().Position(symbol)
	if !ok {
		return nil, fmt.Errorf("no open position for %s", symbol)
	}
	return map[string]lang.Value{
		"side":              string(pos.Side),
		"size":              pos.Size,
		"entry_price":       pos.EntryPrice,
		"unrealized_pnl":    pos.UnrealizedPnl,
		"leverage":          float64(pos.Leverage),
		"liquidation_price": pos.LiquidationPrice,
		"holding_seconds":   float64(pos.HoldingDurationSeconds),
	}, nil
}

func builtinSignal(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("signal takes an index")
	}
	index, ok := args[0].(float64)
	if !ok {
		return nil, fmt.Errorf("signal takes an index")
	}
	e.rt.Step(1)
	signals := e.rt.Snapshot().TriggeredSignals
	i := int(index)
	if i < 0 || i >= len(signals) {
		return nil, fmt.Errorf("signal index %d out of range", i)
	}
	sig := signals[i]
	record := map[string]lang.Value{
		"name":      sig.SignalName,
		"metric":    sig.Metric,
		"window":    sig.TimeWindow,
		"value":     sig.CurrentValue,
		"threshold": sig.Threshold,
		"met":       sig.ConditionMet,
	}
	if sig.TakerVolume != nil {
		record["buy"] = sig.TakerVolume.Buy
		record["sell"] = sig.TakerVolume.Sell
		record["total"] = sig.TakerVolume.Total
		record["ratio"] = sig.TakerVolume.Ratio
	}
	return record, nil
}

func builtinLen(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("len takes one argument")
	}
	switch v := args[0].(type) {
	case []lang.Value:
		return float64(len(v)), nil
	case string:
		return float64(len(v)), nil
	}
	return nil, fmt.Errorf("len takes a list or string")
}

func builtinNth(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("nth takes (list, index)")
	}
	list, ok1 := args[0].([]lang.Value)
	index, ok2 := args[1].(float64)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("nth takes (list, index)")
	}
	i := int(index)
	if i < 0 || i >= len(list) {
		return nil, fmt.Errorf("nth index %d out of range", i)
	}
	return list[i], nil
}

func builtinLast(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("last takes a list")
	}
	list, ok := args[0].([]lang.Value)
	if !ok {
		return nil, fmt.Errorf("last takes a list")
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("last on empty list")
	}
	return list[len(list)-1], nil
}

func regimeRecord(info market.RegimeInfo) map[string]lang.Value {
	indicators := map[string]lang.Value{}
	for name, value := range info.Indicators {
		indicators[name] = value
	}
	return map[string]lang.Value{
		"regime":     string(info.Regime),
		"confidence": info.Confidence,
		"direction":  string(info.Direction),
		"reason":     info.Reason,
		"indicators": indicators,
	}
}

func floatList(values []float64) []lang.Value {
	out := make([]lang.Value, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func mathUnary(fn func(float64) float64) builtin {
	return func(e *runtimeEnv, args []lang.Value) (lang.Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected one numeric argument")
		}
		v, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("expected one numeric argument, got %T", args[0])
		}
		return fn(v), nil
	}
}

func oneString(name string, args []lang.Value) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s takes one string argument", name)
	}
	s, ok := args[0].(string)
	if !ok {
		return "", fmt.Errorf("%s takes one string argument, got %T", name, args[0])
	}
	return s, nil
}

func twoStrings(name string, args []lang.Value) (string, string, error) {
	if len(args) != 2 {
		return "", "", fmt.Errorf("%s takes two string arguments", name)
	}
	a, ok1 := args[0].(string)
	b, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return "", "", fmt.Errorf("%s takes two string arguments", name)
	}
	return a, b, nil
}

func threeStrings(name string, args []lang.Value) (string, string, string, error) {
	if len(args) != 3 {
		return "", "", "", fmt.Errorf("%s takes (symbol, name, period)", name)
	}
	a, ok1 := args[0].(string)
	b, ok2 := args[1].(string)
	c, ok3 := args[2].(string)
	if !ok1 || !ok2 || !ok3 {
		return "", "", "", fmt.Errorf("%s takes (symbol, name, period)", name)
	}
	return a, b, c, nil
}

func twoNumbers(name string, args []lang.Value) (float64, float64, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("%s takes two numeric arguments", name)
	}
	x, ok1 := args[0].(float64)
	y, ok2 := args[1].(float64)
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("%s takes two numeric arguments", name)
	}
	return x, y, nil
}
