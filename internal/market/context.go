package market

import (
	"errors"
	"time"
)

var ErrNoSource = errors.New("market source not bound")

// Context is the frozen snapshot one strategy evaluation runs against. It is
// constructed once per trigger and never mutated afterwards; the bound source
// is read-only. BuiltAt is the instant the snapshot was taken and is the only
// clock a strategy can observe.
type Context struct {
	TriggerSymbol    string      `json:"trigger_symbol"`
	TriggerType      TriggerType `json:"trigger_type"`
	SignalPoolName   string      `json:"signal_pool_name"`
	PoolLogic        PoolLogic   `json:"pool_logic"`
	TriggeredSignals []Signal    `json:"triggered_signals"`
	RegimeSnapshot   *RegimeInfo `json:"regime_snapshot,omitempty"`

	AvailableBalance   float64 `json:"available_balance"`
	TotalEquity        float64 `json:"total_equity"`
	UsedMargin         float64 `json:"used_margin"`
	MarginUsagePercent float64 `json:"margin_usage_percent"`
	MaintenanceMargin  float64 `json:"maintenance_margin"`
	MaxLeverage        int     `json:"max_leverage"`
	DefaultLeverage    int     `json:"default_leverage"`

	Positions    map[string]Position `json:"positions"`
	OpenOrders   []Order             `json:"open_orders"`
	RecentTrades []Trade             `json:"recent_trades"`

	BuiltAt time.Time `json:"built_at"`

	source Source
}

func (c *Context) Position(symbol string) (Position, bool) {
	pos, ok := c.Positions[symbol]
	return pos, ok
}

func (c *Context) Indicator(symbol, name, period string) (IndicatorResult, error) {
	if c.source == nil {
		return IndicatorResult{}, ErrNoSource
	}
	return c.source.Indicator(symbol, name, period)
}

func (c *Context) FlowMetric(symbol, name, period string) (FlowResult, error) {
	if c.source == nil {
		return FlowResult{}, ErrNoSource
	}
	return c.source.FlowMetric(symbol, name, period)
}

func (c *Context) Candles(symbol, period string, count int) ([]Candle, error) {
	if c.source == nil {
		return nil, ErrNoSource
	}
	return c.source.Candles(symbol, period, count)
}

func (c *Context) Regime(symbol, period string) (RegimeInfo, error) {
	if c.source == nil {
		return RegimeInfo{}, ErrNoSource
	}
	return c.source.Regime(symbol, period)
}

func (c *Context) PriceChange(symbol, period string) (float64, error) {
	if c.source == nil {
		return 0, ErrNoSource
	}
	return c.source.PriceChange(symbol, period)
}

func (c *Context) Ticker(symbol string) (Ticker, error) {
	if c.source == nil {
		return Ticker{}, ErrNoSource
	}
	return c.source.Ticker(symbol)
}

func (c *Context) LastPrice(symbol string) (float64, error) {
	ticker, err := c.Ticker(symbol)
	if err != nil {
		return 0, err
	}
	if ticker.Price <= 0 {
		return 0, errors.New("ticker returned invalid price")
	}
	return ticker.Price, nil
}
