package market

import "time"

type TriggerType string

const (
	TriggerSignal    TriggerType = "signal"
	TriggerScheduled TriggerType = "scheduled"
)

type PoolLogic string

const (
	PoolAnd PoolLogic = "AND"
	PoolOr  PoolLogic = "OR"
)

type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

type OrderDirection string

const (
	DirectionOpenLong   OrderDirection = "open_long"
	DirectionOpenShort  OrderDirection = "open_short"
	DirectionCloseLong  OrderDirection = "close_long"
	DirectionCloseShort OrderDirection = "close_short"
)

type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopMarket OrderType = "stop_market"
	OrderTypeStopLimit  OrderType = "stop_limit"
	OrderTypeTpMarket   OrderType = "tp_market"
	OrderTypeTpLimit    OrderType = "tp_limit"
)

type Operator string

const (
	OpLess           Operator = "<"
	OpGreater        Operator = ">"
	OpLessOrEqual    Operator = "<="
	OpGreaterOrEqual Operator = ">="
	OpAbsGreaterThan Operator = "abs_greater_than"
)

type Regime string

const (
	RegimeBreakout     Regime = "breakout"
	RegimeAbsorption   Regime = "absorption"
	RegimeStopHunt     Regime = "stop_hunt"
	RegimeExhaustion   Regime = "exhaustion"
	RegimeTrap         Regime = "trap"
	RegimeContinuation Regime = "continuation"
	RegimeNoise        Regime = "noise"
)

type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

type Position struct {
	Symbol                 string       `json:"symbol"`
	Side                   PositionSide `json:"side"`
	Size                   float64      `json:"size"`
	EntryPrice             float64      `json:"entry_price"`
	UnrealizedPnl          float64      `json:"unrealized_pnl"`
	Leverage               int          `json:"leverage"`
	LiquidationPrice       float64      `json:"liquidation_price"`
	OpenedAt               time.Time    `json:"opened_at"`
	HoldingDurationSeconds int64        `json:"holding_duration_seconds"`
}

type Order struct {
	OrderID      string         `json:"order_id"`
	Symbol       string         `json:"symbol"`
	Side         OrderSide      `json:"side"`
	Direction    OrderDirection `json:"direction"`
	OrderType    OrderType      `json:"order_type"`
	Size         float64        `json:"size"`
	Price        float64        `json:"price"`
	TriggerPrice float64        `json:"trigger_price"`
	ReduceOnly   bool           `json:"reduce_only"`
	Timestamp    time.Time      `json:"timestamp"`
}

type Trade struct {
	Symbol    string       `json:"symbol"`
	Side      PositionSide `json:"side"`
	Size      float64      `json:"size"`
	Price     float64      `json:"price"`
	Timestamp time.Time    `json:"timestamp"`
	Pnl       float64      `json:"pnl"`
	CloseTime time.Time    `json:"close_time"`
}

type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Signal is one evaluated pool condition. The taker_volume metric carries its
// composite fields in TakerVolume; every other metric uses the standard
// operator/threshold shape.
type Signal struct {
	SignalID     string             `json:"signal_id"`
	SignalName   string             `json:"signal_name"`
	Description  string             `json:"description"`
	Metric       string             `json:"metric"`
	TimeWindow   string             `json:"time_window"`
	Operator     Operator           `json:"operator"`
	Threshold    float64            `json:"threshold"`
	CurrentValue float64            `json:"current_value"`
	ConditionMet bool               `json:"condition_met"`
	TakerVolume  *TakerVolumeSignal `json:"taker_volume,omitempty"`
}

type TakerVolumeSignal struct {
	Direction       OrderSide `json:"direction"`
	Buy             float64   `json:"buy"`
	Sell            float64   `json:"sell"`
	Total           float64   `json:"total"`
	Ratio           float64   `json:"ratio"`
	RatioThreshold  float64   `json:"ratio_threshold"`
	VolumeThreshold float64   `json:"volume_threshold"`
	ConditionMet    bool      `json:"condition_met"`
}

type RegimeInfo struct {
	Regime     Regime             `json:"regime"`
	Confidence float64            `json:"confidence"`
	Direction  Direction          `json:"direction"`
	Reason     string             `json:"reason"`
	Indicators map[string]float64 `json:"indicators"`
}

type Ticker struct {
	Symbol       string  `json:"symbol"`
	Price        float64 `json:"price"`
	Change24h    float64 `json:"change24h"`
	Volume24h    float64 `json:"volume24h"`
	Percentage24 float64 `json:"percentage24h"`
}
