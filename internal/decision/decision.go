package decision

type Operation string

const (
	OpBuy   Operation = "buy"
	OpSell  Operation = "sell"
	OpHold  Operation = "hold"
	OpClose Operation = "close"
)

type TimeInForce string

const (
	TifIOC TimeInForce = "IOC"
	TifGTC TimeInForce = "GTC"
	TifALO TimeInForce = "ALO"
)

type Execution string

const (
	ExecMarket Execution = "market"
	ExecLimit  Execution = "limit"
)

const (
	MinPortion  = 0.1
	MaxPortion  = 1.0
	MinLeverage = 1
	MaxLeverage = 50
)

// Raw is the decision-shaped value a strategy returns before validation.
// Optional fields are pointers so absence is distinguishable from zero.
type Raw struct {
	Operation       string   `json:"operation"`
	Symbol          string   `json:"symbol"`
	TargetPortion   *float64 `json:"target_portion_of_balance,omitempty"`
	Leverage        *float64 `json:"leverage,omitempty"`
	MaxPrice        *float64 `json:"max_price,omitempty"`
	MinPrice        *float64 `json:"min_price,omitempty"`
	TimeInForce     string   `json:"time_in_force,omitempty"`
	TakeProfitPrice *float64 `json:"take_profit_price,omitempty"`
	StopLossPrice   *float64 `json:"stop_loss_price,omitempty"`
	TpExecution     string   `json:"tp_execution,omitempty"`
	SlExecution     string   `json:"sl_execution,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	TradingStrategy string   `json:"trading_strategy,omitempty"`
}

// Decision is the validated wire shape handed to the execution dispatcher.
// Field names are the contract with existing strategy programs and must not
// change.
type Decision struct {
	Operation       Operation   `json:"operation"`
	Symbol          string      `json:"symbol"`
	TargetPortion   float64     `json:"target_portion_of_balance,omitempty"`
	Leverage        int         `json:"leverage,omitempty"`
	MaxPrice        float64     `json:"max_price,omitempty"`
	MinPrice        float64     `json:"min_price,omitempty"`
	TimeInForce     TimeInForce `json:"time_in_force,omitempty"`
	TakeProfitPrice float64     `json:"take_profit_price,omitempty"`
	StopLossPrice   float64     `json:"stop_loss_price,omitempty"`
	TpExecution     Execution   `json:"tp_execution,omitempty"`
	SlExecution     Execution   `json:"sl_execution,omitempty"`
	Reason          string      `json:"reason,omitempty"`
	TradingStrategy string      `json:"trading_strategy,omitempty"`
}

func (d Decision) IsHold() bool { return d.Operation == OpHold }

// Hold synthesizes the safe default substituted when a strategy faults or its
// output fails validation.
func Hold(symbol, reason string) Decision {
	return Decision{Operation: OpHold, Symbol: symbol, Reason: reason}
}
