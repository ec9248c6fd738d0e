package decision

import (
	"fmt"
	"math"

	"program-trader/internal/market"
)

type FaultKind string

const (
	FaultMissingField   FaultKind = "missing_field"
	FaultOutOfRange     FaultKind = "out_of_range"
	FaultInvalidEnum    FaultKind = "invalid_enum"
	FaultInconsistentTp FaultKind = "inconsistent_tp_sl"
)

type ValidationFault struct {
	Kind   FaultKind
	Field  string
	Reason string
}

func (f *ValidationFault) Error() string {
	return fmt.Sprintf("validation fault %s on %s: %s", f.Kind, f.Field, f.Reason)
}

func missing(field string) *ValidationFault {
	return &ValidationFault{Kind: FaultMissingField, Field: field, Reason: "required field absent"}
}

func outOfRange(field, reason string) *ValidationFault {
	return &ValidationFault{Kind: FaultOutOfRange, Field: field, Reason: reason}
}

func invalidEnum(field, value string) *ValidationFault {
	return &ValidationFault{Kind: FaultInvalidEnum, Field: field, Reason: fmt.Sprintf("%q is not a member", value)}
}

// Validate checks a raw strategy output and produces the wire Decision.
// closeSide is the side of the open position being closed; it is consulted
// only for operation=close. Semantic checks run in a fixed order and the
// first failure wins; out-of-range values are rejected, never clamped.
func Validate(raw Raw, closeSide market.PositionSide) (Decision, *ValidationFault) {
	if raw.Operation == "" {
		return Decision{}, missing("operation")
	}
	op := Operation(raw.Operation)
	switch op {
	case OpBuy, OpSell, OpHold, OpClose:
	default:
		return Decision{}, invalidEnum("operation", raw.Operation)
	}
	if raw.Symbol == "" {
		return Decision{}, missing("symbol")
	}

	// Hold requires only a symbol; execution fields are dropped even when set.
	if op == OpHold {
		return Decision{
			Operation:       OpHold,
			Symbol:          raw.Symbol,
			Reason:          raw.Reason,
			TradingStrategy: raw.TradingStrategy,
		}, nil
	}

	if raw.TargetPortion == nil {
		return Decision{}, missing("target_portion_of_balance")
	}
	portion := *raw.TargetPortion
	if portion < MinPortion || portion > MaxPortion {
		return Decision{}, outOfRange("target_portion_of_balance", fmt.Sprintf("%g outside [%g, %g]", portion, MinPortion, MaxPortion))
	}

	if raw.Leverage == nil {
		return Decision{}, missing("leverage")
	}
	leverage := *raw.Leverage
	if leverage != math.Trunc(leverage) {
		return Decision{}, outOfRange("leverage", fmt.Sprintf("%g is not an integer", leverage))
	}
	if leverage < MinLeverage || leverage > MaxLeverage {
		return Decision{}, outOfRange("leverage", fmt.Sprintf("%g outside [%d, %d]", leverage, MinLeverage, MaxLeverage))
	}

	wantMax, fault := wantsMaxPrice(op, closeSide)
	if fault != nil {
		return Decision{}, fault
	}
	var maxPrice, minPrice float64
	if wantMax {
		if raw.MaxPrice == nil {
			return Decision{}, missing("max_price")
		}
		maxPrice = *raw.MaxPrice
		if maxPrice <= 0 {
			return Decision{}, outOfRange("max_price", fmt.Sprintf("%g is not strictly positive", maxPrice))
		}
	} else {
		if raw.MinPrice == nil {
			return Decision{}, missing("min_price")
		}
		minPrice = *raw.MinPrice
		if minPrice <= 0 {
			return Decision{}, outOfRange("min_price", fmt.Sprintf("%g is not strictly positive", minPrice))
		}
	}

	if raw.TakeProfitPrice != nil && raw.StopLossPrice != nil {
		tp, sl := *raw.TakeProfitPrice, *raw.StopLossPrice
		if wantMax {
			if tp <= maxPrice || sl >= maxPrice {
				return Decision{}, &ValidationFault{
					Kind:   FaultInconsistentTp,
					Field:  "take_profit_price",
					Reason: fmt.Sprintf("long side requires take_profit %g > max_price %g > stop_loss %g", tp, maxPrice, sl),
				}
			}
		} else {
			if tp >= minPrice || sl <= minPrice {
				return Decision{}, &ValidationFault{
					Kind:   FaultInconsistentTp,
					Field:  "take_profit_price",
					Reason: fmt.Sprintf("short side requires take_profit %g < min_price %g < stop_loss %g", tp, minPrice, sl),
				}
			}
		}
	}

	tif := TifIOC
	if raw.TimeInForce != "" {
		tif = TimeInForce(raw.TimeInForce)
		switch tif {
		case TifIOC, TifGTC, TifALO:
		default:
			return Decision{}, invalidEnum("time_in_force", raw.TimeInForce)
		}
	}
	tpExec, fault := execEnum("tp_execution", raw.TpExecution)
	if fault != nil {
		return Decision{}, fault
	}
	slExec, fault := execEnum("sl_execution", raw.SlExecution)
	if fault != nil {
		return Decision{}, fault
	}

	out := Decision{
		Operation:       op,
		Symbol:          raw.Symbol,
		TargetPortion:   portion,
		Leverage:        int(leverage),
		MaxPrice:        maxPrice,
		MinPrice:        minPrice,
		TimeInForce:     tif,
		TpExecution:     tpExec,
		SlExecution:     slExec,
		Reason:          raw.Reason,
		TradingStrategy: raw.TradingStrategy,
	}
	if raw.TakeProfitPrice != nil {
		out.TakeProfitPrice = *raw.TakeProfitPrice
	}
	if raw.StopLossPrice != nil {
		out.StopLossPrice = *raw.StopLossPrice
	}
	return out, nil
}

// wantsMaxPrice decides which directional price bound the operation needs:
// max_price for buy and close-of-short, min_price for sell and close-of-long.
func wantsMaxPrice(op Operation, closeSide market.PositionSide) (bool, *ValidationFault) {
	switch op {
	case OpBuy:
		return true, nil
	case OpSell:
		return false, nil
	case OpClose:
		switch closeSide {
		case market.SideShort:
			return true, nil
		case market.SideLong:
			return false, nil
		default:
			return false, missing("position side for close")
		}
	}
	return false, invalidEnum("operation", string(op))
}

func execEnum(field, value string) (Execution, *ValidationFault) {
	if value == "" {
		return ExecLimit, nil
	}
	exec := Execution(value)
	switch exec {
	case ExecMarket, ExecLimit:
		return exec, nil
	}
	return "", invalidEnum(field, value)
}
