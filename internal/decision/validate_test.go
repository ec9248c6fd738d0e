package decision

import (
	"testing"

	"program-trader/internal/market"
)

func ptr(v float64) *float64 { return &v }

func validBuy() Raw {
	return Raw{
		Operation:     "buy",
		Symbol:        "BTC",
		TargetPortion: ptr(0.5),
		Leverage:      ptr(10),
		MaxPrice:      ptr(50000),
	}
}

func TestValidateBuy(t *testing.T) {
	raw := validBuy()
	raw.TakeProfitPrice = ptr(55000)
	raw.StopLossPrice = ptr(48000)
	raw.TimeInForce = "GTC"
	raw.TpExecution = "market"

	dec, fault := Validate(raw, "")
	if fault != nil {
		t.Fatalf("unexpected fault: %v", fault)
	}
	if dec.Operation != OpBuy || dec.Symbol != "BTC" {
		t.Fatalf("unexpected decision: %+v", dec)
	}
	if dec.Leverage != 10 {
		t.Fatalf("expected leverage 10, got %d", dec.Leverage)
	}
	if dec.MaxPrice != 50000 || dec.MinPrice != 0 {
		t.Fatalf("expected max_price bound only, got max=%g min=%g", dec.MaxPrice, dec.MinPrice)
	}
	if dec.TimeInForce != TifGTC {
		t.Fatalf("expected GTC, got %s", dec.TimeInForce)
	}
	if dec.TpExecution != ExecMarket || dec.SlExecution != ExecLimit {
		t.Fatalf("unexpected executions: %s/%s", dec.TpExecution, dec.SlExecution)
	}
}

func TestValidateSellWantsMinPrice(t *testing.T) {
	raw := Raw{
		Operation:     "sell",
		Symbol:        "ETH",
		TargetPortion: ptr(0.2),
		Leverage:      ptr(3),
		MaxPrice:      ptr(3000),
	}
	_, fault := Validate(raw, "")
	if fault == nil || fault.Kind != FaultMissingField || fault.Field != "min_price" {
		t.Fatalf("expected missing min_price, got %v", fault)
	}
	raw.MinPrice = ptr(2900)
	dec, fault := Validate(raw, "")
	if fault != nil {
		t.Fatalf("unexpected fault: %v", fault)
	}
	if dec.MinPrice != 2900 {
		t.Fatalf("expected min_price 2900, got %g", dec.MinPrice)
	}
}

func TestValidateHoldNeedsOnlySymbol(t *testing.T) {
	dec, fault := Validate(Raw{Operation: "hold", Symbol: "BTC", Reason: "flat market"}, "")
	if fault != nil {
		t.Fatalf("unexpected fault: %v", fault)
	}
	if !dec.IsHold() || dec.Reason != "flat market" {
		t.Fatalf("unexpected hold: %+v", dec)
	}
	if dec.TargetPortion != 0 || dec.Leverage != 0 {
		t.Fatalf("hold must not carry execution fields: %+v", dec)
	}
}

func TestValidateFirstFailureWins(t *testing.T) {
	raw := Raw{
		Operation:     "buy",
		Symbol:        "BTC",
		TargetPortion: ptr(5.0),
		Leverage:      ptr(999),
	}
	_, fault := Validate(raw, "")
	if fault == nil || fault.Field != "target_portion_of_balance" {
		t.Fatalf("expected portion fault first, got %v", fault)
	}
}

func TestValidatePortionBounds(t *testing.T) {
	for _, portion := range []float64{0.0999, 1.0001, -1, 0} {
		raw := validBuy()
		raw.TargetPortion = ptr(portion)
		_, fault := Validate(raw, "")
		if fault == nil || fault.Kind != FaultOutOfRange {
			t.Fatalf("portion %g: expected out_of_range, got %v", portion, fault)
		}
	}
	for _, portion := range []float64{0.1, 1.0} {
		raw := validBuy()
		raw.TargetPortion = ptr(portion)
		if _, fault := Validate(raw, ""); fault != nil {
			t.Fatalf("portion %g: unexpected fault %v", portion, fault)
		}
	}
}

func TestValidateLeverage(t *testing.T) {
	raw := validBuy()
	raw.Leverage = ptr(2.5)
	_, fault := Validate(raw, "")
	if fault == nil || fault.Kind != FaultOutOfRange {
		t.Fatalf("expected non-integer leverage rejection, got %v", fault)
	}
	raw.Leverage = ptr(51)
	_, fault = Validate(raw, "")
	if fault == nil || fault.Kind != FaultOutOfRange {
		t.Fatalf("expected leverage range rejection, got %v", fault)
	}
	raw.Leverage = ptr(0)
	_, fault = Validate(raw, "")
	if fault == nil || fault.Kind != FaultOutOfRange {
		t.Fatalf("expected leverage range rejection, got %v", fault)
	}
}

func TestValidateCloseSide(t *testing.T) {
	raw := Raw{
		Operation:     "close",
		Symbol:        "BTC",
		TargetPortion: ptr(1.0),
		Leverage:      ptr(1),
		MinPrice:      ptr(49000),
	}
	dec, fault := Validate(raw, market.SideLong)
	if fault != nil {
		t.Fatalf("close long: unexpected fault %v", fault)
	}
	if dec.MinPrice != 49000 {
		t.Fatalf("close long expected min_price bound, got %+v", dec)
	}

	raw.MinPrice = nil
	raw.MaxPrice = ptr(51000)
	dec, fault = Validate(raw, market.SideShort)
	if fault != nil {
		t.Fatalf("close short: unexpected fault %v", fault)
	}
	if dec.MaxPrice != 51000 {
		t.Fatalf("close short expected max_price bound, got %+v", dec)
	}

	_, fault = Validate(raw, "")
	if fault == nil || fault.Kind != FaultMissingField {
		t.Fatalf("close without position side must fault, got %v", fault)
	}
}

func TestValidateTpSlConsistency(t *testing.T) {
	raw := validBuy()
	raw.TakeProfitPrice = ptr(49000)
	raw.StopLossPrice = ptr(48000)
	_, fault := Validate(raw, "")
	if fault == nil || fault.Kind != FaultInconsistentTp {
		t.Fatalf("long tp below entry must fault, got %v", fault)
	}

	raw = validBuy()
	raw.TakeProfitPrice = ptr(55000)
	raw.StopLossPrice = ptr(52000)
	_, fault = Validate(raw, "")
	if fault == nil || fault.Kind != FaultInconsistentTp {
		t.Fatalf("long sl above entry must fault, got %v", fault)
	}

	short := Raw{
		Operation:       "sell",
		Symbol:          "BTC",
		TargetPortion:   ptr(0.5),
		Leverage:        ptr(5),
		MinPrice:        ptr(50000),
		TakeProfitPrice: ptr(45000),
		StopLossPrice:   ptr(52000),
	}
	if _, fault := Validate(short, ""); fault != nil {
		t.Fatalf("consistent short tp/sl: unexpected fault %v", fault)
	}
}

func TestValidateEnumRejections(t *testing.T) {
	raw := validBuy()
	raw.TimeInForce = "FOK"
	_, fault := Validate(raw, "")
	if fault == nil || fault.Kind != FaultInvalidEnum || fault.Field != "time_in_force" {
		t.Fatalf("expected tif enum fault, got %v", fault)
	}
	raw = validBuy()
	raw.SlExecution = "twap"
	_, fault = Validate(raw, "")
	if fault == nil || fault.Field != "sl_execution" {
		t.Fatalf("expected sl_execution enum fault, got %v", fault)
	}
	_, fault = Validate(Raw{Operation: "short", Symbol: "BTC"}, "")
	if fault == nil || fault.Kind != FaultInvalidEnum {
		t.Fatalf("expected operation enum fault, got %v", fault)
	}
}

func TestValidateMissingStructural(t *testing.T) {
	_, fault := Validate(Raw{}, "")
	if fault == nil || fault.Field != "operation" {
		t.Fatalf("expected missing operation, got %v", fault)
	}
	_, fault = Validate(Raw{Operation: "buy"}, "")
	if fault == nil || fault.Field != "symbol" {
		t.Fatalf("expected missing symbol, got %v", fault)
	}
}
