package program

import (
	"context"
	"strings"
	"testing"

	"program-trader/internal/market"
	"program-trader/internal/sandbox"
)

const momentumSource = `
name: momentum
symbol: BTC
params:
  rsi_floor: 30
  rsi_ceiling: 70
hold_reason: waiting for setup
rules:
  - name: oversold entry
    when: indicator(trigger_symbol, "RSI", "5m").value < param("rsi_floor") && !has_position(trigger_symbol)
    decision:
      operation: buy
      target_portion_of_balance: "0.5"
      leverage: "5"
      max_price: price(trigger_symbol) * 1.01
      take_profit_price: price(trigger_symbol) * 1.05
      stop_loss_price: price(trigger_symbol) * 0.97
      time_in_force: GTC
      reason: RSI oversold
  - name: overbought exit
    when: indicator(trigger_symbol, "RSI", "5m").value > param("rsi_ceiling") && has_position(trigger_symbol)
    decision:
      operation: close
      target_portion_of_balance: "1.0"
      leverage: "1"
      min_price: price(trigger_symbol) * 0.99
      reason: RSI overbought
`

func compileMomentum(t *testing.T) *Program {
	t.Helper()
	src, err := ParseSource([]byte(momentumSource))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if report := Validate(src); !report.Valid {
		t.Fatalf("validate: %v", report.Errors)
	}
	prog, err := Compile(src)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return prog
}

func snapshotWith(t *testing.T, rsi float64, positions map[string]market.Position) *market.Context {
	t.Helper()
	store := market.NewStore()
	store.SetIndicator("BTC", "RSI", "5m", market.IndicatorResult{Kind: market.IndicatorValue, Value: rsi})
	store.SetTicker(market.Ticker{Symbol: "BTC", Price: 50000})
	snap := &market.Context{
		TriggerSymbol: "BTC",
		TriggerType:   market.TriggerSignal,
		Positions:     positions,
	}
	market.BindSource(snap, store)
	return snap
}

func evaluate(t *testing.T, prog *Program, snap *market.Context) sandbox.Result {
	t.Helper()
	return sandbox.Evaluate(context.Background(), prog, snap, sandbox.Budget{}, nil)
}

func TestShouldTradeFirstMatchWins(t *testing.T) {
	prog := compileMomentum(t)
	result := evaluate(t, prog, snapshotWith(t, 25, nil))
	if result.Fault != nil {
		t.Fatalf("unexpected fault: %v", result.Fault)
	}
	raw := result.Raw
	if raw.Operation != "buy" || raw.Symbol != "BTC" {
		t.Fatalf("unexpected decision: %+v", raw)
	}
	if raw.TargetPortion == nil || *raw.TargetPortion != 0.5 {
		t.Fatalf("unexpected portion: %+v", raw.TargetPortion)
	}
	if raw.MaxPrice == nil || *raw.MaxPrice != 50000*1.01 {
		t.Fatalf("unexpected max_price: %+v", raw.MaxPrice)
	}
	if raw.TimeInForce != "GTC" || raw.Reason != "RSI oversold" {
		t.Fatalf("unexpected literals: %+v", raw)
	}
}

func TestShouldTradeSecondRule(t *testing.T) {
	prog := compileMomentum(t)
	positions := map[string]market.Position{
		"BTC": {Symbol: "BTC", Side: market.SideLong, Size: 1},
	}
	result := evaluate(t, prog, snapshotWith(t, 80, positions))
	if result.Fault != nil {
		t.Fatalf("unexpected fault: %v", result.Fault)
	}
	if result.Raw.Operation != "close" {
		t.Fatalf("expected close, got %+v", result.Raw)
	}
	if result.Raw.MinPrice == nil || *result.Raw.MinPrice != 50000*0.99 {
		t.Fatalf("unexpected min_price: %+v", result.Raw.MinPrice)
	}
}

func TestShouldTradeHoldFallback(t *testing.T) {
	prog := compileMomentum(t)
	result := evaluate(t, prog, snapshotWith(t, 50, nil))
	if result.Fault != nil {
		t.Fatalf("unexpected fault: %v", result.Fault)
	}
	if result.Raw.Operation != "hold" || result.Raw.Symbol != "BTC" {
		t.Fatalf("expected hold on BTC, got %+v", result.Raw)
	}
	if result.Raw.Reason != "waiting for setup" {
		t.Fatalf("expected authored hold reason, got %q", result.Raw.Reason)
	}
}

func TestHoldFallbackUsesProgramSymbol(t *testing.T) {
	src, err := ParseSource([]byte(`
name: idle
symbol: ETH
rules:
  - when: 1 > 2
    decision:
      operation: hold
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	prog, err := Compile(src)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	snap := &market.Context{TriggerType: market.TriggerScheduled}
	market.BindSource(snap, market.NewStore())
	result := evaluate(t, prog, snap)
	if result.Fault != nil {
		t.Fatalf("unexpected fault: %v", result.Fault)
	}
	if result.Raw.Operation != "hold" || result.Raw.Symbol != "ETH" {
		t.Fatalf("expected program symbol fallback, got %+v", result.Raw)
	}
}

func TestUnknownFunctionIsCapabilityViolation(t *testing.T) {
	src, err := ParseSource([]byte(`
name: rogue
rules:
  - when: fetch_url("https://example.com") == "up"
    decision:
      operation: hold
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if report := Validate(src); report.Valid {
		t.Fatalf("static validation must reject fetch_url")
	}
	prog, err := Compile(src)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	result := evaluate(t, prog, snapshotWith(t, 50, nil))
	if result.Fault == nil || result.Fault.Kind != sandbox.FaultCapabilityViolation {
		t.Fatalf("expected capability violation, got %v", result.Fault)
	}
	if !strings.Contains(result.Fault.Msg, "fetch_url") {
		t.Fatalf("fault must name the primitive, got %q", result.Fault.Msg)
	}
}

func TestValidateRejectsUnknownIdent(t *testing.T) {
	src, err := ParseSource([]byte(`
name: bad
rules:
  - when: wallet_secret > 0
    decision:
      operation: hold
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	report := Validate(src)
	if report.Valid {
		t.Fatalf("expected invalid report")
	}
	found := false
	for _, msg := range report.Errors {
		if strings.Contains(msg, "wallet_secret") {
			found = true
		}
	}
	if !found {
		t.Fatalf("errors must name the identifier: %v", report.Errors)
	}
}

func TestValidateRejectsBadOperation(t *testing.T) {
	src, err := ParseSource([]byte(`
name: bad
rules:
  - when: "true"
    decision:
      operation: short
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if report := Validate(src); report.Valid {
		t.Fatalf("operation short must be rejected")
	}
}

func TestValidateRejectsEmptyRules(t *testing.T) {
	src, err := ParseSource([]byte("name: empty\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if report := Validate(src); report.Valid {
		t.Fatalf("program with no rules must be invalid")
	}
}

func TestCompileRejectsBadExpression(t *testing.T) {
	src, err := ParseSource([]byte(`
name: bad
rules:
  - name: broken
    when: "rsi <"
    decision:
      operation: hold
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Compile(src); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestParseSourceRequiresName(t *testing.T) {
	if _, err := ParseSource([]byte("symbol: BTC\n")); err == nil {
		t.Fatalf("expected error for missing name")
	}
}

func TestRuntimeErrorBecomesFault(t *testing.T) {
	src, err := ParseSource([]byte(`
name: divzero
symbol: BTC
rules:
  - when: available_balance / position_count > 0
    decision:
      operation: hold
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	prog, err := Compile(src)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	snap := &market.Context{AvailableBalance: 100}
	market.BindSource(snap, market.NewStore())
	result := sandbox.Evaluate(context.Background(), prog, snap, sandbox.Budget{}, nil)
	if result.Fault == nil || result.Fault.Kind != sandbox.FaultRaised {
		t.Fatalf("expected raised fault for division by zero, got %v", result.Fault)
	}
}

func TestParamAndLogBuiltins(t *testing.T) {
	src, err := ParseSource([]byte(`
name: logger
symbol: BTC
params:
  floor: 10
rules:
  - when: log("checking", param("floor")) && param("floor") < 20
    decision:
      operation: hold
      reason: logged
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	prog, err := Compile(src)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	snap := &market.Context{}
	market.BindSource(snap, market.NewStore())
	result := sandbox.Evaluate(context.Background(), prog, snap, sandbox.Budget{}, nil)
	if result.Fault != nil {
		t.Fatalf("unexpected fault: %v", result.Fault)
	}
	if result.Raw.Reason != "logged" {
		t.Fatalf("expected logged rule to match, got %+v", result.Raw)
	}
	if len(result.Logs) != 1 || !strings.Contains(result.Logs[0], "checking") {
		t.Fatalf("expected one captured log line, got %v", result.Logs)
	}
}
