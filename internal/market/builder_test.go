package market

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testAccountState() AccountState {
	return AccountState{
		AvailableBalance: 10000,
		TotalEquity:      12000,
		UsedMargin:       2000,
		MaxLeverage:      50,
		DefaultLeverage:  3,
		Positions: map[string]Position{
			"BTC": {Symbol: "BTC", Side: SideLong, Size: 0.5, EntryPrice: 48000},
		},
		OpenOrders: []Order{{OrderID: "o1", Symbol: "BTC", Side: OrderBuy}},
	}
}

func TestBuildFreezesAccountState(t *testing.T) {
	source := NewStore()
	builder := NewBuilder(&StaticAccountSource{State: testAccountState()}, source)

	snapshot, err := builder.Build(context.Background(), Trigger{
		Account:  "acct",
		Strategy: "momentum",
		Type:     TriggerScheduled,
		Symbol:   "BTC",
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if snapshot.AvailableBalance != 10000 || snapshot.TotalEquity != 12000 {
		t.Fatalf("balances not carried: %+v", snapshot)
	}
	if snapshot.TriggerSymbol != "BTC" || snapshot.TriggerType != TriggerScheduled {
		t.Fatalf("trigger fields not carried: %+v", snapshot)
	}
	if snapshot.BuiltAt.IsZero() {
		t.Fatalf("BuiltAt must be stamped")
	}
	pos, ok := snapshot.Position("BTC")
	if !ok || pos.Side != SideLong {
		t.Fatalf("position not carried: %+v %v", pos, ok)
	}
	if len(snapshot.OpenOrders) != 1 {
		t.Fatalf("orders not carried: %d", len(snapshot.OpenOrders))
	}
}

func TestBuildClonesPositions(t *testing.T) {
	state := testAccountState()
	builder := NewBuilder(&StaticAccountSource{State: state}, nil)

	snapshot, err := builder.Build(context.Background(), Trigger{Account: "acct", Type: TriggerScheduled, Symbol: "BTC"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	snapshot.Positions["BTC"] = Position{Symbol: "BTC", Side: SideShort}
	if state.Positions["BTC"].Side != SideLong {
		t.Fatalf("snapshot mutation leaked into the source state")
	}
}

func TestBuildCapturesRegimeForSignalTriggers(t *testing.T) {
	source := NewStore()
	source.SetRegime("BTC", "5m", RegimeInfo{Regime: RegimeBreakout, Confidence: 0.8, Direction: DirectionBullish})
	builder := NewBuilder(&StaticAccountSource{State: testAccountState()}, source)

	signal, err := builder.Build(context.Background(), Trigger{
		Account:  "acct",
		Type:     TriggerSignal,
		Symbol:   "BTC",
		PoolName: "oversold",
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if signal.RegimeSnapshot == nil || signal.RegimeSnapshot.Regime != RegimeBreakout {
		t.Fatalf("signal trigger must capture the default-period regime: %+v", signal.RegimeSnapshot)
	}

	scheduled, err := builder.Build(context.Background(), Trigger{Account: "acct", Type: TriggerScheduled, Symbol: "BTC"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if scheduled.RegimeSnapshot != nil {
		t.Fatalf("scheduled trigger must not capture a regime")
	}
}

func TestBuildRegimePeriodOverride(t *testing.T) {
	source := NewStore()
	source.SetRegime("BTC", "1h", RegimeInfo{Regime: RegimeExhaustion})
	builder := NewBuilder(&StaticAccountSource{State: testAccountState()}, source)

	snapshot, err := builder.Build(context.Background(), Trigger{
		Account:      "acct",
		Type:         TriggerSignal,
		Symbol:       "BTC",
		RegimePeriod: "1h",
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if snapshot.RegimeSnapshot == nil || snapshot.RegimeSnapshot.Regime != RegimeExhaustion {
		t.Fatalf("regime period override not honored: %+v", snapshot.RegimeSnapshot)
	}
}

type failingAccountSource struct{}

func (failingAccountSource) AccountState(ctx context.Context, account string) (AccountState, error) {
	return AccountState{}, errors.New("account backend down")
}

func TestBuildAccountSourceErrors(t *testing.T) {
	builder := NewBuilder(failingAccountSource{}, nil)
	if _, err := builder.Build(context.Background(), Trigger{Account: "acct"}); err == nil {
		t.Fatalf("expected account source error")
	}

	noAccounts := NewBuilder(nil, nil)
	if _, err := noAccounts.Build(context.Background(), Trigger{Account: "acct"}); err == nil {
		t.Fatalf("expected error when account source is missing")
	}
}

func TestContextAccessorsWithoutSource(t *testing.T) {
	c := &Context{TriggerSymbol: "BTC", BuiltAt: time.Now()}
	if _, err := c.Indicator("BTC", "RSI14", "5m"); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
	if _, err := c.Ticker("BTC"); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
	if _, err := c.Candles("BTC", "5m", 1); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
}

func TestContextLastPrice(t *testing.T) {
	source := NewStore()
	source.SetTicker(Ticker{Symbol: "BTC", Price: 50000})
	source.SetTicker(Ticker{Symbol: "BAD", Price: 0})
	c := &Context{}
	BindSource(c, source)

	price, err := c.LastPrice("BTC")
	if err != nil {
		t.Fatalf("last price failed: %v", err)
	}
	if price != 50000 {
		t.Fatalf("unexpected price %v", price)
	}
	if _, err := c.LastPrice("BAD"); err == nil {
		t.Fatalf("zero price must error")
	}
	if c.BuiltAt.IsZero() {
		t.Fatalf("BindSource must stamp BuiltAt on a bare context")
	}
}
