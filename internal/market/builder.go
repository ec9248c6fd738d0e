package market

import (
	"context"
	"errors"
	"time"
)

// AccountState is the account-side half of a snapshot.
type AccountState struct {
	AvailableBalance   float64
	TotalEquity        float64
	UsedMargin         float64
	MarginUsagePercent float64
	MaintenanceMargin  float64
	MaxLeverage        int
	DefaultLeverage    int
	Positions          map[string]Position
	OpenOrders         []Order
	RecentTrades       []Trade
}

// AccountSource produces the account state for one account at trigger time.
// The real implementation lives in the surrounding system; tests and the
// verify CLI use StaticAccountSource.
type AccountSource interface {
	AccountState(ctx context.Context, account string) (AccountState, error)
}

type StaticAccountSource struct {
	State AccountState
}

func (s *StaticAccountSource) AccountState(ctx context.Context, account string) (AccountState, error) {
	_ = ctx
	_ = account
	return s.State, nil
}

// Trigger describes why a snapshot is being built.
type Trigger struct {
	Account          string
	Strategy         string
	Type             TriggerType
	Symbol           string
	PoolName         string
	PoolLogic        PoolLogic
	TriggeredSignals []Signal
	RegimePeriod     string
}

// Builder materializes an immutable Context per trigger: account state from
// the AccountSource plus the read-only metric surface. For signal triggers the
// current regime is captured once here; scheduled triggers carry none.
type Builder struct {
	accounts AccountSource
	source   Source
}

func NewBuilder(accounts AccountSource, source Source) *Builder {
	return &Builder{accounts: accounts, source: source}
}

func (b *Builder) Build(ctx context.Context, trigger Trigger) (*Context, error) {
	if b.accounts == nil {
		return nil, errors.New("account source is required")
	}
	state, err := b.accounts.AccountState(ctx, trigger.Account)
	if err != nil {
		return nil, err
	}
	snapshot := &Context{
		TriggerSymbol:      trigger.Symbol,
		TriggerType:        trigger.Type,
		SignalPoolName:     trigger.PoolName,
		PoolLogic:          trigger.PoolLogic,
		TriggeredSignals:   append([]Signal(nil), trigger.TriggeredSignals...),
		AvailableBalance:   state.AvailableBalance,
		TotalEquity:        state.TotalEquity,
		UsedMargin:         state.UsedMargin,
		MarginUsagePercent: state.MarginUsagePercent,
		MaintenanceMargin:  state.MaintenanceMargin,
		MaxLeverage:        state.MaxLeverage,
		DefaultLeverage:    state.DefaultLeverage,
		Positions:          clonePositions(state.Positions),
		OpenOrders:         append([]Order(nil), state.OpenOrders...),
		RecentTrades:       append([]Trade(nil), state.RecentTrades...),
		BuiltAt:            time.Now().UTC(),
		source:             b.source,
	}
	if trigger.Type == TriggerSignal && trigger.Symbol != "" && b.source != nil {
		period := trigger.RegimePeriod
		if period == "" {
			period = "5m"
		}
		if info, err := b.source.Regime(trigger.Symbol, period); err == nil {
			snapshot.RegimeSnapshot = &info
		}
	}
	return snapshot, nil
}

// BindSource attaches an accessor surface to a hand-built Context. Intended
// for tests and the verify CLI, where the Context literal is written directly.
func BindSource(c *Context, source Source) {
	c.source = source
	if c.BuiltAt.IsZero() {
		c.BuiltAt = time.Now().UTC()
	}
}

func clonePositions(in map[string]Position) map[string]Position {
	out := make(map[string]Position, len(in))
	for symbol, pos := range in {
		out[symbol] = pos
	}
	return out
}
