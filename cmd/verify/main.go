package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"program-trader/internal/config"
	"program-trader/internal/decision"
	"program-trader/internal/logging"
	"program-trader/internal/market"
	"program-trader/internal/program"
	"program-trader/internal/sandbox"

	"gopkg.in/yaml.v3"
)

func main() {
	programPath := flag.String("program", "", "path to the program file to verify")
	fixturePath := flag.String("fixture", "", "optional snapshot fixture for a dry evaluation")
	flag.Parse()

	if *programPath == "" {
		fatal(fmt.Errorf("-program is required"))
	}

	src, err := program.LoadSource(*programPath)
	if err != nil {
		fatal(err)
	}
	report := program.Validate(src)
	if !report.Valid {
		fmt.Printf("program %s: INVALID\n", src.Name)
		for _, msg := range report.Errors {
			fmt.Printf("  - %s\n", msg)
		}
		os.Exit(1)
	}
	fmt.Printf("program %s: valid (%d rules)\n", src.Name, len(src.Rules))

	if *fixturePath == "" {
		return
	}

	compiled, err := program.Compile(src)
	if err != nil {
		fatal(err)
	}
	snapshot, err := loadFixture(*fixturePath)
	if err != nil {
		fatal(err)
	}

	log := logging.New(config.LoggingConfig{Level: "debug"})
	defer func() { _ = log.Sync() }()

	result := sandbox.Evaluate(context.Background(), compiled, snapshot, sandbox.Budget{}, log)
	fmt.Printf("invocation %s: steps=%d elapsed=%s\n", result.InvocationID, result.StepsUsed, result.Elapsed)
	for _, line := range result.Logs {
		fmt.Printf("  log: %s\n", line)
	}
	if result.Fault != nil {
		fatal(result.Fault)
	}

	closeSide := market.PositionSide("")
	if pos, ok := snapshot.Position(result.Raw.Symbol); ok {
		closeSide = pos.Side
	}
	validated, fault := decision.Validate(result.Raw, closeSide)
	if fault != nil {
		fatal(fault)
	}
	pretty, err := json.MarshalIndent(validated, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Printf("decision:\n%s\n", string(pretty))
}

// fixture is a hand-authored snapshot: account state, the trigger that would
// have fired, and the metric surface the program may read.
type fixture struct {
	Trigger struct {
		Type     string `yaml:"type"`
		Symbol   string `yaml:"symbol"`
		PoolName string `yaml:"pool_name"`
	} `yaml:"trigger"`
	Account struct {
		AvailableBalance float64 `yaml:"available_balance"`
		TotalEquity      float64 `yaml:"total_equity"`
		MaxLeverage      int     `yaml:"max_leverage"`
		DefaultLeverage  int     `yaml:"default_leverage"`
		Positions        []struct {
			Symbol     string  `yaml:"symbol"`
			Side       string  `yaml:"side"`
			Size       float64 `yaml:"size"`
			EntryPrice float64 `yaml:"entry_price"`
			Leverage   int     `yaml:"leverage"`
		} `yaml:"positions"`
	} `yaml:"account"`
	Tickers []struct {
		Symbol string  `yaml:"symbol"`
		Price  float64 `yaml:"price"`
	} `yaml:"tickers"`
	Indicators []struct {
		Symbol string  `yaml:"symbol"`
		Name   string  `yaml:"name"`
		Period string  `yaml:"period"`
		Value  float64 `yaml:"value"`
	} `yaml:"indicators"`
	Flows []struct {
		Symbol  string    `yaml:"symbol"`
		Name    string    `yaml:"name"`
		Period  string    `yaml:"period"`
		Current float64   `yaml:"current"`
		History []float64 `yaml:"history"`
	} `yaml:"flows"`
	PriceChanges []struct {
		Symbol string  `yaml:"symbol"`
		Period string  `yaml:"period"`
		Change float64 `yaml:"change"`
	} `yaml:"price_changes"`
}

func loadFixture(path string) (*market.Context, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}

	store := market.NewStore()
	for _, t := range f.Tickers {
		store.SetTicker(market.Ticker{Symbol: t.Symbol, Price: t.Price})
	}
	for _, ind := range f.Indicators {
		store.SetIndicator(ind.Symbol, ind.Name, ind.Period, market.IndicatorResult{
			Kind:  market.IndicatorValue,
			Value: ind.Value,
		})
	}
	for _, flow := range f.Flows {
		store.SetFlowMetric(flow.Symbol, flow.Name, flow.Period, market.FlowResult{
			Kind:    market.FlowDelta,
			Current: flow.Current,
			History: flow.History,
		})
	}
	for _, pc := range f.PriceChanges {
		store.SetPriceChange(pc.Symbol, pc.Period, pc.Change)
	}

	positions := make(map[string]market.Position, len(f.Account.Positions))
	for _, p := range f.Account.Positions {
		positions[p.Symbol] = market.Position{
			Symbol:     p.Symbol,
			Side:       market.PositionSide(p.Side),
			Size:       p.Size,
			EntryPrice: p.EntryPrice,
			Leverage:   p.Leverage,
		}
	}
	accounts := &market.StaticAccountSource{State: market.AccountState{
		AvailableBalance: f.Account.AvailableBalance,
		TotalEquity:      f.Account.TotalEquity,
		MaxLeverage:      f.Account.MaxLeverage,
		DefaultLeverage:  f.Account.DefaultLeverage,
		Positions:        positions,
	}}
	builder := market.NewBuilder(accounts, store)

	triggerType := market.TriggerType(f.Trigger.Type)
	if triggerType == "" {
		triggerType = market.TriggerScheduled
	}
	return builder.Build(context.Background(), market.Trigger{
		Account:  "verify",
		Strategy: "verify",
		Type:     triggerType,
		Symbol:   f.Trigger.Symbol,
		PoolName: f.Trigger.PoolName,
	})
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
