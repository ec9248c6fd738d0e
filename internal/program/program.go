package program

import (
	"fmt"

	"program-trader/internal/decision"
	"program-trader/internal/program/lang"
	"program-trader/internal/sandbox"
)

// Program is a compiled strategy: the restricted intermediate form the
// sandbox actually executes. It implements sandbox.Strategy.
type Program struct {
	name       string
	symbol     string
	params     map[string]float64
	rules      []compiledRule
	holdReason string
}

type compiledRule struct {
	name     string
	when     lang.Node
	template TemplateSource
	fields   map[string]lang.Node
	symbol   lang.Node
}

// The expression fields of a decision template, in wire order.
var templateFields = []string{
	"target_portion_of_balance",
	"leverage",
	"max_price",
	"min_price",
	"take_profit_price",
	"stop_loss_price",
}

func Compile(src *Source) (*Program, error) {
	prog := &Program{
		name:       src.Name,
		symbol:     src.Symbol,
		params:     src.Params,
		holdReason: src.HoldReason,
	}
	if prog.holdReason == "" {
		prog.holdReason = "no rule matched"
	}
	for i, ruleSrc := range src.Rules {
		label := ruleSrc.Name
		if label == "" {
			label = fmt.Sprintf("rule %d", i+1)
		}
		if ruleSrc.When == "" {
			return nil, fmt.Errorf("%s: when expression is required", label)
		}
		when, err := lang.Parse(ruleSrc.When)
		if err != nil {
			return nil, fmt.Errorf("%s: when: %w", label, err)
		}
		rule := compiledRule{
			name:     ruleSrc.Name,
			when:     when,
			template: ruleSrc.Decision,
			fields:   make(map[string]lang.Node),
		}
		exprs := map[string]string{
			"target_portion_of_balance": ruleSrc.Decision.TargetPortion,
			"leverage":                  ruleSrc.Decision.Leverage,
			"max_price":                 ruleSrc.Decision.MaxPrice,
			"min_price":                 ruleSrc.Decision.MinPrice,
			"take_profit_price":         ruleSrc.Decision.TakeProfitPrice,
			"stop_loss_price":           ruleSrc.Decision.StopLossPrice,
		}
		for field, expr := range exprs {
			if expr == "" {
				continue
			}
			node, err := lang.Parse(expr)
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", label, field, err)
			}
			rule.fields[field] = node
		}
		if ruleSrc.Decision.Symbol != "" {
			node, err := lang.Parse(ruleSrc.Decision.Symbol)
			if err != nil {
				return nil, fmt.Errorf("%s: symbol: %w", label, err)
			}
			rule.symbol = node
		}
		prog.rules = append(prog.rules, rule)
	}
	return prog, nil
}

func (r compiledRule) allNodes() []lang.Node {
	nodes := []lang.Node{r.when}
	for _, field := range templateFields {
		if node, ok := r.fields[field]; ok {
			nodes = append(nodes, node)
		}
	}
	if r.symbol != nil {
		nodes = append(nodes, r.symbol)
	}
	return nodes
}

func (p *Program) Name() string { return p.name }

// ShouldTrade walks the rule list in order and emits the first matching
// rule's decision. No match means hold against the trigger symbol.
func (p *Program) ShouldTrade(rt *sandbox.Runtime) (decision.Raw, error) {
	env := newEnv(rt, p.params)
	for _, rule := range p.rules {
		matched, err := lang.EvalBool(rule.when, env)
		if err != nil {
			return decision.Raw{}, err
		}
		if !matched {
			continue
		}
		return p.buildDecision(rule, env)
	}
	return decision.Raw{
		Operation: string(decision.OpHold),
		Symbol:    p.fallbackSymbol(rt),
		Reason:    p.holdReason,
	}, nil
}

func (p *Program) fallbackSymbol(rt *sandbox.Runtime) string {
	if symbol := rt.Snapshot().TriggerSymbol; symbol != "" {
		return symbol
	}
	return p.symbol
}

func (p *Program) buildDecision(rule compiledRule, env *runtimeEnv) (decision.Raw, error) {
	raw := decision.Raw{
		Operation:       rule.template.Operation,
		TimeInForce:     rule.template.TimeInForce,
		TpExecution:     rule.template.TpExecution,
		SlExecution:     rule.template.SlExecution,
		Reason:          rule.template.Reason,
		TradingStrategy: rule.template.TradingStrategy,
	}
	if rule.symbol != nil {
		symbol, err := lang.EvalString(rule.symbol, env)
		if err != nil {
			return decision.Raw{}, fmt.Errorf("symbol: %w", err)
		}
		raw.Symbol = symbol
	} else {
		raw.Symbol = p.fallbackSymbol(env.rt)
	}
	targets := map[string]**float64{
		"target_portion_of_balance": &raw.TargetPortion,
		"leverage":                  &raw.Leverage,
		"max_price":                 &raw.MaxPrice,
		"min_price":                 &raw.MinPrice,
		"take_profit_price":         &raw.TakeProfitPrice,
		"stop_loss_price":           &raw.StopLossPrice,
	}
	for field, node := range rule.fields {
		value, err := lang.EvalNumber(node, env)
		if err != nil {
			return decision.Raw{}, fmt.Errorf("%s: %w", field, err)
		}
		v := value
		*targets[field] = &v
	}
	return raw, nil
}

func langCalls(node lang.Node) []string  { return lang.Calls(node) }
func langIdents(node lang.Node) []string { return lang.Idents(node) }
