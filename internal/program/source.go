package program

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source is the declarative form a tenant authors: an ordered rule list, each
// a condition expression plus a decision template. Expressions are compiled
// to the restricted language before any execution; there is no way to express
// I/O or iteration in a program.
type Source struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Symbol      string             `yaml:"symbol"`
	Params      map[string]float64 `yaml:"params"`
	Rules       []RuleSource       `yaml:"rules"`
	HoldReason  string             `yaml:"hold_reason"`
}

type RuleSource struct {
	Name     string         `yaml:"name"`
	When     string         `yaml:"when"`
	Decision TemplateSource `yaml:"decision"`
}

// TemplateSource shapes the decision a matched rule emits. Numeric and symbol
// fields are expressions evaluated against the snapshot; operation, the enums
// and the free-text fields are literals.
type TemplateSource struct {
	Operation       string `yaml:"operation"`
	Symbol          string `yaml:"symbol"`
	TargetPortion   string `yaml:"target_portion_of_balance"`
	Leverage        string `yaml:"leverage"`
	MaxPrice        string `yaml:"max_price"`
	MinPrice        string `yaml:"min_price"`
	TimeInForce     string `yaml:"time_in_force"`
	TakeProfitPrice string `yaml:"take_profit_price"`
	StopLossPrice   string `yaml:"stop_loss_price"`
	TpExecution     string `yaml:"tp_execution"`
	SlExecution     string `yaml:"sl_execution"`
	Reason          string `yaml:"reason"`
	TradingStrategy string `yaml:"trading_strategy"`
}

func LoadSource(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSource(data)
}

func ParseSource(data []byte) (*Source, error) {
	var src Source
	if err := yaml.Unmarshal(data, &src); err != nil {
		return nil, fmt.Errorf("program parse failed: %w", err)
	}
	if strings.TrimSpace(src.Name) == "" {
		return nil, errors.New("program name is required")
	}
	return &src, nil
}

// Report is the authoring-time validation result, surfaced by the verify CLI
// before a program is ever scheduled.
type Report struct {
	Valid  bool
	Errors []string
}

// Validate statically checks a program: every expression must parse, every
// called function must be on the whitelist, every identifier must be a known
// snapshot binding, and at least one rule must exist.
func Validate(src *Source) Report {
	var report Report
	if len(src.Rules) == 0 {
		report.Errors = append(report.Errors, "program has no rules")
	}
	compiled, err := Compile(src)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report
	}
	for i, rule := range compiled.rules {
		label := rule.name
		if label == "" {
			label = fmt.Sprintf("rule %d", i+1)
		}
		for _, node := range rule.allNodes() {
			for _, fn := range langCalls(node) {
				if _, ok := builtins[fn]; !ok {
					report.Errors = append(report.Errors, fmt.Sprintf("%s: function %q is not allowed", label, fn))
				}
			}
			for _, ident := range langIdents(node) {
				if !knownIdent(ident) {
					report.Errors = append(report.Errors, fmt.Sprintf("%s: unknown identifier %q", label, ident))
				}
			}
		}
		switch rule.template.Operation {
		case "buy", "sell", "hold", "close":
		default:
			report.Errors = append(report.Errors, fmt.Sprintf("%s: operation %q is not one of buy/sell/hold/close", label, rule.template.Operation))
		}
	}
	report.Valid = len(report.Errors) == 0
	return report
}
