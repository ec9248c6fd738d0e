package lang

import (
	"fmt"
	"math"
)

// Value is one of float64, string, bool, map[string]Value, or []Value.
type Value = any

// Env supplies the identifier bindings and the whitelisted function table.
// Step is charged once per evaluated node so expression size and nesting
// count against the execution budget.
type Env interface {
	Step(n int64)
	Lookup(name string) (Value, bool)
	Call(name string, args []Value) (Value, error)
}

type EvalError struct {
	Msg string
}

func (e *EvalError) Error() string { return e.Msg }

func evalErr(format string, args ...any) error {
	return &EvalError{Msg: fmt.Sprintf(format, args...)}
}

// Eval computes a node against the environment.
func Eval(node Node, env Env) (Value, error) {
	env.Step(1)
	switch n := node.(type) {
	case NumberLit:
		return n.Value, nil
	case StringLit:
		return n.Value, nil
	case BoolLit:
		return n.Value, nil
	case Ident:
		value, ok := env.Lookup(n.Name)
		if !ok {
			return nil, evalErr("unknown identifier %q", n.Name)
		}
		return value, nil
	case Field:
		target, err := Eval(n.Target, env)
		if err != nil {
			return nil, err
		}
		record, ok := target.(map[string]Value)
		if !ok {
			return nil, evalErr("field access %q on non-record value", n.Name)
		}
		value, ok := record[n.Name]
		if !ok {
			return nil, evalErr("record has no field %q", n.Name)
		}
		return value, nil
	case Unary:
		return evalUnary(n, env)
	case Binary:
		return evalBinary(n, env)
	case Call:
		args := make([]Value, len(n.Args))
		for i, argNode := range n.Args {
			arg, err := Eval(argNode, env)
			if err != nil {
				return nil, err
			}
			args[i] = arg
		}
		return env.Call(n.Name, args)
	}
	return nil, evalErr("unsupported node %T", node)
}

// EvalBool evaluates a condition expression; a non-boolean result is an
// error, never coerced.
func EvalBool(node Node, env Env) (bool, error) {
	value, err := Eval(node, env)
	if err != nil {
		return false, err
	}
	b, ok := value.(bool)
	if !ok {
		return false, evalErr("condition evaluated to %T, want bool", value)
	}
	return b, nil
}

// EvalNumber evaluates an expression that must produce a number.
func EvalNumber(node Node, env Env) (float64, error) {
	value, err := Eval(node, env)
	if err != nil {
		return 0, err
	}
	f, ok := value.(float64)
	if !ok {
		return 0, evalErr("expression evaluated to %T, want number", value)
	}
	return f, nil
}

// EvalString evaluates an expression that must produce a string.
func EvalString(node Node, env Env) (string, error) {
	value, err := Eval(node, env)
	if err != nil {
		return "", err
	}
	s, ok := value.(string)
	if !ok {
		return "", evalErr("expression evaluated to %T, want string", value)
	}
	return s, nil
}

func evalUnary(n Unary, env Env) (Value, error) {
	operand, err := Eval(n.Operand, env)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "-":
		f, ok := operand.(float64)
		if !ok {
			return nil, evalErr("unary - on %T", operand)
		}
		return -f, nil
	case "!":
		b, ok := operand.(bool)
		if !ok {
			return nil, evalErr("unary ! on %T", operand)
		}
		return !b, nil
	}
	return nil, evalErr("unsupported unary operator %q", n.Op)
}

func evalBinary(n Binary, env Env) (Value, error) {
	// Short-circuit forms evaluate the right side lazily.
	if n.Op == "&&" || n.Op == "||" {
		left, err := EvalBool(n.Left, env)
		if err != nil {
			return nil, err
		}
		if n.Op == "&&" && !left {
			return false, nil
		}
		if n.Op == "||" && left {
			return true, nil
		}
		return EvalBool(n.Right, env)
	}

	left, err := Eval(n.Left, env)
	if err != nil {
		return nil, err
	}
	right, err := Eval(n.Right, env)
	if err != nil {
		return nil, err
	}

	if n.Op == "==" || n.Op == "!=" {
		equal, err := valuesEqual(left, right)
		if err != nil {
			return nil, err
		}
		if n.Op == "!=" {
			return !equal, nil
		}
		return equal, nil
	}

	if n.Op == "+" {
		if ls, ok := left.(string); ok {
			rs, ok := right.(string)
			if !ok {
				return nil, evalErr("cannot concatenate string and %T", right)
			}
			return ls + rs, nil
		}
	}

	lf, lok := left.(float64)
	rf, rok := right.(float64)
	if !lok || !rok {
		return nil, evalErr("operator %q needs numbers, got %T and %T", n.Op, left, right)
	}
	switch n.Op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, evalErr("division by zero")
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, evalErr("modulo by zero")
		}
		return math.Mod(lf, rf), nil
	case "<":
		return lf < rf, nil
	case ">":
		return lf > rf, nil
	case "<=":
		return lf <= rf, nil
	case ">=":
		return lf >= rf, nil
	}
	return nil, evalErr("unsupported operator %q", n.Op)
}

func valuesEqual(left, right Value) (bool, error) {
	switch l := left.(type) {
	case float64:
		r, ok := right.(float64)
		if !ok {
			return false, evalErr("cannot compare number and %T", right)
		}
		return l == r, nil
	case string:
		r, ok := right.(string)
		if !ok {
			return false, evalErr("cannot compare string and %T", right)
		}
		return l == r, nil
	case bool:
		r, ok := right.(bool)
		if !ok {
			return false, evalErr("cannot compare bool and %T", right)
		}
		return l == r, nil
	}
	return false, evalErr("cannot compare %T values", left)
}

// Calls lists every function name referenced by an expression, for static
// whitelist checks before any evaluation runs.
func Calls(node Node) []string {
	var names []string
	walk(node, func(n Node) {
		if call, ok := n.(Call); ok {
			names = append(names, call.Name)
		}
	})
	return names
}

// Idents lists every free identifier referenced by an expression.
func Idents(node Node) []string {
	var names []string
	walk(node, func(n Node) {
		if ident, ok := n.(Ident); ok {
			names = append(names, ident.Name)
		}
	})
	return names
}

func walk(node Node, visit func(Node)) {
	visit(node)
	switch n := node.(type) {
	case Field:
		walk(n.Target, visit)
	case Unary:
		walk(n.Operand, visit)
	case Binary:
		walk(n.Left, visit)
		walk(n.Right, visit)
	case Call:
		for _, arg := range n.Args {
			walk(arg, visit)
		}
	}
}
