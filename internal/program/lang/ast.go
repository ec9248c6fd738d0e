package lang

// Node is one expression tree node. The node set is the whole instruction
// surface of the language: literals, identifier reads, field access, unary
// and binary operators, and calls into the whitelisted function table.
type Node interface {
	node()
}

type NumberLit struct {
	Value float64
}

type StringLit struct {
	Value string
}

type BoolLit struct {
	Value bool
}

type Ident struct {
	Name string
}

type Field struct {
	Target Node
	Name   string
}

type Unary struct {
	Op      string
	Operand Node
}

type Binary struct {
	Op    string
	Left  Node
	Right Node
}

type Call struct {
	Name string
	Args []Node
}

func (NumberLit) node() {}
func (StringLit) node() {}
func (BoolLit) node()   {}
func (Ident) node()     {}
func (Field) node()     {}
func (Unary) node()     {}
func (Binary) node()    {}
func (Call) node()      {}
