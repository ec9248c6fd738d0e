package lang

import (
	"fmt"
	"strconv"
)

// Parse compiles a source expression into an AST. Only expressions exist in
// the language; an empty source is a syntax error, not an implicit true.
func Parse(src string) (Node, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %q after expression", tok.text)}
	}
	return node, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("expected %s, got %q", what, tok.text)}
	}
	return tok, nil
}

func bindingPower(op string) int {
	switch op {
	case "||":
		return 10
	case "&&":
		return 20
	case "==", "!=":
		return 30
	case "<", ">", "<=", ">=":
		return 40
	case "+", "-":
		return 50
	case "*", "/", "%":
		return 60
	}
	return 0
}

func (p *parser) parseExpr(minBP int) (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokenOp {
			break
		}
		bp := bindingPower(tok.text)
		if bp == 0 || bp <= minBP {
			break
		}
		p.next()
		right, err := p.parseExpr(bp)
		if err != nil {
			return nil, err
		}
		left = Binary{Op: tok.text, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.kind == tokenOp && (tok.text == "-" || tok.text == "!") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: tok.text, Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenDot {
		p.next()
		field, err := p.expect(tokenIdent, "field name")
		if err != nil {
			return nil, err
		}
		node = Field{Target: node, Name: field.text}
	}
	return node, nil
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.next()
	switch tok.kind {
	case tokenNumber:
		value, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("bad number %q", tok.text)}
		}
		return NumberLit{Value: value}, nil
	case tokenString:
		return StringLit{Value: tok.text}, nil
	case tokenIdent:
		switch tok.text {
		case "true":
			return BoolLit{Value: true}, nil
		case "false":
			return BoolLit{Value: false}, nil
		}
		if p.peek().kind == tokenLParen {
			p.next()
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return Call{Name: tok.text, Args: args}, nil
		}
		return Ident{Name: tok.text}, nil
	case tokenLParen:
		node, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen, `")"`); err != nil {
			return nil, err
		}
		return node, nil
	default:
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %q", tok.text)}
	}
}

func (p *parser) parseArgs() ([]Node, error) {
	var args []Node
	if p.peek().kind == tokenRParen {
		p.next()
		return args, nil
	}
	for {
		arg, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		tok := p.next()
		switch tok.kind {
		case tokenRParen:
			return args, nil
		case tokenComma:
		default:
			return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf(`expected "," or ")", got %q`, tok.text)}
		}
	}
}
