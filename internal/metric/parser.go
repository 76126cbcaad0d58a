package metric

// parser is a recursive descent parser over the token stream. Precedence,
// lowest first: or, and, not, comparisons, + -, * / // %, unary + -, **.
type parser struct {
	formula string
	tokens  []token
	pos     int
	fields  []string
	seen    map[string]bool
}

func parse(formula string) (node, []string, error) {
	tokens, err := tokenize(formula)
	if err != nil {
		return nil, nil, err
	}
	p := &parser{formula: formula, tokens: tokens, seen: make(map[string]bool)}
	if p.peek().kind == tokEOF {
		return nil, nil, p.errorf(p.peek(), "empty formula")
	}

	root, err := p.parseOr()
	if err != nil {
		return nil, nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, nil, p.errorf(tok, "unexpected "+describe(tok))
	}
	return root, p.fields, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) isOp(texts ...string) bool {
	tok := p.peek()
	if tok.kind != tokOp {
		return false
	}
	for _, text := range texts {
		if tok.text == text {
			return true
		}
	}
	return false
}

func (p *parser) errorf(tok token, msg string) error {
	return &SyntaxError{Formula: p.formula, Pos: tok.pos, Msg: msg}
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isOp("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = logical{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isOp("and") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = logical{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.isOp("not") {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unary{op: "not", operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	first, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if !p.isOp("<", "<=", ">", ">=", "==", "!=") {
		return first, nil
	}

	chain := comparison{first: first}
	for p.isOp("<", "<=", ">", ">=", "==", "!=") {
		op := p.next().text
		operand, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		chain.ops = append(chain.ops, op)
		chain.operands = append(chain.operands, operand)
	}
	return chain, nil
}

func (p *parser) parseSum() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.isOp("+", "-") {
		op := p.next().text
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binary{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*", "/", "//", "%") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binary{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.isOp("+", "-") {
		op := p.next().text
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unary{op: op, operand: operand}, nil
	}
	return p.parsePower()
}

// parsePower binds tighter than a unary minus on its left (-2**2 == -4) but
// accepts one on its right (2**-1 == 0.5), and is right associative.
func (p *parser) parsePower() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.isOp("**") {
		p.next()
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return binary{op: "**", left: base, right: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return literal{value: tok.value}, nil

	case tokField:
		if !p.seen[tok.text] {
			p.seen[tok.text] = true
			p.fields = append(p.fields, tok.text)
		}
		return fieldRef{name: tok.text}, nil

	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, p.errorf(closing, "expected ')' but found "+describe(closing))
		}
		return inner, nil
	}
	return nil, p.errorf(tok, "expected a number, field or '(' but found "+describe(tok))
}

func describe(tok token) string {
	if tok.kind == tokEOF {
		return "end of formula"
	}
	return "'" + tok.text + "'"
}
