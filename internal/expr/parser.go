package expr

import "fmt"

type parser struct {
	src  string
	toks []token
	pos  int
}

// Compile parses src into an expression. It is the only place syntax errors
// are reported; evaluation never fails.
func Compile(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	if p.peek().kind == tokEOF {
		return nil, &SyntaxError{Expr: src, Pos: 0, Msg: "empty expression"}
	}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %q", t.text)
	}
	return &Expr{src: src, root: root}, nil
}

// MustCompile is Compile that panics on error. Intended for tests and
// package-level expressions.
func MustCompile(src string) *Expr {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &SyntaxError{Expr: p.src, Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

// expr := unary (op unary)?
func (p *parser) parseExpr() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind == tokOp {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &compareNode{op: t.text, left: left, right: right}, nil
	}
	return left, nil
}

// unary := '!' unary | primary
func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokNot {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{x: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &literalNode{v: Of(t.num)}, nil
	case tokString:
		return &literalNode{v: Of(t.text)}, nil
	case tokLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, p.errorf(c, "expected ')'")
		}
		return inner, nil
	case tokIdent:
		if p.peek().kind != tokDot {
			switch t.text {
			case "true":
				return &literalNode{v: boolValue(true)}, nil
			case "false":
				return &literalNode{v: boolValue(false)}, nil
			case "null":
				return &literalNode{v: Value{kind: Null}}, nil
			}
		}
		segs := []string{t.text}
		for p.peek().kind == tokDot {
			p.next()
			seg := p.next()
			if seg.kind != tokIdent {
				return nil, p.errorf(seg, "expected path segment after '.'")
			}
			segs = append(segs, seg.text)
		}
		return &pathNode{segments: segs}, nil
	case tokEOF:
		return nil, p.errorf(t, "unexpected end of expression")
	default:
		return nil, p.errorf(t, "unexpected %q", t.text)
	}
}
