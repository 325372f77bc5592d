package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrBadExpression indicates the calculator could not parse or evaluate
// the expression.
var ErrBadExpression = errors.New("bad expression")

// maxExpressionLen caps calculator input; anything longer is garbage or
// abuse, not arithmetic.
const maxExpressionLen = 512

// Calculator returns the calculator tool descriptor. It evaluates basic
// arithmetic: + - * / % ^, parentheses, unary minus, decimal numbers.
func Calculator() (*Descriptor, error) {
	schema, err := jsonschema.For[CalculatorInput](nil)
	if err != nil {
		return nil, fmt.Errorf("calculator schema: %w", err)
	}

	return &Descriptor{
		Name:        "calculator",
		Description: "Evaluates an arithmetic expression and returns the numeric result. Supports +, -, *, /, %, ^, parentheses and decimals.",
		Schema:      schema,
		Enabled:     true,
		Handler: func(ctx context.Context, input map[string]any) (any, error) {
			expr, _ := input["expression"].(string)
			value, err := evaluate(expr)
			if err != nil {
				return nil, err
			}
			return formatNumber(value), nil
		},
	}, nil
}

// formatNumber renders a result without trailing zeros: 4, not 4.000000.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// evaluate parses and evaluates an arithmetic expression.
func evaluate(expr string) (float64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, fmt.Errorf("%w: empty expression", ErrBadExpression)
	}
	if len(expr) > maxExpressionLen {
		return 0, fmt.Errorf("%w: expression too long (%d chars)", ErrBadExpression, len(expr))
	}

	p := &exprParser{input: expr}
	value, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("%w: unexpected %q at position %d", ErrBadExpression, p.input[p.pos], p.pos)
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, fmt.Errorf("%w: result is not a finite number", ErrBadExpression)
	}
	return value, nil
}

// exprParser is a recursive-descent parser over a byte position.
//
// Grammar:
//
//	expr   = term   { ("+" | "-") term }
//	term   = power  { ("*" | "/" | "%") power }
//	power  = unary  [ "^" power ]            (right associative)
//	unary  = "-" unary | primary
//	primary = number | "(" expr ")"
type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parsePower()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("%w: division by zero", ErrBadExpression)
			}
			left /= right
		case '%':
			p.pos++
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("%w: modulo by zero", ErrBadExpression)
			}
			left = math.Mod(left, right)
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	if p.peek() == '^' {
		p.pos++
		exp, err := p.parsePower()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *exprParser) parseUnary() (float64, error) {
	if p.peek() == '-' {
		p.pos++
		v, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return -v, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (float64, error) {
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("%w: missing closing parenthesis", ErrBadExpression)
		}
		p.pos++
		return v, nil
	case c >= '0' && c <= '9' || c == '.':
		return p.parseNumber()
	case c == 0:
		return 0, fmt.Errorf("%w: unexpected end of expression", ErrBadExpression)
	default:
		return 0, fmt.Errorf("%w: unexpected %q at position %d", ErrBadExpression, c, p.pos)
	}
}

func (p *exprParser) parseNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= '0' && c <= '9') || c == '.' {
			p.pos++
			continue
		}
		break
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid number %q", ErrBadExpression, p.input[start:p.pos])
	}
	return v, nil
}
