package metric

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"pmc-monitor/internal/sample"
)

// node is one element of a compiled expression tree.
type node interface {
	eval(rec sample.Record, fields sample.FieldMap) (float64, error)
}

type literal struct {
	value float64
}

func (n literal) eval(sample.Record, sample.FieldMap) (float64, error) {
	return n.value, nil
}

// fieldRef reads a named field from the record. Positions are looked up on
// every evaluation because layouts differ between runs.
type fieldRef struct {
	name string
}

func (n fieldRef) eval(rec sample.Record, fields sample.FieldMap) (float64, error) {
	idx, ok := fields[n.name]
	if !ok {
		return 0, &NameResolutionError{Field: n.name}
	}
	if idx < 0 || idx >= len(rec) {
		return 0, &IndexError{Field: n.name, Index: idx, Length: len(rec)}
	}
	raw := rec[idx]
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, &FormatError{Field: n.name, Value: raw, Err: err}
	}
	// out of range values are already rounded to ±Inf or zero
	return v, nil
}

type unary struct {
	op      string
	operand node
}

func (n unary) eval(rec sample.Record, fields sample.FieldMap) (float64, error) {
	v, err := n.operand.eval(rec, fields)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case "-":
		return -v, nil
	case "not":
		return boolValue(v == 0), nil
	}
	return v, nil
}

type binary struct {
	op          string
	left, right node
}

func (n binary) eval(rec sample.Record, fields sample.FieldMap) (float64, error) {
	l, err := n.left.eval(rec, fields)
	if err != nil {
		return 0, err
	}
	r, err := n.right.eval(rec, fields)
	if err != nil {
		return 0, err
	}

	switch n.op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return 0, &ArithmeticError{Op: n.op, Msg: "division by zero"}
		}
		return l / r, nil
	case "//":
		if r == 0 {
			return 0, &ArithmeticError{Op: n.op, Msg: "division by zero"}
		}
		div, _ := floorDivMod(l, r)
		return div, nil
	case "%":
		if r == 0 {
			return 0, &ArithmeticError{Op: n.op, Msg: "modulo by zero"}
		}
		_, mod := floorDivMod(l, r)
		return mod, nil
	case "**":
		return power(l, r)
	}
	return 0, &ArithmeticError{Op: n.op, Msg: "unsupported operator"}
}

// floorDivMod returns the floored quotient and the remainder with the sign
// of the divisor, keeping l == div*r + mod as closely as floats allow.
// r must not be zero.
func floorDivMod(l, r float64) (div, mod float64) {
	mod = math.Mod(l, r)
	div = (l - mod) / r
	if mod != 0 {
		if (r < 0) != (mod < 0) {
			mod += r
			div -= 1
		}
	} else {
		mod = math.Copysign(0, r)
	}
	if div != 0 {
		floor := math.Floor(div)
		if div-floor > 0.5 {
			floor += 1
		}
		div = floor
	} else {
		div = math.Copysign(0, l/r)
	}
	return div, mod
}

func power(base, exp float64) (float64, error) {
	if base == 0 && exp < 0 {
		return 0, &ArithmeticError{Op: "**", Msg: "zero raised to a negative power"}
	}
	v := math.Pow(base, exp)
	if math.IsNaN(v) && !math.IsNaN(base) && !math.IsNaN(exp) {
		return 0, &ArithmeticError{Op: "**", Msg: "math domain error"}
	}
	if math.IsInf(v, 0) && !math.IsInf(base, 0) && !math.IsInf(exp, 0) {
		return 0, &ArithmeticError{Op: "**", Msg: "result too large"}
	}
	return v, nil
}

// comparison is a chain such as a < b <= c, true only when every link holds.
// Operands are evaluated left to right and evaluation stops at the first
// link that fails.
type comparison struct {
	first    node
	ops      []string
	operands []node
}

func (n comparison) eval(rec sample.Record, fields sample.FieldMap) (float64, error) {
	left, err := n.first.eval(rec, fields)
	if err != nil {
		return 0, err
	}
	for i, op := range n.ops {
		right, err := n.operands[i].eval(rec, fields)
		if err != nil {
			return 0, err
		}
		if !compare(op, left, right) {
			return 0, nil
		}
		left = right
	}
	return 1, nil
}

func compare(op string, l, r float64) bool {
	switch op {
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	case ">=":
		return l >= r
	case "==":
		return l == r
	case "!=":
		return l != r
	}
	return false
}

// logical implements and/or with short-circuiting; the result is the operand
// that decided the outcome.
type logical struct {
	op          string
	left, right node
}

func (n logical) eval(rec sample.Record, fields sample.FieldMap) (float64, error) {
	l, err := n.left.eval(rec, fields)
	if err != nil {
		return 0, err
	}
	if n.op == "and" && l == 0 {
		return l, nil
	}
	if n.op == "or" && l != 0 {
		return l, nil
	}
	return n.right.eval(rec, fields)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
