// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

// Adapted from the query parser of Arkilian (github.com/arkilian/arkilian,
// internal/query/parser).

package expr

import (
	"fmt"
	"regexp"
	"strings"
)

// Expression is a node of a parsed expression.
type Expression interface {
	expressionNode()
	String() string
}

// Literal is a constant: nil, bool, int64, float64 or string.
type Literal struct {
	Value interface{}
}

func (l *Literal) expressionNode() {}

func (l *Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ColumnRef references a column by name.
type ColumnRef struct {
	Column string
}

func (c *ColumnRef) expressionNode() {}

func (c *ColumnRef) String() string {
	return c.Column
}

// BinaryExpr is an arithmetic, comparison or logical operation.
type BinaryExpr struct {
	Left     Expression
	Operator string
	Right    Expression
}

func (b *BinaryExpr) expressionNode() {}

func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left.String(), b.Operator, b.Right.String())
}

// UnaryExpr is NOT or unary minus.
type UnaryExpr struct {
	Operator string
	Operand  Expression
}

func (u *UnaryExpr) expressionNode() {}

func (u *UnaryExpr) String() string {
	if u.Operator == "NOT" {
		return "NOT " + u.Operand.String()
	}
	return u.Operator + u.Operand.String()
}

// InExpr is "x [NOT] IN (a, b, ...)".
type InExpr struct {
	Expr   Expression
	Values []Expression
	Not    bool
}

func (i *InExpr) expressionNode() {}

func (i *InExpr) String() string {
	vals := make([]string, len(i.Values))
	for j, v := range i.Values {
		vals[j] = v.String()
	}
	op := "IN"
	if i.Not {
		op = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", i.Expr.String(), op, strings.Join(vals, ", "))
}

// BetweenExpr is "x [NOT] BETWEEN low AND high".
type BetweenExpr struct {
	Expr Expression
	Low  Expression
	High Expression
	Not  bool
}

func (b *BetweenExpr) expressionNode() {}

func (b *BetweenExpr) String() string {
	op := "BETWEEN"
	if b.Not {
		op = "NOT BETWEEN"
	}
	return fmt.Sprintf("%s %s %s AND %s", b.Expr.String(), op, b.Low.String(), b.High.String())
}

// IsNullExpr is "x IS [NOT] NULL".
type IsNullExpr struct {
	Expr Expression
	Not  bool
}

func (i *IsNullExpr) expressionNode() {}

func (i *IsNullExpr) String() string {
	if i.Not {
		return i.Expr.String() + " IS NOT NULL"
	}
	return i.Expr.String() + " IS NULL"
}

// LikeExpr is "x [NOT] LIKE pattern".
type LikeExpr struct {
	Expr    Expression
	Pattern Expression
	Not     bool

	re *regexp.Regexp // compiled when Pattern is a string literal
}

func (l *LikeExpr) expressionNode() {}

func (l *LikeExpr) String() string {
	op := "LIKE"
	if l.Not {
		op = "NOT LIKE"
	}
	return fmt.Sprintf("%s %s %s", l.Expr.String(), op, l.Pattern.String())
}

// ParenExpr is a parenthesized expression.
type ParenExpr struct {
	Expr Expression
}

func (p *ParenExpr) expressionNode() {}

func (p *ParenExpr) String() string {
	return "(" + p.Expr.String() + ")"
}

// FunctionCall is a scalar function call.
type FunctionCall struct {
	Name string
	Args []Expression
}

func (f *FunctionCall) expressionNode() {}

func (f *FunctionCall) String() string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(args, ", "))
}

// CastExpr is "CAST(x AS type)".
type CastExpr struct {
	Expr Expression
	Type string
}

func (c *CastExpr) expressionNode() {}

func (c *CastExpr) String() string {
	return fmt.Sprintf("CAST(%s AS %s)", c.Expr.String(), c.Type)
}

// Columns returns the distinct column names referenced by e, in order of appearance.
func Columns(e Expression) []string {
	var out []string
	seen := map[string]bool{}
	Walk(e, func(n Expression) {
		if c, ok := n.(*ColumnRef); ok && !seen[c.Column] {
			seen[c.Column] = true
			out = append(out, c.Column)
		}
	})
	return out
}

// Walk calls fn for e and every node below it.
func Walk(e Expression, fn func(Expression)) {
	if e == nil {
		return
	}
	fn(e)
	switch n := e.(type) {
	case *BinaryExpr:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *UnaryExpr:
		Walk(n.Operand, fn)
	case *InExpr:
		Walk(n.Expr, fn)
		for _, v := range n.Values {
			Walk(v, fn)
		}
	case *BetweenExpr:
		Walk(n.Expr, fn)
		Walk(n.Low, fn)
		Walk(n.High, fn)
	case *IsNullExpr:
		Walk(n.Expr, fn)
	case *LikeExpr:
		Walk(n.Expr, fn)
		Walk(n.Pattern, fn)
	case *ParenExpr:
		Walk(n.Expr, fn)
	case *FunctionCall:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case *CastExpr:
		Walk(n.Expr, fn)
	}
}
