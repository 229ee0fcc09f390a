// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

// Adapted from the query parser of Arkilian (github.com/arkilian/arkilian,
// internal/query/parser).

package expr

// Predicate is a comparison between one column and literal values that a
// scalar index can answer.
type Predicate struct {
	Column string
	// One of "=", "!=", "<", "<=", ">", ">=", "IN", "BETWEEN", "IS NULL"
	// or "HAS" (list membership, from array_has).
	Op     string
	Values []interface{}
}

// Conjuncts splits e on top-level AND.
func Conjuncts(e Expression) []Expression {
	switch n := e.(type) {
	case *ParenExpr:
		return Conjuncts(n.Expr)
	case *BinaryExpr:
		if n.Operator == "AND" {
			return append(Conjuncts(n.Left), Conjuncts(n.Right)...)
		}
	}
	return []Expression{e}
}

var flipped = map[string]string{"=": "=", "==": "=", "!=": "!=", "<": ">", "<=": ">=", ">": "<", ">=": "<="}

// AsPredicate recognises "col op literal", "literal op col", "col IN (...)",
// "col BETWEEN a AND b", "col IS NULL" and "array_has(col, literal)".
func AsPredicate(e Expression) (Predicate, bool) {
	switch n := e.(type) {
	case *ParenExpr:
		return AsPredicate(n.Expr)
	case *BinaryExpr:
		op, ok := flipped[n.Operator]
		if !ok {
			return Predicate{}, false
		}
		if n.Operator == "==" {
			op = "="
		}
		if col, ok := n.Left.(*ColumnRef); ok {
			if lit, ok := n.Right.(*Literal); ok && lit.Value != nil {
				if n.Operator != "==" {
					op = n.Operator
				}
				return Predicate{Column: col.Column, Op: op, Values: []interface{}{lit.Value}}, true
			}
		}
		if col, ok := n.Right.(*ColumnRef); ok {
			if lit, ok := n.Left.(*Literal); ok && lit.Value != nil {
				return Predicate{Column: col.Column, Op: op, Values: []interface{}{lit.Value}}, true
			}
		}
	case *InExpr:
		col, ok := n.Expr.(*ColumnRef)
		if !ok || n.Not {
			return Predicate{}, false
		}
		vals := make([]interface{}, 0, len(n.Values))
		for _, v := range n.Values {
			lit, ok := v.(*Literal)
			if !ok || lit.Value == nil {
				return Predicate{}, false
			}
			vals = append(vals, lit.Value)
		}
		return Predicate{Column: col.Column, Op: "IN", Values: vals}, true
	case *BetweenExpr:
		col, ok := n.Expr.(*ColumnRef)
		lo, lok := n.Low.(*Literal)
		hi, hok := n.High.(*Literal)
		if !ok || !lok || !hok || n.Not || lo.Value == nil || hi.Value == nil {
			return Predicate{}, false
		}
		return Predicate{Column: col.Column, Op: "BETWEEN", Values: []interface{}{lo.Value, hi.Value}}, true
	case *FunctionCall:
		if n.Name != "array_has" || len(n.Args) != 2 {
			return Predicate{}, false
		}
		col, ok := n.Args[0].(*ColumnRef)
		lit, lok := n.Args[1].(*Literal)
		if !ok || !lok || lit.Value == nil {
			return Predicate{}, false
		}
		return Predicate{Column: col.Column, Op: "HAS", Values: []interface{}{lit.Value}}, true
	case *IsNullExpr:
		col, ok := n.Expr.(*ColumnRef)
		if !ok || n.Not {
			return Predicate{}, false
		}
		return Predicate{Column: col.Column, Op: "IS NULL"}, true
	}
	return Predicate{}, false
}

// Satisfies reports whether a single non-nil value passes p. Values that
// cannot be compared do not pass.
func (p Predicate) Satisfies(v interface{}) bool {
	if p.Op == "IS NULL" {
		return v == nil
	}
	if v == nil {
		return false
	}
	if p.Op == "HAS" {
		items, ok := v.([]interface{})
		if !ok {
			return false
		}
		for _, item := range items {
			if item == nil {
				continue
			}
			if c, err := Compare(item, p.Values[0]); err == nil && c == 0 {
				return true
			}
		}
		return false
	}
	cmp := func(i int) (int, bool) {
		c, err := Compare(v, p.Values[i])
		return c, err == nil
	}
	switch p.Op {
	case "IN":
		for i := range p.Values {
			if c, ok := cmp(i); ok && c == 0 {
				return true
			}
		}
		return false
	case "BETWEEN":
		lo, ok1 := cmp(0)
		hi, ok2 := cmp(1)
		return ok1 && ok2 && lo >= 0 && hi <= 0
	}
	c, ok := cmp(0)
	if !ok {
		return false
	}
	switch p.Op {
	case "=":
		return c == 0
	case "!=":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}
