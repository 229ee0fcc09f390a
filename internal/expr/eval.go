// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package expr

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownColumn is returned when an expression references a missing column.
var ErrUnknownColumn = errors.New("unknown column")

// Row supplies column values during evaluation.
type Row interface {
	Get(column string) (interface{}, bool)
}

// MapRow adapts a map to Row.
type MapRow map[string]interface{}

func (m MapRow) Get(column string) (interface{}, bool) {
	v, ok := m[column]
	return v, ok
}

// CheckColumns fails if e references a column for which has returns false.
func CheckColumns(e Expression, has func(string) bool) error {
	for _, c := range Columns(e) {
		if !has(c) {
			return fmt.Errorf("%w: %s", ErrUnknownColumn, c)
		}
	}
	return nil
}

// Matches evaluates a predicate. NULL results do not match.
func Matches(e Expression, row Row) (bool, error) {
	v, err := Eval(e, row)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if v != nil && !ok {
		return false, fmt.Errorf("predicate %s is not boolean", e.String())
	}
	return ok && b, nil
}

// Eval evaluates e against row. SQL NULL is represented as nil and follows
// three-valued logic.
//
//nolint:gocyclo
func Eval(e Expression, row Row) (interface{}, error) {
	switch n := e.(type) {
	case *Literal:
		return n.Value, nil
	case *ColumnRef:
		v, ok := row.Get(n.Column)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, n.Column)
		}
		return Normalize(v), nil
	case *ParenExpr:
		return Eval(n.Expr, row)
	case *UnaryExpr:
		v, err := Eval(n.Operand, row)
		if err != nil || v == nil {
			return nil, err
		}
		if n.Operator == "NOT" {
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("NOT applied to %T", v)
			}
			return !b, nil
		}
		switch x := v.(type) {
		case int64:
			return -x, nil
		case float64:
			return -x, nil
		}
		return nil, fmt.Errorf("cannot negate %T", v)
	case *BinaryExpr:
		return evalBinary(n, row)
	case *IsNullExpr:
		v, err := Eval(n.Expr, row)
		if err != nil {
			return nil, err
		}
		return (v == nil) != n.Not, nil
	case *InExpr:
		v, err := Eval(n.Expr, row)
		if err != nil || v == nil {
			return nil, err
		}
		sawNull := false
		for _, item := range n.Values {
			iv, err := Eval(item, row)
			if err != nil {
				return nil, err
			}
			if iv == nil {
				sawNull = true
				continue
			}
			c, err := Compare(v, iv)
			if err != nil {
				return nil, err
			}
			if c == 0 {
				return !n.Not, nil
			}
		}
		if sawNull {
			return nil, nil
		}
		return n.Not, nil
	case *BetweenExpr:
		v, err := Eval(n.Expr, row)
		if err != nil || v == nil {
			return nil, err
		}
		lo, err := Eval(n.Low, row)
		if err != nil || lo == nil {
			return nil, err
		}
		hi, err := Eval(n.High, row)
		if err != nil || hi == nil {
			return nil, err
		}
		c1, err := Compare(v, lo)
		if err != nil {
			return nil, err
		}
		c2, err := Compare(v, hi)
		if err != nil {
			return nil, err
		}
		return (c1 >= 0 && c2 <= 0) != n.Not, nil
	case *LikeExpr:
		v, err := Eval(n.Expr, row)
		if err != nil || v == nil {
			return nil, err
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("LIKE applied to %T", v)
		}
		re := n.re
		if re == nil {
			pv, err := Eval(n.Pattern, row)
			if err != nil || pv == nil {
				return nil, err
			}
			ps, ok := pv.(string)
			if !ok {
				return nil, fmt.Errorf("LIKE pattern is %T", pv)
			}
			re = compileLike(ps)
		}
		return re.MatchString(s) != n.Not, nil
	case *FunctionCall:
		args := make([]interface{}, len(n.Args))
		for i, a := range n.Args {
			v, err := Eval(a, row)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return functions[n.Name](args)
	case *CastExpr:
		v, err := Eval(n.Expr, row)
		if err != nil || v == nil {
			return nil, err
		}
		return castTypes[n.Type](v)
	}
	return nil, fmt.Errorf("unsupported expression %T", e)
}

func evalBinary(n *BinaryExpr, row Row) (interface{}, error) {
	switch n.Operator {
	case "AND", "OR":
		return evalLogical(n, row)
	}
	l, err := Eval(n.Left, row)
	if err != nil {
		return nil, err
	}
	r, err := Eval(n.Right, row)
	if err != nil {
		return nil, err
	}
	if l == nil || r == nil {
		return nil, nil
	}
	switch n.Operator {
	case "=", "==", "!=", "<", "<=", ">", ">=":
		c, err := Compare(l, r)
		if err != nil {
			return nil, err
		}
		switch n.Operator {
		case "=", "==":
			return c == 0, nil
		case "!=":
			return c != 0, nil
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case "||":
		return toString(l) + toString(r), nil
	default:
		return arithmetic(n.Operator, l, r)
	}
}

func evalLogical(n *BinaryExpr, row Row) (interface{}, error) {
	l, err := Eval(n.Left, row)
	if err != nil {
		return nil, err
	}
	lb, lok := l.(bool)
	if l != nil && !lok {
		return nil, fmt.Errorf("%s applied to %T", n.Operator, l)
	}
	if n.Operator == "AND" && lok && !lb {
		return false, nil
	}
	if n.Operator == "OR" && lok && lb {
		return true, nil
	}
	r, err := Eval(n.Right, row)
	if err != nil {
		return nil, err
	}
	rb, rok := r.(bool)
	if r != nil && !rok {
		return nil, fmt.Errorf("%s applied to %T", n.Operator, r)
	}
	if n.Operator == "AND" {
		if rok && !rb {
			return false, nil
		}
		if l == nil || r == nil {
			return nil, nil
		}
		return true, nil
	}
	if rok && rb {
		return true, nil
	}
	if l == nil || r == nil {
		return nil, nil
	}
	return false, nil
}

func arithmetic(op string, l, r interface{}) (interface{}, error) {
	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt {
		switch op {
		case "+":
			return li + ri, nil
		case "-":
			return li - ri, nil
		case "*":
			return li * ri, nil
		case "/":
			if ri == 0 {
				return nil, errors.New("division by zero")
			}
			return li / ri, nil
		case "%":
			if ri == 0 {
				return nil, errors.New("division by zero")
			}
			return li % ri, nil
		}
	}
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		return nil, fmt.Errorf("cannot apply %s to %T and %T", op, l, r)
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		return lf / rf, nil
	case "%":
		return math.Mod(lf, rf), nil
	}
	return nil, fmt.Errorf("unknown operator %s", op)
}

// Normalize widens Go values to the evaluator's representation: signed and
// unsigned integers become int64, floats become float64.
func Normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return float64(x)
		}
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", "2006-01-02 15:04:05", "2006-01-02"}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Compare orders two non-nil normalized values.
//
//nolint:gocyclo
func Compare(a, b interface{}) (int, error) {
	a, b = Normalize(a), Normalize(b)
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y), nil
		case float64:
			return cmpOrdered(float64(x), y), nil
		}
	case float64:
		if y, ok := toFloat(b); ok {
			return cmpOrdered(x, y), nil
		}
	case string:
		switch y := b.(type) {
		case string:
			return strings.Compare(x, y), nil
		case time.Time:
			if t, ok := parseTime(x); ok {
				return t.Compare(y), nil
			}
		case []byte:
			return bytes.Compare([]byte(x), y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, nil
			case !x:
				return -1, nil
			default:
				return 1, nil
			}
		}
	case time.Time:
		switch y := b.(type) {
		case time.Time:
			return x.Compare(y), nil
		case string:
			if t, ok := parseTime(y); ok {
				return x.Compare(t), nil
			}
		}
	case []byte:
		switch y := b.(type) {
		case []byte:
			return bytes.Compare(x, y), nil
		case string:
			return bytes.Compare(x, []byte(y)), nil
		}
	}
	return 0, fmt.Errorf("cannot compare %T with %T", a, b)
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compileLike translates a LIKE pattern (% and _ wildcards) into a regexp.
func compileLike(pattern string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.MustCompile(sb.String())
}

var functions = map[string]func(args []interface{}) (interface{}, error){
	"lower": stringFunc(strings.ToLower),
	"upper": stringFunc(strings.ToUpper),
	"trim":  stringFunc(strings.TrimSpace),
	"length": func(args []interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errors.New("length takes one argument")
		}
		switch x := args[0].(type) {
		case nil:
			return nil, nil
		case string:
			return int64(len([]rune(x))), nil
		case []byte:
			return int64(len(x)), nil
		case []float32:
			return int64(len(x)), nil
		case []interface{}:
			return int64(len(x)), nil
		}
		return nil, fmt.Errorf("length applied to %T", args[0])
	},
	"abs": func(args []interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errors.New("abs takes one argument")
		}
		switch x := args[0].(type) {
		case nil:
			return nil, nil
		case int64:
			if x < 0 {
				return -x, nil
			}
			return x, nil
		case float64:
			return math.Abs(x), nil
		}
		return nil, fmt.Errorf("abs applied to %T", args[0])
	},
	"round": func(args []interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errors.New("round takes one argument")
		}
		switch x := args[0].(type) {
		case nil:
			return nil, nil
		case int64:
			return x, nil
		case float64:
			return math.Round(x), nil
		}
		return nil, fmt.Errorf("round applied to %T", args[0])
	},
	"coalesce": func(args []interface{}) (interface{}, error) {
		for _, a := range args {
			if a != nil {
				return a, nil
			}
		}
		return nil, nil
	},
	"array_has": func(args []interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, errors.New("array_has takes two arguments")
		}
		if args[0] == nil || args[1] == nil {
			return nil, nil
		}
		var items []interface{}
		switch x := args[0].(type) {
		case []interface{}:
			items = x
		case []float32:
			for _, f := range x {
				items = append(items, f)
			}
		case []float64:
			for _, f := range x {
				items = append(items, f)
			}
		default:
			return nil, fmt.Errorf("array_has applied to %T", args[0])
		}
		for _, item := range items {
			if item == nil {
				continue
			}
			if c, err := Compare(item, args[1]); err == nil && c == 0 {
				return true, nil
			}
		}
		return false, nil
	},
	"concat": func(args []interface{}) (interface{}, error) {
		var sb strings.Builder
		for _, a := range args {
			if a != nil {
				sb.WriteString(toString(a))
			}
		}
		return sb.String(), nil
	},
}

func stringFunc(fn func(string) string) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errors.New("expected one argument")
		}
		if args[0] == nil {
			return nil, nil
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", args[0])
		}
		return fn(s), nil
	}
}

var castTypes = map[string]func(v interface{}) (interface{}, error){
	"int":     castInt,
	"integer": castInt,
	"bigint":  castInt,
	"float":   castFloat,
	"double":  castFloat,
	"real":    castFloat,
	"string":  castString,
	"varchar": castString,
	"text":    castString,
	"boolean": castBool,
	"bool":    castBool,
}

func castInt(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %q to int", x)
		}
		return n, nil
	}
	return nil, fmt.Errorf("cannot cast %T to int", v)
}

func castFloat(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %q to float", x)
		}
		return f, nil
	}
	return nil, fmt.Errorf("cannot cast %T to float", v)
}

func castString(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	case []byte:
		return string(x), nil
	}
	return fmt.Sprintf("%v", v), nil
}

func castBool(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil, fmt.Errorf("cannot cast %q to boolean", x)
		}
		return b, nil
	}
	return nil, fmt.Errorf("cannot cast %T to boolean", v)
}
