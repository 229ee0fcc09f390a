// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package expr

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var row = MapRow{
	"id":      int32(7),
	"price":   float32(2.5),
	"name":    "widget",
	"missing": nil,
	"active":  true,
	"created": time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
}

func eval(t *testing.T, input string) interface{} {
	t.Helper()
	e, err := Parse(input)
	require.NoError(t, err, input)
	v, err := Eval(e, row)
	require.NoError(t, err, input)
	return v
}

func TestEvalComparisons(t *testing.T) {
	cases := map[string]interface{}{
		"id = 7":                           true,
		"id > 7":                           false,
		"id >= 7.0":                        true,
		"price < 3":                        true,
		"name = 'widget'":                  true,
		"name LIKE 'wid%'":                 true,
		"name NOT LIKE '_idget'":           false,
		"id IN (1, 7, 9)":                  true,
		"id NOT IN (1, 2)":                 true,
		"id BETWEEN 5 AND 7":               true,
		"active":                           true,
		"created > '2024-01-01'":           true,
		"created < '2024-03-01T00:00:01Z'": true,
	}
	for input, want := range cases {
		assert.Equal(t, want, eval(t, input), input)
	}
}

func TestEvalNullSemantics(t *testing.T) {
	assert.Nil(t, eval(t, "missing = 1"))
	assert.Nil(t, eval(t, "missing + 1"))
	assert.Equal(t, false, eval(t, "missing = 1 AND false"))
	assert.Equal(t, true, eval(t, "missing = 1 OR true"))
	assert.Nil(t, eval(t, "missing = 1 OR false"))
	assert.Equal(t, true, eval(t, "missing IS NULL"))
	assert.Equal(t, false, eval(t, "id IS NULL"))
	assert.Nil(t, eval(t, "id IN (1, NULL)"))
	assert.Equal(t, int64(5), eval(t, "coalesce(missing, 5)"))

	e, err := Parse("missing = 1")
	require.NoError(t, err)
	ok, err := Matches(e, row)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalArithmeticAndFunctions(t *testing.T) {
	assert.Equal(t, int64(15), eval(t, "id * 2 + 1"))
	assert.Equal(t, int64(3), eval(t, "id / 2"))
	assert.Equal(t, int64(1), eval(t, "id % 2"))
	assert.Equal(t, 5.0, eval(t, "price * 2"))
	assert.Equal(t, "WIDGET", eval(t, "upper(name)"))
	assert.Equal(t, int64(6), eval(t, "length(name)"))
	assert.Equal(t, "widget-7", eval(t, "name || '-' || CAST(id AS string)"))
	assert.Equal(t, 7.0, eval(t, "CAST(id AS double)"))
	assert.Equal(t, int64(-7), eval(t, "-id"))

	e, err := Parse("id / 0")
	require.NoError(t, err)
	_, err = Eval(e, row)
	assert.Error(t, err)
}

func TestEvalUnknownColumn(t *testing.T) {
	e, err := Parse("nope = 1")
	require.NoError(t, err)
	_, err = Eval(e, row)
	assert.True(t, errors.Is(err, ErrUnknownColumn))

	err = CheckColumns(e, func(c string) bool { _, ok := row[c]; return ok })
	assert.True(t, errors.Is(err, ErrUnknownColumn))
}

func TestPredicates(t *testing.T) {
	e, err := Parse("id > 3 AND (5 >= score) AND tag IN ('a', 'b') AND x + 1 = 2 AND ts BETWEEN 1 AND 9")
	require.NoError(t, err)
	conj := Conjuncts(e)
	require.Len(t, conj, 5)

	p, ok := AsPredicate(conj[0])
	require.True(t, ok)
	assert.Equal(t, Predicate{Column: "id", Op: ">", Values: []interface{}{int64(3)}}, p)

	p, ok = AsPredicate(conj[1])
	require.True(t, ok)
	assert.Equal(t, "score", p.Column)
	assert.Equal(t, "<=", p.Op)

	p, ok = AsPredicate(conj[2])
	require.True(t, ok)
	assert.Equal(t, "IN", p.Op)
	assert.True(t, p.Satisfies("b"))
	assert.False(t, p.Satisfies("c"))

	_, ok = AsPredicate(conj[3])
	assert.False(t, ok)

	p, ok = AsPredicate(conj[4])
	require.True(t, ok)
	assert.True(t, p.Satisfies(int64(9)))
	assert.False(t, p.Satisfies(int64(10)))
}

func TestArrayHas(t *testing.T) {
	e, err := Parse("array_has(tags, 'red')")
	require.NoError(t, err)

	v, err := Eval(e, MapRow{"tags": []interface{}{"blue", "red"}})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = Eval(e, MapRow{"tags": []interface{}{"blue"}})
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = Eval(e, MapRow{"tags": nil})
	require.NoError(t, err)
	assert.Nil(t, v)

	p, ok := AsPredicate(e)
	require.True(t, ok)
	assert.Equal(t, "HAS", p.Op)
	assert.True(t, p.Satisfies([]interface{}{"red"}))
	assert.False(t, p.Satisfies([]interface{}{"green"}))
}

func TestCompareProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("compare is antisymmetric across int and float", prop.ForAll(
		func(a int64, b float64) bool {
			c1, err1 := Compare(a, b)
			c2, err2 := Compare(b, a)
			return err1 == nil && err2 == nil && c1 == -c2
		},
		gen.Int64Range(-1<<40, 1<<40),
		gen.Float64Range(-1e12, 1e12),
	))

	properties.Property("a predicate literal matches the same evaluation", prop.ForAll(
		func(v, lit int64) bool {
			e := &BinaryExpr{Left: &ColumnRef{Column: "v"}, Operator: "<", Right: &Literal{Value: lit}}
			p, ok := AsPredicate(e)
			if !ok {
				return false
			}
			got, err := Matches(e, MapRow{"v": v})
			return err == nil && got == p.Satisfies(v)
		},
		gen.Int64Range(-1000, 1000),
		gen.Int64Range(-1000, 1000),
	))

	properties.TestingRun(t)
}
