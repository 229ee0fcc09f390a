// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package expr

import (
	"errors"
	"testing"
)

func TestLexer(t *testing.T) {
	tests := []struct {
		input    string
		expected []TokenType
	}{
		{"id = 1", []TokenType{TokenIdent, TokenEq, TokenNumber, TokenEOF}},
		{"name != 'it''s'", []TokenType{TokenIdent, TokenNe, TokenString, TokenEOF}},
		{"`my col` >= 2.5e3", []TokenType{TokenIdent, TokenGe, TokenNumber, TokenEOF}},
		{"a IS NOT NULL OR b IN (1, 2)", []TokenType{TokenIdent, TokenIs, TokenNot, TokenNull, TokenOr, TokenIdent, TokenIn, TokenLParen, TokenNumber, TokenComma, TokenNumber, TokenRParen, TokenEOF}},
		{"a || 'x'", []TokenType{TokenIdent, TokenConcat, TokenString, TokenEOF}},
		{"a ? b", []TokenType{TokenIdent, TokenError}},
	}

	for _, tt := range tests {
		tokens := NewLexer(tt.input).Tokenize()
		if len(tokens) != len(tt.expected) {
			t.Errorf("input %q: expected %d tokens, got %d", tt.input, len(tt.expected), len(tokens))
			continue
		}
		for i, tok := range tokens {
			if tok.Type != tt.expected[i] {
				t.Errorf("input %q: token %d: expected %s, got %s", tt.input, i, tt.expected[i], tok.Type)
			}
		}
	}
}

func TestLexerStringEscape(t *testing.T) {
	tok := NewLexer("'it''s'").NextToken()
	if tok.Literal != "it's" {
		t.Fatalf("expected it's, got %q", tok.Literal)
	}
}

func TestParsePrecedence(t *testing.T) {
	tests := map[string]string{
		"a = 1 AND b = 2 OR c = 3":   "(((a = 1) AND (b = 2)) OR (c = 3))",
		"a = 1 AND (b = 2 OR c = 3)": "((a = 1) AND (((b = 2) OR (c = 3))))",
		"x + y * 2 > 10":             "((x + (y * 2)) > 10)",
		"NOT a = 1":                  "NOT (a = 1)",
		"price * -1":                 "(price * -1)",
		"name LIKE 'a%' AND id < 5":  "(name LIKE 'a%' AND (id < 5))",
		"id NOT IN (1, 2)":           "id NOT IN (1, 2)",
		"id BETWEEN 1 AND 5 AND ok":  "(id BETWEEN 1 AND 5 AND ok)",
		"CAST(id AS string) || '-x'": "(CAST(id AS string) || '-x')",
		"lower(name) = 'bob'":        "(lower(name) = 'bob')",
		"tags IS NULL":               "tags IS NULL",
	}
	for input, want := range tests {
		e, err := Parse(input)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", input, err)
			continue
		}
		if got := e.String(); got != want {
			t.Errorf("%q: expected %s, got %s", input, want, got)
		}
	}
}

func TestParseErrors(t *testing.T) {
	inputs := []string{
		"",
		"id =",
		"id = 1 2",
		"(id = 1",
		"id IN 1",
		"id BETWEEN 1",
		"nosuchfn(id)",
		"CAST(id AS blob)",
		"a LIKE 3",
	}
	for _, input := range inputs {
		_, err := Parse(input)
		if err == nil {
			t.Errorf("%q: expected parse error", input)
			continue
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("%q: expected *ParseError, got %T", input, err)
		}
	}
}

func TestColumns(t *testing.T) {
	e, err := Parse("a + b > 3 AND lower(c) = 'x' AND a < 10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cols := Columns(e)
	if len(cols) != 3 || cols[0] != "a" || cols[1] != "b" || cols[2] != "c" {
		t.Fatalf("unexpected columns %v", cols)
	}
}
