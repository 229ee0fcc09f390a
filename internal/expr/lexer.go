// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

// Adapted from the query parser of Arkilian (github.com/arkilian/arkilian,
// internal/query/parser).

// Package expr parses and evaluates the SQL expressions used as filters,
// update assignments and computed columns.
package expr

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenError
	TokenIdent
	TokenNumber
	TokenString

	TokenAnd
	TokenOr
	TokenNot
	TokenIn
	TokenBetween
	TokenIs
	TokenNull
	TokenLike
	TokenTrue
	TokenFalse
	TokenCast
	TokenAs

	TokenEq      // =
	TokenNe      // <> or !=
	TokenLt      // <
	TokenGt      // >
	TokenLe      // <=
	TokenGe      // >=
	TokenPlus    // +
	TokenMinus   // -
	TokenStar    // *
	TokenSlash   // /
	TokenPercent // %
	TokenConcat  // ||
	TokenComma   // ,
	TokenLParen  // (
	TokenRParen  // )
)

var tokenNames = map[TokenType]string{
	TokenEOF: "EOF", TokenError: "ERROR", TokenIdent: "IDENT", TokenNumber: "NUMBER",
	TokenString: "STRING", TokenAnd: "AND", TokenOr: "OR", TokenNot: "NOT", TokenIn: "IN",
	TokenBetween: "BETWEEN", TokenIs: "IS", TokenNull: "NULL", TokenLike: "LIKE",
	TokenTrue: "TRUE", TokenFalse: "FALSE", TokenCast: "CAST", TokenAs: "AS",
	TokenEq: "=", TokenNe: "!=", TokenLt: "<", TokenGt: ">", TokenLe: "<=", TokenGe: ">=",
	TokenPlus: "+", TokenMinus: "-", TokenStar: "*", TokenSlash: "/", TokenPercent: "%",
	TokenConcat: "||", TokenComma: ",", TokenLParen: "(", TokenRParen: ")",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
}

var keywords = map[string]TokenType{
	"AND":     TokenAnd,
	"OR":      TokenOr,
	"NOT":     TokenNot,
	"IN":      TokenIn,
	"BETWEEN": TokenBetween,
	"IS":      TokenIs,
	"NULL":    TokenNull,
	"LIKE":    TokenLike,
	"TRUE":    TokenTrue,
	"FALSE":   TokenFalse,
	"CAST":    TokenCast,
	"AS":      TokenAs,
}

// Lexer tokenizes expression input.
type Lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
}

func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

// NextToken returns the next token from the input.
//
//nolint:gocyclo
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()
	start := l.pos

	single := func(t TokenType) Token {
		tok := Token{Type: t, Literal: string(l.ch), Pos: start}
		l.readChar()
		return tok
	}
	double := func(t TokenType, lit string) Token {
		l.readChar()
		l.readChar()
		return Token{Type: t, Literal: lit, Pos: start}
	}

	switch l.ch {
	case 0:
		return Token{Type: TokenEOF, Pos: start}
	case '=':
		if l.peekChar() == '=' {
			return double(TokenEq, "==")
		}
		return single(TokenEq)
	case '<':
		switch l.peekChar() {
		case '=':
			return double(TokenLe, "<=")
		case '>':
			return double(TokenNe, "<>")
		}
		return single(TokenLt)
	case '>':
		if l.peekChar() == '=' {
			return double(TokenGe, ">=")
		}
		return single(TokenGt)
	case '!':
		if l.peekChar() == '=' {
			return double(TokenNe, "!=")
		}
		return single(TokenError)
	case '|':
		if l.peekChar() == '|' {
			return double(TokenConcat, "||")
		}
		return single(TokenError)
	case '+':
		return single(TokenPlus)
	case '-':
		return single(TokenMinus)
	case '*':
		return single(TokenStar)
	case '/':
		return single(TokenSlash)
	case '%':
		return single(TokenPercent)
	case ',':
		return single(TokenComma)
	case '(':
		return single(TokenLParen)
	case ')':
		return single(TokenRParen)
	case '\'':
		return l.readString()
	case '`', '"':
		return l.readQuotedIdent(l.ch)
	}
	if isLetter(l.ch) || l.ch == '_' {
		return l.readIdentifier()
	}
	if isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())) {
		return l.readNumber()
	}
	return single(TokenError)
}

func (l *Lexer) readIdentifier() Token {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' || l.ch == '.' {
		l.readChar()
	}
	literal := l.input[start:l.pos]
	if t, ok := keywords[strings.ToUpper(literal)]; ok {
		return Token{Type: t, Literal: strings.ToUpper(literal), Pos: start}
	}
	return Token{Type: TokenIdent, Literal: literal, Pos: start}
}

func (l *Lexer) readQuotedIdent(quote byte) Token {
	start := l.pos
	l.readChar()
	begin := l.pos
	for l.ch != quote && l.ch != 0 {
		l.readChar()
	}
	if l.ch == 0 {
		return Token{Type: TokenError, Literal: "unterminated identifier", Pos: start}
	}
	literal := l.input[begin:l.pos]
	l.readChar()
	return Token{Type: TokenIdent, Literal: literal, Pos: start}
}

func (l *Lexer) readNumber() Token {
	start := l.pos
	seenDot, seenExp := false, false
	for {
		switch {
		case isDigit(l.ch):
		case l.ch == '.' && !seenDot && !seenExp:
			seenDot = true
		case (l.ch == 'e' || l.ch == 'E') && !seenExp:
			seenExp = true
			if p := l.peekChar(); p == '+' || p == '-' {
				l.readChar()
			}
		default:
			return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: start}
		}
		l.readChar()
	}
}

// readString reads a single-quoted literal; a doubled quote escapes a quote.
func (l *Lexer) readString() Token {
	start := l.pos
	l.readChar()
	var sb strings.Builder
	for {
		switch {
		case l.ch == 0:
			return Token{Type: TokenError, Literal: "unterminated string", Pos: start}
		case l.ch == '\'' && l.peekChar() == '\'':
			sb.WriteByte('\'')
			l.readChar()
			l.readChar()
		case l.ch == '\'':
			l.readChar()
			return Token{Type: TokenString, Literal: sb.String(), Pos: start}
		default:
			sb.WriteByte(l.ch)
			l.readChar()
		}
	}
}

// Tokenize returns all tokens up to and including EOF or the first error.
func (l *Lexer) Tokenize() []Token {
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			return tokens
		}
	}
}

func isLetter(ch byte) bool {
	return ch >= 0x80 || unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
