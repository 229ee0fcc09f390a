// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

// Adapted from the query parser of Arkilian (github.com/arkilian/arkilian,
// internal/query/parser).

package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError represents a parsing error with location information.
type ParseError struct {
	Message  string
	Position int
	Token    Token
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s (got %q)", e.Position, e.Message, e.Token.Literal)
}

// Parser is a Pratt parser over the token stream of a single expression.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
}

func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses input as one complete expression.
func Parse(input string) (Expression, error) {
	p := NewParser(input)
	if p.curTokenIs(TokenEOF) {
		return nil, &ParseError{Message: "empty expression", Token: p.curToken}
	}
	e, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	if !p.curTokenIs(TokenEOF) {
		return nil, p.errorf("unexpected trailing input")
	}
	return e, nil
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return &ParseError{Message: fmt.Sprintf(format, args...), Position: p.curToken.Pos, Token: p.curToken}
}

func (p *Parser) expect(t TokenType) error {
	if !p.curTokenIs(t) {
		return p.errorf("expected %s", t)
	}
	p.nextToken()
	return nil
}

const (
	precLowest  = 0
	precOr      = 1
	precAnd     = 2
	precNot     = 3
	precCompare = 4
	precAdd     = 5
	precMul     = 6
	precUnary   = 7
)

func (p *Parser) getPrecedence() int {
	switch p.curToken.Type {
	case TokenOr:
		return precOr
	case TokenAnd:
		return precAnd
	case TokenEq, TokenNe, TokenLt, TokenGt, TokenLe, TokenGe, TokenLike, TokenIn, TokenBetween, TokenIs, TokenNot:
		return precCompare
	case TokenPlus, TokenMinus, TokenConcat:
		return precAdd
	case TokenStar, TokenSlash, TokenPercent:
		return precMul
	default:
		return precLowest
	}
}

func (p *Parser) parseExpression(precedence int) (Expression, error) {
	left, err := p.parsePrefixExpression()
	if err != nil {
		return nil, err
	}
	for !p.curTokenIs(TokenEOF) && precedence < p.getPrecedence() {
		left, err = p.parseInfixExpression(left)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *Parser) parsePrefixExpression() (Expression, error) {
	switch p.curToken.Type {
	case TokenIdent:
		return p.parseIdentifierOrFunction()
	case TokenNumber:
		return p.parseNumber()
	case TokenString:
		lit := &Literal{Value: p.curToken.Literal}
		p.nextToken()
		return lit, nil
	case TokenNull:
		p.nextToken()
		return &Literal{Value: nil}, nil
	case TokenTrue, TokenFalse:
		lit := &Literal{Value: p.curTokenIs(TokenTrue)}
		p.nextToken()
		return lit, nil
	case TokenLParen:
		return p.parseGroupedExpression()
	case TokenNot:
		p.nextToken()
		operand, err := p.parseExpression(precNot)
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Operator: "NOT", Operand: operand}, nil
	case TokenMinus:
		p.nextToken()
		operand, err := p.parseExpression(precUnary)
		if err != nil {
			return nil, err
		}
		if lit, ok := operand.(*Literal); ok {
			switch v := lit.Value.(type) {
			case int64:
				return &Literal{Value: -v}, nil
			case float64:
				return &Literal{Value: -v}, nil
			}
		}
		return &UnaryExpr{Operator: "-", Operand: operand}, nil
	case TokenCast:
		return p.parseCast()
	case TokenError:
		return nil, p.errorf("invalid token")
	default:
		return nil, p.errorf("unexpected token in expression")
	}
}

func (p *Parser) parseIdentifierOrFunction() (Expression, error) {
	name := p.curToken.Literal
	p.nextToken()
	if !p.curTokenIs(TokenLParen) {
		return &ColumnRef{Column: name}, nil
	}
	p.nextToken()

	var args []Expression
	if !p.curTokenIs(TokenRParen) {
		for {
			arg, err := p.parseExpression(precLowest)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if !p.curTokenIs(TokenComma) {
				break
			}
			p.nextToken()
		}
	}
	if err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	fn := strings.ToLower(name)
	if _, ok := functions[fn]; !ok {
		return nil, &ParseError{Message: "unknown function " + name, Token: Token{Type: TokenIdent, Literal: name}}
	}
	return &FunctionCall{Name: fn, Args: args}, nil
}

func (p *Parser) parseCast() (Expression, error) {
	p.nextToken()
	if err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	inner, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenAs); err != nil {
		return nil, err
	}
	if !p.curTokenIs(TokenIdent) {
		return nil, p.errorf("expected type name")
	}
	typ := strings.ToLower(p.curToken.Literal)
	if _, ok := castTypes[typ]; !ok {
		return nil, p.errorf("unsupported cast type")
	}
	p.nextToken()
	if err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return &CastExpr{Expr: inner, Type: typ}, nil
}

func (p *Parser) parseNumber() (Expression, error) {
	literal := p.curToken.Literal
	if !strings.ContainsAny(literal, ".eE") {
		if val, err := strconv.ParseInt(literal, 10, 64); err == nil {
			p.nextToken()
			return &Literal{Value: val}, nil
		}
	}
	val, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return nil, p.errorf("invalid number")
	}
	p.nextToken()
	return &Literal{Value: val}, nil
}

func (p *Parser) parseGroupedExpression() (Expression, error) {
	p.nextToken()
	inner, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return &ParenExpr{Expr: inner}, nil
}

func (p *Parser) parseInfixExpression(left Expression) (Expression, error) {
	switch p.curToken.Type {
	case TokenLike:
		return p.parseLikeExpression(left, false)
	case TokenIn:
		return p.parseInExpression(left, false)
	case TokenBetween:
		return p.parseBetweenExpression(left, false)
	case TokenIs:
		return p.parseIsExpression(left)
	case TokenNot:
		return p.parseNotInfix(left)
	default:
		return p.parseBinaryExpression(left)
	}
}

func (p *Parser) parseBinaryExpression(left Expression) (Expression, error) {
	op := p.curToken.Type.String()
	precedence := p.getPrecedence()
	p.nextToken()
	right, err := p.parseExpression(precedence)
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Left: left, Operator: op, Right: right}, nil
}

func (p *Parser) parseLikeExpression(left Expression, not bool) (Expression, error) {
	p.nextToken()
	pattern, err := p.parseExpression(precCompare)
	if err != nil {
		return nil, err
	}
	like := &LikeExpr{Expr: left, Pattern: pattern, Not: not}
	if lit, ok := pattern.(*Literal); ok {
		s, ok := lit.Value.(string)
		if !ok {
			return nil, p.errorf("LIKE pattern must be a string")
		}
		like.re = compileLike(s)
	}
	return like, nil
}

func (p *Parser) parseInExpression(left Expression, not bool) (Expression, error) {
	p.nextToken()
	if err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	var values []Expression
	for {
		val, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		values = append(values, val)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return &InExpr{Expr: left, Values: values, Not: not}, nil
}

func (p *Parser) parseBetweenExpression(left Expression, not bool) (Expression, error) {
	p.nextToken()
	low, err := p.parseExpression(precCompare)
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenAnd); err != nil {
		return nil, err
	}
	high, err := p.parseExpression(precCompare)
	if err != nil {
		return nil, err
	}
	return &BetweenExpr{Expr: left, Low: low, High: high, Not: not}, nil
}

func (p *Parser) parseIsExpression(left Expression) (Expression, error) {
	p.nextToken()
	not := false
	if p.curTokenIs(TokenNot) {
		not = true
		p.nextToken()
	}
	if err := p.expect(TokenNull); err != nil {
		return nil, err
	}
	return &IsNullExpr{Expr: left, Not: not}, nil
}

func (p *Parser) parseNotInfix(left Expression) (Expression, error) {
	p.nextToken()
	switch p.curToken.Type {
	case TokenIn:
		return p.parseInExpression(left, true)
	case TokenLike:
		return p.parseLikeExpression(left, true)
	case TokenBetween:
		return p.parseBetweenExpression(left, true)
	default:
		return nil, p.errorf("expected IN, LIKE, or BETWEEN after NOT")
	}
}
