package tools

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/constant"
	"go/parser"
	"go/token"
	"math"
	"strconv"
	"strings"
)

const mathAllowedChars = "0123456789+-*/(). "

// InvalidExpression is returned as the observation when an expression
// contains anything outside digits, operators, parentheses and spaces.
const InvalidExpression = "Invalid characters in expression."

var errDivisionByZero = errors.New("division by zero")

// SolveMath returns the solve_math tool.
func SolveMath() *Tool {
	return &Tool{
		Name:        SolveMathToolName,
		Description: "Evaluate an arithmetic expression using + - * / and parentheses, e.g. 2 * (3 + 4).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"description": "The arithmetic expression to evaluate.",
				},
			},
			"required": []string{"expression"},
		},
		InputKey: "expression",
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			expr, _ := args["expression"].(string)
			return Evaluate(expr)
		},
	}
}

// Evaluate computes an arithmetic expression. Integer arithmetic is
// exact; division always yields a float.
func Evaluate(expr string) (string, error) {
	for _, c := range expr {
		if !strings.ContainsRune(mathAllowedChars, c) {
			return InvalidExpression, nil
		}
	}
	if strings.TrimSpace(expr) == "" {
		return "", errors.New("empty expression")
	}
	if strings.Contains(expr, "**") || strings.Contains(expr, "//") {
		return "", errors.New("unsupported operator: only + - * / are allowed")
	}

	node, err := parser.ParseExpr(expr)
	if err != nil {
		return "", fmt.Errorf("invalid syntax: %w", err)
	}
	v, err := eval(node)
	if err != nil {
		return "", err
	}
	return formatValue(v), nil
}

func eval(node ast.Expr) (constant.Value, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		if n.Kind == token.INT && len(n.Value) > 1 && n.Value[0] == '0' && strings.Trim(n.Value, "0") != "" {
			return nil, fmt.Errorf("leading zeros are not permitted: %s", n.Value)
		}
		v := constant.MakeFromLiteral(n.Value, n.Kind, 0)
		if v.Kind() == constant.Unknown {
			return nil, fmt.Errorf("invalid number: %s", n.Value)
		}
		return v, nil

	case *ast.ParenExpr:
		return eval(n.X)

	case *ast.UnaryExpr:
		x, err := eval(n.X)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case token.ADD, token.SUB:
			return constant.UnaryOp(n.Op, x, 0), nil
		}
		return nil, fmt.Errorf("unsupported operator %s", n.Op)

	case *ast.BinaryExpr:
		x, err := eval(n.X)
		if err != nil {
			return nil, err
		}
		y, err := eval(n.Y)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case token.ADD, token.SUB, token.MUL:
			return constant.BinaryOp(x, n.Op, y), nil
		case token.QUO:
			if constant.Sign(y) == 0 {
				return nil, errDivisionByZero
			}
			return constant.BinaryOp(constant.ToFloat(x), token.QUO, constant.ToFloat(y)), nil
		}
		return nil, fmt.Errorf("unsupported operator %s", n.Op)
	}
	return nil, fmt.Errorf("unsupported expression %T", node)
}

// formatValue renders integers exactly and floats the way a Python
// float prints: always with a fractional part or exponent.
func formatValue(v constant.Value) string {
	if v.Kind() == constant.Int {
		return v.ExactString()
	}
	f, _ := constant.Float64Val(v)
	if math.IsInf(f, 0) {
		if f > 0 {
			return "inf"
		}
		return "-inf"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs >= 1e16 || abs < 1e-4) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
