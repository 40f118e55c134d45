// Package enforcement implements the two-lane hard-constraint enforcer
// (spec.md §4.4): a deterministic expression evaluator for rules carrying
// enforcement_expression, and an LLM-judge lane for subjective rules.
package enforcement

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
)

// ErrUnsafeExpression indicates an enforcement_expression uses a
// construct outside the evaluator's safe subset (attribute access,
// subscripting, imports, function calls beyond the allowed set).
var ErrUnsafeExpression = fmt.Errorf("enforcement: expression uses a disallowed construct")

// safeFunctions is the conservative default safe-function set named by
// spec.md §9's open question: "min, max, len, abs, round, any, all" and
// nothing else.
var safeFunctions = map[string]bool{
	"min": true, "max": true, "len": true, "abs": true,
	"round": true, "any": true, "all": true,
}

// EvalExpression evaluates a formal boolean expression (e.g.
// "discount_percent <= 10") against vars, using Go's own expression
// grammar as the parser (no custom lexer to maintain) but rejecting
// every AST node kind except literals, identifiers, the allowed
// arithmetic/comparison/boolean operators, and calls to safeFunctions.
// There is no attribute access, no subscripting, and no imports in the
// permitted grammar, so a successful parse that reaches Eval is, by
// construction, incapable of reaching anything outside vars.
func EvalExpression(expr string, vars map[string]any) (bool, error) {
	node, err := parser.ParseExpr(expr)
	if err != nil {
		return false, fmt.Errorf("enforcement: parse expression: %w", err)
	}
	if err := checkSafe(node); err != nil {
		return false, err
	}
	val, err := eval(node, vars)
	if err != nil {
		return false, err
	}
	b, ok := val.(bool)
	if !ok {
		return false, fmt.Errorf("enforcement: expression %q did not evaluate to a boolean", expr)
	}
	return b, nil
}

func checkSafe(n ast.Node) error {
	var outerErr error
	ast.Inspect(n, func(node ast.Node) bool {
		if outerErr != nil {
			return false
		}
		switch v := node.(type) {
		case *ast.SelectorExpr, *ast.IndexExpr, *ast.IndexListExpr,
			*ast.ImportSpec, *ast.FuncLit, *ast.CompositeLit,
			*ast.StarExpr, *ast.UnaryExpr:
			if u, ok := node.(*ast.UnaryExpr); ok {
				switch u.Op {
				case token.SUB, token.NOT, token.ADD:
					return true
				}
			}
			outerErr = ErrUnsafeExpression
			return false
		case *ast.CallExpr:
			id, ok := v.Fun.(*ast.Ident)
			if !ok || !safeFunctions[id.Name] {
				outerErr = ErrUnsafeExpression
				return false
			}
		}
		return true
	})
	return outerErr
}

func eval(n ast.Expr, vars map[string]any) (any, error) {
	switch v := n.(type) {
	case *ast.ParenExpr:
		return eval(v.X, vars)
	case *ast.Ident:
		switch v.Name {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		val, ok := vars[v.Name]
		if !ok {
			return nil, fmt.Errorf("enforcement: unbound variable %q", v.Name)
		}
		return val, nil
	case *ast.BasicLit:
		return literalValue(v)
	case *ast.UnaryExpr:
		x, err := eval(v.X, vars)
		if err != nil {
			return nil, err
		}
		switch v.Op {
		case token.SUB:
			return -toFloat(x), nil
		case token.NOT:
			b, ok := x.(bool)
			if !ok {
				return nil, fmt.Errorf("enforcement: ! requires boolean operand")
			}
			return !b, nil
		case token.ADD:
			return toFloat(x), nil
		}
		return nil, ErrUnsafeExpression
	case *ast.BinaryExpr:
		return evalBinary(v, vars)
	case *ast.CallExpr:
		return evalCall(v, vars)
	default:
		return nil, ErrUnsafeExpression
	}
}

func literalValue(lit *ast.BasicLit) (any, error) {
	switch lit.Kind {
	case token.INT, token.FLOAT:
		var f float64
		if _, err := fmt.Sscanf(lit.Value, "%g", &f); err != nil {
			return nil, fmt.Errorf("enforcement: parse numeric literal %q: %w", lit.Value, err)
		}
		return f, nil
	case token.STRING:
		s, err := unquote(lit.Value)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, ErrUnsafeExpression
	}
}

func unquote(s string) (string, error) {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') {
		return s[1 : len(s)-1], nil
	}
	return s, nil
}

func evalBinary(b *ast.BinaryExpr, vars map[string]any) (any, error) {
	x, err := eval(b.X, vars)
	if err != nil {
		return nil, err
	}
	// Short-circuit boolean operators before evaluating the right side.
	if b.Op == token.LAND {
		lb, ok := x.(bool)
		if !ok {
			return nil, fmt.Errorf("enforcement: && requires boolean operands")
		}
		if !lb {
			return false, nil
		}
		y, err := eval(b.Y, vars)
		if err != nil {
			return nil, err
		}
		rb, ok := y.(bool)
		if !ok {
			return nil, fmt.Errorf("enforcement: && requires boolean operands")
		}
		return rb, nil
	}
	if b.Op == token.LOR {
		lb, ok := x.(bool)
		if !ok {
			return nil, fmt.Errorf("enforcement: || requires boolean operands")
		}
		if lb {
			return true, nil
		}
		y, err := eval(b.Y, vars)
		if err != nil {
			return nil, err
		}
		rb, ok := y.(bool)
		if !ok {
			return nil, fmt.Errorf("enforcement: || requires boolean operands")
		}
		return rb, nil
	}

	y, err := eval(b.Y, vars)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case token.EQL:
		return equalValues(x, y), nil
	case token.NEQ:
		return !equalValues(x, y), nil
	case token.LSS:
		return toFloat(x) < toFloat(y), nil
	case token.LEQ:
		return toFloat(x) <= toFloat(y), nil
	case token.GTR:
		return toFloat(x) > toFloat(y), nil
	case token.GEQ:
		return toFloat(x) >= toFloat(y), nil
	case token.ADD:
		if sx, ok := x.(string); ok {
			return sx + fmt.Sprint(y), nil
		}
		return toFloat(x) + toFloat(y), nil
	case token.SUB:
		return toFloat(x) - toFloat(y), nil
	case token.MUL:
		return toFloat(x) * toFloat(y), nil
	case token.QUO:
		return toFloat(x) / toFloat(y), nil
	case token.REM:
		return math.Mod(toFloat(x), toFloat(y)), nil
	default:
		return nil, ErrUnsafeExpression
	}
}

func evalCall(c *ast.CallExpr, vars map[string]any) (any, error) {
	id, ok := c.Fun.(*ast.Ident)
	if !ok || !safeFunctions[id.Name] {
		return nil, ErrUnsafeExpression
	}
	args := make([]any, 0, len(c.Args))
	for _, a := range c.Args {
		v, err := eval(a, vars)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	switch id.Name {
	case "min":
		return foldFloats(args, math.Min)
	case "max":
		return foldFloats(args, math.Max)
	case "abs":
		if len(args) != 1 {
			return nil, fmt.Errorf("enforcement: abs takes 1 argument")
		}
		return math.Abs(toFloat(args[0])), nil
	case "round":
		if len(args) != 1 {
			return nil, fmt.Errorf("enforcement: round takes 1 argument")
		}
		return math.Round(toFloat(args[0])), nil
	case "len":
		if len(args) != 1 {
			return nil, fmt.Errorf("enforcement: len takes 1 argument")
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("enforcement: len requires a string argument")
		}
		return float64(len([]rune(s))), nil
	case "any":
		return foldBools(args, false)
	case "all":
		return foldBools(args, true)
	default:
		return nil, ErrUnsafeExpression
	}
}

func foldFloats(args []any, f func(a, b float64) float64) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("enforcement: requires at least one argument")
	}
	out := toFloat(args[0])
	for _, a := range args[1:] {
		out = f(out, toFloat(a))
	}
	return out, nil
}

func foldBools(args []any, identity bool) (any, error) {
	result := identity
	for _, a := range args {
		b, ok := a.(bool)
		if !ok {
			return nil, fmt.Errorf("enforcement: any/all require boolean arguments")
		}
		if identity {
			result = result && b
		} else {
			result = result || b
		}
	}
	return result, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return math.NaN()
	}
}

func equalValues(a, b any) bool {
	if af, aok := a.(float64); aok {
		if bf, bok := b.(float64); bok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
