package gradecalc

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/file"
	goerrors "github.com/goliatone/go-errors"
)

// ErrDivisionByZero is returned when a rule divides by zero.
var ErrDivisionByZero = errors.New("gradecalc: division by zero")

// CodeInvalidRule is the text code of rule syntax errors.
const CodeInvalidRule = "INVALID_RULE"

// EvaluateRule computes a final grade rule against stats. A rule is an
// arithmetic expression over numbers and the functions sum(TYPE),
// count(TYPE) and avg(TYPE), for example "(avg(KA)*2 + avg(MDL)) / 3".
// A type without grades contributes 0.
func EvaluateRule(rule string, stats Stats) (float64, error) {
	if strings.TrimSpace(rule) == "" {
		return 0, invalidRule(rule, "empty rule", nil)
	}

	// collection types are variables holding their own name
	env := make(map[string]any, len(stats))
	for typ := range stats {
		env[typ] = typ
	}

	opts := []expr.Option{
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		expr.DisableAllBuiltins(),
		expr.AsFloat64(),
	}
	for name, fn := range aggregates(stats) {
		call := func(params ...any) (any, error) {
			typ, _ := params[0].(string)
			return fn(typ), nil
		}
		// rules are written in either case
		for _, n := range []string{name, strings.ToUpper(name)} {
			opts = append(opts, expr.Function(n, call, new(func(any) float64)))
		}
	}

	program, err := expr.Compile(rule, opts...)
	if err != nil {
		return 0, invalidRule(rule, "cannot compile rule", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return 0, invalidRule(rule, "cannot evaluate rule", err)
	}

	v, ok := out.(float64)
	if !ok {
		return 0, invalidRule(rule, fmt.Sprintf("rule yields %T, not a number", out), nil)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("%w in %q", ErrDivisionByZero, rule)
	}
	return v, nil
}

func aggregates(stats Stats) map[string]func(typ string) float64 {
	return map[string]func(string) float64{
		"sum":   func(typ string) float64 { return stats[typ].Sum },
		"count": func(typ string) float64 { return float64(stats[typ].Count) },
		"avg":   func(typ string) float64 { return stats[typ].Avg() },
	}
}

func invalidRule(rule, msg string, cause error) error {
	meta := map[string]any{"rule": rule}
	var ferr *file.Error
	if errors.As(cause, &ferr) {
		meta["pos"] = ferr.Column
		msg = msg + ": " + ferr.Message
	}

	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, goerrors.CategoryBadInput, "gradecalc: "+msg)
	} else {
		err = goerrors.New("gradecalc: "+msg, goerrors.CategoryBadInput)
	}
	return err.WithTextCode(CodeInvalidRule).WithMetadata(meta)
}
