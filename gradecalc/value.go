// Package gradecalc turns cached grades into numbers: parsed grade values,
// plain averages and final grades computed from a subject's rule.
package gradecalc

import (
	"errors"
	"strconv"
	"strings"

	"github.com/goliatone/go-vplan-cache/store"
)

// ErrNotNumeric is returned for grade values that carry no number, such as
// "E" for excused or an empty value.
var ErrNotNumeric = errors.New("gradecalc: grade value is not numeric")

// modifierStep is what a trailing "+" or "-" moves a grade by.
const modifierStep = 0.25

// Value is a parsed grade such as "2+". Modifier is -1 for "+", 1 for "-"
// and 0 otherwise, so that Number orders better grades lower.
type Value struct {
	Base     int
	Modifier int
}

// ParseValue parses a grade value. Whitespace around the value is ignored.
func ParseValue(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Value{}, ErrNotNumeric
	}

	var mod int
	switch s[len(s)-1] {
	case '+':
		mod = -1
		s = s[:len(s)-1]
	case '-':
		mod = 1
		s = s[:len(s)-1]
	}

	base, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || base < 0 {
		return Value{}, ErrNotNumeric
	}
	return Value{Base: base, Modifier: mod}, nil
}

// Number is the value with its modifier applied: "2+" is 1.75, "2-" is 2.25.
func (v Value) Number() float64 {
	return float64(v.Base) + float64(v.Modifier)*modifierStep
}

func (v Value) String() string {
	s := strconv.Itoa(v.Base)
	switch v.Modifier {
	case -1:
		s += "+"
	case 1:
		s += "-"
	}
	return s
}

// numeric returns the grade's number, or false for a missing or
// non-numeric value.
func numeric(g store.Grade) (float64, bool) {
	if g.Value == nil {
		return 0, false
	}
	v, err := ParseValue(*g.Value)
	if err != nil {
		return 0, false
	}
	return v.Number(), true
}

// Average is the mean of the non-optional numeric grades. It reports false
// when there is no such grade.
func Average(grades []store.Grade) (float64, bool) {
	var sum float64
	var n int
	for _, g := range grades {
		if g.IsOptional {
			continue
		}
		if v, ok := numeric(g); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
