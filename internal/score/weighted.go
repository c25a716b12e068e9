package score

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kerfworks/kerf/api"
	"github.com/ohler55/ojg/jp"
)

type compiledTerm struct {
	expr   jp.Expr
	weight float64
	equals string
}

// NewWeighted compiles a KindProfile into a Func:
//
//	base + sum(term contributions) + child_factor * aggregate(children)
//
// Term paths are JSONPath expressions over the attributes; a bare field name
// such as "width_mm" is shorthand for "$.width_mm".
func NewWeighted(kp api.KindProfile) (Func, error) {
	if _, err := aggregate(kp.Aggregate, []float64{0}); err != nil {
		return nil, err
	}
	terms := make([]compiledTerm, 0, len(kp.Terms))
	for _, t := range kp.Terms {
		x, err := jp.ParseString(normalizePath(t.Path))
		if err != nil {
			return nil, fmt.Errorf("invalid jsonpath '%s': %w", t.Path, err)
		}
		terms = append(terms, compiledTerm{expr: x, weight: t.Weight, equals: t.Equals})
	}
	factor := kp.Factor()

	return func(attrs map[string]any, children []float64) (float64, error) {
		total := kp.Base
		if len(terms) > 0 && attrs != nil {
			for _, t := range terms {
				for _, v := range t.expr.Get(attrs) {
					total += t.contribution(v)
				}
			}
		}
		agg, err := aggregate(kp.Aggregate, children)
		if err != nil {
			return 0, err
		}
		return total + factor*agg, nil
	}, nil
}

func normalizePath(p string) string {
	if strings.HasPrefix(p, "$") || strings.HasPrefix(p, "@") {
		return p
	}
	return "$." + p
}

func (t compiledTerm) contribution(v any) float64 {
	switch x := v.(type) {
	case bool:
		if x {
			return t.weight
		}
		return 0
	case string:
		if (t.equals == "" && x != "") || (t.equals != "" && x == t.equals) {
			return t.weight
		}
		return 0
	}
	if f, ok := toFloat(v); ok {
		return f * t.weight
	}
	return 0
}

// toFloat converts the numeric types attributes arrive as (Go literals in
// tests, float64 from JSON, int from YAML) to float64.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case uint:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
