package score

import (
	"fmt"
	"strings"

	zygo "github.com/glycerine/zygomys/zygo"
	"github.com/ohler55/ojg/jp"
)

// NewFormula compiles a zygomys expression into a Func. The expression sees
// the node through these builtins:
//
//	(attr "path")           numeric attribute by JSONPath, 0 when absent;
//	                        true is 1, strings are returned as strings
//	(attr_is "path" "val")  1 when the attribute equals val, else 0
//	(children_sum)          sum of the children's scores
//	(children_max)          largest child score, 0 without children
//	(children_mean)         mean child score, 0 without children
//	(children_count)        number of children
//
// Each call evaluates in a fresh sandbox, so formulas cannot keep state
// between nodes or reach the filesystem.
func NewFormula(src string) (Func, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty formula")
	}
	// Compile once up front to surface syntax errors at load time.
	env := zygo.NewZlispSandbox()
	registerBuiltins(env, nil, nil)
	err := env.LoadString(src)
	env.Stop()
	if err != nil {
		return nil, fmt.Errorf("compile formula: %w", err)
	}

	return func(attrs map[string]any, children []float64) (float64, error) {
		env := zygo.NewZlispSandbox()
		defer env.Stop()
		registerBuiltins(env, attrs, children)
		if err := env.LoadString(src); err != nil {
			return 0, fmt.Errorf("compile formula: %w", err)
		}
		res, err := env.Run()
		if err != nil {
			return 0, fmt.Errorf("evaluate formula: %w", err)
		}
		switch v := res.(type) {
		case *zygo.SexpInt:
			return float64(v.Val), nil
		case *zygo.SexpFloat:
			return v.Val, nil
		}
		return 0, fmt.Errorf("formula returned %T (%s), want a number", res, res.SexpString(nil))
	}, nil
}

func registerBuiltins(env *zygo.Zlisp, attrs map[string]any, children []float64) {
	env.AddFunction("attr", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		v, err := lookupAttr(name, attrs, args, 1)
		if err != nil {
			return zygo.SexpNull, err
		}
		switch x := v.(type) {
		case nil:
			return &zygo.SexpFloat{Val: 0}, nil
		case bool:
			if x {
				return &zygo.SexpFloat{Val: 1}, nil
			}
			return &zygo.SexpFloat{Val: 0}, nil
		case string:
			return &zygo.SexpStr{S: x}, nil
		}
		f, _ := toFloat(v)
		return &zygo.SexpFloat{Val: f}, nil
	})

	env.AddFunction("attr_is", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		v, err := lookupAttr(name, attrs, args, 2)
		if err != nil {
			return zygo.SexpNull, err
		}
		want, ok := args[1].(*zygo.SexpStr)
		if !ok {
			return zygo.SexpNull, fmt.Errorf("%s: value must be a string", name)
		}
		if s, ok := v.(string); ok && s == want.S {
			return &zygo.SexpInt{Val: 1}, nil
		}
		return &zygo.SexpInt{Val: 0}, nil
	})

	agg := func(mode string) func(*zygo.Zlisp, string, []zygo.Sexp) (zygo.Sexp, error) {
		return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			v, err := aggregate(mode, children)
			if err != nil {
				return zygo.SexpNull, err
			}
			return &zygo.SexpFloat{Val: v}, nil
		}
	}
	env.AddFunction("children_sum", agg("sum"))
	env.AddFunction("children_max", agg("max"))
	env.AddFunction("children_mean", agg("mean"))
	env.AddFunction("children_count", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		return &zygo.SexpInt{Val: int64(len(children))}, nil
	})
}

// lookupAttr returns the first JSONPath match of args[0] in attrs, or nil.
func lookupAttr(name string, attrs map[string]any, args []zygo.Sexp, want int) (any, error) {
	if len(args) != want {
		return nil, fmt.Errorf("%s requires %d argument(s), got %d", name, want, len(args))
	}
	path, ok := args[0].(*zygo.SexpStr)
	if !ok {
		return nil, fmt.Errorf("%s: path must be a string", name)
	}
	x, err := jp.ParseString(normalizePath(path.S))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid jsonpath '%s': %w", name, path.S, err)
	}
	if attrs == nil {
		return nil, nil
	}
	if res := x.Get(attrs); len(res) > 0 {
		return res[0], nil
	}
	return nil, nil
}
