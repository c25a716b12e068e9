// Package score computes node complexity scores.
//
// A Scorer is a pure function of a node's kind, its own attributes and its
// direct children's persisted scores. The recalculation engine depends only
// on the Scorer interface; Registry, Weighted and Formula are the shipped
// implementations.
package score

import (
	"errors"
	"fmt"
	"math"

	"github.com/kerfworks/kerf/api"
)

var (
	ErrNoScorer  = errors.New("no scorer registered for kind")
	ErrNotFinite = errors.New("score is not a finite number")
)

// Scorer computes the score of one node. Implementations must be
// deterministic and accept an empty children slice.
type Scorer interface {
	Score(kind api.Kind, attrs map[string]any, children []float64) (float64, error)
}

// Func scores a node of a kind known to the caller.
type Func func(attrs map[string]any, children []float64) (float64, error)

// Registry dispatches to one Func per kind.
type Registry struct {
	funcs map[api.Kind]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[api.Kind]Func)}
}

// Register installs fn for kind k, replacing any previous Func.
func (r *Registry) Register(k api.Kind, fn Func) {
	r.funcs[k] = fn
}

// Score implements Scorer.
func (r *Registry) Score(kind api.Kind, attrs map[string]any, children []float64) (float64, error) {
	fn, ok := r.funcs[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoScorer, kind)
	}
	v, err := fn(attrs, children)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s scored %v", ErrNotFinite, kind, v)
	}
	return v, nil
}

// FromProfile builds a Registry covering every kind: kinds with a formula
// use Formula, all others use Weighted (an absent entry only aggregates
// children).
func FromProfile(p api.Profile) (*Registry, error) {
	r := NewRegistry()
	for _, k := range api.BottomUp() {
		kp, _ := p.Lookup(k)
		var (
			fn  Func
			err error
		)
		if kp.Formula != "" {
			fn, err = NewFormula(kp.Formula)
		} else {
			fn, err = NewWeighted(kp)
		}
		if err != nil {
			return nil, fmt.Errorf("scoring %s: %w", k, err)
		}
		r.Register(k, fn)
	}
	return r, nil
}

func aggregate(mode string, children []float64) (float64, error) {
	if len(children) == 0 {
		return 0, nil
	}
	switch mode {
	case "", "sum":
		var s float64
		for _, c := range children {
			s += c
		}
		return s, nil
	case "max":
		m := children[0]
		for _, c := range children[1:] {
			m = max(m, c)
		}
		return m, nil
	case "mean":
		s, _ := aggregate("sum", children)
		return s / float64(len(children)), nil
	default:
		return 0, fmt.Errorf("unknown aggregate %q", mode)
	}
}
