// Package recalc brings dirty scores back in line with the forest.
//
// Nodes are scored in walker order (descendants first). Every score is
// committed on its own, so an interrupted run leaves a valid intermediate
// state that the next run completes.
package recalc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kerfworks/kerf/api"
	"github.com/kerfworks/kerf/internal/batch"
	"github.com/kerfworks/kerf/internal/forest"
	"github.com/kerfworks/kerf/internal/score"
	"github.com/kerfworks/kerf/internal/walk"
	"golang.org/x/time/rate"
)

// ErrScorerPanic wraps a panic recovered from a Scorer.
var ErrScorerPanic = errors.New("scorer panicked")

// Options tune a recalculation run. The zero value is valid.
type Options struct {
	PageSize int
	Limiter  *rate.Limiter
	Gate     batch.GateFunc
	Progress func(batch.Progress)
	// Observe, when set, is called with every node outcome.
	Observe func(api.Kind, batch.Outcome)
}

// Orchestrator runs the score-and-clear pass.
type Orchestrator struct {
	store  forest.Store
	scorer score.Scorer
	opts   Options
	now    func() time.Time
}

func New(store forest.Store, scorer score.Scorer, opts Options) *Orchestrator {
	return &Orchestrator{store: store, scorer: scorer, opts: opts, now: time.Now}
}

// Run recalculates the nodes of scope. Without force, clean nodes are
// skipped. Per-node failures are logged and counted, never returned; the
// error is non-nil only when the walk itself stops (unknown project, store
// failure while paging, cancellation). A partial summary accompanies every
// error except walk.ErrUnknownProject.
func (o *Orchestrator) Run(ctx context.Context, scope walk.Scope, force bool) (*Summary, error) {
	sum := &Summary{Scope: scope.String(), Force: force, Started: o.now()}
	exec := &batch.Executor{
		Walker:   walk.New(o.store, o.opts.PageSize),
		Limiter:  o.opts.Limiter,
		Gate:     o.opts.Gate,
		Progress: o.opts.Progress,
	}

	tally, err := exec.Run(ctx, scope, func(ctx context.Context, n *forest.Node) batch.Outcome {
		out := o.visit(ctx, n, force, sum)
		if o.opts.Observe != nil {
			o.opts.Observe(n.Ref.Kind, out)
		}
		return out
	})
	sum.Kinds = tally
	sum.Finished = o.now()

	if errors.Is(err, walk.ErrUnknownProject) {
		return nil, err
	}
	total := tally.Total()
	log.Printf("Recalc: %s: processed %d, skipped %d, partial %d, superseded %d, failed %d in %v",
		sum.Scope, total.Processed, total.Skipped, total.Partial, total.Superseded, total.Failed,
		sum.Duration().Round(time.Millisecond))
	if err != nil {
		return sum, fmt.Errorf("recalculate %s: %w", sum.Scope, err)
	}
	return sum, nil
}

func (o *Orchestrator) visit(ctx context.Context, n *forest.Node, force bool, sum *Summary) batch.Outcome {
	if !force && !n.Dirty {
		return batch.Skipped
	}

	var (
		scores     []float64
		childDirty bool
	)
	if !n.Ref.Kind.IsLeaf() {
		children, err := o.store.Children(ctx, n.Ref)
		if err != nil {
			return o.fail(ctx, sum, n, fmt.Errorf("read children: %w", err))
		}
		scores = make([]float64, len(children))
		for i, c := range children {
			scores[i] = c.Score
			childDirty = childDirty || c.Dirty
		}
	}

	v, err := o.score(n, scores)
	if err != nil {
		return o.fail(ctx, sum, n, err)
	}

	// A dirty child means this score is built on a stale input: persist it
	// but keep the flag so the next run revisits the node.
	clearAt := n.Gen
	if childDirty {
		clearAt = 0
	}
	cleared, err := o.store.SetScore(ctx, n.Ref, v, clearAt)
	if err != nil {
		return o.fail(ctx, sum, n, fmt.Errorf("persist score: %w", err))
	}
	switch {
	case childDirty:
		return batch.Partial
	case !cleared:
		log.Printf("Recalc: %s changed while scoring; left dirty", n.Ref)
		return batch.Superseded
	default:
		return batch.Processed
	}
}

func (o *Orchestrator) score(n *forest.Node, children []float64) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrScorerPanic, r)
		}
	}()
	return o.scorer.Score(n.Ref.Kind, n.Attributes, children)
}

// fail records a failure and leaves n dirty. A forced run visits clean
// nodes too; those are marked so that n and its ancestors are retried and
// no parent is cleared on top of the stale score.
func (o *Orchestrator) fail(ctx context.Context, sum *Summary, n *forest.Node, err error) batch.Outcome {
	log.Printf("Recalc: score %s: %v", n.Ref, err)
	sum.addFailure(n.Ref.String(), err)
	if !n.Dirty {
		if merr := o.store.SetDirty(ctx, n.Ref); merr != nil {
			log.Printf("Recalc: mark %s dirty: %v", n.Ref, merr)
		}
	}
	return batch.Failed
}
