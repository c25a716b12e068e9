// Package batch drives a walk page by page and tallies per-node outcomes.
//
// Memory use is bounded by one page of nodes plus whatever the walker keeps
// (the dirty snapshot bitmap).
package batch

import (
	"context"
	"fmt"

	"github.com/kerfworks/kerf/internal/forest"
	"github.com/kerfworks/kerf/internal/walk"
	"golang.org/x/time/rate"
)

// VisitFunc processes one node. It must not return an error: failures are
// reported as the Failed outcome so the batch continues.
type VisitFunc func(ctx context.Context, n *forest.Node) Outcome

// GateFunc is called when the walk enters a project. The returned release
// func is called when the walk leaves it.
type GateFunc func(ctx context.Context, project string) (release func(), err error)

// Progress is reported after every page.
type Progress struct {
	Pages   int
	Visited int
	Project string
	Tally   Tally
}

// Executor runs a VisitFunc over every node of a scope.
type Executor struct {
	Walker *walk.Walker

	// Limiter, when set, throttles node visits.
	Limiter *rate.Limiter
	// Gate, when set, guards each project for the duration of its pages.
	Gate GateFunc
	// Progress, when set, is called after every page with a tally snapshot.
	Progress func(Progress)
}

// Run walks scope and visits every emitted node. The returned tally is
// complete up to the point where the walk stopped, even on error.
func (e *Executor) Run(ctx context.Context, scope walk.Scope, visit VisitFunc) (Tally, error) {
	tally := NewTally()
	var (
		pages, visited int
		current        string
		release        func()
	)
	defer func() {
		if release != nil {
			release()
		}
	}()

	err := e.Walker.Walk(ctx, scope, func(p walk.Page) error {
		if p.Project != current {
			if release != nil {
				release()
				release = nil
			}
			current = p.Project
			if e.Gate != nil {
				r, err := e.Gate(ctx, p.Project)
				if err != nil {
					return fmt.Errorf("enter project %s: %w", p.Project, err)
				}
				release = r
			}
		}

		for _, n := range p.Nodes {
			if e.Limiter != nil {
				if err := e.Limiter.Wait(ctx); err != nil {
					return err
				}
			} else if err := ctx.Err(); err != nil {
				return err
			}
			tally.Add(n.Ref.Kind, visit(ctx, n))
			visited++
		}

		pages++
		if e.Progress != nil {
			e.Progress(Progress{Pages: pages, Visited: visited, Project: p.Project, Tally: tally.Clone()})
		}
		return nil
	})
	return tally, err
}
