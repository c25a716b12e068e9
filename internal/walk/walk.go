// Package walk enumerates forest nodes in bottom-up order for recalculation.
package walk

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/kerfworks/kerf/api"
	"github.com/kerfworks/kerf/internal/forest"
)

// ErrUnknownProject is returned by Walk before any page is emitted when a
// project scope names no existing project.
var ErrUnknownProject = errors.New("unknown project")

type scopeKind uint8

const (
	scopeAll scopeKind = iota
	scopeProject
	scopeDirty
)

// Scope selects the nodes a walk visits.
type Scope struct {
	kind    scopeKind
	project string
}

// ProjectScope visits every node of one project.
func ProjectScope(id string) Scope { return Scope{kind: scopeProject, project: id} }

// AllScope visits every node, project by project.
func AllScope() Scope { return Scope{kind: scopeAll} }

// DirtyScope visits the nodes that are dirty when the walk starts.
func DirtyScope() Scope { return Scope{kind: scopeDirty} }

// Project returns the project id of a project scope.
func (s Scope) Project() string { return s.project }

// DirtyOnly reports whether s is the dirty scope.
func (s Scope) DirtyOnly() bool { return s.kind == scopeDirty }

func (s Scope) String() string {
	switch s.kind {
	case scopeProject:
		return "project:" + s.project
	case scopeDirty:
		return "dirty"
	default:
		return "all"
	}
}

// MarshalText lets summaries carry the scope as a string.
func (s Scope) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Page is a run of nodes of one kind inside one project, in Seq order.
type Page struct {
	Project string
	Kind    api.Kind
	Nodes   []*forest.Node
}

// Walker pages through a forest. It never writes.
type Walker struct {
	r        forest.Reader
	pageSize int
}

// New returns a walker emitting pages of at most pageSize nodes.
func New(r forest.Reader, pageSize int) *Walker {
	if pageSize <= 0 {
		pageSize = forest.DefaultPageSize
	}
	return &Walker{r: r, pageSize: pageSize}
}

// Walk calls fn for every page of scope. Inside a project, kinds are
// emitted leaves first, so every descendant precedes its ancestors.
// An error from fn or the reader stops the walk.
func (w *Walker) Walk(ctx context.Context, scope Scope, fn func(Page) error) error {
	switch scope.kind {
	case scopeProject:
		n, err := w.r.GetNode(ctx, forest.ProjectRef(scope.project))
		if errors.Is(err, forest.ErrNotFound) {
			return fmt.Errorf("%w: %q", ErrUnknownProject, scope.project)
		}
		if err != nil {
			return err
		}
		return w.walkProject(ctx, n.Ref.ID, nil, fn)

	case scopeDirty:
		snap, projects, err := w.snapshot(ctx)
		if err != nil {
			return err
		}
		log.Printf("Walk: dirty snapshot holds %d nodes in %d projects", snap.GetCardinality(), len(projects))
		for _, id := range projects {
			if err := w.walkProject(ctx, id, snap, fn); err != nil {
				return err
			}
		}
		return nil

	default:
		q := forest.Query{Kind: api.KindProject, Limit: w.pageSize}
		for {
			page, err := w.r.Query(ctx, q)
			if err != nil {
				return fmt.Errorf("list projects: %w", err)
			}
			for _, p := range page {
				if err := w.walkProject(ctx, p.Ref.ID, nil, fn); err != nil {
					return err
				}
			}
			if len(page) < w.pageSize {
				return nil
			}
			q.After = page[len(page)-1].Seq
		}
	}
}

// snapshot records the Seqs of every dirty node, and the dirty projects in
// Seq order.
func (w *Walker) snapshot(ctx context.Context) (*roaring64.Bitmap, []string, error) {
	snap := roaring64.New()
	var projects []string
	q := forest.Query{DirtyOnly: true, Limit: w.pageSize}
	for {
		page, err := w.r.Query(ctx, q)
		if err != nil {
			return nil, nil, fmt.Errorf("snapshot dirty nodes: %w", err)
		}
		for _, n := range page {
			snap.Add(n.Seq)
			if n.Ref.Kind == api.KindProject {
				projects = append(projects, n.Ref.ID)
			}
		}
		if len(page) < w.pageSize {
			return snap, projects, nil
		}
		q.After = page[len(page)-1].Seq
	}
}

// walkProject emits the pages of one project. When snap is non-nil only
// nodes that are dirty now and were dirty in the snapshot are emitted.
func (w *Walker) walkProject(ctx context.Context, project string, snap *roaring64.Bitmap, fn func(Page) error) error {
	for _, kind := range api.BottomUp() {
		q := forest.Query{Project: project, Kind: kind, DirtyOnly: snap != nil, Limit: w.pageSize}
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			page, err := w.r.Query(ctx, q)
			if err != nil {
				return fmt.Errorf("query %s nodes of project %s: %w", kind, project, err)
			}
			full := len(page) == w.pageSize
			if full {
				q.After = page[len(page)-1].Seq
			}
			if snap != nil {
				page = inSnapshot(page, snap)
			}
			if len(page) > 0 {
				if err := fn(Page{Project: project, Kind: kind, Nodes: page}); err != nil {
					return err
				}
			}
			if !full {
				break
			}
		}
	}
	return nil
}

func inSnapshot(nodes []*forest.Node, snap *roaring64.Bitmap) []*forest.Node {
	out := nodes[:0]
	for _, n := range nodes {
		if snap.Contains(n.Seq) {
			out = append(out, n)
		}
	}
	return out
}
