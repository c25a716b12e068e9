// Package forest holds the cabinetry node forest and its persistence backends.
//
// Every level of the hierarchy (project, room, location, run, cabinet,
// section, leaf component) is the same Node struct tagged with an api.Kind.
// The recalculation engine is written once against the Store interface;
// MemoryStore and SQLiteStore are the two backends.
package forest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kerfworks/kerf/api"
)

var (
	ErrNotFound  = errors.New("node not found")
	ErrBadRef    = errors.New("malformed node ref")
	ErrBadParent = errors.New("invalid parent")
)

// Ref identifies a node. IDs are unique within their kind only.
type Ref struct {
	Kind api.Kind
	ID   string
}

// String returns the "kind:id" form accepted by ParseRef.
func (r Ref) String() string {
	if r.IsZero() {
		return ""
	}
	return r.Kind.Short() + ":" + r.ID
}

// IsZero reports whether r is the empty ref (the parent of a project).
func (r Ref) IsZero() bool {
	return r.Kind == api.KindUnknown && r.ID == ""
}

// ParseRef parses "kind:id", e.g. "section:42" or "component-door:7".
func ParseRef(s string) (Ref, error) {
	kindPart, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Ref{}, fmt.Errorf("%w: %q", ErrBadRef, s)
	}
	k, err := api.ParseKind(kindPart)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrBadRef, err)
	}
	return Ref{Kind: k, ID: id}, nil
}

// ProjectRef returns the ref of the project with the given id.
func ProjectRef(id string) Ref {
	return Ref{Kind: api.KindProject, ID: id}
}

// Node is the universal primitive of the forest.
type Node struct {
	Seq        uint64         // store-assigned cursor key, increasing in insertion order
	Ref        Ref            // identity
	Parent     Ref            // zero for projects
	Project    string         // id of the owning project (own id for projects)
	Attributes map[string]any // business data, opaque to the engine

	Score     float64   // last persisted score
	Scored    bool      // false until the first successful recalculation
	Dirty     bool      // score may be inconsistent with attributes or children
	Gen       uint64    // dirty generation; advanced by every mark
	DirtiedAt time.Time // last time the node was marked dirty
	ScoredAt  time.Time // last time a score was persisted
}

// Validate checks the kind ladder for a node about to be stored.
func (n *Node) Validate() error {
	if !n.Ref.Kind.Valid() || n.Ref.ID == "" {
		return fmt.Errorf("%w: %q", ErrBadRef, n.Ref.String())
	}
	if n.Ref.Kind == api.KindProject {
		if !n.Parent.IsZero() {
			return fmt.Errorf("%w: project %s cannot have a parent", ErrBadParent, n.Ref.ID)
		}
		return nil
	}
	if want := n.Ref.Kind.ParentKind(); n.Parent.Kind != want || n.Parent.ID == "" {
		return fmt.Errorf("%w: %s must be owned by a %s, got %q", ErrBadParent, n.Ref, want.Short(), n.Parent.String())
	}
	return nil
}

// Query selects a page of nodes ordered by Seq.
type Query struct {
	Project   string   // restrict to one project; empty means all projects
	Kind      api.Kind // restrict to one kind; KindUnknown means any
	DirtyOnly bool
	After     uint64 // return nodes with Seq > After
	Limit     int    // page size; <= 0 means DefaultPageSize
}

// DefaultPageSize is used when Query.Limit is unset.
const DefaultPageSize = 500

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultPageSize
	}
	return q.Limit
}

func (q Query) matches(n *Node) bool {
	if n.Seq <= q.After {
		return false
	}
	if q.Project != "" && n.Project != q.Project {
		return false
	}
	if q.Kind != api.KindUnknown && n.Ref.Kind != q.Kind {
		return false
	}
	return !q.DirtyOnly || n.Dirty
}

// Reader is the read side of the persistence contract.
type Reader interface {
	GetNode(ctx context.Context, ref Ref) (*Node, error)
	// Children returns the direct children of ref in Seq order.
	Children(ctx context.Context, ref Ref) ([]*Node, error)
	// ParentChain returns the strict ancestors of ref, nearest first.
	ParentChain(ctx context.Context, ref Ref) ([]*Node, error)
	// Query returns at most q.Limit nodes with Seq > q.After.
	Query(ctx context.Context, q Query) ([]*Node, error)
}

// Store is the persistence collaborator of the recalculation engine.
//
// Scores are committed one node at a time so an interrupted run leaves the
// forest in a valid intermediate state.
type Store interface {
	Reader

	// SetScore persists score for ref. When clearAt is non-zero the dirty
	// flag is cleared only if the node's generation still equals clearAt;
	// cleared reports whether that happened.
	SetScore(ctx context.Context, ref Ref, score float64, clearAt uint64) (cleared bool, err error)

	// SetDirty marks ref and every strict ancestor dirty in one transaction
	// and advances their generations.
	SetDirty(ctx context.Context, ref Ref) error

	// Put inserts or replaces a node. The node and its ancestors become dirty.
	Put(ctx context.Context, n *Node) error

	// PutBatch inserts many nodes, parents before children, in bulk.
	PutBatch(ctx context.Context, nodes []*Node) error

	// Delete removes ref and its subtree and marks the former parent chain dirty.
	Delete(ctx context.Context, ref Ref) error

	Close() error
}

// CountDirty returns the number of dirty nodes per kind, optionally for one project.
func CountDirty(ctx context.Context, r Reader, project string, pageSize int) (map[api.Kind]int, error) {
	counts := make(map[api.Kind]int)
	q := Query{Project: project, DirtyOnly: true, Limit: pageSize}
	for {
		page, err := r.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, n := range page {
			counts[n.Ref.Kind]++
		}
		if len(page) < q.limit() {
			return counts, nil
		}
		q.After = page[len(page)-1].Seq
	}
}

func cloneNode(n *Node) *Node {
	c := *n
	if n.Attributes != nil {
		c.Attributes = make(map[string]any, len(n.Attributes))
		for k, v := range n.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}
