// Package dirty marks nodes whose score may be stale.
//
// A mark on one node is propagated synchronously to every ancestor, so a
// clean node always implies a clean subtree. The tracker knows nothing about
// scoring.
package dirty

import (
	"context"
	"fmt"
	"log"

	"github.com/kerfworks/kerf/internal/forest"
)

// Tracker is the write path CRUD code calls after every edit.
type Tracker struct {
	store forest.Store
}

func New(store forest.Store) *Tracker {
	return &Tracker{store: store}
}

// MarkDirty flags ref and every strict ancestor in one store transaction.
// Marking an already-dirty node leaves the flags as they are but advances
// the dirty generation of the whole chain.
func (t *Tracker) MarkDirty(ctx context.Context, ref forest.Ref) error {
	if err := t.store.SetDirty(ctx, ref); err != nil {
		return fmt.Errorf("mark dirty %s: %w", ref, err)
	}
	return nil
}

// IsDirty reports the current flag of ref.
func (t *Tracker) IsDirty(ctx context.Context, ref forest.Ref) (bool, error) {
	n, err := t.store.GetNode(ctx, ref)
	if err != nil {
		return false, err
	}
	return n.Dirty, nil
}

// NodeRemoved is the deletion hook: the former parent's aggregate changed,
// so its chain becomes dirty. A zero parent (a deleted project) is a no-op.
func (t *Tracker) NodeRemoved(ctx context.Context, parent forest.Ref) error {
	if parent.IsZero() {
		return nil
	}
	return t.MarkDirty(ctx, parent)
}

// Delete removes ref and its subtree through the store, which runs the
// deletion hook in the same transaction.
func (t *Tracker) Delete(ctx context.Context, ref forest.Ref) error {
	if err := t.store.Delete(ctx, ref); err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	log.Printf("Dirty: removed %s and its subtree", ref)
	return nil
}
