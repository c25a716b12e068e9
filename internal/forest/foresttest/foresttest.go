// Package foresttest builds small forests for tests.
package foresttest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kerfworks/kerf/api"
	"github.com/kerfworks/kerf/internal/forest"
	"github.com/stretchr/testify/require"
)

// Chain is one project with a single node on every level down to a door:
// P -> R -> L -> Ru -> C -> S -> D.
type Chain struct {
	Project, Room, Location, Run, Cabinet, Section, Door forest.Ref
}

// Refs returns the chain leaf first.
func (c Chain) Refs() []forest.Ref {
	return []forest.Ref{c.Door, c.Section, c.Cabinet, c.Run, c.Location, c.Room, c.Project}
}

// Stores returns a fresh MemoryStore and SQLiteStore, keyed by name.
func Stores(t testing.TB) map[string]forest.Store {
	t.Helper()
	db, err := forest.OpenSQLiteStore(filepath.Join(t.TempDir(), "kerf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return map[string]forest.Store{
		"memory": forest.NewMemoryStore(),
		"sqlite": db,
	}
}

// Put stores a node of kind k under parent and returns its ref.
func Put(t testing.TB, s forest.Store, k api.Kind, id string, parent forest.Ref, attrs map[string]any) forest.Ref {
	t.Helper()
	ref := forest.Ref{Kind: k, ID: id}
	require.NoError(t, s.Put(context.Background(), &forest.Node{Ref: ref, Parent: parent, Attributes: attrs}))
	return ref
}

// BuildChain stores the P1/R1/L1/Ru1/C1/S1/D1 chain, suffixing every id
// with suffix so several chains can share one store.
func BuildChain(t testing.TB, s forest.Store, suffix string) Chain {
	t.Helper()
	var c Chain
	c.Project = Put(t, s, api.KindProject, "P"+suffix, forest.Ref{}, map[string]any{"name": "Kitchen remodel"})
	c.Room = Put(t, s, api.KindRoom, "R"+suffix, c.Project, nil)
	c.Location = Put(t, s, api.KindLocation, "L"+suffix, c.Room, nil)
	c.Run = Put(t, s, api.KindRun, "Ru"+suffix, c.Location, nil)
	c.Cabinet = Put(t, s, api.KindCabinet, "C"+suffix, c.Run, map[string]any{"width_mm": 600})
	c.Section = Put(t, s, api.KindSection, "S"+suffix, c.Cabinet, nil)
	c.Door = Put(t, s, api.KindDoor, "D"+suffix, c.Section, map[string]any{"style": "shaker"})
	return c
}

// Dirty reports the dirty flag of ref, failing the test on error.
func Dirty(t testing.TB, s forest.Reader, ref forest.Ref) bool {
	t.Helper()
	n, err := s.GetNode(context.Background(), ref)
	require.NoError(t, err)
	return n.Dirty
}
