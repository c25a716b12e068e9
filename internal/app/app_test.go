package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kerfworks/kerf/api"
	"github.com/kerfworks/kerf/internal/config"
	"github.com/kerfworks/kerf/internal/forest"
	"github.com/kerfworks/kerf/internal/forest/foresttest"
	"github.com/kerfworks/kerf/internal/lock"
	"github.com/kerfworks/kerf/internal/walk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database = filepath.Join(dir, "kerf.db")
	cfg.MetricsTextfile = filepath.Join(dir, "kerf.prom")
	cfg.Strict = true
	cfg.MaxRate = 10000
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestAppRecalculateEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	a, err := Open(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()
	ctx := context.Background()

	c := foresttest.BuildChain(t, a.Store, "1")
	sum, err := a.Recalculate(ctx, walk.ProjectScope(c.Project.ID), false)
	require.NoError(t, err)
	assert.Equal(t, 7, sum.Kinds.Total().Processed)

	status, err := a.Status(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, status)

	data, err := os.ReadFile(cfg.MetricsTextfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `kerf_recalc_nodes_total{kind="project",outcome="processed"} 1`)
	assert.Contains(t, string(data), `kerf_dirty_nodes{kind="room"} 0`)

	require.NoError(t, a.Mark(ctx, c.Section))
	status, err = a.Status(ctx, c.Project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status[api.KindSection])
	assert.Equal(t, 1, status[api.KindProject])
	assert.Zero(t, status[api.KindDoor])

	require.NoError(t, a.Delete(ctx, c.Door))
	sum, err = a.Recalculate(ctx, walk.DirtyScope(), false)
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Kinds.Total().Processed)
}

func TestAppRejectsOverlappingRuns(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, forest.NewMemoryStore(), nil)
	require.NoError(t, err)

	held, err := lock.Run(cfg.Locks())
	require.NoError(t, err)
	defer held.Release()

	_, err = a.Recalculate(context.Background(), walk.AllScope(), false)
	assert.ErrorIs(t, err, lock.ErrRunInProgress)
}

func TestAppUnknownProject(t *testing.T) {
	a, err := New(testConfig(t), forest.NewMemoryStore(), nil)
	require.NoError(t, err)

	_, err = a.Recalculate(context.Background(), walk.ProjectScope("nope"), false)
	assert.ErrorIs(t, err, walk.ErrUnknownProject)

	_, err = a.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, walk.ErrUnknownProject)

	err = a.Mark(context.Background(), forest.Ref{Kind: api.KindRoom, ID: "nope"})
	assert.ErrorIs(t, err, forest.ErrNotFound)
}

func TestAppRejectsBadFormula(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scoring = &api.Profile{Kinds: []api.KindProfile{{Name: "room", Formula: "(+ 1"}}}
	_, err := New(cfg, forest.NewMemoryStore(), nil)
	assert.Error(t, err)
}
