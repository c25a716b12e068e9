package recalc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/kerfworks/kerf/api"
	"github.com/kerfworks/kerf/internal/batch"
	"github.com/kerfworks/kerf/internal/dirty"
	"github.com/kerfworks/kerf/internal/forest"
	"github.com/kerfworks/kerf/internal/forest/foresttest"
	"github.com/kerfworks/kerf/internal/score"
	"github.com/kerfworks/kerf/internal/walk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scorerFunc func(kind api.Kind, attrs map[string]any, children []float64) (float64, error)

func (f scorerFunc) Score(kind api.Kind, attrs map[string]any, children []float64) (float64, error) {
	return f(kind, attrs, children)
}

// countScore is 1 + w attribute + sum of children: on a plain chain every
// node scores its height above the leaf plus one.
func countScore(_ api.Kind, attrs map[string]any, children []float64) (float64, error) {
	v := 1.0
	if w, ok := attrs["w"].(float64); ok {
		v += w
	} else if w, ok := attrs["w"].(int); ok {
		v += float64(w)
	}
	for _, c := range children {
		v += c
	}
	return v, nil
}

func scoreOf(t *testing.T, s forest.Reader, ref forest.Ref) float64 {
	t.Helper()
	n, err := s.GetNode(context.Background(), ref)
	require.NoError(t, err)
	return n.Score
}

func assertClean(t *testing.T, s forest.Reader) {
	t.Helper()
	counts, err := forest.CountDirty(context.Background(), s, "", 0)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

var chainOrder = []api.Kind{api.KindDoor, api.KindSection, api.KindCabinet, api.KindRun, api.KindLocation, api.KindRoom, api.KindProject}

func TestRunProjectEndToEnd(t *testing.T) {
	for name, s := range foresttest.Stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := foresttest.BuildChain(t, s, "1")
			var order []api.Kind
			o := New(s, scorerFunc(countScore), Options{Observe: func(k api.Kind, _ batch.Outcome) {
				order = append(order, k)
			}})

			sum, err := o.Run(ctx, walk.ProjectScope(c.Project.ID), false)
			require.NoError(t, err)
			assert.Equal(t, chainOrder, order, "D1, S1, C1, Ru1, L1, R1, P1")
			require.Len(t, sum.Kinds, 10)
			for _, k := range api.BottomUp() {
				want := 1
				if k == api.KindDrawer || k == api.KindShelf || k == api.KindPullout {
					want = 0
				}
				assert.Equal(t, want, sum.Processed(k), k.String())
			}
			assert.False(t, sum.HasFailures())
			assertClean(t, s)
			for i, ref := range c.Refs() {
				assert.Equal(t, float64(i+1), scoreOf(t, s, ref), ref.String())
			}

			// Idempotence: a second run does no work and changes nothing.
			again, err := o.Run(ctx, walk.ProjectScope(c.Project.ID), false)
			require.NoError(t, err)
			assert.Zero(t, again.Kinds.Total().Processed)
			assert.Equal(t, 7, again.Kinds.Total().Skipped)
			assert.Equal(t, 7.0, scoreOf(t, s, c.Project))
		})
	}
}

func TestRunAfterLeafEdit(t *testing.T) {
	for name, s := range foresttest.Stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := foresttest.BuildChain(t, s, "1")
			other := foresttest.BuildChain(t, s, "2")
			var order []api.Kind
			o := New(s, scorerFunc(countScore), Options{Observe: func(k api.Kind, out batch.Outcome) {
				if out != batch.Skipped {
					order = append(order, k)
				}
			}})
			_, err := o.Run(ctx, walk.AllScope(), false)
			require.NoError(t, err)
			order = nil

			// Edit D1: the whole chain up to P1 is dirty, nothing else.
			require.NoError(t, s.Put(ctx, &forest.Node{Ref: c.Door, Parent: c.Section, Attributes: map[string]any{"w": 10}}))
			for _, ref := range c.Refs() {
				assert.True(t, foresttest.Dirty(t, s, ref), ref.String())
			}
			assert.False(t, foresttest.Dirty(t, s, other.Project))

			sum, err := o.Run(ctx, walk.DirtyScope(), false)
			require.NoError(t, err)
			assert.Equal(t, 7, sum.Kinds.Total().Processed)
			assert.Zero(t, sum.Kinds.Total().Skipped)
			assert.Equal(t, chainOrder, order)
			for _, k := range chainOrder {
				assert.Equal(t, 1, sum.Processed(k), k.String())
			}
			assertClean(t, s)
			assert.Equal(t, 11.0, scoreOf(t, s, c.Door))
			assert.Equal(t, 17.0, scoreOf(t, s, c.Project))
			assert.Equal(t, 7.0, scoreOf(t, s, other.Project))
		})
	}
}

func TestRunBottomUpCorrectness(t *testing.T) {
	s := forest.NewMemoryStore()
	ctx := context.Background()
	c := foresttest.BuildChain(t, s, "")
	foresttest.Put(t, s, api.KindDrawer, "DR", c.Section, map[string]any{"w": 2})
	foresttest.Put(t, s, api.KindShelf, "SH", c.Section, nil)
	cab2 := foresttest.Put(t, s, api.KindCabinet, "C2", c.Run, map[string]any{"w": 3})
	foresttest.Put(t, s, api.KindSection, "S2", cab2, nil)

	reg, err := score.FromProfile(score.DefaultProfile())
	require.NoError(t, err)
	_, err = New(s, reg, Options{PageSize: 2}).Run(ctx, walk.AllScope(), false)
	require.NoError(t, err)

	page, err := s.Query(ctx, forest.Query{Limit: 100})
	require.NoError(t, err)
	for _, n := range page {
		kids, err := s.Children(ctx, n.Ref)
		require.NoError(t, err)
		var scores []float64
		for _, k := range kids {
			scores = append(scores, k.Score)
		}
		want, err := reg.Score(n.Ref.Kind, n.Attributes, scores)
		require.NoError(t, err)
		assert.InDelta(t, want, n.Score, 1e-9, n.Ref.String())
		assert.False(t, n.Dirty, n.Ref.String())
	}
}

func TestRunFailureIsolation(t *testing.T) {
	s := forest.NewMemoryStore()
	ctx := context.Background()
	c := foresttest.BuildChain(t, s, "")
	bad := foresttest.Put(t, s, api.KindDoor, "bad", c.Section, nil)
	other := foresttest.BuildChain(t, s, "ok")

	broken := true
	scorer := scorerFunc(func(k api.Kind, attrs map[string]any, children []float64) (float64, error) {
		if broken && attrs == nil && k == api.KindDoor {
			return 0, errors.New("missing door style")
		}
		return countScore(k, attrs, children)
	})
	// BuildChain gives doors attributes; "bad" has none.
	o := New(s, scorer, Options{})
	sum, err := o.Run(ctx, walk.AllScope(), false)
	require.NoError(t, err)

	assert.True(t, sum.HasFailures())
	assert.Equal(t, 1, sum.Failed())
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, bad.String(), sum.Failures[0].Ref)
	assert.Contains(t, sum.Failures[0].Error, "missing door style")

	// The failed door stays dirty and its ancestors are only partially updated.
	assert.True(t, foresttest.Dirty(t, s, bad))
	assert.False(t, foresttest.Dirty(t, s, c.Door))
	for _, ref := range c.Refs()[1:] {
		assert.True(t, foresttest.Dirty(t, s, ref), ref.String())
	}
	assert.Equal(t, 6, sum.Kinds.Total().Partial)
	assert.Equal(t, 1, sum.Kinds[api.KindSection].Partial)
	// The other project is unaffected.
	for _, ref := range other.Refs() {
		assert.False(t, foresttest.Dirty(t, s, ref), ref.String())
	}

	broken = false
	sum, err = o.Run(ctx, walk.DirtyScope(), false)
	require.NoError(t, err)
	assert.False(t, sum.HasFailures())
	assertClean(t, s)
	assert.Equal(t, 8.0, scoreOf(t, s, c.Project))
}

func TestRunRecoversScorerPanic(t *testing.T) {
	s := forest.NewMemoryStore()
	c := foresttest.BuildChain(t, s, "")
	scorer := scorerFunc(func(k api.Kind, attrs map[string]any, children []float64) (float64, error) {
		if k == api.KindCabinet {
			panic("divide by zero")
		}
		return countScore(k, attrs, children)
	})
	sum, err := New(s, scorer, Options{}).Run(context.Background(), walk.ProjectScope(c.Project.ID), false)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Kinds[api.KindCabinet].Failed)
	assert.Contains(t, sum.Failures[0].Error, ErrScorerPanic.Error())
	assert.True(t, foresttest.Dirty(t, s, c.Cabinet))
	assert.False(t, foresttest.Dirty(t, s, c.Section))
}

func TestRunSupersededByConcurrentEdit(t *testing.T) {
	s := forest.NewMemoryStore()
	ctx := context.Background()
	c := foresttest.BuildChain(t, s, "")
	tracker := dirty.New(s)

	edited := false
	scorer := scorerFunc(func(k api.Kind, attrs map[string]any, children []float64) (float64, error) {
		if k == api.KindSection && !edited {
			// An edit lands on the door while its section is being scored.
			edited = true
			require.NoError(t, tracker.MarkDirty(ctx, c.Door))
		}
		return countScore(k, attrs, children)
	})
	o := New(s, scorer, Options{})
	sum, err := o.Run(ctx, walk.ProjectScope(c.Project.ID), false)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Kinds[api.KindSection].Superseded)
	assert.True(t, foresttest.Dirty(t, s, c.Door))
	assert.True(t, foresttest.Dirty(t, s, c.Section))
	assert.True(t, foresttest.Dirty(t, s, c.Project))

	sum, err = o.Run(ctx, walk.DirtyScope(), false)
	require.NoError(t, err)
	assert.Equal(t, 7, sum.Kinds.Total().Processed)
	assertClean(t, s)
}

func TestRunForceRescoresCleanNodes(t *testing.T) {
	s := forest.NewMemoryStore()
	ctx := context.Background()
	c := foresttest.BuildChain(t, s, "")
	_, err := New(s, scorerFunc(countScore), Options{}).Run(ctx, walk.AllScope(), false)
	require.NoError(t, err)

	double := scorerFunc(func(k api.Kind, attrs map[string]any, children []float64) (float64, error) {
		v, err := countScore(k, attrs, children)
		return 2 * v, err
	})
	sum, err := New(s, double, Options{}).Run(ctx, walk.AllScope(), true)
	require.NoError(t, err)
	assert.Equal(t, 7, sum.Kinds.Total().Processed)
	assert.True(t, sum.Force)
	// door 2, section 2*(1+2) = 6, ... doubled recursively.
	assert.Equal(t, 2.0, scoreOf(t, s, c.Door))
	assert.Equal(t, 6.0, scoreOf(t, s, c.Section))
	assertClean(t, s)
}

func TestRunForceFailureLeavesChainDirty(t *testing.T) {
	for name, s := range foresttest.Stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := foresttest.BuildChain(t, s, "")
			_, err := New(s, scorerFunc(countScore), Options{}).Run(ctx, walk.AllScope(), false)
			require.NoError(t, err)
			assertClean(t, s)

			broken := scorerFunc(func(k api.Kind, attrs map[string]any, children []float64) (float64, error) {
				if k == api.KindSection {
					return 0, errors.New("unknown variable hinge_count")
				}
				return countScore(k, attrs, children)
			})
			sum, err := New(s, broken, Options{}).Run(ctx, walk.AllScope(), true)
			require.NoError(t, err)
			assert.Equal(t, 1, sum.Kinds[api.KindSection].Failed)
			assert.Equal(t, 1, sum.Kinds[api.KindCabinet].Partial)
			assert.Equal(t, 1, sum.Kinds[api.KindProject].Partial)
			assert.False(t, foresttest.Dirty(t, s, c.Door))
			for _, ref := range []forest.Ref{c.Section, c.Cabinet, c.Project} {
				assert.True(t, foresttest.Dirty(t, s, ref), ref.String())
			}

			// The fixed formula picks the failed chain up without a force.
			sum, err = New(s, scorerFunc(countScore), Options{}).Run(ctx, walk.DirtyScope(), false)
			require.NoError(t, err)
			assert.Equal(t, 6, sum.Kinds.Total().Processed)
			assertClean(t, s)
			assert.Equal(t, 7.0, scoreOf(t, s, c.Project))
		})
	}
}

func TestRunUnknownProject(t *testing.T) {
	s := forest.NewMemoryStore()
	foresttest.BuildChain(t, s, "")
	visited := 0
	o := New(s, scorerFunc(countScore), Options{Observe: func(api.Kind, batch.Outcome) { visited++ }})
	sum, err := o.Run(context.Background(), walk.ProjectScope("P404"), false)
	assert.ErrorIs(t, err, walk.ErrUnknownProject)
	assert.Nil(t, sum)
	assert.Zero(t, visited)
}

func TestRunCancelledKeepsValidState(t *testing.T) {
	s := forest.NewMemoryStore()
	c := foresttest.BuildChain(t, s, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := New(s, scorerFunc(countScore), Options{Observe: func(k api.Kind, _ batch.Outcome) {
		if k == api.KindCabinet {
			cancel()
		}
	}})
	sum, err := o.Run(ctx, walk.ProjectScope(c.Project.ID), false)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sum)
	assert.Equal(t, 3, sum.Kinds.Total().Processed)
	assert.False(t, foresttest.Dirty(t, s, c.Cabinet))
	assert.True(t, foresttest.Dirty(t, s, c.Run))

	// The next run resumes where the cancelled one stopped.
	sum, err = o.Run(context.Background(), walk.DirtyScope(), false)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Kinds.Total().Processed)
	assertClean(t, s)
}

func TestRunFailureSampleIsBounded(t *testing.T) {
	s := forest.NewMemoryStore()
	c := foresttest.BuildChain(t, s, "")
	for i := 0; i < MaxFailureSample+20; i++ {
		foresttest.Put(t, s, api.KindShelf, fmt.Sprintf("sh%03d", i), c.Section, nil)
	}
	scorer := scorerFunc(func(k api.Kind, attrs map[string]any, children []float64) (float64, error) {
		if k == api.KindShelf {
			return 0, errors.New("no shelf pricing")
		}
		return countScore(k, attrs, children)
	})
	sum, err := New(s, scorer, Options{PageSize: 7}).Run(context.Background(), walk.AllScope(), false)
	require.NoError(t, err)
	assert.Equal(t, MaxFailureSample+20, sum.Failed())
	assert.Len(t, sum.Failures, MaxFailureSample)
}

func TestRunConvergesAfterRandomEdits(t *testing.T) {
	s := forest.NewMemoryStore()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	var chains []foresttest.Chain
	for i := 0; i < 3; i++ {
		chains = append(chains, foresttest.BuildChain(t, s, fmt.Sprint(i)))
	}
	var leaves []forest.Ref
	for i := 0; i < 30; i++ {
		c := chains[rng.Intn(len(chains))]
		kind := []api.Kind{api.KindDoor, api.KindDrawer, api.KindShelf, api.KindPullout}[rng.Intn(4)]
		leaves = append(leaves, foresttest.Put(t, s, kind, fmt.Sprintf("leaf%d", i), c.Section, map[string]any{"w": rng.Intn(5)}))
	}

	o := New(s, scorerFunc(countScore), Options{PageSize: 4})
	tracker := dirty.New(s)
	for round := 0; round < 5; round++ {
		for i := 0; i < 5; i++ {
			require.NoError(t, tracker.MarkDirty(ctx, leaves[rng.Intn(len(leaves))]))
		}
		_, err := o.Run(ctx, walk.DirtyScope(), false)
		require.NoError(t, err)
		assertClean(t, s)
	}

	// Converged scores equal a full forced recomputation.
	before := make(map[forest.Ref]float64)
	for _, c := range chains {
		before[c.Project] = scoreOf(t, s, c.Project)
	}
	_, err := o.Run(ctx, walk.AllScope(), true)
	require.NoError(t, err)
	for ref, v := range before {
		assert.Equal(t, v, scoreOf(t, s, ref), ref.String())
	}
}

func TestRunWithSQLiteStoreAndProfile(t *testing.T) {
	stores := foresttest.Stores(t)
	s := stores["sqlite"]
	ctx := context.Background()
	c := foresttest.BuildChain(t, s, "")

	reg, err := score.FromProfile(score.DefaultProfile())
	require.NoError(t, err)
	var pages int
	o := New(s, reg, Options{PageSize: 1, Progress: func(batch.Progress) { pages++ }})
	sum, err := o.Run(ctx, walk.DirtyScope(), false)
	require.NoError(t, err)
	assert.Equal(t, 7, sum.Kinds.Total().Processed)
	assert.Equal(t, 7, pages)
	assertClean(t, s)
	// door: 2 + shaker 1; section: 0.5 + 3; cabinet: 2 + 600*0.002 + 3.5.
	assert.InDelta(t, 3.0, scoreOf(t, s, c.Door), 1e-9)
	assert.InDelta(t, 3.5, scoreOf(t, s, c.Section), 1e-9)
	assert.InDelta(t, 6.7, scoreOf(t, s, c.Cabinet), 1e-9)
}
