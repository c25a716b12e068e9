// Package app wires the store, scorer, orchestrator, locks and metrics for
// the CLI and the MCP server. No recalculation logic lives here.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/kerfworks/kerf/api"
	"github.com/kerfworks/kerf/internal/batch"
	"github.com/kerfworks/kerf/internal/config"
	"github.com/kerfworks/kerf/internal/dirty"
	"github.com/kerfworks/kerf/internal/forest"
	"github.com/kerfworks/kerf/internal/ingest"
	"github.com/kerfworks/kerf/internal/lock"
	"github.com/kerfworks/kerf/internal/metrics"
	"github.com/kerfworks/kerf/internal/recalc"
	"github.com/kerfworks/kerf/internal/score"
	"github.com/kerfworks/kerf/internal/walk"
	"golang.org/x/time/rate"
)

// App is one configured kerf instance.
type App struct {
	Config  *config.Config
	Store   forest.Store
	Tracker *dirty.Tracker
	Metrics *metrics.Recorder

	orch *recalc.Orchestrator
}

// Open opens the configured SQLite store.
func Open(cfg *config.Config, progress func(batch.Progress)) (*App, error) {
	store, err := forest.OpenSQLiteStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	a, err := New(cfg, store, progress)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// New wires an App around an already open store.
func New(cfg *config.Config, store forest.Store, progress func(batch.Progress)) (*App, error) {
	profile := score.DefaultProfile()
	if cfg.Scoring != nil {
		profile = *cfg.Scoring
	}
	scorer, err := score.FromProfile(profile)
	if err != nil {
		return nil, fmt.Errorf("build scorer: %w", err)
	}

	a := &App{
		Config:  cfg,
		Store:   store,
		Tracker: dirty.New(store),
		Metrics: metrics.NewRecorder(),
	}
	opts := recalc.Options{
		PageSize: cfg.PageSize,
		Progress: progress,
		Observe:  a.Metrics.ObserveNode,
	}
	if cfg.MaxRate > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(cfg.MaxRate), max(1, int(cfg.MaxRate)))
	}
	if cfg.Strict {
		opts.Gate = lock.Gate(cfg.Locks())
	}
	a.orch = recalc.New(store, scorer, opts)
	return a, nil
}

// Close closes the store.
func (a *App) Close() error { return a.Store.Close() }

// Recalculate runs one recalculation under the run lock and records metrics.
func (a *App) Recalculate(ctx context.Context, scope walk.Scope, force bool) (*recalc.Summary, error) {
	l, err := lock.Run(a.Config.Locks())
	if err != nil {
		return nil, err
	}
	defer l.Release()

	sum, err := a.orch.Run(ctx, scope, force)
	if sum != nil {
		a.Metrics.ObserveRun(sum.Scope, sum.Started, sum.Finished)
		if counts, cerr := forest.CountDirty(ctx, a.Store, "", a.Config.PageSize); cerr == nil {
			a.Metrics.SetDirty(counts)
		}
		a.flushMetrics()
	}
	return sum, err
}

// Mark flags ref and its ancestors dirty.
func (a *App) Mark(ctx context.Context, ref forest.Ref) error {
	release, err := a.projectGate(ctx, ref)
	if err != nil {
		return err
	}
	defer release()
	return a.Tracker.MarkDirty(ctx, ref)
}

// Delete removes ref and its subtree.
func (a *App) Delete(ctx context.Context, ref forest.Ref) error {
	release, err := a.projectGate(ctx, ref)
	if err != nil {
		return err
	}
	defer release()
	return a.Tracker.Delete(ctx, ref)
}

// Import loads a fixture file.
func (a *App) Import(ctx context.Context, path string) (int, error) {
	return ingest.Import(ctx, a.Store, path)
}

// Status returns dirty counts per kind, for one project or all of them.
func (a *App) Status(ctx context.Context, project string) (map[api.Kind]int, error) {
	if project != "" {
		if _, err := a.Store.GetNode(ctx, forest.ProjectRef(project)); err != nil {
			return nil, fmt.Errorf("%w: %q", walk.ErrUnknownProject, project)
		}
	}
	return forest.CountDirty(ctx, a.Store, project, a.Config.PageSize)
}

// projectGate holds the project lock of ref in strict mode.
func (a *App) projectGate(ctx context.Context, ref forest.Ref) (func(), error) {
	if !a.Config.Strict {
		return func() {}, nil
	}
	n, err := a.Store.GetNode(ctx, ref)
	if err != nil {
		return nil, err
	}
	l, err := lock.Project(ctx, a.Config.Locks(), n.Project)
	if err != nil {
		return nil, err
	}
	return l.Release, nil
}

func (a *App) flushMetrics() {
	if a.Config.MetricsTextfile == "" {
		return
	}
	if err := a.Metrics.WriteTextfile(a.Config.MetricsTextfile); err != nil {
		log.Printf("App: %v", err)
	}
}
