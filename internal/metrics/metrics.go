// Package metrics records recalculation runs in Prometheus form.
//
// kerf runs as a batch job, so nothing is scraped directly: after a run the
// registry is written to a file for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/kerfworks/kerf/api"
	"github.com/kerfworks/kerf/internal/batch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kerf"

// Recorder owns a private registry and the kerf metrics registered in it.
type Recorder struct {
	reg *prometheus.Registry

	// NodesTotal counts visited nodes. Labels: kind, outcome.
	NodesTotal *prometheus.CounterVec
	// RunDuration measures whole runs. Labels: scope.
	RunDuration *prometheus.HistogramVec
	// LastRun is the unix time the last run finished. Labels: scope.
	LastRun *prometheus.GaugeVec
	// DirtyNodes is the number of dirty nodes per kind after the last run.
	DirtyNodes *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		NodesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recalc",
			Name:      "nodes_total",
			Help:      "Nodes visited by recalculation, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recalc",
			Name:      "run_duration_seconds",
			Help:      "Wall time of recalculation runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"scope"}),
		LastRun: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "recalc",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last recalculation finished.",
		}, []string{"scope"}),
		DirtyNodes: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dirty_nodes",
			Help:      "Dirty nodes per kind.",
		}, []string{"kind"}),
	}
}

// Registry exposes the private registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// ObserveNode matches recalc.Options.Observe.
func (r *Recorder) ObserveNode(k api.Kind, o batch.Outcome) {
	r.NodesTotal.WithLabelValues(k.String(), o.String()).Inc()
}

// ObserveRun records a finished run. scope is reduced to its type so
// project ids do not become label values.
func (r *Recorder) ObserveRun(scope string, started, finished time.Time) {
	label := scopeLabel(scope)
	r.RunDuration.WithLabelValues(label).Observe(finished.Sub(started).Seconds())
	r.LastRun.WithLabelValues(label).Set(float64(finished.Unix()))
}

// SetDirty publishes dirty counts for every kind, zero included.
func (r *Recorder) SetDirty(counts map[api.Kind]int) {
	for _, k := range api.BottomUp() {
		r.DirtyNodes.WithLabelValues(k.String()).Set(float64(counts[k]))
	}
}

// WriteTextfile writes the registry atomically in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

func scopeLabel(scope string) string {
	switch scope {
	case "all", "dirty":
		return scope
	default:
		return "project"
	}
}
