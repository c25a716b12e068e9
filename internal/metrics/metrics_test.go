package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kerfworks/kerf/api"
	"github.com/kerfworks/kerf/internal/batch"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveNode(t *testing.T) {
	r := NewRecorder()
	r.ObserveNode(api.KindDoor, batch.Processed)
	r.ObserveNode(api.KindDoor, batch.Processed)
	r.ObserveNode(api.KindSection, batch.Failed)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.NodesTotal.WithLabelValues("component-door", "processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.NodesTotal.WithLabelValues("section", "failed")))
}

func TestObserveRunUsesScopeType(t *testing.T) {
	r := NewRecorder()
	finished := time.Unix(1700000000, 0)
	r.ObserveRun("project:P1", finished.Add(-2*time.Second), finished)

	assert.Equal(t, 1700000000.0, testutil.ToFloat64(r.LastRun.WithLabelValues("project")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.RunDuration))
}

func TestSetDirtyCoversEveryKind(t *testing.T) {
	r := NewRecorder()
	r.SetDirty(map[api.Kind]int{api.KindRoom: 3})
	assert.Equal(t, 10, testutil.CollectAndCount(r.DirtyNodes))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.DirtyNodes.WithLabelValues("room")))
	assert.Zero(t, testutil.ToFloat64(r.DirtyNodes.WithLabelValues("project")))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveNode(api.KindProject, batch.Partial)
	path := filepath.Join(t.TempDir(), "kerf.prom")

	require.NoError(t, r.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `kerf_recalc_nodes_total{kind="project",outcome="partial"} 1`)
}
