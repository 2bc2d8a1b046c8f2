package monitoring

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesaa/signalboost/internal/engine"
	"github.com/vesaa/signalboost/internal/netinfo"
)

var _ engine.Recorder = (*Collector)(nil)

func TestCollectorRecordsSession(t *testing.T) {
	c := NewCollector()
	info := engine.SessionInfo{ID: "s1", Interface: "wlan0"}

	c.RecordSessionStart(info)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.active))

	c.RecordSnapshot("s1", netinfo.Snapshot{
		Interface:      "wlan0",
		LatencyAvg:     24.5,
		DownloadMbps:   5,
		SignalStrength: 61,
		QualityScore:   88,
	}, 25)
	assert.Equal(t, 24.5, testutil.ToFloat64(c.latency.WithLabelValues("wlan0")))
	assert.Equal(t, 61.0, testutil.ToFloat64(c.signal.WithLabelValues("wlan0")))
	assert.Equal(t, 25.0, testutil.ToFloat64(c.optimization.WithLabelValues("wlan0")))

	c.RecordApply(engine.ApplyReport{
		Trigger:  engine.TriggerMonitor,
		Applied:  []string{engine.StepTCP},
		Failed:   []string{engine.StepDNS},
		Skipped:  []string{engine.StepMTU},
		Duration: 300 * time.Millisecond,
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.applySteps.WithLabelValues(engine.StepDNS, "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.applyRuns.WithLabelValues("monitor")))

	c.RecordSessionEnd(info, engine.RestoreReport{Restored: []string{"a", "b"}, Failed: []string{"c"}})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.active))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.restores.WithLabelValues("restored")))

	expected := `
# HELP signalboost_sessions_total Optimization sessions started
# TYPE signalboost_sessions_total counter
signalboost_sessions_total 1
`
	require.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "signalboost_sessions_total"))
}
