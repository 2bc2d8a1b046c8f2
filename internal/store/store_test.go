package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vesaa/signalboost/internal/engine"
	"github.com/vesaa/signalboost/internal/netinfo"
	"github.com/vesaa/signalboost/internal/profile"
)

var _ engine.Recorder = (*Store)(nil)

func openTest(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestSessionLifecycle(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	info := engine.SessionInfo{
		ID:             "8d0c1f5e-7d7a-4a43-9d0f-3a1e2b7c9f10",
		Platform:       "linux",
		Interface:      "wlan0",
		ConnectionType: profile.WiFi5GHz,
		Level:          profile.Standard,
		TargetSpeed:    50,
		TargetSignal:   85,
		StartedAt:      time.Now(),
	}
	s.RecordSessionStart(info)
	s.RecordApply(engine.ApplyReport{
		SessionID: info.ID,
		Level:     profile.Standard,
		Trigger:   engine.TriggerStart,
		Success:   true,
		Applied:   []string{engine.StepTCP, engine.StepQoS},
		Failed:    []string{engine.StepDNS},
		Skipped:   []string{engine.StepMTU},
		Messages:  map[string]string{engine.StepDNS: "permission denied"},
		StartedAt: time.Now(),
	})
	s.RecordApply(engine.ApplyReport{SessionID: info.ID, Level: profile.Standard, Trigger: engine.TriggerMonitor, Applied: []string{engine.StepTCP}})
	s.RecordApply(engine.ApplyReport{SessionID: info.ID, Level: profile.Aggressive, Trigger: engine.TriggerLevel, Applied: []string{engine.StepMTU}})
	s.RecordSessionEnd(info, engine.RestoreReport{Restored: []string{"a", "b"}, Failed: []string{"c"}, StoppedAt: time.Now()})

	got, err := s.Session(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, "wlan0", got.Interface)
	assert.Equal(t, "aggressive", got.Level)
	assert.Equal(t, "wifi_5ghz", got.ConnectionType)
	assert.True(t, got.Success)
	assert.Equal(t, engine.StepDNS, got.FailedSteps)
	assert.Equal(t, 1, got.Reapplies)
	assert.Equal(t, 2, got.Restored)
	assert.Equal(t, 1, got.RestoreFailed)
	require.NotNil(t, got.StoppedAt)

	applies, err := s.Applies(ctx, info.ID)
	require.NoError(t, err)
	require.Len(t, applies, 6)
	assert.Equal(t, "applied", applies[0].Result)
	assert.Equal(t, engine.StepDNS, applies[2].Step)
	assert.Equal(t, "failed", applies[2].Result)
	assert.Equal(t, "permission denied", applies[2].Message)

	sessions, err := s.Sessions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestSnapshotsNewestFirstWithRetention(t *testing.T) {
	s := openTest(t, WithRetention(3))
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		s.RecordSnapshot("s1", netinfo.Snapshot{
			Interface:      "eth0",
			DownloadMbps:   float64(i),
			SignalStrength: netinfo.SignalNotApplicable,
			Timestamp:      time.Now(),
		}, float64(i*10))
	}

	rows, err := s.RecentSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 5.0, rows[0].DownloadMbps)
	assert.Equal(t, 50.0, rows[0].OptimizationValue)
	assert.Equal(t, 3.0, rows[2].DownloadMbps)
	assert.Equal(t, -1, rows[0].SignalStrength)

	rows, err = s.RecentSnapshots(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
