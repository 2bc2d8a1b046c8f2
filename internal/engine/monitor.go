package engine

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vesaa/signalboost/internal/diag"
	"github.com/vesaa/signalboost/internal/netinfo"
)

// monitor is the single background loop of a session. It is the only
// writer of the history and the optimization value while the session runs.
func (o *Orchestrator) monitor(ctx context.Context, done chan<- struct{}, limiter *rate.Limiter) {
	defer close(done)
	ticker := time.NewTicker(o.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}
		o.tick(ctx, limiter)
	}
}

func (o *Orchestrator) tick(ctx context.Context, limiter *rate.Limiter) {
	s := o.sess.Load()
	if s == nil {
		return
	}
	snap := o.d.Run(ctx, s.iface, diag.WithBandwidthDuration(o.cfg.MonitorBandwidth))
	if ctx.Err() != nil {
		return
	}

	o.history.Append(snap)
	value := optimizationValue(snap, s.opts.TargetSpeed, s.opts.TargetSignal)
	o.rec.RecordSnapshot(s.info.ID, snap, value)
	o.update(func(st *Status) { st.observe(snap, value) })

	if value >= 100 {
		return
	}
	if !limiter.Allow() {
		o.log.Debug("below target; re-apply rate limited", zap.Float64("value", value))
		return
	}

	o.log.Info("below target; re-applying",
		zap.Float64("download_mbps", snap.DownloadMbps),
		zap.Float64("target_mbps", s.opts.TargetSpeed),
		zap.Int("signal", snap.SignalStrength),
		zap.Float64("value", value))
	report := o.apply(ctx, o.current(s), snap, TriggerMonitor)
	o.rec.RecordApply(report)
	o.update(func(st *Status) {
		st.Reapplies++
		st.LastApply = &report
	})
}

// current returns the live session, preferring one installed by SetLevel
// during the measurement pass.
func (o *Orchestrator) current(fallback *session) *session {
	if s := o.sess.Load(); s != nil {
		return s
	}
	return fallback
}

// optimizationValue is min(download/target, signal/targetSignal)×100 capped
// to [0, 100]. The signal term applies to wireless snapshots only.
func optimizationValue(snap netinfo.Snapshot, targetSpeed float64, targetSignal int) float64 {
	v := 100.0
	if targetSpeed > 0 {
		v = math.Min(v, snap.DownloadMbps/targetSpeed*100)
	}
	if snap.Wireless() && targetSignal > 0 {
		v = math.Min(v, float64(snap.SignalStrength)/float64(targetSignal)*100)
	}
	return math.Max(0, v)
}
