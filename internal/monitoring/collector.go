// Package monitoring exports link quality and optimization activity as
// Prometheus metrics.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vesaa/signalboost/internal/engine"
	"github.com/vesaa/signalboost/internal/netinfo"
)

const namespace = "signalboost"

// Collector implements engine.Recorder on top of its own registry.
type Collector struct {
	reg *prometheus.Registry

	// Link gauges, labelled by interface
	latency      *prometheus.GaugeVec
	jitter       *prometheus.GaugeVec
	packetLoss   *prometheus.GaugeVec
	download     *prometheus.GaugeVec
	upload       *prometheus.GaugeVec
	signal       *prometheus.GaugeVec
	congestion   *prometheus.GaugeVec
	interference *prometheus.GaugeVec
	quality      *prometheus.GaugeVec
	optimization *prometheus.GaugeVec

	// Session activity
	active       prometheus.Gauge
	sessions     prometheus.Counter
	snapshots    prometheus.Counter
	applySteps   *prometheus.CounterVec
	applyRuns    *prometheus.CounterVec
	applySeconds prometheus.Histogram
	restores     *prometheus.CounterVec
}

// NewCollector registers every metric on a fresh registry together with
// the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	link := func(name, help string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      name,
			Help:      help,
		}, []string{"interface"})
	}

	return &Collector{
		reg: reg,

		latency:      link("latency_ms", "Average round-trip latency of the last pass in milliseconds"),
		jitter:       link("jitter_ms", "Latency jitter of the last pass in milliseconds"),
		packetLoss:   link("packet_loss_percent", "Packet loss of the last pass"),
		download:     link("download_mbps", "Measured download throughput"),
		upload:       link("upload_mbps", "Measured upload throughput"),
		signal:       link("signal_percent", "Wireless signal strength (-1 on wired links)"),
		congestion:   link("congestion_score", "Congestion score (0-100)"),
		interference: link("interference_score", "Interference score (0-100)"),
		quality:      link("quality_score", "Connection quality score (0-100)"),
		optimization: link("optimization_value", "Progress toward the session targets (0-100)"),

		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "optimization_active",
			Help:      "1 while an optimization session is running",
		}),
		sessions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Optimization sessions started",
		}),
		snapshots: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Diagnostic passes recorded",
		}),
		applySteps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_steps_total",
			Help:      "Apply steps by outcome",
		}, []string{"step", "result"}),
		applyRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_runs_total",
			Help:      "Apply sequences by trigger",
		}, []string{"trigger"}),
		applySeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apply_duration_seconds",
			Help:      "Duration of an apply sequence",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		restores: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restore_settings_total",
			Help:      "Baseline settings replayed on stop by outcome",
		}, []string{"result"}),
	}
}

// Registry returns the registry for an HTTP handler.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) RecordSessionStart(engine.SessionInfo) {
	c.active.Set(1)
	c.sessions.Inc()
}

func (c *Collector) RecordSnapshot(_ string, s netinfo.Snapshot, value float64) {
	c.snapshots.Inc()
	iface := s.Interface
	c.latency.WithLabelValues(iface).Set(s.LatencyAvg)
	c.jitter.WithLabelValues(iface).Set(s.Jitter)
	c.packetLoss.WithLabelValues(iface).Set(s.PacketLoss)
	c.download.WithLabelValues(iface).Set(s.DownloadMbps)
	c.upload.WithLabelValues(iface).Set(s.UploadMbps)
	c.signal.WithLabelValues(iface).Set(float64(s.SignalStrength))
	c.congestion.WithLabelValues(iface).Set(s.CongestionScore)
	c.interference.WithLabelValues(iface).Set(s.InterferenceScore)
	c.quality.WithLabelValues(iface).Set(float64(s.QualityScore))
	c.optimization.WithLabelValues(iface).Set(value)
}

func (c *Collector) RecordApply(r engine.ApplyReport) {
	c.applyRuns.WithLabelValues(string(r.Trigger)).Inc()
	c.applySeconds.Observe(r.Duration.Seconds())
	for _, s := range r.Applied {
		c.applySteps.WithLabelValues(s, "applied").Inc()
	}
	for _, s := range r.Failed {
		c.applySteps.WithLabelValues(s, "failed").Inc()
	}
	for _, s := range r.Skipped {
		c.applySteps.WithLabelValues(s, "skipped").Inc()
	}
}

func (c *Collector) RecordSessionEnd(info engine.SessionInfo, r engine.RestoreReport) {
	c.active.Set(0)
	c.restores.WithLabelValues("restored").Add(float64(len(r.Restored)))
	c.restores.WithLabelValues("failed").Add(float64(len(r.Failed)))
	c.optimization.DeleteLabelValues(info.Interface)
}
