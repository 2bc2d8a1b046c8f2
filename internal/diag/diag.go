// Package diag measures the active connection and derives the congestion
// and interference scores. Every probe is fault-isolated: a failed probe
// narrows the set of factors a score is built from but never aborts a pass.
package diag

import (
	"context"
	"errors"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vesaa/signalboost/internal/netinfo"
	"github.com/vesaa/signalboost/internal/search"
)

// Prober is the measurement surface of the platform dispatcher.
type Prober interface {
	Ping(ctx context.Context, host string, count int) (netinfo.Latency, error)
	MeasureBandwidth(ctx context.Context, iface string, d time.Duration) (netinfo.Bandwidth, error)
	SignalStrength(ctx context.Context, iface string) (int, error)
	InterfaceCounters(ctx context.Context, iface string) (netinfo.Counters, error)
	ScanNetworks(ctx context.Context, iface string) ([]netinfo.WirelessNetwork, error)
	CurrentChannel(ctx context.Context, iface string) (int, error)
}

// Engine runs diagnostic passes.
type Engine struct {
	p   Prober
	cfg Scoring
	dns exchanger
	log *zap.Logger
}

// New returns an Engine. Zero Scoring fields take their defaults.
func New(p Prober, cfg Scoring, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		p:   p,
		cfg: cfg,
		dns: &dns.Client{Net: "udp", Timeout: cfg.DNSTimeout},
		log: log.Named("diag"),
	}
}

// Scoring returns the effective constants.
func (e *Engine) Scoring() Scoring { return e.cfg }

// MeasureLatency pings host count times. All fields are zero on failure.
func (e *Engine) MeasureLatency(ctx context.Context, host string, count int) netinfo.Latency {
	if host == "" {
		host = e.cfg.PingHost
	}
	if count <= 0 {
		count = e.cfg.PingCount
	}
	l, err := e.p.Ping(ctx, host, count)
	if err != nil {
		e.log.Debug("latency probe failed", zap.String("host", host), zap.Error(err))
		return netinfo.Latency{}
	}
	return l
}

// MeasureBandwidth runs a throughput test of roughly d and never takes
// longer than d plus the configured grace window.
func (e *Engine) MeasureBandwidth(ctx context.Context, iface string, d time.Duration) netinfo.Bandwidth {
	if d <= 0 {
		d = e.cfg.BandwidthDuration
	}
	ctx, cancel := context.WithTimeout(ctx, d+e.cfg.BandwidthGrace)
	defer cancel()

	bw, err := e.p.MeasureBandwidth(ctx, iface, d)
	if err != nil {
		e.log.Debug("bandwidth probe failed", zap.String("iface", iface), zap.Error(err))
	}
	return bw
}

// MeasureSignalStrength returns the signal of iface in percent, or
// netinfo.SignalNotApplicable for wired links.
func (e *Engine) MeasureSignalStrength(ctx context.Context, iface netinfo.Interface) int {
	if !iface.IsWireless {
		return netinfo.SignalNotApplicable
	}
	sig, err := e.p.SignalStrength(ctx, iface.Name)
	if err != nil {
		e.log.Debug("signal probe failed, using default", zap.String("iface", iface.Name), zap.Int("signal", sig), zap.Error(err))
	}
	return sig
}

// AnalyzeCongestion pings the configured host and reads the interface
// counters of iface.
func (e *Engine) AnalyzeCongestion(ctx context.Context, iface string) float64 {
	var (
		lat   netinfo.Latency
		ratio float64
		ok    bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lat = e.MeasureLatency(gctx, "", 0)
		return nil
	})
	g.Go(func() error {
		ratio, ok = e.interfaceRatio(gctx, iface)
		return nil
	})
	_ = g.Wait()
	return e.cfg.Congestion(lat, ratio, ok)
}

func (e *Engine) interfaceRatio(ctx context.Context, iface string) (float64, bool) {
	c, err := e.p.InterfaceCounters(ctx, iface)
	if err != nil {
		e.log.Debug("interface counters unavailable", zap.String("iface", iface), zap.Error(err))
		return 0, false
	}
	return c.ErrorRatio()
}

// AnalyzeInterference scores wireless contention on iface. Wired links and
// failed probes fall back to the configured default.
func (e *Engine) AnalyzeInterference(ctx context.Context, iface netinfo.Interface) float64 {
	if !iface.IsWireless {
		return e.cfg.InterferenceDefault
	}
	in := InterferenceInputs{CoChannel: -1}
	if ch, err := e.p.CurrentChannel(ctx, iface.Name); err == nil {
		in.Channel = ch
		if nets, err := e.p.ScanNetworks(ctx, iface.Name); err == nil {
			in.CoChannel = search.CoChannelCount(nets, ch)
		}
	}
	in.Samples = e.signalSamples(ctx, iface.Name)
	return e.cfg.Interference(in)
}

// signalSamples reads the signal SignalSamples times, SignalSampleInterval
// apart. Failed reads are dropped.
func (e *Engine) signalSamples(ctx context.Context, iface string) []int {
	samples := make([]int, 0, e.cfg.SignalSamples)
	for i := 0; i < e.cfg.SignalSamples; i++ {
		if i > 0 && e.cfg.SignalSampleInterval > 0 {
			select {
			case <-ctx.Done():
				return samples
			case <-time.After(e.cfg.SignalSampleInterval):
			}
		}
		if sig, err := e.p.SignalStrength(ctx, iface); err == nil {
			samples = append(samples, sig)
		}
	}
	return samples
}

// ── full pass ────────────────────────────────────────────────────────────────

type runOptions struct {
	bandwidth    time.Duration
	skipBW       bool
	interference bool
}

// RunOption adjusts a single pass.
type RunOption func(*runOptions)

// WithBandwidthDuration overrides the throughput test length.
func WithBandwidthDuration(d time.Duration) RunOption {
	return func(o *runOptions) { o.bandwidth = d }
}

// WithoutBandwidth skips the throughput test; the snapshot reports 0/0.
func WithoutBandwidth() RunOption {
	return func(o *runOptions) { o.skipBW = true }
}

// WithoutInterference skips the interference analysis and reports the default.
func WithoutInterference() RunOption {
	return func(o *runOptions) { o.interference = false }
}

// Run performs one complete diagnostic pass on iface. The probes run
// concurrently; the returned snapshot is always complete.
func (e *Engine) Run(ctx context.Context, iface netinfo.Interface, opts ...RunOption) netinfo.Snapshot {
	o := runOptions{interference: true}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		lat          netinfo.Latency
		bw           netinfo.Bandwidth
		signal       = netinfo.SignalNotApplicable
		ratio        float64
		ratioOK      bool
		interference = e.cfg.InterferenceDefault
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lat = e.MeasureLatency(gctx, "", 0)
		return nil
	})
	if !o.skipBW {
		g.Go(func() error {
			bw = e.MeasureBandwidth(gctx, iface.Name, o.bandwidth)
			return nil
		})
	}
	g.Go(func() error {
		signal = e.MeasureSignalStrength(gctx, iface)
		return nil
	})
	g.Go(func() error {
		ratio, ratioOK = e.interfaceRatio(gctx, iface.Name)
		return nil
	})
	if o.interference {
		g.Go(func() error {
			interference = e.AnalyzeInterference(gctx, iface)
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		e.log.Warn("diagnostic pass", zap.Error(err))
	}

	snap := netinfo.Snapshot{
		Timestamp:         time.Now(),
		Interface:         iface.Name,
		LatencyMin:        lat.Min,
		LatencyAvg:        lat.Avg,
		LatencyMax:        lat.Max,
		Jitter:            lat.Jitter,
		PacketLoss:        lat.Loss,
		DownloadMbps:      bw.DownloadMbps,
		UploadMbps:        bw.UploadMbps,
		SignalStrength:    signal,
		CongestionScore:   e.cfg.Congestion(lat, ratio, ratioOK),
		InterferenceScore: interference,
	}
	snap.QualityScore, snap.QualityRating, snap.Issues = netinfo.Quality(lat)
	e.log.Debug("diagnostic pass complete",
		zap.String("iface", iface.Name),
		zap.Float64("latency_ms", lat.Avg),
		zap.Float64("download_mbps", bw.DownloadMbps),
		zap.Int("signal", signal),
		zap.Float64("congestion", snap.CongestionScore),
		zap.Float64("interference", snap.InterferenceScore))
	return snap
}
