package diag

import (
	"time"

	"github.com/vesaa/signalboost/internal/netinfo"
)

// Scoring holds the probe parameters and the empirical constants behind the
// composite scores. Every field is configurable.
type Scoring struct {
	PingHost          string        `mapstructure:"ping_host"`
	PingCount         int           `mapstructure:"ping_count"`
	BandwidthDuration time.Duration `mapstructure:"bandwidth_duration"`
	BandwidthGrace    time.Duration `mapstructure:"bandwidth_grace"`

	// Congestion: jitter and average latency are mapped linearly onto 0-100.
	JitterCeilingMs   float64 `mapstructure:"jitter_ceiling_ms"`
	LatencyFloorMs    float64 `mapstructure:"latency_floor_ms"`
	LatencyCeilingMs  float64 `mapstructure:"latency_ceiling_ms"`
	CongestionDefault float64 `mapstructure:"congestion_default"`

	// Interference.
	CoChannelWeight          float64       `mapstructure:"co_channel_weight"`
	SignalSamples            int           `mapstructure:"signal_samples"`
	SignalSampleInterval     time.Duration `mapstructure:"signal_sample_interval"`
	SignalVarianceMultiplier float64       `mapstructure:"signal_variance_multiplier"`
	BandPenalty24GHz         float64       `mapstructure:"band_penalty_24ghz"`
	InterferenceDefault      float64       `mapstructure:"interference_default"`

	// Resolver benchmark.
	DNSProbeDomain string        `mapstructure:"dns_probe_domain"`
	DNSQueries     int           `mapstructure:"dns_queries"`
	DNSTimeout     time.Duration `mapstructure:"dns_timeout"`
}

// DefaultScoring returns the stock constants.
func DefaultScoring() Scoring {
	return Scoring{
		PingHost:                 "8.8.8.8",
		PingCount:                4,
		BandwidthDuration:        10 * time.Second,
		BandwidthGrace:           5 * time.Second,
		JitterCeilingMs:          100,
		LatencyFloorMs:           10,
		LatencyCeilingMs:         200,
		CongestionDefault:        30,
		CoChannelWeight:          10,
		SignalSamples:            3,
		SignalSampleInterval:     500 * time.Millisecond,
		SignalVarianceMultiplier: 5,
		BandPenalty24GHz:         30,
		InterferenceDefault:      20,
		DNSProbeDomain:           "example.com",
		DNSQueries:               3,
		DNSTimeout:               2 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultScoring.
func (s Scoring) withDefaults() Scoring {
	d := DefaultScoring()
	if s.PingHost == "" {
		s.PingHost = d.PingHost
	}
	if s.PingCount <= 0 {
		s.PingCount = d.PingCount
	}
	if s.BandwidthDuration <= 0 {
		s.BandwidthDuration = d.BandwidthDuration
	}
	if s.BandwidthGrace <= 0 {
		s.BandwidthGrace = d.BandwidthGrace
	}
	if s.JitterCeilingMs <= 0 {
		s.JitterCeilingMs = d.JitterCeilingMs
	}
	if s.LatencyCeilingMs <= s.LatencyFloorMs {
		s.LatencyFloorMs, s.LatencyCeilingMs = d.LatencyFloorMs, d.LatencyCeilingMs
	}
	if s.CongestionDefault <= 0 {
		s.CongestionDefault = d.CongestionDefault
	}
	if s.CoChannelWeight <= 0 {
		s.CoChannelWeight = d.CoChannelWeight
	}
	if s.SignalSamples <= 0 {
		s.SignalSamples = d.SignalSamples
	}
	if s.SignalSampleInterval < 0 {
		s.SignalSampleInterval = d.SignalSampleInterval
	}
	if s.SignalVarianceMultiplier <= 0 {
		s.SignalVarianceMultiplier = d.SignalVarianceMultiplier
	}
	if s.InterferenceDefault <= 0 {
		s.InterferenceDefault = d.InterferenceDefault
	}
	if s.DNSProbeDomain == "" {
		s.DNSProbeDomain = d.DNSProbeDomain
	}
	if s.DNSQueries <= 0 {
		s.DNSQueries = d.DNSQueries
	}
	if s.DNSTimeout <= 0 {
		s.DNSTimeout = d.DNSTimeout
	}
	return s
}

// factors accumulates measured score components.
type factors []float64

func (f *factors) add(v float64) { *f = append(*f, clamp(v)) }

// mean averages the measured factors, or returns def when none were measured.
func (f factors) mean(def float64) float64 {
	if len(f) == 0 {
		return def
	}
	var sum float64
	for _, v := range f {
		sum += v
	}
	return clamp(sum / float64(len(f)))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// linear maps v from [lo, hi] onto [0, 100].
func linear(v, lo, hi float64) float64 {
	return clamp((v - lo) / (hi - lo) * 100)
}

// Congestion combines the factors that were measured. A zero latency
// average means the latency probe failed; ratioOK reports whether interface
// counters were read.
func (s Scoring) Congestion(lat netinfo.Latency, ratio float64, ratioOK bool) float64 {
	var f factors
	if lat.Avg > 0 {
		f.add(linear(lat.Jitter, 0, s.JitterCeilingMs))
		f.add(linear(lat.Avg, s.LatencyFloorMs, s.LatencyCeilingMs))
	}
	if ratioOK {
		f.add(ratio)
	}
	return f.mean(s.CongestionDefault)
}

// InterferenceInputs are the raw wireless observations. Channel is 0 and
// CoChannel negative when not measured.
type InterferenceInputs struct {
	Channel   int
	CoChannel int
	Samples   []int
}

// Interference combines co-channel crowding, signal variation and the band
// penalty over whichever inputs are present. A measured zero is a factor
// like any other: a 5 GHz channel, an empty channel and a flat signal each
// pull the mean down rather than dropping out of it. The default is used
// only when nothing was measured.
func (s Scoring) Interference(in InterferenceInputs) float64 {
	var f factors
	if in.CoChannel >= 0 && in.Channel > 0 {
		f.add(float64(in.CoChannel) * s.CoChannelWeight)
	}
	if len(in.Samples) >= 2 {
		lo, hi := in.Samples[0], in.Samples[0]
		for _, v := range in.Samples[1:] {
			lo, hi = min(lo, v), max(hi, v)
		}
		f.add(float64(hi-lo) * s.SignalVarianceMultiplier)
	}
	if in.Channel > 0 {
		if netinfo.Is24GHz(in.Channel) {
			f.add(s.BandPenalty24GHz)
		} else {
			f.add(0)
		}
	}
	return f.mean(s.InterferenceDefault)
}
