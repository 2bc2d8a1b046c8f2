package diag

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vesaa/signalboost/internal/netinfo"
	"github.com/vesaa/signalboost/internal/profile"
)

var errProbe = errors.New("probe failed")

type fakeProber struct {
	mu       sync.Mutex
	lat      netinfo.Latency
	latErr   error
	bw       netinfo.Bandwidth
	bwErr    error
	bwBlock  bool
	signals  []int
	sigErr   error
	counters netinfo.Counters
	cntErr   error
	nets     []netinfo.WirelessNetwork
	scanErr  error
	channel  int
	chErr    error
}

func (f *fakeProber) Ping(context.Context, string, int) (netinfo.Latency, error) {
	if f.latErr != nil {
		return netinfo.Latency{}, f.latErr
	}
	return f.lat, nil
}

func (f *fakeProber) MeasureBandwidth(ctx context.Context, _ string, _ time.Duration) (netinfo.Bandwidth, error) {
	if f.bwBlock {
		<-ctx.Done()
		return netinfo.Bandwidth{}, ctx.Err()
	}
	return f.bw, f.bwErr
}

func (f *fakeProber) SignalStrength(context.Context, string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sigErr != nil {
		return 60, f.sigErr
	}
	v := f.signals[0]
	if len(f.signals) > 1 {
		f.signals = f.signals[1:]
	}
	return v, nil
}

func (f *fakeProber) InterfaceCounters(context.Context, string) (netinfo.Counters, error) {
	return f.counters, f.cntErr
}

func (f *fakeProber) ScanNetworks(context.Context, string) ([]netinfo.WirelessNetwork, error) {
	return f.nets, f.scanErr
}

func (f *fakeProber) CurrentChannel(context.Context, string) (int, error) {
	return f.channel, f.chErr
}

func failingProber() *fakeProber {
	return &fakeProber{
		latErr:  errProbe,
		bwErr:   errProbe,
		sigErr:  errProbe,
		cntErr:  errProbe,
		scanErr: errProbe,
		chErr:   errProbe,
	}
}

func fastScoring() Scoring {
	s := DefaultScoring()
	s.SignalSampleInterval = 0
	return s
}

var (
	wired    = netinfo.Interface{Name: "eth0", IPAddress: "192.168.1.10"}
	wireless = netinfo.Interface{Name: "wlan0", IPAddress: "192.168.1.11", IsWireless: true}
)

func TestCongestionFactors(t *testing.T) {
	s := DefaultScoring()
	tests := []struct {
		name    string
		lat     netinfo.Latency
		ratio   float64
		ratioOK bool
		want    float64
	}{
		{"nothing measured", netinfo.Latency{}, 0, false, 30},
		{"latency only", netinfo.Latency{Avg: 105, Jitter: 50}, 0, false, 50},
		{"all factors", netinfo.Latency{Avg: 105, Jitter: 50}, 20, true, 40},
		{"below floor", netinfo.Latency{Avg: 5, Jitter: 0}, 0, false, 0},
		{"counters only", netinfo.Latency{}, 12, true, 12},
		{"capped", netinfo.Latency{Avg: 900, Jitter: 400}, 100, true, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Congestion(tt.lat, tt.ratio, tt.ratioOK)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 100.0)
		})
	}
}

func TestInterferenceFactors(t *testing.T) {
	s := DefaultScoring()
	tests := []struct {
		name string
		in   InterferenceInputs
		want float64
	}{
		{"nothing measured", InterferenceInputs{CoChannel: -1}, 20},
		{"crowded 2.4 GHz", InterferenceInputs{Channel: 6, CoChannel: 3, Samples: []int{70, 60, 65}}, (30.0 + 50 + 30) / 3},
		{"quiet 5 GHz", InterferenceInputs{Channel: 36, CoChannel: 0, Samples: []int{80, 80, 80}}, 0},
		{"measured zeros dilute", InterferenceInputs{Channel: 36, CoChannel: 3, Samples: []int{80, 80}}, 30.0 / 3},
		{"single sample ignored", InterferenceInputs{Channel: 0, CoChannel: -1, Samples: []int{50}}, 20},
		{"variance capped", InterferenceInputs{CoChannel: -1, Samples: []int{10, 90}}, 100},
		{"co-channel capped", InterferenceInputs{Channel: 11, CoChannel: 25}, (100.0 + 30) / 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.Interference(tt.in), 1e-9)
		})
	}
}

func TestAnalyzeDefaultsWhenEverythingFails(t *testing.T) {
	e := New(failingProber(), fastScoring(), zaptest.NewLogger(t))
	ctx := context.Background()

	assert.Equal(t, 30.0, e.AnalyzeCongestion(ctx, "wlan0"))
	assert.Equal(t, 20.0, e.AnalyzeInterference(ctx, wireless))
	assert.Equal(t, 20.0, e.AnalyzeInterference(ctx, wired))
	assert.Equal(t, netinfo.Latency{}, e.MeasureLatency(ctx, "", 0))
}

func TestAnalyzeInterferenceMeasured(t *testing.T) {
	p := &fakeProber{
		channel: 6,
		nets:    []netinfo.WirelessNetwork{{Channel: 6}, {Channel: 6}, {Channel: 11}},
		signals: []int{70, 66, 68},
	}
	e := New(p, fastScoring(), zaptest.NewLogger(t))
	assert.InDelta(t, (20.0+20+30)/3, e.AnalyzeInterference(context.Background(), wireless), 1e-9)
}

func TestSignalSamplesAreSpaced(t *testing.T) {
	s := DefaultScoring()
	s.SignalSampleInterval = 20 * time.Millisecond
	e := New(&fakeProber{signals: []int{50}}, s, zaptest.NewLogger(t))

	start := time.Now()
	samples := e.signalSamples(context.Background(), "wlan0")
	assert.Len(t, samples, 3)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestMeasureSignalStrength(t *testing.T) {
	ctx := context.Background()
	e := New(&fakeProber{signals: []int{72}}, fastScoring(), zaptest.NewLogger(t))
	assert.Equal(t, netinfo.SignalNotApplicable, e.MeasureSignalStrength(ctx, wired))
	assert.Equal(t, 72, e.MeasureSignalStrength(ctx, wireless))

	e = New(failingProber(), fastScoring(), zaptest.NewLogger(t))
	assert.Equal(t, 60, e.MeasureSignalStrength(ctx, wireless))
}

func TestMeasureBandwidthIsBounded(t *testing.T) {
	s := fastScoring()
	s.BandwidthGrace = 50 * time.Millisecond
	e := New(&fakeProber{bwBlock: true}, s, zaptest.NewLogger(t))

	start := time.Now()
	bw := e.MeasureBandwidth(context.Background(), "eth0", 50*time.Millisecond)
	assert.Equal(t, netinfo.Bandwidth{}, bw)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunProducesCompleteSnapshot(t *testing.T) {
	p := &fakeProber{
		lat:      netinfo.Latency{Min: 10, Avg: 12, Max: 15, Jitter: 2},
		bw:       netinfo.Bandwidth{DownloadMbps: 95, UploadMbps: 20},
		signals:  []int{80},
		counters: netinfo.Counters{PacketsRecv: 1000},
		channel:  36,
	}
	e := New(p, fastScoring(), zaptest.NewLogger(t))
	snap := e.Run(context.Background(), wireless)

	assert.Equal(t, "wlan0", snap.Interface)
	assert.False(t, snap.Timestamp.IsZero())
	assert.Equal(t, 12.0, snap.LatencyAvg)
	assert.Equal(t, 95.0, snap.DownloadMbps)
	assert.Equal(t, 80, snap.SignalStrength)
	assert.InDelta(t, (2.0+200.0/190)/3, snap.CongestionScore, 1e-6)
	assert.Equal(t, 0.0, snap.InterferenceScore)
	assert.Equal(t, "Excellent", snap.QualityRating)
	assert.True(t, snap.Wireless())
}

func TestRunDegradesToDefaults(t *testing.T) {
	e := New(failingProber(), fastScoring(), zaptest.NewLogger(t))
	snap := e.Run(context.Background(), wired, WithoutBandwidth())

	assert.Equal(t, netinfo.SignalNotApplicable, snap.SignalStrength)
	assert.Equal(t, 30.0, snap.CongestionScore)
	assert.Equal(t, 20.0, snap.InterferenceScore)
	assert.Zero(t, snap.DownloadMbps)
	assert.Equal(t, "Unknown", snap.QualityRating)
	assert.NotEmpty(t, snap.Issues)
}

func TestDetectConnectionType(t *testing.T) {
	tests := []struct {
		iface   netinfo.Interface
		channel int
		want    profile.ConnectionType
	}{
		{netinfo.Interface{}, 0, profile.Unknown},
		{netinfo.Interface{Name: "eth0"}, 0, profile.Ethernet},
		{netinfo.Interface{Name: "en0"}, 0, profile.Ethernet},
		{netinfo.Interface{Name: "wwan0"}, 0, profile.Mobile},
		{netinfo.Interface{Name: "Cellular"}, 0, profile.Mobile},
		{netinfo.Interface{Name: "wlan0", IsWireless: true}, 6, profile.WiFi24GHz},
		{netinfo.Interface{Name: "wlan0", IsWireless: true}, 0, profile.WiFi24GHz},
		{netinfo.Interface{Name: "Wi-Fi", IsWireless: true}, 149, profile.WiFi5GHz},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectConnectionType(tt.iface, tt.channel), "%+v ch=%d", tt.iface, tt.channel)
	}
}

// ── resolver benchmark ───────────────────────────────────────────────────────

func startDNSServer(t *testing.T, delay time.Duration) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			time.Sleep(delay)
			m := new(dns.Msg)
			m.SetReply(r)
			rr, _ := dns.NewRR(r.Question[0].Name + " 60 IN A 93.184.216.34")
			m.Answer = append(m.Answer, rr)
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestBenchmarkDNSOrdersFastestFirst(t *testing.T) {
	slow := startDNSServer(t, 40*time.Millisecond)
	fast := startDNSServer(t, 0)

	s := fastScoring()
	s.DNSQueries = 2
	s.DNSTimeout = 300 * time.Millisecond
	e := New(&fakeProber{}, s, zaptest.NewLogger(t))

	results := e.BenchmarkDNS(context.Background(), []string{"127.0.0.1:1", slow, fast})
	require.Len(t, results, 3)
	assert.Equal(t, fast, results[0].Server)
	assert.Equal(t, slow, results[1].Server)
	assert.Equal(t, 2, results[0].Answered)
	assert.False(t, results[2].OK())
	assert.NotEmpty(t, results[2].Err)
	assert.Equal(t, []string{fast, slow}, Fastest(results))
}

type scriptedExchanger struct{ rtt map[string]time.Duration }

func (s scriptedExchanger) ExchangeContext(_ context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error) {
	rtt, ok := s.rtt[addr]
	if !ok {
		return nil, 0, errProbe
	}
	r := new(dns.Msg)
	r.SetReply(m)
	return r, rtt, nil
}

func TestBenchmarkDNSAddsDefaultPort(t *testing.T) {
	e := New(&fakeProber{}, fastScoring(), zaptest.NewLogger(t))
	e.dns = scriptedExchanger{rtt: map[string]time.Duration{
		"1.1.1.1:53":   8 * time.Millisecond,
		"8.8.8.8:53":   15 * time.Millisecond,
		"[2606::1]:53": 5 * time.Millisecond,
	}}

	results := e.BenchmarkDNS(context.Background(), []string{"8.8.8.8", "9.9.9.9", "1.1.1.1", "2606::1"})
	assert.Equal(t, []string{"2606::1", "1.1.1.1", "8.8.8.8"}, Fastest(results))
	assert.Equal(t, 8*time.Millisecond, results[1].RTT)
	assert.Equal(t, "9.9.9.9", results[3].Server)
}
