package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vesaa/signalboost/internal/apperr"
	"github.com/vesaa/signalboost/internal/diag"
	"github.com/vesaa/signalboost/internal/netinfo"
	"github.com/vesaa/signalboost/internal/platform"
	"github.com/vesaa/signalboost/internal/profile"
)

// fakePlatform records every mutating call. errs maps a call name to the
// error it returns.
type fakePlatform struct {
	mu       sync.Mutex
	iface    netinfo.Interface
	settings []netinfo.Setting
	errs     map[string]error
	mtuMax   int
	nets     []netinfo.WirelessNetwork
	channel  int

	// gate, when set, holds CaptureBaseline until closed
	gate chan struct{}

	calls    []string
	restored []string
	dns      [][]string
	mtu      []int
	shaped   []float64
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		iface: netinfo.Interface{Name: "eth0", IPAddress: "192.168.1.10", Up: true},
		settings: []netinfo.Setting{
			{Kind: netinfo.SettingSysctl, Key: "net.core.rmem_max", Value: "212992"},
			{Kind: netinfo.SettingDNS, Key: "resolv.conf", Value: "nameserver 192.168.1.1\n"},
			{Kind: netinfo.SettingMTU, Key: "eth0", Value: "1500"},
		},
		errs:   map[string]error{},
		mtuMax: 1492,
	}
}

func (f *fakePlatform) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.errs[name]
}

func (f *fakePlatform) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakePlatform) Platform() platform.Platform { return platform.Linux }

func (f *fakePlatform) Ping(context.Context, string, int) (netinfo.Latency, error) {
	return netinfo.Latency{Avg: 20}, nil
}

func (f *fakePlatform) MeasureBandwidth(context.Context, string, time.Duration) (netinfo.Bandwidth, error) {
	return netinfo.Bandwidth{}, nil
}

func (f *fakePlatform) SignalStrength(context.Context, string) (int, error) { return 80, nil }

func (f *fakePlatform) InterfaceCounters(context.Context, string) (netinfo.Counters, error) {
	return netinfo.Counters{}, nil
}

func (f *fakePlatform) ScanNetworks(context.Context, string) ([]netinfo.WirelessNetwork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nets, f.errs["scan"]
}

func (f *fakePlatform) CurrentChannel(context.Context, string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channel, nil
}

func (f *fakePlatform) ActiveInterface(context.Context) (netinfo.Interface, error) {
	return f.iface, f.errs["active_interface"]
}

func (f *fakePlatform) ListInterfaces(context.Context) ([]netinfo.Interface, error) {
	return []netinfo.Interface{f.iface, {Name: "wlan0", IsWireless: true}}, nil
}

func (f *fakePlatform) IsElevated(context.Context) bool { return true }

func (f *fakePlatform) CaptureBaseline(_ context.Context, iface string) (netinfo.Baseline, error) {
	if f.gate != nil {
		<-f.gate
	}
	b := netinfo.Baseline{Platform: "linux", Interface: iface, CapturedAt: time.Now()}
	if err := f.record("baseline"); err != nil {
		return b, err
	}
	b.Settings = append([]netinfo.Setting(nil), f.settings...)
	return b, nil
}

func (f *fakePlatform) Restore(_ context.Context, s netinfo.Setting) error {
	if err := f.record("restore:" + s.ID()); err != nil {
		return err
	}
	f.mu.Lock()
	f.restored = append(f.restored, s.ID())
	f.mu.Unlock()
	return nil
}

func (f *fakePlatform) SetDNSServers(_ context.Context, servers []string, _ string) error {
	f.mu.Lock()
	f.dns = append(f.dns, servers)
	f.mu.Unlock()
	return f.record(StepDNS)
}

func (f *fakePlatform) ApplyTCP(context.Context, profile.Params) error {
	return f.record(StepTCP)
}

func (f *fakePlatform) ApplyWireless(context.Context, string, profile.Params) error {
	return f.record(StepWireless)
}

func (f *fakePlatform) ApplyTrafficPriority(context.Context, string, profile.Params) error {
	return f.record(StepQoS)
}

func (f *fakePlatform) ApplyBuffers(context.Context, string, profile.Params) error {
	return f.record(StepBuffers)
}

func (f *fakePlatform) ProbeMTU(_ context.Context, _ string, size int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return size <= f.mtuMax
}

func (f *fakePlatform) SetMTU(_ context.Context, _ string, mtu int) error {
	f.mu.Lock()
	f.mtu = append(f.mtu, mtu)
	f.mu.Unlock()
	return f.record(StepMTU)
}

func (f *fakePlatform) ApplyShaping(_ context.Context, _ string, rate float64) error {
	f.mu.Lock()
	f.shaped = append(f.shaped, rate)
	f.mu.Unlock()
	return f.record(StepShaping)
}

func (f *fakePlatform) EnablePacketAccounting(context.Context) error {
	return f.record(StepPacketAccounting)
}

func (f *fakePlatform) ClearBuffers(context.Context) error {
	return f.record(StepClearBuffers)
}

// fakeDiag serves a fixed snapshot. When block is set, Run parks until it is
// closed regardless of ctx.
type fakeDiag struct {
	mu    sync.Mutex
	snap  netinfo.Snapshot
	runs  int
	block chan struct{}
	dns   []diag.DNSResult
}

func (d *fakeDiag) Run(_ context.Context, iface netinfo.Interface, _ ...diag.RunOption) netinfo.Snapshot {
	d.mu.Lock()
	d.runs++
	n, block, snap := d.runs, d.block, d.snap
	d.mu.Unlock()
	if block != nil && n > 1 {
		<-block
	}
	snap.Interface = iface.Name
	snap.Timestamp = time.Now()
	return snap
}

func (d *fakeDiag) Runs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs
}

func (d *fakeDiag) BenchmarkDNS(_ context.Context, servers []string) []diag.DNSResult {
	if d.dns != nil {
		return d.dns
	}
	out := make([]diag.DNSResult, len(servers))
	for i, s := range servers {
		out[i] = diag.DNSResult{Server: s, Answered: 1, Queries: 1, RTT: time.Duration(i+1) * time.Millisecond}
	}
	return out
}

// fakeRecorder keeps every event it sees.
type fakeRecorder struct {
	mu        sync.Mutex
	starts    []SessionInfo
	ends      []RestoreReport
	snapshots int
	applies   []ApplyReport
	// snapshots seen when the first monitor-triggered apply arrived
	firstReapplyAt int
}

func (r *fakeRecorder) RecordSessionStart(info SessionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, info)
}

func (r *fakeRecorder) RecordSnapshot(string, netinfo.Snapshot, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots++
}

func (r *fakeRecorder) RecordApply(rep ApplyReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rep.Trigger == TriggerMonitor && r.firstReapplyAt == 0 {
		r.firstReapplyAt = r.snapshots
	}
	r.applies = append(r.applies, rep)
}

func (r *fakeRecorder) RecordSessionEnd(_ SessionInfo, rep RestoreReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends = append(r.ends, rep)
}

func (r *fakeRecorder) reapplyAt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstReapplyAt
}

var errDNSDenied = apperr.Apply(StepDNS, errors.New("permission denied"))
