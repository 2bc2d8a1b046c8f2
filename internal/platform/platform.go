// Package platform hides per-OS network tooling behind one capability
// surface. The platform is resolved once when the Dispatcher is built;
// every capability is a lookup in that platform's table, and a missing
// entry yields a documented neutral default instead of a failure.
package platform

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vesaa/signalboost/internal/apperr"
	"github.com/vesaa/signalboost/internal/netinfo"
	"github.com/vesaa/signalboost/internal/profile"
	"github.com/vesaa/signalboost/internal/search"
)

// Platform identifies the operating system family of the target host.
type Platform string

const (
	Windows Platform = "windows"
	Linux   Platform = "linux"
	MacOS   Platform = "macos"
	Unknown Platform = "unknown"
)

// Resolve maps a GOOS value (or `uname -s` output) to a Platform.
func Resolve(goos string) Platform {
	switch strings.ToLower(strings.TrimSpace(goos)) {
	case "windows":
		return Windows
	case "linux":
		return Linux
	case "darwin", "macos":
		return MacOS
	}
	return Unknown
}

// Neutral defaults returned when a capability is unavailable or fails.
const (
	DefaultSignal     = 60
	DefaultChannel    = search.DefaultChannel
	DefaultCongestion = 30.0
)

// Gateway is the default route of the target host.
type Gateway struct {
	IP        string `json:"ip"`
	Interface string `json:"interface"`
}

// capabilities is one platform's implementation table. A nil entry means the
// platform has no implementation for that capability.
type capabilities struct {
	ping           func(ctx context.Context, host string, count int) (netinfo.Latency, error)
	probeMTU       func(ctx context.Context, target string, size int) (bool, error)
	signal         func(ctx context.Context, iface string) (int, error)
	scan           func(ctx context.Context, iface string) ([]netinfo.WirelessNetwork, error)
	currentChannel func(ctx context.Context, iface string) (int, error)
	bandwidth      func(ctx context.Context, iface string, d time.Duration) (netinfo.Bandwidth, error)
	counters       func(ctx context.Context, iface string) (netinfo.Counters, error)
	interfaces     func(ctx context.Context) ([]netinfo.Interface, error)
	gateway        func(ctx context.Context) (Gateway, error)
	clearBuffers   func(ctx context.Context) error
	elevated       func(ctx context.Context) (bool, error)

	dnsServers    func(ctx context.Context, iface string) ([]string, error)
	setDNS        func(ctx context.Context, servers []string, iface string) error
	baseline      func(ctx context.Context, iface string) ([]netinfo.Setting, error)
	restore       func(ctx context.Context, s netinfo.Setting) error
	applyTCP      func(ctx context.Context, p profile.Params) error
	applyWireless func(ctx context.Context, iface string, p profile.Params) error
	applyQoS      func(ctx context.Context, iface string, p profile.Params) error
	applyBuffers  func(ctx context.Context, iface string, p profile.Params) error
	setMTU        func(ctx context.Context, iface string, mtu int) error
	shape         func(ctx context.Context, iface string, rateMbps float64) error
	accounting    func(ctx context.Context) error
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithRunner sets the command runner (default LocalRunner).
func WithRunner(r Runner) Option { return func(d *Dispatcher) { d.runner = r } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(d *Dispatcher) { d.log = l } }

// WithPlatform forces the platform instead of resolving it.
func WithPlatform(p Platform) Option { return func(d *Dispatcher) { d.platform = p } }

// WithTimeout sets the upper bound of a single capability call.
func WithTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.timeout = t } }

// WithSpeedTestURL sets the HTTP throughput endpoint used as a fallback.
func WithSpeedTestURL(u string) Option { return func(d *Dispatcher) { d.speedURL = u } }

// Dispatcher routes capability calls to the resolved platform's backend.
type Dispatcher struct {
	platform Platform
	runner   Runner
	log      *zap.Logger
	timeout  time.Duration
	speedURL string
	caps     capabilities
}

// New builds a Dispatcher. Unless WithPlatform is given, a local runner
// resolves from runtime.GOOS and a remote runner from `uname -s`.
func New(ctx context.Context, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		runner:  LocalRunner{},
		log:     zap.NewNop(),
		timeout: 15 * time.Second,
	}
	for _, o := range opts {
		o(d)
	}
	if d.platform == "" {
		d.platform = resolveTarget(ctx, d.runner)
	}
	d.log = d.log.Named("platform").With(zap.String("platform", string(d.platform)))

	probe := newHTTPProbe(d.speedURL)
	switch d.platform {
	case Linux:
		d.caps = (&linuxBackend{r: d.runner, log: d.log, http: probe}).capabilities()
	case Windows:
		d.caps = (&windowsBackend{r: d.runner, log: d.log, http: probe}).capabilities()
	case MacOS:
		d.caps = (&darwinBackend{r: d.runner, log: d.log, http: probe}).capabilities()
	}
	return d
}

func resolveTarget(ctx context.Context, r Runner) Platform {
	if r.Local() {
		return Resolve(runtime.GOOS)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := r.Run(ctx, "uname", "-s")
	if err != nil {
		return Unknown
	}
	return Resolve(out)
}

// Platform returns the resolved platform.
func (d *Dispatcher) Platform() Platform { return d.platform }

// invoke runs fn under the dispatcher timeout. On any failure the default
// is returned together with a classified error.
func invoke[T any](ctx context.Context, d *Dispatcher, op string, have bool, timeout time.Duration, def T, fn func(context.Context) (T, error)) (T, error) {
	if !have {
		return def, apperr.Unsupported(op)
	}
	if timeout <= 0 {
		timeout = d.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		d.log.Debug("capability failed", zap.String("op", op), zap.Error(err))
		return def, apperr.Measurement(op, err)
	}
	return v, nil
}

// act is invoke for mutating capabilities; failures are ApplyFailures.
func (d *Dispatcher) act(ctx context.Context, op string, have bool, fn func(context.Context) error) error {
	if !have {
		return apperr.Unsupported(op)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		d.log.Debug("action failed", zap.String("op", op), zap.Error(err))
		return apperr.Apply(op, err)
	}
	return nil
}

// ─── Measurement capabilities ─────────────────────────────────────────────────

// Ping sends count echo requests to host. Zero latency on failure.
func (d *Dispatcher) Ping(ctx context.Context, host string, count int) (netinfo.Latency, error) {
	if count < 1 {
		count = 1
	}
	timeout := time.Duration(count)*time.Second + 5*time.Second
	return invoke(ctx, d, "ping", d.caps.ping != nil, timeout, netinfo.Latency{}, func(ctx context.Context) (netinfo.Latency, error) {
		return d.caps.ping(ctx, host, count)
	})
}

// ProbeMTU reports whether a don't-fragment probe of size bytes (IP packet
// size, header included) reaches target. Any failure reads as "does not fit".
func (d *Dispatcher) ProbeMTU(ctx context.Context, target string, size int) bool {
	ok, _ := invoke(ctx, d, "probe_mtu", d.caps.probeMTU != nil, 0, false, func(ctx context.Context) (bool, error) {
		return d.caps.probeMTU(ctx, target, size)
	})
	return ok
}

// SignalStrength returns the wireless signal in percent (default 60).
func (d *Dispatcher) SignalStrength(ctx context.Context, iface string) (int, error) {
	return invoke(ctx, d, "signal_strength", d.caps.signal != nil, 0, DefaultSignal, func(ctx context.Context) (int, error) {
		return d.caps.signal(ctx, iface)
	})
}

// ScanNetworks lists visible wireless networks (default empty).
func (d *Dispatcher) ScanNetworks(ctx context.Context, iface string) ([]netinfo.WirelessNetwork, error) {
	return invoke(ctx, d, "scan_networks", d.caps.scan != nil, 30*time.Second, []netinfo.WirelessNetwork(nil), func(ctx context.Context) ([]netinfo.WirelessNetwork, error) {
		return d.caps.scan(ctx, iface)
	})
}

// CurrentChannel returns the channel of the associated network.
func (d *Dispatcher) CurrentChannel(ctx context.Context, iface string) (int, error) {
	return invoke(ctx, d, "current_channel", d.caps.currentChannel != nil, 0, 0, func(ctx context.Context) (int, error) {
		ch, err := d.caps.currentChannel(ctx, iface)
		if err == nil && ch <= 0 {
			err = fmt.Errorf("not associated")
		}
		return ch, err
	})
}

// FindBestChannel scans and picks the least congested 2.4 GHz channel
// (default 6).
func (d *Dispatcher) FindBestChannel(ctx context.Context, iface string) (int, error) {
	nets, err := d.ScanNetworks(ctx, iface)
	if err != nil {
		return DefaultChannel, err
	}
	return search.BestChannel(nets), nil
}

// MeasureBandwidth estimates throughput over roughly d (default 0/0).
func (d *Dispatcher) MeasureBandwidth(ctx context.Context, iface string, dur time.Duration) (netinfo.Bandwidth, error) {
	return invoke(ctx, d, "measure_bandwidth", d.caps.bandwidth != nil, dur+d.timeout, netinfo.Bandwidth{}, func(ctx context.Context) (netinfo.Bandwidth, error) {
		return d.caps.bandwidth(ctx, iface, dur)
	})
}

// InterfaceCounters returns cumulative packet/error counters for iface.
func (d *Dispatcher) InterfaceCounters(ctx context.Context, iface string) (netinfo.Counters, error) {
	return invoke(ctx, d, "interface_counters", d.caps.counters != nil, 0, netinfo.Counters{}, func(ctx context.Context) (netinfo.Counters, error) {
		return d.caps.counters(ctx, iface)
	})
}

// AnalyzeCongestion scores interface-level congestion as
// (errors+drops)/packets×100, capped at 100 (default 30).
func (d *Dispatcher) AnalyzeCongestion(ctx context.Context, iface string) (float64, error) {
	c, err := d.InterfaceCounters(ctx, iface)
	if err != nil {
		return DefaultCongestion, err
	}
	ratio, ok := c.ErrorRatio()
	if !ok {
		return DefaultCongestion, apperr.Measurement("analyze_congestion", fmt.Errorf("no packets counted on %s", iface))
	}
	return ratio, nil
}

// ClearBuffers flushes neighbour and resolver caches.
func (d *Dispatcher) ClearBuffers(ctx context.Context) error {
	return d.act(ctx, "clear_buffers", d.caps.clearBuffers != nil, d.caps.clearBuffers)
}

// ListInterfaces enumerates interfaces afresh (default empty).
func (d *Dispatcher) ListInterfaces(ctx context.Context) ([]netinfo.Interface, error) {
	return invoke(ctx, d, "list_interfaces", d.caps.interfaces != nil, 0, []netinfo.Interface(nil), d.caps.interfaces)
}

// DefaultGateway returns the default route.
func (d *Dispatcher) DefaultGateway(ctx context.Context) (Gateway, error) {
	return invoke(ctx, d, "default_gateway", d.caps.gateway != nil, 0, Gateway{}, d.caps.gateway)
}

// ActiveInterface picks the interface carrying the default route, falling
// back to the first interface that is up with an IPv4 address.
func (d *Dispatcher) ActiveInterface(ctx context.Context) (netinfo.Interface, error) {
	ifaces, err := d.ListInterfaces(ctx)
	if err != nil {
		return netinfo.Interface{}, err
	}
	gw, _ := d.DefaultGateway(ctx)
	for _, it := range ifaces {
		if gw.Interface != "" && it.Name == gw.Interface {
			return it, nil
		}
	}
	for _, it := range ifaces {
		if it.Up && it.IPAddress != "" {
			return it, nil
		}
	}
	return netinfo.Interface{}, apperr.Measurement("active_interface", fmt.Errorf("no interface with an IPv4 address"))
}

// IsElevated reports whether tuning actions run with administrative rights.
func (d *Dispatcher) IsElevated(ctx context.Context) bool {
	ok, _ := invoke(ctx, d, "is_elevated", d.caps.elevated != nil, 0, false, d.caps.elevated)
	return ok
}

// ─── Tuning capabilities ──────────────────────────────────────────────────────

// DNSServers returns the configured resolvers of iface.
func (d *Dispatcher) DNSServers(ctx context.Context, iface string) ([]string, error) {
	return invoke(ctx, d, "dns_servers", d.caps.dnsServers != nil, 0, []string(nil), func(ctx context.Context) ([]string, error) {
		return d.caps.dnsServers(ctx, iface)
	})
}

// SetDNSServers points iface (or the whole host) at servers.
func (d *Dispatcher) SetDNSServers(ctx context.Context, servers []string, iface string) error {
	if len(servers) == 0 {
		return apperr.Apply("set_dns_servers", fmt.Errorf("no servers given"))
	}
	return d.act(ctx, "set_dns_servers", d.caps.setDNS != nil, func(ctx context.Context) error {
		return d.caps.setDNS(ctx, servers, iface)
	})
}

// CaptureBaseline snapshots every setting a session may modify on iface.
func (d *Dispatcher) CaptureBaseline(ctx context.Context, iface string) (netinfo.Baseline, error) {
	b := netinfo.Baseline{Platform: string(d.platform), Interface: iface, CapturedAt: time.Now()}
	if d.caps.baseline == nil {
		return b, apperr.Unsupported("capture_baseline")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*d.timeout)
	defer cancel()
	settings, err := d.caps.baseline(ctx, iface)
	b.Settings = settings
	if err != nil {
		return b, apperr.Measurement("capture_baseline", err)
	}
	return b, nil
}

// Restore writes one captured setting back.
func (d *Dispatcher) Restore(ctx context.Context, s netinfo.Setting) error {
	if d.caps.restore == nil {
		return apperr.Unsupported("restore")
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.caps.restore(ctx, s); err != nil {
		return apperr.Restore(s.ID(), err)
	}
	return nil
}

// ApplyTCP writes the transport group.
func (d *Dispatcher) ApplyTCP(ctx context.Context, p profile.Params) error {
	return d.act(ctx, "tcp", d.caps.applyTCP != nil, func(ctx context.Context) error {
		return d.caps.applyTCP(ctx, p)
	})
}

// ApplyWireless writes the wireless group for iface.
func (d *Dispatcher) ApplyWireless(ctx context.Context, iface string, p profile.Params) error {
	return d.act(ctx, "wifi", d.caps.applyWireless != nil, func(ctx context.Context) error {
		return d.caps.applyWireless(ctx, iface, p)
	})
}

// ApplyTrafficPriority installs traffic-priority rules for iface.
func (d *Dispatcher) ApplyTrafficPriority(ctx context.Context, iface string, p profile.Params) error {
	return d.act(ctx, "qos", d.caps.applyQoS != nil, func(ctx context.Context) error {
		return d.caps.applyQoS(ctx, iface, p)
	})
}

// ApplyBuffers writes queue and socket buffer sizes.
func (d *Dispatcher) ApplyBuffers(ctx context.Context, iface string, p profile.Params) error {
	return d.act(ctx, "buffers", d.caps.applyBuffers != nil, func(ctx context.Context) error {
		return d.caps.applyBuffers(ctx, iface, p)
	})
}

// SetMTU sets the MTU of iface.
func (d *Dispatcher) SetMTU(ctx context.Context, iface string, mtu int) error {
	return d.act(ctx, "mtu", d.caps.setMTU != nil, func(ctx context.Context) error {
		return d.caps.setMTU(ctx, iface, mtu)
	})
}

// ApplyShaping caps egress on iface at rateMbps.
func (d *Dispatcher) ApplyShaping(ctx context.Context, iface string, rateMbps float64) error {
	if rateMbps <= 0 {
		return apperr.Apply("bandwidth_shaping", fmt.Errorf("no rate measured"))
	}
	return d.act(ctx, "bandwidth_shaping", d.caps.shape != nil, func(ctx context.Context) error {
		return d.caps.shape(ctx, iface, rateMbps)
	})
}

// EnablePacketAccounting turns on per-flow byte/packet accounting.
func (d *Dispatcher) EnablePacketAccounting(ctx context.Context) error {
	return d.act(ctx, "packet_accounting", d.caps.accounting != nil, d.caps.accounting)
}
