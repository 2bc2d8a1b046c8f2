package platform

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vesaa/signalboost/internal/netinfo"
	"github.com/vesaa/signalboost/internal/profile"
)

const (
	tcpipParamsKey = `SYSTEM\CurrentControlSet\Services\Tcpip\Parameters`
	qosPolicyName  = "SignalBoost"
)

// dwordStore reads and writes DWORD values under the TCP/IP parameters key.
type dwordStore interface {
	Get(name string) (uint32, bool, error)
	Set(name string, v uint32) error
	Delete(name string) error
}

// regExe drives reg.exe through a runner for hosts reached remotely.
type regExe struct {
	ctx  context.Context
	r    Runner
	path string
}

func (x regExe) key() string { return `HKLM\` + x.path }

func (x regExe) Get(name string) (uint32, bool, error) {
	out, err := x.r.Run(x.ctx, "reg", "query", x.key(), "/v", name)
	if err != nil {
		if strings.Contains(out, "unable to find") {
			return 0, false, nil
		}
		return 0, false, err
	}
	v, ok := parseRegQuery(out, name)
	return v, ok, nil
}

func (x regExe) Set(name string, v uint32) error {
	return command(x.r, "reg", "add", x.key(), "/v", name, "/t", "REG_DWORD", "/d", strconv.FormatUint(uint64(v), 10), "/f").run(x.ctx)
}

func (x regExe) Delete(name string) error {
	out, err := x.r.Run(x.ctx, "reg", "delete", x.key(), "/v", name, "/f")
	return ignoreMissing(err, out, "unable to find")
}

type windowsBackend struct {
	r    Runner
	log  *zap.Logger
	http *httpProbe
	tput throughputSampler
}

func (b *windowsBackend) capabilities() capabilities {
	return capabilities{
		ping:           b.ping,
		probeMTU:       b.probeMTU,
		signal:         b.signal,
		scan:           b.scan,
		currentChannel: b.currentChannel,
		bandwidth:      b.bandwidth,
		counters:       b.counters,
		interfaces:     b.interfaces,
		gateway:        b.gateway,
		clearBuffers:   b.clearBuffers,
		elevated:       b.elevated,
		dnsServers:     b.dnsServers,
		setDNS:         b.setDNS,
		baseline:       b.baseline,
		restore:        b.restore,
		applyTCP:       b.applyTCP,
		applyQoS:       b.applyQoS,
		setMTU:         b.setMTU,
		shape:          b.shape,
	}
}

func (b *windowsBackend) registry(ctx context.Context) dwordStore {
	if b.r.Local() {
		if s, ok := localRegistry(tcpipParamsKey); ok {
			return s
		}
	}
	return regExe{ctx: ctx, r: b.r, path: tcpipParamsKey}
}

func (b *windowsBackend) powershell(script string) action {
	return command(b.r, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
}

// ── measurement ──────────────────────────────────────────────────────────────

func (b *windowsBackend) ping(ctx context.Context, host string, count int) (netinfo.Latency, error) {
	out, err := b.r.Run(ctx, "ping", "-n", strconv.Itoa(count), "-w", "2000", host)
	l, perr := parseWindowsPing(out)
	if perr != nil {
		return l, errors.Join(err, perr)
	}
	return l, nil
}

func (b *windowsBackend) probeMTU(ctx context.Context, target string, size int) (bool, error) {
	payload := strconv.Itoa(size - 28)
	return dfProbe(ctx, func(ctx context.Context) (string, error) {
		return b.r.Run(ctx, "ping", "-f", "-l", payload, "-n", "1", "-w", "1000", target)
	}, "Packet needs to be fragmented")
}

func (b *windowsBackend) wlanInterfaces(ctx context.Context) (signal, channel int, err error) {
	out, err := b.r.Run(ctx, "netsh", "wlan", "show", "interfaces")
	if err != nil {
		return 0, 0, err
	}
	return parseNetshInterfaces(out)
}

func (b *windowsBackend) signal(ctx context.Context, _ string) (int, error) {
	s, _, err := b.wlanInterfaces(ctx)
	return s, err
}

func (b *windowsBackend) currentChannel(ctx context.Context, _ string) (int, error) {
	_, ch, err := b.wlanInterfaces(ctx)
	return ch, err
}

func (b *windowsBackend) scan(ctx context.Context, _ string) ([]netinfo.WirelessNetwork, error) {
	out, err := b.r.Run(ctx, "netsh", "wlan", "show", "networks", "mode=bssid")
	if err != nil {
		return nil, err
	}
	return parseNetshNetworks(out), nil
}

func (b *windowsBackend) bandwidth(ctx context.Context, iface string, d time.Duration) (netinfo.Bandwidth, error) {
	if !b.r.Local() {
		out, err := b.r.Run(ctx, "speedtest-cli", "--simple")
		if err != nil {
			return netinfo.Bandwidth{}, err
		}
		return parseSpeedtestSimple(out)
	}
	bw, err := b.http.measure(ctx, d)
	if err == nil {
		return bw, nil
	}
	b.log.Debug("http throughput probe failed, sampling counters", zap.Error(err))
	return b.tput.sample(ctx, iface, 2*time.Second)
}

var errLocalOnly = errors.New("only available on the local host")

func (b *windowsBackend) counters(ctx context.Context, iface string) (netinfo.Counters, error) {
	if !b.r.Local() {
		return netinfo.Counters{}, errLocalOnly
	}
	if iface == "" {
		gw, err := b.gateway(ctx)
		if err != nil {
			return netinfo.Counters{}, err
		}
		iface = gw.Interface
	}
	return localCounters(ctx, iface)
}

func windowsWireless(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "wi-fi") || strings.Contains(n, "wireless") || strings.Contains(n, "wlan")
}

func (b *windowsBackend) interfaces(ctx context.Context) ([]netinfo.Interface, error) {
	if !b.r.Local() {
		return nil, errLocalOnly
	}
	return localInterfaces(ctx, windowsWireless, nil)
}

// gateway resolves the default route; the interface is found by matching
// the route's local address against the interface list.
func (b *windowsBackend) gateway(ctx context.Context) (Gateway, error) {
	out, err := b.r.Run(ctx, "route", "print", "0.0.0.0")
	if err != nil {
		return Gateway{}, err
	}
	ip, local := parseRoutePrint(out)
	if ip == "" {
		return Gateway{}, fmt.Errorf("no default route")
	}
	gw := Gateway{IP: ip}
	if ifaces, err := b.interfaces(ctx); err == nil {
		for _, it := range ifaces {
			if it.IPAddress == local {
				gw.Interface = it.Name
			}
		}
	}
	return gw, nil
}

func (b *windowsBackend) clearBuffers(ctx context.Context) error {
	return runActions(ctx, b.log, []action{
		command(b.r, "ipconfig", "/flushdns"),
		command(b.r, "netsh", "winsock", "reset"),
		command(b.r, "netsh", "int", "ip", "reset"),
	})
}

func (b *windowsBackend) elevated(ctx context.Context) (bool, error) {
	if b.r.Local() {
		return processElevated(), nil
	}
	_, err := b.r.Run(ctx, "net", "session")
	return err == nil, nil
}

// ── tuning ───────────────────────────────────────────────────────────────────

func (b *windowsBackend) dnsServers(ctx context.Context, iface string) ([]string, error) {
	if iface == "" {
		return nil, fmt.Errorf("no interface")
	}
	out, err := b.r.Run(ctx, "netsh", "interface", "ip", "show", "dnsservers", "name="+iface)
	if err != nil {
		return nil, err
	}
	return parseIPv4List(out), nil
}

func (b *windowsBackend) setDNS(ctx context.Context, servers []string, iface string) error {
	if iface == "" {
		return fmt.Errorf("no interface")
	}
	err := command(b.r, "netsh", "interface", "ip", "set", "dnsservers", "name="+iface,
		"source=static", "address="+servers[0], "register=primary", "validate=no").run(ctx)
	if err != nil {
		return err
	}
	for i, s := range servers[1:] {
		if err := command(b.r, "netsh", "interface", "ip", "add", "dnsservers", "name="+iface,
			"address="+s, "index="+strconv.Itoa(i+2), "validate=no").run(ctx); err != nil {
			b.log.Warn("secondary dns server not added", zap.String("server", s), zap.Error(err))
		}
	}
	return nil
}

func (b *windowsBackend) baseline(ctx context.Context, iface string) ([]netinfo.Setting, error) {
	var (
		settings []netinfo.Setting
		errs     []error
	)
	if out, err := b.r.Run(ctx, "netsh", "interface", "tcp", "show", "global"); err == nil {
		vals := parseNetshTCPGlobal(out)
		for _, k := range []string{"autotuninglevel", "fastopen", "ecncapability"} {
			if v, ok := vals[k]; ok {
				settings = append(settings, netinfo.Setting{Kind: netinfo.SettingNetshTCP, Key: k, Value: strings.ToLower(v)})
			}
		}
	} else {
		errs = append(errs, err)
	}

	if v, ok, err := b.registry(ctx).Get("Tcp1323Opts"); err == nil {
		val := ""
		if ok {
			val = strconv.FormatUint(uint64(v), 10)
		}
		settings = append(settings, netinfo.Setting{Kind: netinfo.SettingRegistry, Key: "Tcp1323Opts", Value: val})
	} else {
		errs = append(errs, err)
	}

	if iface != "" {
		if servers, err := b.dnsServers(ctx, iface); err == nil {
			settings = append(settings, netinfo.Setting{Kind: netinfo.SettingDNS, Key: iface, Value: strings.Join(servers, ",")})
		} else {
			errs = append(errs, err)
		}
		if out, err := b.r.Run(ctx, "netsh", "interface", "ipv4", "show", "subinterfaces"); err == nil {
			if mtu, err := parseNetshSubinterfaceMTU(out, iface); err == nil {
				settings = append(settings, netinfo.Setting{Kind: netinfo.SettingMTU, Key: iface, Value: strconv.Itoa(mtu)})
			}
		}
	}
	settings = append(settings, netinfo.Setting{Kind: netinfo.SettingQoS, Key: qosPolicyName})

	if len(settings) <= 1 && len(errs) > 0 {
		return settings, errors.Join(errs...)
	}
	return settings, nil
}

func (b *windowsBackend) restore(ctx context.Context, s netinfo.Setting) error {
	switch s.Kind {
	case netinfo.SettingNetshTCP:
		return command(b.r, "netsh", "interface", "tcp", "set", "global", s.Key+"="+s.Value).run(ctx)
	case netinfo.SettingRegistry:
		reg := b.registry(ctx)
		if s.Value == "" {
			return reg.Delete(s.Key)
		}
		v, err := strconv.ParseUint(s.Value, 10, 32)
		if err != nil {
			return err
		}
		return reg.Set(s.Key, uint32(v))
	case netinfo.SettingDNS:
		servers := netinfo.SplitList(s.Value)
		if len(servers) == 0 {
			return command(b.r, "netsh", "interface", "ip", "set", "dnsservers", "name="+s.Key, "source=dhcp").run(ctx)
		}
		return b.setDNS(ctx, servers, s.Key)
	case netinfo.SettingMTU:
		return b.setMTU(ctx, s.Key, atoiOr(s.Value, 1500))
	case netinfo.SettingQoS:
		return b.powershell(fmt.Sprintf("Remove-NetQosPolicy -Name '%s*' -Confirm:$false -ErrorAction SilentlyContinue", s.Key)).run(ctx)
	}
	return fmt.Errorf("unknown setting kind %q", s.Kind)
}

func (b *windowsBackend) applyTCP(ctx context.Context, p profile.Params) error {
	var acts []action
	if v, ok := p.Int("window_size"); ok {
		level := "normal"
		if v >= 262144 {
			level = "experimental"
		}
		acts = append(acts, command(b.r, "netsh", "interface", "tcp", "set", "global", "autotuninglevel="+level))
	}
	if v, ok := p.Int("fastopen"); ok {
		state := "disabled"
		if v > 0 {
			state = "enabled"
		}
		acts = append(acts, command(b.r, "netsh", "interface", "tcp", "set", "global", "fastopen="+state))
	}
	if cc := p.String("congestion_control"); cc != "" {
		provider := "cubic"
		if cc == "bbr" {
			provider = "bbr2"
		}
		acts = append(acts, command(b.r, "netsh", "interface", "tcp", "set", "supplemental",
			"template=internet", "congestionprovider="+provider))
	}
	if v, ok := p.Int("window_scaling"); ok {
		reg := b.registry(ctx)
		acts = append(acts, action{
			name: "registry Tcp1323Opts",
			run:  func(context.Context) error { return reg.Set("Tcp1323Opts", uint32(v)) },
		})
	}
	return runActions(ctx, b.log, acts)
}

func (b *windowsBackend) qosPolicy(suffix, conditions string) action {
	return b.powershell(fmt.Sprintf(
		"New-NetQosPolicy -Name '%s-%s' %s -NetworkProfile All -ErrorAction Stop | Out-Null",
		qosPolicyName, suffix, conditions))
}

func (b *windowsBackend) applyQoS(ctx context.Context, _ string, p profile.Params) error {
	var acts []action
	if p.Bool("prioritize_dns") {
		acts = append(acts, b.qosPolicy("DNS", "-IPDstPortMatchCondition 53 -IPProtocolMatchCondition UDP -DSCPAction 46"))
	}
	for _, port := range p.Ints("priority_ports") {
		acts = append(acts, b.qosPolicy("Port-"+strconv.Itoa(port),
			fmt.Sprintf("-IPDstPortMatchCondition %d -DSCPAction 32", port)))
	}
	return runActions(ctx, b.log, acts)
}

func (b *windowsBackend) setMTU(ctx context.Context, iface string, mtu int) error {
	if iface == "" {
		return fmt.Errorf("no interface")
	}
	return command(b.r, "netsh", "interface", "ipv4", "set", "subinterface", iface,
		"mtu="+strconv.Itoa(mtu), "store=active").run(ctx)
}

func (b *windowsBackend) shape(ctx context.Context, _ string, rateMbps float64) error {
	bits := int64(rateMbps * 1e6)
	return b.qosPolicy("Throttle", fmt.Sprintf("-Default -ThrottleRateActionBitsPerSecond %d", bits)).run(ctx)
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
