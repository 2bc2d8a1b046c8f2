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

const airportPath = "/System/Library/PrivateFrameworks/Apple80211.framework/Versions/Current/Resources/airport"

var darwinSysctlKeys = []string{
	"net.inet.tcp.sendspace",
	"net.inet.tcp.recvspace",
	"net.inet.tcp.rfc1323",
}

type darwinBackend struct {
	r    Runner
	log  *zap.Logger
	http *httpProbe
	tput throughputSampler
}

func (b *darwinBackend) capabilities() capabilities {
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
		setMTU:         b.setMTU,
	}
}

func (b *darwinBackend) ping(ctx context.Context, host string, count int) (netinfo.Latency, error) {
	out, err := b.r.Run(ctx, "ping", "-c", strconv.Itoa(count), "-W", "2000", host)
	l, perr := parseUnixPing(out)
	if perr != nil {
		return l, errors.Join(err, perr)
	}
	return l, nil
}

func (b *darwinBackend) probeMTU(ctx context.Context, target string, size int) (bool, error) {
	payload := strconv.Itoa(size - 28)
	return dfProbe(ctx, func(ctx context.Context) (string, error) {
		return b.r.Run(ctx, "ping", "-D", "-s", payload, "-c", "1", "-t", "2", target)
	}, "message too long", "frag needed")
}

func (b *darwinBackend) airportInfo(ctx context.Context) (signal, channel int, err error) {
	out, err := b.r.Run(ctx, airportPath, "-I")
	if err != nil {
		return 0, 0, err
	}
	return parseAirportInfo(out)
}

func (b *darwinBackend) signal(ctx context.Context, _ string) (int, error) {
	s, _, err := b.airportInfo(ctx)
	return s, err
}

func (b *darwinBackend) currentChannel(ctx context.Context, _ string) (int, error) {
	_, ch, err := b.airportInfo(ctx)
	return ch, err
}

func (b *darwinBackend) scan(ctx context.Context, _ string) ([]netinfo.WirelessNetwork, error) {
	out, err := b.r.Run(ctx, airportPath, "-s")
	if err != nil {
		return nil, err
	}
	return parseAirportScan(out), nil
}

// bandwidth prefers the built-in networkQuality tool.
func (b *darwinBackend) bandwidth(ctx context.Context, iface string, d time.Duration) (netinfo.Bandwidth, error) {
	secs := strconv.Itoa(max(1, int(d.Seconds())))
	out, err := b.r.Run(ctx, "networkQuality", "-c", "-M", secs)
	if err == nil {
		if bw, perr := parseNetworkQuality(out); perr == nil {
			return bw, nil
		}
	}
	if !b.r.Local() {
		return netinfo.Bandwidth{}, err
	}
	if bw, herr := b.http.measure(ctx, d); herr == nil {
		return bw, nil
	}
	return b.tput.sample(ctx, iface, 2*time.Second)
}

func (b *darwinBackend) counters(ctx context.Context, iface string) (netinfo.Counters, error) {
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

func (b *darwinBackend) hardwarePorts(ctx context.Context) map[string]string {
	out, err := b.r.Run(ctx, "networksetup", "-listallhardwareports")
	if err != nil {
		return map[string]string{}
	}
	return parseHardwarePorts(out)
}

func (b *darwinBackend) interfaces(ctx context.Context) ([]netinfo.Interface, error) {
	if !b.r.Local() {
		return nil, errLocalOnly
	}
	ports := b.hardwarePorts(ctx)
	wireless := func(name string) bool {
		p := ports[name]
		return p == "Wi-Fi" || p == "AirPort"
	}
	return localInterfaces(ctx, wireless, nil)
}

func (b *darwinBackend) gateway(ctx context.Context) (Gateway, error) {
	out, err := b.r.Run(ctx, "route", "-n", "get", "default")
	if err != nil {
		return Gateway{}, err
	}
	ip, iface := parseRouteGetDefault(out)
	if ip == "" {
		return Gateway{}, fmt.Errorf("no default route")
	}
	return Gateway{IP: ip, Interface: iface}, nil
}

func (b *darwinBackend) clearBuffers(ctx context.Context) error {
	return runActions(ctx, b.log, []action{
		command(b.r, "dscacheutil", "-flushcache"),
		command(b.r, "killall", "-HUP", "mDNSResponder"),
	})
}

func (b *darwinBackend) elevated(ctx context.Context) (bool, error) {
	if b.r.Local() {
		return processElevated(), nil
	}
	out, err := b.r.Run(ctx, "id", "-u")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "0", nil
}

// service maps a BSD device name to its network service, e.g. en0 → Wi-Fi.
func (b *darwinBackend) service(ctx context.Context, iface string) (string, error) {
	if iface == "" {
		gw, err := b.gateway(ctx)
		if err != nil {
			return "", err
		}
		iface = gw.Interface
	}
	if svc, ok := b.hardwarePorts(ctx)[iface]; ok {
		return svc, nil
	}
	return "", fmt.Errorf("no network service for %q", iface)
}

func (b *darwinBackend) dnsServers(ctx context.Context, iface string) ([]string, error) {
	svc, err := b.service(ctx, iface)
	if err != nil {
		return nil, err
	}
	out, err := b.r.Run(ctx, "networksetup", "-getdnsservers", svc)
	if err != nil {
		return nil, err
	}
	return parseIPv4List(out), nil
}

func (b *darwinBackend) setDNS(ctx context.Context, servers []string, iface string) error {
	svc, err := b.service(ctx, iface)
	if err != nil {
		return err
	}
	return command(b.r, "networksetup", append([]string{"-setdnsservers", svc}, servers...)...).run(ctx)
}

func (b *darwinBackend) baseline(ctx context.Context, iface string) ([]netinfo.Setting, error) {
	var (
		settings []netinfo.Setting
		errs     []error
	)
	out, err := b.r.Run(ctx, "sysctl", darwinSysctlKeys...)
	vals := parseSysctl(out)
	for _, k := range darwinSysctlKeys {
		if v, ok := vals[k]; ok {
			settings = append(settings, netinfo.Setting{Kind: netinfo.SettingSysctl, Key: k, Value: v})
		}
	}
	if len(vals) == 0 && err != nil {
		errs = append(errs, err)
	}

	if svc, err := b.service(ctx, iface); err == nil {
		if servers, err := b.dnsServers(ctx, iface); err == nil {
			val := strings.Join(servers, ",")
			if val == "" {
				val = "Empty"
			}
			settings = append(settings, netinfo.Setting{Kind: netinfo.SettingDNS, Key: svc, Value: val})
		} else {
			errs = append(errs, err)
		}
	} else {
		errs = append(errs, err)
	}

	if iface != "" {
		if out, err := b.r.Run(ctx, "networksetup", "-getMTU", iface); err == nil {
			if mtu, err := parseNetworksetupMTU(out); err == nil {
				settings = append(settings, netinfo.Setting{Kind: netinfo.SettingMTU, Key: iface, Value: strconv.Itoa(mtu)})
			}
		}
	}

	if len(settings) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return settings, nil
}

func (b *darwinBackend) restore(ctx context.Context, s netinfo.Setting) error {
	switch s.Kind {
	case netinfo.SettingSysctl:
		return command(b.r, "sysctl", "-w", s.Key+"="+s.Value).run(ctx)
	case netinfo.SettingDNS:
		args := append([]string{"-setdnsservers", s.Key}, netinfo.SplitList(s.Value)...)
		return command(b.r, "networksetup", args...).run(ctx)
	case netinfo.SettingMTU:
		return command(b.r, "networksetup", "-setMTU", s.Key, s.Value).run(ctx)
	}
	return fmt.Errorf("unknown setting kind %q", s.Kind)
}

func (b *darwinBackend) applyTCP(ctx context.Context, p profile.Params) error {
	var acts []action
	if v, ok := p.Int("window_size"); ok {
		acts = append(acts,
			command(b.r, "sysctl", "-w", "net.inet.tcp.sendspace="+strconv.Itoa(v)),
			command(b.r, "sysctl", "-w", "net.inet.tcp.recvspace="+strconv.Itoa(v)))
	}
	if v, ok := p.Int("window_scaling"); ok {
		acts = append(acts, command(b.r, "sysctl", "-w", "net.inet.tcp.rfc1323="+strconv.Itoa(v)))
	}
	return runActions(ctx, b.log, acts)
}

func (b *darwinBackend) setMTU(ctx context.Context, iface string, mtu int) error {
	if iface == "" {
		return fmt.Errorf("no interface")
	}
	return command(b.r, "networksetup", "-setMTU", iface, strconv.Itoa(mtu)).run(ctx)
}
