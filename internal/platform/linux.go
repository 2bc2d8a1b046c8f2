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
	resolvConfPath = "/etc/resolv.conf"
	mangleChain    = "SIGNALBOOST"
)

// linuxSysctlKeys are the kernel parameters a session may write.
var linuxSysctlKeys = []string{
	"net.core.rmem_max",
	"net.core.wmem_max",
	"net.core.netdev_max_backlog",
	"net.ipv4.tcp_rmem",
	"net.ipv4.tcp_wmem",
	"net.ipv4.tcp_congestion_control",
	"net.ipv4.tcp_window_scaling",
	"net.ipv4.tcp_fastopen",
	"net.ipv4.tcp_slow_start_after_idle",
	"net.ipv4.tcp_max_syn_backlog",
	"net.ipv4.tcp_moderate_rcvbuf",
	"net.netfilter.nf_conntrack_acct",
}

type linuxBackend struct {
	r    Runner
	log  *zap.Logger
	http *httpProbe
	tput throughputSampler
}

func (b *linuxBackend) capabilities() capabilities {
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
		applyWireless:  b.applyWireless,
		applyQoS:       b.applyQoS,
		applyBuffers:   b.applyBuffers,
		setMTU:         b.setMTU,
		shape:          b.shape,
		accounting:     b.accounting,
	}
}

// ── measurement ──────────────────────────────────────────────────────────────

func (b *linuxBackend) ping(ctx context.Context, host string, count int) (netinfo.Latency, error) {
	out, err := b.r.Run(ctx, "ping", "-c", strconv.Itoa(count), "-W", "2", host)
	l, perr := parseUnixPing(out)
	if perr != nil {
		return l, errors.Join(err, perr)
	}
	return l, nil
}

func (b *linuxBackend) probeMTU(ctx context.Context, target string, size int) (bool, error) {
	payload := strconv.Itoa(size - 28)
	return dfProbe(ctx, func(ctx context.Context) (string, error) {
		return b.r.Run(ctx, "ping", "-M", "do", "-s", payload, "-c", "1", "-W", "1", target)
	}, "message too long", "frag needed")
}

func (b *linuxBackend) signal(ctx context.Context, iface string) (int, error) {
	data, err := b.r.ReadFile(ctx, "/proc/net/wireless")
	if err == nil {
		if q, perr := parseProcNetWireless(string(data), iface); perr == nil {
			return q, nil
		}
	}
	args := []string{}
	if iface != "" {
		args = append(args, iface)
	}
	out, err := b.r.Run(ctx, "iwconfig", args...)
	if q, perr := parseIwconfigSignal(out); perr == nil {
		return q, nil
	} else if err == nil {
		err = perr
	}
	return 0, fmt.Errorf("signal strength: %w", err)
}

func (b *linuxBackend) scan(ctx context.Context, iface string) ([]netinfo.WirelessNetwork, error) {
	args := []string{"-t", "-f", "SSID,CHAN,SIGNAL", "dev", "wifi", "list"}
	if iface != "" {
		args = append(args, "ifname", iface)
	}
	out, err := b.r.Run(ctx, "nmcli", args...)
	if err == nil {
		if nets := parseNmcliScan(out); len(nets) > 0 {
			return nets, nil
		}
	}
	b.log.Debug("nmcli scan unavailable, trying iwlist", zap.Error(err))

	args = []string{"scanning"}
	if iface != "" {
		args = []string{iface, "scanning"}
	}
	out, err = b.r.Run(ctx, "iwlist", args...)
	if err != nil {
		return nil, err
	}
	return parseIwlistScan(out), nil
}

func (b *linuxBackend) currentChannel(ctx context.Context, iface string) (int, error) {
	args := []string{"--channel", "--raw"}
	if iface != "" {
		args = append([]string{iface}, args...)
	}
	out, err := b.r.Run(ctx, "iwgetid", args...)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(out))
}

// bandwidth prefers speedtest-cli, then the HTTP probe, then a short
// passive sample of the interface counters.
func (b *linuxBackend) bandwidth(ctx context.Context, iface string, d time.Duration) (netinfo.Bandwidth, error) {
	if !b.r.Local() {
		out, err := b.r.Run(ctx, "speedtest-cli", "--simple", "--timeout", strconv.Itoa(int(d.Seconds())+1))
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

func (b *linuxBackend) counters(ctx context.Context, iface string) (netinfo.Counters, error) {
	if iface == "" {
		gw, err := b.gateway(ctx)
		if err != nil {
			return netinfo.Counters{}, err
		}
		iface = gw.Interface
	}
	if b.r.Local() {
		return localCounters(ctx, iface)
	}
	data, err := b.r.ReadFile(ctx, "/proc/net/dev")
	if err != nil {
		return netinfo.Counters{}, err
	}
	return parseProcNetDev(string(data), iface)
}

func (b *linuxBackend) isWireless(ctx context.Context, name string) bool {
	if _, err := b.r.ReadFile(ctx, "/sys/class/net/"+name+"/phy80211/name"); err == nil {
		return true
	}
	return strings.HasPrefix(name, "wl")
}

func (b *linuxBackend) linkSpeed(ctx context.Context, name string) int {
	data, err := b.r.ReadFile(ctx, "/sys/class/net/"+name+"/speed")
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (b *linuxBackend) interfaces(ctx context.Context) ([]netinfo.Interface, error) {
	wireless := func(n string) bool { return b.isWireless(ctx, n) }
	speed := func(n string) int { return b.linkSpeed(ctx, n) }
	if b.r.Local() {
		return localInterfaces(ctx, wireless, speed)
	}

	links, err := b.r.Run(ctx, "ip", "-o", "link", "show")
	if err != nil {
		return nil, err
	}
	addrs, _ := b.r.Run(ctx, "ip", "-o", "-4", "addr", "show")
	byName := parseIPLink(links)
	ips := parseIPAddr(addrs)

	out := make([]netinfo.Interface, 0, len(byName))
	for name, it := range byName {
		if name == "lo" {
			continue
		}
		it.IPAddress = ips[name]
		it.IsWireless = wireless(name)
		it.LinkSpeedMbps = speed(name)
		out = append(out, *it)
	}
	sortInterfaces(out)
	return out, nil
}

func (b *linuxBackend) gateway(ctx context.Context) (Gateway, error) {
	data, err := b.r.ReadFile(ctx, "/proc/net/route")
	if err != nil {
		return Gateway{}, err
	}
	ip, iface := parseProcNetRoute(string(data))
	if ip == "" {
		return Gateway{}, fmt.Errorf("no default route")
	}
	return Gateway{IP: ip, Interface: iface}, nil
}

func (b *linuxBackend) clearBuffers(ctx context.Context) error {
	return runActions(ctx, b.log, []action{
		command(b.r, "ip", "-s", "-s", "neigh", "flush", "all"),
		command(b.r, "resolvectl", "flush-caches"),
	})
}

func (b *linuxBackend) elevated(ctx context.Context) (bool, error) {
	if b.r.Local() {
		return processElevated(), nil
	}
	out, err := b.r.Run(ctx, "id", "-u")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "0", nil
}

// ── tuning ───────────────────────────────────────────────────────────────────

func (b *linuxBackend) dnsServers(ctx context.Context, _ string) ([]string, error) {
	data, err := b.r.ReadFile(ctx, resolvConfPath)
	if err != nil {
		return nil, err
	}
	return parseResolvConf(string(data)), nil
}

// setDNS rewrites resolv.conf, keeping search and options lines.
func (b *linuxBackend) setDNS(ctx context.Context, servers []string, _ string) error {
	var sb strings.Builder
	sb.WriteString("# Generated by signalboost\n")
	if data, err := b.r.ReadFile(ctx, resolvConfPath); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			f := strings.Fields(line)
			if len(f) > 0 && (f[0] == "search" || f[0] == "domain" || f[0] == "options") {
				sb.WriteString(line + "\n")
			}
		}
	}
	for _, s := range servers {
		sb.WriteString("nameserver " + s + "\n")
	}
	return b.r.WriteFile(ctx, resolvConfPath, []byte(sb.String()))
}

func (b *linuxBackend) baseline(ctx context.Context, iface string) ([]netinfo.Setting, error) {
	var (
		settings []netinfo.Setting
		errs     []error
	)
	out, err := b.r.Run(ctx, "sysctl", append([]string{"-e"}, linuxSysctlKeys...)...)
	if vals := parseSysctl(out); len(vals) > 0 {
		for _, k := range linuxSysctlKeys {
			if v, ok := vals[k]; ok {
				settings = append(settings, netinfo.Setting{Kind: netinfo.SettingSysctl, Key: k, Value: v})
			}
		}
	} else if err != nil {
		errs = append(errs, err)
	}

	if data, err := b.r.ReadFile(ctx, resolvConfPath); err == nil {
		settings = append(settings, netinfo.Setting{Kind: netinfo.SettingDNS, Key: resolvConfPath, Value: string(data)})
	} else {
		errs = append(errs, err)
	}

	if iface != "" {
		for _, f := range []struct {
			kind netinfo.SettingKind
			file string
		}{
			{netinfo.SettingMTU, "mtu"},
			{netinfo.SettingTxQueueLen, "tx_queue_len"},
		} {
			data, err := b.r.ReadFile(ctx, "/sys/class/net/"+iface+"/"+f.file)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			settings = append(settings, netinfo.Setting{Kind: f.kind, Key: iface, Value: strings.TrimSpace(string(data))})
		}
		if b.isWireless(ctx, iface) {
			out, _ := b.r.Run(ctx, "iwconfig", iface)
			if state, ok := parseIwconfigPower(out); ok {
				settings = append(settings, netinfo.Setting{Kind: netinfo.SettingPowerSave, Key: iface, Value: state})
			}
			if dbm, ok := parseIwconfigTxPower(out); ok {
				settings = append(settings, netinfo.Setting{Kind: netinfo.SettingTxPower, Key: iface, Value: dbm})
			}
		}
		if out, err := b.r.Run(ctx, "tc", "qdisc", "show", "dev", iface); err == nil {
			settings = append(settings, netinfo.Setting{Kind: netinfo.SettingQdisc, Key: iface, Value: parseRootQdisc(out)})
		}
	}

	if len(settings) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if iface != "" {
		settings = append(settings, netinfo.Setting{Kind: netinfo.SettingQoS, Key: iface, Value: mangleChain})
	}
	return settings, nil
}

func (b *linuxBackend) restore(ctx context.Context, s netinfo.Setting) error {
	switch s.Kind {
	case netinfo.SettingSysctl:
		return command(b.r, "sysctl", "-w", s.Key+"="+s.Value).run(ctx)
	case netinfo.SettingDNS:
		return b.r.WriteFile(ctx, s.Key, []byte(s.Value))
	case netinfo.SettingMTU:
		return command(b.r, "ip", "link", "set", "dev", s.Key, "mtu", s.Value).run(ctx)
	case netinfo.SettingTxQueueLen:
		return command(b.r, "ip", "link", "set", "dev", s.Key, "txqueuelen", s.Value).run(ctx)
	case netinfo.SettingPowerSave:
		return command(b.r, "iwconfig", s.Key, "power", s.Value).run(ctx)
	case netinfo.SettingTxPower:
		return command(b.r, "iwconfig", s.Key, "txpower", s.Value).run(ctx)
	case netinfo.SettingQdisc:
		return b.restoreQdisc(ctx, s.Key, s.Value)
	case netinfo.SettingQoS:
		b.removeMangleChain(ctx, s.Key)
		return nil
	}
	return fmt.Errorf("unknown setting kind %q", s.Kind)
}

func (b *linuxBackend) sysctl(key string, value any) action {
	return command(b.r, "sysctl", "-w", fmt.Sprintf("%s=%v", key, value))
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, " ")
}

func (b *linuxBackend) applyTCP(ctx context.Context, p profile.Params) error {
	var acts []action
	if v, ok := p.Int("window_size"); ok {
		acts = append(acts, b.sysctl("net.core.rmem_max", v), b.sysctl("net.core.wmem_max", v))
	}
	if v, ok := p.Int("max_syn_backlog"); ok {
		acts = append(acts, b.sysctl("net.ipv4.tcp_max_syn_backlog", v))
	}
	if v := p.String("congestion_control"); v != "" {
		acts = append(acts, b.sysctl("net.ipv4.tcp_congestion_control", v))
	}
	if v, ok := p.Int("window_scaling"); ok {
		acts = append(acts, b.sysctl("net.ipv4.tcp_window_scaling", v))
	}
	if v, ok := p.Int("fastopen"); ok {
		acts = append(acts, b.sysctl("net.ipv4.tcp_fastopen", v))
	}
	if v, ok := p.Int("slow_start_after_idle"); ok {
		acts = append(acts, b.sysctl("net.ipv4.tcp_slow_start_after_idle", v))
	}
	if v := p.Ints("rmem"); len(v) == 3 {
		acts = append(acts, b.sysctl("net.ipv4.tcp_rmem", joinInts(v)))
	}
	if v := p.Ints("wmem"); len(v) == 3 {
		acts = append(acts, b.sysctl("net.ipv4.tcp_wmem", joinInts(v)))
	}
	return runActions(ctx, b.log, acts)
}

func (b *linuxBackend) applyWireless(ctx context.Context, iface string, p profile.Params) error {
	if iface == "" {
		return fmt.Errorf("no wireless interface")
	}
	var acts []action
	if v := p.String("power_save"); v != "" {
		acts = append(acts, command(b.r, "iwconfig", iface, "power", v))
	}
	switch p.String("tx_power") {
	case "max":
		acts = append(acts, command(b.r, "iwconfig", iface, "txpower", "20"))
	case "auto":
		acts = append(acts, command(b.r, "iwconfig", iface, "txpower", "auto"))
	}
	return runActions(ctx, b.log, acts)
}

// applyQoS marks priority traffic with DSCP classes in a dedicated mangle
// chain and, when asked, replaces the root qdisc with fq_codel.
func (b *linuxBackend) applyQoS(ctx context.Context, iface string, p profile.Params) error {
	if iface == "" {
		return fmt.Errorf("no interface")
	}
	out, err := b.r.Run(ctx, "iptables", "-t", "mangle", "-N", mangleChain)
	if err := ignoreMissing(err, out, "Chain already exists"); err != nil {
		return err
	}
	if err := command(b.r, "iptables", "-t", "mangle", "-F", mangleChain).run(ctx); err != nil {
		return err
	}
	if _, err := b.r.Run(ctx, "iptables", "-t", "mangle", "-C", "POSTROUTING", "-o", iface, "-j", mangleChain); err != nil {
		if err := command(b.r, "iptables", "-t", "mangle", "-A", "POSTROUTING", "-o", iface, "-j", mangleChain).run(ctx); err != nil {
			return err
		}
	}

	mark := func(rule ...string) action {
		args := append([]string{"-t", "mangle", "-A", mangleChain}, rule...)
		return command(b.r, "iptables", args...)
	}
	var acts []action
	if p.Bool("prioritize_ack") {
		acts = append(acts, mark("-p", "tcp", "--tcp-flags", "SYN,RST,ACK,FIN", "ACK",
			"-m", "length", "--length", "0:128", "-j", "DSCP", "--set-dscp-class", "CS6"))
	}
	if p.Bool("prioritize_dns") {
		acts = append(acts, mark("-p", "udp", "--dport", "53", "-j", "DSCP", "--set-dscp-class", "EF"))
	}
	for _, port := range p.Ints("priority_ports") {
		acts = append(acts, mark("-p", "tcp", "--dport", strconv.Itoa(port), "-j", "DSCP", "--set-dscp-class", "CS4"))
	}
	if p.Bool("buffer_bloat_mitigation") {
		acts = append(acts, command(b.r, "tc", "qdisc", "replace", "dev", iface, "root", "fq_codel"))
	}
	return runActions(ctx, b.log, acts)
}

// restoreQdisc reinstates the root qdisc kind seen at baseline. Kernel
// default kinds come back by deleting whatever root qdisc is installed.
func (b *linuxBackend) restoreQdisc(ctx context.Context, iface, kind string) error {
	switch kind {
	case "", "noqueue", "mq", "pfifo_fast":
		out, err := b.r.Run(ctx, "tc", "qdisc", "del", "dev", iface, "root")
		return ignoreMissing(err, out, "Cannot delete qdisc with handle of zero", "No such file or directory")
	}
	return command(b.r, "tc", "qdisc", "replace", "dev", iface, "root", kind).run(ctx)
}

// removeMangleChain drops the DSCP marking chain and its POSTROUTING jump.
func (b *linuxBackend) removeMangleChain(ctx context.Context, iface string) {
	for _, args := range [][]string{
		{"-t", "mangle", "-D", "POSTROUTING", "-o", iface, "-j", mangleChain},
		{"-t", "mangle", "-F", mangleChain},
		{"-t", "mangle", "-X", mangleChain},
	} {
		if _, err := b.r.Run(ctx, "iptables", args...); err != nil {
			b.log.Debug("iptables cleanup", zap.Strings("args", args), zap.Error(err))
		}
	}
}

func (b *linuxBackend) applyBuffers(ctx context.Context, iface string, p profile.Params) error {
	var acts []action
	if v, ok := p.Int("txqueuelen"); ok && iface != "" {
		acts = append(acts, command(b.r, "ip", "link", "set", "dev", iface, "txqueuelen", strconv.Itoa(v)))
	}
	if v, ok := p.Int("netdev_max_backlog"); ok {
		acts = append(acts, b.sysctl("net.core.netdev_max_backlog", v))
	}
	if v, ok := p.Int("socket_buffer"); ok {
		acts = append(acts, b.sysctl("net.core.rmem_max", v), b.sysctl("net.core.wmem_max", v))
	}
	if v, ok := p.Int("tcp_moderate_rcvbuf"); ok {
		acts = append(acts, b.sysctl("net.ipv4.tcp_moderate_rcvbuf", v))
	}
	return runActions(ctx, b.log, acts)
}

func (b *linuxBackend) setMTU(ctx context.Context, iface string, mtu int) error {
	if iface == "" {
		return fmt.Errorf("no interface")
	}
	return command(b.r, "ip", "link", "set", "dev", iface, "mtu", strconv.Itoa(mtu)).run(ctx)
}

// shape installs CAKE at rateMbps, falling back to a token bucket when the
// sch_cake module is unavailable.
func (b *linuxBackend) shape(ctx context.Context, iface string, rateMbps float64) error {
	if iface == "" {
		return fmt.Errorf("no interface")
	}
	rate := fmt.Sprintf("%dmbit", max(1, int(rateMbps)))
	err := command(b.r, "tc", "qdisc", "replace", "dev", iface, "root", "cake", "bandwidth", rate, "diffserv4").run(ctx)
	if err == nil {
		return nil
	}
	b.log.Debug("cake unavailable, using tbf", zap.Error(err))
	return command(b.r, "tc", "qdisc", "replace", "dev", iface, "root", "tbf",
		"rate", rate, "burst", "32kbit", "latency", "400ms").run(ctx)
}

func (b *linuxBackend) accounting(ctx context.Context) error {
	return b.sysctl("net.netfilter.nf_conntrack_acct", 1).run(ctx)
}
