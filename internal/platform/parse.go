package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vesaa/signalboost/internal/netinfo"
)

var errNoMatch = errors.New("unrecognised tool output")

// ── ping ─────────────────────────────────────────────────────────────────────

var (
	reUnixLoss  = regexp.MustCompile(`([\d.]+)% packet loss`)
	reUnixStats = regexp.MustCompile(`= ([\d.]+)/([\d.]+)/([\d.]+)/([\d.]+) ms`)
	reWinLoss   = regexp.MustCompile(`\((\d+)% loss\)`)
	reWinStats  = regexp.MustCompile(`Minimum = (\d+)ms, Maximum = (\d+)ms, Average = (\d+)ms`)
)

// parseUnixPing reads iputils/BSD ping summaries ("rtt min/avg/max/mdev" or
// "round-trip min/avg/max/stddev"). The fourth figure is used as jitter.
func parseUnixPing(out string) (netinfo.Latency, error) {
	var l netinfo.Latency
	if m := reUnixLoss.FindStringSubmatch(out); m != nil {
		l.Loss, _ = strconv.ParseFloat(m[1], 64)
	}
	m := reUnixStats.FindStringSubmatch(out)
	if m == nil {
		return netinfo.Latency{}, fmt.Errorf("ping: no round-trip summary (loss %.0f%%): %w", l.Loss, errNoMatch)
	}
	l.Min, _ = strconv.ParseFloat(m[1], 64)
	l.Avg, _ = strconv.ParseFloat(m[2], 64)
	l.Max, _ = strconv.ParseFloat(m[3], 64)
	l.Jitter, _ = strconv.ParseFloat(m[4], 64)
	return l, nil
}

// parseWindowsPing reads the Windows ping summary. Windows reports no
// deviation, so jitter is approximated as half the min/max spread.
func parseWindowsPing(out string) (netinfo.Latency, error) {
	var l netinfo.Latency
	if m := reWinLoss.FindStringSubmatch(out); m != nil {
		l.Loss, _ = strconv.ParseFloat(m[1], 64)
	}
	m := reWinStats.FindStringSubmatch(out)
	if m == nil {
		return netinfo.Latency{}, fmt.Errorf("ping: no round-trip summary (loss %.0f%%): %w", l.Loss, errNoMatch)
	}
	l.Min, _ = strconv.ParseFloat(m[1], 64)
	l.Max, _ = strconv.ParseFloat(m[2], 64)
	l.Avg, _ = strconv.ParseFloat(m[3], 64)
	l.Jitter = (l.Max - l.Min) / 2
	return l, nil
}

// ── wireless ─────────────────────────────────────────────────────────────────

var (
	reLinkQuality = regexp.MustCompile(`Link Quality=(\d+)/(\d+)`)
	reSignalDBm   = regexp.MustCompile(`Signal level=(-?\d+) dBm`)
	rePowerMgmt   = regexp.MustCompile(`Power Management:\s*(on|off)`)
	reTxPower     = regexp.MustCompile(`Tx-Power[=:]\s*(-?\d+)\s*dBm`)
	reIwCell      = regexp.MustCompile(`Cell \d+ - Address: ([0-9A-Fa-f:]{17})`)
	reIwChannel   = regexp.MustCompile(`Channel[:\s](\d+)`)
	reIwQuality   = regexp.MustCompile(`Quality=(\d+)/(\d+)`)
	reIwESSID     = regexp.MustCompile(`ESSID:"(.*)"`)
	reNetshSignal = regexp.MustCompile(`(?m)^\s*Signal\s*:\s*(\d+)%`)
	reNetshChan   = regexp.MustCompile(`(?m)^\s*Channel\s*:\s*(\d+)`)
	reNetshSSID   = regexp.MustCompile(`^SSID \d+\s*:\s*(.*)$`)
	reNetshBSSID  = regexp.MustCompile(`^BSSID \d+\s*:\s*(\S+)`)
	reAirportRSSI = regexp.MustCompile(`agrCtlRSSI:\s*(-?\d+)`)
	reAirportChan = regexp.MustCompile(`(?m)^\s*channel:\s*(\d+)`)
	reAirportScan = regexp.MustCompile(`^\s*(.*?)\s+([0-9a-fA-F]{2}(?::[0-9a-fA-F]{2}){5})\s+(-?\d+)\s+(\d+)`)
)

// dbmToPercent maps -100 dBm → 0% and -50 dBm → 100%.
func dbmToPercent(dbm int) int {
	return clampPercent(2 * (dbm + 100))
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// parseProcNetWireless reads /proc/net/wireless; link quality is out of 70.
func parseProcNetWireless(out, iface string) (int, error) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || !strings.HasSuffix(fields[0], ":") {
			continue
		}
		name := strings.TrimSuffix(fields[0], ":")
		if iface != "" && name != iface {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSuffix(fields[2], "."), 64)
		if err != nil {
			continue
		}
		return clampPercent(int(q / 70 * 100)), nil
	}
	return 0, fmt.Errorf("/proc/net/wireless: no entry for %q: %w", iface, errNoMatch)
}

func parseIwconfigSignal(out string) (int, error) {
	if m := reLinkQuality.FindStringSubmatch(out); m != nil {
		q, _ := strconv.Atoi(m[1])
		max, _ := strconv.Atoi(m[2])
		if max > 0 {
			return clampPercent(q * 100 / max), nil
		}
	}
	if m := reSignalDBm.FindStringSubmatch(out); m != nil {
		dbm, _ := strconv.Atoi(m[1])
		return dbmToPercent(dbm), nil
	}
	return 0, fmt.Errorf("iwconfig: %w", errNoMatch)
}

func parseIwconfigPower(out string) (string, bool) {
	m := rePowerMgmt.FindStringSubmatch(out)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// parseIwconfigTxPower returns the transmit power in dBm.
func parseIwconfigTxPower(out string) (string, bool) {
	m := reTxPower.FindStringSubmatch(out)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// parseIwlistScan reads `iwlist <if> scanning` cell blocks.
func parseIwlistScan(out string) []netinfo.WirelessNetwork {
	var nets []netinfo.WirelessNetwork
	locs := reIwCell.FindAllStringSubmatchIndex(out, -1)
	for i, loc := range locs {
		end := len(out)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		cell := out[loc[0]:end]
		n := netinfo.WirelessNetwork{BSSID: out[loc[2]:loc[3]]}
		if m := reIwChannel.FindStringSubmatch(cell); m != nil {
			n.Channel, _ = strconv.Atoi(m[1])
		}
		if m := reIwQuality.FindStringSubmatch(cell); m != nil {
			q, _ := strconv.Atoi(m[1])
			max, _ := strconv.Atoi(m[2])
			if max > 0 {
				n.Signal = clampPercent(q * 100 / max)
			}
		}
		if m := reIwESSID.FindStringSubmatch(cell); m != nil {
			n.SSID = m[1]
		}
		if n.Channel > 0 {
			nets = append(nets, n)
		}
	}
	return nets
}

// parseNmcliScan reads `nmcli -t -f SSID,CHAN,SIGNAL dev wifi list`. Colons
// inside an SSID are escaped as `\:`.
func parseNmcliScan(out string) []netinfo.WirelessNetwork {
	var nets []netinfo.WirelessNetwork
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := splitEscaped(line, ':')
		if len(fields) < 3 {
			continue
		}
		ch, err := strconv.Atoi(fields[len(fields)-2])
		if err != nil {
			continue
		}
		sig, _ := strconv.Atoi(fields[len(fields)-1])
		nets = append(nets, netinfo.WirelessNetwork{
			SSID:    strings.Join(fields[:len(fields)-2], ":"),
			Channel: ch,
			Signal:  clampPercent(sig),
		})
	}
	return nets
}

func splitEscaped(s string, sep byte) []string {
	var (
		fields []string
		cur    strings.Builder
	)
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && i+1 < len(s):
			i++
			cur.WriteByte(s[i])
		case s[i] == sep:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(s[i])
		}
	}
	return append(fields, cur.String())
}

// parseNetshInterfaces reads `netsh wlan show interfaces`.
func parseNetshInterfaces(out string) (signal, channel int, err error) {
	m := reNetshSignal.FindStringSubmatch(out)
	if m == nil {
		return 0, 0, fmt.Errorf("netsh wlan: %w", errNoMatch)
	}
	signal, _ = strconv.Atoi(m[1])
	if c := reNetshChan.FindStringSubmatch(out); c != nil {
		channel, _ = strconv.Atoi(c[1])
	}
	return clampPercent(signal), channel, nil
}

// parseNetshNetworks reads `netsh wlan show networks mode=bssid`; every BSSID
// becomes one entry.
func parseNetshNetworks(out string) []netinfo.WirelessNetwork {
	var (
		nets []netinfo.WirelessNetwork
		ssid string
		cur  *netinfo.WirelessNetwork
	)
	flush := func() {
		if cur != nil && cur.Channel > 0 {
			nets = append(nets, *cur)
		}
		cur = nil
	}
	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(raw)
		if m := reNetshSSID.FindStringSubmatch(line); m != nil {
			flush()
			ssid = strings.TrimSpace(m[1])
			continue
		}
		if m := reNetshBSSID.FindStringSubmatch(line); m != nil {
			flush()
			cur = &netinfo.WirelessNetwork{SSID: ssid, BSSID: m[1]}
			continue
		}
		if cur == nil {
			continue
		}
		if m := reNetshSignal.FindStringSubmatch(line); m != nil {
			cur.Signal, _ = strconv.Atoi(m[1])
		} else if m := reNetshChan.FindStringSubmatch(line); m != nil {
			cur.Channel, _ = strconv.Atoi(m[1])
		}
	}
	flush()
	return nets
}

// parseAirportInfo reads `airport -I`.
func parseAirportInfo(out string) (signal, channel int, err error) {
	m := reAirportRSSI.FindStringSubmatch(out)
	if m == nil {
		return 0, 0, fmt.Errorf("airport -I: %w", errNoMatch)
	}
	rssi, _ := strconv.Atoi(m[1])
	if c := reAirportChan.FindStringSubmatch(out); c != nil {
		channel, _ = strconv.Atoi(c[1])
	}
	return dbmToPercent(rssi), channel, nil
}

// parseAirportScan reads `airport -s`. SSIDs may contain spaces, so each row
// is anchored on the BSSID column.
func parseAirportScan(out string) []netinfo.WirelessNetwork {
	var nets []netinfo.WirelessNetwork
	for _, line := range strings.Split(out, "\n") {
		m := reAirportScan.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		rssi, _ := strconv.Atoi(m[3])
		ch, _ := strconv.Atoi(m[4])
		nets = append(nets, netinfo.WirelessNetwork{
			SSID:    strings.TrimSpace(m[1]),
			BSSID:   m[2],
			Channel: ch,
			Signal:  dbmToPercent(rssi),
		})
	}
	return nets
}

// ── interfaces, routes, counters ─────────────────────────────────────────────

// parseProcNetDev extracts the counters of iface from /proc/net/dev.
func parseProcNetDev(out, iface string) (netinfo.Counters, error) {
	for _, line := range strings.Split(out, "\n") {
		name, rest, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) != iface {
			continue
		}
		f := strings.Fields(rest)
		if len(f) < 12 {
			break
		}
		n := func(i int) uint64 {
			v, _ := strconv.ParseUint(f[i], 10, 64)
			return v
		}
		return netinfo.Counters{
			Name:        iface,
			PacketsRecv: n(1),
			Errin:       n(2),
			Dropin:      n(3),
			PacketsSent: n(9),
			Errout:      n(10),
			Dropout:     n(11),
		}, nil
	}
	return netinfo.Counters{}, fmt.Errorf("/proc/net/dev: no entry for %q: %w", iface, errNoMatch)
}

// parseProcNetRoute returns the default gateway and its interface from the
// kernel routing table. Gateways are little-endian hex.
func parseProcNetRoute(out string) (gw, iface string) {
	lines := strings.Split(out, "\n")
	if len(lines) < 2 {
		return "", ""
	}
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[1] != "00000000" {
			continue
		}
		gwHex := fields[2]
		if len(gwHex) != 8 {
			continue
		}
		var b [4]byte
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseUint(gwHex[i*2:i*2+2], 16, 8)
			if err != nil {
				return "", ""
			}
			b[3-i] = byte(v)
		}
		return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3]), fields[0]
	}
	return "", ""
}

var (
	reRoutePrint = regexp.MustCompile(`(?m)^\s*0\.0\.0\.0\s+0\.0\.0\.0\s+(\S+)\s+(\S+)`)
	reRouteGW    = regexp.MustCompile(`(?m)^\s*gateway:\s*(\S+)`)
	reRouteIf    = regexp.MustCompile(`(?m)^\s*interface:\s*(\S+)`)
	reHWPort     = regexp.MustCompile(`Hardware Port:\s*(.+)\nDevice:\s*(\S+)`)
	reIPv4       = regexp.MustCompile(`\b(\d{1,3}(?:\.\d{1,3}){3})\b`)
	reIPLink     = regexp.MustCompile(`^\d+:\s+([^:@\s]+)[^:]*:\s+<([^>]*)>.*?\bmtu (\d+)(?:.*?link/\w+ ([0-9a-f:]{17}))?`)
	reIPAddr     = regexp.MustCompile(`^\d+:\s+(\S+)\s+inet (\d+\.\d+\.\d+\.\d+)`)
)

// parseRoutePrint returns (gateway, local address) from `route print 0.0.0.0`.
func parseRoutePrint(out string) (gw, local string) {
	m := reRoutePrint.FindStringSubmatch(out)
	if m == nil {
		return "", ""
	}
	return m[1], m[2]
}

// parseRouteGetDefault reads BSD `route -n get default`.
func parseRouteGetDefault(out string) (gw, iface string) {
	if m := reRouteGW.FindStringSubmatch(out); m != nil {
		gw = m[1]
	}
	if m := reRouteIf.FindStringSubmatch(out); m != nil {
		iface = m[1]
	}
	return gw, iface
}

// parseHardwarePorts maps device → hardware port from
// `networksetup -listallhardwareports`.
func parseHardwarePorts(out string) map[string]string {
	ports := make(map[string]string)
	for _, m := range reHWPort.FindAllStringSubmatch(strings.ReplaceAll(out, "\r\n", "\n"), -1) {
		ports[m[2]] = strings.TrimSpace(m[1])
	}
	return ports
}

// parseIPLink reads `ip -o link show` into name → descriptor.
func parseIPLink(out string) map[string]*netinfo.Interface {
	ifaces := make(map[string]*netinfo.Interface)
	for _, line := range strings.Split(out, "\n") {
		m := reIPLink.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		mtu, _ := strconv.Atoi(m[3])
		ifaces[m[1]] = &netinfo.Interface{
			Name:       m[1],
			MACAddress: m[4],
			MTU:        mtu,
			Up:         hasFlag(m[2], "UP"),
		}
	}
	return ifaces
}

// parseIPAddr reads `ip -o -4 addr show` into name → first IPv4 address.
func parseIPAddr(out string) map[string]string {
	addrs := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		m := reIPAddr.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if _, seen := addrs[m[1]]; !seen {
			addrs[m[1]] = m[2]
		}
	}
	return addrs
}

func hasFlag(flags, want string) bool {
	for _, f := range strings.Split(flags, ",") {
		if f == want {
			return true
		}
	}
	return false
}

// ── settings ─────────────────────────────────────────────────────────────────

// parseResolvConf returns the nameserver entries of a resolv.conf.
func parseResolvConf(out string) []string {
	var servers []string
	for _, line := range strings.Split(out, "\n") {
		f := strings.Fields(line)
		if len(f) >= 2 && f[0] == "nameserver" {
			servers = append(servers, f[1])
		}
	}
	return servers
}

// parseSysctl reads "key = value" (Linux) or "key: value" (BSD) lines;
// multi-field values are normalised to single spaces.
func parseSysctl(out string) map[string]string {
	vals := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			k, v, ok = strings.Cut(line, ":")
		}
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if !strings.Contains(k, ".") || strings.ContainsAny(k, " \t") {
			continue
		}
		vals[k] = strings.Join(strings.Fields(v), " ")
	}
	return vals
}

// parseRootQdisc returns the kind of the root qdisc from `tc qdisc show dev X`.
func parseRootQdisc(out string) string {
	for _, line := range strings.Split(out, "\n") {
		f := strings.Fields(line)
		if len(f) >= 2 && f[0] == "qdisc" && strings.Contains(line, " root") {
			return f[1]
		}
	}
	return ""
}

// parseIPv4List extracts every dotted IPv4 address.
func parseIPv4List(out string) []string {
	var ips []string
	for _, m := range reIPv4.FindAllStringSubmatch(out, -1) {
		ips = append(ips, m[1])
	}
	return ips
}

var netshTCPLabels = map[string]string{
	"Receive Window Auto-Tuning Level": "autotuninglevel",
	"Fast Open":                        "fastopen",
	"ECN Capability":                   "ecncapability",
}

// parseNetshTCPGlobal reads `netsh interface tcp show global`.
func parseNetshTCPGlobal(out string) map[string]string {
	vals := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		label, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if key, known := netshTCPLabels[strings.TrimSpace(label)]; known {
			vals[key] = strings.TrimSpace(v)
		}
	}
	return vals
}

// parseNetshSubinterfaceMTU reads `netsh interface ipv4 show subinterfaces`
// and returns the MTU of iface.
func parseNetshSubinterfaceMTU(out, iface string) (int, error) {
	for _, line := range strings.Split(out, "\n") {
		f := strings.Fields(line)
		if len(f) < 5 {
			continue
		}
		mtu, err := strconv.Atoi(f[0])
		if err != nil {
			continue
		}
		if strings.Join(f[4:], " ") == iface {
			return mtu, nil
		}
	}
	return 0, fmt.Errorf("netsh subinterfaces: no entry for %q: %w", iface, errNoMatch)
}

var reActiveMTU = regexp.MustCompile(`Active MTU:\s*(\d+)`)

func parseNetworksetupMTU(out string) (int, error) {
	m := reActiveMTU.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("networksetup -getMTU: %w", errNoMatch)
	}
	return strconv.Atoi(m[1])
}

// ── bandwidth ────────────────────────────────────────────────────────────────

var (
	reSpeedDown = regexp.MustCompile(`Download:\s*([\d.]+)\s*Mbit/s`)
	reSpeedUp   = regexp.MustCompile(`Upload:\s*([\d.]+)\s*Mbit/s`)
)

// parseSpeedtestSimple reads `speedtest-cli --simple`.
func parseSpeedtestSimple(out string) (netinfo.Bandwidth, error) {
	d := reSpeedDown.FindStringSubmatch(out)
	u := reSpeedUp.FindStringSubmatch(out)
	if d == nil && u == nil {
		return netinfo.Bandwidth{}, fmt.Errorf("speedtest-cli: %w", errNoMatch)
	}
	var bw netinfo.Bandwidth
	if d != nil {
		bw.DownloadMbps, _ = strconv.ParseFloat(d[1], 64)
	}
	if u != nil {
		bw.UploadMbps, _ = strconv.ParseFloat(u[1], 64)
	}
	return bw, nil
}

// parseNetworkQuality reads the JSON emitted by macOS `networkQuality -c`.
func parseNetworkQuality(out string) (netinfo.Bandwidth, error) {
	var res struct {
		DL float64 `json:"dl_throughput"`
		UL float64 `json:"ul_throughput"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		return netinfo.Bandwidth{}, fmt.Errorf("networkQuality: %w", err)
	}
	return netinfo.Bandwidth{DownloadMbps: res.DL / 1e6, UploadMbps: res.UL / 1e6}, nil
}

// ── registry ─────────────────────────────────────────────────────────────────

// parseRegQuery reads a REG_DWORD line of `reg query KEY /v name`.
func parseRegQuery(out, name string) (uint32, bool) {
	for _, line := range strings.Split(out, "\n") {
		f := strings.Fields(line)
		if len(f) != 3 || !strings.EqualFold(f[0], name) || f[1] != "REG_DWORD" {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(f[2]), "0x"), 16, 32)
		if err != nil {
			return 0, false
		}
		return uint32(v), true
	}
	return 0, false
}
