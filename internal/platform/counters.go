package platform

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/host"
	psnet "github.com/shirou/gopsutil/v4/net"

	"github.com/vesaa/signalboost/internal/netinfo"
)

// ─── gopsutil-backed helpers (local host only) ────────────────────────────────

// localCounters returns the cumulative counters of iface.
func localCounters(ctx context.Context, iface string) (netinfo.Counters, error) {
	stats, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return netinfo.Counters{}, fmt.Errorf("io counters: %w", err)
	}
	for _, s := range stats {
		if s.Name != iface {
			continue
		}
		return netinfo.Counters{
			Name:        s.Name,
			PacketsRecv: s.PacketsRecv,
			PacketsSent: s.PacketsSent,
			Errin:       s.Errin,
			Errout:      s.Errout,
			Dropin:      s.Dropin,
			Dropout:     s.Dropout,
		}, nil
	}
	return netinfo.Counters{}, fmt.Errorf("io counters: no interface %q", iface)
}

// localInterfaces enumerates interfaces through gopsutil. isWireless and
// linkSpeed fill in what gopsutil does not report; either may be nil.
func localInterfaces(ctx context.Context, isWireless func(name string) bool, linkSpeed func(name string) int) ([]netinfo.Interface, error) {
	list, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("interfaces: %w", err)
	}
	out := make([]netinfo.Interface, 0, len(list))
	for _, it := range list {
		if hasFlagName(it.Flags, "loopback") {
			continue
		}
		d := netinfo.Interface{
			Name:       it.Name,
			MACAddress: it.HardwareAddr,
			MTU:        it.MTU,
			Up:         hasFlagName(it.Flags, "up"),
			IPAddress:  firstIPv4(it.Addrs),
		}
		if isWireless != nil {
			d.IsWireless = isWireless(it.Name)
		}
		if linkSpeed != nil {
			d.LinkSpeedMbps = linkSpeed(it.Name)
		}
		out = append(out, d)
	}
	return out, nil
}

func hasFlagName(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}

// firstIPv4 returns the first non-loopback IPv4 address of addrs.
func firstIPv4(addrs psnet.InterfaceAddrList) string {
	for _, a := range addrs {
		ip, _, err := net.ParseCIDR(a.Addr)
		if err != nil {
			ip = net.ParseIP(a.Addr)
		}
		if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
			return ip.String()
		}
	}
	return ""
}

// HostDescription returns a descriptive OS string such as "ubuntu 22.04".
func HostDescription(ctx context.Context) string {
	info, err := host.InfoWithContext(ctx)
	if err != nil || info.Platform == "" {
		return ""
	}
	if info.PlatformVersion != "" {
		return fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
	}
	return info.Platform
}

// ─── passive throughput ───────────────────────────────────────────────────────

// throughputSampler estimates link throughput from byte-counter deltas. It is
// the fallback when no active bandwidth tool is available and reports what
// the interface is currently carrying, not its capacity.
type throughputSampler struct {
	mu       sync.Mutex
	prevRx   uint64
	prevTx   uint64
	prevTime time.Time
}

// sample waits d (bounded by ctx) and returns the rates over that window.
func (s *throughputSampler) sample(ctx context.Context, iface string, d time.Duration) (netinfo.Bandwidth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.read(ctx, iface); err != nil {
		return netinfo.Bandwidth{}, err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return netinfo.Bandwidth{}, ctx.Err()
	case <-t.C:
	}
	rx, tx, dt := s.prevRx, s.prevTx, s.prevTime
	if err := s.read(ctx, iface); err != nil {
		return netinfo.Bandwidth{}, err
	}
	secs := s.prevTime.Sub(dt).Seconds()
	if secs <= 0 {
		return netinfo.Bandwidth{}, nil
	}
	return netinfo.Bandwidth{
		DownloadMbps: deltaMbps(rx, s.prevRx, secs),
		UploadMbps:   deltaMbps(tx, s.prevTx, secs),
	}, nil
}

func (s *throughputSampler) read(ctx context.Context, iface string) error {
	stats, err := psnet.IOCountersWithContext(ctx, iface != "")
	if err != nil {
		return fmt.Errorf("io counters: %w", err)
	}
	if len(stats) == 0 {
		return fmt.Errorf("io counters: no interfaces reported")
	}
	st := stats[0]
	for _, c := range stats {
		if c.Name == iface {
			st = c
		}
	}
	s.prevRx, s.prevTx, s.prevTime = st.BytesRecv, st.BytesSent, time.Now()
	return nil
}

// deltaMbps converts a byte-counter delta to Mbit/s; a counter reset yields 0.
func deltaMbps(prev, cur uint64, secs float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) * 8 / secs / 1e6
}
