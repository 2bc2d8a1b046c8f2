// Package netinfo defines the measurement and link records shared by the
// platform backends, the diagnostic engine and the optimization engine.
package netinfo

import (
	"strings"
	"time"
)

// SignalNotApplicable is reported as SignalStrength for non-wireless links.
// It is distinct from a measured 0%.
const SignalNotApplicable = -1

// Snapshot is the result of one measurement pass. It is a value type and is
// never modified after the diagnostic engine builds it.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Interface string    `json:"interface"`

	// ── Path ─────────────────────────────────────────────────────────────────
	LatencyMin float64 `json:"latency_min_ms"`
	LatencyAvg float64 `json:"latency_avg_ms"`
	LatencyMax float64 `json:"latency_max_ms"`
	Jitter     float64 `json:"jitter_ms"`
	PacketLoss float64 `json:"packet_loss_pct"`

	// ── Throughput ───────────────────────────────────────────────────────────
	DownloadMbps float64 `json:"download_mbps"`
	UploadMbps   float64 `json:"upload_mbps"`

	// ── Link ─────────────────────────────────────────────────────────────────
	SignalStrength    int     `json:"signal_strength"` // 0-100, SignalNotApplicable on wired links
	CongestionScore   float64 `json:"congestion_score"`
	InterferenceScore float64 `json:"interference_score"`

	// ── Derived ──────────────────────────────────────────────────────────────
	QualityScore  int      `json:"quality_score"`
	QualityRating string   `json:"quality_rating"`
	Issues        []string `json:"issues,omitempty"`
}

// Wireless reports whether the snapshot carries a real signal reading.
func (s Snapshot) Wireless() bool {
	return s.SignalStrength != SignalNotApplicable
}

// Latency holds round-trip statistics in milliseconds.
type Latency struct {
	Min    float64 `json:"min"`
	Avg    float64 `json:"avg"`
	Max    float64 `json:"max"`
	Jitter float64 `json:"jitter"`
	Loss   float64 `json:"loss"` // percent
}

// Bandwidth is a throughput estimate in megabits per second.
type Bandwidth struct {
	DownloadMbps float64 `json:"download_mbps"`
	UploadMbps   float64 `json:"upload_mbps"`
}

// Interface describes one network interface. Descriptors are enumerated
// fresh on each query and never cached.
type Interface struct {
	Name          string `json:"name"`
	IPAddress     string `json:"ip_address"`
	MACAddress    string `json:"mac_address"`
	IsWireless    bool   `json:"is_wireless"`
	LinkSpeedMbps int    `json:"link_speed_mbps"`
	MTU           int    `json:"mtu"`
	Up            bool   `json:"up"`
}

// WirelessNetwork is one entry of a wireless scan.
type WirelessNetwork struct {
	SSID    string `json:"ssid"`
	BSSID   string `json:"bssid,omitempty"`
	Channel int    `json:"channel"`
	Signal  int    `json:"signal"` // percent, 0 when the scanner does not report it
}

// Is24GHz reports whether channel belongs to the 2.4 GHz band.
func Is24GHz(channel int) bool {
	return channel >= 1 && channel <= 14
}

// Counters is a cumulative packet/error counter sample for one interface.
type Counters struct {
	Name        string `json:"name"`
	PacketsRecv uint64 `json:"packets_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	Errin       uint64 `json:"errin"`
	Errout      uint64 `json:"errout"`
	Dropin      uint64 `json:"dropin"`
	Dropout     uint64 `json:"dropout"`
}

// ErrorRatio returns (errors+drops)/packets×100 capped at 100. ok is false
// when no packets have been counted yet.
func (c Counters) ErrorRatio() (ratio float64, ok bool) {
	packets := c.PacketsRecv + c.PacketsSent
	if packets == 0 {
		return 0, false
	}
	bad := c.Errin + c.Errout + c.Dropin + c.Dropout
	ratio = float64(bad) / float64(packets) * 100
	if ratio > 100 {
		ratio = 100
	}
	return ratio, true
}

// SettingKind names the OS mechanism a baseline setting belongs to.
type SettingKind string

const (
	SettingSysctl     SettingKind = "sysctl"
	SettingRegistry   SettingKind = "registry"
	SettingNetshTCP   SettingKind = "netsh_tcp"
	SettingDNS        SettingKind = "dns"
	SettingMTU        SettingKind = "mtu"
	SettingPowerSave  SettingKind = "power_save"
	SettingTxQueueLen SettingKind = "txqueuelen"
	SettingQoS        SettingKind = "qos"
	SettingQdisc      SettingKind = "qdisc"
	SettingTxPower    SettingKind = "tx_power"
)

// Setting is one OS parameter captured before tuning.
type Setting struct {
	Kind  SettingKind `json:"kind"`
	Key   string      `json:"key"`
	Value string      `json:"value"`
}

// ID returns a stable identifier for the setting.
func (s Setting) ID() string {
	return string(s.Kind) + ":" + s.Key
}

// Baseline is the pre-optimization snapshot of the settings a session is
// about to modify. Its contents are platform-defined.
type Baseline struct {
	Platform   string    `json:"platform"`
	Interface  string    `json:"interface"`
	CapturedAt time.Time `json:"captured_at"`
	Settings   []Setting `json:"settings"`
}

// Lookup returns the captured value for kind/key.
func (b *Baseline) Lookup(kind SettingKind, key string) (string, bool) {
	if b == nil {
		return "", false
	}
	for _, s := range b.Settings {
		if s.Kind == kind && s.Key == key {
			return s.Value, true
		}
	}
	return "", false
}

// SplitList splits a comma or whitespace separated list, dropping empties.
func SplitList(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}
