package profile

// Group names.
const (
	GroupTCP        = "tcp"
	GroupWiFi       = "wifi"
	GroupDNS        = "dns"
	GroupQoS        = "qos"
	GroupBuffer     = "buffer"
	GroupConnection = "connection_specific"
)

// levelTable returns a fresh copy of the static parameters for level. Each
// level carries every key of the level below with a magnitude at least as
// large.
func levelTable(level Level) Params {
	switch level {
	case Light:
		return Params{
			GroupTCP: Params{
				"window_size":        65535,
				"max_syn_backlog":    2048,
				"congestion_control": "cubic",
				"window_scaling":     1,
			},
			GroupWiFi: Params{
				"power_save": "off",
				"tx_power":   "auto",
			},
			GroupDNS: Params{
				"nameservers": []string{"8.8.8.8", "8.8.4.4"},
				"cache_size":  512,
			},
			GroupQoS: Params{
				"enabled": false,
			},
			GroupBuffer: Params{
				"txqueuelen": 1000,
			},
		}
	case Standard:
		return Params{
			GroupTCP: Params{
				"window_size":        131072,
				"max_syn_backlog":    4096,
				"congestion_control": "cubic",
				"window_scaling":     1,
				"fastopen":           1,
			},
			GroupWiFi: Params{
				"power_save": "off",
				"tx_power":   "auto",
			},
			GroupDNS: Params{
				"nameservers": []string{"1.1.1.1", "1.0.0.1"},
				"cache_size":  1024,
			},
			GroupQoS: Params{
				"enabled":        true,
				"prioritize_ack": true,
			},
			GroupBuffer: Params{
				"txqueuelen":         2000,
				"netdev_max_backlog": 2000,
			},
		}
	case Aggressive:
		return Params{
			GroupTCP: Params{
				"window_size":           262144,
				"max_syn_backlog":       8192,
				"congestion_control":    "bbr",
				"window_scaling":        1,
				"fastopen":              3,
				"slow_start_after_idle": 0,
			},
			GroupWiFi: Params{
				"power_save": "off",
				"tx_power":   "max",
			},
			GroupDNS: Params{
				"nameservers": []string{"9.9.9.9", "149.112.112.112"},
				"cache_size":  2048,
				"cache_ttl":   3600,
			},
			GroupQoS: Params{
				"enabled":         true,
				"prioritize_ack":  true,
				"prioritize_dns":  true,
				"priority_ports":  []int{80, 443},
				"traffic_shaping": true,
			},
			GroupBuffer: Params{
				"txqueuelen":         5000,
				"netdev_max_backlog": 5000,
				"socket_buffer":      12582912,
			},
		}
	case Extreme:
		return Params{
			GroupTCP: Params{
				"window_size":           524288,
				"max_syn_backlog":       16384,
				"congestion_control":    "bbr",
				"window_scaling":        1,
				"fastopen":              3,
				"slow_start_after_idle": 0,
				"rmem":                  []int{4096, 131072, 6291456},
				"wmem":                  []int{4096, 16384, 4194304},
			},
			GroupWiFi: Params{
				"power_save": "off",
				"tx_power":   "max",
			},
			GroupDNS: Params{
				"nameservers": []string{"1.1.1.1", "8.8.8.8"},
				"cache_size":  4096,
				"cache_ttl":   7200,
				"prefetch":    true,
			},
			GroupQoS: Params{
				"enabled":                 true,
				"prioritize_ack":          true,
				"prioritize_dns":          true,
				"priority_ports":          []int{80, 443, 53, 123},
				"traffic_shaping":         true,
				"buffer_bloat_mitigation": true,
			},
			GroupBuffer: Params{
				"txqueuelen":          10000,
				"netdev_max_backlog":  10000,
				"socket_buffer":       25165824,
				"tcp_moderate_rcvbuf": 0,
			},
		}
	}
	return Params{}
}

func connectionTable(conn ConnectionType) Params {
	switch conn {
	case WiFi24GHz:
		return Params{"channel_selection": "auto", "band_steering": false}
	case WiFi5GHz:
		return Params{"channel_selection": "auto", "band_steering": true, "beamforming": true}
	case Ethernet:
		return Params{"jumbo_frames": false, "flow_control": true}
	case Mobile:
		return Params{"data_saver": false, "tcp_delayed_ack": false}
	}
	return Params{}
}
