package profile

// Features are the level-derived feature switches. A higher level enables a
// superset of the switches of every lower level.
type Features struct {
	DeepPacketAnalysis   bool `json:"deep_packet_inspection"`
	BandwidthShaping     bool `json:"bandwidth_control"`
	PacketPrioritization bool `json:"packet_prioritization"`
	DNSPrefetch          bool `json:"dns_prefetching"`
	ChannelAutoSwitch    bool `json:"channel_switching"`
}

// FeatureOverrides holds caller-supplied switches; a nil field keeps the
// level default.
type FeatureOverrides struct {
	DeepPacketAnalysis   *bool `json:"deep_packet_inspection,omitempty" yaml:"deep_packet_inspection"`
	BandwidthShaping     *bool `json:"bandwidth_control,omitempty" yaml:"bandwidth_control"`
	PacketPrioritization *bool `json:"packet_prioritization,omitempty" yaml:"packet_prioritization"`
	DNSPrefetch          *bool `json:"dns_prefetching,omitempty" yaml:"dns_prefetching"`
	ChannelAutoSwitch    *bool `json:"channel_switching,omitempty" yaml:"channel_switching"`
}

// FeaturesFor derives the default switches for level.
func FeaturesFor(level Level) Features {
	return Features{
		DNSPrefetch:          level >= Light,
		ChannelAutoSwitch:    level >= Light,
		BandwidthShaping:     level >= Standard,
		PacketPrioritization: level >= Standard,
		DeepPacketAnalysis:   level >= Aggressive,
	}
}

// With applies o on top of f; overrides always win.
func (f Features) With(o FeatureOverrides) Features {
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&f.DeepPacketAnalysis, o.DeepPacketAnalysis)
	set(&f.BandwidthShaping, o.BandwidthShaping)
	set(&f.PacketPrioritization, o.PacketPrioritization)
	set(&f.DNSPrefetch, o.DNSPrefetch)
	set(&f.ChannelAutoSwitch, o.ChannelAutoSwitch)
	return f
}

// Map returns the switches keyed by their external names.
func (f Features) Map() map[string]bool {
	return map[string]bool{
		"deep_packet_inspection": f.DeepPacketAnalysis,
		"bandwidth_control":      f.BandwidthShaping,
		"packet_prioritization":  f.PacketPrioritization,
		"dns_prefetching":        f.DNSPrefetch,
		"channel_switching":      f.ChannelAutoSwitch,
	}
}
