// Package search discovers link parameters by probing: the largest MTU that
// passes unfragmented, and the least congested wireless channel.
package search

import "context"

// MTU search bounds. Sizes are full IP packet sizes; probes subtract
// HeaderOverhead (IPv4 + ICMP headers) to get the echo payload.
const (
	MinMTU         = 1200
	MaxMTU         = 1500
	HeaderOverhead = 28
	MTUTolerance   = 8
)

// Prober sends one don't-fragment probe of size bytes to target. Transient
// loss is the prober's concern; a false result is taken as "too large".
type Prober interface {
	ProbeMTU(ctx context.Context, target string, size int) bool
}

// MTUResult is the outcome of FindOptimalMTU.
type MTUResult struct {
	MTU    int `json:"mtu"`
	Probes int `json:"probes"`
}

// FindOptimalMTU returns the largest packet size in [MinMTU, MaxMTU] known to
// reach target. MaxMTU is tried first; otherwise a binary search keeps low
// as the last deliverable size and high as the last failing one, stopping
// once they are within MTUTolerance. MinMTU is assumed deliverable.
func FindOptimalMTU(ctx context.Context, p Prober, target string) MTUResult {
	var probes int
	probe := func(size int) bool {
		probes++
		return p.ProbeMTU(ctx, target, size)
	}

	if probe(MaxMTU) {
		return MTUResult{MTU: MaxMTU, Probes: probes}
	}

	low, high := MinMTU, MaxMTU
	for high-low > MTUTolerance {
		if ctx.Err() != nil {
			break
		}
		mid := (low + high) / 2
		if probe(mid) {
			low = mid
		} else {
			high = mid
		}
	}
	return MTUResult{MTU: low, Probes: probes}
}
