package netinfo

import "math"

// Quality thresholds for the per-snapshot issue list.
const (
	HighLatencyMs = 100.0
	HighJitterMs  = 20.0
	LossIssuePct  = 1.0
)

// Quality scores a latency sample out of 100: 40 points for latency, 30 for
// jitter and 30 for packet loss. A zero Latency (failed probe) scores 0 and
// is rated "Unknown".
func Quality(l Latency) (score int, rating string, issues []string) {
	if l == (Latency{}) {
		return 0, "Unknown", []string{"Latency probe failed"}
	}
	latencyPts := math.Max(0, 40-l.Avg/5)
	jitterPts := math.Max(0, 30-l.Jitter*0.6)
	lossPts := math.Max(0, 30-l.Loss*3)
	score = int(math.Round(latencyPts + jitterPts + lossPts))

	switch {
	case score >= 90:
		rating = "Excellent"
	case score >= 70:
		rating = "Good"
	case score >= 50:
		rating = "Fair"
	case score >= 30:
		rating = "Poor"
	default:
		rating = "Very Poor"
	}

	if l.Avg > HighLatencyMs {
		issues = append(issues, "High latency")
	}
	if l.Jitter > HighJitterMs {
		issues = append(issues, "High jitter/instability")
	}
	if l.Loss > LossIssuePct {
		issues = append(issues, "Packet loss detected")
	}
	return score, rating, issues
}

// SignalText renders a signal percentage as a human rating.
func SignalText(signal int) string {
	switch {
	case signal == SignalNotApplicable:
		return "N/A"
	case signal >= 75:
		return "Excellent"
	case signal >= 50:
		return "Good"
	case signal >= 30:
		return "Fair"
	default:
		return "Poor"
	}
}
