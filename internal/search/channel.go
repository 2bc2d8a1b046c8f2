package search

import "github.com/vesaa/signalboost/internal/netinfo"

// Channel defaults when a scan yields nothing usable.
const (
	DefaultChannel     = 6
	DefaultChannel5GHz = 36
)

// preferred lists the non-overlapping 2.4 GHz channels in tie-break order.
var preferred = []int{1, 6, 11}

// Channels5GHz are the non-DFS 5 GHz candidates.
var Channels5GHz = []int{36, 40, 44, 48, 149, 153, 157, 161, 165}

// ChannelScores returns the weighted congestion count of 2.4 GHz channels
// 1–11. A network on the same channel counts 1.0, one or two channels away
// 0.5, further away nothing.
func ChannelScores(nets []netinfo.WirelessNetwork) map[int]float64 {
	scores := make(map[int]float64, 11)
	for ch := 1; ch <= 11; ch++ {
		scores[ch] = 0
	}
	for _, n := range nets {
		if !netinfo.Is24GHz(n.Channel) {
			continue
		}
		for ch := 1; ch <= 11; ch++ {
			switch dist := abs(ch - n.Channel); {
			case dist == 0:
				scores[ch] += 1.0
			case dist <= 2:
				scores[ch] += 0.5
			}
		}
	}
	return scores
}

// BestChannel picks the 2.4 GHz channel with the lowest weighted count. Ties
// go to 1, then 6, then 11, then the lowest channel number. Without any
// 2.4 GHz scan data it returns DefaultChannel.
func BestChannel(nets []netinfo.WirelessNetwork) int {
	if !any24(nets) {
		return DefaultChannel
	}
	scores := ChannelScores(nets)

	best := 0
	for ch := 1; ch <= 11; ch++ {
		if best == 0 || scores[ch] < scores[best] {
			best = ch
		}
	}
	for _, ch := range preferred {
		if scores[ch] == scores[best] {
			return ch
		}
	}
	return best
}

// BestChannel5GHz picks the non-DFS 5 GHz channel with the fewest networks
// on it, preferring the lower channel on ties.
func BestChannel5GHz(nets []netinfo.WirelessNetwork) int {
	counts := make(map[int]int)
	seen := false
	for _, n := range nets {
		if n.Channel >= 36 {
			counts[n.Channel]++
			seen = true
		}
	}
	if !seen {
		return DefaultChannel5GHz
	}
	best := Channels5GHz[0]
	for _, ch := range Channels5GHz[1:] {
		if counts[ch] < counts[best] {
			best = ch
		}
	}
	return best
}

// CoChannelCount returns the number of networks on channel.
func CoChannelCount(nets []netinfo.WirelessNetwork, channel int) int {
	n := 0
	for _, w := range nets {
		if w.Channel == channel {
			n++
		}
	}
	return n
}

func any24(nets []netinfo.WirelessNetwork) bool {
	for _, n := range nets {
		if netinfo.Is24GHz(n.Channel) {
			return true
		}
	}
	return false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
