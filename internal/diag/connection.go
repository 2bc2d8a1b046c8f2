package diag

import (
	"strings"

	"github.com/vesaa/signalboost/internal/netinfo"
	"github.com/vesaa/signalboost/internal/profile"
)

var mobilePrefixes = []string{"wwan", "rmnet", "ppp", "usb", "cdc", "ccmni"}

// DetectConnectionType classifies iface. channel is the associated wireless
// channel, or 0 when unknown; an unknown channel on a wireless link is
// treated as 2.4 GHz.
func DetectConnectionType(iface netinfo.Interface, channel int) profile.ConnectionType {
	if iface.Name == "" {
		return profile.Unknown
	}
	if iface.IsWireless {
		if channel > 14 {
			return profile.WiFi5GHz
		}
		return profile.WiFi24GHz
	}
	name := strings.ToLower(iface.Name)
	for _, p := range mobilePrefixes {
		if strings.HasPrefix(name, p) {
			return profile.Mobile
		}
	}
	if strings.Contains(name, "cellular") || strings.Contains(name, "mobile") {
		return profile.Mobile
	}
	return profile.Ethernet
}
