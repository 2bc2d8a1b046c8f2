// Package profile resolves optimization profiles: per-level parameter tables,
// connection-specific settings, user overrides and feature flags.
package profile

import (
	"fmt"
	"strings"
)

// Level is an ordered optimization intensity.
type Level int

const (
	Light Level = iota
	Standard
	Aggressive
	Extreme
)

// Levels lists every level in ascending order.
var Levels = []Level{Light, Standard, Aggressive, Extreme}

var levelNames = [...]string{"light", "standard", "aggressive", "extreme"}

func (l Level) String() string {
	if l < Light || l > Extreme {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// Valid reports whether l is one of the four defined levels.
func (l Level) Valid() bool { return l >= Light && l <= Extreme }

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid optimization level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// ParseLevel converts a level name (case-insensitive).
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("unknown optimization level %q (want light, standard, aggressive or extreme)", s)
}

// ConnectionType classifies the active link.
type ConnectionType string

const (
	WiFi24GHz ConnectionType = "wifi_2ghz"
	WiFi5GHz  ConnectionType = "wifi_5ghz"
	Ethernet  ConnectionType = "ethernet"
	Mobile    ConnectionType = "mobile"
	Unknown   ConnectionType = "unknown"
)

// ParseConnectionType converts a name; empty input yields Unknown.
func ParseConnectionType(s string) (ConnectionType, error) {
	switch c := ConnectionType(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return Unknown, nil
	case WiFi24GHz, WiFi5GHz, Ethernet, Mobile, Unknown:
		return c, nil
	}
	return Unknown, fmt.Errorf("unknown connection type %q", s)
}

// Wireless reports whether c is a Wi-Fi link.
func (c ConnectionType) Wireless() bool {
	return c == WiFi24GHz || c == WiFi5GHz
}
