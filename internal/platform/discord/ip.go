package discord

import (
	"net"

	"panelbot/internal/audit"
)

// ValidIP reports whether s parses as an IPv4 or IPv6 address. Useful for
// sanitizing addresses arriving from the panel API layer.
func ValidIP(s string) bool {
	return net.ParseIP(s) != nil
}

// UserSourceIP returns the opaque marker recorded for interaction events.
// The platform never exposes caller addresses.
func UserSourceIP() string {
	return audit.SourceIPHidden
}
