package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// BMC represents an OpenBMC found advertising its REST API on the network
type BMC struct {
	// Instance is the mDNS service instance name (e.g., "witherspoon")
	Instance string

	// Hostname is the mDNS hostname (e.g., "witherspoon.local.")
	Hostname string

	// IP is the preferred address, IPv4 when one is advertised
	IP string

	// Port is the HTTPS port of the REST API (typically 443)
	Port int

	// Metadata contains additional mDNS TXT record data
	Metadata map[string]string

	// DiscoveredAt is when the BMC was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the BMC
func (b *BMC) String() string {
	return fmt.Sprintf("OpenBMC %s (%s) at %s", b.Instance, b.Hostname, net.JoinHostPort(b.IP, strconv.Itoa(b.Port)))
}

// Name returns a target name for the BMC: the instance name, or the
// hostname without its domain when the instance is empty
func (b *BMC) Name() string {
	if b.Instance != "" {
		return b.Instance
	}
	name, _, _ := strings.Cut(b.Hostname, ".")
	return name
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (b *BMC) GetMetadata(key string) string {
	if b.Metadata == nil {
		return ""
	}
	return b.Metadata[key]
}
