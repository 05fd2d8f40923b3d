package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/obmctl/internal/logging"
)

const (
	// ServiceType is the mDNS service type OpenBMC advertises for its REST API
	ServiceType = "_obmc_rest._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for discovery
	DefaultScanTimeout = 5 * time.Second

	// DefaultPort is the default HTTPS port of the REST API
	DefaultPort = 443
)

// Scanner handles mDNS BMC discovery
type Scanner struct {
	// Timeout is the maximum time to wait for advertisements
	Timeout time.Duration

	Logger *zap.Logger
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// collector accumulates BMCs from the browse goroutine, keyed by instance
type collector struct {
	mu   sync.Mutex
	bmcs map[string]*BMC
}

func (c *collector) add(b *BMC) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bmcs == nil {
		c.bmcs = make(map[string]*BMC)
	}
	c.bmcs[b.Instance+"/"+b.Hostname] = b
}

func (c *collector) list() []*BMC {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*BMC, 0, len(c.bmcs))
	for _, b := range c.bmcs {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Scan discovers all BMCs on the local network until the timeout or ctx
// ends. The result is ordered by name.
func (s *Scanner) Scan(ctx context.Context) ([]*BMC, error) {
	logger := logging.OrDefault(s.Logger)

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	var found collector

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			if bmc := parseServiceEntry(entry); bmc != nil {
				logger.Debug("Discovered BMC", zap.String("bmc", bmc.String()))
				found.add(bmc)
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	return found.list(), nil
}

// Find waits for the BMC advertising the given instance name
func (s *Scanner) Find(ctx context.Context, instance string) (*BMC, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	bmcChan := make(chan *BMC, 1)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			bmc := parseServiceEntry(entry)
			if bmc != nil && bmc.Instance == instance {
				select {
				case bmcChan <- bmc:
				default:
				}
				cancel()
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case bmc := <-bmcChan:
		return bmc, nil
	case <-ctx.Done():
		select {
		case bmc := <-bmcChan:
			return bmc, nil
		default:
		}
		return nil, fmt.Errorf("BMC %s not found within %s", instance, s.Timeout)
	}
}

// parseServiceEntry converts a zeroconf service entry to a BMC
// Returns nil if the entry carries no usable address
func parseServiceEntry(entry *zeroconf.ServiceEntry) *BMC {
	if entry == nil || entry.HostName == "" {
		return nil
	}

	// Get IP address (prefer IPv4)
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	// TXT records are in "key=value" format
	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}

	return &BMC{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// Discover is a convenience function to scan with a custom timeout
func Discover(ctx context.Context, timeout time.Duration, logger *zap.Logger) ([]*BMC, error) {
	scanner := NewScanner()
	scanner.Timeout = timeout
	scanner.Logger = logger
	return scanner.Scan(ctx)
}
