package config

import (
	"fmt"
	"sort"
	"time"
)

// Registry represents the entire user configuration file.
// It stores named BMC targets and application preferences.
type Registry struct {
	Version     int                `yaml:"version"`
	Targets     map[string]*Target `yaml:"targets,omitempty"` // Keyed by target name
	Default     string             `yaml:"default,omitempty"` // Target used when none is named
	Preferences *Preferences       `yaml:"preferences,omitempty"`
}

// Target describes how to reach one BMC.
// Note: Passwords are NEVER stored - they come from a flag, the environment or a prompt.
type Target struct {
	Host        string    `yaml:"host"`                   // BMC hostname or IP address
	Username    string    `yaml:"username,omitempty"`     // Login user, defaults to root
	RESTPort    int       `yaml:"rest_port,omitempty"`    // HTTPS port of the REST API
	ConsolePort int       `yaml:"console_port,omitempty"` // SSH port of the host console
	SSHPort     int       `yaml:"ssh_port,omitempty"`     // SSH port of the BMC shell
	LastSeen    time.Time `yaml:"last_seen,omitempty"`    // Last discovery/connection time
}

// Preferences represents application-wide user preferences.
type Preferences struct {
	PollInterval      int `yaml:"poll_interval"`      // Seconds between state reads
	DefaultTimeout    int `yaml:"default_timeout"`    // State wait budget in seconds
	ReconnectAttempts int `yaml:"reconnect_attempts"` // Console reconnects tolerated
	DiscoverTimeout   int `yaml:"discover_timeout"`   // mDNS discovery timeout in seconds
}

// Default preference values.
const (
	DefaultPollInterval      = 5
	DefaultTimeoutSeconds    = 600
	DefaultReconnectAttempts = 120
	DefaultDiscoverTimeout   = 5
)

func defaultPreferences() *Preferences {
	return &Preferences{
		PollInterval:      DefaultPollInterval,
		DefaultTimeout:    DefaultTimeoutSeconds,
		ReconnectAttempts: DefaultReconnectAttempts,
		DiscoverTimeout:   DefaultDiscoverTimeout,
	}
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:     1,
		Targets:     make(map[string]*Target),
		Preferences: defaultPreferences(),
	}
}

// PollIntervalDuration returns the poll interval as a duration.
func (p *Preferences) PollIntervalDuration() time.Duration {
	return time.Duration(p.PollInterval) * time.Second
}

// TimeoutDuration returns the default wait budget as a duration.
func (p *Preferences) TimeoutDuration() time.Duration {
	return time.Duration(p.DefaultTimeout) * time.Second
}

// DiscoverTimeoutDuration returns the discovery timeout as a duration.
func (p *Preferences) DiscoverTimeoutDuration() time.Duration {
	return time.Duration(p.DiscoverTimeout) * time.Second
}

// GetTarget retrieves a target by name.
// Returns nil if the target doesn't exist in the registry.
func (r *Registry) GetTarget(name string) *Target {
	return r.Targets[name]
}

// ResolveTarget returns the named target, or the default one when name is
// empty.
func (r *Registry) ResolveTarget(name string) (*Target, error) {
	if name == "" {
		name = r.Default
	}
	if name == "" {
		return nil, fmt.Errorf("no target named and no default target configured")
	}
	t := r.Targets[name]
	if t == nil {
		return nil, fmt.Errorf("unknown target %q", name)
	}
	return t, nil
}

// SetTarget adds or replaces a target. The first target added becomes the
// default.
func (r *Registry) SetTarget(name string, t *Target) error {
	if name == "" {
		return fmt.Errorf("target name must not be empty")
	}
	if t == nil || t.Host == "" {
		return fmt.Errorf("target %q needs a host", name)
	}
	if r.Targets == nil {
		r.Targets = make(map[string]*Target)
	}
	r.Targets[name] = t
	if r.Default == "" {
		r.Default = name
	}
	return nil
}

// RemoveTarget deletes a target. Removing the default clears it.
func (r *Registry) RemoveTarget(name string) bool {
	if _, ok := r.Targets[name]; !ok {
		return false
	}
	delete(r.Targets, name)
	if r.Default == name {
		r.Default = ""
	}
	return true
}

// TargetNames returns the target names in sorted order.
func (r *Registry) TargetNames() []string {
	names := make([]string, 0, len(r.Targets))
	for name := range r.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TouchTarget updates the last seen timestamp of a target.
func (r *Registry) TouchTarget(name string) {
	if t := r.Targets[name]; t != nil {
		t.LastSeen = time.Now()
	}
}

func (p *Preferences) fillDefaults() {
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.DefaultTimeout <= 0 {
		p.DefaultTimeout = DefaultTimeoutSeconds
	}
	if p.ReconnectAttempts <= 0 {
		p.ReconnectAttempts = DefaultReconnectAttempts
	}
	if p.DiscoverTimeout <= 0 {
		p.DiscoverTimeout = DefaultDiscoverTimeout
	}
}
