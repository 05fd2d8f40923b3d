// Package config provides user configuration management for obmctl.
//
// This package manages a YAML-based configuration file that stores named
// OpenBMC targets (host, username and ports) and application preferences
// such as the state poll interval and the default wait budget.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/obmctl/config.yaml or $HOME/.config/obmctl/config.yaml
//   - macOS: $HOME/.config/obmctl/config.yaml
//   - Windows: %LOCALAPPDATA%\obmctl\config.yaml
//
// OBMCTL_CONFIG overrides the location.
//
// # Security
//
// IMPORTANT: This package NEVER stores BMC passwords. They are passed with
// --password, the OBMCTL_PASSWORD environment variable or an interactive
// prompt.
//
// # Usage Example
//
//	registry, err := config.LoadRegistry()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := registry.SetTarget("lab", &config.Target{Host: "10.0.0.5"}); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Save changes atomically
//	if err := registry.Save(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// The global registry uses sync.Once for safe initialization across goroutines.
// File operations are protected by a mutex to ensure atomic writes.
package config
