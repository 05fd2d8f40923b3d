package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestGetConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")

	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if !strings.Contains(configDir, "obmctl") {
		t.Errorf("GetConfigDir() = %v, should contain 'obmctl'", configDir)
	}

	switch runtime.GOOS {
	case "windows":
		if !strings.Contains(configDir, "AppData") && !strings.Contains(configDir, "Local") {
			t.Errorf("Windows config dir should contain 'AppData' or 'Local', got: %v", configDir)
		}
	case "darwin", "linux":
		if !strings.Contains(configDir, ".config") {
			t.Errorf("Unix config dir should contain '.config', got: %v", configDir)
		}
	}
}

func TestGetConfigDirHonoursXDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CONFIG_HOME is only consulted on Linux")
	}
	t.Setenv("XDG_CONFIG_HOME", "/srv/conf")

	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if configDir != filepath.Join("/srv/conf", "obmctl") {
		t.Errorf("GetConfigDir() = %v, want /srv/conf/obmctl", configDir)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(configEnvVar, "")

	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}

	t.Setenv(configEnvVar, "/tmp/elsewhere.yaml")
	configPath, err = GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if configPath != "/tmp/elsewhere.yaml" {
		t.Errorf("GetConfigPath() = %v, want override", configPath)
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()

	if reg.Version != 1 {
		t.Errorf("NewRegistry().Version = %v, want 1", reg.Version)
	}
	if reg.Targets == nil {
		t.Error("NewRegistry().Targets should not be nil")
	}
	if reg.Preferences == nil {
		t.Fatal("NewRegistry().Preferences should not be nil")
	}
	if reg.Preferences.PollIntervalDuration() != 5*time.Second {
		t.Errorf("PollIntervalDuration() = %v, want 5s", reg.Preferences.PollIntervalDuration())
	}
	if reg.Preferences.TimeoutDuration() != 10*time.Minute {
		t.Errorf("TimeoutDuration() = %v, want 10m", reg.Preferences.TimeoutDuration())
	}
	if reg.Preferences.ReconnectAttempts != 120 {
		t.Errorf("ReconnectAttempts = %v, want 120", reg.Preferences.ReconnectAttempts)
	}
}

func TestRegistrySetTarget(t *testing.T) {
	reg := NewRegistry()

	if err := reg.SetTarget("", &Target{Host: "x"}); err == nil {
		t.Error("SetTarget() with empty name should fail")
	}
	if err := reg.SetTarget("lab", &Target{}); err == nil {
		t.Error("SetTarget() without host should fail")
	}

	if err := reg.SetTarget("lab", &Target{Host: "10.0.0.5"}); err != nil {
		t.Fatalf("SetTarget() error = %v", err)
	}
	if err := reg.SetTarget("rack2", &Target{Host: "10.0.0.6"}); err != nil {
		t.Fatalf("SetTarget() error = %v", err)
	}

	if reg.Default != "lab" {
		t.Errorf("Default = %v, want first target 'lab'", reg.Default)
	}
	if got := reg.TargetNames(); len(got) != 2 || got[0] != "lab" || got[1] != "rack2" {
		t.Errorf("TargetNames() = %v, want [lab rack2]", got)
	}
}

func TestRegistryResolveTarget(t *testing.T) {
	reg := NewRegistry()

	if _, err := reg.ResolveTarget(""); err == nil {
		t.Error("ResolveTarget(\"\") on empty registry should fail")
	}

	_ = reg.SetTarget("lab", &Target{Host: "10.0.0.5"})
	_ = reg.SetTarget("rack2", &Target{Host: "10.0.0.6"})

	target, err := reg.ResolveTarget("")
	if err != nil {
		t.Fatalf("ResolveTarget(\"\") error = %v", err)
	}
	if target.Host != "10.0.0.5" {
		t.Errorf("default target host = %v, want 10.0.0.5", target.Host)
	}

	target, err = reg.ResolveTarget("rack2")
	if err != nil {
		t.Fatalf("ResolveTarget(rack2) error = %v", err)
	}
	if target.Host != "10.0.0.6" {
		t.Errorf("rack2 host = %v, want 10.0.0.6", target.Host)
	}

	if _, err := reg.ResolveTarget("missing"); err == nil {
		t.Error("ResolveTarget(missing) should fail")
	}
}

func TestRegistryRemoveTarget(t *testing.T) {
	reg := NewRegistry()
	_ = reg.SetTarget("lab", &Target{Host: "10.0.0.5"})

	if reg.RemoveTarget("missing") {
		t.Error("RemoveTarget(missing) should report false")
	}
	if !reg.RemoveTarget("lab") {
		t.Error("RemoveTarget(lab) should report true")
	}
	if reg.Default != "" {
		t.Errorf("Default = %v, should be cleared", reg.Default)
	}
}

func TestRegistryTouchTarget(t *testing.T) {
	reg := NewRegistry()
	_ = reg.SetTarget("lab", &Target{Host: "10.0.0.5"})

	before := time.Now()
	reg.TouchTarget("lab")
	after := time.Now()

	seen := reg.GetTarget("lab").LastSeen
	if seen.Before(before) || seen.After(after) {
		t.Errorf("LastSeen = %v, should be between %v and %v", seen, before, after)
	}

	// unknown targets are ignored
	reg.TouchTarget("missing")
}

func TestRegistrySaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	reg := NewRegistry()
	_ = reg.SetTarget("lab", &Target{Host: "10.0.0.5", Username: "admin", ConsolePort: 2201})
	reg.Preferences.DiscoverTimeout = 9

	if err := reg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.HasPrefix(string(data), "# obmctl Configuration File") {
		t.Error("saved file should start with the header comment")
	}
	if strings.Contains(strings.ToLower(string(data)), "password:") {
		t.Error("saved file must not contain a password")
	}

	loaded, err := LoadRegistryFrom(path)
	if err != nil {
		t.Fatalf("LoadRegistryFrom() error = %v", err)
	}

	target := loaded.GetTarget("lab")
	if target == nil {
		t.Fatal("target should exist in loaded registry")
	}
	if target.Username != "admin" || target.ConsolePort != 2201 {
		t.Errorf("loaded target = %+v", target)
	}
	if loaded.Default != "lab" {
		t.Errorf("loaded Default = %v, want lab", loaded.Default)
	}
	if loaded.Preferences.DiscoverTimeout != 9 {
		t.Errorf("loaded DiscoverTimeout = %v, want 9", loaded.Preferences.DiscoverTimeout)
	}
}

func TestLoadRegistryFromMissingFile(t *testing.T) {
	reg, err := LoadRegistryFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadRegistryFrom() error = %v", err)
	}
	if reg.Version != 1 || len(reg.Targets) != 0 {
		t.Errorf("missing file should give a default registry, got %+v", reg)
	}
}

func TestLoadRegistryFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `version: 1
targets:
  lab:
    host: 10.0.0.5
preferences:
  poll_interval: 2
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	reg, err := LoadRegistryFrom(path)
	if err != nil {
		t.Fatalf("LoadRegistryFrom() error = %v", err)
	}
	if reg.Preferences.PollInterval != 2 {
		t.Errorf("PollInterval = %v, want 2", reg.Preferences.PollInterval)
	}
	if reg.Preferences.DefaultTimeout != DefaultTimeoutSeconds {
		t.Errorf("DefaultTimeout = %v, want default", reg.Preferences.DefaultTimeout)
	}
}

func TestLoadRegistryRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unsupported version", "version: 2\n"},
		{"invalid yaml", "version: [\n"},
		{"dangling default", "version: 1\ndefault: ghost\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			if _, err := LoadRegistryFrom(path); err == nil {
				t.Error("LoadRegistryFrom() should fail")
			}
		})
	}
}

func BenchmarkGetConfigDir(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = GetConfigDir()
	}
}
