package discovery

import "testing"

func TestBMC_String(t *testing.T) {
	bmc := &BMC{
		Instance: "witherspoon",
		Hostname: "witherspoon.local.",
		IP:       "192.168.4.16",
		Port:     443,
	}

	expected := "OpenBMC witherspoon (witherspoon.local.) at 192.168.4.16:443"
	if bmc.String() != expected {
		t.Errorf("BMC.String() = %v, want %v", bmc.String(), expected)
	}

	v6 := &BMC{Instance: "p9", Hostname: "p9.local.", IP: "fe80::1", Port: 443}
	if v6.String() != "OpenBMC p9 (p9.local.) at [fe80::1]:443" {
		t.Errorf("BMC.String() = %v", v6.String())
	}
}

func TestBMC_Name(t *testing.T) {
	tests := []struct {
		name     string
		bmc      *BMC
		expected string
	}{
		{"instance", &BMC{Instance: "witherspoon", Hostname: "bmc-1.local."}, "witherspoon"},
		{"hostname fallback", &BMC{Hostname: "bmc-1.local."}, "bmc-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.bmc.Name(); got != tt.expected {
				t.Errorf("BMC.Name() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBMC_GetMetadata(t *testing.T) {
	bmc := &BMC{Metadata: map[string]string{"path": "/"}}
	if got := bmc.GetMetadata("path"); got != "/" {
		t.Errorf("GetMetadata(path) = %v, want /", got)
	}
	if got := bmc.GetMetadata("missing"); got != "" {
		t.Errorf("GetMetadata(missing) = %v, want empty", got)
	}
	if got := (&BMC{}).GetMetadata("path"); got != "" {
		t.Errorf("GetMetadata on nil metadata = %v, want empty", got)
	}
}
