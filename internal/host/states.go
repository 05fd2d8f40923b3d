package host

import (
	"fmt"
	"strings"
)

const (
	powerStatePrefix = "xyz.openbmc_project.State.Chassis.PowerState."
	hostStatePrefix  = "xyz.openbmc_project.State.Host.HostState."
	hostTransPrefix  = "xyz.openbmc_project.State.Host.Transition."
	bmcStatePrefix   = "xyz.openbmc_project.State.BMC.BMCState."
	bmcTransPrefix   = "xyz.openbmc_project.State.BMC.Transition."
)

// PowerState is the chassis power state.
type PowerState int

const (
	PowerUnknown PowerState = iota
	PowerOff
	PowerOn
)

func (p PowerState) String() string {
	switch p {
	case PowerOff:
		return "Off"
	case PowerOn:
		return "On"
	default:
		return "Unknown"
	}
}

// DBus returns the D-Bus value, e.g. "xyz.openbmc_project.State.Chassis.PowerState.On".
func (p PowerState) DBus() string {
	return powerStatePrefix + p.String()
}

// ParsePowerState accepts the D-Bus value or its short name.
func ParsePowerState(s string) PowerState {
	switch strings.TrimPrefix(s, powerStatePrefix) {
	case "On":
		return PowerOn
	case "Off":
		return PowerOff
	default:
		return PowerUnknown
	}
}

// HostState is the host firmware/OS state.
type HostState int

const (
	HostUnknown HostState = iota
	HostOff
	HostRunning
	HostQuiesced
	HostDiagnosticMode
)

var hostStateNames = map[HostState]string{
	HostOff:            "Off",
	HostRunning:        "Running",
	HostQuiesced:       "Quiesced",
	HostDiagnosticMode: "DiagnosticMode",
}

func (h HostState) String() string {
	if name, ok := hostStateNames[h]; ok {
		return name
	}
	return "Unknown"
}

// ParseHostState accepts the D-Bus value or its short name.
func ParseHostState(s string) HostState {
	name := strings.TrimPrefix(s, hostStatePrefix)
	for h, n := range hostStateNames {
		if n == name {
			return h
		}
	}
	return HostUnknown
}

// Transition is a requested host power transition.
type Transition int

const (
	TransitionOn Transition = iota
	TransitionOff
	TransitionReboot
)

func (t Transition) String() string {
	switch t {
	case TransitionOn:
		return "On"
	case TransitionOff:
		return "Off"
	case TransitionReboot:
		return "Reboot"
	default:
		return fmt.Sprintf("Transition(%d)", int(t))
	}
}

// DBus returns the D-Bus value, e.g. "xyz.openbmc_project.State.Host.Transition.On".
func (t Transition) DBus() string {
	return hostTransPrefix + t.String()
}

// BMCState is the state of the BMC itself.
type BMCState int

const (
	BMCUnknown BMCState = iota
	BMCNotReady
	BMCReady
)

func (b BMCState) String() string {
	switch b {
	case BMCNotReady:
		return "NotReady"
	case BMCReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

// ParseBMCState accepts the D-Bus value or its short name.
func ParseBMCState(s string) BMCState {
	switch strings.TrimPrefix(s, bmcStatePrefix) {
	case "Ready":
		return BMCReady
	case "NotReady":
		return BMCNotReady
	default:
		return BMCUnknown
	}
}

// Legacy BootProgress sensor values.
const (
	BootProgressOff        = "Off"
	BootProgressStartingOS = "FW Progress, Starting OS"
)
