package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/obmctl/internal/logging"
	"github.com/muurk/obmctl/internal/rest"
	"github.com/muurk/obmctl/internal/wait"
)

const (
	hostTransitionPath = "/xyz/openbmc_project/state/host0/attr/RequestedHostTransition"
	hostStatePath      = "/xyz/openbmc_project/state/host0/attr/CurrentHostState"
	powerStatePath     = "/xyz/openbmc_project/state/chassis0/attr/CurrentPowerState"
	chassisPathFmt     = "/xyz/openbmc_project/state/chassis%d"
	bmcStatePath       = "/xyz/openbmc_project/state/bmc0/attr/CurrentBMCState"
	bmcTransitionPath  = "/xyz/openbmc_project/state/bmc0/attr/RequestedBMCTransition"
	bootProgressPath   = "/org/openbmc/sensors/host/BootProgress"
	softPowerOffPath   = "/org/openbmc/control/chassis0/action/softPowerOff"
	bootFlagsPath      = "/org/openbmc/settings/host0/attr/boot_flags"
	inventoryPath      = "/xyz/openbmc_project/inventory/enumerate"
	sensorsPath        = "/xyz/openbmc_project/sensors/enumerate"

	// DefaultTimeout bounds the state waits.
	DefaultTimeout = 10 * time.Minute
)

// API is the part of the session client host management needs.
type API interface {
	Login(ctx context.Context) error
	Get(ctx context.Context, path string, out any) error
	Put(ctx context.Context, path string, value any) error
	Post(ctx context.Context, path string, args ...any) (*rest.Response, error)
	Enumerate(ctx context.Context, path string) (map[string]json.RawMessage, error)
}

// DialFunc opens a network connection. net.Dialer.DialContext fits.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Manager controls host power and watches host and BMC state through the
// BMC REST API.
type Manager struct {
	api    API
	waiter *wait.Waiter
	logger *zap.Logger

	// Host and Port locate the BMC REST server; ResetBMC dials them to
	// see when the BMC is back.
	Host string
	Port int

	// Dial defaults to a net.Dialer with a 5s timeout.
	Dial DialFunc

	// ResetSettle is slept after requesting a BMC reboot, before probing
	// for reachability. ReachableSettle is slept once it answers again.
	ResetSettle     time.Duration
	ReachableSettle time.Duration
}

// NewManager creates a Manager for the BMC at host:port. A nil waiter
// polls every 5s on the real clock.
func NewManager(api API, host string, port int, waiter *wait.Waiter, logger *zap.Logger) *Manager {
	logger = logging.OrDefault(logger)
	if waiter == nil {
		waiter = wait.NewWaiter(logger)
	}
	if port == 0 {
		port = rest.DefaultPort
	}
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return &Manager{
		api:             api,
		waiter:          waiter,
		logger:          logger,
		Host:            host,
		Port:            port,
		Dial:            dialer.DialContext,
		ResetSettle:     10 * time.Second,
		ReachableSettle: 5 * time.Second,
	}
}

func (m *Manager) requestTransition(ctx context.Context, t Transition) error {
	m.logger.Info("Requesting host transition", zap.Stringer("transition", t))
	return m.api.Put(ctx, hostTransitionPath, t.DBus())
}

// PowerOn requests the host to power on.
func (m *Manager) PowerOn(ctx context.Context) error {
	return m.requestTransition(ctx, TransitionOn)
}

// PowerOff requests the host to power off.
func (m *Manager) PowerOff(ctx context.Context) error {
	return m.requestTransition(ctx, TransitionOff)
}

// SoftReboot requests a graceful host reboot.
func (m *Manager) SoftReboot(ctx context.Context) error {
	return m.requestTransition(ctx, TransitionReboot)
}

// HardReboot requests an immediate host reboot. The phosphor host state
// manager exposes a single reboot transition, so this is the same request
// as SoftReboot.
func (m *Manager) HardReboot(ctx context.Context) error {
	return m.requestTransition(ctx, TransitionReboot)
}

// PowerSoft invokes the legacy soft power off action.
func (m *Manager) PowerSoft(ctx context.Context) error {
	_, err := m.api.Post(ctx, softPowerOffPath)
	return err
}

// PowerState reads the chassis power state.
func (m *Manager) PowerState(ctx context.Context) (PowerState, error) {
	var s string
	if err := m.api.Get(ctx, powerStatePath, &s); err != nil {
		return PowerUnknown, err
	}
	return ParsePowerState(s), nil
}

// HostState reads the host state.
func (m *Manager) HostState(ctx context.Context) (HostState, error) {
	var s string
	if err := m.api.Get(ctx, hostStatePath, &s); err != nil {
		return HostUnknown, err
	}
	return ParseHostState(s), nil
}

// ChassisState reads CurrentPowerState from the chassis object. Firmware
// without the attribute, or without the object, returns
// wait.ErrUnsupported.
func (m *Manager) ChassisState(ctx context.Context, chassis int) (PowerState, error) {
	var obj map[string]json.RawMessage
	err := m.api.Get(ctx, fmt.Sprintf(chassisPathFmt, chassis), &obj)
	if rest.IsNotFound(err) {
		return PowerUnknown, fmt.Errorf("chassis%d: %w", chassis, wait.ErrUnsupported)
	}
	if err != nil {
		return PowerUnknown, err
	}

	raw, ok := obj["CurrentPowerState"]
	if !ok {
		return PowerUnknown, fmt.Errorf("chassis%d has no CurrentPowerState: %w", chassis, wait.ErrUnsupported)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return PowerUnknown, fmt.Errorf("chassis%d CurrentPowerState: %w", chassis, err)
	}
	return ParsePowerState(s), nil
}

// WaitForChassisState waits for chassis 0 to reach target. It returns
// wait.Unsupported on firmware without the chassis state object.
func (m *Manager) WaitForChassisState(ctx context.Context, target PowerState, timeout time.Duration) (wait.Outcome, error) {
	poll := wait.Poll[PowerState]{
		Target:   target,
		Describe: "chassis power state " + target.DBus(),
		Read:     func(ctx context.Context) (PowerState, error) { return m.ChassisState(ctx, 0) },
	}
	return poll.Run(ctx, m.waiter, timeout)
}

// BootProgress reads the legacy BootProgress sensor.
func (m *Manager) BootProgress(ctx context.Context) (string, error) {
	var sensor struct {
		Value string `json:"value"`
	}
	err := m.api.Get(ctx, bootProgressPath, &sensor)
	if rest.IsNotFound(err) {
		return "", fmt.Errorf("BootProgress: %w", wait.ErrUnsupported)
	}
	return sensor.Value, err
}

// waitForBootProgress polls the legacy sensor. Progress values other than
// target keep the poll going.
func (m *Manager) waitForBootProgress(ctx context.Context, target string, timeout time.Duration) (wait.Outcome, error) {
	poll := wait.Poll[string]{
		Target:   target,
		Describe: fmt.Sprintf("BootProgress %q", target),
		Read:     m.BootProgress,
	}
	return poll.Run(ctx, m.waiter, timeout)
}

// WaitForStandby waits for the host to be powered off, falling back to the
// legacy BootProgress sensor on older firmware.
func (m *Manager) WaitForStandby(ctx context.Context, timeout time.Duration) error {
	return m.waitWithFallback(ctx, PowerOff, BootProgressOff, timeout)
}

// WaitForRuntime waits for the host to be powered on, falling back to the
// legacy BootProgress sensor on older firmware.
func (m *Manager) WaitForRuntime(ctx context.Context, timeout time.Duration) error {
	return m.waitWithFallback(ctx, PowerOn, BootProgressStartingOS, timeout)
}

func (m *Manager) waitWithFallback(ctx context.Context, state PowerState, progress string, timeout time.Duration) error {
	_, err := wait.FirstSupported(ctx,
		func(ctx context.Context) (wait.Outcome, error) {
			return m.WaitForChassisState(ctx, state, timeout)
		},
		func(ctx context.Context) (wait.Outcome, error) {
			m.logger.Info("Chassis state unsupported, falling back to BootProgress")
			return m.waitForBootProgress(ctx, progress, timeout)
		},
	)
	return err
}

// BMCState reads the BMC state.
func (m *Manager) BMCState(ctx context.Context) (BMCState, error) {
	var s string
	if err := m.api.Get(ctx, bmcStatePath, &s); err != nil {
		return BMCUnknown, err
	}
	return ParseBMCState(s), nil
}

// WaitForBMCRuntime waits for the BMC to report Ready. Errors are
// tolerated while it reboots; an expired session is re-established by the
// client on the next read.
func (m *Manager) WaitForBMCRuntime(ctx context.Context, timeout time.Duration) error {
	poll := wait.Poll[BMCState]{
		Target:         BMCReady,
		Describe:       "BMC state Ready",
		Read:           m.BMCState,
		TolerateErrors: true,
	}
	if _, err := poll.Run(ctx, m.waiter, timeout); err != nil {
		return err
	}
	m.logger.Info("BMC is up and ready")
	return nil
}

// WaitReachable waits until the BMC accepts TCP connections on its REST
// port.
func (m *Manager) WaitReachable(ctx context.Context, timeout time.Duration) error {
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	poll := wait.Poll[bool]{
		Target:   true,
		Describe: "BMC reachable at " + addr,
		Read: func(ctx context.Context) (bool, error) {
			conn, err := m.Dial(ctx, "tcp", addr)
			if err != nil {
				m.logger.Debug("BMC not reachable yet", zap.String("addr", addr), zap.Error(err))
				return false, nil
			}
			conn.Close()
			return true, nil
		},
	}
	_, err := poll.Run(ctx, m.waiter, timeout)
	return err
}

// ResetBMC reboots the BMC and waits until it is reachable, logged in and
// Ready again.
func (m *Manager) ResetBMC(ctx context.Context, timeout time.Duration) error {
	m.logger.Info("Requesting BMC reboot")
	if err := m.api.Put(ctx, bmcTransitionPath, bmcTransPrefix+"Reboot"); err != nil {
		return err
	}

	if err := m.waiter.Sleep(ctx, m.ResetSettle); err != nil {
		return err
	}
	if err := m.WaitReachable(ctx, timeout); err != nil {
		return err
	}
	if err := m.waiter.Sleep(ctx, m.ReachableSettle); err != nil {
		return err
	}

	if err := m.api.Login(ctx); err != nil {
		return fmt.Errorf("login after BMC reset failed: %w", err)
	}
	return m.WaitForBMCRuntime(ctx, timeout)
}

// SetBootDevSetup makes the host boot into firmware setup.
func (m *Manager) SetBootDevSetup(ctx context.Context) error {
	return m.api.Put(ctx, bootFlagsPath, "Setup")
}

// SetBootDevDefault restores the default boot device.
func (m *Manager) SetBootDevDefault(ctx context.Context) error {
	return m.api.Put(ctx, bootFlagsPath, "Default")
}

// Inventory returns the inventory objects keyed by D-Bus path.
func (m *Manager) Inventory(ctx context.Context) (map[string]json.RawMessage, error) {
	return m.api.Enumerate(ctx, inventoryPath)
}

// IsUnsupported reports whether err means a state source is missing.
func IsUnsupported(err error) bool {
	return errors.Is(err, wait.ErrUnsupported) || errors.Is(err, wait.ErrNoStateSource)
}
