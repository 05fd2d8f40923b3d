package optest

import (
	"context"
	"fmt"
	"net"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/obmctl/internal/console"
	"github.com/muurk/obmctl/internal/firmware"
	"github.com/muurk/obmctl/internal/host"
	"github.com/muurk/obmctl/internal/logging"
	"github.com/muurk/obmctl/internal/rest"
	"github.com/muurk/obmctl/internal/wait"
)

const (
	// DefaultSSHPort reaches the BMC's own shell.
	DefaultSSHPort = 22

	// RemoteDir receives transferred images on the BMC.
	RemoteDir = "/tmp"

	pnorDir      = "/usr/local/share/pnor"
	flashTimeout = 30 * time.Minute
	shellTimeout = 2 * time.Minute
	rebootSettle = 10 * time.Second
)

// Config locates a BMC and its credentials.
type Config struct {
	Host     string
	Username string
	Password string

	RESTPort    int // defaults to rest.DefaultPort
	ConsolePort int // defaults to console.DefaultPort
	SSHPort     int // defaults to DefaultSSHPort

	// Waiter drives every state poll. Defaults to wait.NewWaiter.
	Waiter *wait.Waiter
	// Reconnect is the console and shell reconnect policy.
	Reconnect console.ReconnectPolicy

	// WebConsole attaches the host console through the bmcweb websocket
	// instead of the SSH console port.
	WebConsole bool
}

// Shell runs commands on the BMC.
type Shell interface {
	Run(ctx context.Context, command string, timeout time.Duration) ([]string, error)
	Start(ctx context.Context, command string, timeout time.Duration) error
	Close(ctx context.Context) error
}

// Transfer copies a local file to the BMC.
type Transfer interface {
	Transfer(ctx context.Context, localPath, remotePath string) error
}

type hostImages interface {
	HasHostImage(ctx context.Context) (bool, error)
}

type bmcRuntime interface {
	WaitForBMCRuntime(ctx context.Context, timeout time.Duration) error
}

// System bundles everything needed to drive one OpenBMC machine: the REST
// session, the host console, the BMC shell and the managers built on them.
type System struct {
	host   string
	logger *zap.Logger
	waiter *wait.Waiter

	client   *rest.Client
	console  *console.Session
	bmc      Shell
	hostMgr  *host.Manager
	firmware *firmware.Manager
	transfer Transfer

	images  hostImages
	runtime bmcRuntime

	// RebootSettle is slept after asking the BMC to reboot, so the next
	// state read does not see the old BMC still answering.
	RebootSettle time.Duration

	mu       sync.Mutex
	hasVPNOR *bool
}

// New wires a System for cfg. Nothing connects until first use.
func New(cfg Config, logger *zap.Logger) *System {
	logger = logging.OrDefault(logger)
	if cfg.RESTPort == 0 {
		cfg.RESTPort = rest.DefaultPort
	}
	if cfg.ConsolePort == 0 {
		cfg.ConsolePort = console.DefaultPort
	}
	if cfg.SSHPort == 0 {
		cfg.SSHPort = DefaultSSHPort
	}
	waiter := cfg.Waiter
	if waiter == nil {
		waiter = wait.NewWaiter(logger)
	}
	clk := waiter.Clock

	client := rest.NewClient(rest.NewHTTPTransport(cfg.Host, cfg.RESTPort), cfg.Username, cfg.Password, logger)

	var consoleSpawner console.Spawner = &console.SSHSpawner{
		Host:     cfg.Host,
		Port:     cfg.ConsolePort,
		Username: cfg.Username,
		Password: cfg.Password,
		Logger:   logger,
	}
	consoleTarget := fmt.Sprintf("%s:%d", cfg.Host, cfg.ConsolePort)
	if cfg.WebConsole {
		ws := &console.WebSocketSpawner{
			Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.RESTPort)),
			Username: cfg.Username,
			Password: cfg.Password,
			Logger:   logger,
		}
		consoleSpawner, consoleTarget = ws, ws.URL()
	}
	hostConsole := console.NewSession(consoleSpawner, console.Options{
		Target:    consoleTarget,
		Reconnect: cfg.Reconnect,
		Clock:     clk,
	}, logger)

	bmcSpawner := &console.SSHSpawner{
		Host:     cfg.Host,
		Port:     cfg.SSHPort,
		Username: cfg.Username,
		Password: cfg.Password,
		Logger:   logger,
	}
	bmcShell := console.NewSession(bmcSpawner, console.Options{
		Target:        fmt.Sprintf("%s:%d", cfg.Host, cfg.SSHPort),
		Reconnect:     cfg.Reconnect,
		Clock:         clk,
		InstallPrompt: true,
	}, logger)

	hostMgr := host.NewManager(client, cfg.Host, cfg.RESTPort, waiter, logger)
	fwMgr := firmware.NewManager(client, waiter, logger)

	return &System{
		host:         cfg.Host,
		logger:       logger,
		waiter:       waiter,
		client:       client,
		console:      hostConsole,
		bmc:          bmcShell,
		hostMgr:      hostMgr,
		firmware:     fwMgr,
		transfer:     &SFTPTransfer{Dial: bmcSpawner.Dial, Logger: logger},
		images:       fwMgr,
		runtime:      hostMgr,
		RebootSettle: rebootSettle,
	}
}

// HasNewPNORCodeUpdate reports whether host firmware is updated through
// the BMC software manager rather than by writing flash with pflash. The
// answer is computed once.
//
// A host image in the software inventory means yes. Otherwise the BMC
// shell is checked for pflash: without the tool the new path is assumed.
func (s *System) HasNewPNORCodeUpdate(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasVPNOR != nil {
		return *s.hasVPNOR, nil
	}

	found, err := s.images.HasHostImage(ctx)
	if err != nil {
		return false, err
	}
	if found {
		s.logger.Info("Host image present, using the software manager update path")
		s.hasVPNOR = &found
		return found, nil
	}

	s.logger.Info("Checking for pflash on the BMC to determine update method")
	hasPflash, err := s.hasPflash(ctx)
	if err != nil {
		return false, err
	}
	result := !hasPflash
	s.hasVPNOR = &result
	return result, nil
}

func (s *System) hasPflash(ctx context.Context) (bool, error) {
	_, err := s.bmc.Run(ctx, "which pflash", shellTimeout)
	if console.IsCommandFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Reboot restarts the BMC from its shell and waits until it is Ready. The
// REST client logs in again on its first rejected request.
func (s *System) Reboot(ctx context.Context, timeout time.Duration) error {
	s.logger.Info("Rebooting BMC", zap.String("host", s.host))
	if err := s.bmc.Start(ctx, "reboot", shellTimeout); err != nil {
		return fmt.Errorf("failed to request BMC reboot: %w", err)
	}
	if err := s.waiter.Sleep(ctx, s.RebootSettle); err != nil {
		return err
	}
	return s.runtime.WaitForBMCRuntime(ctx, timeout)
}

// ImageTransfer copies a local image into RemoteDir on the BMC and returns
// its remote path.
func (s *System) ImageTransfer(ctx context.Context, localPath string) (string, error) {
	remote := path.Join(RemoteDir, filepath.Base(localPath))
	s.logger.Info("Transferring image", zap.String("local", localPath), zap.String("remote", remote))
	if err := s.transfer.Transfer(ctx, localPath, remote); err != nil {
		return "", err
	}
	return remote, nil
}

// FlashPNOR writes a whole PNOR image, previously transferred to RemoteDir,
// with pflash.
func (s *System) FlashPNOR(ctx context.Context, name string) error {
	_, err := s.bmc.Run(ctx, fmt.Sprintf("pflash -E -f -p %s", path.Join(RemoteDir, name)), flashTimeout)
	return err
}

// FlashSkiboot replaces the PAYLOAD partition with a skiboot lid.
func (s *System) FlashSkiboot(ctx context.Context, lid string) error {
	return s.flashPartition(ctx, lid, "PAYLOAD")
}

// FlashSkiroot replaces the BOOTKERNEL partition with a skiroot lid.
func (s *System) FlashSkiroot(ctx context.Context, lid string) error {
	return s.flashPartition(ctx, lid, "BOOTKERNEL")
}

func (s *System) flashPartition(ctx context.Context, lid, partition string) error {
	vpnor, err := s.HasNewPNORCodeUpdate(ctx)
	if err != nil {
		return err
	}
	for _, cmd := range partitionCommands(lid, partition, vpnor) {
		if _, err := s.bmc.Run(ctx, cmd, flashTimeout); err != nil {
			return fmt.Errorf("failed to flash %s: %w", partition, err)
		}
	}
	return nil
}

// partitionCommands returns the shell commands that write lid into
// partition. With the software manager the partition files are used
// directly and must be padded to 1MiB with erased (0xff) bytes, which keeps
// them 4k aligned.
func partitionCommands(lid, partition string, vpnor bool) []string {
	src := path.Join(RemoteDir, lid)
	if !vpnor {
		return []string{fmt.Sprintf("pflash -f -e -p %s -P %s", src, partition)}
	}
	return []string{
		`dd if=/dev/zero of=/dev/stdout bs=1M count=1 | tr '\000' '\377' > /tmp/ones`,
		fmt.Sprintf("cat %s /tmp/ones > /tmp/padded", src),
		fmt.Sprintf("dd if=/tmp/padded of=%s bs=1M count=1", path.Join(pnorDir, partition)),
	}
}

// RunCommand runs command on the BMC shell.
func (s *System) RunCommand(ctx context.Context, command string, timeout time.Duration) ([]string, error) {
	return s.bmc.Run(ctx, command, timeout)
}

// Close ends the console and shell sessions and logs out of the REST API.
// Every step runs; the first failure is returned.
func (s *System) Close(ctx context.Context) error {
	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	record(s.console.Close(ctx))
	record(s.bmc.Close(ctx))
	if s.client.Authenticated() {
		record(s.client.Logout(ctx))
	}
	return first
}

// BMCHost returns the BMC address.
func (s *System) BMCHost() string { return s.host }

// HostConsole returns the host console session.
func (s *System) HostConsole() *console.Session { return s.console }

// REST returns the REST session client.
func (s *System) REST() *rest.Client { return s.client }

// Host returns the host manager.
func (s *System) Host() *host.Manager { return s.hostMgr }

// Firmware returns the firmware image manager.
func (s *System) Firmware() *firmware.Manager { return s.firmware }

// BMCShell returns the BMC shell.
func (s *System) BMCShell() Shell { return s.bmc }
