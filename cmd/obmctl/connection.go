package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/muurk/obmctl/internal/config"
	"github.com/muurk/obmctl/internal/console"
	"github.com/muurk/obmctl/internal/firmware"
	"github.com/muurk/obmctl/internal/logging"
	"github.com/muurk/obmctl/internal/optest"
	"github.com/muurk/obmctl/internal/rest"
	"github.com/muurk/obmctl/internal/wait"
)

// PasswordEnvVar supplies the BMC password when --password is not given.
const PasswordEnvVar = "OBMCTL_PASSWORD"

const defaultUser = "root"

// Connection flags
var (
	targetName  string
	bmcHost     string
	bmcUser     string
	bmcPassword string
	restPort    int
	consolePort int
	sshPort     int
	timeoutFlag string
	logLevel    string
	webConsole  bool
)

func init() {
	// Common flags for all commands (persistent on root)
	rootCmd.PersistentFlags().StringVarP(&targetName, "target", "t", "", "Saved target name (default: the default target)")
	rootCmd.PersistentFlags().StringVar(&bmcHost, "host", "", "BMC hostname or IP address (overrides --target)")
	rootCmd.PersistentFlags().StringVarP(&bmcUser, "user", "u", "", "BMC user (default: root)")
	rootCmd.PersistentFlags().StringVarP(&bmcPassword, "password", "p", "", "BMC password (default: $"+PasswordEnvVar+" or prompt)")
	rootCmd.PersistentFlags().IntVar(&restPort, "rest-port", 0, "BMC REST API port (default: 443)")
	rootCmd.PersistentFlags().IntVar(&consolePort, "console-port", 0, "Host console SSH port (default: 2200)")
	rootCmd.PersistentFlags().IntVar(&sshPort, "ssh-port", 0, "BMC shell SSH port (default: 22)")
	rootCmd.PersistentFlags().StringVar(&timeoutFlag, "timeout", "", "Wait budget (e.g., 90s, 10m). Default from config")
	rootCmd.PersistentFlags().BoolVar(&webConsole, "web-console", false, "Reach the host console through the bmcweb websocket instead of SSH")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error). Default: $"+logging.LogLevelEnvVar)
}

// connection is a resolved BMC endpoint plus the preferences that apply to it.
type connection struct {
	name     string // registry target, empty when --host was used
	registry *config.Registry
	cfg      optest.Config
	timeout  time.Duration
}

// resolveConnection merges the flags with the saved target and preferences.
// Flags win over the target; the target wins over built-in defaults.
func resolveConnection() (*connection, error) {
	registry, err := config.LoadRegistry()
	if err != nil {
		return nil, err
	}
	return resolveWith(registry, os.Getenv(PasswordEnvVar), promptPassword)
}

func resolveWith(registry *config.Registry, envPassword string, prompt func(string) (string, error)) (*connection, error) {
	conn := &connection{registry: registry}
	target := &config.Target{Host: bmcHost}
	if bmcHost == "" {
		t, err := registry.ResolveTarget(targetName)
		if err != nil {
			return nil, fmt.Errorf("%w (use --host or 'obmctl target add')", err)
		}
		target = t
		conn.name = targetName
		if conn.name == "" {
			conn.name = registry.Default
		}
	}

	cfg := optest.Config{
		Host:        target.Host,
		Username:    firstNonEmpty(bmcUser, target.Username, defaultUser),
		RESTPort:    firstNonZero(restPort, target.RESTPort),
		ConsolePort: firstNonZero(consolePort, target.ConsolePort),
		SSHPort:     firstNonZero(sshPort, target.SSHPort),
		WebConsole:  webConsole,
	}

	password := firstNonEmpty(bmcPassword, envPassword)
	if password == "" {
		p, err := prompt(fmt.Sprintf("Password for %s@%s: ", cfg.Username, cfg.Host))
		if err != nil {
			return nil, err
		}
		password = p
	}
	cfg.Password = password

	prefs := registry.Preferences
	logger := logging.GetLogger()
	waiter := wait.NewWaiter(logger)
	waiter.Interval = prefs.PollIntervalDuration()
	cfg.Waiter = waiter
	cfg.Reconnect = console.ReconnectPolicy{
		MaxAttempts: prefs.ReconnectAttempts,
		Delay:       console.DefaultReconnectPolicy().Delay,
	}
	conn.cfg = cfg

	conn.timeout = prefs.TimeoutDuration()
	if timeoutFlag != "" {
		d, err := time.ParseDuration(timeoutFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout value: %w", err)
		}
		conn.timeout = d
	}
	return conn, nil
}

// promptPassword reads a password from the terminal without echo.
func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no password given: use --password or set %s", PasswordEnvVar)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

// openSystem resolves the connection and wires a System for it. The
// caller must Close the System.
func openSystem() (*optest.System, *connection, error) {
	conn, err := resolveConnection()
	if err != nil {
		return nil, nil, err
	}
	return optest.New(conn.cfg, logging.GetLogger()), conn, nil
}

// withSystem runs fn against a fresh System, closing it afterwards and
// marking the target as seen on success.
func withSystem(cmd *cobra.Command, fn func(ctx context.Context, sys *optest.System, conn *connection) error) error {
	// Suppress usage on execution errors (we're past argument parsing)
	cmd.SilenceUsage = true

	sys, conn, err := openSystem()
	if err != nil {
		return err
	}
	err = fn(commandContext(cmd), sys, conn)
	if cerr := sys.Close(context.Background()); cerr != nil {
		logging.Debug("Closing BMC connections failed", zap.Error(cerr))
	}
	if err == nil && conn.name != "" {
		conn.registry.TouchTarget(conn.name)
		if serr := conn.registry.Save(); serr != nil {
			logging.Debug("Could not save last seen time", zap.Error(serr))
		}
	}
	return err
}

// troubleshooting turns an error into tips for a failure box.
func troubleshooting(err error) []string {
	var connErr *console.ConnectError
	switch {
	case firmware.IsActivationTimeout(err):
		return []string{
			"The image did not finish activating in time",
			"Check its state: obmctl firmware list",
			"Try a longer --timeout",
		}
	case wait.IsTimeout(err):
		return []string{
			"The state did not change within the wait budget",
			"Try a longer --timeout",
			"Check the event log: obmctl sel list",
		}
	case errors.As(err, &connErr):
		return []string{
			"Could not open an SSH session to " + connErr.Target,
			"Check --console-port (host console) or --ssh-port (BMC shell)",
			"Verify the user and password",
		}
	case console.IsCommandFailed(err):
		return []string{"The command ran but exited with a non-zero status"}
	case firmware.IsActivationFailed(err):
		return []string{
			"The BMC rejected the image during activation",
			"Check the event log: obmctl sel list",
			"Verify the image matches this machine",
		}
	case errors.Is(err, firmware.ErrNoNewImage):
		return []string{
			"The image may already be present: obmctl firmware list",
			"Check that the image file is a valid OpenBMC tarball",
		}
	}
	return hintLines(rest.TroubleshootingHint(err))
}

// hintLines splits a multi-line hint into bullet items.
func hintLines(hint string) []string {
	var tips []string
	for _, line := range strings.Split(hint, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimPrefix(line, "•"))
		if line == "" || line == "Troubleshooting:" {
			continue
		}
		tips = append(tips, line)
	}
	return tips
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
