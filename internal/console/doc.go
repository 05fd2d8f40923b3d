// Package console runs shell commands over an interactive, reconnecting
// session such as the OpenBMC host console (SSH port 2200) or the BMC's
// own shell.
//
// # Framing
//
// The remote shell prints a fixed marker, Prompt, whenever it is ready. A
// command is framed in two round-trips:
//
//	AwaitEcho        send "cmd\n", wait for the echoed newline
//	AwaitPrompt      everything before the next prompt is the output
//	AwaitExitEcho    send "echo $?\n", wait for the echoed newline
//	AwaitExitPrompt  everything before the next prompt is the exit status
//
// The exit status is never parsed out of the command's own output. If the
// prompt does not come back in time, Run returns the buffered output that
// follows the last occurrence of the command, without an exit status check.
//
// # Reconnects
//
// Get revives a dead session according to a ReconnectPolicy: the first
// attempt is immediate, later ones sleep Delay on an injectable clock, and
// after MaxAttempts+1 consecutive failures a *ConnectError is returned.
//
// # Transports
//
// A Session spawns processes through a Spawner. SSHSpawner uses
// golang.org/x/crypto/ssh with a PTY. WebSocketSpawner attaches to
// bmcweb's /console0 endpoint. Tests plug in a scripted fake.
package console
