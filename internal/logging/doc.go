// Package logging provides structured logging for obmctl.
//
// It wraps a zap logger with a few helpers for the things this tool logs
// most: REST round-trips to the BMC, states observed while waiting for a
// convergence target, and raw console traffic.
//
// # Log Levels
//
//   - Debug: REST request lines, raw console bytes
//   - Info: observed states, reconnects, image activation progress
//   - Warn: best-effort operations that were skipped, reconnect attempts
//   - Error: failures surfaced to the caller
//
// # Configuration
//
// Logging is silent unless a level is given, either explicitly or through
// the OBMCTL_LOG_LEVEL environment variable:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// Components take a *zap.Logger in their constructor. Passing nil selects
// the global logger via OrDefault.
package logging
