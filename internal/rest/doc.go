// Package rest provides the authenticated session with the OpenBMC REST
// server (phosphor-rest / bmcweb D-Bus bridge).
//
// # Session
//
// The BMC authenticates with a cookie obtained from POST /login. A Client
// logs in lazily on the first call and, when a reply says "Login required"
// (the session expired or the BMC rebooted), logs in again and retries the
// call exactly once.
//
//	t := rest.NewHTTPTransport("bmc.example.com", rest.DefaultPort)
//	c := rest.NewClient(t, "root", password, logger)
//
//	var state string
//	err := c.Get(ctx, "/xyz/openbmc_project/state/chassis0/attr/CurrentPowerState", &state)
//
// # Errors
//
// Three failures are kept apart because callers react differently:
//
//   - *TransportError: the request could not be made (refused, DNS, timeout)
//   - *HTTPError: non-2xx reply without an error payload
//   - *ApplicationError: the payload says "status": "error"; it carries the
//     call and raw output, and is what best-effort callers tolerate
//
// Use IsTransport, IsHTTP, IsApplication, IsNotFound and IsLoginRequired to
// classify, and TroubleshootingHint to render advice in the CLI.
package rest
