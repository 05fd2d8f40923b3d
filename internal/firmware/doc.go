// Package firmware manages OpenBMC software images.
//
// An image moves through these states, all observed on the BMC:
//
//	uploaded -> Ready -> (RequestedActivation=Active) -> Activating -> Active
//
// Failed can be reported at any point after activation is requested.
// Upload only transfers the payload; WaitReady, Activate and WaitActive
// drive the rest using the polling loop from package wait. Flash chains
// all of them.
//
// Images carry a Purpose. Host images mean the host firmware is updated
// through the BMC's image lifecycle instead of by writing the flash chip
// directly.
package firmware
