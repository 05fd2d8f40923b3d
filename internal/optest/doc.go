// Package optest assembles the pieces needed to drive one OpenBMC machine
// from a test harness or the CLI.
//
// A System owns the REST session, the host console on port 2200, a shell
// on the BMC itself and the host and firmware managers. It also knows the
// two ways host firmware partitions are replaced: writing flash with
// pflash on older BMCs, or overwriting the partition files served by the
// BMC software manager on newer ones.
package optest
