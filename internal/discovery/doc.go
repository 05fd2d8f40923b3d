// Package discovery finds OpenBMC controllers on the local network with
// mDNS.
//
// OpenBMC advertises its REST API with the "_obmc_rest._tcp" service type.
// A scan browses for that service until its timeout and returns every BMC
// that answered, one entry per advertised instance.
//
// # Usage Example
//
//	bmcs, err := discovery.Discover(ctx, 5*time.Second, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, bmc := range bmcs {
//	    fmt.Println(bmc)
//	}
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - BMCs must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
