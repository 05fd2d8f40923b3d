// Package host manages the host a BMC controls: power transitions, host
// and BMC state, the system event log, inventory and sensors.
//
// State waits use package wait. Host power waits first read the modern
// chassis object and, on firmware that lacks it, fall back to the legacy
// BootProgress sensor with the same polling loop.
//
//	m := host.NewManager(client, "bmc.lab", rest.DefaultPort, nil, logger)
//	if err := m.PowerOn(ctx); err != nil {
//	    return err
//	}
//	if err := m.WaitForRuntime(ctx, host.DefaultTimeout); err != nil {
//	    return err
//	}
package host
