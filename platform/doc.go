// Package platform provides the runtime object shared by every crtbridge
// component.
//
// A Runtime is created once at process start and passed to each bridge
// constructor. It owns the configuration, a zerolog logger, Prometheus
// collectors, the event loop group that runs all caller callbacks, and the
// fatal hook used for contract violations.
//
//	cfg, err := platform.LoadConfig("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rt, err := platform.New(cfg, platform.WithRegisterer(prometheus.DefaultRegisterer))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	bootstrap, err := platform.NewBootstrap(rt, platform.BootstrapOptions{})
//
// # Event Loops
//
// Each Loop is one goroutine draining an unbounded FIFO queue. Schedule
// never blocks the producer. Connections are pinned to a loop when opened,
// so all callbacks for a connection and its streams run in order on the
// same goroutine.
package platform
