// Command sim-head runs a standalone simulated scan head for exercising the
// driver and tools without hardware.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aaronhudon/pinchot-net-api/internal/scanhead/simulator"
)

var (
	listen   = flag.String("listen", "127.0.0.1:12228", "Listen address")
	serial   = flag.Uint("serial", 140223, "Reported device serial")
	maxRate  = flag.Uint("max-rate", 2000, "Reported maximum scan rate in Hz")
	cameras  = flag.Int("cameras", 1, "Number of emitting cameras")
	dropNth  = flag.Int("drop-every", 0, "Drop every Nth fragment (0 disables loss)")
	fragSize = flag.Int("fragment-size", 0, "Payload bytes per fragment (0 uses the wire maximum)")
)

func main() {
	flag.Parse()

	head, err := simulator.Start(simulator.Config{
		Address:       *listen,
		Serial:        uint32(*serial),
		Major:         2,
		Minor:         1,
		Patch:         0,
		MaxScanRateHz: uint32(*maxRate),
		Cameras:       *cameras,
		FragmentSize:  *fragSize,
		DropEveryNth:  *dropNth,
	})
	if err != nil {
		log.Fatalf("start simulator: %v", err)
	}
	defer head.Close()
	log.Printf("simulated scan head %d listening on %s", *serial, head.Addr())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Printf("shutting down after emitting %d profiles", head.SentProfiles())
}
