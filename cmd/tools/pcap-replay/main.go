// Command pcap-replay runs a recorded scan head capture through the
// driver's reassembler and reports what a live session would have seen.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aaronhudon/pinchot-net-api/internal/scanhead"
	"github.com/aaronhudon/pinchot-net-api/internal/scanhead/replay"
)

var (
	pcapFile = flag.String("pcap", "", "Capture file to replay")
	port     = flag.Int("port", 0, "UDP destination port filter (0 accepts all UDP)")
	columns  = flag.Int("columns", 0, "Expected columns per profile (0 skips the size check)")
	serial   = flag.Uint("serial", 0, "Serial to stamp on reassembled profiles")
	realtime = flag.Bool("realtime", false, "Pace replay by capture timestamps")
	capacity = flag.Int("capacity", 10000, "Profile buffer capacity")
)

func main() {
	flag.Parse()
	if *pcapFile == "" {
		log.Fatal("missing required -pcap")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	counters := &scanhead.Counters{}
	buffer := scanhead.NewProfileBuffer(*capacity)
	rasm := scanhead.NewReassembler(uint32(*serial), 0, counters, buffer, 0)
	rasm.SetColumnWindow(*columns)

	start := time.Now()
	delivered, err := replay.File(ctx, *pcapFile, rasm, replay.Options{
		Port:     *port,
		Realtime: *realtime,
	})
	if err != nil {
		log.Fatalf("replay %s: %v", *pcapFile, err)
	}
	rasm.Abandon()

	agg := scanhead.NewAggregator(uint32(*serial), 0, counters, buffer, time.Second)
	s := agg.SnapshotAt(time.Now())
	log.Printf("replayed %d datagrams in %v", delivered, time.Since(start).Round(time.Millisecond))
	log.Printf("profiles: %d buffered (%d evicted), packets: %d good / %d bad, %d incomplete records",
		buffer.Len(), buffer.Evicted(), s.GoodPackets, s.BadPackets, s.IncompleteProfiles)
}
