// Package replay feeds recorded scan head traffic from a pcap capture back
// through the driver's reassembler, producing the same profiles and
// statistics the live receive loop would. Captures are read with the pure-Go
// pcapgo reader so replay works without libpcap.
package replay

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/aaronhudon/pinchot-net-api/internal/monitoring"
	"github.com/aaronhudon/pinchot-net-api/internal/scanhead"
)

// Options controls a replay pass.
type Options struct {
	// Port filters datagrams by UDP destination port. Zero accepts every
	// UDP packet in the capture.
	Port int

	// Realtime spaces datagrams by their capture timestamps instead of
	// replaying as fast as possible.
	Realtime bool
}

// File replays the capture at path through rasm, timestamping records with
// the capture clock. Returns the number of datagrams delivered.
func File(ctx context.Context, path string, rasm *scanhead.Reassembler, opts Options) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("read pcap header: %w", err)
	}

	delivered := 0
	var prevCapture time.Time
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		data, ci, err := r.ReadPacketData()
		if err == io.EOF {
			return delivered, nil
		}
		if err != nil {
			return delivered, fmt.Errorf("read packet %d: %w", delivered, err)
		}

		packet := gopacket.NewPacket(data, r.LinkType(), gopacket.Default)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok {
			continue
		}
		if opts.Port != 0 && int(udp.DstPort) != opts.Port {
			continue
		}
		if len(udp.Payload) == 0 {
			continue
		}

		if opts.Realtime && !prevCapture.IsZero() {
			if gap := ci.Timestamp.Sub(prevCapture); gap > 0 {
				select {
				case <-ctx.Done():
					return delivered, ctx.Err()
				case <-time.After(gap):
				}
			}
		}
		prevCapture = ci.Timestamp

		rasm.ProcessDatagram(udp.Payload, ci.Timestamp)
		delivered++
		if delivered%10000 == 0 {
			monitoring.Logf("replay: %d datagrams delivered", delivered)
		}
	}
}
