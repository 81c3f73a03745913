// Package simulator emulates a JS-series scan head over a real UDP socket:
// it answers the connect handshake, honours start/stop/window commands and
// streams synthetic profile fragments at the requested rate. Integration
// tests and the sim-head tool run against it instead of hardware.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/aaronhudon/pinchot-net-api/internal/monitoring"
	"github.com/aaronhudon/pinchot-net-api/internal/scanhead/wire"
)

// Config describes the simulated device.
type Config struct {
	Address       string // listen address; defaults to an ephemeral loopback port
	Serial        uint32
	Major         uint16
	Minor         uint16
	Patch         uint16
	MaxScanRateHz uint32
	Cameras       int // emitting cameras; defaults to 1
	FragmentSize  int // payload bytes per fragment; defaults to wire.MaxFragmentPayload

	// DropEveryNth, when positive, drops every Nth data fragment before it
	// is sent, for exercising loss handling end to end.
	DropEveryNth int
}

// Head is one running simulated scan head.
type Head struct {
	cfg  Config
	conn *net.UDPConn

	mu         sync.Mutex
	client     *net.UDPAddr
	session    uint32
	emitCancel context.CancelFunc
	emitDone   chan struct{}

	closeOnce sync.Once
	done      chan struct{}

	sentMu       sync.Mutex
	sentProfiles uint64
	sentDropped  uint64
}

// Start brings up the simulated head and its command loop.
func Start(cfg Config) (*Head, error) {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:0"
	}
	if cfg.Cameras <= 0 {
		cfg.Cameras = 1
	}
	if cfg.FragmentSize <= 0 || cfg.FragmentSize > wire.MaxFragmentPayload {
		cfg.FragmentSize = wire.MaxFragmentPayload
	}
	if cfg.MaxScanRateHz == 0 {
		cfg.MaxScanRateHz = 2000
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("simulator: resolve %s: %w", cfg.Address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("simulator: listen %s: %w", cfg.Address, err)
	}

	h := &Head{cfg: cfg, conn: conn, done: make(chan struct{})}
	go h.commandLoop()
	return h, nil
}

// Addr returns the address the simulated head is listening on.
func (h *Head) Addr() string { return h.conn.LocalAddr().String() }

// Close stops emission and releases the socket. Safe to call twice.
func (h *Head) Close() error {
	h.closeOnce.Do(func() {
		h.stopEmitting()
		h.conn.Close()
		<-h.done
	})
	return nil
}

// SentProfiles reports how many complete profiles the head has emitted.
func (h *Head) SentProfiles() uint64 {
	h.sentMu.Lock()
	defer h.sentMu.Unlock()
	return h.sentProfiles
}

func (h *Head) commandLoop() {
	defer close(h.done)
	buf := make([]byte, 2048)
	for {
		n, raddr, err := h.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				monitoring.Logf("simulator %d: read: %v", h.cfg.Serial, err)
			}
			return
		}
		cmd, err := wire.DecodeCommand(buf[:n])
		if err != nil {
			continue // not a control packet; a real head ignores these too
		}
		h.handle(cmd, raddr)
	}
}

func (h *Head) handle(cmd wire.Command, raddr *net.UDPAddr) {
	switch c := cmd.(type) {
	case wire.Connect:
		h.mu.Lock()
		h.client = raddr
		h.session = c.Session
		h.mu.Unlock()
		reply := wire.EncodeConnectReply(wire.ConnectReply{
			Session:       c.Session,
			Serial:        h.cfg.Serial,
			Major:         h.cfg.Major,
			Minor:         h.cfg.Minor,
			Patch:         h.cfg.Patch,
			MaxScanRateHz: h.cfg.MaxScanRateHz,
		})
		if _, err := h.conn.WriteToUDP(reply, raddr); err != nil {
			monitoring.Logf("simulator %d: connect reply: %v", h.cfg.Serial, err)
		}
	case wire.Disconnect:
		h.stopEmitting()
		h.mu.Lock()
		h.client = nil
		h.mu.Unlock()
	case wire.StartScan:
		h.stopEmitting()
		h.startEmitting(c, raddr)
	case wire.StopScan:
		h.stopEmitting()
	case wire.SetWindow:
		// Recorded by real firmware; nothing observable to emulate here.
	}
}

func (h *Head) startEmitting(c wire.StartScan, raddr *net.UDPAddr) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.mu.Lock()
	h.emitCancel = cancel
	h.emitDone = done
	h.mu.Unlock()
	go func() {
		defer close(done)
		h.emit(ctx, c, raddr)
	}()
}

func (h *Head) stopEmitting() {
	h.mu.Lock()
	cancel, done := h.emitCancel, h.emitDone
	h.emitCancel, h.emitDone = nil, nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// emit streams synthetic profiles at the commanded rate until cancelled.
func (h *Head) emit(ctx context.Context, c wire.StartScan, raddr *net.UDPAddr) {
	if c.RateHz == 0 {
		// Decodes fine but cannot be scheduled. Real firmware ignores it;
		// so does the simulator.
		return
	}
	interval := time.Second / time.Duration(c.RateHz)
	if interval <= 0 {
		interval = time.Millisecond
	}
	columns := int(c.EndColumn-c.StartColumn) + 1
	size := columns * c.Format.BytesPerColumn()
	if c.Format == wire.FormatImage {
		size = wire.ImageWidth * wire.ImageHeight
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq uint32
	var dropCounter int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		seq++
		for camera := 0; camera < h.cfg.Cameras; camera++ {
			h.emitProfile(c, raddr, seq, uint8(camera), size, &dropCounter)
		}
	}
}

func (h *Head) emitProfile(c wire.StartScan, raddr *net.UDPAddr, seq uint32, camera uint8, size int, dropCounter *int) {
	payload := syntheticPayload(size, seq)
	count := (len(payload) + h.cfg.FragmentSize - 1) / h.cfg.FragmentSize
	if count == 0 {
		count = 1
	}

	now := uint64(time.Now().UnixNano())
	for i := 0; i < count; i++ {
		start := i * h.cfg.FragmentSize
		end := start + h.cfg.FragmentSize
		if end > len(payload) {
			end = len(payload)
		}
		if h.cfg.DropEveryNth > 0 {
			*dropCounter++
			if *dropCounter%h.cfg.DropEveryNth == 0 {
				h.sentMu.Lock()
				h.sentDropped++
				h.sentMu.Unlock()
				continue
			}
		}
		frag := wire.EncodeFragment(wire.Fragment{
			Format:       c.Format,
			Camera:       camera,
			Sequence:     seq,
			Index:        uint16(i),
			Count:        uint16(count),
			Timestamp:    now,
			Encoder:      int64(seq) * 100,
			LaserOnTime:  120,
			ExposureTime: 500,
			Payload:      payload[start:end],
		})
		if _, err := h.conn.WriteToUDP(frag, raddr); err != nil {
			monitoring.Logf("simulator %d: emit: %v", h.cfg.Serial, err)
			return
		}
	}
	h.sentMu.Lock()
	h.sentProfiles++
	h.sentMu.Unlock()
}

// syntheticPayload fills a record with a deterministic ramp seeded by the
// sequence number, so tests can verify reassembly ordering byte for byte.
func syntheticPayload(size int, seq uint32) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(int(seq) + i)
	}
	return b
}
