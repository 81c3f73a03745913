// Package scanhead implements the host-side driver for one JS-series scan
// head: session lifecycle over UDP, the control command channel, continuous
// reassembly of the fragmented profile stream, bounded buffering for the
// consumer, and live communication statistics.
//
// A ScanHead is operated by at least two goroutines: the receive loop it
// spawns on Connect, and the application draining profiles. Control
// operations may come from a third. The profile buffer is the only resource
// both producer and consumer mutate; everything else has a single owner.
package scanhead

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/aaronhudon/pinchot-net-api/internal/monitoring"
	"github.com/aaronhudon/pinchot-net-api/internal/scanhead/wire"
)

// DefaultHandshakeTimeout bounds the whole connect handshake, including
// retransmits.
const DefaultHandshakeTimeout = 3 * time.Second

// handshakeAttempts is how many times the Connect command is retransmitted
// within the handshake timeout before giving up.
const handshakeAttempts = 3

// Config carries per-head driver tuning. The zero value is usable; every
// field has a default.
type Config struct {
	// ProfileCapacity fixes the profile buffer size for the session.
	ProfileCapacity int

	// IdleTimeout bounds each blocking read in the receive loop.
	IdleTimeout time.Duration

	// HandshakeTimeout bounds the connect handshake.
	HandshakeTimeout time.Duration

	// ReassemblyTimeout is how long a partial profile may wait for its
	// remaining fragments.
	ReassemblyTimeout time.Duration

	// StatsInterval is the statistics snapshot period.
	StatsInterval time.Duration
}

// DefaultConfig returns the tuning used when New is given a zero Config.
func DefaultConfig() Config {
	return Config{
		ProfileCapacity:   DefaultProfileCapacity,
		IdleTimeout:       DefaultIdleTimeout,
		HandshakeTimeout:  DefaultHandshakeTimeout,
		ReassemblyTimeout: DefaultReassemblyTimeout,
		StatsInterval:     time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ProfileCapacity <= 0 {
		c.ProfileCapacity = d.ProfileCapacity
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.ReassemblyTimeout <= 0 {
		c.ReassemblyTimeout = d.ReassemblyTimeout
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = d.StatsInterval
	}
	return c
}

// ScanHead is the handle for one physical scan head. Identity (serial plus
// locally scoped id) is immutable for the life of the handle; at most one
// session is active at a time, and starting a new one tears down the old.
type ScanHead struct {
	serial uint32
	id     uint32
	cfg    Config

	mu             sync.Mutex
	conn           *net.UDPConn
	session        uint32
	mode           wire.ConnectionMode
	version        Version
	maxRateHz      uint32
	mismatch       bool
	mismatchReason string
	scanning       bool
	window         ScanWindow
	alignment      [2]Alignment // per camera

	cancelRun context.CancelFunc
	runDone   chan struct{}

	buffer   *ProfileBuffer
	counters *Counters
	rasm     *Reassembler
	agg      *Aggregator
}

// New creates a handle for the scan head with the given hardware serial and
// locally scoped id. No network activity happens until Connect.
func New(serial, id uint32, cfg Config) *ScanHead {
	cfg = cfg.withDefaults()
	h := &ScanHead{
		serial:   serial,
		id:       id,
		cfg:      cfg,
		buffer:   NewProfileBuffer(cfg.ProfileCapacity),
		counters: &Counters{},
	}
	h.rasm = NewReassembler(serial, id, h.counters, h.buffer, cfg.ReassemblyTimeout)
	h.agg = NewAggregator(serial, id, h.counters, h.buffer, cfg.StatsInterval)
	return h
}

// Serial returns the device hardware serial number.
func (h *ScanHead) Serial() uint32 { return h.serial }

// ID returns the locally scoped id assigned by the scan system.
func (h *ScanHead) ID() uint32 { return h.id }

// Connect establishes a session: it opens the UDP transport, performs the
// handshake within a bounded wait, and records the device's version and
// maximum scan rate. An incompatible version does not fail Connect; it sets
// the sticky mismatch flag that later blocks StartScanning. Re-connecting
// releases the previous transport first, so sockets never leak across
// reconnects.
func (h *ScanHead) Connect(ctx context.Context, address string, session uint32, mode wire.ConnectionMode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.teardownLocked(false)

	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", ErrConnectionFailed, address, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrConnectionFailed, address, err)
	}

	reply, err := h.handshake(ctx, conn, session, mode)
	if err != nil {
		conn.Close()
		return err
	}
	if reply.Status != 0 {
		conn.Close()
		return fmt.Errorf("%w: device refused session (status %d)", ErrConnectionFailed, reply.Status)
	}
	if h.serial != 0 && reply.Serial != h.serial {
		conn.Close()
		return fmt.Errorf("%w: device reports serial %d, expected %d", ErrConnectionFailed, reply.Serial, h.serial)
	}

	h.conn = conn
	h.session = session
	h.mode = mode
	h.version = Version{Major: reply.Major, Minor: reply.Minor, Patch: reply.Patch}
	h.maxRateHz = reply.MaxScanRateHz

	ok, reason := checkCompatibility(HostVersion, h.version, MinimumMinor)
	h.mismatch = !ok
	h.mismatchReason = reason
	if !ok {
		monitoring.Logf("scanhead %d: version mismatch: %s", h.serial, reason)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h.cancelRun = cancel
	h.runDone = make(chan struct{})
	rx := newReceiver(conn, h.rasm, h.cfg.IdleTimeout)
	go func() {
		defer close(h.runDone)
		go h.agg.Run(runCtx)
		if err := rx.run(runCtx); err != nil && err != context.Canceled {
			monitoring.Logf("scanhead %d: receive loop exited: %v", h.serial, err)
		}
	}()
	return nil
}

// handshake transmits the Connect command and waits for the device's reply,
// retransmitting a bounded number of times. UDP may drop either direction,
// so each attempt gets an equal slice of the handshake timeout.
func (h *ScanHead) handshake(ctx context.Context, conn *net.UDPConn, session uint32, mode wire.ConnectionMode) (wire.ConnectReply, error) {
	deadline := time.Now().Add(h.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	attemptWait := time.Until(deadline) / handshakeAttempts
	if attemptWait <= 0 {
		return wire.ConnectReply{}, fmt.Errorf("%w: handshake deadline already passed", ErrConnectionFailed)
	}

	cmd := wire.EncodeCommand(wire.Connect{
		Session: session,
		Mode:    mode,
		Major:   HostVersion.Major,
		Minor:   HostVersion.Minor,
		Patch:   HostVersion.Patch,
	})
	buf := make([]byte, receiveBufSize)

	var lastErr error
	for attempt := 0; attempt < handshakeAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return wire.ConnectReply{}, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		if _, err := conn.Write(cmd); err != nil {
			lastErr = err
			continue
		}
		if err := conn.SetReadDeadline(time.Now().Add(attemptWait)); err != nil {
			lastErr = err
			continue
		}
		n, err := conn.Read(buf)
		if err != nil {
			lastErr = err
			continue
		}
		reply, err := wire.DecodeConnectReply(buf[:n])
		if err != nil {
			// Not the handshake answer; likely stale traffic. Try again.
			lastErr = err
			continue
		}
		return reply, nil
	}
	return wire.ConnectReply{}, fmt.Errorf("%w: handshake timed out after %d attempts: %v", ErrConnectionFailed, handshakeAttempts, lastErr)
}

// Disconnect notifies the device best-effort, then releases all local
// transport resources regardless of whether the notification succeeded.
// Idempotent: a second call is a no-op. The receive loop is stopped and
// joined before Disconnect returns.
func (h *ScanHead) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.teardownLocked(true)
	return nil
}

// teardownLocked stops the receive loop, optionally notifies the device,
// and closes the transport. Callers hold h.mu.
func (h *ScanHead) teardownLocked(notify bool) {
	if h.conn == nil {
		return
	}
	if notify {
		// Best effort: the socket is being torn down either way.
		if _, err := h.conn.Write(wire.EncodeCommand(wire.Disconnect{Session: h.session})); err != nil {
			monitoring.Logf("scanhead %d: disconnect notify failed: %v", h.serial, err)
		}
	}
	if h.cancelRun != nil {
		h.cancelRun()
		h.cancelRun = nil
	}
	h.conn.Close()
	if h.runDone != nil {
		<-h.runDone
		h.runDone = nil
	}
	h.conn = nil
	h.scanning = false
	h.mismatch = false
	h.mismatchReason = ""
}

// IsConnected reports whether transport resources are currently open. It is
// derived from transport state, not from handshake success: a teardown for
// any reason flips it back to false.
func (h *ScanHead) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// Version returns the device-reported protocol version from the current
// session's handshake.
func (h *ScanHead) Version() Version {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.version
}

// MaxScanRateHz returns the device-reported scan rate ceiling.
func (h *ScanHead) MaxScanRateHz() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxRateHz
}

// VersionMismatch reports the sticky compatibility flag and its
// human-readable reason. Set during Connect, cleared only by teardown.
func (h *ScanHead) VersionMismatch() (bool, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mismatch, h.mismatchReason
}

// IsScanning reports whether a StartScanning took effect and has not been
// stopped.
func (h *ScanHead) IsScanning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scanning
}

// TakeProfile blocks until a profile is available or ctx is cancelled.
func (h *ScanHead) TakeProfile(ctx context.Context) (*Profile, error) {
	return h.buffer.Take(ctx)
}

// TakeProfileTimeout is the bounded-wait take. ErrTakeTimeout and
// cancellation are distinct non-error outcomes.
func (h *ScanHead) TakeProfileTimeout(ctx context.Context, timeout time.Duration) (*Profile, error) {
	return h.buffer.TakeTimeout(ctx, timeout)
}

// TryTakeProfile is the non-blocking take.
func (h *ScanHead) TryTakeProfile() (*Profile, error) {
	return h.buffer.TryTake()
}

// BufferedProfiles returns the advisory buffer depth.
func (h *ScanHead) BufferedProfiles() int { return h.buffer.Len() }

// Overflowed reports whether the buffer evicted unread profiles since the
// scan started.
func (h *ScanHead) Overflowed() bool { return h.buffer.Overflowed() }

// Subscribe registers a statistics subscriber; see Aggregator.Subscribe.
func (h *ScanHead) Subscribe() (string, <-chan Snapshot) { return h.agg.Subscribe() }

// Unsubscribe removes a statistics subscriber.
func (h *ScanHead) Unsubscribe(id string) { h.agg.Unsubscribe(id) }

// Stats returns the most recent statistics snapshot.
func (h *ScanHead) Stats() Snapshot { return h.agg.Latest() }
