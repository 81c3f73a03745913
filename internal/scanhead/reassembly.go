package scanhead

import (
	"sync/atomic"
	"time"

	"github.com/aaronhudon/pinchot-net-api/internal/scanhead/wire"
)

// DefaultReassemblyTimeout bounds how long a partial profile may sit waiting
// for its remaining fragments before being abandoned.
const DefaultReassemblyTimeout = 500 * time.Millisecond

// inflight is the reassembly state for the one not-yet-complete profile on a
// stream key. Fragments accumulate by declared index, so arrival order does
// not matter and duplicates overwrite instead of double-counting.
type inflight struct {
	seq      uint32
	format   wire.Format
	count    uint16
	received int // distinct fragment indexes seen
	parts    [][]byte
	deadline time.Time

	// Capture metadata, identical across a record's fragments; taken from
	// whichever fragment arrives first.
	timestamp    uint64
	encoder      int64
	laserOnTime  uint16
	exposureTime uint16
}

// Reassembler turns the device's fragmented, possibly lossy and out-of-order
// datagram stream into complete profiles. The in-flight state is owned
// exclusively by the receive loop (or a replay driver); only SetColumnWindow
// may be called from other goroutines. The counters and buffer it feeds are
// fully concurrency-safe.
type Reassembler struct {
	serial uint32
	headID uint32

	// columns holds the expected columns per point-format profile; 0 skips
	// the size check. Written by the command path while the receive loop
	// reads it, hence atomic.
	columns atomic.Int64

	timeout   time.Duration
	inflight  map[uint8]*inflight
	lastSweep time.Time

	counters *Counters
	buffer   *ProfileBuffer
}

// NewReassembler builds a reassembler feeding the given counters and
// buffer. A non-positive timeout falls back to DefaultReassemblyTimeout.
func NewReassembler(serial, headID uint32, counters *Counters, buffer *ProfileBuffer, timeout time.Duration) *Reassembler {
	if timeout <= 0 {
		timeout = DefaultReassemblyTimeout
	}
	return &Reassembler{
		serial:   serial,
		headID:   headID,
		timeout:  timeout,
		inflight: make(map[uint8]*inflight),
		counters: counters,
		buffer:   buffer,
	}
}

// SetColumnWindow tells the reassembler how many columns each point-format
// profile should carry, from the column range of the current scan. Zero
// disables the expected-size check for point formats; image profiles are
// always validated against the full sensor readout. Safe to call while the
// receive loop is running.
func (r *Reassembler) SetColumnWindow(columns int) {
	r.columns.Store(int64(columns))
}

// ProcessDatagram classifies and accumulates one received datagram.
// Malformed datagrams only bump the bad-packet counter; completed profiles
// land in the buffer. Stale partials are swept as a side effect of ordinary
// traffic, so an abandoned record costs memory for at most one timeout.
func (r *Reassembler) ProcessDatagram(b []byte, now time.Time) {
	frag, err := wire.DecodeFragment(b)
	if err != nil {
		r.counters.AddBadPacket()
		return
	}
	r.counters.AddGoodPacket(len(b))

	st := r.inflight[frag.Camera]
	if st != nil && st.seq != frag.Sequence {
		// A fragment for a different record while this key's record is
		// incomplete. The old bytes were well-formed, so this is an
		// incomplete profile, not a bad packet.
		r.counters.AddIncomplete()
		delete(r.inflight, frag.Camera)
		st = nil
	}
	if st == nil {
		st = &inflight{
			seq:          frag.Sequence,
			format:       frag.Format,
			count:        frag.Count,
			parts:        make([][]byte, frag.Count),
			timestamp:    frag.Timestamp,
			encoder:      frag.Encoder,
			laserOnTime:  frag.LaserOnTime,
			exposureTime: frag.ExposureTime,
		}
		r.inflight[frag.Camera] = st
	}
	st.deadline = now.Add(r.timeout)

	if int(frag.Index) < len(st.parts) {
		if st.parts[frag.Index] == nil {
			st.received++
		}
		// Duplicates overwrite; the fragment payload aliases the caller's
		// read buffer and must be copied to survive the next receive.
		st.parts[frag.Index] = append([]byte(nil), frag.Payload...)
	}

	if st.received == int(st.count) {
		delete(r.inflight, frag.Camera)
		r.complete(st, frag.Camera, now)
	}

	if now.Sub(r.lastSweep) >= r.timeout {
		r.sweep(now)
	}
}

// complete assembles the accumulated fragments into a Profile and delivers
// it, or counts the record incomplete when the assembled payload does not
// match the format's expected size.
func (r *Reassembler) complete(st *inflight, camera uint8, now time.Time) {
	total := 0
	for _, part := range st.parts {
		total += len(part)
	}
	payload := make([]byte, 0, total)
	for _, part := range st.parts {
		payload = append(payload, part...)
	}

	if want := r.expectedPayload(st.format); want > 0 && len(payload) != want {
		// Well-formed fragments that do not add up to a valid record. Never
		// deliver malformed data; account for it instead.
		r.counters.AddIncomplete()
		return
	}

	r.buffer.Push(&Profile{
		Serial:       r.serial,
		HeadID:       r.headID,
		Camera:       camera,
		Sequence:     st.seq,
		Format:       st.format,
		Timestamp:    st.timestamp,
		Encoder:      st.encoder,
		LaserOnTime:  st.laserOnTime,
		ExposureTime: st.exposureTime,
		Payload:      payload,
		Received:     now,
	})
	r.counters.AddComplete()
}

func (r *Reassembler) expectedPayload(f wire.Format) int {
	if f == wire.FormatImage {
		return wire.ImageWidth * wire.ImageHeight
	}
	if columns := int(r.columns.Load()); columns > 0 {
		return columns * f.BytesPerColumn()
	}
	return 0
}

// sweep expires in-flight records whose deadline has passed, bounding the
// memory held for partials whose remaining fragments were lost.
func (r *Reassembler) sweep(now time.Time) {
	r.lastSweep = now
	for camera, st := range r.inflight {
		if now.After(st.deadline) {
			delete(r.inflight, camera)
			r.counters.AddIncomplete()
		}
	}
}

// Abandon drops all in-flight state, counting each partial as incomplete.
// Called on session teardown so partial records never outlive the session.
func (r *Reassembler) Abandon() {
	for camera := range r.inflight {
		delete(r.inflight, camera)
		r.counters.AddIncomplete()
	}
}

// InFlight reports how many partial records are currently being
// reassembled. Observability only.
func (r *Reassembler) InFlight() int { return len(r.inflight) }
