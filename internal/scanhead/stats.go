package scanhead

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Counters tracks receive-loop statistics with thread-safe operations. The
// receive loop is the only writer; snapshots may be read from anywhere.
type Counters struct {
	mu                 sync.Mutex
	goodPackets        uint64
	badPackets         uint64
	bytesReceived      uint64
	completeProfiles   uint64
	incompleteProfiles uint64
}

// AddGoodPacket records one structurally valid fragment and its size.
func (c *Counters) AddGoodPacket(bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.goodPackets++
	c.bytesReceived += uint64(bytes)
}

// AddBadPacket records one malformed datagram.
func (c *Counters) AddBadPacket() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.badPackets++
}

// AddComplete records one fully reassembled profile.
func (c *Counters) AddComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completeProfiles++
}

// AddIncomplete records one abandoned partial profile.
func (c *Counters) AddIncomplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incompleteProfiles++
}

func (c *Counters) totals() (good, bad, bytes, complete, incomplete uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goodPackets, c.badPackets, c.bytesReceived, c.completeProfiles, c.incompleteProfiles
}

// Snapshot is one published view of a device's communication statistics.
// Immutable once published; each snapshot supersedes the previous one.
type Snapshot struct {
	Serial             uint32
	HeadID             uint32
	Time               time.Time
	GoodPackets        uint64
	BadPackets         uint64
	BytesReceived      uint64
	CompleteProfiles   uint64
	IncompleteProfiles uint64
	Evictions          uint64
	ProfilesPerSec     float64
	BytesPerSec        float64
}

// Aggregator periodically derives a Snapshot from the cumulative counters
// and fans it out to subscribers. Publication never blocks: a subscriber
// that falls behind misses snapshots rather than stalling ingestion.
type Aggregator struct {
	serial   uint32
	headID   uint32
	counters *Counters
	buffer   *ProfileBuffer
	interval time.Duration

	subMu sync.Mutex
	subs  map[string]chan Snapshot

	lastMu sync.Mutex
	last   Snapshot
}

// NewAggregator wires an aggregator to the given counters and buffer. The
// interval defaults to one second when zero.
func NewAggregator(serial, headID uint32, counters *Counters, buffer *ProfileBuffer, interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Aggregator{
		serial:   serial,
		headID:   headID,
		counters: counters,
		buffer:   buffer,
		interval: interval,
		subs:     make(map[string]chan Snapshot),
		last:     Snapshot{Serial: serial, HeadID: headID, Time: time.Now()},
	}
}

// Subscribe creates a new snapshot channel. The returned id identifies the
// subscription for Unsubscribe. The channel has a small backlog; snapshots
// are dropped, not queued, once it fills.
func (a *Aggregator) Subscribe() (string, <-chan Snapshot) {
	id := uuid.NewString()
	ch := make(chan Snapshot, 4)
	a.subMu.Lock()
	a.subs[id] = ch
	a.subMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscription and closes its channel.
func (a *Aggregator) Unsubscribe(id string) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	if ch, ok := a.subs[id]; ok {
		delete(a.subs, id)
		close(ch)
	}
}

// Latest returns the most recently published snapshot, for polling callers
// that do not want a subscription.
func (a *Aggregator) Latest() Snapshot {
	a.lastMu.Lock()
	defer a.lastMu.Unlock()
	return a.last
}

// Run publishes snapshots on the configured interval until ctx is
// cancelled. Intended to run in its own goroutine for the life of a session.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.publish(a.SnapshotAt(now))
		}
	}
}

// SnapshotAt computes the cumulative totals plus rate-of-change since the
// previously published snapshot. Run calls it on the configured interval;
// offline tooling may call it directly.
func (a *Aggregator) SnapshotAt(now time.Time) Snapshot {
	good, bad, bytes, complete, incomplete := a.counters.totals()
	s := Snapshot{
		Serial:             a.serial,
		HeadID:             a.headID,
		Time:               now,
		GoodPackets:        good,
		BadPackets:         bad,
		BytesReceived:      bytes,
		CompleteProfiles:   complete,
		IncompleteProfiles: incomplete,
	}
	if a.buffer != nil {
		s.Evictions = a.buffer.Evicted()
	}

	a.lastMu.Lock()
	prev := a.last
	a.lastMu.Unlock()
	if dt := now.Sub(prev.Time).Seconds(); dt > 0 {
		s.ProfilesPerSec = float64(s.CompleteProfiles-prev.CompleteProfiles) / dt
		s.BytesPerSec = float64(s.BytesReceived-prev.BytesReceived) / dt
	}
	return s
}

func (a *Aggregator) publish(s Snapshot) {
	a.lastMu.Lock()
	a.last = s
	a.lastMu.Unlock()

	a.subMu.Lock()
	defer a.subMu.Unlock()
	for _, ch := range a.subs {
		select {
		case ch <- s:
		default:
			// Subscriber backlog full. Drop this snapshot for them; the
			// next one supersedes it anyway.
		}
	}
}
