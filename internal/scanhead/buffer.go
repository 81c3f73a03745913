package scanhead

import (
	"context"
	"sync"
	"time"
)

// DefaultProfileCapacity is the buffer size used when a session is started
// without an explicit capacity.
const DefaultProfileCapacity = 1000

// ProfileBuffer is a bounded FIFO of completed profiles shared between the
// streaming receiver (producer) and the application (consumer). When full,
// Push evicts the oldest unread profile so the producer never blocks: for a
// live sensor feed, recency beats completeness of the read history.
type ProfileBuffer struct {
	mu         sync.Mutex
	data       []*Profile
	capacity   int
	evicted    uint64
	overflowed bool

	// signal carries at most one pending wakeup for blocked takers. Takers
	// re-check the queue after every wakeup, so a coalesced or stale pulse
	// is harmless.
	signal chan struct{}
}

// NewProfileBuffer returns an empty buffer holding at most capacity
// profiles. Non-positive capacities fall back to DefaultProfileCapacity.
func NewProfileBuffer(capacity int) *ProfileBuffer {
	if capacity <= 0 {
		capacity = DefaultProfileCapacity
	}
	return &ProfileBuffer{
		data:     make([]*Profile, 0, capacity),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Push appends p, evicting the oldest unread profile if the buffer is at
// capacity. Never blocks.
func (b *ProfileBuffer) Push(p *Profile) {
	b.mu.Lock()
	if len(b.data) >= b.capacity {
		copy(b.data, b.data[1:])
		b.data = b.data[:len(b.data)-1]
		b.evicted++
		b.overflowed = true
	}
	b.data = append(b.data, p)
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// TryTake removes and returns the oldest profile without blocking. Returns
// ErrBufferEmpty when nothing is buffered.
func (b *ProfileBuffer) TryTake() (*Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return nil, ErrBufferEmpty
	}
	p := b.data[0]
	b.data[0] = nil
	b.data = b.data[1:]
	if len(b.data) == 0 {
		// Reclaim the backing array so the slice head cannot creep forever.
		b.data = make([]*Profile, 0, b.capacity)
	}
	return p, nil
}

// Take blocks until a profile is available or ctx is cancelled. A cancelled
// take consumes nothing.
func (b *ProfileBuffer) Take(ctx context.Context) (*Profile, error) {
	for {
		if p, err := b.TryTake(); err == nil {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.signal:
		}
	}
}

// TakeTimeout is the bounded-wait variant of Take. A zero or negative
// timeout polls once. Returns ErrTakeTimeout when the timeout elapses and
// ctx.Err() when cancelled; the two are distinct outcomes.
func (b *ProfileBuffer) TakeTimeout(ctx context.Context, timeout time.Duration) (*Profile, error) {
	if p, err := b.TryTake(); err == nil {
		return p, nil
	}
	if timeout <= 0 {
		return nil, ErrTakeTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrTakeTimeout
		case <-b.signal:
			if p, err := b.TryTake(); err == nil {
				return p, nil
			}
		}
	}
}

// Clear drains all buffered profiles without blocking and resets the
// overflow flag. Returns the number of profiles dropped. Called when a scan
// (re)starts so stale data from a prior run is never delivered to a new one.
func (b *ProfileBuffer) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.data)
	b.data = make([]*Profile, 0, b.capacity)
	b.overflowed = false
	return n
}

// Len reports the current count. Advisory only: under concurrent mutation
// the value may be stale by the time the caller sees it.
func (b *ProfileBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Capacity returns the fixed capacity the buffer was created with.
func (b *ProfileBuffer) Capacity() int { return b.capacity }

// Overflowed reports whether an eviction has happened since the last Clear.
func (b *ProfileBuffer) Overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflowed
}

// Evicted returns the cumulative number of profiles dropped to make room
// for newer ones. Not reset by Clear.
func (b *ProfileBuffer) Evicted() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}
