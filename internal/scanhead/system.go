package scanhead

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aaronhudon/pinchot-net-api/internal/scanhead/wire"
)

// ScanSystem coordinates a set of scan heads as one machine: it assigns
// locally scoped ids, fans out start/stop, and enforces the system-wide
// scanning state. Configuration mutation is rejected while the system is
// scanning.
type ScanSystem struct {
	mu       sync.Mutex
	heads    map[uint32]*ScanHead
	nextID   uint32
	scanning bool
}

// NewScanSystem returns an empty system.
func NewScanSystem() *ScanSystem {
	return &ScanSystem{heads: make(map[uint32]*ScanHead)}
}

// CreateScanHead registers a head by hardware serial and assigns it the next
// locally scoped id. Rejected while the system is scanning.
func (s *ScanSystem) CreateScanHead(serial uint32, cfg Config) (*ScanHead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanning {
		return nil, fmt.Errorf("%w: cannot add heads while the system is scanning", ErrAlreadyScanning)
	}
	s.nextID++
	h := New(serial, s.nextID, cfg)
	s.heads[h.ID()] = h
	return h, nil
}

// ScanHead returns the head with the given locally scoped id, or nil.
func (s *ScanSystem) ScanHead(id uint32) *ScanHead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heads[id]
}

// Heads returns the registered heads in unspecified order.
func (s *ScanSystem) Heads() []*ScanHead {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ScanHead, 0, len(s.heads))
	for _, h := range s.heads {
		out = append(out, h)
	}
	return out
}

// IsScanning reports the system-wide scanning state.
func (s *ScanSystem) IsScanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// StartScanning fans the start command out to every registered head. If any
// head refuses, the ones already started are stopped again and the system
// stays not-scanning.
func (s *ScanSystem) StartScanning(rateHz uint32, format wire.Format, startColumn, endColumn uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanning {
		return fmt.Errorf("%w: system is already scanning", ErrAlreadyScanning)
	}

	started := make([]*ScanHead, 0, len(s.heads))
	for _, h := range s.heads {
		if err := h.StartScanning(rateHz, format, startColumn, endColumn); err != nil {
			for _, prev := range started {
				if stopErr := prev.StopScanning(); stopErr != nil {
					err = errors.Join(err, stopErr)
				}
			}
			return fmt.Errorf("start scan head %d: %w", h.ID(), err)
		}
		started = append(started, h)
	}
	s.scanning = true
	return nil
}

// StopScanning halts every head, collecting any command failures. The
// system is marked not-scanning even if some stop commands failed; the
// caller can retry per head or disconnect.
func (s *ScanSystem) StopScanning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs error
	for _, h := range s.heads {
		if err := h.StopScanning(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("stop scan head %d: %w", h.ID(), err))
		}
	}
	s.scanning = false
	return errs
}

// Disconnect tears down every head's session. Idempotent.
func (s *ScanSystem) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.heads {
		h.Disconnect()
	}
	s.scanning = false
}
