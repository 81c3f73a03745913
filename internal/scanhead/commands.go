package scanhead

import (
	"fmt"

	"github.com/aaronhudon/pinchot-net-api/internal/scanhead/wire"
)

// StartScanning instructs the device to stream profiles at rateHz in the
// given format over the column window [startColumn, endColumn]. It requires
// an active, version-compatible session and rejects re-entry while a scan is
// already streaming. Validation happens before anything else: on a
// configuration error no command is sent and the buffer is untouched. Once
// the request is valid, any profiles left over from a previous run are
// cleared so the new run never sees stale data.
func (h *ScanHead) StartScanning(rateHz uint32, format wire.Format, startColumn, endColumn uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == nil {
		return ErrNotConnected
	}
	if h.mismatch {
		return fmt.Errorf("%w: %s", ErrVersionMismatch, h.mismatchReason)
	}
	if h.scanning {
		return fmt.Errorf("%w: stop the current scan before starting another", ErrAlreadyScanning)
	}
	if !format.Valid() {
		return fmt.Errorf("%w: unknown data format 0x%02x", ErrConfiguration, uint8(format))
	}
	if rateHz == 0 {
		return fmt.Errorf("%w: scan rate must be positive", ErrConfiguration)
	}
	if rateHz > h.maxRateHz {
		return fmt.Errorf("%w: requested rate %d Hz exceeds device maximum %d Hz", ErrConfiguration, rateHz, h.maxRateHz)
	}
	if endColumn < startColumn {
		return fmt.Errorf("%w: column range [%d, %d] is inverted", ErrConfiguration, startColumn, endColumn)
	}
	if int(endColumn) >= wire.ImageWidth {
		return fmt.Errorf("%w: end column %d beyond sensor width %d", ErrConfiguration, endColumn, wire.ImageWidth)
	}

	// The request is valid. This is the only operation that resets the
	// profile buffer.
	h.buffer.Clear()
	h.rasm.SetColumnWindow(int(endColumn-startColumn) + 1)

	cmd := wire.EncodeCommand(wire.StartScan{
		Session:     h.session,
		RateHz:      rateHz,
		Format:      format,
		StartColumn: startColumn,
		EndColumn:   endColumn,
	})
	if _, err := h.conn.Write(cmd); err != nil {
		return fmt.Errorf("%w: start scan: %v", ErrCommandFailed, err)
	}
	h.scanning = true
	return nil
}

// StopScanning instructs the device to halt streaming. Safe to call when
// already stopped or disconnected; stopping twice is a no-op.
func (h *ScanHead) StopScanning() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == nil {
		return nil
	}
	if _, err := h.conn.Write(wire.EncodeCommand(wire.StopScan{Session: h.session})); err != nil {
		return fmt.Errorf("%w: stop scan: %v", ErrCommandFailed, err)
	}
	h.scanning = false
	return nil
}

// SetWindow pushes w to the device. Only meaningful before scanning starts;
// while streaming it is rejected so the device's window and the host's view
// of it cannot diverge mid-run.
func (h *ScanHead) SetWindow(w ScanWindow) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == nil {
		return ErrNotConnected
	}
	if h.mismatch {
		return fmt.Errorf("%w: %s", ErrVersionMismatch, h.mismatchReason)
	}
	if h.scanning {
		return fmt.Errorf("%w: cannot change the scan window while streaming", ErrAlreadyScanning)
	}
	if err := w.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	cmd := wire.EncodeCommand(wire.SetWindow{
		Session: h.session,
		Top:     w.Top,
		Bottom:  w.Bottom,
		Left:    w.Left,
		Right:   w.Right,
	})
	if _, err := h.conn.Write(cmd); err != nil {
		return fmt.Errorf("%w: set window: %v", ErrCommandFailed, err)
	}
	h.window = w
	return nil
}

// Window returns the last scan window successfully pushed to the device in
// this session.
func (h *ScanHead) Window() ScanWindow {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.window
}

// SetAlignment stores the alignment transform for a camera. Host-side only;
// nothing is transmitted. Returns ErrConfiguration for an unknown camera or
// non-finite parameters.
func (h *ScanHead) SetAlignment(camera uint8, a Alignment) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(camera) >= len(h.alignment) {
		return fmt.Errorf("%w: camera %d out of range", ErrConfiguration, camera)
	}
	h.alignment[camera] = a
	return nil
}

// Alignment returns the stored alignment transform for a camera.
func (h *ScanHead) Alignment(camera uint8) Alignment {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(camera) >= len(h.alignment) {
		return Alignment{}
	}
	return h.alignment[camera]
}
