package scanhead

import "fmt"

// ScanWindow bounds the region of interest the device should scan. Extents
// are in thousandths of the configured system unit, measured from the scan
// head's reference point: Top/Bottom along the laser axis, Left/Right along
// the travel axis.
type ScanWindow struct {
	Top    int32
	Bottom int32
	Left   int32
	Right  int32
}

// NewScanWindow builds a window from extents expressed in whole system
// units (inches or millimetres per the head's Units).
func NewScanWindow(top, bottom, left, right float64) ScanWindow {
	return ScanWindow{
		Top:    int32(top * unitScale),
		Bottom: int32(bottom * unitScale),
		Left:   int32(left * unitScale),
		Right:  int32(right * unitScale),
	}
}

// Validate checks the window's internal geometry. Inert data: no device
// limits are consulted here.
func (w ScanWindow) Validate() error {
	if w.Top <= w.Bottom {
		return fmt.Errorf("window top (%d) must be above bottom (%d)", w.Top, w.Bottom)
	}
	if w.Right <= w.Left {
		return fmt.Errorf("window right (%d) must be beyond left (%d)", w.Right, w.Left)
	}
	return nil
}
