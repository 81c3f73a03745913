package scanhead

import (
	"time"

	"github.com/aaronhudon/pinchot-net-api/internal/scanhead/wire"
)

// Profile is one reassembled unit of sensor output: a single capture instant
// on one camera. Profiles are created only by the streaming receiver and are
// never mutated afterwards; whoever holds one owns it.
type Profile struct {
	Serial       uint32 // device hardware serial
	HeadID       uint32 // locally scoped id assigned by the scan system
	Camera       uint8
	Sequence     uint32 // device-declared record ordering, monotonic per camera
	Format       wire.Format
	Timestamp    uint64 // device capture clock, nanoseconds
	Encoder      int64  // encoder counts at capture
	LaserOnTime  uint16 // microseconds
	ExposureTime uint16 // microseconds
	Payload      []byte // point data or raw image, per Format
	Received     time.Time
}

// Point is one column measurement from a point-format profile. X and Y are
// raw sensor units; Brightness is zero for FormatXY.
type Point struct {
	X          int16
	Y          int16
	Brightness uint16
}

// Points splits a point-format payload into columns. Returns nil for image
// profiles or a payload that is not a whole number of columns. The split is
// purely structural; interpreting the coordinate space is the caller's
// business (see Alignment).
func (p *Profile) Points() []Point {
	stride := p.Format.BytesPerColumn()
	if stride == 0 || len(p.Payload)%stride != 0 {
		return nil
	}
	points := make([]Point, len(p.Payload)/stride)
	for i := range points {
		col := p.Payload[i*stride:]
		points[i].X = int16(uint16(col[0])<<8 | uint16(col[1]))
		points[i].Y = int16(uint16(col[2])<<8 | uint16(col[3]))
		if p.Format == wire.FormatXYBrightness {
			points[i].Brightness = uint16(col[4])<<8 | uint16(col[5])
		}
	}
	return points
}
