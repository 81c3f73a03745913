package scanhead

import (
	"fmt"
	"math"
)

// Orientation describes which way the scan head is mounted relative to the
// direction of travel. A downstream-facing head sees the travel axis
// mirrored.
type Orientation uint8

const (
	CableUpstream Orientation = iota
	CableDownstream
)

// Alignment maps raw camera-space profile points into the shared mill
// coordinate system: a roll rotation followed by X/Y shifts, with the travel
// axis mirrored for downstream-mounted heads. Inert configuration data; the
// driver stores it per camera but applies it only when the caller asks.
type Alignment struct {
	RollDegrees float64
	ShiftX      float64 // system units
	ShiftY      float64 // system units
	Orientation Orientation
}

// Validate rejects non-finite parameters. Cross-field validation of an
// alignment against the head's window and limits is intentionally not
// implemented; the hook exists so configuration plumbing has somewhere to
// grow, but no rules beyond finiteness are defined today.
func (a Alignment) Validate() error {
	for name, v := range map[string]float64{
		"roll":    a.RollDegrees,
		"shift x": a.ShiftX,
		"shift y": a.ShiftY,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("alignment %s must be finite, got %v", name, v)
		}
	}
	return nil
}

// Transform applies the alignment to one camera-space point, returning mill
// coordinates in system units.
func (a Alignment) Transform(x, y float64) (float64, float64) {
	if a.Orientation == CableDownstream {
		x = -x
	}
	sin, cos := math.Sincos(a.RollDegrees * math.Pi / 180)
	return x*cos - y*sin + a.ShiftX, x*sin + y*cos + a.ShiftY
}

// TransformPoints converts a point-format profile into mill coordinates,
// scaling raw sensor units into system units first. Image profiles return
// nil.
func (a Alignment) TransformPoints(p *Profile) [][2]float64 {
	raw := p.Points()
	if raw == nil {
		return nil
	}
	out := make([][2]float64, len(raw))
	for i, pt := range raw {
		x, y := a.Transform(float64(pt.X)/unitScale, float64(pt.Y)/unitScale)
		out[i] = [2]float64{x, y}
	}
	return out
}
