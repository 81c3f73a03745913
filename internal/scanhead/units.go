package scanhead

// unitScale converts whole system units to the thousandths used on the wire
// and in ScanWindow.
const unitScale = 1000

// Units selects the measurement system profile geometry is expressed in.
type Units uint8

const (
	UnitsInches Units = iota
	UnitsMillimeters
)

func (u Units) String() string {
	if u == UnitsMillimeters {
		return "millimeters"
	}
	return "inches"
}

// PerInch returns how many of u fit in one inch, for converting values
// between unit systems.
func (u Units) PerInch() float64 {
	if u == UnitsMillimeters {
		return 25.4
	}
	return 1
}
