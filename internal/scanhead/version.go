package scanhead

import "fmt"

// Version is a protocol version triple reported by the device during the
// connect handshake and advertised by the host in its Connect command.
type Version struct {
	Major uint16
	Minor uint16
	Patch uint16
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// HostVersion is the protocol version this driver implements.
var HostVersion = Version{Major: 2, Minor: 1, Patch: 0}

// MinimumMinor is the lowest device minor version this driver will scan
// with. Devices below it can still be queried and disconnected.
const MinimumMinor uint16 = 1

// checkCompatibility applies the version rule: the device must match the
// host's major version exactly and carry at least the minimum minor. The
// returned reason is empty when compatible.
func checkCompatibility(host, device Version, minMinor uint16) (ok bool, reason string) {
	if device.Major != host.Major {
		return false, fmt.Sprintf("device protocol %s does not match host major version %d", device, host.Major)
	}
	if device.Minor < minMinor {
		return false, fmt.Sprintf("device protocol %s is below minimum minor version %d", device, minMinor)
	}
	return true, ""
}
