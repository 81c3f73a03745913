package scanhead

import "errors"

// Error taxonomy for the driver. Session- and command-level failures are
// returned synchronously from the operation that triggered them; per-datagram
// problems are absorbed into the statistics counters and never surface here.
var (
	// ErrConnectionFailed means the transport could not be opened or the
	// handshake did not complete within its bound. Retry Connect.
	ErrConnectionFailed = errors.New("scanhead: connection failed")

	// ErrNotConnected means the operation needs an active session.
	ErrNotConnected = errors.New("scanhead: not connected")

	// ErrVersionMismatch means the device firmware version is incompatible
	// with this host. Sticky for the life of the session: querying and
	// disconnecting still work, scanning does not.
	ErrVersionMismatch = errors.New("scanhead: device version incompatible")

	// ErrConfiguration means a requested rate or window is invalid given the
	// device-reported limits. The session is left untouched.
	ErrConfiguration = errors.New("scanhead: invalid configuration")

	// ErrCommandFailed means a control message could not be transmitted. The
	// session remains open but the operation did not take effect.
	ErrCommandFailed = errors.New("scanhead: command transmission failed")

	// ErrAlreadyScanning means a scan is in progress and the operation is
	// only valid while stopped.
	ErrAlreadyScanning = errors.New("scanhead: scan already in progress")

	// ErrBufferEmpty is the non-blocking take outcome when no profile is
	// buffered. Not a failure.
	ErrBufferEmpty = errors.New("scanhead: no profile buffered")

	// ErrTakeTimeout is the bounded-wait take outcome when the timeout
	// elapses first. Not a failure. Cancellation is reported separately as
	// the context's error.
	ErrTakeTimeout = errors.New("scanhead: timed out waiting for profile")
)
