package scanhead

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/aaronhudon/pinchot-net-api/internal/monitoring"
)

// DefaultIdleTimeout is how long one blocking read may sit before the
// receive loop re-checks for cancellation. Disconnect is therefore observed
// within one idle interval.
const DefaultIdleTimeout = 100 * time.Millisecond

// receiveBufSize comfortably fits a max-size fragment (header plus
// MaxFragmentPayload) with margin.
const receiveBufSize = 2048

// receiver runs the continuous receive loop for one session. It owns the
// reassembly state; the socket stays owned by the session manager, which is
// the only closer.
type receiver struct {
	conn        *net.UDPConn
	rasm        *Reassembler
	idleTimeout time.Duration
}

func newReceiver(conn *net.UDPConn, rasm *Reassembler, idleTimeout time.Duration) *receiver {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &receiver{conn: conn, rasm: rasm, idleTimeout: idleTimeout}
}

// run receives datagrams until ctx is cancelled or the socket is closed.
// Per-datagram problems are absorbed into the counters; only loop exit is
// reported, and a closed socket is a clean exit, not an error.
func (rx *receiver) run(ctx context.Context) error {
	defer rx.rasm.Abandon()

	buf := make([]byte, receiveBufSize)
	var deadlineErrLogged bool

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := rx.conn.SetReadDeadline(time.Now().Add(rx.idleTimeout)); err != nil {
			if !deadlineErrLogged {
				monitoring.Logf("scanhead: failed to set read deadline: %v", err)
				deadlineErrLogged = true
			}
		}

		n, err := rx.conn.Read(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// Idle interval with no traffic. Let the reassembler expire
				// stale partials before trying again.
				rx.rasm.sweep(time.Now())
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			// Transient transport noise (e.g. ICMP unreachable surfaced on a
			// connected UDP socket). The socket is still open, so keep going.
			monitoring.Logf("scanhead: receive error: %v", err)
			continue
		}

		rx.rasm.ProcessDatagram(buf[:n], time.Now())
	}
}
