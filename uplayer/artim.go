package uplayer

import (
	"net"
	"time"
)

// artim realizes the Association Request/Reject/Release Timer as a read
// deadline on the transport. Expiry surfaces as a timeout error on the
// blocking read it bounds, which the runtime maps to EventARTIMExpired.
type artim struct {
	conn    net.Conn
	timeout time.Duration
}

func (t *artim) start() {
	if t.timeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.timeout))
		return
	}
	_ = t.conn.SetReadDeadline(time.Time{})
}

func (t *artim) stop() {
	_ = t.conn.SetReadDeadline(time.Time{})
}
