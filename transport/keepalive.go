package transport

import "time"

// KeepaliveParams configures the PING frames a Conn emits to detect a dead
// peer, adapted from the gateway package's client-facing keepalive knobs
// into the server connection runtime (spec §4.5 step 6, §4.11).
type KeepaliveParams struct {
	// Interval between PING frames when PermitWithoutStream is set, or
	// between pings on a connection with at least one active stream.
	// Zero disables keepalive pings entirely.
	Interval time.Duration

	// Timeout waiting for a PING ACK before the connection is judged dead
	// and torn down with GOAWAY.
	Timeout time.Duration

	// PermitWithoutStream allows pings on an otherwise idle connection.
	PermitWithoutStream bool
}

// DefaultKeepaliveParams mirrors the teacher's DefaultKeepaliveParams
// defaults (2h interval, 20s timeout, no pings while idle).
func DefaultKeepaliveParams() KeepaliveParams {
	return KeepaliveParams{
		Interval:            2 * time.Hour,
		Timeout:             20 * time.Second,
		PermitWithoutStream: false,
	}
}
