package transport

import (
	"sync"

	"golang.org/x/net/http2"
	"google.golang.org/grpc/codes"

	"github.com/wireloop/wireloop/grpcframe"
	"github.com/wireloop/wireloop/registry"
	"github.com/wireloop/wireloop/rpcctx"
	"github.com/wireloop/wireloop/status"
	"github.com/wireloop/wireloop/streamio"
)

// streamState is the server-side HTTP/2 stream state machine (spec §4.4).
type streamState int

const (
	stateIdle streamState = iota
	stateOpen
	stateHalfClosedLocal
	stateHalfClosedRemote
	stateClosed
)

func (s streamState) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateOpen:
		return "OPEN"
	case stateHalfClosedLocal:
		return "HALF_CLOSED_LOCAL"
	case stateHalfClosedRemote:
		return "HALF_CLOSED_REMOTE"
	case stateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// stream holds everything the connection runtime tracks per HTTP/2 stream:
// its state-machine position, its flow-control windows, and the
// request/response plumbing the handler fiber reads and writes through.
type stream struct {
	id    uint32
	conn  *Conn
	mu    sync.Mutex
	state streamState
	reset bool

	sendWindow *flowWindow
	recvWindow *flowWindow

	headers  grpcframe.RequestHeaders
	method   *registry.Method
	reader   *grpcframe.MessageReader
	encoding string // grpc-encoding the client sent, for decompression

	ctx *rpcctx.Context
	raw *streamio.RawStream

	headerBlock []byte // not written: HEADERS + CONTINUATION fragments accumulate in Conn.pendingHeaderBlock
}

func newStream(id uint32, conn *Conn) *stream {
	return &stream{
		id:         id,
		conn:       conn,
		state:      stateIdle,
		sendWindow: newFlowWindow(conn.settings.initialWindowSize),
		recvWindow: newFlowWindow(conn.settings.initialWindowSize),
	}
}

// onRecvHeaders transitions IDLE->OPEN or IDLE->HALF_CLOSED_REMOTE per the
// table in spec §4.4.
func (s *stream) onRecvHeaders(endStream bool) *status.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateIdle {
		return status.Newf(codes.Internal, "stream %d: HEADERS received in state %s", s.id, s.state)
	}
	if endStream {
		s.state = stateHalfClosedRemote
	} else {
		s.state = stateOpen
	}
	return nil
}

// onRecvEndStream transitions OPEN->HALF_CLOSED_REMOTE or
// HALF_CLOSED_LOCAL->CLOSED when the peer's END_STREAM flag arrives on a
// DATA or trailing HEADERS frame.
func (s *stream) onRecvEndStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateOpen:
		s.state = stateHalfClosedRemote
	case stateHalfClosedLocal:
		s.state = stateClosed
	}
}

// onSendEndStream transitions OPEN->HALF_CLOSED_LOCAL or
// HALF_CLOSED_REMOTE->CLOSED when the server emits its own END_STREAM.
func (s *stream) onSendEndStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateOpen:
		s.state = stateHalfClosedLocal
	case stateHalfClosedRemote:
		s.state = stateClosed
	}
}

// onReset marks the stream CLOSED with reset=true on receipt or emission of
// RST_STREAM from any non-IDLE, non-CLOSED state.
func (s *stream) onReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateClosed
	s.reset = true
}

func (s *stream) currentState() streamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stream) isClosed() bool {
	return s.currentState() == stateClosed
}

// canReceiveData reports whether a DATA frame is legal in the stream's
// current state; IDLE or HALF_CLOSED_REMOTE is STREAM_CLOSED (spec §4.4).
func (s *stream) canReceiveData() bool {
	switch s.currentState() {
	case stateIdle, stateHalfClosedRemote, stateClosed:
		return false
	default:
		return true
	}
}

// rstCode picks the RST_STREAM error code the connection writes back when
// closing a stream early.
func rstCode(st *status.Status) http2.ErrCode {
	if st == nil {
		return http2.ErrCodeNo
	}
	switch st.Code() {
	case codes.Canceled:
		return http2.ErrCodeCancel
	case codes.ResourceExhausted:
		return http2.ErrCodeEnhanceYourCalm
	default:
		return http2.ErrCodeInternal
	}
}
