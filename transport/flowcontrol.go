package transport

import (
	"sync"

	"google.golang.org/grpc/codes"

	"github.com/wireloop/wireloop/status"
)

// maxWindowSize is 2^31-1, the largest value a flow-control window may
// reach before a WINDOW_UPDATE is a FLOW_CONTROL_ERROR (spec §4.3).
const maxWindowSize = (1 << 31) - 1

// flowWindow is one flow-control scope (a connection, or a single stream):
// a send-side available count and a receive-side accounting of bytes
// consumed-but-not-yet-acknowledged via WINDOW_UPDATE.
type flowWindow struct {
	mu sync.Mutex

	send int32 // bytes we may still send before blocking
	cond *sync.Cond

	recvAvail   int32 // window we have advertised to the peer
	recvPending int32 // bytes received since the last WINDOW_UPDATE we sent
	initial     int32
}

func newFlowWindow(initial int32) *flowWindow {
	w := &flowWindow{send: initial, recvAvail: initial, initial: initial}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// reserveSend blocks until at least n bytes of send window are available,
// then decrements it, implementing the "both windows ≥ s" rule of §4.3.
// It returns early with ok=false if abort fires before enough window opens.
func (w *flowWindow) reserveSend(n int32, abort <-chan struct{}) (ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.send < n {
		if !w.waitOrAbort(abort) {
			return false
		}
	}
	w.send -= n
	return true
}

// waitOrAbort waits on the condition variable for a window update, waking
// early if abort is closed. Callers must hold w.mu.
func (w *flowWindow) waitOrAbort(abort <-chan struct{}) bool {
	select {
	case <-abort:
		return false
	default:
	}
	woken := make(chan struct{})
	go func() {
		select {
		case <-abort:
			w.mu.Lock()
			w.cond.Broadcast()
			w.mu.Unlock()
		case <-woken:
		}
	}()
	w.cond.Wait()
	close(woken)
	select {
	case <-abort:
		return false
	default:
		return true
	}
}

// applyWindowUpdate adds increment to the send window after a
// WINDOW_UPDATE frame, validating the overflow/zero-increment rules.
func (w *flowWindow) applyWindowUpdate(increment int32) *status.Status {
	if increment == 0 {
		return status.Newf(codes.Internal, "WINDOW_UPDATE increment must not be zero")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if int64(w.send)+int64(increment) > maxWindowSize {
		return status.Newf(codes.ResourceExhausted, "flow-control window overflow")
	}
	w.send += increment
	w.cond.Broadcast()
	return nil
}

// adjustInitial shifts the send window by delta when SETTINGS changes
// INITIAL_WINDOW_SIZE for already-open streams (spec §4.3); delta may be
// negative, and the window may go negative as a result.
func (w *flowWindow) adjustInitial(delta int32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.send += delta
	if w.send > 0 {
		w.cond.Broadcast()
	}
}

// consumeRecv decrements the receive window by n (DATA arrived) and
// reports whether pending consumption has crossed the 50% threshold that
// should trigger an outgoing WINDOW_UPDATE (spec §4.3).
func (w *flowWindow) consumeRecv(n int32) (update int32, shouldUpdate bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recvAvail -= n
	w.recvPending += n
	if w.recvPending*2 >= w.initial {
		update = w.recvPending
		w.recvPending = 0
		w.recvAvail += update
		return update, true
	}
	return 0, false
}
