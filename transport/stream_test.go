package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConn() *Conn {
	return &Conn{settings: defaultConnSettings(), streams: make(map[uint32]*stream)}
}

func TestStreamHeadersOpensOrHalfClosesRemote(t *testing.T) {
	s := newStream(1, testConn())
	require.Nil(t, s.onRecvHeaders(false))
	assert.Equal(t, stateOpen, s.currentState())

	s2 := newStream(3, testConn())
	require.Nil(t, s2.onRecvHeaders(true))
	assert.Equal(t, stateHalfClosedRemote, s2.currentState())
}

func TestStreamHeadersTwiceIsProtocolError(t *testing.T) {
	s := newStream(1, testConn())
	require.Nil(t, s.onRecvHeaders(false))
	st := s.onRecvHeaders(false)
	require.NotNil(t, st)
}

func TestStreamDataAfterEndStreamClosesOnEachSide(t *testing.T) {
	s := newStream(1, testConn())
	require.Nil(t, s.onRecvHeaders(false))
	assert.True(t, s.canReceiveData())

	s.onSendEndStream()
	assert.Equal(t, stateHalfClosedLocal, s.currentState())
	assert.True(t, s.canReceiveData())

	s.onRecvEndStream()
	assert.Equal(t, stateClosed, s.currentState())
	assert.False(t, s.canReceiveData())
}

func TestStreamRecvEndStreamThenSendEndStreamCloses(t *testing.T) {
	s := newStream(1, testConn())
	require.Nil(t, s.onRecvHeaders(false))
	s.onRecvEndStream()
	assert.Equal(t, stateHalfClosedRemote, s.currentState())
	s.onSendEndStream()
	assert.Equal(t, stateClosed, s.currentState())
}

func TestStreamResetClosesFromAnyState(t *testing.T) {
	s := newStream(1, testConn())
	require.Nil(t, s.onRecvHeaders(false))
	s.onReset()
	assert.True(t, s.isClosed())
	assert.True(t, s.reset)
}

func TestStreamCanReceiveDataRejectsIdleAndHalfClosedRemote(t *testing.T) {
	s := newStream(1, testConn())
	assert.False(t, s.canReceiveData()) // IDLE

	require.Nil(t, s.onRecvHeaders(true)) // -> HALF_CLOSED_REMOTE
	assert.False(t, s.canReceiveData())
}
