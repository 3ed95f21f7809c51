package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowWindowReserveSendBlocksUntilUpdate(t *testing.T) {
	w := newFlowWindow(10)
	require.True(t, w.reserveSend(10, nil))

	done := make(chan bool, 1)
	go func() {
		done <- w.reserveSend(5, nil)
	}()

	select {
	case <-done:
		t.Fatal("reserveSend returned before window was replenished")
	case <-time.After(20 * time.Millisecond):
	}

	require.Nil(t, w.applyWindowUpdate(5))
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("reserveSend never woke up after WINDOW_UPDATE")
	}
}

func TestFlowWindowReserveSendAbort(t *testing.T) {
	w := newFlowWindow(0)
	abort := make(chan struct{})
	done := make(chan bool, 1)
	go func() {
		done <- w.reserveSend(1, abort)
	}()
	time.Sleep(10 * time.Millisecond)
	close(abort)
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("reserveSend never observed abort")
	}
}

func TestFlowWindowApplyWindowUpdateRejectsZero(t *testing.T) {
	w := newFlowWindow(10)
	st := w.applyWindowUpdate(0)
	require.NotNil(t, st)
}

func TestFlowWindowApplyWindowUpdateRejectsOverflow(t *testing.T) {
	w := newFlowWindow(maxWindowSize)
	st := w.applyWindowUpdate(1)
	require.NotNil(t, st)
}

func TestFlowWindowConsumeRecvTriggersUpdateAtHalf(t *testing.T) {
	w := newFlowWindow(100)
	_, ok := w.consumeRecv(40)
	assert.False(t, ok)
	update, ok := w.consumeRecv(20)
	assert.True(t, ok)
	assert.EqualValues(t, 60, update)
}

func TestFlowWindowAdjustInitial(t *testing.T) {
	w := newFlowWindow(100)
	w.adjustInitial(-50)
	require.True(t, w.reserveSend(50, nil))

	abort := make(chan struct{})
	done := make(chan bool, 1)
	go func() { done <- w.reserveSend(1, abort) }()
	select {
	case <-done:
		t.Fatal("reserveSend should have blocked: window was fully drained")
	case <-time.After(20 * time.Millisecond):
	}
	close(abort)
	<-done
}
