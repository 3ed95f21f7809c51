// Package transport implements spec.md §4.1-§4.5: the HTTP/2 connection
// runtime a gRPC server needs underneath the wire — frame codec, HPACK
// codec, flow control, the per-stream state machine, and the demux/writer
// loops that tie them together. It rides on golang.org/x/net/http2's
// Framer for frame I/O and golang.org/x/net/http2/hpack for header
// compression (the same libraries and call pattern keploy's HTTP/2 proxy
// uses), but owns the stream lifecycle and windows itself rather than
// delegating to http2.Server: the spec requires exactly the demux,
// state-machine, and flow-control behavior implemented here.
package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"

	"github.com/wireloop/wireloop/dispatch"
	"github.com/wireloop/wireloop/grpcframe"
	"github.com/wireloop/wireloop/status"
)

// errConnClosed is returned by submitWrite once the connection has begun
// tearing down.
var errConnClosed = errors.New("transport: connection closed")

// errKeepaliveTimeout is the internal sentinel used to abort a connection
// that never acknowledged a keepalive PING (spec §4.5 step 6).
var errKeepaliveTimeout = errors.New("transport: keepalive ping timed out")

// Conn is one accepted HTTP/2 connection speaking gRPC. Serve runs its
// entire lifecycle: preface, SETTINGS exchange, demux loop, and teardown.
type Conn struct {
	netConn net.Conn
	framer  *http2.Framer

	hpackEnc    *hpack.Encoder
	hpackEncBuf *bytes.Buffer
	hpackDec    *hpack.Decoder

	dispatcher  *dispatch.Dispatcher
	compressors *grpcframe.Registry
	logger      *zap.Logger
	keepalive   KeepaliveParams

	settings connSettings

	connSendWindow *flowWindow
	connRecvWindow *flowWindow

	mu                    sync.Mutex
	streams               map[uint32]*stream
	highestClientStreamID uint32
	peerGoAway            bool
	pendingPingData       [8]byte
	pingAckCh             chan struct{}

	pendingHeaderStreamID uint32
	pendingHeaderBlock    []byte
	pendingEndStream      bool

	writeCh   chan writeJob
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

type writeJob struct {
	fn     func() error
	result chan error
}

// New wraps an accepted net.Conn (already past any TLS handshake) for
// gRPC-over-HTTP/2 service with the package's default SETTINGS values.
// dispatcher must be built against a frozen registry (spec §4.9).
func New(netConn net.Conn, dispatcher *dispatch.Dispatcher, compressors *grpcframe.Registry, logger *zap.Logger, keepalive KeepaliveParams) *Conn {
	return NewWithSettings(netConn, dispatcher, compressors, logger, keepalive, DefaultSettings())
}

// NewWithSettings is New with an explicit Settings override, used by the
// server package to carry config.Config's resource bounds (spec §5, §6)
// onto every accepted connection.
func NewWithSettings(netConn net.Conn, dispatcher *dispatch.Dispatcher, compressors *grpcframe.Registry, logger *zap.Logger, keepalive KeepaliveParams, s Settings) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	if compressors == nil {
		compressors = grpcframe.NewRegistry()
	}
	settings := s.toInternal()
	c := &Conn{
		netConn:        netConn,
		dispatcher:     dispatcher,
		compressors:    compressors,
		logger:         logger,
		keepalive:      keepalive,
		settings:       settings,
		connSendWindow: newFlowWindow(65535), // RFC 7540 connection window starts at 65535 regardless of SETTINGS
		connRecvWindow: newFlowWindow(65535),
		streams:        make(map[uint32]*stream),
		writeCh:        make(chan writeJob),
		done:           make(chan struct{}),
	}
	var encBuf bytes.Buffer
	c.hpackEncBuf = &encBuf
	c.hpackEnc = hpack.NewEncoder(&encBuf)
	c.hpackDec = hpack.NewDecoder(settings.headerTableSize, nil)
	return c
}

// Serve runs the connection until the preface fails, the peer closes the
// socket, a protocol violation is detected, or ctx is cancelled (server
// shutdown). It always returns a non-nil error; io.EOF means the peer
// closed cleanly.
func (c *Conn) Serve(ctx context.Context) error {
	if err := c.readPreface(); err != nil {
		c.netConn.Close()
		return fmt.Errorf("transport: preface: %w", err)
	}
	c.framer = http2.NewFramer(c.netConn, c.netConn)
	c.framer.SetReuseFrames()

	c.wg.Add(1)
	go c.writeLoop()

	if err := c.sendInitialSettings(); err != nil {
		c.abort(err)
		return err
	}
	if c.keepalive.Interval > 0 {
		c.wg.Add(1)
		go c.keepaliveLoop()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-ctx.Done():
			c.goAway(http2.ErrCodeNo, "server shutdown")
			c.abort(ctx.Err())
		case <-c.done:
		}
	}()

	defer c.teardown()

	for {
		frame, err := c.framer.ReadFrame()
		if err != nil {
			return err
		}
		if err := c.handleFrame(frame); err != nil {
			c.abort(err)
			return err
		}
		select {
		case <-c.done:
			return errConnClosed
		default:
		}
	}
}

// readPreface consumes and validates the client connection preface (spec
// §4.5 step 1): exactly "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n".
func (c *Conn) readPreface() error {
	buf := make([]byte, len(http2.ClientPreface))
	if _, err := io.ReadFull(c.netConn, buf); err != nil {
		return err
	}
	if string(buf) != http2.ClientPreface {
		return errors.New("bad connection preface")
	}
	return nil
}

func (c *Conn) sendInitialSettings() error {
	return c.submitWrite(func() error {
		return c.framer.WriteSettings(
			http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: c.settings.maxConcurrentStreams},
			http2.Setting{ID: http2.SettingInitialWindowSize, Val: uint32(c.settings.initialWindowSize)},
			http2.Setting{ID: http2.SettingMaxFrameSize, Val: c.settings.maxFrameSize},
			http2.Setting{ID: http2.SettingHeaderTableSize, Val: c.settings.headerTableSize},
		)
	})
}

// submitWrite hands fn to the single writer goroutine and blocks for its
// result, serializing every frame write onto the connection (spec §4.5
// step 5: "a single serializer per connection owns the write end").
func (c *Conn) submitWrite(fn func() error) error {
	job := writeJob{fn: fn, result: make(chan error, 1)}
	select {
	case c.writeCh <- job:
	case <-c.done:
		return errConnClosed
	}
	select {
	case err := <-job.result:
		return err
	case <-c.done:
		return errConnClosed
	}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case job := <-c.writeCh:
			err := job.fn()
			job.result <- err
			if err != nil {
				c.abort(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) abort(err error) {
	c.closeOnce.Do(func() {
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("transport: connection aborting", zap.Error(err))
		}
		close(c.done)
		c.netConn.Close()
	})
}

func (c *Conn) teardown() {
	c.mu.Lock()
	streams := make([]*stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()
	for _, s := range streams {
		s.onReset()
		s.ctx.Cancel()
		s.raw.CloseOut(status.Newf(codes.Unavailable, "connection closed").Err())
	}
	c.abort(nil)
	c.wg.Wait()
}

func (c *Conn) goAway(code http2.ErrCode, msg string) {
	c.mu.Lock()
	last := c.highestClientStreamID
	c.mu.Unlock()
	_ = c.submitWrite(func() error {
		return c.framer.WriteGoAway(last, code, []byte(msg))
	})
}

func (c *Conn) streamCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

func (c *Conn) lookupStream(id uint32) *stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[id]
}

func (c *Conn) removeStream(id uint32) {
	c.mu.Lock()
	delete(c.streams, id)
	c.mu.Unlock()
}

// keepaliveLoop implements spec §4.5 step 6: periodic PING with a random
// payload, GOAWAY + teardown if no ACK arrives within the timeout.
func (c *Conn) keepaliveLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.keepalive.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if !c.keepalive.PermitWithoutStream && c.streamCount() == 0 {
				continue
			}
			var payload [8]byte
			if _, err := rand.Read(payload[:]); err != nil {
				continue
			}
			ackCh := make(chan struct{}, 1)
			c.mu.Lock()
			c.pendingPingData = payload
			c.pingAckCh = ackCh
			c.mu.Unlock()

			if err := c.submitWrite(func() error { return c.framer.WritePing(false, payload) }); err != nil {
				return
			}
			select {
			case <-ackCh:
			case <-time.After(c.keepalive.Timeout):
				c.goAway(http2.ErrCodeNo, "keepalive timeout")
				c.abort(errKeepaliveTimeout)
				return
			case <-c.done:
				return
			}
		}
	}
}

// Shutdown implements the connection half of spec §4.11 stop(): force
// tears the connection down immediately; graceful sends GOAWAY and waits
// for active streams to finish or the timeout to elapse.
func (c *Conn) Shutdown(ctx context.Context, force bool) {
	if force {
		c.abort(nil)
		return
	}
	c.goAway(http2.ErrCodeNo, "server draining")
	for {
		if c.streamCount() == 0 {
			c.abort(nil)
			return
		}
		select {
		case <-ctx.Done():
			c.abort(nil)
			return
		case <-c.done:
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}
