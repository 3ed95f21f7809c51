package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
	"google.golang.org/grpc/codes"

	"github.com/wireloop/wireloop/grpcframe"
	"github.com/wireloop/wireloop/rpcctx"
	"github.com/wireloop/wireloop/status"
	"github.com/wireloop/wireloop/streamio"
)

// handleFrame dispatches one decoded HTTP/2 frame per spec §4.5 step 3.
func (c *Conn) handleFrame(frame http2.Frame) error {
	switch f := frame.(type) {
	case *http2.SettingsFrame:
		return c.handleSettings(f)
	case *http2.HeadersFrame:
		return c.handleHeaders(f)
	case *http2.ContinuationFrame:
		return c.handleContinuation(f)
	case *http2.DataFrame:
		return c.handleData(f)
	case *http2.WindowUpdateFrame:
		return c.handleWindowUpdate(f)
	case *http2.PingFrame:
		return c.handlePing(f)
	case *http2.RSTStreamFrame:
		return c.handleRSTStream(f)
	case *http2.GoAwayFrame:
		return c.handleGoAway(f)
	case *http2.PriorityFrame, *http2.PushPromiseFrame:
		return nil // no-ops server-side; PUSH_PROMISE from a client is simply ignored here
	default:
		return nil // unknown frame types are ignored (spec §4.1)
	}
}

func (c *Conn) handleSettings(f *http2.SettingsFrame) error {
	if f.IsAck() {
		return nil
	}
	var deltas []int32
	err := f.ForeachSetting(func(s http2.Setting) error {
		if s.ID == http2.SettingInitialWindowSize {
			c.mu.Lock()
			old := c.settings.initialWindowSize
			c.settings.initialWindowSize = int32(s.Val)
			c.mu.Unlock()
			deltas = append(deltas, int32(s.Val)-old)
		}
		if s.ID == http2.SettingMaxFrameSize {
			c.mu.Lock()
			c.settings.maxFrameSize = s.Val
			c.mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(deltas) > 0 {
		c.mu.Lock()
		streams := make([]*stream, 0, len(c.streams))
		for _, s := range c.streams {
			streams = append(streams, s)
		}
		c.mu.Unlock()
		for _, s := range streams {
			for _, d := range deltas {
				s.sendWindow.adjustInitial(d)
			}
		}
	}
	return c.submitWrite(func() error { return c.framer.WriteSettingsAck() })
}

func (c *Conn) handleHeaders(f *http2.HeadersFrame) error {
	c.pendingHeaderStreamID = f.StreamID
	c.pendingEndStream = f.StreamEnded()
	c.pendingHeaderBlock = append([]byte(nil), f.HeaderBlockFragment()...)
	if f.HeadersEnded() {
		return c.finishHeaderBlock()
	}
	return nil
}

func (c *Conn) handleContinuation(f *http2.ContinuationFrame) error {
	if c.pendingHeaderStreamID != f.StreamID {
		return fmt.Errorf("transport: CONTINUATION for stream %d while accumulating stream %d", f.StreamID, c.pendingHeaderStreamID)
	}
	c.pendingHeaderBlock = append(c.pendingHeaderBlock, f.HeaderBlockFragment()...)
	if f.HeadersEnded() {
		return c.finishHeaderBlock()
	}
	return nil
}

func (c *Conn) finishHeaderBlock() error {
	id := c.pendingHeaderStreamID
	endStream := c.pendingEndStream
	block := c.pendingHeaderBlock
	c.pendingHeaderStreamID = 0
	c.pendingHeaderBlock = nil
	c.pendingEndStream = false

	fields, err := c.hpackDec.DecodeFull(block)
	if err != nil {
		return fmt.Errorf("transport: hpack decode: %w", err)
	}
	pairs := make([][2]string, 0, len(fields))
	for _, f := range fields {
		pairs = append(pairs, [2]string{f.Name, f.Value})
	}
	return c.onStreamHeaders(id, pairs, endStream)
}

func (c *Conn) onStreamHeaders(id uint32, pairs [][2]string, endStream bool) error {
	c.mu.Lock()
	if id <= c.highestClientStreamID {
		c.mu.Unlock()
		return fmt.Errorf("transport: stream id %d is not greater than highest seen %d", id, c.highestClientStreamID)
	}
	if c.peerGoAway {
		c.mu.Unlock()
		return c.resetStream(id, http2.ErrCodeRefusedStream)
	}
	c.highestClientStreamID = id
	s := newStream(id, c)
	c.streams[id] = s
	c.mu.Unlock()

	if st := s.onRecvHeaders(endStream); st != nil {
		c.removeStream(id)
		return nil
	}

	headers := grpcframe.ParseHeaders(pairs)
	s.headers = headers

	if headers.Method != "POST" {
		// HTTP-layer reject: no gRPC-shaped reply, just tear the stream down.
		c.removeStream(id)
		return c.resetStream(id, http2.ErrCodeProtocol)
	}
	if vErr := headers.Validate(); vErr != nil {
		c.rejectStream(s, vErr)
		return nil
	}
	method, ok := c.dispatcher.Lookup(headers.Path)
	if !ok {
		c.rejectStream(s, status.Newf(codes.Unimplemented, "method %s not implemented", headers.Path))
		return nil
	}
	s.method = method
	s.encoding = headers.Encoding
	s.reader = grpcframe.NewMessageReader(c.compressors.Get)

	deadline := time.Time{}
	if headers.Timeout != "" {
		if d, ok := rpcctx.ParseGRPCTimeout(headers.Timeout, time.Now()); ok {
			deadline = d
		}
	}
	s.ctx = rpcctx.New(context.Background(), headers.Path, headers.Authority, c.peerInfo(), requestMetadata(pairs), deadline)
	s.raw = streamio.NewRawStream(s.ctx)

	if err := c.sendResponseHeaders(s); err != nil {
		return err
	}
	if endStream {
		s.raw.CloseIn()
	}

	c.wg.Add(1)
	go c.runStream(s)
	return nil
}

func (c *Conn) peerInfo() rpcctx.Peer {
	addr := c.netConn.RemoteAddr()
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return rpcctx.Peer{Address: tcpAddr.IP.String(), Port: tcpAddr.Port}
	}
	return rpcctx.Peer{Address: addr.String()}
}

// isReservedHeaderName reports whether name is filtered out of
// application-visible request metadata per spec §4.6 "Metadata rules".
func isReservedHeaderName(name string) bool {
	if strings.HasPrefix(name, ":") || strings.HasPrefix(name, "grpc-") {
		return true
	}
	switch name {
	case "te", "content-type", "user-agent":
		return true
	}
	return false
}

func requestMetadata(pairs [][2]string) rpcctx.Metadata {
	md := rpcctx.Metadata{}
	for _, kv := range pairs {
		name, value := kv[0], kv[1]
		if isReservedHeaderName(name) {
			continue
		}
		if strings.HasSuffix(name, "-bin") {
			decoded, err := base64.RawStdEncoding.DecodeString(value)
			if err == nil {
				value = string(decoded)
			}
		}
		md.Add(name, value)
	}
	return md
}

func (c *Conn) sendResponseHeaders(s *stream) error {
	pairs := grpcframe.ResponseHeaders(s.headers.ContentType, nil)
	id := s.id
	return c.submitWrite(func() error {
		block := c.encodeHeaderBlock(pairs)
		return c.framer.WriteHeaders(http2.HeadersFrameParam{
			StreamID:      id,
			BlockFragment: block,
			EndHeaders:    true,
		})
	})
}

// rejectStream sends a trailers-only response (spec §4.6) and discards the
// stream without ever spawning a handler.
func (c *Conn) rejectStream(s *stream, st *status.Status) {
	id := s.id
	c.removeStream(id)
	pairs := grpcframe.ResponseHeaders("application/grpc+proto", nil)
	pairs = append(pairs, grpcframe.Trailers(st, nil)...)
	_ = c.submitWrite(func() error {
		block := c.encodeHeaderBlock(pairs)
		return c.framer.WriteHeaders(http2.HeadersFrameParam{
			StreamID:      id,
			BlockFragment: block,
			EndHeaders:    true,
			EndStream:     true,
		})
	})
}

func (c *Conn) resetStream(id uint32, code http2.ErrCode) error {
	return c.submitWrite(func() error { return c.framer.WriteRSTStream(id, code) })
}

// encodeHeaderBlock must only ever be called from within a submitWrite
// closure: the HPACK encoder and its backing buffer are owned exclusively
// by the writer goroutine, which is what keeps header-block emission from
// interleaving across streams (spec §4.5 step 5).
func (c *Conn) encodeHeaderBlock(pairs [][2]string) []byte {
	c.hpackEncBuf.Reset()
	for _, kv := range pairs {
		_ = c.hpackEnc.WriteField(hpack.HeaderField{Name: kv[0], Value: kv[1]})
	}
	out := make([]byte, c.hpackEncBuf.Len())
	copy(out, c.hpackEncBuf.Bytes())
	return out
}

func (c *Conn) handleData(f *http2.DataFrame) error {
	s := c.lookupStream(f.StreamID)
	data := f.Data()
	if s == nil {
		return nil
	}
	if !s.canReceiveData() {
		return c.resetStream(f.StreamID, http2.ErrCodeStreamClosed)
	}

	n := int32(len(data))
	if update, ok := s.recvWindow.consumeRecv(n); ok {
		streamID := f.StreamID
		_ = c.submitWrite(func() error { return c.framer.WriteWindowUpdate(streamID, uint32(update)) })
	}
	if update, ok := c.connRecvWindow.consumeRecv(n); ok {
		_ = c.submitWrite(func() error { return c.framer.WriteWindowUpdate(0, uint32(update)) })
	}

	s.reader.Feed(data)
	for {
		payload, ok, err := s.reader.Next(s.encoding)
		if err != nil {
			c.failStream(s, status.Newf(codes.Internal, "%v", err))
			return nil
		}
		if !ok {
			break
		}
		msg, decErr := s.method.DecodeRequest(payload)
		if decErr != nil {
			c.failStream(s, status.Newf(codes.InvalidArgument, "decode request: %v", decErr))
			return nil
		}
		if pushErr := s.raw.PushIn(msg); pushErr != nil {
			return nil
		}
	}

	if f.StreamEnded() {
		s.onRecvEndStream()
		s.raw.CloseIn()
	}
	return nil
}

// failStream aborts a stream after a framing or decode error in its
// request body: it resets the transport-level stream and cancels the
// stream's context, which the handler (already started when the HEADERS
// arrived) observes as cancellation.
func (c *Conn) failStream(s *stream, st *status.Status) {
	s.onReset()
	s.ctx.Cancel()
	c.removeStream(s.id)
	_ = c.resetStream(s.id, rstCode(st))
}

func (c *Conn) handleWindowUpdate(f *http2.WindowUpdateFrame) error {
	if f.StreamID == 0 {
		return toErr(c.connSendWindow.applyWindowUpdate(int32(f.Increment)))
	}
	s := c.lookupStream(f.StreamID)
	if s == nil {
		return nil
	}
	return toErr(s.sendWindow.applyWindowUpdate(int32(f.Increment)))
}

func toErr(st *status.Status) error {
	if st == nil {
		return nil
	}
	return st.Err()
}

func (c *Conn) handlePing(f *http2.PingFrame) error {
	if f.IsAck() {
		c.mu.Lock()
		ch := c.pingAckCh
		match := ch != nil && f.Data == c.pendingPingData
		if match {
			c.pingAckCh = nil
		}
		c.mu.Unlock()
		if match {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
		return nil
	}
	data := f.Data
	return c.submitWrite(func() error { return c.framer.WritePing(true, data) })
}

func (c *Conn) handleRSTStream(f *http2.RSTStreamFrame) error {
	s := c.lookupStream(f.StreamID)
	if s == nil {
		return nil
	}
	s.onReset()
	s.ctx.Cancel()
	s.raw.CloseOut(status.Newf(codes.Canceled, "stream reset by peer").Err())
	c.removeStream(f.StreamID)
	return nil
}

func (c *Conn) handleGoAway(f *http2.GoAwayFrame) error {
	c.mu.Lock()
	c.peerGoAway = true
	c.mu.Unlock()
	return nil
}

// runStream drives one stream's handler invocation and response pump to
// completion, then writes the trailing HEADERS frame (spec §4.9, §4.6).
func (c *Conn) runStream(s *stream) {
	defer c.wg.Done()
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		c.pumpResponses(s)
	}()

	st := c.dispatcher.Dispatch(s.ctx, s.method.Pattern, s.raw)
	s.raw.CloseOut(io.EOF)
	<-pumpDone

	if s.currentState() != stateClosed {
		s.onSendEndStream()
	}
	pairs := grpcframe.Trailers(st, nil)
	id := s.id
	_ = c.submitWrite(func() error {
		block := c.encodeHeaderBlock(pairs)
		return c.framer.WriteHeaders(http2.HeadersFrameParam{
			StreamID:      id,
			BlockFragment: block,
			EndHeaders:    true,
			EndStream:     true,
		})
	})
	c.removeStream(s.id)
}

func (c *Conn) pumpResponses(s *stream) {
	for {
		msg, ok, err := s.raw.PullOut(s.ctx.Context)
		if err != nil || !ok {
			return
		}
		payload, encErr := s.method.EncodeResponse(msg)
		if encErr != nil {
			c.logger.Warn("transport: encode response failed", zap.String("method", s.headers.Path), zap.Error(encErr))
			continue
		}
		if sendErr := c.sendMessage(s, payload); sendErr != nil {
			return
		}
	}
}

func (c *Conn) sendMessage(s *stream, payload []byte) error {
	compress, _ := c.compressors.Get("")
	framed := grpcframe.EncodeMessage(payload, compress)
	abort := s.ctx.Done()
	for len(framed) > 0 {
		chunkLen := len(framed)
		if maxSize := int(c.settings.maxFrameSize); chunkLen > maxSize {
			chunkLen = maxSize
		}
		if !c.connSendWindow.reserveSend(int32(chunkLen), abort) {
			return status.Newf(codes.Canceled, "stream cancelled while waiting for flow control").Err()
		}
		if !s.sendWindow.reserveSend(int32(chunkLen), abort) {
			c.connSendWindow.applyWindowUpdate(int32(chunkLen))
			return status.Newf(codes.Canceled, "stream cancelled while waiting for flow control").Err()
		}
		chunk := append([]byte(nil), framed[:chunkLen]...)
		framed = framed[chunkLen:]
		id := s.id
		if err := c.submitWrite(func() error { return c.framer.WriteData(id, false, chunk) }); err != nil {
			return err
		}
	}
	return nil
}
