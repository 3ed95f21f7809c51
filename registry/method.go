// Package registry implements the service/method catalog of spec.md §3
// ("Method descriptor", "Service descriptor", "Service registry") and the
// copy-on-freeze discipline of §4.9 ("Registry is copy-on-freeze").
package registry

import (
	"fmt"
	"reflect"

	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/proto"

	"github.com/wireloop/wireloop/rpcctx"
	"github.com/wireloop/wireloop/status"
	"github.com/wireloop/wireloop/streamio"
)

// Pattern is one of the four RPC method shapes (spec §3 "Method
// descriptor", §4.8 "Stream adapters").
type Pattern int

const (
	Unary Pattern = iota
	ServerStreaming
	ClientStreaming
	BidiStreaming
)

func (p Pattern) String() string {
	switch p {
	case Unary:
		return "unary"
	case ServerStreaming:
		return "server_streaming"
	case ClientStreaming:
		return "client_streaming"
	case BidiStreaming:
		return "bidi_streaming"
	default:
		return "unknown"
	}
}

// InvokeFunc is the type-erased entry point the dispatcher calls. It is
// handed a RawStream already primed by the transport: for Unary/
// ServerStreaming exactly one decoded request has been pushed in before
// Invoke runs; for ClientStreaming/BidiStreaming the handler pulls
// messages itself as they arrive. Whatever the handler sends via
// RawStream.SendMsg is framed and written by the transport's writer side.
//
// This resolves spec §9's open question in favor of (a): handlers stay
// generically typed (see RegisterUnary et al.), and only InvokeFunc itself
// is erased at the transport boundary — mirroring the teacher's
// RegisterServerStream wrapping technique in rpc/service.go.
type InvokeFunc func(ctx *rpcctx.Context, raw *streamio.RawStream) *status.Status

// Method is an immutable method descriptor once registered (spec §3:
// "pattern is immutable after registration").
type Method struct {
	Name           string
	Pattern        Pattern
	InputType      reflect.Type
	OutputType     reflect.Type
	InputTypeName  string
	OutputTypeName string
	Interceptors   []string // names of method-scoped interceptors, informational
	Invoke         InvokeFunc

	// DecodeRequest turns wire bytes into a *Req the handler expects.
	// EncodeResponse turns whatever the handler sent on the stream back
	// into wire bytes. Both are built once at registration from the
	// request/response type parameters (see buildCodec) and are the
	// statically-typed counterpart to the dynamic, descriptor-driven
	// decode path RegisterDynamicUnary uses (via pbcodec) for messages it
	// has no Go type for (spec §9's payload-codec collaborator).
	DecodeRequest  func([]byte) (any, error)
	EncodeResponse func(any) ([]byte, error)
}

func typeName(t reflect.Type, pkg string) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return pkg + "." + t.Name()
}

// buildCodec returns the decode/encode closures for a message type T.
// *T must implement proto.Message, mirroring how protoc-gen-go generated
// request/response structs are always addressed by pointer.
func buildCodec[T any]() (decode func([]byte) (any, error), encode func(any) ([]byte, error)) {
	decode = func(data []byte) (any, error) {
		msg := new(T)
		pm, ok := any(msg).(proto.Message)
		if !ok {
			return nil, fmt.Errorf("wireloop: %T does not implement proto.Message", msg)
		}
		if err := proto.Unmarshal(data, pm); err != nil {
			return nil, err
		}
		return msg, nil
	}
	encode = func(msg any) ([]byte, error) {
		pm, ok := msg.(proto.Message)
		if !ok {
			return nil, fmt.Errorf("wireloop: %T does not implement proto.Message", msg)
		}
		return proto.Marshal(pm)
	}
	return decode, encode
}

// RegisterUnary adds a unary method; handler signature matches spec §4.8.
func RegisterUnary[Req, Resp any](svc *Service, name string, handler func(*rpcctx.Context, *Req) (*Resp, *status.Status)) {
	var reqZero Req
	var respZero Resp
	decode, _ := buildCodec[Req]()
	_, encodeResp := buildCodec[Resp]()
	m := &Method{
		Name:           name,
		Pattern:        Unary,
		InputType:      reflect.TypeOf(reqZero),
		OutputType:     reflect.TypeOf(respZero),
		InputTypeName:  typeName(reflect.TypeOf(reqZero), svc.packageName),
		OutputTypeName: typeName(reflect.TypeOf(respZero), svc.packageName),
		DecodeRequest:  decode,
		EncodeResponse: encodeResp,
		Invoke: func(ctx *rpcctx.Context, raw *streamio.RawStream) *status.Status {
			msg, err := raw.RecvMsg()
			if err != nil {
				return status.New(codes.Internal, "failed to read request")
			}
			req, ok := msg.(*Req)
			if !ok {
				return status.Newf(codes.Internal, "unexpected request type")
			}
			resp, st := handler(ctx, req)
			if st != nil && st.Code() != codes.OK {
				return st
			}
			if sendErr := raw.SendMsg(resp); sendErr != nil {
				return status.New(codes.Internal, "failed to write response")
			}
			return st
		},
	}
	svc.addMethod(m)
}

// RegisterServerStream adds a server-streaming method.
func RegisterServerStream[Req, Resp any](svc *Service, name string, handler func(*rpcctx.Context, *Req, streamio.ServerStream[Resp]) *status.Status) {
	var reqZero Req
	var respZero Resp
	decode, _ := buildCodec[Req]()
	_, encodeResp := buildCodec[Resp]()
	m := &Method{
		Name:           name,
		Pattern:        ServerStreaming,
		InputType:      reflect.TypeOf(reqZero),
		OutputType:     reflect.TypeOf(respZero),
		InputTypeName:  typeName(reflect.TypeOf(reqZero), svc.packageName),
		OutputTypeName: typeName(reflect.TypeOf(respZero), svc.packageName),
		DecodeRequest:  decode,
		EncodeResponse: encodeResp,
		Invoke: func(ctx *rpcctx.Context, raw *streamio.RawStream) *status.Status {
			msg, err := raw.RecvMsg()
			if err != nil {
				return status.New(codes.Internal, "failed to read request")
			}
			req, ok := msg.(*Req)
			if !ok {
				return status.Newf(codes.Internal, "unexpected request type")
			}
			return handler(ctx, req, streamio.NewServerStream[Resp](raw))
		},
	}
	svc.addMethod(m)
}

// RegisterClientStream adds a client-streaming method.
func RegisterClientStream[Req, Resp any](svc *Service, name string, handler func(*rpcctx.Context, streamio.ClientStream[Req]) (*Resp, *status.Status)) {
	var reqZero Req
	var respZero Resp
	decode, _ := buildCodec[Req]()
	_, encodeResp := buildCodec[Resp]()
	m := &Method{
		Name:           name,
		Pattern:        ClientStreaming,
		InputType:      reflect.TypeOf(reqZero),
		OutputType:     reflect.TypeOf(respZero),
		InputTypeName:  typeName(reflect.TypeOf(reqZero), svc.packageName),
		OutputTypeName: typeName(reflect.TypeOf(respZero), svc.packageName),
		DecodeRequest:  decode,
		EncodeResponse: encodeResp,
		Invoke: func(ctx *rpcctx.Context, raw *streamio.RawStream) *status.Status {
			resp, st := handler(ctx, streamio.NewClientStream[Req](raw))
			if st != nil && st.Code() != codes.OK {
				return st
			}
			if sendErr := raw.SendMsg(resp); sendErr != nil {
				return status.New(codes.Internal, "failed to write response")
			}
			return st
		},
	}
	svc.addMethod(m)
}

// RegisterBidiStream adds a bidirectional-streaming method.
func RegisterBidiStream[Req, Resp any](svc *Service, name string, handler func(*rpcctx.Context, streamio.BidiStream[Req, Resp]) *status.Status) {
	var reqZero Req
	var respZero Resp
	decode, _ := buildCodec[Req]()
	_, encodeResp := buildCodec[Resp]()
	m := &Method{
		Name:           name,
		Pattern:        BidiStreaming,
		InputType:      reflect.TypeOf(reqZero),
		OutputType:     reflect.TypeOf(respZero),
		InputTypeName:  typeName(reflect.TypeOf(reqZero), svc.packageName),
		OutputTypeName: typeName(reflect.TypeOf(respZero), svc.packageName),
		DecodeRequest:  decode,
		EncodeResponse: encodeResp,
		Invoke: func(ctx *rpcctx.Context, raw *streamio.RawStream) *status.Status {
			return handler(ctx, streamio.NewBidiStream[Req, Resp](raw))
		},
	}
	svc.addMethod(m)
}
