package registry

import (
	"fmt"

	"google.golang.org/grpc/codes"
	protobuf "google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/wireloop/wireloop/pbcodec"
	"github.com/wireloop/wireloop/rpcctx"
	"github.com/wireloop/wireloop/status"
	"github.com/wireloop/wireloop/streamio"
)

// DynamicHandler is the descriptor-driven counterpart to RegisterUnary's
// handler: it exchanges protobuf messages addressed only by
// protoreflect.MessageDescriptor, for services whose request/response
// types are discovered at runtime (e.g. from a FileDescriptorSet fetched
// over the reflection service) rather than compiled in as Go structs.
// This is the dynamic half of spec §9's decode-collaborator question;
// RegisterUnary et al. are the typed half.
type DynamicHandler func(ctx *rpcctx.Context, req protobuf.Message) (protobuf.Message, *status.Status)

// RegisterDynamicUnary adds a unary method whose request/response wire
// codec is built from message descriptors via pbcodec/hyperpb instead of
// from a Req/Resp type parameter. Returns an error if either descriptor
// cannot be compiled into a hyperpb.MessageType.
func RegisterDynamicUnary(svc *Service, name string, reqDesc, respDesc protoreflect.MessageDescriptor, handler DynamicHandler) error {
	reqCodec, err := pbcodec.New(reqDesc, pbcodec.DefaultOptions())
	if err != nil {
		return fmt.Errorf("wireloop: compile request codec for %s: %w", name, err)
	}
	respCodec, err := pbcodec.New(respDesc, pbcodec.DefaultOptions())
	if err != nil {
		return fmt.Errorf("wireloop: compile response codec for %s: %w", name, err)
	}

	m := &Method{
		Name:           name,
		Pattern:        Unary,
		InputTypeName:  string(reqDesc.FullName()),
		OutputTypeName: string(respDesc.FullName()),
		DecodeRequest: func(data []byte) (any, error) {
			return reqCodec.Unmarshal(data)
		},
		EncodeResponse: func(msg any) ([]byte, error) {
			pm, ok := msg.(protobuf.Message)
			if !ok {
				return nil, fmt.Errorf("wireloop: %T does not implement proto.Message", msg)
			}
			return respCodec.Marshal(pm)
		},
		Invoke: func(ctx *rpcctx.Context, raw *streamio.RawStream) *status.Status {
			msg, err := raw.RecvMsg()
			if err != nil {
				return status.New(codes.Internal, "failed to read request")
			}
			req, ok := msg.(protobuf.Message)
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
	return nil
}
