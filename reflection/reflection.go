// Package reflection implements the server reflection introspection
// service described in spec.md: a single bidirectional-streaming RPC that
// lets a client discover registered services and fetch their file
// descriptors, using the real google.golang.org/grpc/reflection/
// grpc_reflection_v1 wire messages so any off-the-shelf grpcurl/grpcui
// client works unmodified.
package reflection

import (
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"

	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"

	"github.com/wireloop/wireloop/registry"
	"github.com/wireloop/wireloop/rpcctx"
	"github.com/wireloop/wireloop/status"
	"github.com/wireloop/wireloop/streamio"
)

// Service implements grpc_reflection_v1's ServerReflectionInfo RPC over a
// Registry's service catalog. File descriptors are resolved from files
// (defaulting to protoregistry.GlobalFiles), which every protoc-gen-go
// generated package registers itself into at init time — the same
// resolution path gateway/reflection.go's descriptorResolver used.
type Service struct {
	registry *registry.Registry
	files    *protoregistry.Files
}

// New builds a reflection Service. A nil files argument uses the process
// global registry, which is correct whenever request/response types come
// from compiled .proto packages (the normal case).
func New(reg *registry.Registry, files *protoregistry.Files) *Service {
	if files == nil {
		files = protoregistry.GlobalFiles
	}
	return &Service{registry: reg, files: files}
}

// ServerReflectionInfo services one client's reflection session: each
// incoming request gets exactly one response, in order, until the client
// closes its send side.
func (s *Service) ServerReflectionInfo(ctx *rpcctx.Context, stream streamio.BidiStream[reflectionpb.ServerReflectionRequest, reflectionpb.ServerReflectionResponse]) *status.Status {
	for {
		req, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return status.FromError(err)
		}

		resp := &reflectionpb.ServerReflectionResponse{
			ValidHost:       req.Host,
			OriginalRequest: req,
		}

		switch query := req.MessageRequest.(type) {
		case *reflectionpb.ServerReflectionRequest_ListServices:
			resp.MessageResponse = &reflectionpb.ServerReflectionResponse_ListServicesResponse{
				ListServicesResponse: s.listServices(),
			}

		case *reflectionpb.ServerReflectionRequest_FileByFilename:
			fd, lookupErr := s.files.FindFileByPath(query.FileByFilename)
			if lookupErr != nil {
				resp.MessageResponse = errorResponse(lookupErr)
			} else if raw, marshalErr := marshalFileDescriptor(fd); marshalErr != nil {
				resp.MessageResponse = errorResponse(marshalErr)
			} else {
				resp.MessageResponse = &reflectionpb.ServerReflectionResponse_FileDescriptorResponse{
					FileDescriptorResponse: &reflectionpb.FileDescriptorResponse{FileDescriptorProto: [][]byte{raw}},
				}
			}

		case *reflectionpb.ServerReflectionRequest_FileContainingSymbol:
			desc, lookupErr := s.files.FindDescriptorByName(protoreflect.FullName(query.FileContainingSymbol))
			if lookupErr != nil {
				resp.MessageResponse = errorResponse(lookupErr)
			} else if raw, marshalErr := marshalFileDescriptor(desc.ParentFile()); marshalErr != nil {
				resp.MessageResponse = errorResponse(marshalErr)
			} else {
				resp.MessageResponse = &reflectionpb.ServerReflectionResponse_FileDescriptorResponse{
					FileDescriptorResponse: &reflectionpb.FileDescriptorResponse{FileDescriptorProto: [][]byte{raw}},
				}
			}

		default:
			resp.MessageResponse = errorResponse(errUnsupportedReflectionRequest)
		}

		if sendErr := stream.Send(resp); sendErr != nil {
			return status.FromError(sendErr)
		}
	}
}

func (s *Service) listServices() *reflectionpb.ListServiceResponse {
	names := s.registry.ServiceNames()
	out := make([]*reflectionpb.ServiceResponse, 0, len(names))
	for _, name := range names {
		out = append(out, &reflectionpb.ServiceResponse{Name: name})
	}
	return &reflectionpb.ListServiceResponse{Service: out}
}

func marshalFileDescriptor(fd protoreflect.FileDescriptor) ([]byte, error) {
	return proto.Marshal(protodesc.ToFileDescriptorProto(fd))
}

func errorResponse(err error) *reflectionpb.ServerReflectionResponse_ErrorResponse {
	return &reflectionpb.ServerReflectionResponse_ErrorResponse{
		ErrorResponse: &reflectionpb.ErrorResponse{
			ErrorCode:    int32(codes.Internal),
			ErrorMessage: err.Error(),
		},
	}
}

type unsupportedReflectionRequest struct{}

func (unsupportedReflectionRequest) Error() string { return "unsupported reflection request" }

var errUnsupportedReflectionRequest = unsupportedReflectionRequest{}
