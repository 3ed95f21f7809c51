// Package status implements the 17-value gRPC status taxonomy and the
// mapping tables between HTTP/2 reset codes, gRPC status codes, and the
// HTTP status codes a non-HTTP/2-aware shim would use.
//
// It wraps google.golang.org/grpc/codes and google.golang.org/grpc/status
// instead of defining a parallel code enum: those are the same wire-level
// types the reference client library and CLI introspection tools expect,
// so a Status built here is bit-compatible with what a real grpc-go
// server would put on the wire.
package status

import (
	"fmt"
	"net/http"

	"golang.org/x/net/http2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// Status is a structured gRPC status: a code, a human message, and
// optional binary detail messages. The transport writes only the code and
// message to the trailer; details are not sent as grpc-status-details-bin.
type Status struct {
	inner *status.Status
}

// New builds a Status from a code and message.
func New(code codes.Code, msg string) *Status {
	return &Status{inner: status.New(code, msg)}
}

// Newf builds a Status from a code and a formatted message.
func Newf(code codes.Code, format string, args ...any) *Status {
	return New(code, fmt.Sprintf(format, args...))
}

// OK is the sentinel non-error status.
func OK() *Status { return New(codes.OK, "") }

// Code returns the status code.
func (s *Status) Code() codes.Code {
	if s == nil {
		return codes.OK
	}
	return s.inner.Code()
}

// Message returns the status message.
func (s *Status) Message() string {
	if s == nil {
		return ""
	}
	return s.inner.Message()
}

// WithDetails attaches binary detail messages (e.g. errdetails protos).
// The runtime never synthesizes these itself, and grpcframe.Trailers does
// not write them to the wire: they are visible only in-process, through
// Details.
func (s *Status) WithDetails(details ...proto.Message) (*Status, error) {
	withDetails, err := s.inner.WithDetails(details...)
	if err != nil {
		return nil, err
	}
	return &Status{inner: withDetails}, nil
}

// Details returns any attached detail messages.
func (s *Status) Details() []any {
	if s == nil {
		return nil
	}
	return s.inner.Details()
}

// Err returns an error wrapping this status, or nil if the code is OK.
func (s *Status) Err() error {
	if s == nil || s.Code() == codes.OK {
		return nil
	}
	return s.inner.Err()
}

// Error implements the error interface so a *Status can be returned and
// compared directly by handlers.
func (s *Status) Error() string {
	if s == nil {
		return ""
	}
	return s.inner.Err().Error()
}

// FromError extracts a *Status from an error produced by this package, or
// synthesizes an UNKNOWN status wrapping an arbitrary error, so a caller
// holding any error still gets exactly one status (spec §7 propagation
// policy).
func FromError(err error) *Status {
	if err == nil {
		return OK()
	}
	if s, ok := err.(*Status); ok {
		return s
	}
	grpcStatus, ok := status.FromError(err)
	if ok {
		return &Status{inner: grpcStatus}
	}
	return New(codes.Unknown, err.Error())
}

// http2CodeToGRPC implements spec §6's "HTTP/2 code -> gRPC status" table,
// used when a client's RST_STREAM must be translated into the status
// observed by interceptors/handlers.
var http2CodeToGRPC = map[http2.ErrCode]codes.Code{
	http2.ErrCodeCancel:            codes.Canceled,
	http2.ErrCodeRefusedStream:     codes.Unavailable,
	http2.ErrCodeEnhanceYourCalm:   codes.ResourceExhausted,
	http2.ErrCodeInadequateSecurity: codes.PermissionDenied,
}

// FromHTTP2ErrCode maps an HTTP/2 RST_STREAM/GOAWAY error code to a gRPC
// status, defaulting to INTERNAL for anything not explicitly listed.
func FromHTTP2ErrCode(code http2.ErrCode, msg string) *Status {
	grpcCode, ok := http2CodeToGRPC[code]
	if !ok {
		grpcCode = codes.Internal
	}
	return New(grpcCode, msg)
}

// grpcToHTTPStatus implements spec §6's "gRPC status -> HTTP status"
// table, used only by non-HTTP/2-aware shim layers (e.g. a health check
// proxy translating :status for a load balancer).
var grpcToHTTPStatus = map[codes.Code]int{
	codes.OK:                 http.StatusOK,
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.Unauthenticated:    http.StatusUnauthorized,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.NotFound:           http.StatusNotFound,
	codes.AlreadyExists:      http.StatusConflict,
	codes.ResourceExhausted:  http.StatusTooManyRequests,
	codes.Canceled:           499,
	codes.Unimplemented:      http.StatusNotImplemented,
	codes.Unavailable:        http.StatusServiceUnavailable,
	codes.DeadlineExceeded:   http.StatusGatewayTimeout,
}

// ToHTTPStatus maps a gRPC code to the HTTP status a shim layer would use.
func ToHTTPStatus(code codes.Code) int {
	if httpStatus, ok := grpcToHTTPStatus[code]; ok {
		return httpStatus
	}
	return http.StatusInternalServerError
}
