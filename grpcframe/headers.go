package grpcframe

import (
	"net/url"
	"strings"

	"google.golang.org/grpc/codes"

	"github.com/wireloop/wireloop/status"
)

// RequestHeaders holds the pseudo-headers and gRPC-specific headers the
// transport pulls out of a HEADERS frame before a stream can be
// dispatched (spec §4.6 "Request header validation").
type RequestHeaders struct {
	Method        string // ":method", must be "POST"
	Path          string // ":path", e.g. "/package.Service/Method"
	Scheme        string
	Authority     string
	ContentType   string // "content-type", must start with "application/grpc"
	TE            string // "te", must be "trailers"
	Timeout       string // "grpc-timeout", optional
	Encoding      string // "grpc-encoding", optional request compression
	AcceptEncoding string
}

// Validate checks the request satisfies spec §4.6's invariants,
// returning the gRPC status a non-conforming request should be rejected
// with (INVALID_ARGUMENT for most shape problems, including an
// unrecognized content-type; UNIMPLEMENTED for a malformed :path).
func (h RequestHeaders) Validate() *status.Status {
	if h.Method != "POST" {
		return status.Newf(codes.InvalidArgument, "unsupported :method %q, want POST", h.Method)
	}
	if !strings.HasPrefix(h.Path, "/") || strings.Count(h.Path, "/") != 2 {
		return status.Newf(codes.Unimplemented, "malformed :path %q", h.Path)
	}
	if !strings.HasPrefix(h.ContentType, "application/grpc") {
		return status.Newf(codes.InvalidArgument, "unsupported content-type %q", h.ContentType)
	}
	if h.TE != "trailers" {
		return status.Newf(codes.InvalidArgument, "missing or invalid te header %q, want \"trailers\"", h.TE)
	}
	return nil
}

// ParseHeaders extracts a RequestHeaders from the flattened name->value
// pairs HPACK decoding produces; repeated names keep only the last value,
// which is what every pseudo-header and the headers this package cares
// about expect.
func ParseHeaders(pairs [][2]string) RequestHeaders {
	var h RequestHeaders
	for _, kv := range pairs {
		switch kv[0] {
		case ":method":
			h.Method = kv[1]
		case ":path":
			h.Path = kv[1]
		case ":scheme":
			h.Scheme = kv[1]
		case ":authority":
			h.Authority = kv[1]
		case "content-type":
			h.ContentType = kv[1]
		case "te":
			h.TE = kv[1]
		case "grpc-timeout":
			h.Timeout = kv[1]
		case "grpc-encoding":
			h.Encoding = kv[1]
		case "grpc-accept-encoding":
			h.AcceptEncoding = kv[1]
		}
	}
	return h
}

// ResponseHeaders builds the HEADERS frame field list a successful
// response starts with: ":status 200" plus the mirrored content-type,
// regardless of the eventual grpc-status (spec §4.6: "gRPC always
// answers with HTTP status 200; the real result travels in the trailer").
func ResponseHeaders(contentType string, extra map[string][]string) [][2]string {
	pairs := [][2]string{
		{":status", "200"},
		{"content-type", contentType},
	}
	for name, values := range extra {
		for _, v := range values {
			pairs = append(pairs, [2]string{name, v})
		}
	}
	return pairs
}

// Trailers builds the trailer field list for st: grpc-status always
// present, grpc-message percent-encoded and only present when non-empty,
// then the extra pairs as given (spec §4.6, §8). Detail messages attached
// to st are not written: no grpc-status-details-bin field is produced
// here.
func Trailers(st *status.Status, extra map[string][]string) [][2]string {
	code := st.Code()
	pairs := [][2]string{
		{"grpc-status", itoa(int(code))},
	}
	if msg := st.Message(); msg != "" {
		pairs = append(pairs, [2]string{"grpc-message", percentEncode(msg)})
	}
	for name, values := range extra {
		for _, v := range values {
			pairs = append(pairs, [2]string{name, v})
		}
	}
	return pairs
}

// percentEncode implements the grpc-message percent-encoding grpc core
// uses: URL path-segment escaping, which covers the byte ranges the gRPC
// spec requires (0x00-0x1F, 0x7F-0xFF, '%') and also escapes space and
// other ASCII punctuation outside RFC 3986's path-segment set (such as
// '/', '?', ';', ','); ':' and '@' are left literal.
func percentEncode(s string) string {
	return url.PathEscape(s)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
