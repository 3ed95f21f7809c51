package grpcframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/wireloop/wireloop/status"
)

func validHeaders() RequestHeaders {
	return RequestHeaders{
		Method:      "POST",
		Path:        "/demo.v1.EchoService/Echo",
		ContentType: "application/grpc+proto",
		TE:          "trailers",
	}
}

func TestRequestHeadersValidateAccepts(t *testing.T) {
	assert.Nil(t, validHeaders().Validate())
}

func TestRequestHeadersValidateRejectsNonPost(t *testing.T) {
	h := validHeaders()
	h.Method = "GET"
	st := h.Validate()
	require.NotNil(t, st)
	assert.Equal(t, codes.InvalidArgument, st.Code())
}

func TestRequestHeadersValidateRejectsMalformedPath(t *testing.T) {
	h := validHeaders()
	h.Path = "/onlyservice"
	st := h.Validate()
	require.NotNil(t, st)
	assert.Equal(t, codes.Unimplemented, st.Code())
}

func TestRequestHeadersValidateRejectsBadContentType(t *testing.T) {
	h := validHeaders()
	h.ContentType = "text/plain"
	st := h.Validate()
	require.NotNil(t, st)
	assert.Equal(t, codes.InvalidArgument, st.Code())
}

func TestRequestHeadersValidateRejectsMissingTE(t *testing.T) {
	h := validHeaders()
	h.TE = ""
	st := h.Validate()
	require.NotNil(t, st)
}

func TestParseHeadersExtractsKnownFields(t *testing.T) {
	pairs := [][2]string{
		{":method", "POST"},
		{":path", "/demo.v1.EchoService/Echo"},
		{"content-type", "application/grpc"},
		{"te", "trailers"},
		{"grpc-timeout", "10S"},
		{"grpc-encoding", "gzip"},
	}
	h := ParseHeaders(pairs)
	assert.Equal(t, "POST", h.Method)
	assert.Equal(t, "/demo.v1.EchoService/Echo", h.Path)
	assert.Equal(t, "application/grpc", h.ContentType)
	assert.Equal(t, "trailers", h.TE)
	assert.Equal(t, "10S", h.Timeout)
	assert.Equal(t, "gzip", h.Encoding)
}

func TestTrailersIncludesStatusAndMessage(t *testing.T) {
	st := status.Newf(codes.NotFound, "no such %s", "widget")
	pairs := Trailers(st, nil)
	asMap := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		asMap[kv[0]] = kv[1]
	}
	assert.Equal(t, "5", asMap["grpc-status"]) // codes.NotFound == 5
	assert.Contains(t, asMap["grpc-message"], "widget")
}

func TestTrailersOmitsMessageWhenEmpty(t *testing.T) {
	pairs := Trailers(status.OK(), nil)
	for _, kv := range pairs {
		assert.NotEqual(t, "grpc-message", kv[0])
	}
}

func TestResponseHeadersIncludesStatusAndContentType(t *testing.T) {
	pairs := ResponseHeaders("application/grpc+proto", nil)
	asMap := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		asMap[kv[0]] = kv[1]
	}
	assert.Equal(t, "200", asMap[":status"])
	assert.Equal(t, "application/grpc+proto", asMap["content-type"])
}
