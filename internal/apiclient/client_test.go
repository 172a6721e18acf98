package apiclient

import (
	"errors"
	"net/http"
	"testing"

	"github.com/bluesky-social/indigo/xrpc"
	"github.com/stretchr/testify/assert"

	"github.com/bskyproj/firehose-projector/internal/ratelimit"
)

func TestClassifyXRPCErrorConvertsTooManyRequests(t *testing.T) {
	header := http.Header{}
	header.Set("ratelimit-remaining", "0")
	xe := &xrpc.Error{StatusCode: http.StatusTooManyRequests, Headers: header}

	got := classifyXRPCError(xe)

	var rlErr *ratelimit.RateLimitedError
	require := assert.New(t)
	require.True(errors.As(got, &rlErr))
	require.Equal(http.StatusTooManyRequests, rlErr.StatusCode)
	require.Equal("0", rlErr.Header.Get("ratelimit-remaining"))
}

func TestClassifyXRPCErrorPassesThroughOtherStatuses(t *testing.T) {
	xe := &xrpc.Error{StatusCode: http.StatusBadRequest}
	got := classifyXRPCError(xe)
	assert.Same(t, xe, got)
}

func TestClassifyXRPCErrorPassesThroughNonXRPCErrors(t *testing.T) {
	boom := errors.New("network unreachable")
	got := classifyXRPCError(boom)
	assert.Equal(t, boom, got)
}
