package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct {
	cursor      int64
	failedDepth int
	eps         float64
}

func (f fakeStats) Cursor() int64            { return f.cursor }
func (f fakeStats) FailedQueueDepth() int    { return f.failedDepth }
func (f fakeStats) EventsPerSecond() float64 { return f.eps }

// freePort reserves an ephemeral port and releases it immediately so the
// test server can bind to a known address.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func startTestServer(t *testing.T, stats StatsProvider) string {
	t.Helper()
	addr := fmt.Sprintf("127.0.0.1:%d", freePort(t))
	s := NewServer(addr, stats, slog.New(slog.DiscardHandler))

	go func() { _ = s.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, time.Second, 10*time.Millisecond)

	return addr
}

func TestHealthEndpointReturnsOK(t *testing.T) {
	addr := startTestServer(t, fakeStats{})

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatsEndpointReportsProviderValues(t *testing.T) {
	addr := startTestServer(t, fakeStats{cursor: 42, failedDepth: 3, eps: 12.5})

	resp, err := http.Get("http://" + addr + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(42), body["cursor"])
	assert.Equal(t, float64(3), body["failed_queue_depth"])
	assert.Equal(t, 12.5, body["events_per_second"])
}
