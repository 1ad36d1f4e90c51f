// ABOUTME: Tests for the SSE transport.
// ABOUTME: Streams from an httptest server and parses event blocks.

package push

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/vault-gateway/internal/registry"
)

type sseBlock struct {
	event string
	data  string
}

// readSSEBlock reads lines until a blank line, skipping comment-only blocks.
func readSSEBlock(t *testing.T, r *bufio.Reader) sseBlock {
	t.Helper()
	var b sseBlock
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if b.event != "" || b.data != "" {
				return b
			}
		case strings.HasPrefix(line, "event: "):
			b.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			b.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestSSE_RegisterPushAndDisconnect(t *testing.T) {
	reg := registry.New(testLogger())
	srv := httptest.NewServer(NewSSEHandler(reg, identifyByQuery, 20*time.Millisecond, 4, testLogger()))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?user=alice", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	first := readSSEBlock(t, r)
	assert.Equal(t, EventRegistered, first.event)
	require.Equal(t, 1, reg.Len())

	ch := NewChannel(reg, time.Second, testLogger())
	outcome, err := ch.Notify(context.Background(), "alice", sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, OutcomePushed, outcome)

	block := readSSEBlock(t, r)
	assert.Equal(t, EventVaultDelivered, block.event)
	ev, err := DecodeEvent([]byte(block.data))
	require.NoError(t, err)
	assert.Equal(t, "4f1c2b8e-0d3a-4b6e-9a57-2c1d7e8f9a10", ev.MessageID)

	cancel()
	require.Eventually(t, func() bool { return reg.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestSSE_Heartbeat(t *testing.T) {
	reg := registry.New(testLogger())
	srv := httptest.NewServer(NewSSEHandler(reg, identifyByQuery, 10*time.Millisecond, 4, testLogger()))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?user=alice", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	readSSEBlock(t, r)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": heartbeat\n", line)
}

func TestSSE_Unauthorized(t *testing.T) {
	h := NewSSEHandler(registry.New(testLogger()), identifyByQuery, 0, 0, testLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/vault/stream", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSSE_MethodNotAllowed(t *testing.T) {
	h := NewSSEHandler(registry.New(testLogger()), identifyByQuery, 0, 0, testLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/vault/stream?user=alice", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
