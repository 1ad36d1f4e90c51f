// ABOUTME: End-to-end tests for the websocket transport using httptest.
// ABOUTME: Covers register, identity mismatch, push, and disconnect cleanup.

package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/vault-gateway/internal/registry"
)

// identifyByQuery authenticates tests via ?user=.
func identifyByQuery(r *http.Request) (string, bool) {
	user := r.URL.Query().Get("user")
	return user, user != ""
}

type serverFrame struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func startWSServer(t *testing.T, cfg WebSocketConfig) (*registry.Registry, string) {
	t.Helper()
	reg := registry.New(testLogger())
	srv := httptest.NewServer(NewWebSocketHandler(reg, identifyByQuery, cfg, testLogger()))
	t.Cleanup(srv.Close)
	return reg, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.CloseNow() })
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) serverFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var f serverFrame
	require.NoError(t, wsjson.Read(ctx, c, &f))
	return f
}

func register(t *testing.T, c *websocket.Conn, userID string) serverFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, c, clientFrame{Type: FrameRegister, UserID: userID}))
	return readFrame(t, c)
}

func TestWebSocket_RegisterAndPush(t *testing.T) {
	reg, url := startWSServer(t, WebSocketConfig{})
	c := dial(t, url+"?user=alice")

	f := register(t, c, "alice")
	assert.Equal(t, EventRegistered, f.Type)
	assert.Equal(t, "alice", f.Data["userId"])

	_, ok := reg.Lookup("alice")
	require.True(t, ok)

	ch := NewChannel(reg, time.Second, testLogger())
	outcome, err := ch.Notify(context.Background(), "alice", sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, OutcomePushed, outcome)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)

	ev, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, "Happy birthday, future me!", ev.Message)
	assert.True(t, ev.Delivered)
}

func TestWebSocket_RegisterWithoutUserIDUsesCredentials(t *testing.T) {
	reg, url := startWSServer(t, WebSocketConfig{})
	c := dial(t, url+"?user=alice")

	f := register(t, c, "")
	assert.Equal(t, EventRegistered, f.Type)

	_, ok := reg.Lookup("alice")
	assert.True(t, ok)
}

func TestWebSocket_IdentityMismatch(t *testing.T) {
	reg, url := startWSServer(t, WebSocketConfig{})
	c := dial(t, url+"?user=alice")

	f := register(t, c, "mallory")
	assert.Equal(t, EventError, f.Type)
	assert.Equal(t, 0, reg.Len())

	// The connection stays usable for a correct register.
	f = register(t, c, "alice")
	assert.Equal(t, EventRegistered, f.Type)
	assert.Equal(t, 1, reg.Len())
}

func TestWebSocket_NonRegisterFrameBeforeRegister(t *testing.T) {
	reg, url := startWSServer(t, WebSocketConfig{})
	c := dial(t, url+"?user=alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"hello"}`)))

	f := readFrame(t, c)
	assert.Equal(t, EventError, f.Type)
	assert.Equal(t, 0, reg.Len())
}

func TestWebSocket_DisconnectUnregisters(t *testing.T) {
	reg, url := startWSServer(t, WebSocketConfig{})
	c := dial(t, url+"?user=alice")
	register(t, c, "alice")
	require.Equal(t, 1, reg.Len())

	c.Close(websocket.StatusNormalClosure, "bye")

	require.Eventually(t, func() bool { return reg.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestWebSocket_SecondTabWinsAndStaleCloseKeepsIt(t *testing.T) {
	reg, url := startWSServer(t, WebSocketConfig{})

	tabA := dial(t, url+"?user=alice")
	fa := register(t, tabA, "alice")
	tabB := dial(t, url+"?user=alice")
	fb := register(t, tabB, "alice")
	require.NotEqual(t, fa.Data["connId"], fb.Data["connId"])

	tabA.Close(websocket.StatusNormalClosure, "tab closed")

	// Give the server time to process tab A's disconnect.
	time.Sleep(100 * time.Millisecond)

	conn, ok := reg.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, fb.Data["connId"], conn.ID())
}

func TestWebSocket_RegisterTimeout(t *testing.T) {
	reg, url := startWSServer(t, WebSocketConfig{RegisterTimeout: 50 * time.Millisecond})
	c := dial(t, url+"?user=alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	assert.Error(t, err, "server closes connections that never register")
	assert.Equal(t, 0, reg.Len())
}

func TestWebSocket_Unauthorized(t *testing.T) {
	reg := registry.New(testLogger())
	srv := httptest.NewServer(NewWebSocketHandler(reg, identifyByQuery, WebSocketConfig{}, testLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "unauthorized", body["error"])
}
