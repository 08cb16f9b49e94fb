package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startHub serves a hub through echo and returns it with its ws:// URL.
func startHub(t *testing.T, opts ...HubOption) (*Hub, string) {
	t.Helper()
	hub := NewHub(opts...)
	e := echo.New()
	e.HideBanner = true
	hub.RegisterRoutes(e)

	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		_ = hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// rawClient speaks frames directly, without the Transport.
func rawClient(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func exchange(t *testing.T, conn *websocket.Conn, f Frame) Frame {
	t.Helper()
	require.NoError(t, conn.WriteJSON(f))
	return readFrame(t, conn)
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got Frame
	require.NoError(t, conn.ReadJSON(&got))
	return got
}

func TestHub_BindPublishDeliver(t *testing.T) {
	hub, url := startHub(t)
	a := rawClient(t, url)
	b := rawClient(t, url)

	ack := exchange(t, b, Frame{Op: OpBind, Seq: 1, AgentID: "agent-b"})
	assert.Equal(t, OpAck, ack.Op)
	assert.Equal(t, uint64(1), ack.Seq)
	assert.True(t, hub.Bound("agent-b"))

	ack = exchange(t, a, Frame{Op: OpPublish, Seq: 7, To: "agent-b", Envelope: []byte(`{"x":1}`)})
	assert.Equal(t, OpAck, ack.Op)
	assert.Equal(t, uint64(7), ack.Seq)

	got := readFrame(t, b)
	assert.Equal(t, OpDeliver, got.Op)
	assert.Equal(t, "agent-b", got.AgentID)
	assert.Equal(t, `{"x":1}`, string(got.Envelope))
}

func TestHub_Errors(t *testing.T) {
	_, url := startHub(t)
	a := rawClient(t, url)
	b := rawClient(t, url)

	tests := []struct {
		name  string
		frame Frame
		code  string
	}{
		{"no recipient", Frame{Op: OpPublish, Seq: 1, To: "nobody", Envelope: []byte("x")}, CodeNoRecipient},
		{"publish without envelope", Frame{Op: OpPublish, Seq: 2, To: "agent-b"}, CodeBadFrame},
		{"bind without id", Frame{Op: OpBind, Seq: 3}, CodeBadFrame},
		{"unknown op", Frame{Op: "subscribe", Seq: 4}, CodeUnknownOp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := exchange(t, a, tt.frame)
			assert.Equal(t, OpError, got.Op)
			assert.Equal(t, tt.frame.Seq, got.Seq)
			assert.Equal(t, tt.code, got.Code)
			assert.NotEmpty(t, got.Error)
		})
	}

	t.Run("binding owned by another connection", func(t *testing.T) {
		assert.Equal(t, OpAck, exchange(t, a, Frame{Op: OpBind, Seq: 10, AgentID: "shared"}).Op)
		got := exchange(t, b, Frame{Op: OpBind, Seq: 11, AgentID: "shared"})
		assert.Equal(t, CodeBound, got.Code)

		assert.Equal(t, OpAck, exchange(t, a, Frame{Op: OpBind, Seq: 12, AgentID: "shared"}).Op, "rebinding own id is fine")
	})
}

func TestHub_DisconnectReleasesBindings(t *testing.T) {
	hub, url := startHub(t)
	conn := rawClient(t, url)

	exchange(t, conn, Frame{Op: OpBind, Seq: 1, AgentID: "a1"})
	exchange(t, conn, Frame{Op: OpBind, Seq: 2, AgentID: "a2"})
	conns, bindings := hub.Stats()
	assert.Equal(t, 1, conns)
	assert.Equal(t, 2, bindings)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		c, b := hub.Stats()
		return c == 0 && b == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_Unbind(t *testing.T) {
	hub, url := startHub(t)
	conn := rawClient(t, url)

	exchange(t, conn, Frame{Op: OpBind, Seq: 1, AgentID: "a1"})
	assert.Equal(t, OpAck, exchange(t, conn, Frame{Op: OpUnbind, Seq: 2, AgentID: "a1"}).Op)
	assert.False(t, hub.Bound("a1"))
	assert.Equal(t, OpAck, exchange(t, conn, Frame{Op: OpUnbind, Seq: 3, AgentID: "a1"}).Op)
}

func TestHub_HealthCheck(t *testing.T) {
	hub := NewHub()
	e := echo.New()
	hub.RegisterRoutes(e)

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["connections"])
}

func TestHub_CloseRejectsNewConnections(t *testing.T) {
	hub, url := startHub(t)
	conn := rawClient(t, url)
	exchange(t, conn, Frame{Op: OpBind, Seq: 1, AgentID: "a1"})

	done := make(chan struct{})
	go func() {
		_ = hub.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return")
	}

	_, resp, err := websocket.DefaultDialer.DialContext(context.Background(), url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}
}
