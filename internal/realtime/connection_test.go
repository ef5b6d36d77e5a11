package realtime_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/realtime"
)

func TestConnection_DeliversHubEnvelopes(t *testing.T) {
	hub := realtime.NewHub(zap.NewNop())
	upgrader := websocket.Upgrader{}
	registered := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		conn := realtime.NewConnection(ws, 8)
		require.NoError(t, hub.Register(conn))
		conn.Start()
		close(registered)

		conn.ReadLoop()
		hub.Unregister(conn)
		conn.Close()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	select {
	case <-registered:
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not registered")
	}

	assert.Equal(t, 1, hub.Publish("message_incoming", map[string]string{"body": "hi"}))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, frame, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"message_incoming","data":{"body":"hi"}}`, string(frame))

	require.NoError(t, client.Close())
	assert.Eventually(t, func() bool { return hub.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestConnection_SendAfterClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	conns := make(chan *realtime.Connection, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conns <- realtime.NewConnection(ws, 1)
	}))
	defer server.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	conn := <-conns
	assert.NotEmpty(t, conn.ID())

	// the write loop is not running, so the second frame overflows the buffer
	require.NoError(t, conn.Send("e", []byte("1")))
	assert.ErrorIs(t, conn.Send("e", []byte("2")), realtime.ErrBufferExceeded)
	assert.ErrorIs(t, conn.Send("e", []byte("3")), realtime.ErrConnectionClosed)

	conn.Close()
}
