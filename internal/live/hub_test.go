package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newHubServer(t *testing.T, hub *Hub) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(r.Context(), conn, r.URL.Query().Get("uid"))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubNotifiesOnlyMatchingIdentity(t *testing.T) {
	hub := NewHub()
	url := newHubServer(t, hub)

	first := dial(t, url+"?uid=u1")
	second := dial(t, url+"?uid=u1")
	other := dial(t, url+"?uid=u2")

	require.Eventually(t, func() bool {
		return hub.Connections("u1") == 2 && hub.Connections("u2") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 2, hub.SignedOut(context.Background(), "u1", "/login"))

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		require.Equal(t, TypeSignedOut, msg.Type)
		require.Equal(t, "/login", msg.Location)
	}

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := other.ReadMessage()
	require.Error(t, err)
}

func TestHubForgetsClosedConnections(t *testing.T) {
	hub := NewHub()
	url := newHubServer(t, hub)

	conn := dial(t, url+"?uid=u1")
	require.Eventually(t, func() bool { return hub.Connections("u1") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool { return hub.Connections("u1") == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Zero(t, hub.SignedOut(context.Background(), "u1", "/login"))
}
