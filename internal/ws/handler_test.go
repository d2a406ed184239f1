package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/matchstate/internal/hub"
	"github.com/DoyleJ11/matchstate/internal/types"
)

func dial(t *testing.T, query string) (*websocket.Conn, context.Context) {
	t.Helper()
	h := hub.NewHub(context.Background(), hub.Config{SweepInterval: time.Hour})
	t.Cleanup(h.Close)
	srv := httptest.NewServer(Handler(h, nil))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func readMsg(t *testing.T, ctx context.Context, conn *websocket.Conn) types.ServerMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg types.ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(payload)))
}

func TestHandler_StreamsSnapshots(t *testing.T) {
	conn, ctx := dial(t, "/?match=M1")

	first := readMsg(t, ctx, conn)
	assert.Equal(t, "MetaSnapshot", first.Type)
	assert.Equal(t, "M1", first.MatchID)
	assert.Equal(t, 0, first.Version)

	send(t, ctx, conn, `{"type": "Vote", "voterId": "A", "duration": 45}`)
	next := readMsg(t, ctx, conn)
	assert.Equal(t, 1, next.Version)
	require.NotNil(t, next.Meta)
	assert.Equal(t, 45, next.Meta.Vote.Voters["A"])

	send(t, ctx, conn, `{"type": "Patch", "patch": {"source": "client"}}`)
	next = readMsg(t, ctx, conn)
	assert.Equal(t, 2, next.Version)
	assert.Equal(t, "client", next.Meta.Source)
}

func TestHandler_SilentSubscriberStaysConnected(t *testing.T) {
	prev := pingInterval
	pingInterval = 10 * time.Millisecond
	t.Cleanup(func() { pingInterval = prev })

	h := hub.NewHub(context.Background(), hub.Config{SweepInterval: time.Hour})
	t.Cleanup(h.Close)
	srv := httptest.NewServer(Handler(h, nil))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/?match=M9", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	readMsg(t, ctx, conn) // join snapshot

	// The client only reads; several ping rounds pass before the next change.
	go func() {
		time.Sleep(150 * time.Millisecond)
		if lb, err := h.Ensure(ctx, "M9", ""); err == nil {
			lb.Vote(ctx, "A", 30)
		}
	}()

	next := readMsg(t, ctx, conn)
	assert.Equal(t, "MetaSnapshot", next.Type)
	assert.Equal(t, 1, next.Version)
}

func TestHandler_RejectsBadMessages(t *testing.T) {
	conn, ctx := dial(t, "/?match=M1")
	readMsg(t, ctx, conn) // join snapshot

	cases := []struct {
		payload string
		wantErr string
	}{
		{`{"type":`, "bad json"},
		{`{"type": "Explode"}`, "unknown type"},
		{`{"type": "Vote", "duration": 30}`, "missing field"},
		{`{"type": "Patch"}`, "missing field"},
	}
	for _, tc := range cases {
		send(t, ctx, conn, tc.payload)
		msg := readMsg(t, ctx, conn)
		assert.Equal(t, "Error", msg.Type, tc.payload)
		assert.Equal(t, tc.wantErr, msg.Error, tc.payload)
	}
}

func TestHandler_MissingMatch(t *testing.T) {
	h := hub.NewHub(context.Background(), hub.Config{SweepInterval: time.Hour})
	t.Cleanup(h.Close)

	rec := httptest.NewRecorder()
	Handler(h, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
