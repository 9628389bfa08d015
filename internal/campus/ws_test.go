package campus_test

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

	"github.com/campusverse/campus/backend-go/internal/campus"
	"github.com/campusverse/campus/backend-go/internal/presence"
)

func startServer(t *testing.T) (*campus.Hub, *httptest.Server) {
	t.Helper()
	hub := campus.NewHub(presence.NewTable())
	go hub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/api/presence", hub.ServePresence)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return hub, srv
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	var welcome campus.Message
	require.NoError(t, wsjson.Read(ctx, conn, &welcome))
	require.Equal(t, campus.TypeWelcome, welcome.Type)
	return conn
}

func write(t *testing.T, ctx context.Context, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(ctx, conn, campus.Message{Type: msgType, Payload: data}))
}

// awaitPresence reads frames until a presence update satisfies match.
func awaitPresence(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(presence.Snapshot) bool) presence.Snapshot {
	t.Helper()
	for {
		var msg campus.Message
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		if msg.Type != campus.TypeUpdatePresence {
			continue
		}
		var p campus.UpdatePresencePayload
		require.NoError(t, json.Unmarshal(msg.Payload, &p))
		if match(p.Players) {
			return p.Players
		}
	}
}

func TestWebSocket_PresenceLifecycle(t *testing.T) {
	hub, srv := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dial(t, ctx, srv)
	bob := dial(t, ctx, srv)

	write(t, ctx, alice, campus.TypeJoin, campus.JoinPayload{
		UserKey:     "alice@campus.edu",
		DisplayName: "Alice",
		AvatarID:    "avatar1",
		Position:    &presence.Position{X: 0, Y: 0},
	})
	write(t, ctx, bob, campus.TypeJoin, campus.JoinPayload{
		UserKey:     "bob@campus.edu",
		DisplayName: "Bob",
		AvatarID:    "avatar2",
		Position:    &presence.Position{X: 5, Y: 5},
	})
	awaitPresence(t, ctx, alice, func(s presence.Snapshot) bool { return len(s) == 2 })

	write(t, ctx, alice, campus.TypeMove, campus.MovePayload{
		UserKey:  "alice@campus.edu",
		Position: &presence.Position{X: 1, Y: 0},
	})
	snap := awaitPresence(t, ctx, bob, func(s presence.Snapshot) bool {
		return s["alice@campus.edu"].Position.X == 1
	})
	assert.Equal(t, presence.Position{X: 5, Y: 5}, snap["bob@campus.edu"].Position)
	assert.Equal(t, "Alice", snap["alice@campus.edu"].DisplayName)

	alice.Close(websocket.StatusNormalClosure, "bye")
	snap = awaitPresence(t, ctx, bob, func(s presence.Snapshot) bool { return len(s) == 1 })
	assert.Contains(t, snap, "bob@campus.edu")

	resp, err := http.Get(srv.URL + "/api/presence")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body campus.UpdatePresencePayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, hub.Snapshot(), body.Players)
}

func TestWebSocket_VoiceSignalRelay(t *testing.T) {
	_, srv := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dial(t, ctx, srv)
	bob := dial(t, ctx, srv)
	write(t, ctx, alice, campus.TypeJoin, campus.JoinPayload{UserKey: "alice@campus.edu"})
	write(t, ctx, bob, campus.TypeJoin, campus.JoinPayload{UserKey: "bob@campus.edu"})
	awaitPresence(t, ctx, bob, func(s presence.Snapshot) bool { return len(s) == 2 })

	write(t, ctx, alice, campus.TypeVoiceSignal, campus.SignalPayload{
		From:   "alice@campus.edu",
		To:     "bob@campus.edu",
		Signal: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})

	for {
		var msg campus.Message
		require.NoError(t, wsjson.Read(ctx, bob, &msg))
		if msg.Type != campus.TypeVoiceSignal {
			continue
		}
		var got campus.RelayedSignal
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, "alice@campus.edu", got.From)
		assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(got.Signal))
		return
	}
}

func TestWebSocket_ShutdownFlushesAndCloses(t *testing.T) {
	hub := campus.NewHub(presence.NewTable())
	go hub.Run()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, srv)
	write(t, ctx, conn, campus.TypeJoin, campus.JoinPayload{UserKey: "alice@campus.edu"})
	awaitPresence(t, ctx, conn, func(s presence.Snapshot) bool { return len(s) == 1 })

	errc := make(chan error, 1)
	go func() { errc <- hub.Shutdown(ctx) }()

	for {
		var msg campus.Message
		err := wsjson.Read(ctx, conn, &msg)
		if err != nil {
			assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
			break
		}
	}
	require.NoError(t, <-errc)
}
