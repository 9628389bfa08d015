package campus

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/campusverse/campus/backend-go/internal/typeid"
)

// ServeWS upgrades the request and runs the connection until it closes. The socket itself is
// not authenticated; the join frame carries the identity.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("websocket accept", "error", err)
		return
	}

	client := NewClient(h, conn, typeid.NewConnID(), r.RemoteAddr)
	if !h.Register(client) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	ctx := r.Context()
	go client.WritePump(ctx)
	client.ReadPump(ctx)
}

// ServePresence writes the current snapshot as JSON.
func (h *Hub) ServePresence(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(UpdatePresencePayload{Players: h.Snapshot()}); err != nil {
		slog.Warn("encode presence", "error", err)
	}
}
