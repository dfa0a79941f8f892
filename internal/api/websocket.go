package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/flotilla-app/flotilla/internal/middleware"
	"github.com/flotilla-app/flotilla/internal/presence"
	"github.com/flotilla-app/flotilla/internal/service"
)

// Message types sent on the watch stream. Keepalive uses websocket control
// frames, not Message frames.
const (
	MessageTypeLocations = "locations"
	MessageTypeGroupGone = "group_gone"
)

// Message is one websocket frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The identity token authenticates the connection; origin is not the
	// trust boundary for non-browser device clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WatchGroup handles GET /api/v1/groups/{groupID}/watch. It upgrades to a
// websocket and streams the composed member-location mapping: one
// "locations" frame per update, a "group_gone" frame if the group
// disappears. The watch is torn down when the client goes away.
func (h *Handlers) WatchGroup(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID := chi.URLParam(r, "groupID")

	group, err := h.membership.GetGroup(r.Context(), groupID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !group.HasMember(userID) {
		writeJSON(w, http.StatusForbidden, errorBody{Code: "not_member", Error: service.ErrNotMember.Error()})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Snapshots are full state: when the client lags, keep only the newest.
	updates := make(chan presence.Update, 1)
	cancel := h.propagator.Watch(groupID, userID, func(u presence.Update) {
		for {
			select {
			case updates <- u:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	})
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case u := <-updates:
			msg := Message{Type: MessageTypeLocations, Data: u.Locations}
			if u.GroupGone {
				msg = Message{Type: MessageTypeGroupGone}
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
