package handler

import (
	"net/http"

	"github.com/roomchat/internal/ws"
)

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
}

// Health отвечает на проверки живости текущими счётчиками соединений и комнат.
func Health(hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conns, rooms := hub.Stats()
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Connections: conns, Rooms: rooms})
	}
}
