// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/bookguru/community/backend/apperr"
	"github.com/bookguru/community/backend/middleware"
	"github.com/bookguru/community/backend/realtime"
)

type WSHandler struct {
	hub        *realtime.Hub
	upgrader   websocket.Upgrader
	sendBuffer int
	log        *slog.Logger
}

func NewWSHandler(hub *realtime.Hub, allowedOrigins []string, sendBuffer int, log *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return middleware.AllowedOrigin(allowedOrigins, r.Header.Get("Origin"))
			},
		},
		sendBuffer: sendBuffer,
		log:        log,
	}
}

// ServeWS authenticates the handshake before upgrading, so a bad token gets
// a plain 401 and never becomes a session.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token, err := middleware.BearerToken(r)
	if err != nil {
		writeError(w, h.log, apperr.ErrUnauthorized)
		return
	}

	client := realtime.NewClient(h.hub, h.sendBuffer, h.log)
	session, err := h.hub.Authenticate(token, client)
	if err != nil {
		writeError(w, h.log, apperr.ErrUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "user_id", session.UserID, "error", err)
		h.hub.Disconnect(r.Context(), session)
		return
	}

	client.Serve(r.Context(), conn, session)
}
