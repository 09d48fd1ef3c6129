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

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bookguru/community/backend/apperr"
	"github.com/bookguru/community/backend/models"
)

var (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = int64(4096)
)

// Client pumps envelopes between one websocket connection and the hub.
type Client struct {
	conn    *websocket.Conn
	hub     *Hub
	session *Session
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	log     *slog.Logger
}

// NewClient returns a sink that buffers envelopes until Serve attaches the
// connection, so a session can be registered before the upgrade.
func NewClient(hub *Hub, sendBuffer int, log *slog.Logger) *Client {
	return &Client{
		hub:  hub,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		log:  log,
	}
}

// Deliver enqueues without blocking. A full buffer drops the event for this
// connection only.
func (c *Client) Deliver(env models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return apperr.ErrSlowConsumer
	}
}

// Serve pumps the connection for an already registered session and blocks
// until it closes. The session is released on return.
func (c *Client) Serve(ctx context.Context, conn *websocket.Conn, session *Session) {
	c.conn = conn
	c.session = session
	c.log.Info("client connected", "user_id", session.UserID, "session_id", session.ID)

	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Disconnect(ctx, c.session)
		c.close()
		c.log.Info("client disconnected", "user_id", c.session.UserID, "session_id", c.session.ID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read failed", "session_id", c.session.ID, "error", err)
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.reply(ErrorEnvelope("", errors.Join(apperr.ErrValidation, err)))
			continue
		}
		if err := c.hub.Handle(ctx, c.session, env); err != nil {
			if !errors.Is(err, apperr.ErrNotAMember) && !errors.Is(err, apperr.ErrValidation) {
				c.log.Warn("client event failed", "session_id", c.session.ID, "type", env.Type, "error", err)
			}
			c.reply(ErrorEnvelope(env.Type, err))
		}
	}
}

func (c *Client) reply(env models.Envelope) {
	if err := c.Deliver(env); err != nil {
		c.log.Debug("error reply dropped", "session_id", c.session.ID, "error", err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("write failed", "session_id", c.session.ID, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
