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

	"github.com/bookguru/community/backend/apperr"
	"github.com/bookguru/community/backend/middleware"
	"github.com/bookguru/community/backend/realtime"
	"github.com/bookguru/community/backend/storage"
	"github.com/bookguru/community/backend/storage/uploads"
)

// GroupStore is the slice of storage the group endpoints read from.
type GroupStore interface {
	storage.GroupStore
	storage.MembershipStore
	storage.MessageStore
}

type GroupHandler struct {
	store  GroupStore
	router *realtime.Router
	hub    *realtime.Hub
	body   messageReader
	opts   Options
	log    *slog.Logger
}

func NewGroupHandler(store GroupStore, router *realtime.Router, hub *realtime.Hub, files uploads.AttachmentStore, opts Options, log *slog.Logger) *GroupHandler {
	return &GroupHandler{
		store:  store,
		router: router,
		hub:    hub,
		body:   messageReader{uploads: files, maxBytes: opts.MaxUploadBytes},
		opts:   opts,
		log:    log,
	}
}

func (h *GroupHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.store.ListGroups(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *GroupHandler) IsMember(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "groupId")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	userID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	member, err := h.store.IsMember(r.Context(), userID, groupID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"isMember": member})
}

func (h *GroupHandler) JoinGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		writeError(w, h.log, apperr.ErrUnauthorized)
		return
	}
	groupID, err := pathID(r, "groupId")
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	if err := h.store.Join(r.Context(), userID, groupID); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.hub.MemberJoined(groupID)

	h.log.Info("member joined", "user_id", userID, "group_id", groupID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Joined group"})
}

// LeaveGroup drops the membership and evicts the user's open sessions from
// the room so they stop receiving its events.
func (h *GroupHandler) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		writeError(w, h.log, apperr.ErrUnauthorized)
		return
	}
	groupID, err := pathID(r, "groupId")
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	if err := h.store.Leave(r.Context(), userID, groupID); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.hub.MemberLeft(r.Context(), userID, groupID)

	h.log.Info("member left", "user_id", userID, "group_id", groupID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Left group"})
}

func (h *GroupHandler) GetGroupMembers(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "groupId")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if _, err := h.store.GetGroup(r.Context(), groupID); err != nil {
		writeError(w, h.log, err)
		return
	}

	members, err := h.store.ListMembers(r.Context(), groupID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group_id": groupID,
		"members":  members,
	})
}

func (h *GroupHandler) GetGroupMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		writeError(w, h.log, apperr.ErrUnauthorized)
		return
	}
	groupID, err := pathID(r, "groupId")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	since, err := h.opts.since(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	member, err := h.store.IsMember(r.Context(), userID, groupID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if !member {
		writeError(w, h.log, apperr.ErrNotAMember)
		return
	}

	messages, err := h.store.ListGroupMessages(r.Context(), groupID, since)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *GroupHandler) SendGroupMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		writeError(w, h.log, apperr.ErrUnauthorized)
		return
	}
	groupID, err := pathID(r, "groupId")
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	_, draft, err := h.body.read(w, r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	msg, err := h.router.SendToGroup(r.Context(), groupID, userID, draft)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
