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

	"github.com/bookguru/community/backend/realtime"
	"github.com/bookguru/community/backend/retention"
	"github.com/bookguru/community/backend/storage"
)

// AdminStore is what the admin endpoints need from storage.
type AdminStore interface {
	storage.GroupStore
	storage.MembershipStore
}

type AdminHandler struct {
	store   AdminStore
	hub     *realtime.Hub
	sweeper *retention.Sweeper
	log     *slog.Logger
}

func NewAdminHandler(store AdminStore, hub *realtime.Hub, sweeper *retention.Sweeper, log *slog.Logger) *AdminHandler {
	return &AdminHandler{store: store, hub: hub, sweeper: sweeper, log: log}
}

type createGroupRequest struct {
	Title string `json:"title" validate:"required,max=255"`
}

func (h *AdminHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	group, err := h.store.CreateGroup(r.Context(), req.Title)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	h.log.Info("group created", "group_id", group.ID, "title", group.Title)
	writeJSON(w, http.StatusCreated, group)
}

// DeleteGroup removes the group with its memberships and messages, then
// evicts whoever still had the room open.
func (h *AdminHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "groupId")
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	members, err := h.store.ListMembers(r.Context(), groupID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.store.DeleteGroup(r.Context(), groupID); err != nil {
		writeError(w, h.log, err)
		return
	}
	for _, member := range members {
		h.hub.MemberLeft(r.Context(), member.ID, groupID)
	}

	h.log.Info("group deleted", "group_id", groupID, "members", len(members))
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
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

	if err := h.store.Leave(r.Context(), userID, groupID); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.hub.MemberLeft(r.Context(), userID, groupID)

	h.log.Info("member removed", "group_id", groupID, "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}

// Sweep runs a retention pass immediately.
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
