// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bookguru/community/backend/apperr"
	"github.com/bookguru/community/backend/middleware"
	"github.com/bookguru/community/backend/realtime"
	"github.com/bookguru/community/backend/storage"
	"github.com/bookguru/community/backend/storage/uploads"
)

type DMStore interface {
	storage.MessageStore
	storage.UserStore
}

type DMHandler struct {
	store  DMStore
	router *realtime.Router
	body   messageReader
	opts   Options
	log    *slog.Logger
}

func NewDMHandler(store DMStore, router *realtime.Router, files uploads.AttachmentStore, opts Options, log *slog.Logger) *DMHandler {
	return &DMHandler{
		store:  store,
		router: router,
		body:   messageReader{uploads: files, maxBytes: opts.MaxUploadBytes},
		opts:   opts,
		log:    log,
	}
}

// SendDM persists the message and pushes it to both participants' inbox rooms.
func (h *DMHandler) SendDM(w http.ResponseWriter, r *http.Request) {
	senderID, ok := middleware.GetUserID(r)
	if !ok {
		writeError(w, h.log, apperr.ErrUnauthorized)
		return
	}

	req, draft, err := h.body.read(w, r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.ReceiverID <= 0 {
		writeError(w, h.log, fmt.Errorf("%w: receiver_id is required", apperr.ErrValidation))
		return
	}

	msg, err := h.router.SendDirect(r.Context(), senderID, req.ReceiverID, draft)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// GetConversations lists the caller's partners, most recent first.
func (h *DMHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		writeError(w, h.log, apperr.ErrUnauthorized)
		return
	}

	conversations, err := h.store.ListConversations(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (h *DMHandler) GetDMsWith(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		writeError(w, h.log, apperr.ErrUnauthorized)
		return
	}
	otherID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	since, err := h.opts.since(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	if _, err := h.store.GetUser(r.Context(), otherID); err != nil {
		writeError(w, h.log, err)
		return
	}

	messages, err := h.store.ListDirectMessages(r.Context(), userID, otherID, since)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}
