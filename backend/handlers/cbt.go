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
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bookguru/community/backend/apperr"
	"github.com/bookguru/community/backend/middleware"
	"github.com/bookguru/community/backend/models"
	"github.com/bookguru/community/backend/storage"
)

type CBTHandler struct {
	store storage.ResultStore
	keep  int
	log   *slog.Logger
}

func NewCBTHandler(store storage.ResultStore, keep int, log *slog.Logger) *CBTHandler {
	return &CBTHandler{store: store, keep: keep, log: log}
}

type resultRequest struct {
	SubjectID    int64 `json:"subject_id" validate:"required,gt=0"`
	Score        int   `json:"score" validate:"gte=0"`
	Total        int   `json:"total" validate:"required,gt=0"`
	DurationMins int   `json:"duration_mins" validate:"gte=0"`
}

// SubmitResult stores a scored attempt and trims the caller's history.
func (h *CBTHandler) SubmitResult(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		writeError(w, h.log, apperr.ErrUnauthorized)
		return
	}

	var req resultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.Score > req.Total {
		writeError(w, h.log, fmt.Errorf("%w: score exceeds total", apperr.ErrValidation))
		return
	}

	result, err := h.store.SaveResult(r.Context(), models.CBTResult{
		UserID:       userID,
		SubjectID:    req.SubjectID,
		Score:        req.Score,
		Total:        req.Total,
		Percentage:   models.ComputePercentage(req.Score, req.Total),
		DurationMins: req.DurationMins,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	// The result is already stored, a failed trim is caught up by the sweeper.
	if _, err := h.store.TrimUserResults(r.Context(), userID, h.keep); err != nil {
		h.log.Warn("failed to trim results", "user_id", userID, "error", err)
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *CBTHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		writeError(w, h.log, apperr.ErrUnauthorized)
		return
	}

	results, err := h.store.ListRecentResults(r.Context(), userID, h.keep)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
