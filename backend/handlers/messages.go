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
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/samber/lo"

	"github.com/bookguru/community/backend/apperr"
	"github.com/bookguru/community/backend/models"
	"github.com/bookguru/community/backend/storage/uploads"
)

type messageRequest struct {
	ReceiverID int64   `json:"receiver_id"`
	Content    *string `json:"content"`
}

// messageReader accepts either a JSON body or a multipart form with an
// optional file part.
type messageReader struct {
	uploads  uploads.AttachmentStore
	maxBytes int64
}

func (m messageReader) read(w http.ResponseWriter, r *http.Request) (messageRequest, models.Message, error) {
	var req messageRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if err := decodeJSON(r, &req); err != nil {
			return req, models.Message{}, err
		}
		return req, models.Message{Content: req.Content}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, m.maxBytes+1<<20)
	if err := r.ParseMultipartForm(m.maxBytes); err != nil {
		return req, models.Message{}, fmt.Errorf("%w: invalid multipart body", apperr.ErrValidation)
	}
	if raw := r.FormValue("receiver_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return req, models.Message{}, fmt.Errorf("%w: invalid receiver_id", apperr.ErrValidation)
		}
		req.ReceiverID = id
	}
	if content := r.FormValue("content"); content != "" {
		req.Content = lo.ToPtr(content)
	}
	draft := models.Message{Content: req.Content}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return req, draft, nil
	}
	if err != nil {
		return req, models.Message{}, fmt.Errorf("%w: unreadable file part", apperr.ErrValidation)
	}
	defer file.Close()

	if m.uploads == nil {
		return req, models.Message{}, fmt.Errorf("%w: attachments are disabled", apperr.ErrValidation)
	}
	attachment, err := m.uploads.Save(r.Context(), header.Filename, file)
	if err != nil {
		return req, models.Message{}, err
	}
	draft.Attachment = &attachment
	return req, draft, nil
}
