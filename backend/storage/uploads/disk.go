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

// Package uploads stores message attachments as files on local disk.
package uploads

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/bookguru/community/backend/apperr"
	"github.com/bookguru/community/backend/models"
)

// URLPrefix is where stored files are served from.
const URLPrefix = "/uploads/"

var (
	safeExtension = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)
	imageTypes    = []string{"image/jpeg", "image/png", "image/gif"}
)

type AttachmentStore interface {
	Save(ctx context.Context, filename string, r io.Reader) (models.Attachment, error)
}

type DiskStore struct {
	dir      string
	maxBytes int64
}

func NewDiskStore(dir string, maxBytes int64) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &DiskStore{dir: dir, maxBytes: maxBytes}, nil
}

// Save writes the file under a random name. Only jpeg, png and gif content
// counts as an image, everything else is a plain file.
func (s *DiskStore) Save(ctx context.Context, filename string, r io.Reader) (models.Attachment, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return models.Attachment{}, fmt.Errorf("%w: file exceeds %d bytes", apperr.ErrValidation, s.maxBytes)
	}
	if len(data) == 0 {
		return models.Attachment{}, fmt.Errorf("%w: file is empty", apperr.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return models.Attachment{}, err
	}

	mime := mimetype.Detect(data)
	kind := models.AttachmentFile
	if mimetype.EqualsAny(mime.String(), imageTypes...) {
		kind = models.AttachmentImage
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !safeExtension.MatchString(ext) {
		ext = mime.Extension()
	}
	name := uuid.NewString() + ext
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return models.Attachment{}, fmt.Errorf("failed to store upload: %w", err)
	}

	return models.Attachment{URL: URLPrefix + name, Kind: kind}, nil
}

// Handler serves stored files under URLPrefix. Directories are never listed.
func (s *DiskStore) Handler() http.Handler {
	return http.StripPrefix(URLPrefix, http.FileServer(filesOnly{http.Dir(s.dir)}))
}

type filesOnly struct {
	root http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.root.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}
