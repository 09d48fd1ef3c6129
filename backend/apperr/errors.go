// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package apperr holds the error taxonomy shared by the stores, the realtime
// layer and the HTTP handlers. Callers wrap these with %w and match them with
// errors.Is.
package apperr

import "errors"

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotAMember    = errors.New("not a member of this group")
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyMember = errors.New("already a member")
	ErrSlowConsumer  = errors.New("session send buffer is full")
	ErrUnknownEvent  = errors.New("unknown event type")
)
