// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package storage

import "context"

// Store is everything the community module needs from its backing database.
type Store interface {
	MessageStore
	MembershipStore
	GroupStore
	UserStore
	ResultStore
	SubscriptionGate

	Ping(ctx context.Context) error
}
