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

package postgres

import "context"

func (s *Store) Migrate(ctx context.Context) error {
	migrations := []string{
		// Users are owned by the identity service; only what messaging reads is mirrored
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username VARCHAR(255) NOT NULL UNIQUE,
			email VARCHAR(255),
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS subscriptions (
			user_id BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			expires_at TIMESTAMPTZ NOT NULL
		)`,

		// Groups table
		`CREATE TABLE IF NOT EXISTS groups (
			id BIGSERIAL PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		// Group members table
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (group_id, user_id),
			FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_group_members_user
		ON group_members(user_id)`,

		// clock_timestamp() so rows inserted in one transaction still get distinct stamps
		`CREATE TABLE IF NOT EXISTS group_messages (
			id BIGSERIAL PRIMARY KEY,
			group_id BIGINT NOT NULL,
			sender_id BIGINT NOT NULL,
			content TEXT,
			attachment_url TEXT,
			attachment_kind VARCHAR(10) CHECK (attachment_kind IN ('image', 'file')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
			CHECK (content IS NOT NULL OR attachment_url IS NOT NULL),
			FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE,
			FOREIGN KEY (sender_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		// Create index for windowed room history
		`CREATE INDEX IF NOT EXISTS idx_group_messages_window
		ON group_messages(group_id, created_at, id)`,

		`CREATE INDEX IF NOT EXISTS idx_group_messages_created
		ON group_messages(created_at)`,

		`CREATE TABLE IF NOT EXISTS direct_messages (
			id BIGSERIAL PRIMARY KEY,
			sender_id BIGINT NOT NULL,
			receiver_id BIGINT NOT NULL,
			content TEXT,
			attachment_url TEXT,
			attachment_kind VARCHAR(10) CHECK (attachment_kind IN ('image', 'file')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
			CHECK (content IS NOT NULL OR attachment_url IS NOT NULL),
			FOREIGN KEY (sender_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (receiver_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_direct_messages_pair
		ON direct_messages(sender_id, receiver_id, created_at, id)`,

		`CREATE INDEX IF NOT EXISTS idx_direct_messages_receiver
		ON direct_messages(receiver_id, created_at)`,

		`CREATE INDEX IF NOT EXISTS idx_direct_messages_created
		ON direct_messages(created_at)`,

		`CREATE TABLE IF NOT EXISTS cbt_results (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			subject_id BIGINT NOT NULL,
			score INTEGER NOT NULL,
			total INTEGER NOT NULL,
			percentage DOUBLE PRECISION NOT NULL,
			duration_mins INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_cbt_results_user
		ON cbt_results(user_id, created_at DESC, id DESC)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return err
		}
	}

	return nil
}
