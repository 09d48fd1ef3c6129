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

import (
	"context"

	"github.com/lib/pq"

	"github.com/bookguru/community/backend/models"
)

func (s *Store) SaveResult(ctx context.Context, result models.CBTResult) (models.CBTResult, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO cbt_results (user_id, subject_id, score, total, percentage, duration_mins)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		result.UserID, result.SubjectID, result.Score, result.Total,
		result.Percentage, result.DurationMins).Scan(&result.ID, &result.CreatedAt)
	if err != nil {
		return models.CBTResult{}, translate(err, "save result")
	}
	return result, nil
}

func (s *Store) ListRecentResults(ctx context.Context, userID int64, limit int) ([]models.CBTResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, subject_id, score, total, percentage, duration_mins, created_at
		FROM cbt_results
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []models.CBTResult{}
	for rows.Next() {
		var r models.CBTResult
		if err := rows.Scan(&r.ID, &r.UserID, &r.SubjectID, &r.Score, &r.Total,
			&r.Percentage, &r.DurationMins, &r.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// TrimUserResults keeps the newest keep results of one user and deletes the rest.
func (s *Store) TrimUserResults(ctx context.Context, userID int64, keep int) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM cbt_results
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
		FOR UPDATE`,
		userID, keep)
	if err != nil {
		return 0, err
	}
	kept := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		kept = append(kept, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM cbt_results
		WHERE user_id = $1 AND NOT (id = ANY($2))`,
		userID, pq.Array(kept))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return n, tx.Commit()
}

// TrimResults applies the per-user cap to every user at once.
func (s *Store) TrimResults(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cbt_results
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY user_id ORDER BY created_at DESC, id DESC
				) AS rn
				FROM cbt_results
			) ranked
			WHERE rn > $1
		)`,
		keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
