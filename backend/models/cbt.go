// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import "time"

// CBTResult is one scored quiz attempt. Only the most recent few per user are kept.
type CBTResult struct {
	ID           int64     `json:"id" db:"id"`
	UserID       int64     `json:"user_id" db:"user_id"`
	SubjectID    int64     `json:"subject_id" db:"subject_id"`
	Score        int       `json:"score" db:"score"`
	Total        int       `json:"total" db:"total"`
	Percentage   float64   `json:"percentage" db:"percentage"`
	DurationMins int       `json:"duration_mins" db:"duration_mins"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ComputePercentage rounds to two decimals, zero total yields zero.
func ComputePercentage(score, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(score) / float64(total) * 100
	return float64(int64(p*100+0.5)) / 100
}
