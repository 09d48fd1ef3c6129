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
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bookguru/community/backend/models"
)

func Test_SubmitResult_Should_Keep_Five_Most_Recent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// Given seven submitted attempts
	for i := 1; i <= 7; i++ {
		w := call(t, f.cbt.SubmitResult, http.MethodPost, "/api/cbt/results", 1, nil,
			map[string]int{"subject_id": 3, "score": i, "total": 10, "duration_mins": 12})
		req.Equal(http.StatusCreated, w.Code)
		f.clock.Advance(time.Minute)
	}

	// When the history is read
	w := call(t, f.cbt.GetHistory, http.MethodGet, "/api/cbt/history", 1, nil, nil)

	// Then only the five newest remain, newest first
	req.Equal(http.StatusOK, w.Code)
	history := decode[[]models.CBTResult](t, w)
	req.Len(history, 5)
	req.Equal(7, history[0].Score)
	req.Equal(3, history[4].Score)
	req.InDelta(70.0, history[0].Percentage, 0.001)
}

func Test_SubmitResult_Should_Validate_Scores(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	cases := []map[string]int{
		{"subject_id": 3, "score": 11, "total": 10},
		{"subject_id": 3, "score": 1, "total": 0},
		{"score": 1, "total": 10},
	}
	for _, body := range cases {
		w := call(t, f.cbt.SubmitResult, http.MethodPost, "/", 1, nil, body)
		req.Equal(http.StatusBadRequest, w.Code, body)
	}
}
