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

// Package retention enforces the bounded history of the community: messages
// older than the window and CBT results beyond the per-user cap.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/bookguru/community/backend/storage"
)

const (
	DefaultWindow   = 7 * 24 * time.Hour
	DefaultKeep     = 5
	DefaultSchedule = "0 0 * * *"
)

type Report struct {
	Cutoff         time.Time `json:"cutoff"`
	GroupMessages  int64     `json:"group_messages"`
	DirectMessages int64     `json:"direct_messages"`
	Results        int64     `json:"results"`
}

type Sweeper struct {
	messages storage.MessageStore
	results  storage.ResultStore
	window   time.Duration
	keep     int
	clock    clockwork.Clock
	log      *slog.Logger
}

func NewSweeper(messages storage.MessageStore, results storage.ResultStore, window time.Duration, keep int, clock clockwork.Clock, log *slog.Logger) *Sweeper {
	return &Sweeper{
		messages: messages,
		results:  results,
		window:   window,
		keep:     keep,
		clock:    clock,
		log:      log,
	}
}

// Sweep deletes every message strictly older than now minus the window and
// trims CBT history to the newest keep results per user.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	report := Report{Cutoff: s.clock.Now().Add(-s.window)}

	purged, err := s.messages.PurgeOlderThan(ctx, report.Cutoff)
	if err != nil {
		return report, fmt.Errorf("purge messages: %w", err)
	}
	report.GroupMessages = purged.GroupMessages
	report.DirectMessages = purged.DirectMessages

	if s.results != nil {
		trimmed, err := s.results.TrimResults(ctx, s.keep)
		if err != nil {
			return report, fmt.Errorf("trim results: %w", err)
		}
		report.Results = trimmed
	}

	s.log.Info("retention sweep done",
		"cutoff", report.Cutoff,
		"group_messages", report.GroupMessages,
		"direct_messages", report.DirectMessages,
		"results", report.Results)
	return report, nil
}

// Schedule registers the sweep on c. A failed run is logged and waits for
// the next tick.
func (s *Sweeper) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error("retention sweep failed", "error", err)
		}
	})
}
