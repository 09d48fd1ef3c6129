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

package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"github.com/bookguru/community/backend/models"
)

type recordingSink struct {
	mu   sync.Mutex
	envs []models.Envelope
	fail error
}

func (s *recordingSink) Deliver(env models.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.envs = append(s.envs, env)
	return nil
}

func (s *recordingSink) events(t models.EventType) []models.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Envelope
	for _, env := range s.envs {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func (s *recordingSink) count(t models.EventType) int {
	return len(s.events(t))
}

func (s *recordingSink) lastOnlineCount(t *testing.T) (models.OnlineCount, bool) {
	envs := s.events(models.EventOnlineCount)
	if len(envs) == 0 {
		return models.OnlineCount{}, false
	}
	var oc models.OnlineCount
	require.NoError(t, json.Unmarshal(envs[len(envs)-1].Payload, &oc))
	return oc, true
}

type staticAuth map[string]int64

var errBadToken = errors.New("bad token")

func (a staticAuth) Authenticate(token string) (int64, error) {
	id, ok := a[token]
	if !ok {
		return 0, errBadToken
	}
	return id, nil
}

type recordingObserver struct {
	mu    sync.Mutex
	rooms []Room
}

func (o *recordingObserver) RoomChanged(room Room) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rooms = append(o.rooms, room)
}

func (o *recordingObserver) seen() []Room {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Room(nil), o.rooms...)
}

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelDebug)
}

func ptr(s string) *string { return &s }

func envelope(t *testing.T, typ models.EventType, payload any) models.Envelope {
	env, err := models.NewEnvelope(typ, payload)
	require.NoError(t, err)
	return env
}
