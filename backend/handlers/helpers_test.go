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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"github.com/bookguru/community/backend/middleware"
	"github.com/bookguru/community/backend/models"
	"github.com/bookguru/community/backend/realtime"
	"github.com/bookguru/community/backend/retention"
	"github.com/bookguru/community/backend/storage/memory"
	"github.com/bookguru/community/backend/storage/uploads"
)

const (
	testSecret = "handler-secret"
	window     = 7 * 24 * time.Hour
)

type fixture struct {
	clock    clockwork.FakeClock
	store    *memory.Store
	verifier *middleware.TokenVerifier
	registry *realtime.Registry
	hub      *realtime.Hub
	groups   *GroupHandler
	dms      *DMHandler
	cbt      *CBTHandler
	admin    *AdminHandler
	ws       *WSHandler
	group    models.Group
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	clock := clockwork.NewFakeClock()

	store := memory.NewStore(clock)
	store.AddUser(models.User{ID: 1, Username: "ada"})
	store.AddUser(models.User{ID: 2, Username: "bob"})
	store.AddUser(models.User{ID: 3, Username: "cy"})
	group, err := store.CreateGroup(ctx, "Biology")
	require.NoError(t, err)
	require.NoError(t, store.Join(ctx, 1, group.ID))

	files, err := uploads.NewDiskStore(t.TempDir(), 1<<20)
	require.NoError(t, err)

	verifier := middleware.NewTokenVerifier(testSecret, "")
	registry := realtime.NewRegistry(verifier, log)
	broadcaster := realtime.NewLocalBroadcaster(registry, log)
	presence := realtime.NewPresence(registry, broadcaster, realtime.NewDebouncer(clock, 100*time.Millisecond), log)
	registry.Observe(presence)
	typing := realtime.NewTyping(clock, 5*time.Second, broadcaster, log)
	t.Cleanup(typing.Close)
	t.Cleanup(presence.Close)

	hub := realtime.NewHub(registry, presence, typing, store, log)
	router := realtime.NewRouter(store, store, store, broadcaster, presence, log)
	opts := Options{Window: window, MaxUploadBytes: 1 << 20, ResultsKept: 5, Clock: clock}
	sweeper := retention.NewSweeper(store, store, window, 5, clock, log)

	return fixture{
		clock:    clock,
		store:    store,
		verifier: verifier,
		registry: registry,
		hub:      hub,
		groups:   NewGroupHandler(store, router, hub, files, opts, log),
		dms:      NewDMHandler(store, router, files, opts, log),
		cbt:      NewCBTHandler(store, opts.ResultsKept, log),
		admin:    NewAdminHandler(store, hub, sweeper, log),
		ws:       NewWSHandler(hub, []string{"http://localhost:3000"}, 16, log),
		group:    group,
	}
}

// call runs h as userID with the given mux vars and JSON body.
func call(t *testing.T, h http.HandlerFunc, method, target string, userID int64, vars map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	r := httptest.NewRequest(method, target, reader)
	r.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		r = r.WithContext(middleware.WithClaims(r.Context(), &middleware.Claims{UserID: userID}))
	}
	if vars != nil {
		r = mux.SetURLVars(r, vars)
	}
	return serve(h, r)
}

func serve(h http.HandlerFunc, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func groupVars(id int64) map[string]string {
	return map[string]string{"groupId": itoa(id)}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func ptr(s string) *string { return &s }

type discardSink struct{}

func (discardSink) Deliver(models.Envelope) error { return nil }

func joinEnvelope(t *testing.T, groupID int64) models.Envelope {
	env, err := models.NewEnvelope(models.EventJoinGroupRoom, models.RoomRequest{GroupID: groupID})
	require.NoError(t, err)
	return env
}
