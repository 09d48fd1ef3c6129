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

// Package integration assembles the community server from its parts so it
// can run standalone or be mounted into the main BookGuru router.
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/bookguru/community/backend/config"
	"github.com/bookguru/community/backend/handlers"
	"github.com/bookguru/community/backend/middleware"
	"github.com/bookguru/community/backend/models"
	"github.com/bookguru/community/backend/realtime"
	"github.com/bookguru/community/backend/retention"
	"github.com/bookguru/community/backend/storage"
	"github.com/bookguru/community/backend/storage/memory"
	"github.com/bookguru/community/backend/storage/postgres"
	redisbus "github.com/bookguru/community/backend/storage/redis"
	"github.com/bookguru/community/backend/storage/uploads"
)

// Community wires the stores, the realtime core and the HTTP surface.
type Community struct {
	cfg      config.Config
	store    storage.Store
	verifier *middleware.TokenVerifier
	registry *realtime.Registry
	presence *realtime.Presence
	typing   *realtime.Typing
	hub      *realtime.Hub
	bus      *redisbus.Bus
	files    *uploads.DiskStore
	sweeper  *retention.Sweeper
	log      *slog.Logger

	groupHandler  *handlers.GroupHandler
	dmHandler     *handlers.DMHandler
	cbtHandler    *handlers.CBTHandler
	adminHandler  *handlers.AdminHandler
	wsHandler     *handlers.WSHandler
	healthHandler *handlers.HealthHandler
}

// Dependencies are the externally owned resources. Redis is optional and
// turns on the cross-process room bus.
type Dependencies struct {
	Store storage.Store
	Redis *redis.Client
	Clock clockwork.Clock
}

// userDirectory is implemented by stores that learn users from verified
// tokens instead of the identity database.
type userDirectory interface {
	AddUser(user models.User)
}

func New(cfg config.Config, deps Dependencies, log *slog.Logger) (*Community, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("integration: store is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	files, err := uploads.NewDiskStore(cfg.UploadDir, cfg.MaxUploadBytes)
	if err != nil {
		return nil, err
	}

	verifier := middleware.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	registry := realtime.NewRegistry(verifier, log,
		realtime.WithTypingRate(rate.Limit(cfg.TypingRate), cfg.TypingBurst))

	var (
		broadcaster realtime.Broadcaster = realtime.NewLocalBroadcaster(registry, log)
		bus         *redisbus.Bus
	)
	if deps.Redis != nil {
		bus = redisbus.NewBus(deps.Redis, broadcaster, log)
		broadcaster = bus
	}

	presence := realtime.NewPresence(registry, broadcaster, realtime.NewDebouncer(clock, cfg.PresenceDebounce), log)
	registry.Observe(presence)
	typing := realtime.NewTyping(clock, cfg.TypingExpiry, broadcaster, log)
	hub := realtime.NewHub(registry, presence, typing, deps.Store, log)
	router := realtime.NewRouter(deps.Store, deps.Store, deps.Store, broadcaster, presence, log,
		realtime.WithAnnounceOnSend(cfg.AnnounceOnlineOnSend))
	sweeper := retention.NewSweeper(deps.Store, deps.Store, cfg.RetentionWindow, cfg.CBTResultsKept, clock, log)

	opts := handlers.Options{
		Window:         cfg.RetentionWindow,
		MaxUploadBytes: cfg.MaxUploadBytes,
		ResultsKept:    cfg.CBTResultsKept,
		Clock:          clock,
	}
	pingers := map[string]handlers.Pinger{"store": deps.Store}
	if bus != nil {
		pingers["redis"] = bus
	}

	return &Community{
		cfg:           cfg,
		store:         deps.Store,
		verifier:      verifier,
		registry:      registry,
		presence:      presence,
		typing:        typing,
		hub:           hub,
		bus:           bus,
		files:         files,
		sweeper:       sweeper,
		log:           log,
		groupHandler:  handlers.NewGroupHandler(deps.Store, router, hub, files, opts, log),
		dmHandler:     handlers.NewDMHandler(deps.Store, router, files, opts, log),
		cbtHandler:    handlers.NewCBTHandler(deps.Store, cfg.CBTResultsKept, log),
		adminHandler:  handlers.NewAdminHandler(deps.Store, hub, sweeper, log),
		wsHandler:     handlers.NewWSHandler(hub, cfg.FrontendURLs, cfg.SendBuffer, log),
		healthHandler: handlers.NewHealthHandler(pingers, log),
	}, nil
}

// OpenStore builds the store selected by STORAGE_DRIVER and runs migrations.
// The returned close func releases the database handle.
func OpenStore(ctx context.Context, cfg config.Config, clock clockwork.Clock) (storage.Store, func() error, error) {
	switch cfg.StorageDriver {
	case config.DriverMemory:
		store := memory.NewStore(clock)
		store.RequireSubscription(cfg.GateSubscriptions())
		return store, func() error { return nil }, nil
	case config.DriverPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		store := postgres.NewStore(db)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return store, db.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

// OpenRedis returns nil when no REDIS_URL is configured.
func OpenRedis(cfg config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// RegisterRoutes adds the community endpoints to an existing router.
func (c *Community) RegisterRoutes(router *mux.Router) {
	router.Use(middleware.RequestLogger(c.log))
	router.Use(middleware.CORS(c.cfg.FrontendURLs))

	router.HandleFunc("/health", c.healthHandler.Health).Methods("GET")
	router.HandleFunc("/ws", c.wsHandler.ServeWS).Methods("GET")
	router.PathPrefix(uploads.URLPrefix).Handler(c.files.Handler()).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.NewAuthMiddleware(c.verifier))
	api.Use(c.rememberUser)
	if c.cfg.GateSubscriptions() {
		api.Use(middleware.RequireSubscription(c.store, c.log))
	}

	// Group endpoints
	api.HandleFunc("/groups", c.groupHandler.ListGroups).Methods("GET", "OPTIONS")
	api.HandleFunc("/groups/{groupId}/isMember/{userId}", c.groupHandler.IsMember).Methods("GET", "OPTIONS")
	api.HandleFunc("/groups/{groupId}/join", c.groupHandler.JoinGroup).Methods("POST", "OPTIONS")
	api.HandleFunc("/groups/{groupId}/leave", c.groupHandler.LeaveGroup).Methods("POST", "OPTIONS")
	api.HandleFunc("/groups/{groupId}/members", c.groupHandler.GetGroupMembers).Methods("GET", "OPTIONS")
	api.HandleFunc("/groups/{groupId}/messages", c.groupHandler.GetGroupMessages).Methods("GET", "OPTIONS")
	api.HandleFunc("/groups/{groupId}/messages", c.groupHandler.SendGroupMessage).Methods("POST", "OPTIONS")

	// Direct messages
	api.HandleFunc("/dms", c.dmHandler.GetConversations).Methods("GET", "OPTIONS")
	api.HandleFunc("/dms", c.dmHandler.SendDM).Methods("POST", "OPTIONS")
	api.HandleFunc("/dms/{userId}", c.dmHandler.GetDMsWith).Methods("GET", "OPTIONS")

	// CBT history
	api.HandleFunc("/cbt/results", c.cbtHandler.SubmitResult).Methods("POST", "OPTIONS")
	api.HandleFunc("/cbt/history", c.cbtHandler.GetHistory).Methods("GET", "OPTIONS")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.AdminOnly)
	admin.HandleFunc("/groups", c.adminHandler.CreateGroup).Methods("POST", "OPTIONS")
	admin.HandleFunc("/groups/{groupId}", c.adminHandler.DeleteGroup).Methods("DELETE", "OPTIONS")
	admin.HandleFunc("/groups/{groupId}/members/{userId}", c.adminHandler.RemoveMember).Methods("DELETE", "OPTIONS")
	admin.HandleFunc("/retention/sweep", c.adminHandler.Sweep).Methods("POST", "OPTIONS")
}

// rememberUser mirrors token identities into stores that have no identity
// database of their own.
func (c *Community) rememberUser(next http.Handler) http.Handler {
	directory, ok := c.store.(userDirectory)
	if !ok {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := middleware.GetClaims(r); ok {
			directory.AddUser(models.User{ID: claims.UserID, Username: claims.Username, IsAdmin: claims.IsAdmin})
		}
		next.ServeHTTP(w, r)
	})
}

// Schedule registers the retention sweep on c.
func (c *Community) Schedule(cr *cron.Cron) error {
	if _, err := c.sweeper.Schedule(cr, c.cfg.RetentionSchedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", c.cfg.RetentionSchedule, err)
	}
	return nil
}

// Run drives the room bus when one is configured and blocks until ctx ends.
func (c *Community) Run(ctx context.Context) error {
	if c.bus == nil {
		<-ctx.Done()
		return nil
	}
	return c.bus.Run(ctx)
}

// Close stops the presence and typing timers.
func (c *Community) Close() {
	c.presence.Close()
	c.typing.Close()
}

// Hub exposes the realtime hub to hosts that own their own socket endpoint.
func (c *Community) Hub() *realtime.Hub {
	return c.hub
}

func (c *Community) Sweeper() *retention.Sweeper {
	return c.sweeper
}

// ValidateSetup checks that the store answers.
func (c *Community) ValidateSetup(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}
	if c.cfg.JWTSecret == "" {
		return fmt.Errorf("JWT secret is not configured")
	}
	return nil
}
