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

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"INFO"`
	DatabaseURL string `envconfig:"DATABASE_URL" default:"postgres://localhost/bookguru?sslmode=disable"`
	// STORAGE_DRIVER selects postgres or the in-process memory store
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"postgres"`
	// REDIS_URL enables the cross-process room bus when set
	RedisURL string `envconfig:"REDIS_URL"`

	JWTSecret    string   `envconfig:"JWT_SECRET" required:"true"`
	JWTIssuer    string   `envconfig:"JWT_ISSUER"`
	FrontendURLs []string `envconfig:"FRONTEND_URLS" default:"http://localhost:3000"`

	RetentionWindow   time.Duration `envconfig:"RETENTION_WINDOW" default:"168h"`
	RetentionSchedule string        `envconfig:"RETENTION_SCHEDULE" default:"0 0 * * *"`
	CBTResultsKept    int           `envconfig:"CBT_RESULTS_KEPT" default:"5"`

	PresenceDebounce     time.Duration `envconfig:"PRESENCE_DEBOUNCE" default:"250ms"`
	TypingExpiry         time.Duration `envconfig:"TYPING_EXPIRY" default:"5s"`
	TypingRate           float64       `envconfig:"TYPING_RATE" default:"5"`
	TypingBurst          int           `envconfig:"TYPING_BURST" default:"5"`
	AnnounceOnlineOnSend bool          `envconfig:"ANNOUNCE_ONLINE_ON_SEND" default:"true"`
	SendBuffer           int           `envconfig:"SEND_BUFFER" default:"256"`

	UploadDir            string `envconfig:"UPLOAD_DIR" default:"uploads"`
	MaxUploadBytes       int64  `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`
	// SUBSCRIPTION_REQUIRED left unset gates postgres deployments only
	SubscriptionRequired *bool `envconfig:"SUBSCRIPTION_REQUIRED"`
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case DriverPostgres, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET must not be empty"))
	}
	if c.RetentionWindow <= 0 {
		errs = append(errs, errors.New("RETENTION_WINDOW must be positive"))
	}
	if c.CBTResultsKept <= 0 {
		errs = append(errs, errors.New("CBT_RESULTS_KEPT must be positive"))
	}
	if c.PresenceDebounce < 0 || c.TypingExpiry <= 0 {
		errs = append(errs, errors.New("PRESENCE_DEBOUNCE and TYPING_EXPIRY must be positive"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("SEND_BUFFER must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

// GateSubscriptions reports whether API calls need an active subscription.
// The memory driver keeps no subscription records, so it defaults to open.
func (c Config) GateSubscriptions() bool {
	if c.SubscriptionRequired != nil {
		return *c.SubscriptionRequired
	}
	return c.StorageDriver != DriverMemory
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
