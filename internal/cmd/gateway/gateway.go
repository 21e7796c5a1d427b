// Package gateway parses gateway command flags and composes the real-time
// transport entrypoint.
package gateway

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	entrypoint "github.com/roundtablehq/roundtable/internal/platform/cmd"
	app "github.com/roundtablehq/roundtable/internal/services/gateway/app"
	"github.com/roundtablehq/roundtable/internal/services/gateway/auth"
	"github.com/roundtablehq/roundtable/internal/services/gateway/storage"
	redisstore "github.com/roundtablehq/roundtable/internal/services/gateway/storage/redis"
	sqlitestore "github.com/roundtablehq/roundtable/internal/services/gateway/storage/sqlite"
)

// Config holds gateway command configuration. Redis serves multi-process
// deployments; when no Redis address is set, the gateway falls back to a
// local SQLite store for single-node setups.
type Config struct {
	HTTPAddr           string `env:"ROUNDTABLE_GATEWAY_HTTP_ADDR"        envDefault:":8090"`
	DiscussionsBaseURL string `env:"ROUNDTABLE_DISCUSSIONS_BASE_URL"     envDefault:"http://localhost:8091"`
	ResourceSecret     string `env:"ROUNDTABLE_RESOURCE_SECRET"`

	RedisAddr     string `env:"ROUNDTABLE_GATEWAY_REDIS_ADDR"`
	RedisPassword string `env:"ROUNDTABLE_GATEWAY_REDIS_PASSWORD"`
	RedisDB       int    `env:"ROUNDTABLE_GATEWAY_REDIS_DB"        envDefault:"0"`
	SQLitePath    string `env:"ROUNDTABLE_GATEWAY_DB_PATH"         envDefault:"gateway.db"`

	MessagesPerMinute     int `env:"ROUNDTABLE_GATEWAY_MESSAGES_PER_MINUTE"  envDefault:"30"`
	TypingPerMinute       int `env:"ROUNDTABLE_GATEWAY_TYPING_PER_MINUTE"    envDefault:"60"`
	ReactionsPerMinute    int `env:"ROUNDTABLE_GATEWAY_REACTIONS_PER_MINUTE" envDefault:"20"`
	TurnsPerMinute        int `env:"ROUNDTABLE_GATEWAY_TURNS_PER_MINUTE"     envDefault:"10"`
	MaxConnectionsPerUser int `env:"ROUNDTABLE_GATEWAY_MAX_CONNECTIONS"      envDefault:"5"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "gateway HTTP listen address")
	fs.StringVar(&cfg.DiscussionsBaseURL, "discussions-base-url", cfg.DiscussionsBaseURL, "discussions service base URL")
	fs.StringVar(&cfg.ResourceSecret, "resource-secret", cfg.ResourceSecret, "discussions service resource secret")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for the session store (empty for SQLite)")
	fs.StringVar(&cfg.SQLitePath, "db-path", cfg.SQLitePath, "SQLite session store path")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the gateway app and serves the real-time transport.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGateway, func(context.Context) error {
		authConfig, err := auth.LoadConfigFromEnv(time.Now)
		if err != nil {
			return fmt.Errorf("load auth config: %w", err)
		}

		store, err := openStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}

		if err := app.Run(ctx, app.Config{
			HTTPAddr:           cfg.HTTPAddr,
			Store:              store,
			Auth:               authConfig,
			DiscussionsBaseURL: cfg.DiscussionsBaseURL,
			ResourceSecret:     cfg.ResourceSecret,
			RateLimits: app.RateLimits{
				Messages:  cfg.MessagesPerMinute,
				Typing:    cfg.TypingPerMinute,
				Reactions: cfg.ReactionsPerMinute,
				Turns:     cfg.TurnsPerMinute,
			},
			MaxConnectionsPerUser: cfg.MaxConnectionsPerUser,
		}); err != nil {
			return fmt.Errorf("serve gateway: %w", err)
		}
		return nil
	})
}

func openStore(ctx context.Context, cfg Config) (storage.Store, error) {
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		log.Printf("gateway using redis session store at %s", addr)
		return redisstore.Open(ctx, redisstore.Config{
			Addr:     addr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	log.Printf("gateway using sqlite session store at %s", cfg.SQLitePath)
	return sqlitestore.Open(cfg.SQLitePath)
}
