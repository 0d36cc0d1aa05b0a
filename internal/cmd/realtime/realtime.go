// Package realtime parses realtime command flags and composes the campaign
// store, authenticators, and the realtime transport.
package realtime

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/notdnd/internal/platform/cmd"
	"github.com/louisbranch/notdnd/internal/services/game/domain/operation"
	"github.com/louisbranch/notdnd/internal/services/game/domain/websession"
	"github.com/louisbranch/notdnd/internal/services/game/storage/sqlite"
	server "github.com/louisbranch/notdnd/internal/services/realtime/app"
	"github.com/louisbranch/notdnd/internal/services/realtime/contract"
)

// Config holds realtime command configuration.
type Config struct {
	HTTPAddr          string        `env:"NOTDND_HTTP_ADDR"              envDefault:":8787"`
	DBPath            string        `env:"NOTDND_DB_PATH"                envDefault:"data/notdnd.db"`
	LockTTL           time.Duration `env:"NOTDND_LOCK_TTL"               envDefault:"30s"`
	JWTSecret         string        `env:"NOTDND_JWT_SECRET"`
	JWTIssuer         string        `env:"NOTDND_JWT_ISSUER"`
	AdminUserIDs      []string      `env:"NOTDND_ADMIN_USER_IDS"         envSeparator:","`
	MessagesPerSecond float64       `env:"NOTDND_WS_MESSAGES_PER_SECOND" envDefault:"40"`
	MessageBurst      int           `env:"NOTDND_WS_MESSAGE_BURST"       envDefault:"80"`
	MaxBufferedBytes  int           `env:"NOTDND_WS_MAX_BUFFERED_BYTES"  envDefault:"1048576"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "realtime HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite campaign state path")
	fs.DurationVar(&cfg.LockTTL, "lock-ttl", cfg.LockTTL, "advisory lock time-to-live")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "HS256 secret for bearer tokens; empty disables JWT auth")
	fs.StringVar(&cfg.JWTIssuer, "jwt-issuer", cfg.JWTIssuer, "required JWT issuer")
	fs.Func("admin-user-ids", "comma-separated user ids allowed to reset state", func(value string) error {
		cfg.AdminUserIDs = splitList(value)
		return nil
	})
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.LockTTL <= 0 {
		return Config{}, fmt.Errorf("lock ttl must be positive")
	}
	return cfg, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Run opens the campaign store, builds collaborators, and serves realtime
// traffic until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRealtime, func(ctx context.Context) error {
		if dir := filepath.Dir(cfg.DBPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
		}
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open campaign store: %w", err)
		}
		defer store.Close()

		executor, err := operation.New(operation.Config{Store: store, Admins: cfg.AdminUserIDs})
		if err != nil {
			return fmt.Errorf("init executor: %w", err)
		}
		authenticator, err := buildAuthenticator(cfg, store)
		if err != nil {
			return err
		}

		ops := executor.Operations()
		sort.Strings(ops)
		log.Printf("realtime: campaign store ready path=%q operations=%q", cfg.DBPath, strings.Join(ops, ","))

		if err := server.Run(ctx, server.Config{
			HTTPAddr:          cfg.HTTPAddr,
			LockTTL:           cfg.LockTTL,
			MessagesPerSecond: cfg.MessagesPerSecond,
			MessageBurst:      cfg.MessageBurst,
			MaxBufferedBytes:  cfg.MaxBufferedBytes,
			Authenticator:     authenticator,
			Authorizer:        executor,
			Executor:          executor,
			Snapshots:         executor,
		}); err != nil {
			return fmt.Errorf("serve realtime: %w", err)
		}
		return nil
	})
}

// buildAuthenticator routes JWTs to the HS256 verifier when a secret is
// configured and everything else to session lookup.
func buildAuthenticator(cfg Config, store *sqlite.Store) (contract.Authenticator, error) {
	sessions, err := websession.New(store, nil)
	if err != nil {
		return nil, fmt.Errorf("init session authenticator: %w", err)
	}
	chain := server.ChainAuthenticator{Session: sessions}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		jwtAuth, err := server.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, nil)
		if err != nil {
			return nil, fmt.Errorf("init jwt authenticator: %w", err)
		}
		chain.JWT = jwtAuth
	}
	return chain, nil
}
