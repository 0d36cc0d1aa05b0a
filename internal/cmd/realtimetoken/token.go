// Package realtimetoken issues bearer tokens the realtime service accepts,
// either a signed JWT or an opaque session stored in the campaign database.
package realtimetoken

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/notdnd/internal/platform/cmd"
	"github.com/louisbranch/notdnd/internal/services/game/domain/websession"
	"github.com/louisbranch/notdnd/internal/services/game/storage/sqlite"
	server "github.com/louisbranch/notdnd/internal/services/realtime/app"
	"github.com/louisbranch/notdnd/internal/services/realtime/contract"
)

// Token kinds.
const (
	KindJWT     = "jwt"
	KindSession = "session"
)

// Config holds token command configuration. The store and JWT settings are
// shared with the realtime service so an issued token verifies there.
type Config struct {
	DBPath    string `env:"NOTDND_DB_PATH"    envDefault:"data/notdnd.db"`
	JWTSecret string `env:"NOTDND_JWT_SECRET"`
	JWTIssuer string `env:"NOTDND_JWT_ISSUER"`

	Kind        string
	UserID      string
	DisplayName string
	Email       string
	TTL         time.Duration
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	fs.StringVar(&cfg.DBPath, "db-path", "", "SQLite campaign state path (session tokens)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "HS256 secret (jwt tokens)")
	fs.StringVar(&cfg.JWTIssuer, "jwt-issuer", "", "JWT issuer claim")
	fs.StringVar(&cfg.Kind, "kind", KindSession, "token kind: jwt or session")
	fs.StringVar(&cfg.UserID, "user-id", "", "subject user id")
	fs.StringVar(&cfg.DisplayName, "name", "", "display name")
	fs.StringVar(&cfg.Email, "email", "", "email address")
	fs.DurationVar(&cfg.TTL, "ttl", 24*time.Hour, "token lifetime")
	if err := entrypoint.ParseConfigFromArgs(&cfg, fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run issues one token for the configured identity and writes it to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		return errors.New("output is required")
	}
	identity := contract.Identity{
		UserID:      strings.TrimSpace(cfg.UserID),
		DisplayName: strings.TrimSpace(cfg.DisplayName),
		Email:       strings.TrimSpace(cfg.Email),
	}
	if identity.UserID == "" {
		return errors.New("user id is required")
	}
	if identity.DisplayName == "" {
		identity.DisplayName = identity.UserID
	}
	if cfg.TTL <= 0 {
		return errors.New("ttl must be positive")
	}

	var (
		token string
		err   error
	)
	switch strings.TrimSpace(cfg.Kind) {
	case KindJWT:
		token, err = issueJWT(cfg, identity)
	case KindSession:
		token, err = issueSession(ctx, cfg, identity)
	default:
		return fmt.Errorf("unknown token kind %q", cfg.Kind)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func issueJWT(cfg Config, identity contract.Identity) (string, error) {
	issuer, err := server.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, nil)
	if err != nil {
		return "", fmt.Errorf("init jwt issuer: %w", err)
	}
	return issuer.Issue(identity, cfg.TTL)
}

func issueSession(ctx context.Context, cfg Config, identity contract.Identity) (string, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return "", fmt.Errorf("open campaign store: %w", err)
	}
	defer store.Close()

	sessions, err := websession.New(store, nil)
	if err != nil {
		return "", fmt.Errorf("init session issuer: %w", err)
	}
	return sessions.Issue(ctx, identity, cfg.TTL)
}
