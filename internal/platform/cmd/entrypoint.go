// Package cmd holds the startup plumbing shared by the notdnd commands:
// environment-then-flags configuration, log prefixes, and the telemetry
// envelope around the long-running realtime service.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/louisbranch/notdnd/internal/platform/config"
	"github.com/louisbranch/notdnd/internal/platform/otel"
	"github.com/louisbranch/notdnd/internal/platform/timeouts"
)

// Command names. They double as the telemetry service name and the log
// prefix.
const (
	ServiceRealtime   = "realtime"
	ToolRealtimeToken = "realtime-token"
)

// LogPrefix renders the bracketed prefix a command's logger uses.
func LogPrefix(command string) string {
	return "[" + strings.ToUpper(strings.TrimSpace(command)) + "] "
}

// ParseConfig loads environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses command-line flags.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// ParseConfigFromArgs loads env into cfg and then applies flags. Flags bound
// to env-backed fields must be registered before the call so an explicit
// flag wins over the environment.
func ParseConfigFromArgs[T any](cfg *T, fs *flag.FlagSet, args []string) error {
	if err := ParseConfig(cfg); err != nil {
		return err
	}
	return ParseArgs(fs, args)
}

// RunWithTelemetry installs the OpenTelemetry provider for service, runs
// run, and flushes telemetry before returning run's error.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("%s: telemetry flush failed err=%v", service, err)
		}
	}()
	return run(ctx)
}
