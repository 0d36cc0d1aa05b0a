// Package main starts the realtime synchronization service and handles
// termination.
//
// The process owns live connections, presence, cursors, and advisory locks;
// campaign state is persisted by the embedded SQLite store.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	realtimecmd "github.com/louisbranch/notdnd/internal/cmd/realtime"
	entrypoint "github.com/louisbranch/notdnd/internal/platform/cmd"
)

func main() {
	cfg, err := realtimecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix(entrypoint.LogPrefix(entrypoint.ServiceRealtime))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := realtimecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
