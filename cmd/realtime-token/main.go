// Package main provides a one-shot utility that issues a bearer token for
// the realtime service.
//
// Session tokens are written to the campaign store; JWTs are signed with the
// service's shared secret.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/louisbranch/notdnd/internal/cmd/realtimetoken"
	entrypoint "github.com/louisbranch/notdnd/internal/platform/cmd"
)

func main() {
	log.SetPrefix(entrypoint.LogPrefix(entrypoint.ToolRealtimeToken))
	cfg, err := realtimetoken.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	if err := realtimetoken.Run(context.Background(), cfg, os.Stdout); err != nil {
		log.Fatalf("issue token: %v", err)
	}
}
