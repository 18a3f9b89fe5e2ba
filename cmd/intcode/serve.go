package main

import (
	"context"
	"flag"
	"runtime"
	"time"

	"github.com/chazu/intcode/server"
	"github.com/chazu/intcode/store"
)

// handleServeCommand processes the `intcode serve` subcommand.
// Usage:
//
//	intcode serve                       # :4567, no run journal
//	intcode serve -addr :8080 -db runs.db
func handleServeCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", ":4567", "Listen address")
	workers := fs.Int("workers", runtime.GOMAXPROCS(0), "Programs that may run at once")
	timeout := fs.Duration("timeout", time.Minute, "Per-run time limit (0 = none)")
	limit := fs.Int("memory-limit", 1<<20, "Maximum memory words per engine")
	dbPath := fs.String("db", "", "SQLite run journal (\":memory:\" for in-process only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := []server.ServerOption{
		server.WithWorkers(*workers),
		server.WithRunTimeout(*timeout),
		server.WithMemoryLimit(*limit),
	}
	if *dbPath != "" {
		runs, err := store.Open(*dbPath)
		if err != nil {
			return err
		}
		defer runs.Close()
		opts = append(opts, server.WithRunStore(runs))
	}

	srv := server.New(opts...)
	defer srv.Stop()
	return srv.ListenAndServe(ctx, *addr)
}
