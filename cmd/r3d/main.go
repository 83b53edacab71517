// Command r3d serves a read-only status dashboard over an R3 repository:
// job listings, manifest detail, and live updates over a WebSocket. It
// never commits, removes, or pulls on the repository it serves.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/r3/r3/internal/index"
	"github.com/r3/r3/internal/statusd"
)

func main() {
	addr := flag.String("addr", ":7373", "address to listen on")
	repoPath := flag.String("repo", os.Getenv("R3_REPOSITORY"), "repository root")
	flag.Parse()

	if *repoPath == "" {
		fmt.Fprintln(os.Stderr, "r3d: repository path required (--repo or R3_REPOSITORY)")
		os.Exit(1)
	}

	logger := slog.Default()

	idx, err := index.Open(*repoPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "r3d: %v\n", err)
		os.Exit(1)
	}
	defer idx.Close()

	if err := idx.RebuildIndex(context.Background()); err != nil {
		logger.Warn("initial index rebuild failed", "error", err)
	}

	srv := statusd.New(*repoPath, *addr, idx, statusd.WebFS())
	idx.OnChange = srv.NotifyChanged

	ctx := context.Background()
	if err := idx.Watch(ctx); err != nil {
		logger.Warn("could not start index watcher", "error", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		_ = srv.Stop(context.Background())
	}()

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "r3d: %v\n", err)
		os.Exit(1)
	}
}
