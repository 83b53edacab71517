package main

import (
	"fmt"
	"log/slog"

	"github.com/r3/r3/internal/depresolver"
	"github.com/r3/r3/internal/gitcache"
	"github.com/r3/r3/internal/index"
	"github.com/r3/r3/internal/store"
)

// openRepository wires a store.Repository against the on-disk repository at
// root together with its git cache, dependency resolver, and derived index.
// The query engine collaborator (§4.5) is left nil: query expansion is an
// external system out of this core's scope, so a manifest naming a query
// without a job id fails resolution here rather than silently no-op'ing.
func openRepository(root string) (*store.Repository, *index.Index, error) {
	logger := slog.Default()

	git := gitcache.New(root, gitcache.Config{Logger: logger})
	resolver := &depresolver.Resolver{Git: git}

	idx, err := index.Open(root, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening index: %w", err)
	}

	repo, err := store.Open(root, git, resolver)
	if err != nil {
		idx.Close()
		return nil, nil, err
	}
	repo.Index = idx
	repo.Logger = logger

	return repo, idx, nil
}
