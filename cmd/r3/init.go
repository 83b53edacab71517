package main

import (
	"fmt"
	"os"

	"github.com/r3/r3/internal/store"
)

func runInit(args []string) int {
	repoPath := ""
	if len(args) > 0 {
		repoPath = args[0]
	}
	repoPath = resolveRepoPath(repoPath)

	if err := os.MkdirAll(repoPath, 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "r3 init: %v\n", err)
		return 3
	}
	if err := store.Init(repoPath); err != nil {
		fmt.Fprintf(os.Stderr, "r3 init: %v\n", err)
		return 1
	}
	fmt.Printf("initialized repository at %s\n", repoPath)
	return 0
}
