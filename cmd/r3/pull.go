package main

import (
	"context"
	"fmt"
	"os"
)

func runPull(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: r3 pull <url>")
		return 1
	}
	url := args[0]
	repoPath := resolveRepoPath("")

	repo, idx, err := openRepository(repoPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "r3 pull: %v\n", err)
		return 3
	}
	defer idx.Close()

	if err := repo.Pull(context.Background(), url); err != nil {
		fmt.Fprintf(os.Stderr, "r3 pull: %v\n", err)
		return exitCodeFor(err)
	}

	fmt.Printf("pulled %s\n", url)
	return 0
}
