package main

import (
	"context"
	"fmt"
	"os"
)

func runRemove(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: r3 remove <id>")
		return 1
	}
	id := args[0]
	repoPath := resolveRepoPath("")

	repo, idx, err := openRepository(repoPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "r3 remove: %v\n", err)
		return 3
	}
	defer idx.Close()

	if err := repo.Remove(context.Background(), id); err != nil {
		fmt.Fprintf(os.Stderr, "r3 remove: %v\n", err)
		return exitCodeFor(err)
	}

	fmt.Printf("removed %s\n", id)
	return 0
}
