package main

import (
	"context"
	"fmt"
	"os"
)

func runRebuildIndex(args []string) int {
	repoPath := resolveRepoPath("")

	_, idx, err := openRepository(repoPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "r3 rebuild-index: %v\n", err)
		return 3
	}
	defer idx.Close()

	if err := idx.RebuildIndex(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "r3 rebuild-index: %v\n", err)
		return 3
	}

	fmt.Println("index rebuilt")
	return 0
}
