package main

import (
	"context"
	"fmt"
	"os"

	"github.com/r3/r3/internal/progress"
)

func runCommit(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: r3 commit <src> [<repo>]")
		return 1
	}
	src := args[0]
	repoPath := ""
	if len(args) > 1 {
		repoPath = args[1]
	}
	repoPath = resolveRepoPath(repoPath)

	repo, idx, err := openRepository(repoPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "r3 commit: %v\n", err)
		return 3
	}
	defer idx.Close()

	sp := progress.New(fmt.Sprintf("committing %s", src))
	sp.Start()
	result, err := repo.Commit(context.Background(), src)
	sp.Stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "r3 commit: %v\n", err)
		return exitCodeFor(err)
	}

	if result.AlreadyPresent {
		fmt.Printf("%s already present\n", result.ID)
	} else {
		fmt.Println(result.ID)
	}
	return 0
}
