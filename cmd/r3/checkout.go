package main

import (
	"context"
	"fmt"
	"os"

	"github.com/r3/r3/internal/checkout"
	"github.com/r3/r3/internal/gitcache"
)

func runCheckout(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: r3 checkout <id> <dst>")
		return 1
	}
	id, dst := args[0], args[1]
	repoPath := resolveRepoPath("")

	git := gitcache.New(repoPath, gitcache.Config{})
	engine := &checkout.Engine{RepoRoot: repoPath, Git: git}

	if err := engine.Checkout(context.Background(), id, dst); err != nil {
		fmt.Fprintf(os.Stderr, "r3 checkout: %v\n", err)
		return exitCodeFor(err)
	}

	fmt.Printf("checked out %s into %s\n", id, dst)
	return 0
}
