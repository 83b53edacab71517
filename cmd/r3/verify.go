package main

import (
	"fmt"
	"os"
)

// runVerify implements the supplemented `r3 verify [<id>]` surface: the
// core defines integrity checking (§4.7) and exit code 2 for it (§6), but
// the CLI table never names the verb that triggers it, so this exposes it
// directly.
func runVerify(args []string) int {
	repoPath := resolveRepoPath("")

	repo, idx, err := openRepository(repoPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "r3 verify: %v\n", err)
		return 3
	}
	defer idx.Close()

	if len(args) > 0 {
		id := args[0]
		if err := repo.Verify(id); err != nil {
			fmt.Fprintf(os.Stderr, "r3 verify %s: %v\n", id, err)
			return exitCodeFor(err)
		}
		fmt.Printf("%s ok\n", id)
		return 0
	}

	failures, err := repo.VerifyAll()
	if err != nil {
		fmt.Fprintf(os.Stderr, "r3 verify: %v\n", err)
		return 3
	}
	if len(failures) == 0 {
		fmt.Println("all jobs ok")
		return 0
	}
	for id, ferr := range failures {
		fmt.Fprintf(os.Stderr, "%s: %v\n", id, ferr)
	}
	return 2
}
