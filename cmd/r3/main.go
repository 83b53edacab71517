// Command r3 is the content-addressed job repository CLI: init, commit,
// checkout, remove, pull, verify, and rebuild-index against a repository
// rooted at $R3_REPOSITORY.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/r3/r3/internal/cli"
	"github.com/r3/r3/internal/termcolor"
)

// Build-time variables set via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const repoEnvVar = "R3_REPOSITORY"

func main() {
	gf, args := parseGlobalFlags(os.Args[1:])

	for _, a := range args {
		if a == "--version" {
			printVersion()
			os.Exit(0)
		}
	}

	cw := termcolor.NewWriter(os.Stdout, gf.colorMode)

	app := cli.NewApp("r3", version)
	app.Stderr = os.Stderr

	app.Register(&cli.Command{
		Name:     "init",
		Summary:  "Create a new, empty repository",
		Usage:    "r3 init [<repo>]",
		Examples: []string{"r3 init ./artifacts"},
		Run:      runInit,
	})
	app.Register(&cli.Command{
		Name:     "commit",
		Summary:  "Stage a directory and commit it as a job",
		Usage:    "r3 commit <src> [<repo>]",
		Examples: []string{"r3 commit ./my-experiment"},
		Run:      runCommit,
	})
	app.Register(&cli.Command{
		Name:     "checkout",
		Summary:  "Materialize a committed job into a working directory",
		Usage:    "r3 checkout <id> <dst>",
		Examples: []string{"r3 checkout 3f9a... ./work"},
		Run:      runCheckout,
	})
	app.Register(&cli.Command{
		Name:     "remove",
		Summary:  "Remove a committed job, if nothing else depends on it",
		Usage:    "r3 remove <id>",
		Examples: []string{"r3 remove 3f9a..."},
		Run:      runRemove,
	})
	app.Register(&cli.Command{
		Name:     "pull",
		Summary:  "Fetch new history for a git dependency's bare clone",
		Usage:    "r3 pull <url>",
		Examples: []string{"r3 pull https://github.com/o/r"},
		Run:      runPull,
	})
	app.Register(&cli.Command{
		Name:     "verify",
		Summary:  "Recompute and check job identifiers against stored content",
		Usage:    "r3 verify [<id>]",
		Examples: []string{"r3 verify", "r3 verify 3f9a..."},
		Run:      runVerify,
	})
	app.Register(&cli.Command{
		Name:    "rebuild-index",
		Summary: "Rebuild the derived job index from a full scan of jobs/",
		Usage:   "r3 rebuild-index",
		Run:     runRebuildIndex,
	})
	app.Register(&cli.Command{
		Name:    "update",
		Summary: "Update to the latest release",
		Usage:   "r3 update [--check]",
		Run:     runUpdate,
	})
	app.Register(&cli.Command{
		Name:    "version",
		Summary: "Show version information",
		Usage:   "r3 version",
		Run:     func([]string) int { printVersion(); return 0 },
	})

	os.Exit(app.Run(args, cw))
}

func printVersion() {
	fmt.Printf("r3 %s\n", version)
	fmt.Printf("  commit:     %s\n", commit)
	fmt.Printf("  built:      %s\n", buildDate)
	fmt.Printf("  go version: %s\n", runtime.Version())
	fmt.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// resolveRepoPath returns the explicit arg if given, else $R3_REPOSITORY,
// else the current directory, per §9: "The repository root is passed
// explicitly to every operation; the CLI resolves it from an environment
// variable once and forwards it."
func resolveRepoPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if v := os.Getenv(repoEnvVar); v != "" {
		return v
	}
	return "."
}
