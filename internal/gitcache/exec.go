package gitcache

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// runGit executes git with the given arguments and a timeout, returning
// combined stdout/stderr on failure for diagnostics. It never touches the
// network credential helpers interactively (GIT_TERMINAL_PROMPT=0).
func runGit(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // G204: args are built internally from validated URLs/paths, never raw user strings.
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("git %s: timed out after %s", args[0], timeout)
	}
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(out.String()), err)
	}
	return strings.TrimSpace(out.String()), nil
}

func cloneBare(ctx context.Context, url, dest string, timeout time.Duration) error {
	_, err := runGit(ctx, timeout, "clone", "--bare", "--", url, dest)
	if err != nil {
		_ = os.RemoveAll(dest)
		return fmt.Errorf("cloning %s: %w", url, err)
	}
	return nil
}

func fetchAll(ctx context.Context, repoPath string, timeout time.Duration) error {
	_, err := runGit(ctx, timeout, "-C", repoPath, "fetch", "--tags", "origin", "+refs/heads/*:refs/remotes/origin/*")
	if err != nil {
		return fmt.Errorf("fetching in %s: %w", repoPath, err)
	}
	return nil
}

func fetchPrune(ctx context.Context, repoPath string, timeout time.Duration) error {
	_, err := runGit(ctx, timeout, "-C", repoPath, "fetch", "--prune", "--quiet", "origin")
	if err != nil {
		return fmt.Errorf("fetching (prune) in %s: %w", repoPath, err)
	}
	return nil
}

func fetchCommit(ctx context.Context, repoPath, commit string, timeout time.Duration) error {
	_, err := runGit(ctx, timeout, "-C", repoPath, "fetch", "origin", commit)
	if err != nil {
		return fmt.Errorf("fetching commit %s in %s: %w", commit, repoPath, err)
	}
	return nil
}

// objectExists reports whether id names an object already present in the
// bare clone, without touching the network.
func objectExists(ctx context.Context, repoPath, id string, timeout time.Duration) bool {
	_, err := runGit(ctx, timeout, "-C", repoPath, "cat-file", "-e", id+"^{commit}")
	return err == nil
}

// revParse resolves ref (branch, tag, or already-full sha) to a full object
// id within the bare clone.
func revParse(ctx context.Context, repoPath, ref string, timeout time.Duration) (string, error) {
	out, err := runGit(ctx, timeout, "-C", repoPath, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", ref, err)
	}
	return strings.TrimSpace(out), nil
}

// tagCommit places (or moves) a lightweight tag r3/<jobID> on commit. `-f`
// makes git move an existing tag of that name instead of failing.
func tagCommit(ctx context.Context, repoPath, jobID, commit string, timeout time.Duration) error {
	tag := "r3/" + jobID
	_, err := runGit(ctx, timeout, "-C", repoPath, "tag", "-f", tag, commit)
	if err != nil {
		return fmt.Errorf("tagging %s as %s: %w", commit, tag, err)
	}
	return nil
}

func deleteTag(ctx context.Context, repoPath, jobID string, timeout time.Duration) error {
	tag := "r3/" + jobID
	_, err := runGit(ctx, timeout, "-C", repoPath, "tag", "-d", tag)
	if err != nil {
		return fmt.Errorf("deleting tag %s: %w", tag, err)
	}
	return nil
}

// pinnedTags returns the r3/<jobID> -> commit mapping for all pin tags in
// the bare clone.
func pinnedTags(ctx context.Context, repoPath string, timeout time.Duration) (map[string]string, error) {
	out, err := runGit(ctx, timeout, "-C", repoPath, "for-each-ref", "--format=%(refname:short) %(objectname)", "refs/tags/r3")
	if err != nil {
		return nil, fmt.Errorf("listing pin tags: %w", err)
	}
	pins := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			continue
		}
		jobID := strings.TrimPrefix(parts[0], "r3/")
		pins[jobID] = parts[1]
	}
	return pins, nil
}

func worktreeAdd(ctx context.Context, repoPath, worktreePath, commit string, timeout time.Duration) error {
	if _, err := os.Stat(worktreePath); err == nil {
		return nil // already materialized
	}
	_, err := runGit(ctx, timeout, "-C", repoPath, "worktree", "add", "--detach", "--force", worktreePath, commit)
	if err != nil {
		return fmt.Errorf("creating worktree for %s: %w", commit, err)
	}
	return nil
}
