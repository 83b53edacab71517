// Package gitcache manages the bare git clones kept under a repository's
// git/ subtree: cloning on first reference, fetching missing commits,
// pinning committed jobs' commits with lightweight r3/<id> tags so they
// survive garbage collection, and materializing worktrees for checkout.
// It shells out to the system git binary rather than reimplementing
// plumbing.
package gitcache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"
)

// Config controls clone/fetch behavior.
type Config struct {
	CloneTimeout time.Duration
	FetchTimeout time.Duration
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.CloneTimeout <= 0 {
		c.CloneTimeout = 10 * time.Minute
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Cache owns the git/ subtree of an R3 repository.
type Cache struct {
	root string // <repo>/git
	cfg  Config

	// sf collapses concurrent clone/fetch calls for the same PathKey into a
	// single in-flight git invocation, formalizing the "per-URL git lock"
	// required by §5's shared-resources list.
	sf singleflight.Group
}

// New returns a Cache rooted at <repoRoot>/git.
func New(repoRoot string, cfg Config) *Cache {
	cfg.defaults()
	return &Cache{root: filepath.Join(repoRoot, "git"), cfg: cfg}
}

// localPath returns the on-disk bare-clone directory for a normalized
// PathKey, e.g. <repo>/git/github.com/owner/repo.
func (c *Cache) localPath(pathKey string) string {
	return filepath.Join(c.root, filepath.FromSlash(pathKey))
}

// Ensure returns the local bare-clone path for repository, cloning it if
// this is the first reference. Concurrent callers for the same repository
// block on one clone rather than racing.
func (c *Cache) Ensure(ctx context.Context, repository string) (string, error) {
	norm, err := NormalizeURL(repository)
	if err != nil {
		return "", err
	}
	path := c.localPath(norm.PathKey)

	if _, err := os.Stat(filepath.Join(path, "HEAD")); err == nil {
		return path, nil
	}

	_, err, _ = c.sf.Do(norm.PathKey, func() (any, error) {
		if _, statErr := os.Stat(filepath.Join(path, "HEAD")); statErr == nil {
			return nil, nil
		}
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o750); mkErr != nil {
			return nil, fmt.Errorf("creating git cache directory: %w", mkErr)
		}
		c.cfg.Logger.Info("cloning git dependency", "repository", norm.URL, "path", path)
		return nil, cloneBare(ctx, norm.URL, path, c.cfg.CloneTimeout)
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// EnsureCommit makes sure commit is present in the local clone of
// repository, fetching if necessary. It is the primitive behind pinning a
// freshly committed job's git dependencies and the integrity check
// (internal/store), and checkout worktree materialization (Worktree).
func (c *Cache) EnsureCommit(ctx context.Context, repository, commit string) (string, error) {
	path, err := c.Ensure(ctx, repository)
	if err != nil {
		return "", err
	}

	if objectExists(ctx, path, commit, c.cfg.FetchTimeout) {
		return path, nil
	}

	norm, _ := NormalizeURL(repository)
	_, err, _ = c.sf.Do(norm.PathKey+"#fetch", func() (any, error) {
		if objectExists(ctx, path, commit, c.cfg.FetchTimeout) {
			return nil, nil
		}
		c.cfg.Logger.Info("fetching git dependency commit", "repository", norm.URL, "commit", commit)
		if err := fetchCommit(ctx, path, commit, c.cfg.FetchTimeout); err != nil {
			// Some servers refuse to upload-pack an arbitrary commit by sha;
			// fall back to a full ref fetch before giving up.
			if fallbackErr := fetchAll(ctx, path, c.cfg.FetchTimeout); fallbackErr != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	if !objectExists(ctx, path, commit, c.cfg.FetchTimeout) {
		return "", fmt.Errorf("commit %s not found in %s after fetch", commit, repository)
	}
	return path, nil
}

// ResolveRef resolves a branch/tag/short name to a full commit id within
// repository's clone, fetching first if the ref isn't already known.
func (c *Cache) ResolveRef(ctx context.Context, repository, ref string) (string, error) {
	path, err := c.Ensure(ctx, repository)
	if err != nil {
		return "", err
	}

	if sha, err := revParse(ctx, path, ref, c.cfg.FetchTimeout); err == nil {
		return sha, nil
	}

	norm, _ := NormalizeURL(repository)
	_, ffErr, _ := c.sf.Do(norm.PathKey+"#fetch", func() (any, error) {
		return nil, fetchAll(ctx, path, c.cfg.FetchTimeout)
	})
	if ffErr != nil {
		return "", fmt.Errorf("resolving ref %q: %w", ref, ffErr)
	}

	sha, err := revParse(ctx, path, ref, c.cfg.FetchTimeout)
	if err != nil {
		return "", fmt.Errorf("resolving ref %q: %w", ref, err)
	}
	return sha, nil
}

// Pin places the r3/<jobID> tag on commit within repository's clone,
// preventing it from being garbage collected (§4.7 step 7, §3 invariant 3).
func (c *Cache) Pin(ctx context.Context, repository, jobID, commit string) error {
	path, err := c.Ensure(ctx, repository)
	if err != nil {
		return err
	}
	return tagCommit(ctx, path, jobID, commit, c.cfg.FetchTimeout)
}

// Unpin removes the r3/<jobID> tag, used when the job that owns the tag is
// removed.
func (c *Cache) Unpin(ctx context.Context, repository, jobID string) error {
	path, err := c.Ensure(ctx, repository)
	if err != nil {
		return err
	}
	return deleteTag(ctx, path, jobID, c.cfg.FetchTimeout)
}

// Worktree materializes a detached worktree at commit for repository,
// returning its path. Safe to call repeatedly; existing worktrees are
// reused.
func (c *Cache) Worktree(ctx context.Context, repository, commit string) (string, error) {
	path, err := c.EnsureCommit(ctx, repository, commit)
	if err != nil {
		return "", err
	}
	norm, _ := NormalizeURL(repository)
	wtPath := filepath.Join(c.root, ".worktrees", norm.PathKey, commit)
	if err := os.MkdirAll(filepath.Dir(wtPath), 0o750); err != nil {
		return "", fmt.Errorf("preparing worktree directory: %w", err)
	}
	if err := worktreeAdd(ctx, path, wtPath, commit, c.cfg.FetchTimeout); err != nil {
		return "", err
	}
	return wtPath, nil
}

// Pull fetches new history for repository while enforcing §4.7's "Pull"
// invariant: every r3/* pin tag must still resolve to a reachable commit
// afterward. The check runs after the fetch: if a pinned commit is no longer
// present, Pull fails
// rather than leaving the clone in a state where a committed job's git
// dependency is no longer retrievable.
func (c *Cache) Pull(ctx context.Context, repository string) error {
	path, err := c.Ensure(ctx, repository)
	if err != nil {
		return err
	}

	norm, err := NormalizeURL(repository)
	if err != nil {
		return err
	}

	_, err, _ = c.sf.Do(norm.PathKey+"#pull", func() (any, error) {
		before, err := pinnedTags(ctx, path, c.cfg.FetchTimeout)
		if err != nil {
			return nil, fmt.Errorf("pull: listing pins before fetch: %w", err)
		}

		if err := fetchPrune(ctx, path, c.cfg.FetchTimeout); err != nil {
			return nil, fmt.Errorf("pull: %w", err)
		}

		for jobID, commit := range before {
			if !objectExists(ctx, path, commit, c.cfg.FetchTimeout) {
				return nil, fmt.Errorf("pull: commit %s pinned by job %s is no longer reachable after fetch", commit, jobID)
			}
		}
		return nil, nil
	})
	return err
}
