// Package store owns a repository's on-disk layout: jobs/, git/, and the
// repository marker r3.yaml. It implements the commit, remove, pull, and
// integrity-check operations of §4.7, serializing mutations behind a
// repository-wide exclusive lock scoped to the whole repository rather
// than a single clone directory.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/r3/r3/internal/depresolver"
	"github.com/r3/r3/internal/gitcache"
	"github.com/r3/r3/internal/rerr"
)

// Version is the repository marker's format major version this
// implementation writes and the only major version it accepts for reading.
const Version = "1.0.0"

// marker is the r3.yaml document at a repository's root.
type marker struct {
	Version string `yaml:"version"`
}

// Indexer is notified after a job becomes visible or is removed, so a
// derived cache (internal/index) can stay current without being on the
// commit critical path (§4.7 step 8: best-effort, failures logged only).
type Indexer interface {
	NotifyCommit(jobID string)
	NotifyRemove(jobID string)
}

type noopIndexer struct{}

func (noopIndexer) NotifyCommit(string) {}
func (noopIndexer) NotifyRemove(string) {}

// Repository is an open R3 repository rooted at Root.
type Repository struct {
	Root string

	Git      *gitcache.Cache
	Resolver *depresolver.Resolver
	Index    Indexer
	Logger   *slog.Logger

	// LockTimeout bounds how long Commit/Remove wait for the repository
	// lock before failing with rerr.LockTimeout.
	LockTimeout time.Duration
}

// Open validates an existing repository at root and wires up its
// collaborators. Use Init to create a new repository first.
func Open(root string, git *gitcache.Cache, resolver *depresolver.Resolver) (*Repository, error) {
	markerPath := filepath.Join(root, "r3.yaml")
	raw, err := os.ReadFile(markerPath)
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", root, err)
	}
	var m marker
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, &rerr.ConfigError{Path: markerPath, Reason: fmt.Sprintf("invalid repository marker: %v", err)}
	}
	if err := checkVersion(m.Version); err != nil {
		return nil, err
	}

	repo := &Repository{
		Root:        root,
		Git:         git,
		Resolver:    resolver,
		Index:       noopIndexer{},
		Logger:      slog.Default(),
		LockTimeout: 30 * time.Second,
	}
	if err := repo.sweepStaging(); err != nil {
		repo.Logger.Warn("staging sweep failed", "error", err)
	}
	return repo, nil
}

// Init creates a new, empty repository at root.
func Init(root string) error {
	if err := os.MkdirAll(filepath.Join(root, "jobs"), 0o750); err != nil {
		return fmt.Errorf("creating jobs/: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "git"), 0o750); err != nil {
		return fmt.Errorf("creating git/: %w", err)
	}

	markerPath := filepath.Join(root, "r3.yaml")
	if _, err := os.Stat(markerPath); err == nil {
		return fmt.Errorf("repository marker already exists at %s", markerPath)
	}
	b, err := yaml.Marshal(marker{Version: Version})
	if err != nil {
		return fmt.Errorf("encoding repository marker: %w", err)
	}
	if err := os.WriteFile(markerPath, b, 0o640); err != nil {
		return fmt.Errorf("writing repository marker: %w", err)
	}
	return nil
}

// checkVersion rejects unknown major versions, per §6: "Implementations
// reject unknown major versions; within a major, readers tolerate unknown
// keys."
func checkVersion(v string) error {
	if v == "" {
		return &rerr.ConfigError{Path: "r3.yaml", Reason: "missing version"}
	}
	major := v
	for i, c := range v {
		if c == '.' {
			major = v[:i]
			break
		}
	}
	if major != "1" {
		return &rerr.ConfigError{Path: "r3.yaml", Reason: fmt.Sprintf("unsupported repository major version %q", v)}
	}
	return nil
}

// jobsDir is the managed jobs/ subtree under Root.
func (r *Repository) jobsDir() string { return filepath.Join(r.Root, "jobs") }

// backgroundContext is used by read paths (Verify) that don't receive a
// caller context but still need one for gitcache calls.
func (r *Repository) backgroundContext() context.Context { return context.Background() }

// removeWriteProtected deletes path, first restoring owner write on every
// directory beneath it. writeProtect (commit.go) leaves payload
// subdirectories at 0o550: unlinking a file requires write permission on
// its parent directory, so os.RemoveAll would hit EACCES descending into
// one without this pass first.
func removeWriteProtected(path string) error {
	err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if err := os.Chmod(p, 0o700); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("restoring write permission under %s: %w", path, err)
	}
	return os.RemoveAll(path)
}

// lock acquires the repository-wide exclusive lock used to serialize
// Commit and Remove (§5: "the commit protocol is serialized by an
// exclusive repository lock"). Readers never take this lock.
func (r *Repository) lock() (*flock.Flock, error) {
	lockPath := filepath.Join(r.Root, ".r3.lock")
	fl := flock.New(lockPath)

	timeout := r.LockTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil || !locked {
		return nil, &rerr.LockTimeout{Path: lockPath}
	}
	return fl, nil
}
