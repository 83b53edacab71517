// Package checkout materializes a committed job into a working directory
// (§4.8): hashed files are copied, output/ becomes a symlink back into the
// store, and each dependency becomes a symlink resolving either to another
// job's path or to a git worktree at the pinned commit.
package checkout

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/r3/r3/internal/manifest"
	"github.com/r3/r3/internal/rerr"
)

// GitWorktree materializes (or reuses) a worktree at a pinned commit and
// returns its path. internal/gitcache.Cache satisfies this.
type GitWorktree interface {
	Worktree(ctx context.Context, repository, commit string) (string, error)
}

// Engine checks out jobs out of a repository rooted at RepoRoot.
type Engine struct {
	RepoRoot string
	Git      GitWorktree
}

func (e *Engine) jobPath(id string) string { return filepath.Join(e.RepoRoot, "jobs", id) }

// Checkout materializes job id into target directory dst, which must not
// already exist.
func (e *Engine) Checkout(ctx context.Context, id, dst string) error {
	jobPath := e.jobPath(id)
	if _, err := os.Stat(jobPath); os.IsNotExist(err) {
		return &rerr.MissingDependency{Destination: dst, Reason: fmt.Sprintf("job %s not found", id)}
	}

	if _, err := os.Stat(dst); err == nil {
		return &rerr.CheckoutConflict{Path: dst}
	}
	if err := os.MkdirAll(dst, 0o750); err != nil {
		return &rerr.IOError{Op: "mkdir", Path: dst, Err: err}
	}

	m, err := manifest.Load(filepath.Join(jobPath, "r3.yaml"))
	if err != nil {
		return fmt.Errorf("loading manifest for %s: %w", id, err)
	}

	for rel := range m.Files {
		if err := copyHashedFile(jobPath, dst, rel); err != nil {
			return err
		}
	}

	outputSrc := filepath.Join(jobPath, "output")
	outputDst := filepath.Join(dst, "output")
	if err := os.Symlink(outputSrc, outputDst); err != nil {
		return &rerr.IOError{Op: "symlink", Path: outputDst, Err: err}
	}

	for _, d := range m.Dependencies {
		if err := e.materializeDependency(ctx, dst, d); err != nil {
			return err
		}
	}

	metaSrc := filepath.Join(jobPath, "metadata.yaml")
	metaDst := filepath.Join(dst, "metadata.yaml")
	if err := copyPlain(metaSrc, metaDst); err != nil {
		return &rerr.IOError{Op: "copy", Path: "metadata.yaml", Err: err}
	}

	return nil
}

func copyHashedFile(jobPath, dst, rel string) error {
	src := filepath.Join(jobPath, rel)
	target := filepath.Join(dst, rel)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return &rerr.IOError{Op: "mkdir", Path: filepath.Dir(target), Err: err}
	}
	if err := copyPlain(src, target); err != nil {
		return &rerr.IOError{Op: "copy", Path: rel, Err: err}
	}
	if err := os.Chmod(target, 0o440); err != nil {
		return &rerr.IOError{Op: "chmod", Path: rel, Err: err}
	}
	return nil
}

func copyPlain(src, dst string) error {
	//nolint:gosec // G304: src is always derived from a store-managed job path.
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func (e *Engine) materializeDependency(ctx context.Context, dst string, d manifest.Dependency) error {
	linkPath := filepath.Join(dst, d.Destination)
	if err := os.MkdirAll(filepath.Dir(linkPath), 0o750); err != nil {
		return &rerr.IOError{Op: "mkdir", Path: filepath.Dir(linkPath), Err: err}
	}

	var target string
	switch d.Kind() {
	case manifest.KindJob:
		depJobPath := e.jobPath(d.Job)
		if _, err := os.Stat(depJobPath); os.IsNotExist(err) {
			return &rerr.MissingDependency{Destination: d.Destination, Reason: fmt.Sprintf("job dependency %s not found", d.Job)}
		}
		target = depJobPath
		if d.Source != "" {
			target = filepath.Join(depJobPath, d.Source)
		}
	case manifest.KindGit:
		if e.Git == nil {
			return &rerr.MissingDependency{Destination: d.Destination, Reason: "no git worktree provider configured"}
		}
		wt, err := e.Git.Worktree(ctx, d.Repository, d.Commit)
		if err != nil {
			return &rerr.MissingDependency{Destination: d.Destination, Reason: err.Error()}
		}
		target = wt
		if d.Source != "" {
			target = filepath.Join(wt, d.Source)
		}
	}

	if _, err := os.Stat(target); err != nil {
		return &rerr.DanglingSymlink{Path: linkPath, Target: target}
	}

	if err := os.Symlink(target, linkPath); err != nil {
		return &rerr.IOError{Op: "symlink", Path: linkPath, Err: err}
	}
	return nil
}
