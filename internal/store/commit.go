package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/r3/r3/internal/jobbuilder"
	"github.com/r3/r3/internal/manifest"
	"github.com/r3/r3/internal/rerr"
)

// CommitResult reports the outcome of a commit.
type CommitResult struct {
	ID string
	// AlreadyPresent is true when the job already existed and the commit
	// was a content-addressed no-op (§4.7 step 3).
	AlreadyPresent bool
}

// Commit stages the directory at srcPath into the repository, implementing
// the nine-step protocol of §4.7.
func (r *Repository) Commit(ctx context.Context, srcPath string) (*CommitResult, error) {
	fl, err := r.lock()
	if err != nil {
		return nil, err
	}
	defer fl.Unlock()

	m, err := manifest.Load(filepath.Join(srcPath, "r3.yaml"))
	if err != nil {
		return nil, err
	}

	resolvedDeps, err := r.Resolver.ResolveAll(ctx, m.Dependencies)
	if err != nil {
		return nil, err
	}
	m.Dependencies = resolvedDeps

	result, err := jobbuilder.Build(ctx, srcPath, m, &storeSymlinkResolver{repo: r})
	if err != nil {
		return nil, err
	}

	jobPath := filepath.Join(r.jobsDir(), result.ID)
	if _, err := os.Stat(jobPath); err == nil {
		r.Logger.Info("commit is a no-op, job already present", "job", result.ID)
		return &CommitResult{ID: result.ID, AlreadyPresent: true}, nil
	}

	stagingPath, err := os.MkdirTemp(r.jobsDir(), stagingPrefix+"*")
	if err != nil {
		return nil, &rerr.IOError{Op: "mkdir", Path: r.jobsDir(), Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(stagingPath)
		}
	}()

	if err := stagePayload(srcPath, stagingPath, result); err != nil {
		return nil, err
	}
	if err := stageManifest(stagingPath, result.Manifest); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(stagingPath, "output"), 0o750); err != nil {
		return nil, &rerr.IOError{Op: "mkdir", Path: "output", Err: err}
	}
	if err := os.WriteFile(filepath.Join(stagingPath, "metadata.yaml"), nil, 0o640); err != nil {
		return nil, &rerr.IOError{Op: "write", Path: "metadata.yaml", Err: err}
	}

	if err := writeProtect(stagingPath, result); err != nil {
		return nil, err
	}

	if err := os.Rename(stagingPath, jobPath); err != nil {
		return nil, &rerr.IOError{Op: "rename", Path: jobPath, Err: err}
	}
	committed = true

	if r.Git != nil {
		for _, d := range result.Manifest.Dependencies {
			if d.Kind() != manifest.KindGit {
				continue
			}
			if _, err := r.Git.EnsureCommit(ctx, d.Repository, d.Commit); err != nil {
				r.Logger.Warn("could not ensure git dependency commit after commit", "repository", d.Repository, "commit", d.Commit, "error", err)
				continue
			}
			// §5: the tag is placed after the job directory is visible, so a
			// reader that sees the job may briefly race tag placement but
			// never the reverse.
			if err := r.Git.Pin(ctx, d.Repository, result.ID, d.Commit); err != nil {
				r.Logger.Warn("could not pin git dependency", "repository", d.Repository, "commit", d.Commit, "error", err)
			}
		}
	}

	r.Index.NotifyCommit(result.ID)

	return &CommitResult{ID: result.ID}, nil
}

// stagePayload copies every hashed file from srcPath into stagingPath,
// preserving relative paths. Copy rather than link so the store's own copy
// is independent of anything the user subsequently does to srcPath.
func stagePayload(srcPath, stagingPath string, result *jobbuilder.Result) error {
	for rel := range result.Manifest.Files {
		if rel == "r3.yaml" {
			// r3.yaml's entry records the hash of its config subtree, not of
			// its own bytes; stageManifest below writes the frozen file.
			continue
		}
		srcFile := filepath.Join(srcPath, rel)
		dstFile := filepath.Join(stagingPath, rel)
		if err := os.MkdirAll(filepath.Dir(dstFile), 0o750); err != nil {
			return &rerr.IOError{Op: "mkdir", Path: filepath.Dir(dstFile), Err: err}
		}
		if err := copyFile(srcFile, dstFile); err != nil {
			return &rerr.IOError{Op: "copy", Path: rel, Err: err}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	//nolint:gosec // G304: src is a path already walked and hashed by jobbuilder.
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

func stageManifest(stagingPath string, m *manifest.Manifest) error {
	b, err := m.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(stagingPath, "r3.yaml"), b, 0o640); err != nil {
		return &rerr.IOError{Op: "write", Path: "r3.yaml", Err: err}
	}
	return nil
}

// writeProtect sets every hashed file (and r3.yaml) read-only, leaving
// metadata.yaml and output/ writable, per §3 invariant 1 and §4.7 step 5.
func writeProtect(stagingPath string, result *jobbuilder.Result) error {
	if err := os.Chmod(filepath.Join(stagingPath, "r3.yaml"), 0o440); err != nil {
		return &rerr.IOError{Op: "chmod", Path: "r3.yaml", Err: err}
	}
	for rel := range result.Manifest.Files {
		if rel == "r3.yaml" {
			continue
		}
		if err := os.Chmod(filepath.Join(stagingPath, rel), 0o440); err != nil {
			return &rerr.IOError{Op: "chmod", Path: rel, Err: err}
		}
	}

	dirs := map[string]bool{}
	for rel := range result.Manifest.Files {
		if rel == "r3.yaml" {
			continue
		}
		dir := filepath.Dir(rel)
		for dir != "." && dir != "/" {
			dirs[dir] = true
			dir = filepath.Dir(dir)
		}
	}
	for dir := range dirs {
		if err := os.Chmod(filepath.Join(stagingPath, dir), 0o550); err != nil {
			return &rerr.IOError{Op: "chmod", Path: dir, Err: err}
		}
	}
	// Best effort on the job root itself: output/ and metadata.yaml must
	// remain writable, so the directory keeps owner write permission.
	return nil
}

// storeSymlinkResolver turns a staged symlink that points inside this
// repository's jobs/ tree into a job dependency record (§4.2, §4.5).
// Symlinks pointing anywhere else are rejected by the caller.
type storeSymlinkResolver struct {
	repo *Repository
}

func (s *storeSymlinkResolver) ResolveSymlink(relPath, target string) (manifest.Dependency, bool, error) {
	jobsRoot, err := filepath.Abs(s.repo.jobsDir())
	if err != nil {
		return manifest.Dependency{}, false, err
	}
	target, err = filepath.Abs(target)
	if err != nil {
		return manifest.Dependency{}, false, err
	}

	rel, err := filepath.Rel(jobsRoot, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return manifest.Dependency{}, false, nil
	}

	parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
	jobID := parts[0]
	source := ""
	if len(parts) == 2 {
		source = parts[1]
	}

	return manifest.Dependency{
		Job:         jobID,
		Source:      source,
		Destination: relPath,
	}, true, nil
}
