// Package jobbuilder implements the job hash protocol (§4.3) and orchestrates
// it into a deterministic build result (§4.6): given a staged job directory
// and a normalized manifest, produce the final job identifier, the frozen
// manifest to commit, and the concrete entry list for debugging.
package jobbuilder

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/r3/r3/internal/hashutil"
	"github.com/r3/r3/internal/ignore"
	"github.com/r3/r3/internal/manifest"
	"github.com/r3/r3/internal/rerr"
)

// maxConcurrentHashes bounds how many files are hashed in parallel during a
// single build, so a job with tens of thousands of small files doesn't open
// that many file descriptors at once.
const maxConcurrentHashes = 16

// Entry is one line of the job's entry list: a relative path and the hex
// digest recorded for it, either a file content hash or a dependency record
// hash.
type Entry struct {
	Path   string
	Digest hashutil.Digest
}

// Result is the outcome of building a staged job.
type Result struct {
	ID       string
	Manifest *manifest.Manifest // normalized: Files populated, dependencies include any symlink-derived ones
	Entries  []Entry
}

// SymlinkResolver turns a staged symlink's relative path and resolved
// absolute target into a job dependency record, or reports ok=false if the
// target is not a recognized repository dependency (in which case the
// symlink is rejected at commit, per §4.2).
type SymlinkResolver interface {
	ResolveSymlink(relPath, target string) (dep manifest.Dependency, ok bool, err error)
}

// Build runs the full §4.3 protocol over stagedDir using m as the
// already-config-validated manifest (dependencies normalized by
// internal/depresolver, but not yet including any symlink-derived
// dependencies — those are discovered here).
func Build(ctx context.Context, stagedDir string, m *manifest.Manifest, resolver SymlinkResolver) (*Result, error) {
	matcher := ignore.New(m.Ignore)

	walked, err := walkPayload(stagedDir, matcher)
	if err != nil {
		return nil, fmt.Errorf("walking staged job: %w", err)
	}

	deps := append([]manifest.Dependency(nil), m.Dependencies...)

	for _, rel := range walked.symlinks {
		target, err := resolveSymlinkTarget(stagedDir, rel)
		if err != nil {
			return nil, &rerr.ConfigError{Path: rel, Reason: err.Error()}
		}
		dep, ok, err := resolver.ResolveSymlink(rel, target)
		if err != nil {
			return nil, fmt.Errorf("resolving symlink %s: %w", rel, err)
		}
		if !ok {
			return nil, &rerr.ConfigError{Path: rel, Reason: fmt.Sprintf("symlink target %q is not a recognized dependency", target)}
		}
		if dep.Destination == "" {
			dep.Destination = rel
		}
		deps = append(deps, dep)
	}

	if err := checkDestinationCollisions(deps, walked.files); err != nil {
		return nil, err
	}

	if err := checkPredeclaredFiles(m.Files, matcher, walked.files); err != nil {
		return nil, err
	}

	fileDigests, err := hashFiles(ctx, stagedDir, walked.files)
	if err != nil {
		return nil, err
	}

	configDigest, err := m.ConfigHash()
	if err != nil {
		return nil, fmt.Errorf("hashing manifest config: %w", err)
	}

	entries := make([]Entry, 0, len(walked.files)+len(deps)+1)
	// environment/commands/parameters are hashed but never walked as payload
	// files, so they enter the list under the reserved r3.yaml path itself.
	entries = append(entries, Entry{Path: "r3.yaml", Digest: configDigest})
	for _, p := range walked.files {
		entries = append(entries, Entry{Path: p, Digest: fileDigests[p]})
	}
	for _, d := range deps {
		h, err := d.EntryHash()
		if err != nil {
			return nil, fmt.Errorf("hashing dependency %s: %w", d.Destination, err)
		}
		entries = append(entries, Entry{Path: d.Destination, Digest: h})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "%s %s\n", e.Path, e.Digest)
	}
	id := string(hashutil.HashBytes([]byte(sb.String())))

	outFiles := make(map[string]hashutil.Digest, len(walked.files)+1)
	outFiles["r3.yaml"] = configDigest
	for _, p := range walked.files {
		outFiles[p] = fileDigests[p]
	}

	out := &manifest.Manifest{
		Dependencies: deps,
		Ignore:       m.Ignore,
		Environment:  m.Environment,
		Commands:     m.Commands,
		Parameters:   m.Parameters,
		Files:        outFiles,
	}

	return &Result{ID: id, Manifest: out, Entries: entries}, nil
}

// hashFiles hashes every path in rels (relative to root) concurrently,
// bounded by maxConcurrentHashes, using a bounded worker pool rather than
// one goroutine per file.
func hashFiles(ctx context.Context, root string, rels []string) (map[string]hashutil.Digest, error) {
	out := make(map[string]hashutil.Digest, len(rels))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentHashes)

	for _, rel := range rels {
		rel := rel
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			digest, err := hashutil.HashFile(filepath.Join(root, rel))
			if err != nil {
				return &rerr.IOError{Op: "hash", Path: rel, Err: err}
			}
			mu.Lock()
			out[rel] = digest
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// checkDestinationCollisions enforces the open question's resolution
// (§9): a dependency destination that collides with a payload file path is
// an error at commit time, and two dependencies may not share a destination.
func checkDestinationCollisions(deps []manifest.Dependency, files []string) error {
	fileSet := make(map[string]bool, len(files))
	for _, f := range files {
		fileSet[f] = true
	}

	seen := make(map[string]bool, len(deps))
	for _, d := range deps {
		if seen[d.Destination] {
			return &rerr.ConfigError{Path: d.Destination, Reason: "duplicate dependency destination"}
		}
		seen[d.Destination] = true
		if fileSet[d.Destination] {
			return &rerr.ConfigError{Path: d.Destination, Reason: "dependency destination collides with a payload file"}
		}
	}
	return nil
}

// checkPredeclaredFiles rejects a staged manifest whose files map (carried
// over from a prior commit, e.g. when re-staging a checked-out job) lists a
// path that the current ignore rules now exclude, or that no longer exists
// on disk. Leaving such a mismatch to pass silently would violate §3
// invariant 5 (files enumerates exactly the hashed set) the moment the
// manifest is frozen; surfacing it at commit matches §8 property 3's
// "leaving the file on disk fails commit" case.
func checkPredeclaredFiles(declared map[string]hashutil.Digest, matcher *ignore.Matcher, walked []string) error {
	if len(declared) == 0 {
		return nil
	}
	present := make(map[string]bool, len(walked))
	for _, f := range walked {
		present[f] = true
	}
	for p := range declared {
		if p == "r3.yaml" {
			continue
		}
		if matcher.Match(p, false) {
			return &rerr.ConfigError{Path: p, Reason: "ignore pattern matches a file already declared in files"}
		}
		if !present[p] {
			return &rerr.ConfigError{Path: p, Reason: "declared in files but missing from the staged directory"}
		}
	}
	return nil
}
