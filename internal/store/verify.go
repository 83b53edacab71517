package store

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/r3/r3/internal/hashutil"
	"github.com/r3/r3/internal/jobbuilder"
	"github.com/r3/r3/internal/manifest"
	"github.com/r3/r3/internal/rerr"
)

// Verify rehashes a committed job's payload and dependency records exactly
// as in §4.3 and compares the result to its identifier (§4.7 "Integrity
// check", §8 property 7). Every mismatch found is returned, aggregated with
// multierr, rather than stopping at the first one, so a caller can report
// the full extent of the corruption in one pass.
func (r *Repository) Verify(jobID string) error {
	jobPath := filepath.Join(r.jobsDir(), jobID)
	m, err := manifest.Load(filepath.Join(jobPath, "r3.yaml"))
	if err != nil {
		return fmt.Errorf("loading manifest for %s: %w", jobID, err)
	}

	var errs error

	entries := make([]jobbuilder.Entry, 0, len(m.Files)+len(m.Dependencies))

	// r3.yaml's entry records the hash of its config subtree (environment,
	// commands, parameters), not of the frozen file's own bytes — hashing
	// the file itself would be circular, since that file's own content
	// includes this very entry.
	if want, ok := m.Files["r3.yaml"]; ok {
		got, err := m.ConfigHash()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("hashing manifest config for %s: %w", jobID, err))
		} else {
			if got != want {
				errs = multierr.Append(errs, &rerr.IntegrityError{JobID: jobID, Expected: string(want), Got: string(got)})
			}
			entries = append(entries, jobbuilder.Entry{Path: "r3.yaml", Digest: got})
		}
	}

	for rel, want := range m.Files {
		if rel == "r3.yaml" {
			continue
		}
		got, err := hashutil.HashFile(filepath.Join(jobPath, rel))
		if err != nil {
			errs = multierr.Append(errs, &rerr.IOError{Op: "hash", Path: rel, Err: err})
			continue
		}
		if got != want {
			errs = multierr.Append(errs, &rerr.IntegrityError{JobID: jobID, Expected: string(want), Got: string(got)})
		}
		entries = append(entries, jobbuilder.Entry{Path: rel, Digest: got})
	}

	for _, d := range m.Dependencies {
		h, err := d.EntryHash()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("hashing dependency %s: %w", d.Destination, err))
			continue
		}
		entries = append(entries, jobbuilder.Entry{Path: d.Destination, Digest: h})

		if d.Kind() == manifest.KindGit && r.Git != nil {
			if _, checkErr := r.Git.EnsureCommit(r.backgroundContext(), d.Repository, d.Commit); checkErr != nil {
				errs = multierr.Append(errs, fmt.Errorf("git dependency %s@%s unreachable: %w", d.Repository, d.Commit, checkErr))
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "%s %s\n", e.Path, e.Digest)
	}
	recomputed := string(hashutil.HashBytes([]byte(sb.String())))

	if recomputed != jobID {
		errs = multierr.Append(errs, &rerr.IntegrityError{JobID: jobID, Expected: jobID, Got: recomputed})
	}

	return errs
}

// VerifyAll verifies every committed job, returning a map of job id to its
// verification error (absent entries verified clean).
func (r *Repository) VerifyAll() (map[string]error, error) {
	entries, err := readJobsDir(r.jobsDir())
	if err != nil {
		return nil, err
	}
	failures := map[string]error{}
	for _, id := range entries {
		if err := r.Verify(id); err != nil {
			failures[id] = err
		}
	}
	return failures, nil
}
