package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/r3/r3/internal/manifest"
	"github.com/r3/r3/internal/rerr"
)

// Remove deletes a committed job, refusing if any other committed job
// still lists it as a job dependency (§4.7 "Remove").
func (r *Repository) Remove(ctx context.Context, jobID string) error {
	fl, err := r.lock()
	if err != nil {
		return err
	}
	defer fl.Unlock()

	jobPath := filepath.Join(r.jobsDir(), jobID)
	if _, err := os.Stat(jobPath); os.IsNotExist(err) {
		return fmt.Errorf("job %s does not exist", jobID)
	}

	referencedBy, err := r.findReferrers(jobID)
	if err != nil {
		return err
	}
	if len(referencedBy) > 0 {
		return &rerr.JobReferenced{JobID: jobID, ReferencedBy: referencedBy}
	}

	m, err := manifest.Load(filepath.Join(jobPath, "r3.yaml"))
	if err != nil {
		return fmt.Errorf("loading manifest for removal: %w", err)
	}

	if err := removeWriteProtected(jobPath); err != nil {
		return &rerr.IOError{Op: "remove", Path: jobPath, Err: err}
	}

	if r.Git != nil {
		for _, d := range m.Dependencies {
			if d.Kind() != manifest.KindGit {
				continue
			}
			if err := r.Git.Unpin(ctx, d.Repository, jobID); err != nil {
				r.Logger.Warn("could not remove git pin tag", "repository", d.Repository, "job", jobID, "error", err)
			}
		}
	}

	r.Index.NotifyRemove(jobID)
	return nil
}

// findReferrers scans every other committed job's manifest for a job
// dependency on jobID. It is a linear scan over jobs/: the index exists
// precisely to make this kind of query fast, but Remove must be correct
// even when the index is stale or absent.
func (r *Repository) findReferrers(jobID string) ([]string, error) {
	entries, err := os.ReadDir(r.jobsDir())
	if err != nil {
		return nil, fmt.Errorf("scanning jobs/: %w", err)
	}

	var referrers []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == jobID {
			continue
		}
		manifestPath := filepath.Join(r.jobsDir(), e.Name(), "r3.yaml")
		m, err := manifest.Load(manifestPath)
		if err != nil {
			continue // a broken sibling manifest shouldn't block this removal
		}
		for _, d := range m.Dependencies {
			if d.Kind() == manifest.KindJob && d.Job == jobID {
				referrers = append(referrers, e.Name())
				break
			}
		}
	}
	return referrers, nil
}
