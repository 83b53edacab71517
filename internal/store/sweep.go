package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// stagingPrefix names the temporary sibling directories Commit stages into
// before the atomic rename into jobs/<id>/.
const stagingPrefix = ".staging-"

// staleStagingAge is how old an orphaned staging directory must be before
// the sweep removes it. A short grace window avoids racing a commit that is
// still in flight on this very process.
const staleStagingAge = 10 * time.Minute

// sweepStaging removes orphaned jobs/.staging-* directories left behind by
// a commit that was cancelled between staging and rename (§5: "If a commit
// is cancelled after staging but before rename, the staging directory is
// removed on next start-up sweep").
func (r *Repository) sweepStaging() error {
	entries, err := os.ReadDir(r.jobsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading jobs/: %w", err)
	}

	now := time.Now()
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), stagingPrefix) {
			continue
		}
		full := filepath.Join(r.jobsDir(), e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < staleStagingAge {
			continue
		}
		r.Logger.Info("removing orphaned staging directory", "path", full)
		if err := removeWriteProtected(full); err != nil {
			return fmt.Errorf("removing orphaned staging directory %s: %w", full, err)
		}
	}
	return nil
}
