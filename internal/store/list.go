package store

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// readJobsDir lists committed job ids under jobsDir, skipping any leftover
// staging directories (a crashed commit's jobs/.staging-* that the startup
// sweep hasn't yet collected, or one created after sweep ran).
func readJobsDir(jobsDir string) ([]string, error) {
	entries, err := os.ReadDir(jobsDir)
	if err != nil {
		return nil, fmt.Errorf("reading jobs/: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), stagingPrefix) {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// List returns every committed job id in the repository.
func (r *Repository) List() ([]string, error) {
	return readJobsDir(r.jobsDir())
}
