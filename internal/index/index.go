// Package index implements the derived secondary lookup cache described in
// §2/§4.7: a best-effort, rebuildable index over committed jobs, backed by
// SQLite. It is never authoritative — jobs/ on disk is — and every query it
// answers could, in principle, be recomputed by a full scan of jobs/.
package index

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/r3/r3/internal/manifest"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Index is a rebuildable SQLite cache over a repository's committed jobs.
type Index struct {
	db     *sql.DB
	root   string // repository root, for RebuildIndex's jobs/ scan
	logger *slog.Logger

	// OnChange, if set, is called after every successful write: a commit,
	// removal, or full rebuild. internal/statusd uses it to push a
	// WebSocket refresh to connected dashboard clients.
	OnChange func()
}

// Open opens (creating if necessary) the index database at
// <repoRoot>/index.sqlite and applies pending migrations.
func Open(repoRoot string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dbPath := filepath.Join(repoRoot, "index.sqlite")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one *DB

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("applying index migrations: %w", err)
	}

	return &Index{db: db, root: repoRoot, logger: logger}, nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error { return idx.db.Close() }

// NotifyCommit records a newly visible job. Failures are logged and
// swallowed (§4.7 step 8, §7: "Index write failures are logged and
// swallowed; the next rebuild-index restores consistency"), never
// propagated to the committer.
func (idx *Index) NotifyCommit(jobID string) {
	if err := idx.upsertJob(jobID); err != nil {
		idx.logger.Warn("index: failed to record commit", "job", jobID, "error", err)
		return
	}
	idx.fireOnChange()
}

// NotifyRemove drops a removed job from the index.
func (idx *Index) NotifyRemove(jobID string) {
	if _, err := idx.db.Exec(`DELETE FROM dependencies WHERE job_id = ?`, jobID); err != nil {
		idx.logger.Warn("index: failed to record removal", "job", jobID, "error", err)
		return
	}
	if _, err := idx.db.Exec(`DELETE FROM jobs WHERE id = ?`, jobID); err != nil {
		idx.logger.Warn("index: failed to record removal", "job", jobID, "error", err)
		return
	}
	idx.fireOnChange()
}

func (idx *Index) fireOnChange() {
	if idx.OnChange != nil {
		idx.OnChange()
	}
}

func (idx *Index) upsertJob(jobID string) error {
	m, err := manifest.Load(filepath.Join(idx.root, "jobs", jobID, "r3.yaml"))
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}
	return idx.writeJobRow(jobID, m)
}

func (idx *Index) writeJobRow(jobID string, m *manifest.Manifest) error {
	depsJSON, err := json.Marshal(m.Dependencies)
	if err != nil {
		return fmt.Errorf("encoding dependencies: %w", err)
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO jobs (id, committed_at, dependencies) VALUES (?, ?, ?)`,
		jobID, time.Now().Unix(), string(depsJSON)); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM dependencies WHERE job_id = ?`, jobID); err != nil {
		return err
	}
	for _, d := range m.Dependencies {
		kind, target := "job", d.Job
		if d.Kind() == manifest.KindGit {
			kind, target = "git", d.Repository+"@"+d.Commit
		}
		if _, err := tx.Exec(`INSERT INTO dependencies (job_id, kind, target, destination) VALUES (?, ?, ?, ?)`,
			jobID, kind, target, d.Destination); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RebuildIndex discards and repopulates the index from a full scan of
// jobs/, the recovery path referenced throughout §7 whenever a best-effort
// write was dropped.
func (idx *Index) RebuildIndex(ctx context.Context) error {
	if _, err := idx.db.ExecContext(ctx, `DELETE FROM dependencies`); err != nil {
		return fmt.Errorf("clearing dependencies: %w", err)
	}
	if _, err := idx.db.ExecContext(ctx, `DELETE FROM jobs`); err != nil {
		return fmt.Errorf("clearing jobs: %w", err)
	}

	jobsDir := filepath.Join(idx.root, "jobs")
	matches, err := filepath.Glob(filepath.Join(jobsDir, "*"))
	if err != nil {
		return fmt.Errorf("scanning jobs/: %w", err)
	}

	for _, jobPath := range matches {
		id := filepath.Base(jobPath)
		m, err := manifest.Load(filepath.Join(jobPath, "r3.yaml"))
		if err != nil {
			idx.logger.Warn("index rebuild: skipping unreadable job", "job", id, "error", err)
			continue
		}
		if err := idx.writeJobRow(id, m); err != nil {
			idx.logger.Warn("index rebuild: failed to write job row", "job", id, "error", err)
		}
	}
	idx.fireOnChange()
	return nil
}

// JobsDependingOn returns the ids of jobs whose manifest lists a job
// dependency on target, the query a naive store.Remove scan would
// otherwise have to do by reading every manifest.
func (idx *Index) JobsDependingOn(target string) ([]string, error) {
	rows, err := idx.db.Query(`SELECT DISTINCT job_id FROM dependencies WHERE kind = 'job' AND target = ?`, target)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
