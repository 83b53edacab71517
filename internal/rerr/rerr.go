// Package rerr defines the error kinds raised across the R3 core. Each kind
// is a distinct type so callers can discriminate with errors.As rather than
// string matching.
package rerr

import "fmt"

// ConfigError reports a malformed or invalid job manifest.
type ConfigError struct {
	Path   string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %s", e.Reason)
	}
	return fmt.Sprintf("config: %s: %s", e.Path, e.Reason)
}

// EncodingError reports a failure to canonically encode a value tree.
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string { return fmt.Sprintf("encoding: %s", e.Reason) }

// DependencyNotFound reports a query that matched zero jobs.
type DependencyNotFound struct {
	Query string
}

func (e *DependencyNotFound) Error() string {
	return fmt.Sprintf("dependency not found for query %q", e.Query)
}

// AmbiguousDependency reports a query that matched more than one job without
// "all" or "latest" semantics requested.
type AmbiguousDependency struct {
	Query   string
	Matches int
}

func (e *AmbiguousDependency) Error() string {
	return fmt.Sprintf("ambiguous dependency query %q: %d matches", e.Query, e.Matches)
}

// RefResolutionError reports a failure to resolve a symbolic git ref to a
// full object id, after the single permitted retry.
type RefResolutionError struct {
	Repository string
	Ref        string
	Err        error
}

func (e *RefResolutionError) Error() string {
	return fmt.Sprintf("resolving %q in %s: %v", e.Ref, e.Repository, e.Err)
}

func (e *RefResolutionError) Unwrap() error { return e.Err }

// IntegrityError reports that a recomputed job hash does not match its id.
type IntegrityError struct {
	JobID    string
	Expected string
	Got      string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for job %s: expected %s, computed %s", e.JobID, e.Expected, e.Got)
}

// CommitConflict signals that the job already exists. The store does not
// return it: Commit reports an already-present job as a successful no-op
// and does not construct this type.
type CommitConflict struct {
	JobID string
}

func (e *CommitConflict) Error() string { return fmt.Sprintf("job %s already present", e.JobID) }

// CheckoutConflict reports that a checkout target path already exists.
type CheckoutConflict struct {
	Path string
}

func (e *CheckoutConflict) Error() string { return fmt.Sprintf("checkout target exists: %s", e.Path) }

// MissingDependency reports that a dependency referenced by a manifest could
// not be located at checkout time (job id absent from jobs/, or git worktree
// could not be materialized).
type MissingDependency struct {
	Destination string
	Reason      string
}

func (e *MissingDependency) Error() string {
	return fmt.Sprintf("missing dependency at %s: %s", e.Destination, e.Reason)
}

// DanglingSymlink reports a symlink created during checkout whose target
// does not exist on disk.
type DanglingSymlink struct {
	Path   string
	Target string
}

func (e *DanglingSymlink) Error() string {
	return fmt.Sprintf("dangling symlink %s -> %s", e.Path, e.Target)
}

// JobReferenced reports that a removal was refused because another
// committed job still lists the target as a job dependency.
type JobReferenced struct {
	JobID       string
	ReferencedBy []string
}

func (e *JobReferenced) Error() string {
	return fmt.Sprintf("job %s is referenced by %v", e.JobID, e.ReferencedBy)
}

// IOError wraps a filesystem failure. It is returned on the first failure;
// the failed operation is not retried.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("io: %s %s: %v", e.Op, e.Path, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// LockTimeout reports that the repository-wide exclusive lock could not be
// acquired within the caller-supplied deadline.
type LockTimeout struct {
	Path string
}

func (e *LockTimeout) Error() string { return fmt.Sprintf("timed out acquiring lock: %s", e.Path) }
