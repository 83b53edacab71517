// Package manifest models a job's r3.yaml: the declarative configuration
// frozen at commit time. It owns parsing, the value-tree conversion needed
// by internal/canon, and the structural validation described in §3/§4.4,
// but not git ref resolution or query expansion, which belong to
// internal/depresolver since they require contacting collaborator systems
// (a git clone, a query engine) rather than just reading the file.
package manifest

import (
	"github.com/r3/r3/internal/hashutil"
)

// DependencyKind discriminates the two dependency record shapes. A record is
// never both, and the discriminator is derived from which of Job/Repository
// is set — there is no explicit "kind" key on disk, matching §9's note that
// a value-tree mapping plus a presence-based discriminator is sufficient.
type DependencyKind int

const (
	// KindJob is a dependency on another committed job.
	KindJob DependencyKind = iota
	// KindGit is a dependency pinned to a specific git commit.
	KindGit
)

// Dependency is a normalized dependency record: either a job reference or a
// git commit pin, never both.
type Dependency struct {
	// Job dependency fields.
	Job string

	// Git dependency fields.
	Repository string
	Commit     string

	// Shared fields.
	Source      string
	Destination string

	// Query is informational provenance for job dependencies resolved via
	// the query sublanguage; it is never hashed (§4.3 step 4, §8 property 4).
	Query string
}

// Kind reports whether d is a job or git dependency. It is meaningful for a
// Dependency produced by Parse, which has already been validated.
func (d Dependency) Kind() DependencyKind {
	if d.Repository != "" {
		return KindGit
	}
	return KindJob
}

// Manifest is the parsed, validated contents of an r3.yaml.
type Manifest struct {
	Dependencies []Dependency
	Ignore       []string
	Environment  map[string]any
	Commands     map[string]any
	Parameters   map[string]any

	// Files is populated only in committed manifests: relative payload path
	// to content digest, plus an "r3.yaml" entry holding the config hash,
	// recorded at commit time (§4.3). Staged manifests
	// supplied by the user may omit it entirely.
	Files map[string]hashutil.Digest
}

// canonTree returns d, with Query stripped, as the value tree
// internal/canon expects, with keys sorted into canonical order implicitly
// by canon.Marshal (map key sort is automatic; we just omit Query here).
func (d Dependency) canonTree() map[string]any {
	switch d.Kind() {
	case KindGit:
		return map[string]any{
			"repository":  d.Repository,
			"commit":      d.Commit,
			"source":      d.Source,
			"destination": d.Destination,
		}
	default:
		return map[string]any{
			"job":         d.Job,
			"source":      d.Source,
			"destination": d.Destination,
		}
	}
}
