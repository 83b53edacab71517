// Package depresolver runs the pre-commit resolution pass described in
// §4.5: rewriting symbolic git refs to full object ids, and (via an
// injected collaborator) expanding human-written queries into concrete
// job ids. Neither of these belongs in internal/manifest, since both
// require contacting something outside the manifest file itself — a git
// clone, an external query engine.
package depresolver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/r3/r3/internal/manifest"
	"github.com/r3/r3/internal/rerr"
)

// fullSHARe matches a complete, lowercase 40 or 64 hex character object id.
// Anything else in Dependency.Commit is treated as a symbolic ref that must
// be resolved before hashing (§3: "commit must be a complete object id, not
// an abbreviation or symbolic ref").
var fullSHARe = regexp.MustCompile(`^[0-9a-f]{40}$|^[0-9a-f]{64}$`)

// GitResolver resolves a symbolic ref to a full commit id within a
// repository's clone, fetching first if needed. internal/gitcache.Cache
// satisfies this.
type GitResolver interface {
	ResolveRef(ctx context.Context, repository, ref string) (string, error)
}

// QueryEngine expands a dependency's opaque query text into a concrete job
// id. It is an external collaborator (§4.5): R3 itself only records and
// hashes the result, never interprets query syntax.
type QueryEngine interface {
	// Resolve returns the job ids matching query. "all" or "latest"
	// semantics are not the engine's concern: the Resolver applies them
	// to a multi-match result.
	Resolve(ctx context.Context, query string) ([]string, error)
}

// ExpansionMode controls how the Resolver handles a query matching more than one
// job.
type ExpansionMode int

const (
	// ModeUnique fails with AmbiguousDependency on more than one match.
	ModeUnique ExpansionMode = iota
	// ModeLatest takes the last match, assuming the engine returns matches
	// in ascending recency order.
	ModeLatest
	// ModeAll is rejected by the Resolver for a single dependency record; a
	// caller requesting "all" semantics must fan a query out into multiple
	// dependency records before resolution, since one record hashes to one
	// entry-list line.
	ModeAll
)

// Resolver performs pre-commit dependency resolution.
type Resolver struct {
	Git   GitResolver
	Query QueryEngine

	// RefResolutionTimeout bounds each ResolveRef attempt.
	RefResolutionTimeout time.Duration
}

// ResolveAll resolves every dependency in deps, returning a new slice with
// git refs rewritten to full object ids and queries expanded to job ids.
// Order is preserved. The input is never mutated.
func (r *Resolver) ResolveAll(ctx context.Context, deps []manifest.Dependency) ([]manifest.Dependency, error) {
	out := make([]manifest.Dependency, len(deps))
	for i, d := range deps {
		resolved, err := r.resolveOne(ctx, d)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}

func (r *Resolver) resolveOne(ctx context.Context, d manifest.Dependency) (manifest.Dependency, error) {
	switch d.Kind() {
	case manifest.KindGit:
		return r.resolveGit(ctx, d)
	default:
		return r.resolveJob(ctx, d)
	}
}

func (r *Resolver) resolveGit(ctx context.Context, d manifest.Dependency) (manifest.Dependency, error) {
	if fullSHARe.MatchString(d.Commit) {
		return d, nil
	}
	if r.Git == nil {
		return manifest.Dependency{}, fmt.Errorf("dependency %s names ref %q but no git resolver is configured", d.Destination, d.Commit)
	}

	timeout := r.RefResolutionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// §7: ref resolution is retried exactly once, after a fetch the
	// resolver itself triggers internally on a cache miss. We model "once"
	// as a single retry attempt with no further backoff, since ResolveRef
	// already performs its own fetch-then-reattempt internally; this outer
	// retry covers transient network failures around that call, not ref
	// existence.
	backoff := retry.WithMaxRetries(1, retry.NewConstant(time.Second))

	var sha string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		resolved, err := r.Git.ResolveRef(attemptCtx, d.Repository, d.Commit)
		if err != nil {
			return retry.RetryableError(err)
		}
		sha = resolved
		return nil
	})
	if err != nil {
		return manifest.Dependency{}, &rerr.RefResolutionError{Repository: d.Repository, Ref: d.Commit, Err: err}
	}

	resolved := d
	resolved.Commit = sha
	return resolved, nil
}

func (r *Resolver) resolveJob(ctx context.Context, d manifest.Dependency) (manifest.Dependency, error) {
	if d.Job != "" {
		return d, nil
	}
	if d.Query == "" {
		return manifest.Dependency{}, fmt.Errorf("dependency %s has neither job nor query", d.Destination)
	}
	if r.Query == nil {
		return manifest.Dependency{}, fmt.Errorf("dependency %s names query %q but no query engine is configured", d.Destination, d.Query)
	}

	query, mode := parseQueryMode(d.Query)

	matches, err := r.Query.Resolve(ctx, query)
	if err != nil {
		return manifest.Dependency{}, fmt.Errorf("resolving query %q: %w", d.Query, err)
	}

	switch len(matches) {
	case 0:
		return manifest.Dependency{}, &rerr.DependencyNotFound{Query: d.Query}
	case 1:
		resolved := d
		resolved.Job = matches[0]
		return resolved, nil
	default:
		if mode == ModeLatest {
			resolved := d
			resolved.Job = matches[len(matches)-1]
			return resolved, nil
		}
		if mode == ModeAll {
			return manifest.Dependency{}, fmt.Errorf("dependency %s: \"all\" query semantics must be expanded into separate dependency records before resolution, not resolved in place", d.Destination)
		}
		return manifest.Dependency{}, &rerr.AmbiguousDependency{Query: d.Query, Matches: len(matches)}
	}
}

// parseQueryMode splits a dependency's opaque query text from an explicit
// "all"/"latest" selection suffix. The query sublanguage itself is an
// external collaborator's concern (§4.5); this implementation adopts one
// concrete convention for requesting multi-match semantics inline, a
// "@latest" or "@all" suffix.
func parseQueryMode(raw string) (query string, mode ExpansionMode) {
	switch {
	case strings.HasSuffix(raw, "@latest"):
		return strings.TrimSuffix(raw, "@latest"), ModeLatest
	case strings.HasSuffix(raw, "@all"):
		return strings.TrimSuffix(raw, "@all"), ModeAll
	default:
		return raw, ModeUnique
	}
}

// ErrAmbiguous is returned by a stricter caller-supplied QueryEngine that
// wants ModeUnique semantics surfaced distinctly from a generic error.
var ErrAmbiguous = errors.New("ambiguous dependency query")
