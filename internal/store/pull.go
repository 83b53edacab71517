package store

import "context"

// Pull fetches new history for a git dependency's bare clone, failing if
// any pinned commit is missing after the fetch (§4.7 "Pull (git update)").
// Unlike Commit and Remove, Pull does not touch jobs/ and does not take the
// repository lock: concurrent pulls into distinct clones are independent,
// and gitcache.Cache itself serializes concurrent pulls into the same
// clone via its per-URL singleflight group.
func (r *Repository) Pull(ctx context.Context, repository string) error {
	return r.Git.Pull(ctx, repository)
}
