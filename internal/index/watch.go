package index

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces a burst of jobs/ filesystem events (a commit
// touches several files in quick succession) into a single rebuild.
const watchDebounce = 250 * time.Millisecond

// Watch starts a background rebuild-on-change loop over the repository's
// jobs/ directory. It is strictly an optimization: NotifyCommit/NotifyRemove
// already keep the index current on the happy path, so a missed or coalesced
// event here only delays convergence, never correctness, since RebuildIndex
// is always safe to call again later.
func (idx *Index) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	jobsDir := idx.root + "/jobs"
	if err := watcher.Add(jobsDir); err != nil {
		watcher.Close()
		return err
	}

	go idx.watchLoop(ctx, watcher)
	return nil
}

func (idx *Index) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			if err := idx.RebuildIndex(ctx); err != nil {
				idx.logger.Warn("index: debounced rebuild failed", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			idx.logger.Warn("index: watcher error", "error", err)
		}
	}
}
