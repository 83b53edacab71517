package jobbuilder

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/r3/r3/internal/ignore"
)

// reservedNames are excluded from the walk unconditionally, matching §4.3
// step 2: r3.yaml, metadata.yaml, and the whole output/ subtree.
var reservedNames = map[string]bool{
	"r3.yaml":      true,
	"metadata.yaml": true,
	"output":       true,
}

// walkResult separates the staged tree into payload files (to be hashed)
// and symlinks (to be resolved into dependency records by the caller,
// per §4.5's note that dependency symlinks are not hashed as files).
type walkResult struct {
	files    []string // relative, slash-separated
	symlinks []string // relative, slash-separated
}

func walkPayload(root string, matcher *ignore.Matcher) (*walkResult, error) {
	res := &walkResult{}

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", p, err)
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		top := rel
		if idx := strings.Index(rel, "/"); idx >= 0 {
			top = rel[:idx]
		}
		if reservedNames[top] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if matcher.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			res.symlinks = append(res.symlinks, rel)
			return nil
		}

		if !info.Mode().IsRegular() {
			return fmt.Errorf("unsupported file type at %s: %s", rel, info.Mode())
		}

		res.files = append(res.files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(res.files)
	sort.Strings(res.symlinks)
	return res, nil
}

// resolveSymlinkTarget reads the symlink at root/rel and returns its target,
// resolved to an absolute path when the link itself is relative, without
// following further symlinks in the target (the resolver decides what the
// target means).
func resolveSymlinkTarget(root, rel string) (string, error) {
	full := filepath.Join(root, rel)
	target, err := os.Readlink(full)
	if err != nil {
		return "", fmt.Errorf("reading symlink: %w", err)
	}
	if filepath.IsAbs(target) {
		return filepath.Clean(target), nil
	}
	return filepath.Clean(filepath.Join(filepath.Dir(full), target)), nil
}
