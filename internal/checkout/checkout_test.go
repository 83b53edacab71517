package checkout

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/r3/r3/internal/depresolver"
	"github.com/r3/r3/internal/store"
)

func newCommittedJob(t *testing.T, repo *store.Repository, files map[string]string, manifestYAML string) string {
	t.Helper()
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "r3.yaml"), []byte(manifestYAML), 0o644); err != nil {
		t.Fatalf("WriteFile manifest: %v", err)
	}
	for rel, content := range files {
		full := filepath.Join(src, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	result, err := repo.Commit(context.Background(), src)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return result.ID
}

func newRepo(t *testing.T) *store.Repository {
	t.Helper()
	root := t.TempDir()
	if err := store.Init(root); err != nil {
		t.Fatalf("Init: %v", err)
	}
	repo, err := store.Open(root, nil, &depresolver.Resolver{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return repo
}

func TestCheckoutReproducesPayloadBytes(t *testing.T) {
	repo := newRepo(t)
	id := newCommittedJob(t, repo, map[string]string{
		"a.txt":     "hello",
		"sub/b.txt": "world",
	}, "dependencies: []\n")

	eng := &Engine{RepoRoot: repo.Root}
	dst := filepath.Join(t.TempDir(), "work")
	if err := eng.Checkout(context.Background(), id, dst); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	for rel, want := range map[string]string{"a.txt": "hello", "sub/b.txt": "world"} {
		got, err := os.ReadFile(filepath.Join(dst, rel))
		if err != nil {
			t.Fatalf("reading checked-out %s: %v", rel, err)
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", rel, got, want)
		}
	}
}

func TestCheckoutMakesPayloadReadOnly(t *testing.T) {
	repo := newRepo(t)
	id := newCommittedJob(t, repo, map[string]string{"a.txt": "hello"}, "dependencies: []\n")

	eng := &Engine{RepoRoot: repo.Root}
	dst := filepath.Join(t.TempDir(), "work")
	if err := eng.Checkout(context.Background(), id, dst); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	info, err := os.Stat(filepath.Join(dst, "a.txt"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm()&0o200 != 0 {
		t.Errorf("expected checked-out payload to be read-only, got mode %v", info.Mode())
	}
}

func TestCheckoutCreatesOutputSymlink(t *testing.T) {
	repo := newRepo(t)
	id := newCommittedJob(t, repo, map[string]string{"a.txt": "hello"}, "dependencies: []\n")

	eng := &Engine{RepoRoot: repo.Root}
	dst := filepath.Join(t.TempDir(), "work")
	if err := eng.Checkout(context.Background(), id, dst); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	target, err := os.Readlink(filepath.Join(dst, "output"))
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != filepath.Join(repo.Root, "jobs", id, "output") {
		t.Errorf("unexpected output symlink target: %s", target)
	}
}

func TestCheckoutRejectsExistingDestination(t *testing.T) {
	repo := newRepo(t)
	id := newCommittedJob(t, repo, map[string]string{"a.txt": "hello"}, "dependencies: []\n")

	eng := &Engine{RepoRoot: repo.Root}
	dst := t.TempDir() // already exists

	if err := eng.Checkout(context.Background(), id, dst); err == nil {
		t.Error("expected error checking out into an existing directory")
	}
}

func TestCheckoutRejectsMissingJob(t *testing.T) {
	repo := newRepo(t)
	eng := &Engine{RepoRoot: repo.Root}
	dst := filepath.Join(t.TempDir(), "work")
	if err := eng.Checkout(context.Background(), "does-not-exist", dst); err == nil {
		t.Error("expected error checking out a nonexistent job")
	}
}

func TestCheckoutMaterializesJobDependencyAsSymlink(t *testing.T) {
	repo := newRepo(t)
	baseID := newCommittedJob(t, repo, map[string]string{"base.txt": "base"}, "dependencies: []\n")
	dependentID := newCommittedJob(t, repo, map[string]string{"main.txt": "main"},
		"dependencies:\n  - job: "+baseID+"\n    destination: deps/base\n")

	eng := &Engine{RepoRoot: repo.Root}
	dst := filepath.Join(t.TempDir(), "work")
	if err := eng.Checkout(context.Background(), dependentID, dst); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	target, err := os.Readlink(filepath.Join(dst, "deps/base"))
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != filepath.Join(repo.Root, "jobs", baseID) {
		t.Errorf("unexpected dependency symlink target: %s", target)
	}

	content, err := os.ReadFile(filepath.Join(dst, "deps/base", "base.txt"))
	if err != nil {
		t.Fatalf("reading through dependency symlink: %v", err)
	}
	if string(content) != "base" {
		t.Errorf("unexpected content through dependency symlink: %q", content)
	}
}
