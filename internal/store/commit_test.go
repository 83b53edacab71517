package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestCommitProducesReadOnlyJob(t *testing.T) {
	repo := newTestRepo(t)
	src := t.TempDir()
	writeSrcManifest(t, src, "dependencies: []\n")
	writeSrcFile(t, src, "a.txt", "hello")

	result, err := repo.Commit(context.Background(), src)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if result.AlreadyPresent {
		t.Error("expected fresh commit, not AlreadyPresent")
	}

	jobPath := filepath.Join(repo.jobsDir(), result.ID)
	info, err := os.Stat(filepath.Join(jobPath, "a.txt"))
	if err != nil {
		t.Fatalf("expected payload file in committed job: %v", err)
	}
	if info.Mode().Perm()&0o200 != 0 {
		t.Errorf("expected payload file to be read-only, got mode %v", info.Mode())
	}

	if _, err := os.Stat(filepath.Join(jobPath, "output")); err != nil {
		t.Errorf("expected output/ directory to be created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(jobPath, "metadata.yaml")); err != nil {
		t.Errorf("expected metadata.yaml to be created: %v", err)
	}
}

func TestCommitIsContentAddressedNoOp(t *testing.T) {
	repo := newTestRepo(t)
	src := t.TempDir()
	writeSrcManifest(t, src, "dependencies: []\n")
	writeSrcFile(t, src, "a.txt", "hello")

	first, err := repo.Commit(context.Background(), src)
	if err != nil {
		t.Fatalf("first Commit: %v", err)
	}

	second, err := repo.Commit(context.Background(), src)
	if err != nil {
		t.Fatalf("second Commit: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same job id for identical content, got %s != %s", first.ID, second.ID)
	}
	if !second.AlreadyPresent {
		t.Error("expected second identical commit to be a no-op")
	}
}

func TestCommitDifferentContentProducesDifferentIDs(t *testing.T) {
	repo := newTestRepo(t)

	src1 := t.TempDir()
	writeSrcManifest(t, src1, "dependencies: []\n")
	writeSrcFile(t, src1, "a.txt", "hello")

	src2 := t.TempDir()
	writeSrcManifest(t, src2, "dependencies: []\n")
	writeSrcFile(t, src2, "a.txt", "goodbye")

	r1, err := repo.Commit(context.Background(), src1)
	if err != nil {
		t.Fatalf("Commit src1: %v", err)
	}
	r2, err := repo.Commit(context.Background(), src2)
	if err != nil {
		t.Fatalf("Commit src2: %v", err)
	}
	if r1.ID == r2.ID {
		t.Error("expected distinct job ids for distinct content")
	}
}

func TestCommitWithJobDependency(t *testing.T) {
	repo := newTestRepo(t)

	base := t.TempDir()
	writeSrcManifest(t, base, "dependencies: []\n")
	writeSrcFile(t, base, "base.txt", "base content")
	baseResult, err := repo.Commit(context.Background(), base)
	if err != nil {
		t.Fatalf("Commit base: %v", err)
	}

	dependent := t.TempDir()
	writeSrcManifest(t, dependent, "dependencies:\n  - job: "+baseResult.ID+"\n    destination: deps/base\n")
	writeSrcFile(t, dependent, "main.txt", "main content")

	result, err := repo.Commit(context.Background(), dependent)
	if err != nil {
		t.Fatalf("Commit dependent: %v", err)
	}

	jobPath := filepath.Join(repo.jobsDir(), result.ID)
	if _, err := os.Stat(filepath.Join(jobPath, "r3.yaml")); err != nil {
		t.Fatalf("expected committed manifest: %v", err)
	}
}

func TestCommitRejectsMalformedManifest(t *testing.T) {
	repo := newTestRepo(t)
	src := t.TempDir()
	writeSrcManifest(t, src, "dependencies:\n  - destination: deps/x\n")
	writeSrcFile(t, src, "a.txt", "hello")

	if _, err := repo.Commit(context.Background(), src); err == nil {
		t.Error("expected error for dependency with neither job nor repository")
	}
}
