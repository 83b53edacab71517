package jobbuilder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/r3/r3/internal/hashutil"
	"github.com/r3/r3/internal/manifest"
)

type stubResolver struct {
	dep manifest.Dependency
	ok  bool
	err error
}

func (s stubResolver) ResolveSymlink(relPath, target string) (manifest.Dependency, bool, error) {
	return s.dep, s.ok, s.err
}

func writeStagedFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	dir1 := t.TempDir()
	writeStagedFile(t, dir1, "a.txt", "hello")
	writeStagedFile(t, dir1, "sub/b.txt", "world")

	dir2 := t.TempDir()
	writeStagedFile(t, dir2, "a.txt", "hello")
	writeStagedFile(t, dir2, "sub/b.txt", "world")

	m := &manifest.Manifest{}
	r1, err := Build(context.Background(), dir1, m, stubResolver{})
	if err != nil {
		t.Fatalf("Build dir1: %v", err)
	}
	r2, err := Build(context.Background(), dir2, m, stubResolver{})
	if err != nil {
		t.Fatalf("Build dir2: %v", err)
	}
	if r1.ID != r2.ID {
		t.Errorf("identical content produced different ids: %s != %s", r1.ID, r2.ID)
	}
}

func TestBuildIgnoresPatternedFiles(t *testing.T) {
	dir := t.TempDir()
	writeStagedFile(t, dir, "a.txt", "hello")
	writeStagedFile(t, dir, "debug.log", "noise")

	m := &manifest.Manifest{Ignore: []string{"*.log"}}
	result, err := Build(context.Background(), dir, m, stubResolver{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := result.Manifest.Files["debug.log"]; ok {
		t.Error("expected debug.log to be excluded by ignore pattern")
	}
	if _, ok := result.Manifest.Files["a.txt"]; !ok {
		t.Error("expected a.txt to be included")
	}
}

func TestBuildExcludesReservedPaths(t *testing.T) {
	dir := t.TempDir()
	writeStagedFile(t, dir, "r3.yaml", "dependencies: []\n")
	writeStagedFile(t, dir, "metadata.yaml", "notes: hi\n")
	writeStagedFile(t, dir, "output/result.txt", "result")
	writeStagedFile(t, dir, "a.txt", "hello")

	m := &manifest.Manifest{}
	result, err := Build(context.Background(), dir, m, stubResolver{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, reserved := range []string{"metadata.yaml", "output/result.txt"} {
		if _, ok := result.Manifest.Files[reserved]; ok {
			t.Errorf("expected %s to be excluded as reserved", reserved)
		}
	}
	// r3.yaml is never walked off disk as a payload file, but it does get an
	// entry recording the hash of its config subtree (environment/commands/
	// parameters), alongside the walked a.txt.
	if _, ok := result.Manifest.Files["r3.yaml"]; !ok {
		t.Error("expected r3.yaml to carry a config-hash entry")
	}
	if len(result.Manifest.Files) != 2 {
		t.Errorf("expected a.txt and r3.yaml in files, got %+v", result.Manifest.Files)
	}
}

func TestBuildQueryFieldDoesNotAffectID(t *testing.T) {
	dir := t.TempDir()
	writeStagedFile(t, dir, "a.txt", "hello")

	mWithQuery := &manifest.Manifest{Dependencies: []manifest.Dependency{
		{Job: "abc123", Destination: "deps/abc", Query: "some query"},
	}}
	mWithoutQuery := &manifest.Manifest{Dependencies: []manifest.Dependency{
		{Job: "abc123", Destination: "deps/abc"},
	}}

	r1, err := Build(context.Background(), dir, mWithQuery, stubResolver{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	r2, err := Build(context.Background(), dir, mWithoutQuery, stubResolver{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if r1.ID != r2.ID {
		t.Errorf("query field affected job id: %s != %s", r1.ID, r2.ID)
	}
}

func TestBuildIDSensitiveToDependencies(t *testing.T) {
	dir := t.TempDir()
	writeStagedFile(t, dir, "a.txt", "hello")

	mNoDeps := &manifest.Manifest{}
	mWithDep := &manifest.Manifest{Dependencies: []manifest.Dependency{
		{Job: "abc123", Destination: "deps/abc"},
	}}

	r1, err := Build(context.Background(), dir, mNoDeps, stubResolver{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	r2, err := Build(context.Background(), dir, mWithDep, stubResolver{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if r1.ID == r2.ID {
		t.Error("expected different ids for different dependency sets")
	}
}

func TestBuildIDSensitiveToParameters(t *testing.T) {
	dir := t.TempDir()
	writeStagedFile(t, dir, "a.txt", "hello")

	m1 := &manifest.Manifest{Parameters: map[string]any{"seed": 1}}
	m2 := &manifest.Manifest{Parameters: map[string]any{"seed": 2}}

	r1, err := Build(context.Background(), dir, m1, stubResolver{})
	if err != nil {
		t.Fatalf("Build m1: %v", err)
	}
	r2, err := Build(context.Background(), dir, m2, stubResolver{})
	if err != nil {
		t.Fatalf("Build m2: %v", err)
	}
	if r1.ID == r2.ID {
		t.Error("expected different parameters to produce different ids")
	}
}

func TestBuildIDSensitiveToEnvironmentAndCommands(t *testing.T) {
	dir := t.TempDir()
	writeStagedFile(t, dir, "a.txt", "hello")

	base := &manifest.Manifest{}
	withEnv := &manifest.Manifest{Environment: map[string]any{"PYTHON_VERSION": "3.11"}}
	withCommands := &manifest.Manifest{Commands: map[string]any{"run": "python main.py"}}

	rBase, err := Build(context.Background(), dir, base, stubResolver{})
	if err != nil {
		t.Fatalf("Build base: %v", err)
	}
	rEnv, err := Build(context.Background(), dir, withEnv, stubResolver{})
	if err != nil {
		t.Fatalf("Build withEnv: %v", err)
	}
	rCommands, err := Build(context.Background(), dir, withCommands, stubResolver{})
	if err != nil {
		t.Fatalf("Build withCommands: %v", err)
	}
	if rBase.ID == rEnv.ID {
		t.Error("expected environment to affect job id")
	}
	if rBase.ID == rCommands.ID {
		t.Error("expected commands to affect job id")
	}
}

func TestBuildDestinationCollisionBetweenDependencyAndFile(t *testing.T) {
	dir := t.TempDir()
	writeStagedFile(t, dir, "deps/abc", "hello")

	m := &manifest.Manifest{Dependencies: []manifest.Dependency{
		{Job: "xyz", Destination: "deps/abc"},
	}}
	if _, err := Build(context.Background(), dir, m, stubResolver{}); err == nil {
		t.Error("expected error for destination colliding with payload file")
	}
}

func TestBuildDuplicateDependencyDestinations(t *testing.T) {
	dir := t.TempDir()
	writeStagedFile(t, dir, "a.txt", "hello")

	m := &manifest.Manifest{Dependencies: []manifest.Dependency{
		{Job: "one", Destination: "deps/x"},
		{Job: "two", Destination: "deps/x"},
	}}
	if _, err := Build(context.Background(), dir, m, stubResolver{}); err == nil {
		t.Error("expected error for duplicate dependency destinations")
	}
}

func TestBuildPredeclaredFileMissingFromDisk(t *testing.T) {
	dir := t.TempDir()
	writeStagedFile(t, dir, "a.txt", "hello")

	m := &manifest.Manifest{Files: map[string]hashutil.Digest{"missing.txt": "deadbeef"}}
	if _, err := Build(context.Background(), dir, m, stubResolver{}); err == nil {
		t.Error("expected error for declared file missing from staged directory")
	}
}

func TestBuildResolvesSymlinkDependency(t *testing.T) {
	dir := t.TempDir()
	writeStagedFile(t, dir, "a.txt", "hello")
	linkPath := filepath.Join(dir, "deps", "lnk")
	if err := os.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.Symlink("/somewhere/jobs/abc123", linkPath); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	resolver := stubResolver{
		dep: manifest.Dependency{Job: "abc123"},
		ok:  true,
	}
	m := &manifest.Manifest{}
	result, err := Build(context.Background(), dir, m, resolver)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	found := false
	for _, d := range result.Manifest.Dependencies {
		if d.Job == "abc123" {
			found = true
			if d.Destination != "deps/lnk" {
				t.Errorf("expected destination to default to symlink path, got %q", d.Destination)
			}
		}
	}
	if !found {
		t.Error("expected symlink to be resolved into a job dependency")
	}
}

func TestBuildRejectsUnresolvableSymlink(t *testing.T) {
	dir := t.TempDir()
	linkPath := filepath.Join(dir, "lnk")
	if err := os.Symlink("/somewhere/not-a-dependency", linkPath); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	resolver := stubResolver{ok: false}
	m := &manifest.Manifest{}
	if _, err := Build(context.Background(), dir, m, resolver); err == nil {
		t.Error("expected error for symlink that does not resolve to a dependency")
	}
}
