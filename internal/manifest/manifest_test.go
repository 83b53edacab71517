package manifest

import (
	"strings"
	"testing"

	"github.com/r3/r3/internal/hashutil"
)

func TestParseJobDependency(t *testing.T) {
	raw := []byte(`
dependencies:
  - job: abc123
    destination: deps/abc
`)
	m, err := Parse(raw, "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Dependencies) != 1 {
		t.Fatalf("expected 1 dependency, got %d", len(m.Dependencies))
	}
	d := m.Dependencies[0]
	if d.Kind() != KindJob {
		t.Errorf("expected KindJob, got %v", d.Kind())
	}
	if d.Job != "abc123" || d.Destination != "deps/abc" {
		t.Errorf("unexpected dependency: %+v", d)
	}
}

func TestParseGitDependency(t *testing.T) {
	raw := []byte(`
dependencies:
  - repository: https://example.com/repo.git
    commit: deadbeef
    destination: deps/repo
`)
	m, err := Parse(raw, "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	d := m.Dependencies[0]
	if d.Kind() != KindGit {
		t.Errorf("expected KindGit, got %v", d.Kind())
	}
	if d.Repository != "https://example.com/repo.git" || d.Commit != "deadbeef" {
		t.Errorf("unexpected dependency: %+v", d)
	}
}

func TestParseRejectsBothJobAndRepository(t *testing.T) {
	raw := []byte(`
dependencies:
  - job: abc123
    repository: https://example.com/repo.git
    commit: deadbeef
    destination: deps/x
`)
	if _, err := Parse(raw, ""); err == nil {
		t.Error("expected error for dependency declaring both job and repository")
	}
}

func TestParseRejectsNeitherJobNorRepository(t *testing.T) {
	raw := []byte(`
dependencies:
  - destination: deps/x
`)
	if _, err := Parse(raw, ""); err == nil {
		t.Error("expected error for dependency declaring neither job nor repository")
	}
}

func TestParseRequiresDestination(t *testing.T) {
	raw := []byte(`
dependencies:
  - job: abc123
`)
	if _, err := Parse(raw, ""); err == nil {
		t.Error("expected error for missing destination")
	}
}

func TestParseRejectsAbsoluteDestination(t *testing.T) {
	raw := []byte(`
dependencies:
  - job: abc123
    destination: /etc/passwd
`)
	if _, err := Parse(raw, ""); err == nil {
		t.Error("expected error for absolute destination")
	}
}

func TestParseRejectsEscapingDestination(t *testing.T) {
	raw := []byte(`
dependencies:
  - job: abc123
    destination: ../../etc/passwd
`)
	if _, err := Parse(raw, ""); err == nil {
		t.Error("expected error for destination escaping job root")
	}
}

func TestParseSourceDefaultsEmpty(t *testing.T) {
	raw := []byte(`
dependencies:
  - job: abc123
    destination: deps/abc
`)
	m, err := Parse(raw, "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Dependencies[0].Source != "" {
		t.Errorf("expected empty source default, got %q", m.Dependencies[0].Source)
	}
}

func TestParseJobWithQueryNoJobID(t *testing.T) {
	raw := []byte(`
dependencies:
  - query: "analysis"
    destination: deps/x
`)
	m, err := Parse(raw, "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Dependencies[0].Job != "" || m.Dependencies[0].Query != "analysis" {
		t.Errorf("unexpected dependency: %+v", m.Dependencies[0])
	}
}

func TestParseGitRequiresCommit(t *testing.T) {
	raw := []byte(`
dependencies:
  - repository: https://example.com/repo.git
    destination: deps/x
`)
	if _, err := Parse(raw, ""); err == nil {
		t.Error("expected error for git dependency missing commit")
	}
}

func TestParseIgnoreList(t *testing.T) {
	raw := []byte(`
ignore:
  - "*.log"
  - "build/"
`)
	m, err := Parse(raw, "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Ignore) != 2 || m.Ignore[0] != "*.log" || m.Ignore[1] != "build/" {
		t.Errorf("unexpected ignore list: %+v", m.Ignore)
	}
}

func TestParseIgnoreRejectsNonList(t *testing.T) {
	raw := []byte(`
ignore: "*.log"
`)
	if _, err := Parse(raw, ""); err == nil {
		t.Error("expected error for non-list ignore")
	}
}

func TestParseFiles(t *testing.T) {
	raw := []byte(`
files:
  a.txt: deadbeef
  b/c.txt: cafebabe
`)
	m, err := Parse(raw, "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Files["a.txt"] != hashutil.Digest("deadbeef") {
		t.Errorf("unexpected digest for a.txt: %v", m.Files["a.txt"])
	}
}

func TestParseEmptyDocument(t *testing.T) {
	m, err := Parse([]byte(""), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Dependencies) != 0 || len(m.Ignore) != 0 {
		t.Errorf("expected zero-value manifest, got %+v", m)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("foo: [unterminated"), ""); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestDependencyEntryHashStripsQuery(t *testing.T) {
	withQuery := Dependency{Job: "abc123", Destination: "deps/abc", Query: "analysis"}
	withoutQuery := Dependency{Job: "abc123", Destination: "deps/abc"}

	h1, err := withQuery.EntryHash()
	if err != nil {
		t.Fatalf("EntryHash: %v", err)
	}
	h2, err := withoutQuery.EntryHash()
	if err != nil {
		t.Fatalf("EntryHash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("Query field leaked into entry hash: %s != %s", h1, h2)
	}
}

func TestDependencyEntryHashDeterministic(t *testing.T) {
	d := Dependency{Repository: "https://example.com/repo.git", Commit: "deadbeef", Destination: "deps/repo"}
	h1, err := d.EntryHash()
	if err != nil {
		t.Fatalf("EntryHash: %v", err)
	}
	h2, err := d.EntryHash()
	if err != nil {
		t.Fatalf("EntryHash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("EntryHash not deterministic: %s != %s", h1, h2)
	}
}

func TestManifestMarshalRoundTrip(t *testing.T) {
	m := &Manifest{
		Dependencies: []Dependency{
			{Job: "abc123", Destination: "deps/abc"},
		},
		Ignore: []string{"*.log"},
		Files:  map[string]hashutil.Digest{"a.txt": "deadbeef"},
	}
	out, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	reparsed, err := Parse(out, "")
	if err != nil {
		t.Fatalf("re-parsing marshaled manifest: %v", err)
	}
	if len(reparsed.Dependencies) != 1 || reparsed.Dependencies[0].Job != "abc123" {
		t.Errorf("round trip lost dependency: %+v", reparsed.Dependencies)
	}
	if reparsed.Files["a.txt"] != "deadbeef" {
		t.Errorf("round trip lost file digest: %+v", reparsed.Files)
	}
	if !strings.Contains(string(out), "destination: deps/abc") {
		t.Errorf("marshaled output missing destination: %s", out)
	}
}

func TestConfigHashDeterministic(t *testing.T) {
	m := &Manifest{
		Environment: map[string]any{"PYTHON_VERSION": "3.11"},
		Parameters:  map[string]any{"seed": 1},
	}
	h1, err := m.ConfigHash()
	if err != nil {
		t.Fatalf("ConfigHash: %v", err)
	}
	h2, err := m.ConfigHash()
	if err != nil {
		t.Fatalf("ConfigHash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("ConfigHash not deterministic: %s != %s", h1, h2)
	}
}

func TestConfigHashSensitiveToParameters(t *testing.T) {
	m1 := &Manifest{Parameters: map[string]any{"seed": 1}}
	m2 := &Manifest{Parameters: map[string]any{"seed": 2}}

	h1, err := m1.ConfigHash()
	if err != nil {
		t.Fatalf("ConfigHash m1: %v", err)
	}
	h2, err := m2.ConfigHash()
	if err != nil {
		t.Fatalf("ConfigHash m2: %v", err)
	}
	if h1 == h2 {
		t.Error("expected different parameters to produce different config hashes")
	}
}

func TestConfigHashIgnoresDependenciesAndIgnore(t *testing.T) {
	m1 := &Manifest{Dependencies: []Dependency{{Job: "abc", Destination: "deps/abc"}}}
	m2 := &Manifest{Ignore: []string{"*.log"}}

	h1, err := m1.ConfigHash()
	if err != nil {
		t.Fatalf("ConfigHash m1: %v", err)
	}
	h2, err := m2.ConfigHash()
	if err != nil {
		t.Fatalf("ConfigHash m2: %v", err)
	}
	if h1 != h2 {
		t.Errorf("expected config hash to depend only on environment/commands/parameters, got %s != %s", h1, h2)
	}
}

func TestSortedFilePaths(t *testing.T) {
	m := &Manifest{Files: map[string]hashutil.Digest{
		"z.txt": "1",
		"a.txt": "2",
		"m.txt": "3",
	}}
	got := m.SortedFilePaths()
	want := []string{"a.txt", "m.txt", "z.txt"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}
