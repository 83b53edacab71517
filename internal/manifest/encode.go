package manifest

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/r3/r3/internal/canon"
	"github.com/r3/r3/internal/hashutil"
)

// CanonBytes renders d's canonical record — with Query stripped and keys in
// canonical order — as the bytes that get hashed into the job's entry list
// (§4.3 step 4).
func (d Dependency) CanonBytes() ([]byte, error) {
	b, err := canon.Marshal(d.canonTree())
	if err != nil {
		return nil, fmt.Errorf("encoding dependency %s: %w", d.Destination, err)
	}
	return b, nil
}

// EntryHash is the hex digest entered into the job's entry list for this
// dependency: H(serialize(d')) from §4.3 step 4.
func (d Dependency) EntryHash() (hashutil.Digest, error) {
	b, err := d.CanonBytes()
	if err != nil {
		return "", err
	}
	return hashutil.HashBytes(b), nil
}

// ConfigCanonBytes renders the manifest-key fields that §3 marks "Hashed?
// yes" but that never appear in the payload walk or the dependency list —
// environment, commands, parameters — as a canonical value tree, so they
// can be entered into the job's entry list under the reserved "r3.yaml"
// path alongside the payload files and dependency records.
func (m *Manifest) ConfigCanonBytes() ([]byte, error) {
	b, err := canon.Marshal(map[string]any{
		"environment": m.Environment,
		"commands":    m.Commands,
		"parameters":  m.Parameters,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding manifest config: %w", err)
	}
	return b, nil
}

// ConfigHash is the hex digest entered into the job's entry list under the
// "r3.yaml" path: H(serialize(environment, commands, parameters)). This is
// what makes a change to any of the three affect the job id, even though
// none of them is a payload file or a dependency record.
func (m *Manifest) ConfigHash() (hashutil.Digest, error) {
	b, err := m.ConfigCanonBytes()
	if err != nil {
		return "", err
	}
	return hashutil.HashBytes(b), nil
}

type dependencyYAML struct {
	Job         string `yaml:"job,omitempty"`
	Repository  string `yaml:"repository,omitempty"`
	Commit      string `yaml:"commit,omitempty"`
	Source      string `yaml:"source,omitempty"`
	Destination string `yaml:"destination"`
	Query       string `yaml:"query,omitempty"`
}

type manifestYAML struct {
	Dependencies []dependencyYAML  `yaml:"dependencies,omitempty"`
	Ignore       []string          `yaml:"ignore,omitempty"`
	Environment  map[string]any    `yaml:"environment,omitempty"`
	Commands     map[string]any    `yaml:"commands,omitempty"`
	Parameters   map[string]any    `yaml:"parameters,omitempty"`
	Files        map[string]string `yaml:"files,omitempty"`
}

// Marshal renders m back to r3.yaml form, used when the store writes the
// frozen committed manifest (with Files populated and dependencies
// normalized) into jobs/<id>/r3.yaml.
func (m *Manifest) Marshal() ([]byte, error) {
	out := manifestYAML{
		Ignore:      m.Ignore,
		Environment: m.Environment,
		Commands:    m.Commands,
		Parameters:  m.Parameters,
	}
	for _, d := range m.Dependencies {
		out.Dependencies = append(out.Dependencies, dependencyYAML{
			Job:         d.Job,
			Repository:  d.Repository,
			Commit:      d.Commit,
			Source:      d.Source,
			Destination: d.Destination,
			Query:       d.Query,
		})
	}
	if m.Files != nil {
		out.Files = make(map[string]string, len(m.Files))
		for p, digest := range m.Files {
			out.Files[p] = string(digest)
		}
	}

	b, err := yaml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest: %w", err)
	}
	return b, nil
}

// SortedFilePaths returns the paths of m.Files in lexicographic order.
func (m *Manifest) SortedFilePaths() []string {
	paths := make([]string, 0, len(m.Files))
	for p := range m.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
