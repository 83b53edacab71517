package manifest

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/r3/r3/internal/hashutil"
	"github.com/r3/r3/internal/rerr"
)

// Load reads and validates the manifest at path (typically <job>/r3.yaml).
// It does not resolve git refs or expand queries — see internal/depresolver
// for the pre-commit resolution pass that must run afterward.
func Load(manifestPath string) (*Manifest, error) {
	//nolint:gosec // G304: manifestPath is caller-controlled, always a job root's r3.yaml.
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(raw, manifestPath)
}

// Parse validates raw YAML bytes into a Manifest. srcPath is used only for
// error messages and may be empty.
func Parse(raw []byte, srcPath string) (*Manifest, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &rerr.ConfigError{Path: srcPath, Reason: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if doc == nil {
		doc = map[string]any{}
	}

	m := &Manifest{}

	if v, ok := doc["dependencies"]; ok {
		deps, err := parseDependencies(v)
		if err != nil {
			return nil, &rerr.ConfigError{Path: srcPath, Reason: err.Error()}
		}
		m.Dependencies = deps
	}

	if v, ok := doc["ignore"]; ok {
		patterns, err := parseIgnore(v)
		if err != nil {
			return nil, &rerr.ConfigError{Path: srcPath, Reason: err.Error()}
		}
		m.Ignore = patterns
	}

	if v, ok := doc["environment"]; ok {
		mm, ok := asStringMap(v)
		if !ok {
			return nil, &rerr.ConfigError{Path: srcPath, Reason: "environment must be a mapping"}
		}
		m.Environment = mm
	}
	if v, ok := doc["commands"]; ok {
		mm, ok := asStringMap(v)
		if !ok {
			return nil, &rerr.ConfigError{Path: srcPath, Reason: "commands must be a mapping"}
		}
		m.Commands = mm
	}
	if v, ok := doc["parameters"]; ok {
		mm, ok := asStringMap(v)
		if !ok {
			return nil, &rerr.ConfigError{Path: srcPath, Reason: "parameters must be a mapping"}
		}
		m.Parameters = mm
	}

	if v, ok := doc["files"]; ok {
		files, err := parseFiles(v)
		if err != nil {
			return nil, &rerr.ConfigError{Path: srcPath, Reason: err.Error()}
		}
		m.Files = files
	}

	return m, nil
}

func parseFiles(v any) (map[string]hashutil.Digest, error) {
	mm, ok := asStringMap(v)
	if !ok {
		return nil, fmt.Errorf("files must be a mapping")
	}
	out := make(map[string]hashutil.Digest, len(mm))
	for k, raw := range mm {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("files[%s] must be a string digest", k)
		}
		out[k] = hashutil.Digest(s)
	}
	return out, nil
}

func parseIgnore(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("ignore must be a list")
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, fmt.Errorf("ignore entries must be strings")
		}
		out = append(out, s)
	}
	return out, nil
}

func parseDependencies(v any) ([]Dependency, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("dependencies must be a list")
	}
	out := make([]Dependency, 0, len(items))
	for i, it := range items {
		mm, ok := asStringMap(it)
		if !ok {
			return nil, fmt.Errorf("dependencies[%d] must be a mapping", i)
		}
		d, err := parseDependency(mm)
		if err != nil {
			return nil, fmt.Errorf("dependencies[%d]: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func parseDependency(mm map[string]any) (Dependency, error) {
	_, hasJob := mm["job"]
	_, hasRepo := mm["repository"]
	_, hasQuery := mm["query"]

	if hasJob && hasRepo {
		return Dependency{}, fmt.Errorf("dependency cannot declare both job and repository")
	}
	if !hasJob && !hasRepo && !hasQuery {
		return Dependency{}, fmt.Errorf("dependency must declare job, query or repository")
	}

	d := Dependency{}

	dest, ok := mm["destination"].(string)
	if !ok || dest == "" {
		return Dependency{}, fmt.Errorf("destination is required")
	}
	if err := validateRelPath(dest); err != nil {
		return Dependency{}, fmt.Errorf("destination: %w", err)
	}
	d.Destination = dest

	if src, ok := mm["source"]; ok {
		s, ok := src.(string)
		if !ok {
			return Dependency{}, fmt.Errorf("source must be a string")
		}
		if s != "" {
			if err := validateRelPath(s); err != nil {
				return Dependency{}, fmt.Errorf("source: %w", err)
			}
		}
		d.Source = s
	}

	if q, ok := mm["query"]; ok {
		s, ok := q.(string)
		if !ok {
			return Dependency{}, fmt.Errorf("query must be a string")
		}
		d.Query = s
	}

	if hasJob || !hasRepo {
		job, ok := mm["job"].(string)
		if (hasJob && !ok) || (job == "" && d.Query == "") {
			return Dependency{}, fmt.Errorf("job must be a non-empty string, or omitted with a query")
		}
		d.Job = job
		return d, nil
	}

	repo, ok := mm["repository"].(string)
	if !ok || repo == "" {
		return Dependency{}, fmt.Errorf("repository must be a non-empty string")
	}
	commit, ok := mm["commit"].(string)
	if !ok || commit == "" {
		return Dependency{}, fmt.Errorf("commit is required for a git dependency")
	}
	d.Repository = repo
	d.Commit = commit
	return d, nil
}

// validateRelPath rejects absolute paths and paths that escape the job root
// via "..", per the dependency path conventions in §6.
func validateRelPath(p string) error {
	if p == "" {
		return nil
	}
	if path.IsAbs(p) || strings.HasPrefix(p, "/") {
		return fmt.Errorf("must be relative, got %q", p)
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("must not escape the job root, got %q", p)
	}
	return nil
}

// asStringMap coerces a YAML-decoded value into map[string]any, the shape
// yaml.v3 already produces for string-keyed mappings against a map[string]any
// target. It exists mainly to centralize the type assertion failure path.
func asStringMap(v any) (map[string]any, bool) {
	mm, ok := v.(map[string]any)
	return mm, ok
}
