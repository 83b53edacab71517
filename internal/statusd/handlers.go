package statusd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/yuin/goldmark"

	"github.com/r3/r3/internal/manifest"
)

type jobSummary struct {
	ID           string `json:"id"`
	Dependencies int    `json:"dependencies"`
	Files        int    `json:"files"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(filepath.Join(s.root, "jobs"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	summaries := make([]jobSummary, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := manifest.Load(filepath.Join(s.root, "jobs", e.Name(), "r3.yaml"))
		if err != nil {
			continue
		}
		summaries = append(summaries, jobSummary{
			ID:           e.Name(),
			Dependencies: len(m.Dependencies),
			Files:        len(m.Files),
		})
	}

	writeJSON(w, summaries)
}

type jobDetail struct {
	ID           string               `json:"id"`
	Manifest     *manifest.Manifest   `json:"-"`
	Dependencies []manifest.Dependency `json:"dependencies"`
	Files        []string             `json:"files"`
	NotesHTML    string               `json:"notesHTML,omitempty"`
}

// handleJobDetail renders a job's manifest plus its metadata.yaml "notes"
// field (if present) as sanitized Markdown, giving the dashboard a home for
// free-text annotations a user adds to the job's metadata.yaml after the fact.
func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	jobPath := filepath.Join(s.root, "jobs", id)

	m, err := manifest.Load(filepath.Join(jobPath, "r3.yaml"))
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	detail := jobDetail{
		ID:           id,
		Manifest:     m,
		Dependencies: m.Dependencies,
		Files:        m.SortedFilePaths(),
	}

	if notes, ok := readNotes(jobPath); ok {
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(notes), &buf); err == nil {
			detail.NotesHTML = buf.String()
		}
	}

	writeJSON(w, detail)
}

// readNotes extracts a free-text "notes" string out of metadata.yaml, if
// the user has written one. metadata.yaml has no fixed schema in the core
// (§3: it is unhashed and mutable); the dashboard only looks for this one
// conventional key.
func readNotes(jobPath string) (string, bool) {
	raw, err := os.ReadFile(filepath.Join(jobPath, "metadata.yaml"))
	if err != nil || len(raw) == 0 {
		return "", false
	}
	var doc map[string]any
	if err := parseYAMLLoose(raw, &doc); err != nil {
		return "", false
	}
	notes, ok := doc["notes"].(string)
	return notes, ok
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type healthStatus struct {
	Status string `json:"status"`
	Root   string `json:"root"`
	Jobs   int    `json:"jobs"`
}

// handleHealth reports liveness for monitoring/load balancers; unlike
// /api/jobs it never touches manifests, so it stays cheap under a
// mis-pointed health check hammering it every second.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(filepath.Join(s.root, "jobs"))
	count := 0
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				count++
			}
		}
	}
	writeJSON(w, healthStatus{Status: "ok", Root: s.root, Jobs: count})
}
