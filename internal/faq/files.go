package faq

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	sourceFile   = "faq.json"
	artifactFile = "faq_embeddings.json"
)

// Entry is one curated answer and the question variants that lead to it.
// The first question is the anchor used for matching.
type Entry struct {
	Questions []string `json:"questions"`
	Answer    string   `json:"answer"`
}

// Anchor returns the canonical question.
func (e Entry) Anchor() string {
	if len(e.Questions) == 0 {
		return ""
	}
	return e.Questions[0]
}

// Files stores per-tenant FAQ sources and embedding artifacts under Dir:
//
//	<Dir>/<tenant>/faq.json
//	<Dir>/<tenant>/faq_embeddings.json
//
// Callers validate tenant ids before building paths.
type Files struct {
	Dir string
}

// NewFiles returns a Files rooted at dir.
func NewFiles(dir string) *Files {
	return &Files{Dir: dir}
}

// TenantDir returns the directory holding a tenant's files.
func (f *Files) TenantDir(tenantID string) string {
	return filepath.Join(f.Dir, tenantID)
}

// SourcePath returns the path of a tenant's faq.json.
func (f *Files) SourcePath(tenantID string) string {
	return filepath.Join(f.Dir, tenantID, sourceFile)
}

// ArtifactPath returns the path of a tenant's persisted anchor embeddings.
func (f *Files) ArtifactPath(tenantID string) string {
	return filepath.Join(f.Dir, tenantID, artifactFile)
}

// StatSource returns the modification time of the tenant's source.
func (f *Files) StatSource(tenantID string) (time.Time, error) {
	info, err := os.Stat(f.SourcePath(tenantID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, ErrNoSource
		}
		return time.Time{}, fmt.Errorf("stat faq source: %w", err)
	}
	return info.ModTime(), nil
}

// ReadSource loads and validates the tenant's entries.
func (f *Files) ReadSource(tenantID string) ([]Entry, time.Time, error) {
	path := f.SourcePath(tenantID)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, time.Time{}, ErrNoSource
		}
		return nil, time.Time{}, fmt.Errorf("stat faq source: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading faq source: %w", err)
	}

	entries, err := parseEntries(data)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %s: %w", ErrInvalidSource, path, err)
	}
	return entries, info.ModTime(), nil
}

// WriteSource replaces the tenant's faq.json atomically.
func (f *Files) WriteSource(tenantID string, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("marshaling faq entries: %w", err)
	}
	return writeAtomic(f.SourcePath(tenantID), data)
}

// artifact is the persisted anchor embedding set. Anchors record the text
// each embedding was computed from.
type artifact struct {
	Anchors    []string    `json:"anchors"`
	Embeddings [][]float32 `json:"embeddings"`
}

// readArtifact returns the artifact and its modification time.
func (f *Files) readArtifact(tenantID string) (*artifact, time.Time, error) {
	path := f.ArtifactPath(tenantID)
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, time.Time{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &a, info.ModTime(), nil
}

func (f *Files) writeArtifact(tenantID string, a *artifact) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling embeddings: %w", err)
	}
	return writeAtomic(f.ArtifactPath(tenantID), data)
}

// writeAtomic writes data to a temp file in the target directory and renames
// it into place so readers never see a partial file.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming %s: %w", tmpPath, err)
	}
	return nil
}

// parseEntries accepts a bare list, {"faqs": [...]}, or an object whose
// first value is the list. Entries without a question or answer are dropped.
func parseEntries(data []byte) ([]Entry, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.New("empty document")
	}

	var raw []Entry
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return nil, err
		}
	case '{':
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &wrapped); err != nil {
			return nil, err
		}
		list, ok := wrapped["faqs"]
		if !ok {
			first, err := firstValue([]byte(trimmed))
			if err != nil {
				return nil, err
			}
			list = first
		}
		if len(list) > 0 {
			if err := json.Unmarshal(list, &raw); err != nil {
				return nil, err
			}
		}
	default:
		return nil, errors.New("expected a JSON list or object")
	}

	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		questions := make([]string, 0, len(e.Questions))
		for _, q := range e.Questions {
			if q = strings.TrimSpace(q); q != "" {
				questions = append(questions, q)
			}
		}
		answer := strings.TrimSpace(e.Answer)
		if len(questions) == 0 || answer == "" {
			continue
		}
		entries = append(entries, Entry{Questions: questions, Answer: answer})
	}
	return entries, nil
}

// firstValue returns the first value of a JSON object in document order.
// Map decoding loses key order, so the object is walked with a Decoder.
func firstValue(data []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if !dec.More() {
		return nil, nil
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var v json.RawMessage
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
