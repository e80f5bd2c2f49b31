// Package mapping persists the token → original-value reversal document
// produced by a reversible anonymization run. The destination is sensitive;
// access control is the caller's responsibility, no encryption is applied
// here.
package mapping

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Entry is one reversal record: the emitted token (empty for plain
// redactions), the exact original value, the dotted field path within the
// record, and the record's position in the dataset.
type Entry struct {
	Token       string `json:"token"`
	Original    any    `json:"original_value"`
	Field       string `json:"field"`
	RecordIndex int    `json:"record_index"`
}

// Document is the flushed form of one run's mapping: entries grouped by
// record index, tagged with a run id.
type Document struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Entries   []Entry   `json:"entries"`
}

// Store buffers entries during a dataset pass and persists them once at the
// end. Flush clears the buffer. Implementations are not safe for concurrent
// use; one store belongs to one anonymizer instance.
type Store interface {
	Record(e Entry)
	Flush() (*Document, error)
}

// Memory buffers entries and flushes to an in-process document only. Used in
// tests and by callers that persist the document themselves.
type Memory struct {
	buf []Entry
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(e Entry) {
	m.buf = append(m.buf, e)
}

func (m *Memory) Flush() (*Document, error) {
	doc := newDocument(m.buf)
	m.buf = nil
	return doc, nil
}

// File buffers entries and flushes them as an indented JSON document.
type File struct {
	path string
	buf  []Entry
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Record(e Entry) {
	f.buf = append(f.buf, e)
}

// Flush writes the document to the configured path, creating parent
// directories as needed. On write failure the buffer is cleared anyway; the
// caller must treat the run's reversibility as lost.
func (f *File) Flush() (*Document, error) {
	doc := newDocument(f.buf)
	f.buf = nil

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return doc, fmt.Errorf("mapping: create %s: %w", dir, err)
		}
	}
	out, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return doc, fmt.Errorf("mapping: open %s: %w", f.path, err)
	}
	defer out.Close()
	if err := writeDocument(out, doc); err != nil {
		return doc, fmt.Errorf("mapping: write %s: %w", f.path, err)
	}
	return doc, nil
}

func writeDocument(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Load reads a previously flushed document.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mapping: read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("mapping: parse %s: %w", path, err)
	}
	return &doc, nil
}

func newDocument(entries []Entry) *Document {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].RecordIndex != sorted[j].RecordIndex {
			return sorted[i].RecordIndex < sorted[j].RecordIndex
		}
		return sorted[i].Field < sorted[j].Field
	})
	return &Document{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Entries:   sorted,
	}
}
