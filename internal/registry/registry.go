// Package registry persists the mapping from build folder identities to the
// version and variant that produced them.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BuildRecord describes one build directory. Records are created when a new
// build is initiated or when an untracked directory is adopted, and never
// mutated afterward.
type BuildRecord struct {
	FolderIdentity string    `json:"folder_identity"`
	VersionTag     string    `json:"version_tag"`
	VariantName    string    `json:"variant_name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Registry is a flat JSON document mapping folder identity to BuildRecord.
// A registry entry may point at a directory that was deleted out-of-band;
// consumers must tolerate that.
type Registry struct {
	path    string
	records map[string]BuildRecord
}

// New creates a registry backed by the document at path. No I/O happens
// until Load or Save is called.
func New(path string) *Registry {
	return &Registry{path: path, records: make(map[string]BuildRecord)}
}

// NormalizeIdentity lowercases a folder identity so case-insensitive
// filesystems cannot alias two records onto one directory.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Load reads the persisted document. A missing, empty or malformed document
// yields an empty registry; absence is a normal initial state.
func (r *Registry) Load() map[string]BuildRecord {
	r.records = make(map[string]BuildRecord)

	data, err := os.ReadFile(r.path)
	if err != nil || len(data) == 0 {
		return r.records
	}

	var records map[string]BuildRecord
	if err := json.Unmarshal(data, &records); err != nil {
		// Malformed document: start over rather than fail the run.
		return r.records
	}
	if records != nil {
		r.records = records
	}
	return r.records
}

// Save serializes and atomically replaces the persisted document.
// Last writer wins; the tool is single-operator, single-instance.
func (r *Registry) Save() error {
	data, err := json.MarshalIndent(r.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create registry directory: %w", err)
		}
	}

	tempPath := r.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary registry file: %w", err)
	}
	if err := os.Rename(tempPath, r.path); err != nil {
		return fmt.Errorf("failed to replace registry file: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the record for identity. Callers are
// responsible for calling Save afterward.
func (r *Registry) Upsert(identity string, record BuildRecord) {
	key := NormalizeIdentity(identity)
	record.FolderIdentity = key
	r.records[key] = record
}

// Get returns the record for identity, if tracked.
func (r *Registry) Get(identity string) (BuildRecord, bool) {
	rec, ok := r.records[NormalizeIdentity(identity)]
	return rec, ok
}

// All returns the current in-memory mapping.
func (r *Registry) All() map[string]BuildRecord {
	return r.records
}
