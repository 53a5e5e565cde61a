package models

import (
	"fmt"
	"time"
)

// DocumentStatus represents the processing state of a document
type DocumentStatus string

const (
	// DocumentPending is set when the row is created, before the blob write starts.
	// The pending row is the durability anchor for compensation.
	DocumentPending DocumentStatus = "pending"
	// DocumentStored means the blob write and the metadata commit both succeeded
	DocumentStored DocumentStatus = "stored"
	// DocumentFailed marks an irrecoverable ingest error; any blob written for it
	// is removed by compensation or by the reconciliation sweep
	DocumentFailed DocumentStatus = "failed"
)

// Document is a stored file and its metadata. The raw bytes live in the blob
// store under StorageKey; the row here is authoritative for existence.
type Document struct {
	ID          string         `json:"document_id" db:"id"`
	SessionID   string         `json:"session_id" db:"session_id"`
	ContentHash string         `json:"content_hash" db:"content_hash"`
	StorageKey  string         `json:"storage_key,omitempty" db:"storage_key"`
	Size        int64          `json:"file_size" db:"size"`
	MimeType    string         `json:"content_type" db:"mime_type"`
	Filename    string         `json:"filename" db:"filename"`
	Metadata    map[string]any `json:"metadata,omitempty" db:"metadata"`
	Status      DocumentStatus `json:"status" db:"status"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// Valid reports whether the status is a known value
func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentPending, DocumentStored, DocumentFailed:
		return true
	}
	return false
}

// Validate checks the document's structural invariants
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("document id is required")
	}
	if d.SessionID == "" {
		return fmt.Errorf("document session_id is required")
	}
	if d.ContentHash == "" {
		return fmt.Errorf("document content_hash is required")
	}
	if !d.Status.Valid() {
		return fmt.Errorf("invalid document status %q", d.Status)
	}
	if d.Status == DocumentStored && d.StorageKey == "" {
		return fmt.Errorf("stored document must have a storage_key")
	}
	return nil
}
