package models

import (
	"fmt"
	"time"
)

// ChunkStatus represents the embedding state of a chunk
type ChunkStatus string

const (
	// ChunkOK means the chunk either has its vector upserted or the upsert
	// is still in flight
	ChunkOK ChunkStatus = "ok"
	// ChunkDegraded marks a chunk whose vector upsert failed persistently.
	// Searches simply miss it; the text remains readable.
	ChunkDegraded ChunkStatus = "degraded"
)

// Chunk is a unit of extracted text from a document. VectorID is empty until
// the embedding has been upserted into the vector store; the chunk id doubles
// as the idempotency hint for that upsert.
type Chunk struct {
	ID            string      `json:"chunk_id" db:"id"`
	DocumentID    string      `json:"document_id" db:"document_id"`
	SessionID     string      `json:"session_id" db:"session_id"`
	SequenceIndex int         `json:"sequence_index" db:"sequence_index"`
	Text          string      `json:"text" db:"text"`
	VectorID      string      `json:"vector_id,omitempty" db:"vector_id"`
	Status        ChunkStatus `json:"status" db:"status"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}

// Validate checks the chunk's structural invariants
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("chunk id is required")
	}
	if c.DocumentID == "" {
		return fmt.Errorf("chunk document_id is required")
	}
	if c.SessionID == "" {
		return fmt.Errorf("chunk session_id is required")
	}
	if c.SequenceIndex < 0 {
		return fmt.Errorf("chunk sequence_index must not be negative")
	}
	if c.Text == "" {
		return fmt.Errorf("chunk text is required")
	}
	return nil
}

// ValidateSequence checks that chunks for one document form a contiguous
// 0..n-1 range with no gaps or duplicates.
func ValidateSequence(chunks []*Chunk) error {
	seen := make(map[int]bool, len(chunks))
	for _, c := range chunks {
		if c.SequenceIndex < 0 || c.SequenceIndex >= len(chunks) {
			return fmt.Errorf("chunk %s has sequence_index %d outside 0..%d", c.ID, c.SequenceIndex, len(chunks)-1)
		}
		if seen[c.SequenceIndex] {
			return fmt.Errorf("duplicate sequence_index %d", c.SequenceIndex)
		}
		seen[c.SequenceIndex] = true
	}
	return nil
}
