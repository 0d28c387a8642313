// Package store persists interview analysis records.
//
// Two implementations are provided: [PostgresStore], backed by PostgreSQL with
// the pgvector extension for similarity search over transcript embeddings,
// and [MemStore], an in-process map used when no database is configured and
// in tests.
//
// A record moves through the statuses uploaded → processing → processed, or
// to error when the pipeline could not finish.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by mutating operations on an unknown record ID.
var ErrNotFound = errors.New("store: record not found")

// Status is the processing state of a record.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusError      Status = "error"
)

// Record is one submitted answer and its analysis.
type Record struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	SessionID     string          `json:"sessionId"`
	QuestionIndex int             `json:"questionIndex"`
	QuestionText  string          `json:"questionText"`
	Status        Status          `json:"status"`
	Transcription string          `json:"transcription"`
	VideoAnalysis json.RawMessage `json:"videoAnalysis,omitempty"`
	RawResults    json.RawMessage `json:"rawResults,omitempty"`
	Feedback      json.RawMessage `json:"feedback,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`

	// Embedding is the transcript embedding. Never serialised to clients.
	Embedding []float32 `json:"-"`
}

// Outcome is what the pipeline produced for a record.
type Outcome struct {
	Transcription string
	VideoAnalysis json.RawMessage
	RawResults    json.RawMessage
	Feedback      json.RawMessage

	// Embedding is optional; nil leaves the record out of similarity search.
	Embedding []float32
}

// Match is a record returned by a similarity search.
type Match struct {
	Record
	Similarity float64 `json:"similarity"`
}

// Store is the persistence contract used by the pipeline and the HTTP API.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts rec with status uploaded, assigning ID and timestamps.
	Create(ctx context.Context, rec *Record) error

	// SetStatus updates the status of record id.
	SetStatus(ctx context.Context, id string, status Status) error

	// Complete stores the outcome and marks the record processed.
	Complete(ctx context.Context, id string, out Outcome) error

	// Fail records msg and marks the record as error.
	Fail(ctx context.Context, id string, msg string) error

	// Get returns the record, or (nil, nil) when it does not exist.
	Get(ctx context.Context, id string) (*Record, error)

	// ListBySession returns the records of a session ordered by question
	// index, then creation time.
	ListBySession(ctx context.Context, sessionID string) ([]Record, error)

	// Similar returns up to limit other records whose transcript embeddings
	// are closest to that of record id, most similar first. Records without
	// an embedding are never returned. The result is empty when id has no
	// embedding; ErrNotFound is returned when id does not exist.
	Similar(ctx context.Context, id string, limit int) ([]Match, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close()
}
