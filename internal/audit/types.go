// Package audit provides a persistent trail of prediction outcomes so
// every served score (and every rejection) can be traced to the model
// version and request that produced it.
package audit

import (
	"context"
	"io"
	"time"
)

// Outcome classifies how a request concluded.
type Outcome string

const (
	OutcomeServed   Outcome = "served"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// Entry is one audited request.
type Entry struct {
	ID           int64     `json:"id,omitempty"`
	RequestID    string    `json:"request_id"`
	PatientID    string    `json:"patient_id"`
	Outcome      Outcome   `json:"outcome"`
	Score        float64   `json:"score,omitempty"`
	ModelVersion string    `json:"model_version,omitempty"`
	Detail       string    `json:"detail,omitempty"` // violation summary on rejection
	CreatedAt    time.Time `json:"created_at"`
}

// Store defines the audit trail storage operations.
type Store interface {
	// Save appends one audit entry.
	Save(ctx context.Context, entry *Entry) error

	// List returns entries newest-first with pagination.
	List(ctx context.Context, limit, offset int) ([]*Entry, error)

	// Count returns the total number of entries.
	Count(ctx context.Context) (int64, error)

	// ExportJSON writes all entries as a JSON document.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// Close releases store resources.
	Close() error
}

// Export is the JSON export envelope.
type Export struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Entries    []*Entry  `json:"entries"`
}
