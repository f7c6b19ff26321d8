// Package store persists captures and contacts as JSON documents. Writes
// are document-level last-writer-wins; there is no cross-document
// transaction across the pipeline.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-pipeline/internal/model"
)

// ErrNotFound is returned when a capture or contact does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the capture pipeline.
type Store interface {
	// Captures
	CreateCapture(ctx context.Context, capture *model.Capture) error
	GetCapture(ctx context.Context, id string) (*model.Capture, error)
	PutCapture(ctx context.Context, capture *model.Capture) error
	ListCaptures(ctx context.Context, ownerID string, status model.CaptureStatus, limit int) ([]model.Capture, error)

	// Contacts
	CreateContact(ctx context.Context, contact *model.Contact) error
	GetContact(ctx context.Context, id string) (*model.Contact, error)
	PutContact(ctx context.Context, contact *model.Contact) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
