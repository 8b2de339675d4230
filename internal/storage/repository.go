// Package storage defines the transcription repository contract.
package storage

import (
	"context"
	"io"

	"voicetotext-service/internal/models"
)

// Repository stores transcription records and their audio blobs. A record
// and its blob are created and deleted together.
type Repository interface {
	// Create assigns an id and creation time to rec, then stores it together
	// with the audio read from r. The stored record is returned.
	Create(ctx context.Context, rec models.Record, audio io.Reader) (models.Record, error)

	// List returns every record, newest first.
	List(ctx context.Context) ([]models.Record, error)

	// Get returns one record or an error wrapping apperr.ErrNotFound.
	Get(ctx context.Context, id string) (models.Record, error)

	// Update applies the editable fields of u to the record.
	Update(ctx context.Context, id string, u models.RecordUpdate) (models.Record, error)

	// Audio returns the record's blob.
	Audio(ctx context.Context, id string) (*Audio, error)

	// Delete removes a record and its blob.
	Delete(ctx context.Context, id string) error

	Close() error
}

// Audio is a stored blob ready to be served.
type Audio struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.ReadSeeker
}
