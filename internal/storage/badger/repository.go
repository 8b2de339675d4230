// Package badger implements storage.Repository on an embedded Badger database.
// Records are stored as JSON under "rec/{id}" and audio as zstd frames under
// "blob/{id}_{fileName}"; both keys are always written and removed in the
// same transaction.
package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voicetotext-service/internal/apperr"
	"voicetotext-service/internal/models"
	"voicetotext-service/internal/observability/metrics"
	"voicetotext-service/internal/storage"
)

const (
	recordPrefix = "rec/"
	blobPrefix   = "blob/"
)

// Config holds repository settings.
type Config struct {
	Dir      string
	InMemory bool
}

// Repository is a Badger-backed storage.Repository.
type Repository struct {
	db       *badgerdb.DB
	inMemory bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	now   func() time.Time
	newID func() string
}

var _ storage.Repository = (*Repository)(nil)

// Open opens (or creates) the database described by cfg.
func Open(cfg Config, m *metrics.Metrics) (*Repository, error) {
	logger := log.With().Str("component", "repository").Logger()

	opts := badgerdb.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(badgerLogger{logger: logger})

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", cfg.Dir, err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	if m == nil {
		m = metrics.DefaultMetrics
	}

	logger.Info().
		Str("dir", cfg.Dir).
		Bool("inMemory", cfg.InMemory).
		Msg("Transcription repository opened")

	return &Repository{
		db:       db,
		inMemory: cfg.InMemory,
		enc:      enc,
		dec:      dec,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}, nil
}

func recordKey(id string) []byte { return []byte(recordPrefix + id) }

func blobKey(rec models.Record) []byte { return []byte(blobPrefix + rec.BlobName()) }

// Create stores rec and its audio atomically.
func (r *Repository) Create(ctx context.Context, rec models.Record, audio io.Reader) (out models.Record, err error) {
	defer func() { r.metrics.RecordRepositoryOp("create", err) }()

	if err := ctx.Err(); err != nil {
		return models.Record{}, err
	}

	data, err := io.ReadAll(audio)
	if err != nil {
		return models.Record{}, fmt.Errorf("%w: read audio: %v", apperr.ErrUpstream, err)
	}
	if len(data) == 0 {
		return models.Record{}, fmt.Errorf("%w: audio file is empty", apperr.ErrInvalidInput)
	}

	rec.ID = r.newID()
	rec.CreatedAt = r.now().UTC()
	rec.AudioSize = int64(len(data))
	if rec.Segments == nil {
		rec.Segments = []models.Segment{}
	}
	if rec.EditedSegments == nil {
		rec.EditedSegments = []models.Segment{}
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return models.Record{}, fmt.Errorf("%w: encode record: %v", apperr.ErrUpstream, err)
	}
	blob := r.enc.EncodeAll(data, make([]byte, 0, len(data)/2))

	err = r.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(recordKey(rec.ID), value); err != nil {
			return err
		}
		return txn.Set(blobKey(rec), blob)
	})
	if err != nil {
		return models.Record{}, fmt.Errorf("%w: store record %s: %v", apperr.ErrUpstream, rec.ID, err)
	}

	r.logger.Info().
		Str("recordId", rec.ID).
		Str("fileName", rec.FileName).
		Int64("audioBytes", rec.AudioSize).
		Int("storedBytes", len(blob)).
		Msg("Record stored")
	return rec, nil
}

// List returns all records, newest first.
func (r *Repository) List(ctx context.Context) (records []models.Record, err error) {
	defer func() { r.metrics.RecordRepositoryOp("list", err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records = []models.Record{}
	err = r.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec models.Record
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list records: %v", apperr.ErrUpstream, err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// Get returns one record.
func (r *Repository) Get(ctx context.Context, id string) (rec models.Record, err error) {
	defer func() { r.metrics.RecordRepositoryOp("get", err) }()

	if err := ctx.Err(); err != nil {
		return models.Record{}, err
	}
	err = r.db.View(func(txn *badgerdb.Txn) error {
		rec, err = getRecord(txn, id)
		return err
	})
	return rec, err
}

// Update applies u to the stored record.
func (r *Repository) Update(ctx context.Context, id string, u models.RecordUpdate) (rec models.Record, err error) {
	defer func() { r.metrics.RecordRepositoryOp("update", err) }()

	if err := ctx.Err(); err != nil {
		return models.Record{}, err
	}
	err = r.db.Update(func(txn *badgerdb.Txn) error {
		rec, err = getRecord(txn, id)
		if err != nil {
			return err
		}
		u.Apply(&rec, r.now())
		value, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("%w: encode record: %v", apperr.ErrUpstream, err)
		}
		if err := txn.Set(recordKey(id), value); err != nil {
			return fmt.Errorf("%w: store record %s: %v", apperr.ErrUpstream, id, err)
		}
		return nil
	})
	return rec, err
}

// Audio returns the decoded blob of a record.
func (r *Repository) Audio(ctx context.Context, id string) (a *storage.Audio, err error) {
	defer func() { r.metrics.RecordRepositoryOp("audio", err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		rec  models.Record
		blob []byte
	)
	err = r.db.View(func(txn *badgerdb.Txn) error {
		rec, err = getRecord(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(blobKey(rec))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("audio file for %s: %w", id, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("%w: read audio %s: %v", apperr.ErrUpstream, id, err)
		}
		blob, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("%w: read audio %s: %v", apperr.ErrUpstream, id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	data, err := r.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decode audio %s: %v", apperr.ErrUpstream, id, err)
	}

	return &storage.Audio{
		FileName:    rec.FileName,
		ContentType: rec.ContentType,
		Size:        int64(len(data)),
		Body:        bytes.NewReader(data),
	}, nil
}

// Delete removes a record and its blob in one transaction.
func (r *Repository) Delete(ctx context.Context, id string) (err error) {
	defer func() { r.metrics.RecordRepositoryOp("delete", err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	err = r.db.Update(func(txn *badgerdb.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(blobKey(rec)); err != nil {
			return fmt.Errorf("%w: delete audio %s: %v", apperr.ErrUpstream, id, err)
		}
		if err := txn.Delete(recordKey(id)); err != nil {
			return fmt.Errorf("%w: delete record %s: %v", apperr.ErrUpstream, id, err)
		}
		return nil
	})
	if err == nil {
		r.logger.Info().Str("recordId", id).Msg("Record deleted")
	}
	return err
}

// RunGC reclaims value log space until ctx is done. It is a no-op for
// in-memory databases.
func (r *Repository) RunGC(ctx context.Context, interval time.Duration) {
	if r.inMemory {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for r.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

// Close releases the database and codecs.
func (r *Repository) Close() error {
	r.dec.Close()
	if err := r.enc.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("Closing zstd encoder")
	}
	return r.db.Close()
}

func getRecord(txn *badgerdb.Txn, id string) (models.Record, error) {
	var rec models.Record
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return rec, fmt.Errorf("record %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return rec, fmt.Errorf("%w: read record %s: %v", apperr.ErrUpstream, id, err)
	}
	if err := item.Value(func(v []byte) error {
		return json.Unmarshal(v, &rec)
	}); err != nil {
		return rec, fmt.Errorf("%w: decode record %s: %v", apperr.ErrUpstream, id, err)
	}
	return rec, nil
}

// badgerLogger routes Badger's internal logging through zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}
