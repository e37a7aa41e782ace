package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/omenlabs/omend/internal/domain"
)

// Archiver moves acknowledged terminal operation records out of the primary
// store and into object storage as JSONL. Records are deleted from the store
// only after the upload succeeded, so a failed upload retries the same batch
// on the next sweep.
type Archiver struct {
	writer domain.BlobWriter
	store  domain.OperationStore
	maxAge time.Duration
	logger *slog.Logger
}

// NewArchiver creates an Archiver. maxAge is how long an acknowledged record
// stays queryable in the primary store before it is swept to blob storage.
func NewArchiver(writer domain.BlobWriter, store domain.OperationStore, maxAge time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		store:  store,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Run sweeps on the given interval until the context ends.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.Sweep(ctx); err != nil {
				a.logger.Error("archiver: sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep archives one batch of acknowledged records older than maxAge and
// returns the number of records moved.
func (a *Archiver) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-a.maxAge)

	recs, err := a.store.ListAcknowledgedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list archive candidates: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: encode archive batch: %w", err)
	}

	key := archiveKey(time.Now().UTC())
	if err := a.writer.Write(ctx, key, buf); err != nil {
		return 0, fmt.Errorf("s3blob: upload archive batch: %w", err)
	}

	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
	}
	if err := a.store.DeleteByIDs(ctx, ids); err != nil {
		// The upload succeeded; the records will be re-archived next sweep.
		// The unique hash index keeps duplicate archive lines harmless.
		return 0, fmt.Errorf("s3blob: delete archived records: %w", err)
	}

	a.logger.Info("archiver: batch archived",
		slog.String("key", key),
		slog.Int("count", len(recs)),
	)
	return len(recs), nil
}

// archiveKey builds the object key for an archive batch, partitioned by day
// with a timestamp suffix so concurrent sweeps never collide.
//
//	archive/operations/2025-01-30/150405.jsonl
func archiveKey(now time.Time) string {
	return fmt.Sprintf("archive/operations/%s/%s.jsonl",
		now.Format("2006-01-02"), now.Format("150405"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// line per record.
func marshalJSONL(recs []domain.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
