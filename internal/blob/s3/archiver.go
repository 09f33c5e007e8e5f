package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/copilfi/copil-sub001/internal/domain"
)

// defaultBatchSize bounds how many rows a single archive page holds when the
// caller does not configure a limit.
const defaultBatchSize = 5000

// contentTypeGzipNDJSON is the content type for gzip-compressed JSONL pages.
const contentTypeGzipNDJSON = "application/gzip"

// Narrow store interfaces required by the archiver. The archiver only needs
// the aging queries, not the full domain store surface; the Postgres stores
// satisfy these implicitly.

// PriceArchiveStore drains aged price samples.
type PriceArchiveStore interface {
	// ListOlderThan returns up to limit samples observed strictly before the
	// cutoff, oldest first.
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.PriceSample, error)
	// DeleteOlderThan removes samples observed strictly before the cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// TxLogArchiveStore drains aged transaction logs.
type TxLogArchiveStore interface {
	// ListOlderThan returns up to limit rows created strictly before the
	// cutoff, oldest first.
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.TransactionLog, error)
	// DeleteOlderThan removes rows created strictly before the cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver. It drains aged rows in pages:
// each page is serialised to gzip-compressed JSONL, uploaded to object
// storage, and only then pruned from the database. A failure mid-run leaves
// unarchived rows in place for the next run; the worst case after a crash is
// one page present both in storage and in the database.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	prices    PriceArchiveStore
	txlogs    TxLogArchiveStore
	batchSize int
}

// NewArchiver creates an ArchiveImpl draining the given stores through the
// writer. batchSize caps rows per uploaded page; values < 1 fall back to the
// default.
func NewArchiver(writer domain.BlobWriter, prices PriceArchiveStore, txlogs TxLogArchiveStore, batchSize int) *ArchiveImpl {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	return &ArchiveImpl{
		writer:    writer,
		prices:    prices,
		txlogs:    txlogs,
		batchSize: batchSize,
	}
}

// ArchivePriceSamples moves price samples observed before the cutoff to
// object storage and returns how many rows were archived.
func (a *ArchiveImpl) ArchivePriceSamples(ctx context.Context, before time.Time) (int64, error) {
	return archiveDataset(ctx, a.writer, "price_samples", before, a.batchSize,
		a.prices.ListOlderThan,
		a.prices.DeleteOlderThan,
		func(s domain.PriceSample) time.Time { return s.Timestamp },
	)
}

// ArchiveTransactionLogs moves transaction logs created before the cutoff to
// object storage and returns how many rows were archived.
func (a *ArchiveImpl) ArchiveTransactionLogs(ctx context.Context, before time.Time) (int64, error) {
	return archiveDataset(ctx, a.writer, "transaction_logs", before, a.batchSize,
		a.txlogs.ListOlderThan,
		a.txlogs.DeleteOlderThan,
		func(l domain.TransactionLog) time.Time { return l.CreatedAt },
	)
}

// archiveDataset runs the page loop for one dataset: list the oldest rows
// before the cutoff, upload them, prune the covered window, repeat until the
// store is drained. Pruning happens strictly after the page upload succeeds.
func archiveDataset[T any](
	ctx context.Context,
	writer domain.BlobWriter,
	kind string,
	before time.Time,
	batchSize int,
	list func(context.Context, time.Time, int) ([]T, error),
	prune func(context.Context, time.Time) (int64, error),
	rowTime func(T) time.Time,
) (int64, error) {
	var total int64
	for part := 1; ; part++ {
		// One row of lookahead tells whether the page boundary lands inside
		// a group of rows sharing one timestamp.
		rows, err := list(ctx, before, batchSize+1)
		if err != nil {
			return total, fmt.Errorf("s3blob: list %s: %w", kind, err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		page := rows
		more := len(rows) > batchSize
		if more {
			page = rows[:batchSize]
			if rowTime(rows[batchSize]).Equal(rowTime(page[batchSize-1])) {
				page = holdBackSharedTail(page, rowTime)
			}
		}

		buf, err := gzipJSONL(page)
		if err != nil {
			return total, fmt.Errorf("s3blob: encode %s: %w", kind, err)
		}

		path := archivePath(kind, before, part)
		if err := writer.Put(ctx, path, bytes.NewReader(buf), contentTypeGzipNDJSON); err != nil {
			return total, fmt.Errorf("s3blob: upload %s: %w", kind, err)
		}

		// Postgres timestamps carry microsecond precision and the delete
		// cutoff is exclusive, so one microsecond past the newest uploaded
		// row prunes exactly the covered window.
		pageEnd := rowTime(page[len(page)-1]).Add(time.Microsecond)
		if pageEnd.After(before) {
			pageEnd = before
		}
		if _, err := prune(ctx, pageEnd); err != nil {
			return total, fmt.Errorf("s3blob: prune %s: %w", kind, err)
		}

		total += int64(len(page))
		if !more {
			return total, nil
		}
	}
}

// holdBackSharedTail drops the trailing rows of a page that share its newest
// timestamp, leaving the group to fill the next page, because the prune
// cutoff must never cover a row that was not uploaded. When the whole page
// shares one timestamp there is nothing to hold back and the page is kept
// intact so the drain keeps progressing.
func holdBackSharedTail[T any](rows []T, rowTime func(T) time.Time) []T {
	last := rowTime(rows[len(rows)-1])
	for i := len(rows) - 1; i >= 0; i-- {
		if !rowTime(rows[i]).Equal(last) {
			return rows[:i+1]
		}
	}
	return rows
}

// archivePath builds the object key for one page, partitioned by the run
// cutoff so consecutive runs never overwrite each other:
//
//	archive/price_samples/2025-01-31T040000Z/part-0001.jsonl.gz
//	archive/transaction_logs/2025-01-31T040000Z/part-0002.jsonl.gz
func archivePath(kind string, before time.Time, part int) string {
	return fmt.Sprintf("archive/%s/%s/part-%04d.jsonl.gz",
		kind, before.UTC().Format("2006-01-02T150405Z"), part)
}

// gzipJSONL serialises records as gzip-compressed newline-delimited JSON.
// Each record becomes one compact JSON line.
func gzipJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	enc := json.NewEncoder(gz)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}

	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}
