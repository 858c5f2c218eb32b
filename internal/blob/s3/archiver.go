package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/tradefeed/internal/domain"
)

// TransactionArchiveStore provides read access to ledger transactions for
// archival. The Postgres LedgerStore satisfies it.
type TransactionArchiveStore interface {
	ListTransactionsBefore(ctx context.Context, before time.Time) ([]domain.Transaction, error)
}

// BarArchiveStore provides read access to OHLC history for archival. The
// Postgres BarStore satisfies it.
type BarArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.OHLCBar, error)
}

// Archiver exports old ledger transactions and price history to JSONL files
// in object storage. Deleting archived rows from the primary store is a
// separate, explicit step to run after the archive has been verified.
type Archiver struct {
	writer       domain.BlobWriter
	transactions TransactionArchiveStore
	bars         BarArchiveStore
}

// NewArchiver creates an Archiver over the given stores.
func NewArchiver(writer domain.BlobWriter, transactions TransactionArchiveStore, bars BarArchiveStore) *Archiver {
	return &Archiver{
		writer:       writer,
		transactions: transactions,
		bars:         bars,
	}
}

// ArchiveTransactions uploads every transaction executed before the cutoff
// to archive/transactions/YYYY-MM.jsonl and returns the archived count.
func (a *Archiver) ArchiveTransactions(ctx context.Context, before time.Time) (int64, error) {
	txs, err := a.transactions.ListTransactionsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transactions query: %w", err)
	}
	if len(txs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(txs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transactions marshal: %w", err)
	}

	path := archivePath("transactions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive transactions upload: %w", err)
	}
	return int64(len(txs)), nil
}

// ArchiveBars uploads every daily bar dated before the cutoff to
// archive/bars/YYYY-MM.jsonl and returns the archived count.
func (a *Archiver) ArchiveBars(ctx context.Context, before time.Time) (int64, error) {
	bars, err := a.bars.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive bars query: %w", err)
	}
	if len(bars) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(bars)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive bars marshal: %w", err)
	}

	path := archivePath("bars", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive bars upload: %w", err)
	}
	return int64(len(bars)), nil
}

// marshalJSONL serializes a slice as newline-delimited JSON.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// archivePath builds the object key for one archive batch, bucketed by the
// cutoff month.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}
