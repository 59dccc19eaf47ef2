package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/percmarket/percolator-markets/internal/domain"
)

// Archiver writes immutable JSON snapshots of markets that reached a
// terminal state, plus bulk audit-trail exports. Archival is best-effort:
// a failed upload is logged and retried on the next terminal event, it
// never rolls back settlement.
type Archiver struct {
	writer *Writer
	stores domain.Stores
	logger *slog.Logger
}

// NewArchiver creates an Archiver over the given writer and stores.
func NewArchiver(w *Writer, stores domain.Stores, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: w,
		stores: stores,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// marketSnapshot is the archived record of a finished market.
type marketSnapshot struct {
	ArchivedAt   time.Time         `json:"archived_at"`
	Market       domain.Market     `json:"market"`
	VaultBalance uint64            `json:"vault_balance"`
	Positions    []domain.Position `json:"positions"`
}

// SnapshotMarket uploads a full snapshot of the market, its vault
// balance, and every position to markets/<id>/snapshot.json.
func (a *Archiver) SnapshotMarket(ctx context.Context, marketID uint64) error {
	m, err := a.stores.Markets.GetByID(ctx, marketID)
	if err != nil {
		return fmt.Errorf("s3blob: snapshot market %d: %w", marketID, err)
	}

	balance, err := a.stores.Vault.Balance(ctx, marketID)
	if err != nil {
		return fmt.Errorf("s3blob: snapshot market %d: %w", marketID, err)
	}

	positions, err := a.stores.Positions.ListByMarket(ctx, marketID, domain.ListOpts{Limit: 10_000})
	if err != nil {
		return fmt.Errorf("s3blob: snapshot market %d: %w", marketID, err)
	}

	snap := marketSnapshot{
		ArchivedAt:   time.Now().UTC(),
		Market:       m,
		VaultBalance: balance,
		Positions:    positions,
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal snapshot %d: %w", marketID, err)
	}

	path := fmt.Sprintf("markets/%d/snapshot.json", marketID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(payload), "application/json"); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "market archived",
		slog.Uint64("market_id", marketID),
		slog.String("path", path),
	)
	return nil
}

// ExportAudit uploads the audit trail as NDJSON to
// audit/<date>/export.ndjson using a multipart upload, paging through
// the log in batches.
func (a *Archiver) ExportAudit(ctx context.Context) error {
	const batch = 1000

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	for offset := 0; ; offset += batch {
		entries, err := a.stores.Audit.List(ctx, domain.ListOpts{Limit: batch, Offset: offset})
		if err != nil {
			return fmt.Errorf("s3blob: export audit: %w", err)
		}
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return fmt.Errorf("s3blob: encode audit entry %d: %w", e.ID, err)
			}
		}
		if len(entries) < batch {
			break
		}
	}

	path := fmt.Sprintf("audit/%s/export.ndjson", time.Now().UTC().Format("2006-01-02"))
	if err := a.writer.PutMultipart(ctx, path, &buf, minPartSize); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "audit trail exported", slog.String("path", path))
	return nil
}
