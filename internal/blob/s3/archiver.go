package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/btorressz/milestone-amm/internal/domain"
)

// marketSnapshot is the archived shape of a terminal market: its final
// state plus the full position set and trade history.
type marketSnapshot struct {
	Market    domain.Market     `json:"market"`
	Positions []domain.Position `json:"positions"`
	Fills     []domain.Fill     `json:"fills"`
}

// MarketArchiver implements domain.Archiver by snapshotting a terminal
// market from the stores and uploading it as JSON.
//
// Rows are not deleted from the primary store here; pruning is a separate,
// explicit step taken after the archive is verified.
type MarketArchiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	markets   domain.MarketStore
	positions domain.PositionStore
	fills     domain.FillStore
	audit     domain.AuditStore
}

// NewMarketArchiver creates a MarketArchiver. reader and audit may be nil;
// with a reader, an already-uploaded snapshot is not uploaded again.
func NewMarketArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	markets domain.MarketStore,
	positions domain.PositionStore,
	fills domain.FillStore,
	audit domain.AuditStore,
) *MarketArchiver {
	return &MarketArchiver{
		writer:    writer,
		reader:    reader,
		markets:   markets,
		positions: positions,
		fills:     fills,
		audit:     audit,
	}
}

// ArchiveMarket uploads the market snapshot to
// archive/markets/YYYY-MM/<id>.json, keyed by the month the market was
// created, and returns the object path.
func (a *MarketArchiver) ArchiveMarket(ctx context.Context, marketID string) (string, error) {
	m, err := a.markets.GetByID(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %s: %w", marketID, err)
	}

	path := fmt.Sprintf("archive/markets/%s/%s.json", m.CreatedAt.Format("2006-01"), marketID)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive market %s head: %w", marketID, err)
		}
		if exists {
			return path, nil
		}
	}

	positions, err := a.positions.ListByMarket(ctx, marketID, domain.ListOpts{})
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %s positions: %w", marketID, err)
	}
	fills, err := a.fills.ListByMarket(ctx, marketID, domain.ListOpts{})
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %s fills: %w", marketID, err)
	}

	snap := marketSnapshot{Market: m, Positions: positions, Fills: fills}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snap); err != nil {
		return "", fmt.Errorf("s3blob: archive market %s marshal: %w", marketID, err)
	}

	if err := a.writer.Put(ctx, path, &buf, "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive market %s upload: %w", marketID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.market", map[string]any{
			"market_id": marketID,
			"path":      path,
			"positions": len(positions),
			"fills":     len(fills),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive market %s audit log: %w", marketID, err)
		}
	}

	return path, nil
}

// Compile-time interface check.
var _ domain.Archiver = (*MarketArchiver)(nil)
