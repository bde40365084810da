package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one object in the archive bucket.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads archive objects. PutMultipart exists for payloads too
// large for a single call, such as bulk fill-history exports.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves archive objects. Exists lets the archiver skip
// markets that were already snapshotted.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver writes terminal-market snapshots to cold storage once a market
// resolves or expires.
type Archiver interface {
	ArchiveMarket(ctx context.Context, marketID string) (string, error)
}
