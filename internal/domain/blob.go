package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// ReceiptArchive stores JSON receipts of confirmed pool operations.
type ReceiptArchive interface {
	Save(ctx context.Context, ideaID, kind string, v any) (string, error)
	List(ctx context.Context, ideaID string) ([]BlobInfo, error)
	// Open returns the receipt named name of ideaID, as listed by List.
	Open(ctx context.Context, ideaID, name string) (io.ReadCloser, error)
}
