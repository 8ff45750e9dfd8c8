package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// AuctionRecord is the archived document for one finalized item.
type AuctionRecord struct {
	Item    Item        `json:"item"`
	Outcome SaleOutcome `json:"outcome"`
	Bids    []Bid       `json:"bids"`
}

// Archiver copies finalized auctions to cold storage and reads them back.
// ArchiveAuction returns the object path the record was written to.
type Archiver interface {
	ArchiveAuction(ctx context.Context, rec AuctionRecord) (string, error)
	// LoadAuction returns the record archived for an item closed at
	// closedAt, or ErrNotFound.
	LoadAuction(ctx context.Context, itemID string, closedAt time.Time) (AuctionRecord, error)
}
