package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

const contentTypeJSON = "application/json"

// defaultMultipartThreshold is the document size above which uploads go
// through the multipart manager.
const defaultMultipartThreshold = 8 * 1024 * 1024

var _ domain.Archiver = (*AuctionArchiver)(nil)

// AuctionArchiver writes one JSON document per closed auction under
// archive/auctions/YYYY/MM/{itemID}.json, keyed by the close month.
type AuctionArchiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	audit     domain.AuditStore
	threshold int
}

// NewArchiver creates an AuctionArchiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *AuctionArchiver {
	return &AuctionArchiver{
		writer:    writer,
		reader:    reader,
		audit:     audit,
		threshold: defaultMultipartThreshold,
	}
}

// ArchiveAuction uploads rec and returns its object path. An object that is
// already present is left untouched, so reruns after a failed MarkArchived
// are safe.
func (a *AuctionArchiver) ArchiveAuction(ctx context.Context, rec domain.AuctionRecord) (string, error) {
	path := ArchivePath(rec.Item.ID, rec.Outcome.ClosedAt)

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", rec.Item.ID, err)
	}
	if exists {
		return path, nil
	}

	buf, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s marshal: %w", rec.Item.ID, err)
	}

	if len(buf) > a.threshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSON)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s upload: %w", rec.Item.ID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.auction", map[string]any{
			"item_id": rec.Item.ID,
			"path":    path,
			"bids":    len(rec.Bids),
			"bytes":   len(buf),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive %s audit log: %w", rec.Item.ID, err)
		}
	}
	return path, nil
}

// LoadAuction reads back the record stored for itemID. A missing object
// yields domain.ErrNotFound.
func (a *AuctionArchiver) LoadAuction(ctx context.Context, itemID string, closedAt time.Time) (domain.AuctionRecord, error) {
	path := ArchivePath(itemID, closedAt)
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return domain.AuctionRecord{}, fmt.Errorf("s3blob: load %s: %w", itemID, err)
	}
	defer body.Close()

	var rec domain.AuctionRecord
	if err := json.NewDecoder(body).Decode(&rec); err != nil {
		return domain.AuctionRecord{}, fmt.Errorf("s3blob: load %s decode: %w", itemID, err)
	}
	return rec, nil
}

// ArchivePath builds the object key for an item closed at closedAt.
//
//	archive/auctions/2026/03/item-1.json
func ArchivePath(itemID string, closedAt time.Time) string {
	return fmt.Sprintf("archive/auctions/%s/%s.json", closedAt.UTC().Format("2006/01"), itemID)
}
