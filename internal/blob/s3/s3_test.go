package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

type memBlobs struct {
	objects   map[string][]byte
	puts      int
	multipart int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.puts++
	return nil
}

func (m *memBlobs) PutMultipart(_ context.Context, path string, data io.Reader, partSize int64) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.multipart++
	return nil
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type memAudit struct{ events []string }

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func sampleRecord() domain.AuctionRecord {
	closed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.AuctionRecord{
		Item: domain.Item{ID: "item-1", SellerID: "s1", Title: "Lamp"},
		Outcome: domain.SaleOutcome{
			ItemID:     "item-1",
			SellerID:   "s1",
			BuyerID:    "b1",
			FinalPrice: decimal.NewNullDecimal(decimal.NewFromInt(15)),
			Kind:       domain.SaleSold,
			ClosedAt:   closed,
		},
		Bids: []domain.Bid{{ID: "bid-1", ItemID: "item-1", BidderID: "b1", Amount: decimal.NewFromInt(15)}},
	}
}

func TestArchivePath(t *testing.T) {
	at := time.Date(2026, 11, 30, 23, 30, 0, 0, time.FixedZone("x", -2*3600))
	check.Equal(t, "archive/auctions/2026/12/abc.json", ArchivePath("abc", at))
}

func TestArchiver_WritesOnce(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{}
	a := NewArchiver(blobs, blobs, audit)

	path, err := a.ArchiveAuction(context.Background(), sampleRecord())
	assert.NoError(t, err)
	check.Equal(t, "archive/auctions/2026/03/item-1.json", path)
	check.Equal(t, 1, blobs.puts)
	check.Equal(t, []string{"archive.auction"}, audit.events)

	var back domain.AuctionRecord
	assert.NoError(t, json.Unmarshal(blobs.objects[path], &back))
	check.Equal(t, "b1", back.Outcome.BuyerID)
	check.Equal(t, 1, len(back.Bids))

	again, err := a.ArchiveAuction(context.Background(), sampleRecord())
	assert.NoError(t, err)
	check.Equal(t, path, again)
	check.Equal(t, 1, blobs.puts)
	check.Equal(t, 1, len(audit.events))
}

func TestArchiver_LoadAuction(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, nil)
	rec := sampleRecord()

	_, err := a.LoadAuction(ctx, rec.Item.ID, rec.Outcome.ClosedAt)
	check.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = a.ArchiveAuction(ctx, rec)
	assert.NoError(t, err)
	back, err := a.LoadAuction(ctx, rec.Item.ID, rec.Outcome.ClosedAt)
	assert.NoError(t, err)
	check.Equal(t, "Lamp", back.Item.Title)
	check.Equal(t, domain.SaleSold, back.Outcome.Kind)
	check.True(t, back.Outcome.FinalPrice.Decimal.Equal(decimal.NewFromInt(15)))
}

func TestArchiver_LargeDocumentUsesMultipart(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, nil)
	a.threshold = 16

	_, err := a.ArchiveAuction(context.Background(), sampleRecord())
	assert.NoError(t, err)
	check.Equal(t, 0, blobs.puts)
	check.Equal(t, 1, blobs.multipart)
}

func TestNormaliseEndpoint(t *testing.T) {
	check.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	check.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	check.Equal(t, "https://minio.internal", normaliseEndpoint("minio.internal", true))
}
