package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/config"
	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/alanyoungcy/bidengine/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func boltConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.BoltPath = filepath.Join(t.TempDir(), "nested", "engine.db")
	return &cfg
}

func TestWire_BoltOnly(t *testing.T) {
	ctx := context.Background()
	deps, cleanup, err := Wire(ctx, boltConfig(t), testLogger())
	assert.NoError(t, err)
	defer cleanup()

	check.True(t, deps.Store != nil)
	check.True(t, deps.Locker != nil)
	check.True(t, deps.SignalBus == nil)
	check.True(t, deps.Archiver == nil)
	check.Equal(t, 0, len(deps.HealthChecks))
	check.True(t, deps.migrate == nil)
}

func TestWire_UnknownDriver(t *testing.T) {
	cfg := boltConfig(t)
	cfg.Storage.Driver = "sqlite"
	_, _, err := Wire(context.Background(), cfg, testLogger())
	check.Error(t, err)
}

func TestBuildServices_CloseAndRelay(t *testing.T) {
	ctx := context.Background()
	cfg := boltConfig(t)
	deps, cleanup, err := Wire(ctx, cfg, testLogger())
	assert.NoError(t, err)
	defer cleanup()

	svcs, err := BuildServices(cfg, deps, testLogger())
	assert.NoError(t, err)
	check.True(t, svcs.Archive == nil)

	now := time.Now().UTC()
	_, err = svcs.Bids.RegisterItem(ctx, service.RegisterItemRequest{
		ID:         "lamp",
		SellerID:   "seller",
		Title:      "Lamp",
		StartPrice: decimal.NewFromInt(10),
		StartTime:  now,
		EndTime:    now.Add(time.Hour),
	})
	assert.NoError(t, err)
	_, err = svcs.Bids.PlaceBid(ctx, service.PlaceBidRequest{ItemID: "lamp", BidderID: "alice", Amount: decimal.NewFromInt(50)})
	assert.NoError(t, err)

	outcomes, err := svcs.Closing.CloseDueAuctions(ctx, now.Add(2*time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, 1, len(outcomes))
	check.Equal(t, domain.SaleSold, outcomes[0].Kind)
	check.Equal(t, "alice", outcomes[0].BuyerID)

	// Winner and seller are notified through the log channel.
	sent, err := svcs.Relay.RunOnce(ctx)
	assert.NoError(t, err)
	check.True(t, sent >= 2)

	again, err := svcs.Relay.RunOnce(ctx)
	assert.NoError(t, err)
	check.Equal(t, 0, again)
}

func TestRun_CloseMode(t *testing.T) {
	cfg := boltConfig(t)
	cfg.Mode = "close"
	a := New(cfg, testLogger())
	defer a.Close()
	check.NoError(t, a.Run(context.Background()))
}

func TestRun_MigrateRequiresPostgres(t *testing.T) {
	cfg := boltConfig(t)
	cfg.Mode = "migrate"
	a := New(cfg, testLogger())
	defer a.Close()
	check.Error(t, a.Run(context.Background()))
}
