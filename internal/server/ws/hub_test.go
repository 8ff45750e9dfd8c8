package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

type chanBus struct {
	ch      chan []byte
	pattern string
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.pattern = channel
	return b.ch, nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func event(itemID string, price int64) []byte {
	data, _ := json.Marshal(domain.AuctionEvent{
		Type:   domain.EventBidPlaced,
		ItemID: itemID,
		Price:  decimal.NewFromInt(price),
		Status: domain.ItemActive,
	})
	return data
}

type frame struct {
	Type    string              `json:"type"`
	Payload domain.AuctionEvent `json:"payload"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	assert.NoError(t, err)
	var f frame
	assert.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestHub_FiltersByItem(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 8)}
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?items=item-2"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(t, err)
	defer conn.Close()

	check.Equal(t, "hello", readFrame(t, conn).Type)
	check.Equal(t, domain.AuctionChannelPattern, bus.pattern)

	bus.ch <- []byte("garbage")
	bus.ch <- event("item-1", 10)
	bus.ch <- event("item-2", 20)

	f := readFrame(t, conn)
	check.Equal(t, "bid_placed", f.Type)
	check.Equal(t, "item-2", f.Payload.ItemID)
	check.True(t, f.Payload.Price.Equal(decimal.NewFromInt(20)))
}

func TestClient_ApplySubscription(t *testing.T) {
	c := &client{all: true, items: map[string]bool{}}
	check.True(t, c.wants("anything"))

	c.applySubscription(subscribeMsg{Action: "subscribe", Items: []string{"a", " b "}})
	check.False(t, c.wants("anything"))
	check.True(t, c.wants("b"))

	c.applySubscription(subscribeMsg{Action: "unsubscribe", Items: []string{"a"}})
	check.False(t, c.wants("a"))
	check.True(t, c.wants("b"))

	c.applySubscription(subscribeMsg{Action: "unsubscribe"})
	check.False(t, c.wants("b"))

	c.applySubscription(subscribeMsg{Action: "subscribe"})
	check.True(t, c.wants("z"))
}
