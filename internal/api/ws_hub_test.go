package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/auction-engine/internal/api"
	"github.com/atmx/auction-engine/internal/settlement"
)

func TestWSHub_BroadcastsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := api.NewWSHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration completes asynchronously; publish until the client hears it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				hub.Publish(settlement.Event{Type: settlement.EventBidPlaced, BatchID: 7, Amount: 3})
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev settlement.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Type != settlement.EventBidPlaced || ev.BatchID != 7 || ev.Amount != 3 {
		t.Errorf("unexpected event: %+v", ev)
	}
}
