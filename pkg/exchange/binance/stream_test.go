package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const markPriceMsg = `{"data":{"E":1700000000000,"s":"BTCUSDT","p":"50000.5","i":"50001.0","r":"0.0001"}}`

// floodServer upgrades to websocket and writes ticks until the client hangs up.
func floodServer(t *testing.T, messages int) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < messages; i++ {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(markPriceMsg)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func streamClientFor(srv *httptest.Server) *StreamClient {
	return &StreamClient{
		streamURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream",
		dialer:    websocket.DefaultDialer,
	}
}

func TestSubscribeMarkPricesDeliversTicks(t *testing.T) {
	srv := floodServer(t, 3)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks, stop, err := streamClientFor(srv).SubscribeMarkPrices(ctx, []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("SubscribeMarkPrices: %v", err)
	}
	defer stop()

	select {
	case tick := <-ticks:
		if tick.Symbol != "BTCUSDT" || tick.MarkPrice != 50000.5 || tick.FundingRate != 0.0001 {
			t.Errorf("bad tick: %+v", tick)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}
}

func TestSubscribeMarkPricesStopWithBlockedProducer(t *testing.T) {
	// Far more ticks than the channel buffers, and a consumer that walks
	// away after one: the read goroutine ends up blocked on a full channel.
	srv := floodServer(t, 1000)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks, stop, err := streamClientFor(srv).SubscribeMarkPrices(ctx, []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("SubscribeMarkPrices: %v", err)
	}

	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}
	time.Sleep(50 * time.Millisecond)

	// Stopping must unblock the producer and close the channel; a panic
	// here would be a send on a closed channel.
	stop()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ticks:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("tick channel never closed after stop")
		}
	}
}
