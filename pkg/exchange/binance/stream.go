package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// MarkPrice is one mark-price tick from the futures stream.
type MarkPrice struct {
	Symbol      string
	MarkPrice   float64
	IndexPrice  float64
	FundingRate float64
	EventTime   int64
}

// StreamClient consumes Binance futures public websockets.
type StreamClient struct {
	streamURL string
	dialer    *websocket.Dialer
}

// NewStreamClient builds a futures websocket client; testnet toggles the host.
func NewStreamClient(testnet bool) *StreamClient {
	host := "fstream.binance.com"
	if testnet {
		host = "stream.binancefuture.com"
	}
	return &StreamClient{
		streamURL: (&url.URL{Scheme: "wss", Host: host, Path: "/stream"}).String(),
		dialer:    websocket.DefaultDialer,
	}
}

// SubscribeMarkPrices listens to 1s mark-price streams for the given symbols
// and pushes parsed ticks into a channel. It returns the channel and a stop
// function.
func (c *StreamClient) SubscribeMarkPrices(ctx context.Context, symbols []string) (<-chan MarkPrice, func(), error) {
	if len(symbols) == 0 {
		return nil, nil, fmt.Errorf("binance ws: no symbols to stream")
	}
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		// Binance requires lowercase symbols for WebSocket streams
		streams[i] = strings.ToLower(s) + "@markPrice@1s"
	}
	u := fmt.Sprintf("%s?streams=%s", c.streamURL, strings.Join(streams, "/"))

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial binance ws: %w", err)
	}

	out := make(chan MarkPrice, 100)
	ctx, cancel := context.WithCancel(ctx)
	var once sync.Once
	// stop only tears down the connection; the read goroutine owns out and
	// is the one that closes it.
	stop := func() {
		once.Do(func() {
			cancel()
			// Ignore errors; connection may already be closed.
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	go func() {
		defer close(out)
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				log.Printf("binance ws read error: %v", err)
				return
			}

			tick, err := parseMarkPriceMessage(msg)
			if err != nil {
				log.Printf("binance ws parse error: %v", err)
				continue
			}
			select {
			case out <- tick:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, stop, nil
}

// parseMarkPriceMessage decodes only the fields we need.
func parseMarkPriceMessage(msg []byte) (MarkPrice, error) {
	var raw struct {
		Data struct {
			EventTime   int64  `json:"E"`
			Symbol      string `json:"s"`
			MarkPrice   string `json:"p"`
			IndexPrice  string `json:"i"`
			FundingRate string `json:"r"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return MarkPrice{}, err
	}
	return MarkPrice{
		Symbol:      raw.Data.Symbol,
		MarkPrice:   parseFloat(raw.Data.MarkPrice),
		IndexPrice:  parseFloat(raw.Data.IndexPrice),
		FundingRate: parseFloat(raw.Data.FundingRate),
		EventTime:   raw.Data.EventTime,
	}, nil
}
