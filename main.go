package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/api"
	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/events"
	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/execution"
	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/gateway"
	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/monitor"
	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/store"
	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/config"
	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/exchange"
	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/exchange/binance"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("[MAIN] starting, instance %s, port %s", cfg.InstanceID, cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	defer bus.Close()

	st, err := store.Open(cfg.DBPath, cfg.InstanceID)
	if err != nil {
		log.Fatalf("store open failed: %v", err)
	}
	defer st.Close()
	store.NewRecorder(st, bus).Run(ctx)

	profiles, err := config.LoadSources(cfg.SourcesPath)
	if err != nil {
		log.Fatalf("source profiles load failed: %v", err)
	}
	log.Printf("[MAIN] loaded %d source profiles", len(profiles))

	manager := execution.NewManager(bus)
	clients := gateway.BuildClients(ctx, cfg)
	if len(clients) == 0 {
		log.Printf("[MAIN] no exchange clients configured; signals will be rejected at execution")
	}
	for _, client := range clients {
		manager.Register(client)
		defer client.Close()
	}

	go monitor.New(manager, cfg.MonitorInterval).Run(ctx)

	// Optional mark-price stream keeps the monitor's price view fresh
	// between REST refreshes.
	if len(cfg.BinanceStreamSymbols) > 0 {
		if client, err := manager.Client(exchange.Binance); err == nil {
			startMarkPriceStream(ctx, cfg, client)
		}
	}

	server := api.NewServer(manager, bus, st, profiles, cfg.JWTSecret, cfg.AdminPasswordHash)
	if err := server.Start(ctx, cfg.Port); err != nil {
		log.Fatalf("api server error: %v", err)
	}
	log.Printf("[MAIN] shutdown complete")
}

// startMarkPriceStream feeds streamed mark prices into the client's market
// cache. Stream failures degrade to REST polling, never to a crash.
func startMarkPriceStream(ctx context.Context, cfg *config.Config, client exchange.Client) {
	stream := binance.NewStreamClient(cfg.BinanceTestnet)
	prices, stopStream, err := stream.SubscribeMarkPrices(ctx, cfg.BinanceStreamSymbols)
	if err != nil {
		log.Printf("[MAIN] mark price stream unavailable: %v", err)
		return
	}
	log.Printf("[MAIN] streaming mark prices for %v", cfg.BinanceStreamSymbols)
	go func() {
		defer stopStream()
		for {
			select {
			case <-ctx.Done():
				return
			case mp, ok := <-prices:
				if !ok {
					return
				}
				client.PrimeTicker(mp.Symbol, 0, mp.MarkPrice)
			}
		}
	}()
}
