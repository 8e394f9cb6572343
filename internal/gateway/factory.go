// Package gateway builds exchange clients from configuration.
package gateway

import (
	"context"
	"fmt"
	"log"

	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/config"
	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/exchange"
	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/exchange/binance"
	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/exchange/okx"
)

// NewClient creates an uninitialized client for one venue.
func NewClient(name exchange.Name, creds exchange.Credentials) (exchange.Client, error) {
	switch name {
	case exchange.Binance:
		return exchange.New(binance.New(creds)), nil
	case exchange.OKX:
		return exchange.New(okx.New(creds)), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", name)
	}
}

// BuildClients creates and initializes clients for every venue the config
// enables. A venue that fails its probe is skipped with a warning so one bad
// key does not take the whole core down.
func BuildClients(ctx context.Context, cfg *config.Config) []exchange.Client {
	type candidate struct {
		name  exchange.Name
		creds exchange.Credentials
	}

	var candidates []candidate
	if cfg.EnableBinance && cfg.BinanceAPIKey != "" {
		candidates = append(candidates, candidate{exchange.Binance, exchange.Credentials{
			APIKey:    cfg.BinanceAPIKey,
			APISecret: cfg.BinanceAPISecret,
			Testnet:   cfg.BinanceTestnet,
		}})
	}
	if cfg.EnableOKX && cfg.OKXAPIKey != "" {
		candidates = append(candidates, candidate{exchange.OKX, exchange.Credentials{
			APIKey:     cfg.OKXAPIKey,
			APISecret:  cfg.OKXAPISecret,
			Passphrase: cfg.OKXPassphrase,
			Testnet:    cfg.OKXTestnet,
		}})
	}

	var clients []exchange.Client
	for _, cand := range candidates {
		client, err := NewClient(cand.name, cand.creds)
		if err != nil {
			log.Printf("[GATEWAY] %s: %v", cand.name, err)
			continue
		}
		if err := client.Initialize(ctx); err != nil {
			log.Printf("[GATEWAY] %s init failed, skipping: %v", cand.name, err)
			client.Close()
			continue
		}
		clients = append(clients, client)
	}
	return clients
}
