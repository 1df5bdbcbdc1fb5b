package gateway

import (
	"fmt"
	"strings"
	"time"

	"spotpilot/internal/config"
	"spotpilot/internal/gateway/binance"
	"spotpilot/internal/gateway/exchange"
	"spotpilot/internal/metrics"
)

const binanceTestnetREST = "https://testnet.binance.vision"

// NewFromConfig builds the spot gateway named by exchange.name.
func NewFromConfig(cfg config.ExchangeConfig, m *metrics.Metrics) (exchange.Gateway, error) {
	bc := binance.Config{
		RESTBaseURL:       cfg.RESTBaseURL,
		APIKey:            cfg.APIKey,
		APISecret:         cfg.APISecret,
		RecvWindow:        time.Duration(cfg.RecvWindowMillis) * time.Millisecond,
		ConnectTimeout:    cfg.ConnectTimeout(),
		ReadTimeout:       cfg.ReadTimeout(),
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		BreakerThreshold:  cfg.BreakerThreshold,
		BreakerCooldown:   cfg.BreakerCooldown(),
		RESTProxyURL:      cfg.ProxyURL,
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "", "binance":
		return binance.New(bc, m)
	case "binance-testnet":
		if bc.RESTBaseURL == "" || bc.RESTBaseURL == config.DefaultExchangeREST {
			bc.RESTBaseURL = binanceTestnetREST
		}
		return binance.New(bc, m)
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", cfg.Name)
	}
}
