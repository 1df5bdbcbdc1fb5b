// Package exchangetest provides a testify mock of exchange.Gateway.
package exchangetest

import (
	"context"

	"spotpilot/internal/gateway/exchange"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type MockGateway struct {
	mock.Mock
}

var _ exchange.Gateway = (*MockGateway)(nil)

func (m *MockGateway) Name() string { return "mock" }

func (m *MockGateway) TradingRules(ctx context.Context, symbols ...string) ([]exchange.TradingRules, error) {
	args := m.Called(ctx, symbols)
	rules, _ := args.Get(0).([]exchange.TradingRules)
	return rules, args.Error(1)
}

func (m *MockGateway) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	args := m.Called(ctx, symbol)
	price, _ := args.Get(0).(decimal.Decimal)
	return price, args.Error(1)
}

func (m *MockGateway) Account(ctx context.Context) (exchange.Account, error) {
	args := m.Called(ctx)
	acct, _ := args.Get(0).(exchange.Account)
	return acct, args.Error(1)
}

func (m *MockGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	args := m.Called(ctx, req)
	o, _ := args.Get(0).(exchange.Order)
	return o, args.Error(1)
}

func (m *MockGateway) QueryOrder(ctx context.Context, ref exchange.OrderRef) (exchange.Order, error) {
	args := m.Called(ctx, ref)
	o, _ := args.Get(0).(exchange.Order)
	return o, args.Error(1)
}

func (m *MockGateway) CancelOrder(ctx context.Context, ref exchange.OrderRef) (exchange.Order, error) {
	args := m.Called(ctx, ref)
	o, _ := args.Get(0).(exchange.Order)
	return o, args.Error(1)
}

func (m *MockGateway) PlaceOCO(ctx context.Context, req exchange.OcoRequest) (exchange.OcoExit, error) {
	args := m.Called(ctx, req)
	o, _ := args.Get(0).(exchange.OcoExit)
	return o, args.Error(1)
}

// BTCUSDT returns typical BTCUSDT spot filters.
func BTCUSDT() exchange.TradingRules {
	return exchange.TradingRules{
		Symbol:            "BTCUSDT",
		BaseAsset:         "BTC",
		QuoteAsset:        "USDT",
		StepSize:          decimal.RequireFromString("0.00001"),
		TickSize:          decimal.RequireFromString("0.01"),
		QuantityPrecision: 5,
		PricePrecision:    2,
		MinQuantity:       decimal.RequireFromString("0.00001"),
		MinNotional:       decimal.NewFromInt(5),
	}
}

// StaticRules serves fixed rules by symbol.
type StaticRules map[string]exchange.TradingRules

func (s StaticRules) Rules(_ context.Context, symbol string) (exchange.TradingRules, error) {
	if r, ok := s[symbol]; ok {
		return r, nil
	}
	return exchange.TradingRules{}, exchange.ErrUnknownSymbol
}
