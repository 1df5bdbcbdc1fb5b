package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"spotpilot/internal/gateway/exchange"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := Config{
		RESTBaseURL:       srv.URL,
		APIKey:            "key",
		APISecret:         "secret",
		RequestsPerSecond: 1000,
		Burst:             1000,
		BreakerThreshold:  3,
		BreakerCooldown:   time.Minute,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	g, err := New(cfg, nil)
	require.NoError(t, err)
	return g
}

func TestTradingRulesParsesFilters(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/exchangeInfo", r.URL.Path)
		assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		fmt.Fprint(w, `{"symbols":[{"symbol":"ETHUSDT","status":"TRADING","baseAsset":"ETH","quoteAsset":"USDT",
			"filters":[
				{"filterType":"PRICE_FILTER","minPrice":"0.01000000","maxPrice":"1000000.00000000","tickSize":"0.01000000"},
				{"filterType":"LOT_SIZE","minQty":"0.00010000","maxQty":"9000.00000000","stepSize":"0.00010000"},
				{"filterType":"NOTIONAL","minNotional":"5.00000000","applyMinToMarket":true}
			]}]}`)
	})
	rules, err := g.TradingRules(context.Background(), "eth/usdt")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	r := rules[0]
	assert.Equal(t, "ETHUSDT", r.Symbol)
	assert.Equal(t, int32(4), r.QuantityPrecision)
	assert.Equal(t, int32(2), r.PricePrecision)
	assert.True(t, r.MinQuantity.Equal(decimal.RequireFromString("0.0001")))
	assert.True(t, r.MinNotional.Equal(decimal.NewFromInt(5)))
}

func TestTradingRulesWithoutLotSizeIsMalformed(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbols":[{"symbol":"ETHUSDT","filters":[{"filterType":"PRICE_FILTER","tickSize":"0.01"}]}]}`)
	})
	_, err := g.TradingRules(context.Background(), "ETHUSDT")
	assert.ErrorIs(t, err, exchange.ErrMalformed)
}

func TestPlaceMarketBuyByQuote(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "ETHUSDT", r.Form.Get("symbol"))
		assert.Equal(t, "BUY", r.Form.Get("side"))
		assert.Equal(t, "MARKET", r.Form.Get("type"))
		assert.Equal(t, "100", r.Form.Get("quoteOrderQty"))
		assert.Empty(t, r.Form.Get("quantity"))
		assert.Equal(t, "sp-1", r.Form.Get("newClientOrderId"))
		assert.Equal(t, "5000", r.Form.Get("recvWindow"))
		assert.NotEmpty(t, r.Form.Get("signature"))
		assert.NotEmpty(t, r.Form.Get("timestamp"))
		fmt.Fprint(w, `{"symbol":"ETHUSDT","orderId":42,"clientOrderId":"sp-1","transactTime":1717243260000,
			"price":"0.00000000","origQty":"0.05120000","executedQty":"0.05120000","cummulativeQuoteQty":"99.84000000",
			"status":"FILLED","timeInForce":"GTC","type":"MARKET","side":"BUY"}`)
	})
	order, err := g.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol:        "ETHUSDT",
		Side:          exchange.SideBuy,
		Type:          exchange.TypeMarket,
		QuoteQuantity: decimal.NewFromInt(100),
		ClientOrderID: "sp-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), order.OrderID)
	assert.Equal(t, exchange.StatusFilled, order.Status)
	assert.Equal(t, "1950", order.AveragePrice().String())
	assert.Equal(t, time.UnixMilli(1717243260000).UTC(), order.PlacedAt)
}

func TestPlaceLimitSell(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "LIMIT", r.Form.Get("type"))
		assert.Equal(t, "GTC", r.Form.Get("timeInForce"))
		assert.Equal(t, "0.5", r.Form.Get("quantity"))
		assert.Equal(t, "2100.5", r.Form.Get("price"))
		fmt.Fprint(w, `{"symbol":"ETHUSDT","orderId":43,"clientOrderId":"sp-2","transactTime":1,
			"price":"2100.50","origQty":"0.5","executedQty":"0","cummulativeQuoteQty":"0",
			"status":"NEW","type":"LIMIT","side":"SELL"}`)
	})
	order, err := g.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol:   "ETHUSDT",
		Side:     exchange.SideSell,
		Type:     exchange.TypeLimit,
		Quantity: decimal.RequireFromString("0.5"),
		Price:    decimal.RequireFromString("2100.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusNew, order.Status)
	assert.Equal(t, "2100.5", order.AveragePrice().String())
}

func TestQueryOrderStatusMapping(t *testing.T) {
	status := "PENDING_NEW"
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "sp-9", r.URL.Query().Get("origClientOrderId"))
		fmt.Fprintf(w, `{"symbol":"ETHUSDT","orderId":9,"clientOrderId":"sp-9","price":"1900","origQty":"0.1",
			"executedQty":"0","cummulativeQuoteQty":"0","status":%q,"type":"LIMIT","side":"BUY",
			"stopPrice":"0","time":1717243200000,"updateTime":1717243260000}`, status)
	})
	ref := exchange.OrderRef{Symbol: "ETHUSDT", ClientOrderID: "sp-9"}
	order, err := g.QueryOrder(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusNew, order.Status)
	assert.Equal(t, time.UnixMilli(1717243200000).UTC(), order.PlacedAt)

	status = "SOMETHING_ELSE"
	_, err = g.QueryOrder(context.Background(), ref)
	assert.ErrorIs(t, err, exchange.ErrMalformed)
	assert.True(t, exchange.IsRetryable(err))

	_, err = g.QueryOrder(context.Background(), exchange.OrderRef{Symbol: "ETHUSDT"})
	assert.Error(t, err)
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"rejected", http.StatusBadRequest, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`, func(t *testing.T, err error) {
			var rej *exchange.RejectedError
			require.True(t, errors.As(err, &rej))
			assert.Equal(t, int64(-2010), rej.Code)
			assert.Contains(t, rej.Error(), "insufficient balance")
			assert.False(t, exchange.IsRetryable(err))
		}},
		{"not found", http.StatusBadRequest, `{"code":-2013,"msg":"Order does not exist."}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, exchange.ErrNotFound)
		}},
		{"rate limited", http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests"}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, exchange.ErrTransient)
		}},
		{"bad gateway page", http.StatusBadGateway, `<html>bad gateway</html>`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, exchange.ErrTransient)
		}},
		{"bad key", http.StatusUnauthorized, `{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, exchange.ErrUnauthenticated)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			})
			_, err := g.CancelOrder(context.Background(), exchange.OrderRef{Symbol: "ETHUSDT", OrderID: 1})
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestBreakerOpensOnTransientFailures(t *testing.T) {
	var hits int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	for i := 0; i < 3; i++ {
		_, err := g.LastPrice(context.Background(), "ETHUSDT")
		assert.ErrorIs(t, err, exchange.ErrTransient)
	}
	_, err := g.LastPrice(context.Background(), "ETHUSDT")
	assert.ErrorIs(t, err, exchange.ErrTransient)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestRejectionsDoNotOpenBreaker(t *testing.T) {
	var hits int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1013,"msg":"Filter failure: NOTIONAL"}`)
	})
	for i := 0; i < 5; i++ {
		_, err := g.CancelOrder(context.Background(), exchange.OrderRef{Symbol: "ETHUSDT", OrderID: 1})
		require.Error(t, err)
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits))
}

func TestSignedCallWithoutCredentials(t *testing.T) {
	var hits int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}, func(c *Config) { c.APIKey, c.APISecret = "", "" })
	_, err := g.Account(context.Background())
	assert.ErrorIs(t, err, exchange.ErrUnauthenticated)
	assert.False(t, g.HasCredentials())
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestAccountCommissionAndBalances(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		fmt.Fprint(w, `{"makerCommission":10,"takerCommission":10,"canTrade":true,
			"balances":[{"asset":"USDT","free":"250.5","locked":"0"},{"asset":"BNB","free":"0","locked":"0"}]}`)
	})
	acct, err := g.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.001", acct.TakerCommission.String())
	assert.True(t, acct.CanTrade)
	require.Len(t, acct.Balances, 1)
	assert.Equal(t, "USDT", acct.Balances[0].Asset)
}

func TestLastPrice(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		fmt.Fprint(w, `[{"symbol":"ETHUSDT","price":"1950.00"}]`)
	})
	price, err := g.LastPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(1950)))
}

func TestPlaceOCO(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/order/oco", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "SELL", r.Form.Get("side"))
		assert.Equal(t, "0.0512", r.Form.Get("quantity"))
		assert.Equal(t, "2000", r.Form.Get("price"))
		assert.Equal(t, "1900", r.Form.Get("stopPrice"))
		assert.Equal(t, "1890.5", r.Form.Get("stopLimitPrice"))
		assert.Equal(t, "GTC", r.Form.Get("stopLimitTimeInForce"))
		assert.Equal(t, "sp-exit-7", r.Form.Get("listClientOrderId"))
		fmt.Fprint(w, `{"orderListId":501,"contingencyType":"OCO","listStatusType":"EXEC_STARTED",
			"listOrderStatus":"EXECUTING","listClientOrderId":"sp-exit-7","transactionTime":1717243300000,"symbol":"ETHUSDT",
			"orders":[{"symbol":"ETHUSDT","orderId":601,"clientOrderId":"a"},{"symbol":"ETHUSDT","orderId":602,"clientOrderId":"b"}],
			"orderReports":[
				{"symbol":"ETHUSDT","orderId":601,"orderListId":501,"clientOrderId":"a","transactionTime":1717243300000,
				 "price":"1890.50","origQty":"0.0512","executedQty":"0","cummulativeQuoteQty":"0","status":"NEW",
				 "timeInForce":"GTC","type":"STOP_LOSS_LIMIT","side":"SELL","stopPrice":"1900"},
				{"symbol":"ETHUSDT","orderId":602,"orderListId":501,"clientOrderId":"b","transactionTime":1717243300000,
				 "price":"2000","origQty":"0.0512","executedQty":"0","cummulativeQuoteQty":"0","status":"NEW",
				 "timeInForce":"GTC","type":"LIMIT_MAKER","side":"SELL"}
			]}`)
	})
	oco, err := g.PlaceOCO(context.Background(), exchange.OcoRequest{
		Symbol:            "ETHUSDT",
		Side:              exchange.SideSell,
		Quantity:          decimal.RequireFromString("0.0512"),
		TakeProfitPrice:   decimal.NewFromInt(2000),
		StopPrice:         decimal.NewFromInt(1900),
		StopLimitPrice:    decimal.RequireFromString("1890.5"),
		ListClientOrderID: "sp-exit-7",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(501), oco.OrderListID)
	require.Len(t, oco.Orders, 2)
	assert.Equal(t, exchange.TypeStopLossLimit, oco.Orders[0].Type)
	assert.Equal(t, exchange.TypeLimitMaker, oco.Orders[1].Type)
}
