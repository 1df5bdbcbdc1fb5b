// Package binance implements exchange.Gateway on the Binance spot REST API
// through the go-binance SDK, adding a request limiter, a circuit breaker and
// error classification.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"spotpilot/internal/gateway/exchange"
	"spotpilot/internal/logger"
	"spotpilot/internal/metrics"
	"spotpilot/internal/pkg/circuit"
	"spotpilot/internal/pkg/symbol"

	binance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Gateway 基于 go-binance SDK 实现 exchange.Gateway（现货）。
type Gateway struct {
	cfg     Config
	client  *binance.Client
	limiter *rate.Limiter
	breaker *circuit.CircuitBreaker
	metrics *metrics.Metrics
	log     *logger.Component
}

var _ exchange.Gateway = (*Gateway)(nil)

func New(cfg Config, m *metrics.Metrics) (*Gateway, error) {
	final := cfg.withDefaults()
	client := binance.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	httpClient, err := newHTTPClient(final)
	if err != nil {
		return nil, err
	}
	client.HTTPClient = httpClient
	breaker := circuit.NewCircuitBreaker("binance", final.BreakerThreshold, final.BreakerCooldown)
	log := logger.Named("binance")
	breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		m.SetBreakerState(int(to))
		log.Warnf("circuit breaker %s: %s -> %s", name, from, to)
	})
	return &Gateway{
		cfg:     final,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(final.RequestsPerSecond), final.Burst),
		breaker: breaker,
		metrics: m,
		log:     log,
	}, nil
}

func newHTTPClient(cfg Config) (*http.Client, error) {
	baseTransport, ok := http.DefaultTransport.(*http.Transport)
	if !ok || baseTransport == nil {
		return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
	}
	transport := baseTransport.Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout
	transport.ResponseHeaderTimeout = cfg.ReadTimeout
	if cfg.RESTProxyURL != "" {
		proxyURL, err := url.Parse(cfg.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{Timeout: cfg.ConnectTimeout + cfg.ReadTimeout, Transport: transport}, nil
}

func (g *Gateway) Name() string { return "binance" }

// HasCredentials reports whether signed endpoints can be called.
func (g *Gateway) HasCredentials() bool { return g.cfg.hasCredentials() }

func (g *Gateway) recvWindow() binance.RequestOption {
	return binance.WithRecvWindow(g.cfg.RecvWindow.Milliseconds())
}

// call runs fn under the limiter and breaker. Only transient failures count
// towards opening the breaker.
func (g *Gateway) call(ctx context.Context, op string, signed bool, fn func(ctx context.Context) error) error {
	if signed && !g.cfg.hasCredentials() {
		return fmt.Errorf("%s: %w", op, exchange.ErrUnauthenticated)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: rate limiter: %v", exchange.ErrTransient, op, err)
	}
	start := time.Now()
	err := g.breaker.Do(func() error {
		return classify(op, fn(ctx))
	}, exchange.IsRetryable)
	err = classify(op, err)
	g.metrics.ObserveExchange(op, outcome(err), time.Since(start))
	if err != nil {
		g.log.Debugf("%s failed: %v", op, err)
	}
	return err
}

func outcome(err error) string {
	var rej *exchange.RejectedError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rej):
		return "rejected"
	case errors.Is(err, exchange.ErrNotFound):
		return "not_found"
	case exchange.IsRetryable(err):
		return "transient"
	default:
		return "error"
	}
}

func (g *Gateway) TradingRules(ctx context.Context, symbols ...string) ([]exchange.TradingRules, error) {
	wanted := symbol.NormalizeList(symbols)
	var info *binance.ExchangeInfo
	err := g.call(ctx, "exchange_info", false, func(ctx context.Context) error {
		svc := g.client.NewExchangeInfoService()
		if len(wanted) == 1 {
			svc = svc.Symbol(wanted[0])
		}
		var err error
		info, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("%w: empty exchange info", exchange.ErrMalformed)
	}
	keep := make(map[string]bool, len(wanted))
	for _, s := range wanted {
		keep[s] = true
	}
	out := make([]exchange.TradingRules, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if len(keep) > 0 && !keep[strings.ToUpper(s.Symbol)] {
			continue
		}
		rules, err := rulesFromSymbol(s)
		if err != nil {
			return nil, err
		}
		out = append(out, rules)
	}
	return out, nil
}

func (g *Gateway) LastPrice(ctx context.Context, sym string) (decimal.Decimal, error) {
	sym = symbol.Normalize(sym)
	var prices []*binance.SymbolPrice
	err := g.call(ctx, "ticker_price", false, func(ctx context.Context) error {
		var err error
		prices, err = g.client.NewListPricesService().Symbol(sym).Do(ctx)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	for _, p := range prices {
		if p != nil && strings.EqualFold(p.Symbol, sym) {
			return parseDecimal("price", p.Price)
		}
	}
	return decimal.Zero, fmt.Errorf("%w: no price for %s", exchange.ErrMalformed, sym)
}

func (g *Gateway) Account(ctx context.Context) (exchange.Account, error) {
	var acct *binance.Account
	err := g.call(ctx, "account", true, func(ctx context.Context) error {
		var err error
		acct, err = g.client.NewGetAccountService().Do(ctx, g.recvWindow())
		return err
	})
	if err != nil {
		return exchange.Account{}, err
	}
	if acct == nil {
		return exchange.Account{}, fmt.Errorf("%w: empty account", exchange.ErrMalformed)
	}
	return accountFromBinance(acct)
}

func (g *Gateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	sym := symbol.Normalize(req.Symbol)
	if sym == "" {
		return exchange.Order{}, fmt.Errorf("place order: symbol is required")
	}
	var res *binance.CreateOrderResponse
	err := g.call(ctx, "place_order", true, func(ctx context.Context) error {
		svc := g.client.NewCreateOrderService().
			Symbol(sym).
			Side(binance.SideType(req.Side)).
			Type(binance.OrderType(req.Type)).
			NewOrderRespType(binance.NewOrderRespTypeRESULT)
		if req.ClientOrderID != "" {
			svc = svc.NewClientOrderID(req.ClientOrderID)
		}
		switch req.Type {
		case exchange.TypeMarket:
			if req.QuoteQuantity.IsPositive() {
				svc = svc.QuoteOrderQty(req.QuoteQuantity.String())
			} else {
				svc = svc.Quantity(req.Quantity.String())
			}
		case exchange.TypeLimit:
			svc = svc.TimeInForce(binance.TimeInForceTypeGTC).
				Quantity(req.Quantity.String()).
				Price(req.Price.String())
		default:
			return fmt.Errorf("place order: unsupported order type %s", req.Type)
		}
		var err error
		res, err = svc.Do(ctx, g.recvWindow())
		return err
	})
	if err != nil {
		return exchange.Order{}, err
	}
	if res == nil {
		return exchange.Order{}, fmt.Errorf("%w: empty order response", exchange.ErrMalformed)
	}
	return orderFromCreateResponse(res)
}

func (g *Gateway) QueryOrder(ctx context.Context, ref exchange.OrderRef) (exchange.Order, error) {
	ref.Symbol = symbol.Normalize(ref.Symbol)
	if !ref.Valid() {
		return exchange.Order{}, fmt.Errorf("query order: symbol and order id or client order id are required")
	}
	var res *binance.Order
	err := g.call(ctx, "query_order", true, func(ctx context.Context) error {
		svc := g.client.NewGetOrderService().Symbol(ref.Symbol)
		if ref.OrderID > 0 {
			svc = svc.OrderID(ref.OrderID)
		} else {
			svc = svc.OrigClientOrderID(ref.ClientOrderID)
		}
		var err error
		res, err = svc.Do(ctx, g.recvWindow())
		return err
	})
	if err != nil {
		return exchange.Order{}, err
	}
	if res == nil {
		return exchange.Order{}, fmt.Errorf("%w: empty order", exchange.ErrMalformed)
	}
	return orderFromBinance(res)
}

func (g *Gateway) CancelOrder(ctx context.Context, ref exchange.OrderRef) (exchange.Order, error) {
	ref.Symbol = symbol.Normalize(ref.Symbol)
	if !ref.Valid() {
		return exchange.Order{}, fmt.Errorf("cancel order: symbol and order id or client order id are required")
	}
	var res *binance.CancelOrderResponse
	err := g.call(ctx, "cancel_order", true, func(ctx context.Context) error {
		svc := g.client.NewCancelOrderService().Symbol(ref.Symbol)
		if ref.OrderID > 0 {
			svc = svc.OrderID(ref.OrderID)
		} else {
			svc = svc.OrigClientOrderID(ref.ClientOrderID)
		}
		var err error
		res, err = svc.Do(ctx, g.recvWindow())
		return err
	})
	if err != nil {
		return exchange.Order{}, err
	}
	if res == nil {
		return exchange.Order{}, fmt.Errorf("%w: empty cancel response", exchange.ErrMalformed)
	}
	return orderFromCancelResponse(res)
}

func (g *Gateway) PlaceOCO(ctx context.Context, req exchange.OcoRequest) (exchange.OcoExit, error) {
	sym := symbol.Normalize(req.Symbol)
	if sym == "" {
		return exchange.OcoExit{}, fmt.Errorf("place oco: symbol is required")
	}
	var res *binance.CreateOCOResponse
	err := g.call(ctx, "place_oco", true, func(ctx context.Context) error {
		svc := g.client.NewCreateOCOService().
			Symbol(sym).
			Side(binance.SideType(req.Side)).
			Quantity(req.Quantity.String()).
			Price(req.TakeProfitPrice.String()).
			StopPrice(req.StopPrice.String()).
			StopLimitPrice(req.StopLimitPrice.String()).
			StopLimitTimeInForce(binance.TimeInForceTypeGTC)
		if req.ListClientOrderID != "" {
			svc = svc.ListClientOrderID(req.ListClientOrderID)
		}
		var err error
		res, err = svc.Do(ctx, g.recvWindow())
		return err
	})
	if err != nil {
		return exchange.OcoExit{}, err
	}
	if res == nil {
		return exchange.OcoExit{}, fmt.Errorf("%w: empty oco response", exchange.ErrMalformed)
	}
	return ocoFromBinance(res)
}
