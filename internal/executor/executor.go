// Package executor turns admitted proposals into exchange entry orders and
// places the OCO exit once an entry fills.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"spotpilot/internal/decision"
	"spotpilot/internal/gateway/exchange"
	"spotpilot/internal/logger"
	"spotpilot/internal/metrics"
	"spotpilot/internal/pkg/trading"
	"spotpilot/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrMissingCredentials 表示未配置 API key/secret，不可重试。
	ErrMissingCredentials = errors.New("exchange credentials not configured")
	// ErrDryRun is returned when credentials exist but trading.live is off.
	ErrDryRun = errors.New("live trading disabled")
	// ErrInvalidProposal marks proposals that cannot be turned into an order.
	ErrInvalidProposal = errors.New("invalid proposal")
)

const (
	DefaultStopLimitOffset = 0.005
	clientIDPrefix         = "sp-"
	exitIDPrefix           = "sp-exit-"
)

// RulesProvider returns trading rules for a symbol; *market.RulesCache satisfies it.
type RulesProvider interface {
	Rules(ctx context.Context, symbol string) (exchange.TradingRules, error)
}

type Options struct {
	Live            bool
	HasCredentials  bool
	StopLimitOffset float64
	Metrics         *metrics.Metrics
	// NewClientID overrides the generated client order id (tests).
	NewClientID func() string
}

// Executor places entry orders and OCO exits through an exchange.Gateway.
type Executor struct {
	gw      exchange.Gateway
	rules   RulesProvider
	live    bool
	creds   bool
	offset  decimal.Decimal
	metrics *metrics.Metrics
	newID   func() string
	log     *logger.Component
}

func New(gw exchange.Gateway, rules RulesProvider, opts Options) *Executor {
	offset := opts.StopLimitOffset
	if offset <= 0 || offset >= 1 {
		offset = DefaultStopLimitOffset
	}
	newID := opts.NewClientID
	if newID == nil {
		newID = NewClientOrderID
	}
	return &Executor{
		gw:      gw,
		rules:   rules,
		live:    opts.Live,
		creds:   opts.HasCredentials,
		offset:  decimal.NewFromFloat(offset),
		metrics: opts.Metrics,
		newID:   newID,
		log:     logger.Named("executor"),
	}
}

// NewClientOrderID returns "sp-" plus a dashless uuid (35 chars).
func NewClientOrderID() string {
	return clientIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ExitClientID is the deterministic OCO list id for a record.
func ExitClientID(recordID int64) string {
	return fmt.Sprintf("%s%d", exitIDPrefix, recordID)
}

// Live reports whether orders will actually be sent.
func (e *Executor) Live() bool {
	return e.live && e.creds
}

func (e *Executor) ready() error {
	if !e.creds {
		return ErrMissingCredentials
	}
	if !e.live {
		return ErrDryRun
	}
	return nil
}

// Execute places the entry order for p and returns the acknowledged order.
// The result status is FILLED when the entry executed on placement.
func (e *Executor) Execute(ctx context.Context, p decision.Proposal) (*store.ExecutionResult, exchange.Order, error) {
	if err := e.ready(); err != nil {
		return nil, exchange.Order{}, err
	}
	req, err := e.buildEntry(ctx, p)
	if err != nil {
		e.metrics.OrderFailed(failureKind(err))
		return nil, exchange.Order{}, err
	}
	e.log.Infof("placing %s %s %s qty=%s quote=%s price=%s cid=%s",
		req.Side, req.Type, req.Symbol, req.Quantity, req.QuoteQuantity, req.Price, req.ClientOrderID)
	order, err := e.gw.PlaceOrder(ctx, req)
	if err != nil {
		e.metrics.OrderFailed(failureKind(err))
		e.log.Errorf("place %s %s %s failed: %v", req.Side, req.Type, req.Symbol, err)
		return nil, exchange.Order{}, fmt.Errorf("place entry order: %w", err)
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = req.ClientOrderID
	}
	if order.Type == "" {
		order.Type = req.Type
	}
	if order.Side == "" {
		order.Side = req.Side
	}
	e.metrics.OrderPlaced(string(req.Side), string(req.Type))
	return store.NewExecutionResult(order), order, nil
}

func (e *Executor) buildEntry(ctx context.Context, p decision.Proposal) (exchange.OrderRequest, error) {
	var req exchange.OrderRequest
	if !p.HasAmount() {
		return req, fmt.Errorf("%w: amount must be > 0", ErrInvalidProposal)
	}
	if strings.TrimSpace(p.Symbol) == "" {
		return req, fmt.Errorf("%w: symbol is empty", ErrInvalidProposal)
	}
	rules, err := e.rules.Rules(ctx, p.Symbol)
	if err != nil {
		return req, err
	}
	req = exchange.OrderRequest{Symbol: rules.Symbol, ClientOrderID: e.newID()}
	switch p.Signal {
	case decision.SignalBuy:
		req.Side = exchange.SideBuy
	case decision.SignalSell:
		req.Side = exchange.SideSell
	default:
		return req, fmt.Errorf("%w: signal %s is not tradable", ErrInvalidProposal, p.Signal)
	}
	entry := p.EntryType
	if entry == decision.EntryNone {
		entry = decision.EntryMarket
	}
	unit := p.AmountUnit
	if unit == decision.UnitNone {
		// 买入默认按计价币，卖出默认按标的币
		if req.Side == exchange.SideBuy {
			unit = decision.UnitQuote
		} else {
			unit = decision.UnitBase
		}
	}
	amount := p.Amount.Decimal

	switch entry {
	case decision.EntryMarket:
		req.Type = exchange.TypeMarket
		if req.Side == exchange.SideBuy && unit == decision.UnitQuote {
			if req.QuoteQuantity, err = trading.NormalizeQuoteAmount(amount, rules); err != nil {
				return req, err
			}
			return req, nil
		}
		qty := amount
		var ref decimal.Decimal
		if unit == decision.UnitQuote || rules.MinNotional.IsPositive() {
			if ref, err = e.gw.LastPrice(ctx, rules.Symbol); err != nil {
				return req, fmt.Errorf("last price %s: %w", rules.Symbol, err)
			}
			if !ref.IsPositive() {
				return req, fmt.Errorf("%w: non-positive price for %s", exchange.ErrMalformed, rules.Symbol)
			}
		}
		if unit == decision.UnitQuote {
			qty = amount.Div(ref)
		}
		if req.Quantity, err = trading.NormalizeQuantity(qty, rules); err != nil {
			return req, err
		}
		if ref.IsPositive() {
			if err := trading.CheckNotional(req.Quantity, ref, rules); err != nil {
				return req, err
			}
		}
		return req, nil

	case decision.EntryLimit:
		req.Type = exchange.TypeLimit
		if !p.EntryPrice.Valid || !p.EntryPrice.Decimal.IsPositive() {
			return req, fmt.Errorf("%w: entryPrice is required for LIMIT entries", ErrInvalidProposal)
		}
		req.Price = trading.NormalizePrice(p.EntryPrice.Decimal, rules)
		if !req.Price.IsPositive() {
			return req, fmt.Errorf("%w: entryPrice %s below tick size", ErrInvalidProposal, p.EntryPrice.Decimal)
		}
		qty := amount
		if unit == decision.UnitQuote {
			qty = amount.Div(req.Price)
		}
		if req.Quantity, err = trading.NormalizeQuantity(qty, rules); err != nil {
			return req, err
		}
		if err := trading.CheckNotional(req.Quantity, req.Price, rules); err != nil {
			return req, err
		}
		return req, nil
	}
	return req, fmt.Errorf("%w: unsupported entry type %q", ErrInvalidProposal, entry)
}

// ExitRequest describes the OCO protecting a filled BUY entry.
type ExitRequest struct {
	RecordID   int64
	Symbol     string
	Quantity   decimal.Decimal
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
}

// ExitRequestFor builds the exit for a filled record, or false when the
// record has no targets or no executed quantity.
func ExitRequestFor(rec store.Recommendation) (ExitRequest, bool) {
	p := rec.Proposal
	if !p.HasExitTargets() || rec.ExecutionResult == nil || !rec.ExecutionResult.ExecutedQuantity.IsPositive() {
		return ExitRequest{}, false
	}
	return ExitRequest{
		RecordID:   rec.ID,
		Symbol:     p.Symbol,
		Quantity:   rec.ExecutionResult.ExecutedQuantity,
		TakeProfit: p.TakeProfit1.Decimal,
		StopLoss:   p.StopLoss.Decimal,
	}, true
}

// PlaceExit places the OCO SELL list. Callers must hold the record's exit claim.
func (e *Executor) PlaceExit(ctx context.Context, req ExitRequest) (*exchange.OcoExit, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if req.RecordID <= 0 {
		return nil, fmt.Errorf("%w: exit without record id", ErrInvalidProposal)
	}
	if !req.TakeProfit.IsPositive() || !req.StopLoss.IsPositive() {
		return nil, fmt.Errorf("%w: exit needs takeProfit and stopLoss", ErrInvalidProposal)
	}
	if !req.TakeProfit.GreaterThan(req.StopLoss) {
		return nil, fmt.Errorf("%w: takeProfit %s must be above stopLoss %s", ErrInvalidProposal, req.TakeProfit, req.StopLoss)
	}
	rules, err := e.rules.Rules(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	qty, err := trading.NormalizeQuantity(req.Quantity, rules)
	if err != nil {
		return nil, err
	}
	stopLimit := req.StopLoss.Mul(decimal.NewFromInt(1).Sub(e.offset))
	oco := exchange.OcoRequest{
		Symbol:            rules.Symbol,
		Side:              exchange.SideSell,
		Quantity:          qty,
		TakeProfitPrice:   trading.NormalizePrice(req.TakeProfit, rules),
		StopPrice:         trading.NormalizePrice(req.StopLoss, rules),
		StopLimitPrice:    trading.NormalizePrice(stopLimit, rules),
		ListClientOrderID: ExitClientID(req.RecordID),
	}
	if err := trading.CheckNotional(oco.Quantity, oco.StopLimitPrice, rules); err != nil {
		return nil, err
	}
	e.log.Infof("placing OCO %s qty=%s tp=%s stop=%s stop_limit=%s list=%s",
		oco.Symbol, oco.Quantity, oco.TakeProfitPrice, oco.StopPrice, oco.StopLimitPrice, oco.ListClientOrderID)
	out, err := e.gw.PlaceOCO(ctx, oco)
	if err != nil {
		e.metrics.OrderFailed(failureKind(err))
		return nil, fmt.Errorf("place oco: %w", err)
	}
	e.metrics.OCOPlacedInc()
	return &out, nil
}

func failureKind(err error) string {
	var rej *exchange.RejectedError
	switch {
	case errors.Is(err, ErrMissingCredentials), errors.Is(err, exchange.ErrUnauthenticated):
		return "credentials"
	case errors.Is(err, trading.ErrBelowMinimum):
		return "below_minimum"
	case errors.Is(err, ErrInvalidProposal):
		return "invalid"
	case errors.As(err, &rej):
		return "rejected"
	case exchange.IsRetryable(err):
		return "transient"
	}
	return "other"
}
