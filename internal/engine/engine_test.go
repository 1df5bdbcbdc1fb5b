package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"spotpilot/internal/admission"
	"spotpilot/internal/decision"
	"spotpilot/internal/executor"
	"spotpilot/internal/gateway/exchange"
	"spotpilot/internal/gateway/exchange/exchangetest"
	"spotpilot/internal/gateway/notifier"
	"spotpilot/internal/market"
	"spotpilot/internal/store/gormstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type captured struct {
	mu     sync.Mutex
	events []notifier.Event
}

func (c *captured) Notify(_ context.Context, evt notifier.Event) error {
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.mu.Unlock()
	return nil
}

func (c *captured) last() notifier.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return notifier.Event{}
	}
	return c.events[len(c.events)-1]
}

type harness struct {
	engine *Engine
	store  *gormstore.GormStore
	gw     *exchangetest.MockGateway
	events *captured
}

func newHarness(t *testing.T, live bool) *harness {
	t.Helper()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	st, err := gormstore.NewGormStore(filepath.Join(t.TempDir(), "spotpilot.db"),
		gormstore.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	gw := new(exchangetest.MockGateway)
	gw.On("Account", mock.Anything).Return(exchange.Account{TakerCommission: decimal.RequireFromString("0.001")}, nil).Maybe()
	gw.On("LastPrice", mock.Anything, "BTCUSDT").Return(decimal.NewFromInt(1950), nil).Maybe()

	exec := executor.New(gw, exchangetest.StaticRules{"BTCUSDT": exchangetest.BTCUSDT()}, executor.Options{
		Live:           live,
		HasCredentials: true,
	})
	events := &captured{}
	eng, err := New(Deps{
		Store:     st,
		Admission: admission.NewController(2, false),
		Executor:  exec,
		Fees:      market.NewFeeCache(gw, time.Minute),
		Prices:    gw,
		Sink:      events,
	})
	require.NoError(t, err)
	return &harness{engine: eng, store: st, gw: gw, events: events}
}

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func marketBuy() decision.Proposal {
	return decision.Proposal{
		Symbol:             "BTCUSDT",
		Signal:             decision.SignalBuy,
		Confidence:         decision.ConfidenceHigh,
		Amount:             nd("100"),
		AmountUnit:         decision.UnitQuote,
		EntryType:          decision.EntryMarket,
		StopLoss:           nd("1900"),
		TakeProfit1:        nd("2100"),
		ExpectedRiskReward: nd("3"),
	}
}

func TestSubmitMarketBuyEndToEnd(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.gw.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return req.Type == exchange.TypeMarket && req.QuoteQuantity.Equal(decimal.NewFromInt(100))
	})).Return(exchange.Order{
		OrderID:                 42,
		ClientOrderID:           "sp-1",
		Symbol:                  "BTCUSDT",
		Side:                    exchange.SideBuy,
		Type:                    exchange.TypeMarket,
		Status:                  exchange.StatusFilled,
		ExecutedQuantity:        decimal.RequireFromString("0.05128"),
		CumulativeQuoteQuantity: decimal.RequireFromString("99.996"),
	}, nil).Once()

	out, err := h.engine.Submit(ctx, marketBuy())
	require.NoError(t, err)
	assert.True(t, out.Admitted)
	assert.True(t, out.Executed)
	require.NotNil(t, out.Result)
	assert.True(t, out.Result.AveragePrice.Equal(decimal.NewFromInt(1950)))

	recent, err := h.store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	got := recent[0]
	assert.Equal(t, out.RecordID, got.ID)
	assert.True(t, got.Executed)
	assert.Equal(t, int64(42), got.EntryOrderID)
	require.NotNil(t, got.ExecutionResult)
	assert.True(t, got.ExecutionResult.AveragePrice.Equal(decimal.NewFromInt(1950)))
	assert.Equal(t, notifier.KindTradeExecuted, h.events.last().Kind)
	h.gw.AssertExpectations(t)
}

func TestSubmitLowConfidenceSkipped(t *testing.T) {
	h := newHarness(t, true)
	p := marketBuy()
	p.Confidence = decision.ConfidenceLow

	out, err := h.engine.Submit(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, out.Admitted)
	assert.Equal(t, admission.ReasonLowConfidence, out.Reason)
	assert.Equal(t, "confidence too low", out.Detail)
	assert.Equal(t, notifier.KindTradeSkipped, h.events.last().Kind)
	h.gw.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)

	got, err := h.store.Get(context.Background(), out.RecordID)
	require.NoError(t, err)
	assert.False(t, got.Executed)
}

func TestSubmitFeeGateRejects(t *testing.T) {
	h := newHarness(t, true)
	p := marketBuy()
	// (1952-1950)/1950 ≈ 0.10% < 0.2% round trip
	p.TakeProfit1 = nd("1952")

	out, err := h.engine.Submit(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, out.Admitted)
	assert.Equal(t, admission.ReasonFeeGate, out.Reason)
	h.gw.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestSubmitDryRun(t *testing.T) {
	h := newHarness(t, false)
	out, err := h.engine.Submit(context.Background(), marketBuy())
	require.NoError(t, err)
	assert.True(t, out.Admitted)
	assert.True(t, out.DryRun)
	assert.False(t, out.Executed)
	h.gw.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestSubmitExecutionFailureNotExecuted(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.gw.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(exchange.Order{}, &exchange.RejectedError{Code: -2010, Message: "insufficient balance"}).Once()

	out, err := h.engine.Submit(ctx, marketBuy())
	require.Error(t, err)
	var rej *exchange.RejectedError
	assert.True(t, errors.As(err, &rej))
	assert.Contains(t, out.Error, "insufficient balance")

	got, err := h.store.Get(ctx, out.RecordID)
	require.NoError(t, err)
	assert.False(t, got.Executed)
	assert.Contains(t, got.LastError, "insufficient balance")
	assert.Equal(t, notifier.KindError, h.events.last().Kind)
}

type staticSource struct {
	p   decision.Proposal
	err error
	n   int
}

func (s *staticSource) Next(context.Context) (decision.Proposal, error) {
	s.n++
	return s.p, s.err
}

func TestRunDecisionNoProposal(t *testing.T) {
	h := newHarness(t, true)
	src := &staticSource{err: decision.ErrNoProposal}
	h.engine.RunDecision(context.Background(), src)
	assert.Equal(t, 1, src.n)

	recent, err := h.store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestRunDecisionSubmitsHold(t *testing.T) {
	h := newHarness(t, true)
	p := marketBuy()
	p.Signal = decision.SignalHold
	h.engine.RunDecision(context.Background(), &staticSource{p: p})

	recent, err := h.store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, decision.SignalHold, recent[0].Proposal.Signal)
	assert.False(t, recent[0].Executed)
}
