package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"spotpilot/internal/config"
	"spotpilot/internal/decision"
	"spotpilot/internal/gateway/exchange"
	"spotpilot/internal/gateway/exchange/exchangetest"
	"spotpilot/internal/gateway/notifier"
	"spotpilot/internal/store/eventlog"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func loadTestConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	db := filepath.Join(dir, "spotpilot.db")
	body := fmt.Sprintf(`
trading:
  symbols: [btcusdt]
  decision_enabled: false
reconcile:
  enabled: false
http:
  enabled: false
store:
  path: %q
  event_log_path: %q
%s`, db, db, extra)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, *exchangetest.MockGateway) {
	t.Helper()
	gw := new(exchangetest.MockGateway)
	gw.On("TradingRules", mock.Anything, mock.Anything).Return([]exchange.TradingRules{exchangetest.BTCUSDT()}, nil).Maybe()
	gw.On("Account", mock.Anything).Return(exchange.Account{TakerCommission: decimal.RequireFromString("0.001")}, nil).Maybe()
	a, err := NewApp(cfg, WithGateway(gw))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, gw
}

func TestBuildWiresComponents(t *testing.T) {
	a, _ := newTestApp(t, loadTestConfig(t, ""))

	assert.NotNil(t, a.Store)
	assert.NotNil(t, a.Events)
	assert.NotNil(t, a.Engine)
	assert.NotNil(t, a.Reconciler)
	assert.Nil(t, a.HTTP)
	assert.False(t, a.Executor.Live())
	require.NotNil(t, a.Summary)
	assert.Equal(t, "mock", a.Summary.Exchange)
	assert.Equal(t, []string{"BTCUSDT"}, a.Summary.Symbols)
	assert.Equal(t, a.cfg.Store.Path, a.Summary.EventLogPath)
}

func TestBuildRejectsNilConfig(t *testing.T) {
	_, err := NewApp(nil)
	assert.Error(t, err)
}

func TestSkippedProposalJournaled(t *testing.T) {
	a, _ := newTestApp(t, loadTestConfig(t, ""))
	ctx := context.Background()

	p := decision.Proposal{
		Symbol:     "BTCUSDT",
		Signal:     decision.SignalBuy,
		Confidence: decision.ConfidenceLow,
		Amount:     decimal.NewNullDecimal(decimal.NewFromInt(100)),
		AmountUnit: decision.UnitQuote,
	}
	out, err := a.Engine.Submit(ctx, p)
	require.NoError(t, err)
	assert.False(t, out.Admitted)

	recs, err := a.Events.List(ctx, eventlog.Query{Kind: notifier.KindTradeSkipped})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, out.RecordID, recs[0].RecommendationID)
}

func TestRunReturnsWhenNothingEnabled(t *testing.T) {
	a, gw := newTestApp(t, loadTestConfig(t, ""))
	require.NoError(t, a.Run(context.Background()))

	_, ok := a.Rules.Get("BTCUSDT")
	assert.True(t, ok)
	gw.AssertCalled(t, "TradingRules", mock.Anything, mock.Anything)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := loadTestConfig(t, "")
	cfg.Reconcile.Enabled = true
	a, _ := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.Run(ctx))
}
