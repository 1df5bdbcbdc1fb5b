package decision

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const buyJSON = `{
  "signal": "buy",
  "confidence": "HIGH",
  "amount": 100,
  "amountUnit": "QUOTE",
  "entryType": "MARKET",
  "stopLoss": "1900",
  "takeProfit1": 2000,
  "takeProfit2": null,
  "expectedRiskReward": 2.5,
  "timeHorizonMinutes": 60,
  "reasoning": " momentum ",
  "memory": ["a", "b", "c", "d"]
}`

func TestParseProposal(t *testing.T) {
	p, err := ParseProposal([]byte(buyJSON), "ethusdt", fixedNow)
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", p.Symbol)
	assert.Equal(t, SignalBuy, p.Signal)
	assert.Equal(t, ConfidenceHigh, p.Confidence)
	assert.True(t, p.Amount.Decimal.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, UnitQuote, p.AmountUnit)
	assert.Equal(t, EntryMarket, p.EntryType)
	assert.True(t, p.StopLoss.Decimal.Equal(decimal.NewFromInt(1900)))
	assert.False(t, p.TakeProfit2.Valid)
	assert.False(t, p.EntryPrice.Valid)
	require.NotNil(t, p.TimeHorizonMinutes)
	assert.Equal(t, 60, *p.TimeHorizonMinutes)
	assert.Equal(t, "momentum", p.Reasoning)
	assert.Equal(t, []string{"a", "b", "c"}, p.Memory)
	assert.Equal(t, fixedNow, p.GeneratedAt)
	assert.True(t, p.IsActionable(DefaultMinRiskReward))
}

func TestParseProposalFromAgentReply(t *testing.T) {
	reply := "Trend is intact, entering now.\n```json\n" + buyJSON + "\n```\nGood luck."
	p, err := ParseProposal([]byte(reply), "ethusdt", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, SignalBuy, p.Signal)
	assert.True(t, p.TakeProfit1.Decimal.Equal(decimal.NewFromInt(2000)))
}

func TestParseProposalRejects(t *testing.T) {
	cases := map[string]string{
		"empty":       ``,
		"malformed":   `{"signal":`,
		"missing":     `{"signal":"BUY"}`,
		"type":        `{"signal":"BUY","confidence":"HIGH","amount":true}`,
		"signal":      `{"signal":"SHORT","confidence":"HIGH"}`,
		"confidence":  `{"signal":"BUY","confidence":"MAYBE"}`,
		"unit":        `{"signal":"BUY","confidence":"HIGH","amountUnit":"LOTS"}`,
		"entry":       `{"signal":"BUY","confidence":"HIGH","entryType":"STOP"}`,
		"bad_decimal": `{"signal":"BUY","confidence":"HIGH","amount":"abc"}`,
		"horizon":     `{"signal":"BUY","confidence":"HIGH","timeHorizonMinutes":1.5}`,
		"array":       `[{"signal":"BUY"}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProposal([]byte(raw), "ETHUSDT", fixedNow)
			assert.ErrorIs(t, err, ErrInvalidProposal)
		})
	}
}

func TestCheckActionable(t *testing.T) {
	base := func() Proposal {
		p, err := ParseProposal([]byte(buyJSON), "ETHUSDT", fixedNow)
		require.NoError(t, err)
		return p
	}
	assert.NoError(t, base().CheckActionable(DefaultMinRiskReward))

	hold := base()
	hold.Signal = SignalHold
	assert.Error(t, hold.CheckActionable(DefaultMinRiskReward))

	noAmount := base()
	noAmount.Amount = decimal.NullDecimal{}
	assert.False(t, noAmount.HasAmount())
	assert.Error(t, noAmount.CheckActionable(DefaultMinRiskReward))

	zero := base()
	zero.Amount = decimal.NewNullDecimal(decimal.Zero)
	assert.Error(t, zero.CheckActionable(DefaultMinRiskReward))

	noStop := base()
	noStop.StopLoss = decimal.NullDecimal{}
	assert.Error(t, noStop.CheckActionable(DefaultMinRiskReward))

	lowRR := base()
	lowRR.ExpectedRiskReward = decimal.NewNullDecimal(decimal.RequireFromString("1.99"))
	assert.Error(t, lowRR.CheckActionable(DefaultMinRiskReward))

	exactRR := base()
	exactRR.ExpectedRiskReward = decimal.NewNullDecimal(decimal.NewFromInt(2))
	assert.NoError(t, exactRR.CheckActionable(DefaultMinRiskReward))

	limitNoPrice := base()
	limitNoPrice.EntryType = EntryLimit
	assert.Error(t, limitNoPrice.CheckActionable(DefaultMinRiskReward))
}

func TestTimeHorizon(t *testing.T) {
	var p Proposal
	_, ok := p.TimeHorizon()
	assert.False(t, ok)
	m := 90
	p.TimeHorizonMinutes = &m
	d, ok := p.TimeHorizon()
	assert.True(t, ok)
	assert.Equal(t, 90*time.Minute, d)
}

func TestFileSourceConsumesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proposal.json")
	src := NewFileSource(path, "ETHUSDT")

	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, ErrNoProposal)

	require.NoError(t, os.WriteFile(path, []byte(buyJSON), 0o644))
	p, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SignalBuy, p.Signal)
	_, statErr := os.Stat(path + ".done")
	assert.NoError(t, statErr)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrNoProposal)
}

func TestLoadProposalFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.yaml")
	body := "signal: SELL\nconfidence: MEDIUM\namount: 0.5\namountUnit: BASE\nentryType: LIMIT\nentryPrice: 2100.5\nstopLoss: 2200\ntakeProfit1: 1900\nexpectedRiskReward: 3\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	p, err := LoadProposalFile(path, "ETHUSDT", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, SignalSell, p.Signal)
	assert.Equal(t, UnitBase, p.AmountUnit)
	assert.True(t, p.EntryPrice.Decimal.Equal(decimal.RequireFromString("2100.5")))
}

func TestDirWatcherProcessesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.json"), []byte(buyJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"signal":`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Proposal, 4)
	w := NewDirWatcher(dir, "ETHUSDT")
	go func() {
		_ = w.Run(ctx, func(_ context.Context, p Proposal) error {
			got <- p
			return nil
		})
	}()

	select {
	case p := <-got:
		assert.Equal(t, SignalBuy, p.Signal)
	case <-time.After(2 * time.Second):
		t.Fatal("proposal not delivered")
	}
	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "bad.json.rejected"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}
