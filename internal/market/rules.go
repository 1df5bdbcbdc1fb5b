// Package market holds read-mostly exchange snapshots shared by the decision
// and reconciliation triggers: trading rules and fee quotes.
package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"spotpilot/internal/gateway/exchange"
	"spotpilot/internal/logger"
	"spotpilot/internal/pkg/symbol"
)

// RulesSource fetches trading rules; exchange.Gateway satisfies it.
type RulesSource interface {
	TradingRules(ctx context.Context, symbols ...string) ([]exchange.TradingRules, error)
}

type rulesSnapshot struct {
	bySymbol  map[string]exchange.TradingRules
	fetchedAt time.Time
}

// RulesCache is an immutable snapshot of trading rules swapped atomically on
// refresh. Readers never see a partially built map.
type RulesCache struct {
	src     RulesSource
	symbols []string
	snap    atomic.Pointer[rulesSnapshot]
	mergeMu sync.Mutex // serializes snapshot merges
	nowFn   func() time.Time
	log     *logger.Component
}

func NewRulesCache(src RulesSource, symbols []string) *RulesCache {
	c := &RulesCache{
		src:     src,
		symbols: symbol.NormalizeList(symbols),
		nowFn:   time.Now,
		log:     logger.Named("rules"),
	}
	c.snap.Store(&rulesSnapshot{bySymbol: map[string]exchange.TradingRules{}})
	return c
}

// Load fetches rules for the configured symbols and replaces the snapshot.
func (c *RulesCache) Load(ctx context.Context) error {
	return c.refresh(ctx, c.symbols)
}

// Refresh fetches rules for symbol only and merges them into a new snapshot.
func (c *RulesCache) Refresh(ctx context.Context, sym string) error {
	return c.refresh(ctx, symbol.NormalizeList([]string{sym}))
}

func (c *RulesCache) refresh(ctx context.Context, symbols []string) error {
	if c.src == nil {
		return fmt.Errorf("rules source not configured")
	}
	rules, err := c.src.TradingRules(ctx, symbols...)
	if err != nil {
		return fmt.Errorf("fetch trading rules: %w", err)
	}
	c.mergeMu.Lock()
	defer c.mergeMu.Unlock()
	old := c.snap.Load()
	next := &rulesSnapshot{
		bySymbol:  make(map[string]exchange.TradingRules, len(old.bySymbol)+len(rules)),
		fetchedAt: c.nowFn(),
	}
	for k, v := range old.bySymbol {
		next.bySymbol[k] = v
	}
	for _, r := range rules {
		next.bySymbol[strings.ToUpper(r.Symbol)] = r
		c.log.Infof("trading rules %s step=%s tick=%s min_qty=%s min_notional=%s",
			r.Symbol, r.StepSize, r.TickSize, r.MinQuantity, r.MinNotional)
	}
	c.snap.Store(next)
	return nil
}

// Get returns the rules for symbol from the current snapshot.
func (c *RulesCache) Get(sym string) (exchange.TradingRules, bool) {
	r, ok := c.snap.Load().bySymbol[symbol.Normalize(sym)]
	return r, ok
}

// Rules returns cached rules, refreshing on demand for an unseen symbol.
func (c *RulesCache) Rules(ctx context.Context, sym string) (exchange.TradingRules, error) {
	if r, ok := c.Get(sym); ok {
		return r, nil
	}
	if err := c.Refresh(ctx, sym); err != nil {
		return exchange.TradingRules{}, err
	}
	if r, ok := c.Get(sym); ok {
		return r, nil
	}
	return exchange.TradingRules{}, fmt.Errorf("%w: %s", exchange.ErrUnknownSymbol, sym)
}

// All returns a copy of the current snapshot.
func (c *RulesCache) All() []exchange.TradingRules {
	snap := c.snap.Load()
	out := make([]exchange.TradingRules, 0, len(snap.bySymbol))
	for _, r := range snap.bySymbol {
		out = append(out, r)
	}
	return out
}

func (c *RulesCache) FetchedAt() time.Time {
	return c.snap.Load().fetchedAt
}
