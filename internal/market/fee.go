package market

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"spotpilot/internal/gateway/exchange"
	"spotpilot/internal/logger"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const DefaultFeeTTL = 10 * time.Minute

// AccountSource reports the account commission rates; exchange.Gateway satisfies it.
type AccountSource interface {
	Account(ctx context.Context) (exchange.Account, error)
}

type feeSnapshot struct {
	taker     decimal.Decimal
	fetchedAt time.Time
}

// FeeCache keeps a short-lived taker fee quote. Concurrent misses share one
// account request.
type FeeCache struct {
	src   AccountSource
	ttl   time.Duration
	snap  atomic.Pointer[feeSnapshot]
	group singleflight.Group
	nowFn func() time.Time
	log   *logger.Component
}

func NewFeeCache(src AccountSource, ttl time.Duration) *FeeCache {
	if ttl <= 0 {
		ttl = DefaultFeeTTL
	}
	return &FeeCache{src: src, ttl: ttl, nowFn: time.Now, log: logger.Named("fees")}
}

// TakerFee returns the taker commission as a fraction (0.001 = 0.1%).
// ok is false when no quote could be obtained at all; a stale quote is
// returned if the refresh fails.
func (c *FeeCache) TakerFee(ctx context.Context) (fee decimal.Decimal, ok bool) {
	now := c.nowFn()
	cur := c.snap.Load()
	if cur != nil && now.Sub(cur.fetchedAt) < c.ttl {
		return cur.taker, true
	}
	v, err, _ := c.group.Do("taker", func() (any, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		if cur != nil {
			c.log.Warnf("fee refresh failed, using quote from %s: %v", cur.fetchedAt.Format(time.RFC3339), err)
			return cur.taker, true
		}
		c.log.Warnf("fee quote unavailable: %v", err)
		return decimal.Zero, false
	}
	return v.(*feeSnapshot).taker, true
}

func (c *FeeCache) fetch(ctx context.Context) (*feeSnapshot, error) {
	if c.src == nil {
		return nil, fmt.Errorf("account source not configured")
	}
	acct, err := c.src.Account(ctx)
	if err != nil {
		return nil, err
	}
	if acct.TakerCommission.IsNegative() {
		return nil, fmt.Errorf("%w: negative taker commission", exchange.ErrMalformed)
	}
	snap := &feeSnapshot{taker: acct.TakerCommission, fetchedAt: c.nowFn()}
	c.snap.Store(snap)
	return snap, nil
}

// Invalidate drops the current quote so the next call refetches.
func (c *FeeCache) Invalidate() {
	c.snap.Store(nil)
}
