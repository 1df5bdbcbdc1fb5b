// Package reconcile polls the exchange for pending entries and OCO exits and
// brings the recommendation store in line with what actually happened.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"spotpilot/internal/decision"
	"spotpilot/internal/executor"
	"spotpilot/internal/gateway/exchange"
	"spotpilot/internal/gateway/notifier"
	"spotpilot/internal/logger"
	"spotpilot/internal/metrics"
	"spotpilot/internal/pkg/text"
	"spotpilot/internal/store"
)

// ErrTickRunning is returned by RunOnce when another tick holds the loop.
var ErrTickRunning = errors.New("reconcile tick already running")

const (
	DefaultPendingLookback = 72 * time.Hour
	DefaultOCOLookback     = 7 * 24 * time.Hour
)

// OrderClient is the part of exchange.Gateway the loop polls.
type OrderClient interface {
	QueryOrder(ctx context.Context, ref exchange.OrderRef) (exchange.Order, error)
	CancelOrder(ctx context.Context, ref exchange.OrderRef) (exchange.Order, error)
}

// ExitPlacer places OCO exits; *executor.Executor satisfies it.
type ExitPlacer interface {
	PlaceExit(ctx context.Context, req executor.ExitRequest) (*exchange.OcoExit, error)
}

type Options struct {
	PendingLookback time.Duration
	OCOLookback     time.Duration
	// TickTimeout bounds one RunOnce; zero means no extra deadline.
	TickTimeout time.Duration
	Metrics     *metrics.Metrics
	Sink        notifier.Sink
	Now         func() time.Time
}

// Report counts what one tick did.
type Report struct {
	Checked     int           `json:"checked"`
	Filled      int           `json:"filled"`
	Expired     int           `json:"expired"`
	OCOPlaced   int           `json:"ocoPlaced"`
	ExitUpdates int           `json:"exitUpdates"`
	Errors      int           `json:"errors"`
	Duration    time.Duration `json:"duration"`
}

// Loop is single-writer: ticks never overlap, manual RunOnce calls included.
type Loop struct {
	store   store.Store
	orders  OrderClient
	exits   ExitPlacer
	sink    notifier.Sink
	metrics *metrics.Metrics
	opts    Options
	nowFn   func() time.Time
	mu      sync.Mutex
	log     *logger.Component
}

func New(st store.Store, orders OrderClient, exits ExitPlacer, opts Options) *Loop {
	if opts.PendingLookback <= 0 {
		opts.PendingLookback = DefaultPendingLookback
	}
	if opts.OCOLookback <= 0 {
		opts.OCOLookback = DefaultOCOLookback
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Loop{
		store:   st,
		orders:  orders,
		exits:   exits,
		sink:    opts.Sink,
		metrics: opts.Metrics,
		opts:    opts,
		nowFn:   nowFn,
		log:     logger.Named("reconcile"),
	}
}

// Tick adapts RunOnce to the scheduler callback; failures are already logged.
func (l *Loop) Tick(ctx context.Context) {
	if _, err := l.RunOnce(ctx); errors.Is(err, ErrTickRunning) {
		l.log.Warnf("skip scheduled tick: %v", err)
	}
}

// RunOnce runs one reconciliation pass. Per-record failures are counted in
// the report and never abort the pass; the returned error only reports
// failed store queries.
func (l *Loop) RunOnce(ctx context.Context) (Report, error) {
	if !l.mu.TryLock() {
		return Report{}, ErrTickRunning
	}
	defer l.mu.Unlock()

	if l.opts.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.TickTimeout)
		defer cancel()
	}
	begin := time.Now()
	t := &tick{Loop: l, now: l.nowFn(), attempted: map[int64]bool{}}

	var errs []error
	if err := t.pendingEntries(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := t.awaitingExit(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := t.exitOrders(ctx); err != nil {
		errs = append(errs, err)
	}
	t.report.Duration = time.Since(begin)

	err := errors.Join(errs...)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		l.log.Errorf("reconcile tick failed: %v", err)
	case t.report.Errors > 0:
		outcome = "partial"
	}
	l.metrics.TickDone(outcome, t.report.Duration)
	if t.report.Checked > 0 || t.report.Errors > 0 {
		l.log.Infof("tick done checked=%d filled=%d expired=%d oco=%d exit_updates=%d errors=%d took=%s",
			t.report.Checked, t.report.Filled, t.report.Expired, t.report.OCOPlaced,
			t.report.ExitUpdates, t.report.Errors, t.report.Duration.Round(time.Millisecond))
	} else {
		l.log.Debugf("tick done, nothing pending")
	}
	return t.report, err
}

// tick holds per-pass state.
type tick struct {
	*Loop
	now       time.Time
	report    Report
	attempted map[int64]bool
}

func (t *tick) pendingEntries(ctx context.Context) error {
	since := t.now.Add(-t.opts.PendingLookback)
	var errs []error
	for _, sig := range []decision.Signal{decision.SignalBuy, decision.SignalSell} {
		recs, err := t.store.FindPendingEntries(ctx, sig, since)
		if err != nil {
			errs = append(errs, fmt.Errorf("find pending %s entries: %w", sig, err))
			continue
		}
		for i := range recs {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.report.Checked++
			t.processEntry(ctx, &recs[i])
		}
	}
	return errors.Join(errs...)
}

func (t *tick) processEntry(ctx context.Context, rec *store.Recommendation) {
	order, err := t.orders.QueryOrder(ctx, rec.EntryRef())
	if err != nil {
		t.recordError(ctx, rec, "query", err)
		return
	}
	prev := rec.EntryOrderStatus
	rec.ApplyEntryOrder(order)

	switch {
	case order.Status == exchange.StatusFilled:
		rec.Executed = true
		rec.ExecutionResult = store.NewExecutionResult(order)
		rec.LastError = ""
		if err := t.persist(ctx, rec); err != nil {
			t.recordError(ctx, rec, "persist", err)
			return
		}
		t.report.Filled++
		t.metrics.EntryFilled()
		t.notify(ctx, notifier.Event{
			Kind:             notifier.KindEntryFilled,
			Symbol:           rec.Proposal.Symbol,
			RecommendationID: rec.ID,
			Message:          fmt.Sprintf("%s %s entry filled", rec.Proposal.Signal, rec.EntryOrderType),
			Fields: map[string]string{
				"order_id":  fmt.Sprint(order.OrderID),
				"qty":       order.ExecutedQuantity.String(),
				"avg_price": order.AveragePrice().String(),
			},
		})
		if rec.Proposal.Signal == decision.SignalBuy {
			t.placeExit(ctx, rec)
		}

	case order.Status.IsPending():
		if h, ok := rec.Proposal.TimeHorizon(); ok && t.now.After(rec.ExpiryAnchor().Add(h)) {
			t.expire(ctx, rec, h)
			return
		}
		if err := t.persist(ctx, rec); err != nil {
			t.recordError(ctx, rec, "persist", err)
		}

	default:
		if prev != order.Status {
			t.log.Infof("recommendation #%d entry %d ended %s", rec.ID, order.OrderID, order.Status)
		}
		if err := t.persist(ctx, rec); err != nil {
			t.recordError(ctx, rec, "persist", err)
		}
	}
}

func (t *tick) expire(ctx context.Context, rec *store.Recommendation, horizon time.Duration) {
	canceled, err := t.orders.CancelOrder(ctx, rec.EntryRef())
	if err != nil {
		t.recordError(ctx, rec, "cancel", err)
		return
	}
	rec.ApplyEntryOrder(canceled)
	if canceled.ExecutedQuantity.IsPositive() {
		// 部分成交后撤单：保留成交结果，不视为完整执行
		rec.ExecutionResult = store.NewExecutionResult(canceled)
	}
	rec.LastError = ""
	if err := t.persist(ctx, rec); err != nil {
		t.recordError(ctx, rec, "persist", err)
		return
	}
	t.report.Expired++
	t.metrics.EntryExpired()
	t.notify(ctx, notifier.Event{
		Kind:             notifier.KindEntryExpired,
		Symbol:           rec.Proposal.Symbol,
		RecommendationID: rec.ID,
		Message:          fmt.Sprintf("entry not filled within %s, canceled", horizon),
		Fields: map[string]string{
			"order_id": fmt.Sprint(rec.EntryOrderID),
			"status":   string(rec.EntryOrderStatus),
		},
	})
}

// awaitingExit covers BUY entries that filled on placement (market buys).
func (t *tick) awaitingExit(ctx context.Context) error {
	recs, err := t.store.FindAwaitingExit(ctx, t.now.Add(-t.opts.PendingLookback))
	if err != nil {
		return fmt.Errorf("find records awaiting exit: %w", err)
	}
	for i := range recs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if t.attempted[recs[i].ID] {
			continue
		}
		t.report.Checked++
		t.placeExit(ctx, &recs[i])
	}
	return nil
}

func (t *tick) placeExit(ctx context.Context, rec *store.Recommendation) {
	t.attempted[rec.ID] = true
	if rec.HasOCO() || rec.ExitState != store.ExitNone {
		return
	}
	req, ok := executor.ExitRequestFor(*rec)
	if !ok {
		return
	}
	claimed, err := t.store.ClaimExit(ctx, rec.ID)
	if err != nil {
		t.recordError(ctx, rec, "claim", err)
		return
	}
	if !claimed {
		t.log.Debugf("recommendation #%d exit already claimed", rec.ID)
		return
	}
	oco, err := t.exits.PlaceExit(ctx, req)
	if err != nil {
		if relErr := t.store.ReleaseExit(ctx, rec.ID); relErr != nil {
			t.log.Errorf("release exit claim #%d: %v", rec.ID, relErr)
		}
		t.recordError(ctx, rec, "exit", err)
		return
	}
	listID := oco.OrderListID
	rec.OCOOrderListID = &listID
	rec.ExitState = store.ExitPlaced
	rec.ExitOrders = make(map[int64]store.ExitOrder, len(oco.Orders))
	for _, o := range oco.Orders {
		if len(rec.ExitOrders) >= store.MaxExitOrders {
			break
		}
		rec.ExitOrders[o.OrderID] = store.ExitOrder{Status: o.Status, Type: o.Type}
	}
	rec.LastError = ""
	if err := t.persist(ctx, rec); err != nil {
		// OCO 已在交易所挂出，claim 保持 PLACING 以免重复下单
		t.recordError(ctx, rec, "persist", err)
		return
	}
	t.report.OCOPlaced++
	t.notify(ctx, notifier.Event{
		Kind:             notifier.KindOCOPlaced,
		Symbol:           rec.Proposal.Symbol,
		RecommendationID: rec.ID,
		Message:          "OCO exit placed",
		Fields: map[string]string{
			"order_list_id": fmt.Sprint(listID),
			"qty":           req.Quantity.String(),
			"take_profit":   req.TakeProfit.String(),
			"stop_loss":     req.StopLoss.String(),
		},
	})
}

func (t *tick) exitOrders(ctx context.Context) error {
	recs, err := t.store.FindWithOCOSince(ctx, t.now.Add(-t.opts.OCOLookback))
	if err != nil {
		return fmt.Errorf("find records with oco: %w", err)
	}
	for i := range recs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.trackExit(ctx, &recs[i])
	}
	return nil
}

func (t *tick) trackExit(ctx context.Context, rec *store.Recommendation) {
	changed := false
	failed := false
	for id, child := range rec.ExitOrders {
		if child.Status.IsTerminal() {
			continue
		}
		t.report.Checked++
		o, err := t.orders.QueryOrder(ctx, exchange.OrderRef{Symbol: rec.Proposal.Symbol, OrderID: id})
		if err != nil {
			t.log.Warnf("query exit order %d of #%d: %v", id, rec.ID, err)
			t.metrics.RecordError("exit_query")
			t.report.Errors++
			rec.LastError = "exit_query: " + err.Error()
			failed = true
			continue
		}
		next := store.ExitOrder{Status: o.Status, Type: o.Type}
		if next.Type == "" {
			next.Type = child.Type
		}
		if next != child {
			rec.ExitOrders[id] = next
			changed = true
			t.report.ExitUpdates++
			if o.Status == exchange.StatusFilled {
				t.log.Infof("recommendation #%d exit %s %d filled at %s", rec.ID, next.Type, id, o.AveragePrice())
			}
		}
	}
	if !changed && !failed {
		return
	}
	if changed && !failed {
		rec.LastError = ""
	}
	if err := t.persist(ctx, rec); err != nil {
		t.recordError(ctx, rec, "persist", err)
	}
}

func (t *tick) persist(ctx context.Context, rec *store.Recommendation) error {
	rec.UpdatedAt = t.nowFn().UTC()
	return t.store.Update(ctx, rec)
}

// recordError logs, counts and stores err on the record without aborting the tick.
// An error identical to the stored LastError is only counted; the record and
// the sinks already carry it.
func (t *tick) recordError(ctx context.Context, rec *store.Recommendation, stage string, err error) {
	t.report.Errors++
	t.metrics.RecordError(stage)
	msg := text.Truncate(stage+": "+err.Error(), store.MaxLastErrorLen)
	if msg == rec.LastError {
		t.log.Debugf("recommendation #%d %s still failing: %v", rec.ID, stage, err)
		return
	}
	t.log.Warnf("recommendation #%d %s failed: %v", rec.ID, stage, err)
	rec.LastError = msg
	if stage != "persist" {
		if perr := t.persist(ctx, rec); perr != nil {
			t.log.Errorf("persist error state of #%d: %v", rec.ID, perr)
		}
	}
	t.notify(ctx, notifier.Event{
		Kind:             notifier.KindError,
		Symbol:           rec.Proposal.Symbol,
		RecommendationID: rec.ID,
		Message:          fmt.Sprintf("reconcile %s failed", stage),
		Fields:           map[string]string{"error": err.Error()},
	})
}

func (t *tick) notify(ctx context.Context, evt notifier.Event) {
	if t.sink == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = t.nowFn().UTC()
	}
	if err := t.sink.Notify(ctx, evt); err != nil {
		t.log.Warnf("notify %s: %v", evt.Kind, err)
	}
}
