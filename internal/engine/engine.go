// Package engine runs one proposal through save, admission, execution and
// attach. It is the decision-trigger side of the lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"

	"spotpilot/internal/admission"
	"spotpilot/internal/decision"
	"spotpilot/internal/executor"
	"spotpilot/internal/gateway/exchange"
	"spotpilot/internal/gateway/notifier"
	"spotpilot/internal/logger"
	"spotpilot/internal/metrics"
	"spotpilot/internal/store"

	"github.com/shopspring/decimal"
)

// Executor places entry orders; *executor.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, p decision.Proposal) (*store.ExecutionResult, exchange.Order, error)
}

// FeeSource quotes the taker fee; *market.FeeCache satisfies it.
type FeeSource interface {
	TakerFee(ctx context.Context) (decimal.Decimal, bool)
}

// PriceSource quotes the last trade price; exchange.Gateway satisfies it.
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type Deps struct {
	Store     store.Store
	Admission *admission.Controller
	Executor  Executor
	Fees      FeeSource
	Prices    PriceSource
	Sink      notifier.Sink
	Metrics   *metrics.Metrics
}

// Outcome describes what happened to one submitted proposal.
type Outcome struct {
	RecordID int64                  `json:"recordId"`
	Record   store.Recommendation   `json:"record"`
	Admitted bool                   `json:"admitted"`
	Reason   admission.Reason       `json:"reason,omitempty"`
	Detail   string                 `json:"detail,omitempty"`
	DryRun   bool                   `json:"dryRun,omitempty"`
	Executed bool                   `json:"executed"`
	Result   *store.ExecutionResult `json:"result,omitempty"`
	Order    *exchange.Order        `json:"order,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

type Engine struct {
	deps Deps
	log  *logger.Component
}

func New(deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("engine: executor is required")
	}
	if deps.Admission == nil {
		deps.Admission = admission.NewController(0, false)
	}
	return &Engine{deps: deps, log: logger.Named("engine")}, nil
}

// Submit persists p, evaluates admission and, when admitted, places the entry
// and links it to the stored record.
func (e *Engine) Submit(ctx context.Context, p decision.Proposal) (Outcome, error) {
	e.deps.Metrics.ProposalReceived(string(p.Signal))
	rec, err := e.deps.Store.Save(ctx, p)
	if err != nil {
		return Outcome{}, fmt.Errorf("save proposal: %w", err)
	}
	out := Outcome{RecordID: rec.ID, Record: rec}
	e.log.Infof("proposal #%d %s %s confidence=%s amount=%s %s entry=%s",
		rec.ID, p.Symbol, p.Signal, p.Confidence, nullString(p.Amount), p.AmountUnit, p.EntryType)

	verdict := e.deps.Admission.Evaluate(p, e.feeEstimate(ctx, p))
	out.Admitted = verdict.Admitted
	out.Reason = verdict.Reason
	out.Detail = verdict.Detail
	if !verdict.Admitted {
		e.deps.Metrics.AdmissionRejected(string(verdict.Reason))
		e.log.Infof("proposal #%d skipped: %s", rec.ID, verdict.Detail)
		if p.Signal != decision.SignalHold {
			e.notify(ctx, notifier.Event{
				Kind:             notifier.KindTradeSkipped,
				Symbol:           p.Symbol,
				RecommendationID: rec.ID,
				Message:          verdict.Detail,
				Fields:           map[string]string{"signal": string(p.Signal), "confidence": string(p.Confidence)},
			})
		}
		return out, nil
	}
	if verdict.Detail != "" {
		e.log.Warnf("proposal #%d: %s", rec.ID, verdict.Detail)
	}

	res, order, err := e.deps.Executor.Execute(ctx, p)
	if errors.Is(err, executor.ErrDryRun) {
		out.DryRun = true
		out.Detail = "dry run: order not placed"
		e.log.Infof("proposal #%d admitted, dry run", rec.ID)
		e.notify(ctx, notifier.Event{
			Kind:             notifier.KindTradeSkipped,
			Symbol:           p.Symbol,
			RecommendationID: rec.ID,
			Message:          out.Detail,
		})
		return out, nil
	}
	if err != nil {
		out.Error = err.Error()
		rec.LastError = "execute: " + err.Error()
		if uerr := e.deps.Store.Update(ctx, &rec); uerr != nil {
			e.log.Errorf("record execution failure on #%d: %v", rec.ID, uerr)
		}
		out.Record = rec
		e.notify(ctx, notifier.Event{
			Kind:             notifier.KindError,
			Symbol:           p.Symbol,
			RecommendationID: rec.ID,
			Message:          "entry order failed",
			Fields:           map[string]string{"error": err.Error()},
		})
		return out, fmt.Errorf("execute proposal #%d: %w", rec.ID, err)
	}

	executed := order.Status == exchange.StatusFilled
	attached, err := e.deps.Store.AttachExecution(ctx, p, executed, order)
	if err != nil {
		// 订单已在交易所，记录失败需人工核对
		e.log.Errorf("order %d placed for #%d but attach failed: %v", order.OrderID, rec.ID, err)
		out.Order = &order
		out.Error = err.Error()
		return out, fmt.Errorf("attach execution: %w", err)
	}
	out.RecordID = attached.ID
	out.Record = attached
	out.Executed = executed
	out.Result = res
	out.Order = &order

	fields := map[string]string{
		"order_id": fmt.Sprint(order.OrderID),
		"type":     string(order.Type),
		"status":   string(order.Status),
	}
	if executed {
		fields["qty"] = order.ExecutedQuantity.String()
		fields["avg_price"] = order.AveragePrice().String()
	}
	e.notify(ctx, notifier.Event{
		Kind:             notifier.KindTradeExecuted,
		Symbol:           p.Symbol,
		RecommendationID: attached.ID,
		Message:          fmt.Sprintf("%s %s entry placed", p.Signal, order.Type),
		Fields:           fields,
	})
	return out, nil
}

// RunDecision pulls one proposal from src and submits it. Used as the
// aligned scheduler task.
func (e *Engine) RunDecision(ctx context.Context, src decision.Source) {
	if src == nil {
		return
	}
	p, err := src.Next(ctx)
	if errors.Is(err, decision.ErrNoProposal) {
		e.log.Debugf("decision tick: no proposal")
		return
	}
	if err != nil {
		e.log.Errorf("decision source failed: %v", err)
		e.notify(ctx, notifier.Event{Kind: notifier.KindError, Message: "decision source failed", Fields: map[string]string{"error": err.Error()}})
		return
	}
	if _, err := e.Submit(ctx, p); err != nil {
		e.log.Errorf("submit proposal: %v", err)
	}
}

// Handle submits p and drops the outcome; it fits decision.DirWatcher.
func (e *Engine) Handle(ctx context.Context, p decision.Proposal) error {
	_, err := e.Submit(ctx, p)
	return err
}

func (e *Engine) feeEstimate(ctx context.Context, p decision.Proposal) admission.FeeEstimate {
	var est admission.FeeEstimate
	if p.Signal != decision.SignalBuy || !p.TakeProfit1.Valid {
		return est
	}
	if e.deps.Fees != nil {
		if fee, ok := e.deps.Fees.TakerFee(ctx); ok {
			est.TakerFee = decimal.NewNullDecimal(fee)
		}
	}
	if p.EntryType != decision.EntryLimit && e.deps.Prices != nil {
		price, err := e.deps.Prices.LastPrice(ctx, p.Symbol)
		if err != nil {
			e.log.Warnf("last price %s for fee gate: %v", p.Symbol, err)
		} else if price.IsPositive() {
			est.MarketPrice = decimal.NewNullDecimal(price)
		}
	}
	return est
}

func (e *Engine) notify(ctx context.Context, evt notifier.Event) {
	if e.deps.Sink == nil {
		return
	}
	if err := e.deps.Sink.Notify(ctx, evt); err != nil {
		e.log.Warnf("notify %s: %v", evt.Kind, err)
	}
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.String()
}
