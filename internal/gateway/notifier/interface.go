package notifier

import (
	"context"
	"errors"
	"time"

	"spotpilot/internal/logger"
)

// TextNotifier defines a minimal text notification interface.
// It is intentionally small so different components can depend on it without
// importing concrete implementations (e.g. Telegram).
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

type Kind string

const (
	KindTradeExecuted Kind = "trade_executed"
	KindTradeSkipped  Kind = "trade_skipped"
	KindOCOPlaced     Kind = "oco_placed"
	KindEntryFilled   Kind = "entry_filled"
	KindEntryExpired  Kind = "entry_expired"
	KindError         Kind = "error"
)

// Event is a plain lifecycle notification. Fields carry ids and amounts as
// already formatted strings.
type Event struct {
	Kind             Kind              `json:"kind"`
	Symbol           string            `json:"symbol,omitempty"`
	RecommendationID int64             `json:"recommendationId,omitempty"`
	Message          string            `json:"message"`
	Fields           map[string]string `json:"fields,omitempty"`
	At               time.Time         `json:"at"`
}

// Sink receives lifecycle events. Delivery failures are returned but callers
// only log them.
type Sink interface {
	Notify(ctx context.Context, evt Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt Event) error

func (f SinkFunc) Notify(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, evt Event) error {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to the structured log.
type LogSink struct{}

func (LogSink) Notify(_ context.Context, evt Event) error {
	log := logger.Named("notify")
	if evt.Kind == KindError {
		log.Warnf("[%s] %s #%d %s", evt.Kind, evt.Symbol, evt.RecommendationID, evt.Message)
		return nil
	}
	log.Infof("[%s] %s #%d %s", evt.Kind, evt.Symbol, evt.RecommendationID, evt.Message)
	return nil
}

// TextSink renders events and hands them to a TextNotifier. Kinds limits
// which events are forwarded; empty forwards all.
type TextSink struct {
	Notifier TextNotifier
	Kinds    map[Kind]bool
}

func (s TextSink) Notify(ctx context.Context, evt Event) error {
	if s.Notifier == nil {
		return nil
	}
	if len(s.Kinds) > 0 && !s.Kinds[evt.Kind] {
		return nil
	}
	return s.Notifier.SendText(ctx, Render(evt))
}
