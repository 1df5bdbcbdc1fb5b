package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway is the subset of a spot exchange the order lifecycle needs.
// Implementations sign authenticated calls and classify errors into
// ErrTransient, ErrMalformed, ErrNotFound, ErrUnauthenticated or *RejectedError.
type Gateway interface {
	Name() string

	TradingRules(ctx context.Context, symbols ...string) ([]TradingRules, error)
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	Account(ctx context.Context) (Account, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	QueryOrder(ctx context.Context, ref OrderRef) (Order, error)
	CancelOrder(ctx context.Context, ref OrderRef) (Order, error)
	PlaceOCO(ctx context.Context, req OcoRequest) (OcoExit, error)
}
