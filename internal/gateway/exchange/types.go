// Package exchange defines the spot exchange abstraction used by the order
// lifecycle engine: trading rules, orders, OCO exits and the Gateway contract.
package exchange

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusRejected        OrderStatus = "REJECTED"
)

// orderStatusTable maps exchange wire values onto the closed status set.
var orderStatusTable = map[string]OrderStatus{
	"NEW":              StatusNew,
	"PENDING_NEW":      StatusNew,
	"PARTIALLY_FILLED": StatusPartiallyFilled,
	"FILLED":           StatusFilled,
	"CANCELED":         StatusCanceled,
	"PENDING_CANCEL":   StatusCanceled,
	"EXPIRED":          StatusExpired,
	"EXPIRED_IN_MATCH": StatusExpired,
	"REJECTED":         StatusRejected,
}

// ParseOrderStatus rejects any value outside the mapping table.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	if s, ok := orderStatusTable[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown order status %q", ErrMalformed, raw)
}

// IsPending reports whether the order can still fill.
func (s OrderStatus) IsPending() bool {
	return s == StatusNew || s == StatusPartiallyFilled
}

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected:
		return true
	}
	return false
}

type OrderType string

const (
	TypeMarket          OrderType = "MARKET"
	TypeLimit           OrderType = "LIMIT"
	TypeLimitMaker      OrderType = "LIMIT_MAKER"
	TypeStopLoss        OrderType = "STOP_LOSS"
	TypeStopLossLimit   OrderType = "STOP_LOSS_LIMIT"
	TypeTakeProfit      OrderType = "TAKE_PROFIT"
	TypeTakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
)

var orderTypeTable = map[string]OrderType{
	"MARKET":            TypeMarket,
	"LIMIT":             TypeLimit,
	"LIMIT_MAKER":       TypeLimitMaker,
	"STOP_LOSS":         TypeStopLoss,
	"STOP_LOSS_LIMIT":   TypeStopLossLimit,
	"TAKE_PROFIT":       TypeTakeProfit,
	"TAKE_PROFIT_LIMIT": TypeTakeProfitLimit,
}

func ParseOrderType(raw string) (OrderType, error) {
	if t, ok := orderTypeTable[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown order type %q", ErrMalformed, raw)
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func ParseSide(raw string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	}
	return "", fmt.Errorf("%w: unknown side %q", ErrMalformed, raw)
}

// TradingRules are the per-symbol filters every order must satisfy.
// Precision fields are decimal places derived from step/tick size.
type TradingRules struct {
	Symbol            string          `json:"symbol"`
	BaseAsset         string          `json:"baseAsset"`
	QuoteAsset        string          `json:"quoteAsset"`
	StepSize          decimal.Decimal `json:"stepSize"`
	TickSize          decimal.Decimal `json:"tickSize"`
	QuantityPrecision int32           `json:"quantityPrecision"`
	PricePrecision    int32           `json:"pricePrecision"`
	MinQuantity       decimal.Decimal `json:"minQuantity"`
	MinNotional       decimal.Decimal `json:"minNotional"`
}

// PrecisionOf returns the decimal places of a step such as 0.001 -> 3.
// Zero or integral steps give 0.
func PrecisionOf(step decimal.Decimal) int32 {
	if !step.IsPositive() {
		return 0
	}
	// String() drops trailing zeros: 0.00100000 -> "0.001"
	str := step.String()
	if idx := strings.IndexByte(str, '.'); idx >= 0 {
		return int32(len(str) - idx - 1)
	}
	return 0
}

// Order is the exchange-side view of one order, as last observed.
type Order struct {
	OrderID                 int64           `json:"orderId"`
	ClientOrderID           string          `json:"clientOrderId"`
	OrderListID             int64           `json:"orderListId,omitempty"`
	Symbol                  string          `json:"symbol"`
	Side                    Side            `json:"side"`
	Type                    OrderType       `json:"type"`
	Status                  OrderStatus     `json:"status"`
	Price                   decimal.Decimal `json:"price"`
	StopPrice               decimal.Decimal `json:"stopPrice"`
	OrigQuantity            decimal.Decimal `json:"origQty"`
	ExecutedQuantity        decimal.Decimal `json:"executedQty"`
	CumulativeQuoteQuantity decimal.Decimal `json:"cummulativeQuoteQty"`
	PlacedAt                time.Time       `json:"placedAt"`
	UpdatedAt               time.Time       `json:"updatedAt"`
}

// AveragePrice is cumulative quote / executed quantity, falling back to the
// order price when nothing executed yet.
func (o Order) AveragePrice() decimal.Decimal {
	if o.ExecutedQuantity.IsPositive() && o.CumulativeQuoteQuantity.IsPositive() {
		return o.CumulativeQuoteQuantity.Div(o.ExecutedQuantity)
	}
	return o.Price
}

// OcoExit is an exchange OCO list: a take-profit leg and a stop-limit leg.
type OcoExit struct {
	OrderListID       int64   `json:"orderListId"`
	ListClientOrderID string  `json:"listClientOrderId"`
	Symbol            string  `json:"symbol"`
	Orders            []Order `json:"orders"`
}

// OrderRequest describes a new entry order. Exactly one of Quantity and
// QuoteQuantity is set; QuoteQuantity is only valid for MARKET orders.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      decimal.Decimal
	QuoteQuantity decimal.Decimal
	Price         decimal.Decimal
	ClientOrderID string
}

// OcoRequest describes an OCO exit sell (or buy) list.
type OcoRequest struct {
	Symbol            string
	Side              Side
	Quantity          decimal.Decimal
	TakeProfitPrice   decimal.Decimal
	StopPrice         decimal.Decimal
	StopLimitPrice    decimal.Decimal
	ListClientOrderID string
}

// OrderRef identifies an order by id and/or client order id.
type OrderRef struct {
	Symbol        string
	OrderID       int64
	ClientOrderID string
}

func (r OrderRef) Valid() bool {
	return strings.TrimSpace(r.Symbol) != "" && (r.OrderID > 0 || strings.TrimSpace(r.ClientOrderID) != "")
}

type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

type Account struct {
	TakerCommission decimal.Decimal `json:"takerCommission"`
	MakerCommission decimal.Decimal `json:"makerCommission"`
	CanTrade        bool            `json:"canTrade"`
	Balances        []Balance       `json:"balances"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}
