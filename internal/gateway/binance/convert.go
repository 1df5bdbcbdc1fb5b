package binance

import (
	"fmt"
	"strings"
	"time"

	"spotpilot/internal/gateway/exchange"

	binance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

var bpsDivisor = decimal.NewFromInt(10000)

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s=%q", exchange.ErrMalformed, field, raw)
	}
	return d, nil
}

func millis(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

func filterString(f map[string]interface{}, key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return decimal.NewFromFloat(t).String()
	default:
		return fmt.Sprint(t)
	}
}

// rulesFromSymbol reads LOT_SIZE, PRICE_FILTER and NOTIONAL (or the older
// MIN_NOTIONAL) filters.
func rulesFromSymbol(s binance.Symbol) (exchange.TradingRules, error) {
	rules := exchange.TradingRules{
		Symbol:     strings.ToUpper(s.Symbol),
		BaseAsset:  strings.ToUpper(s.BaseAsset),
		QuoteAsset: strings.ToUpper(s.QuoteAsset),
	}
	var (
		haveLot bool
		err     error
	)
	for _, f := range s.Filters {
		switch filterString(f, "filterType") {
		case "LOT_SIZE":
			if rules.StepSize, err = parseDecimal("stepSize", filterString(f, "stepSize")); err != nil {
				return rules, err
			}
			if rules.MinQuantity, err = parseDecimal("minQty", filterString(f, "minQty")); err != nil {
				return rules, err
			}
			haveLot = true
		case "PRICE_FILTER":
			if rules.TickSize, err = parseDecimal("tickSize", filterString(f, "tickSize")); err != nil {
				return rules, err
			}
		case "NOTIONAL", "MIN_NOTIONAL":
			minNotional, err := parseDecimal("minNotional", filterString(f, "minNotional"))
			if err != nil {
				return rules, err
			}
			if minNotional.GreaterThan(rules.MinNotional) {
				rules.MinNotional = minNotional
			}
		}
	}
	if !haveLot || !rules.StepSize.IsPositive() {
		return rules, fmt.Errorf("%w: %s has no LOT_SIZE step", exchange.ErrMalformed, rules.Symbol)
	}
	rules.QuantityPrecision = exchange.PrecisionOf(rules.StepSize)
	if rules.TickSize.IsPositive() {
		rules.PricePrecision = exchange.PrecisionOf(rules.TickSize)
	} else {
		rules.PricePrecision = 8
	}
	return rules, nil
}

func accountFromBinance(a *binance.Account) (exchange.Account, error) {
	out := exchange.Account{
		TakerCommission: decimal.NewFromInt(a.TakerCommission).Div(bpsDivisor),
		MakerCommission: decimal.NewFromInt(a.MakerCommission).Div(bpsDivisor),
		CanTrade:        a.CanTrade,
		UpdatedAt:       time.Now().UTC(),
	}
	for _, b := range a.Balances {
		free, err := parseDecimal("free", b.Free)
		if err != nil {
			return out, err
		}
		locked, err := parseDecimal("locked", b.Locked)
		if err != nil {
			return out, err
		}
		if free.IsZero() && locked.IsZero() {
			continue
		}
		out.Balances = append(out.Balances, exchange.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

// orderFields is the common shape of the SDK's order payloads.
type orderFields struct {
	orderID       int64
	clientOrderID string
	orderListID   int64
	symbol        string
	side          string
	typ           string
	status        string
	price         string
	stopPrice     string
	origQty       string
	executedQty   string
	cumQuoteQty   string
	placedAt      int64
	updatedAt     int64
}

func (f orderFields) toOrder() (exchange.Order, error) {
	var (
		o   = exchange.Order{OrderID: f.orderID, ClientOrderID: f.clientOrderID, OrderListID: f.orderListID, Symbol: strings.ToUpper(f.symbol)}
		err error
	)
	if o.OrderID <= 0 && o.ClientOrderID == "" {
		return o, fmt.Errorf("%w: order without id", exchange.ErrMalformed)
	}
	if o.Status, err = exchange.ParseOrderStatus(f.status); err != nil {
		return o, err
	}
	if f.typ != "" {
		if o.Type, err = exchange.ParseOrderType(f.typ); err != nil {
			return o, err
		}
	}
	if f.side != "" {
		if o.Side, err = exchange.ParseSide(f.side); err != nil {
			return o, err
		}
	}
	for _, d := range []struct {
		dst  *decimal.Decimal
		name string
		raw  string
	}{
		{&o.Price, "price", f.price},
		{&o.StopPrice, "stopPrice", f.stopPrice},
		{&o.OrigQuantity, "origQty", f.origQty},
		{&o.ExecutedQuantity, "executedQty", f.executedQty},
		{&o.CumulativeQuoteQuantity, "cummulativeQuoteQty", f.cumQuoteQty},
	} {
		if *d.dst, err = parseDecimal(d.name, d.raw); err != nil {
			return o, err
		}
	}
	o.PlacedAt = millis(f.placedAt)
	o.UpdatedAt = millis(f.updatedAt)
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.PlacedAt
	}
	return o, nil
}

func orderFromCreateResponse(r *binance.CreateOrderResponse) (exchange.Order, error) {
	return orderFields{
		orderID:       r.OrderID,
		clientOrderID: r.ClientOrderID,
		symbol:        r.Symbol,
		side:          string(r.Side),
		typ:           string(r.Type),
		status:        string(r.Status),
		price:         r.Price,
		origQty:       r.OrigQuantity,
		executedQty:   r.ExecutedQuantity,
		cumQuoteQty:   r.CummulativeQuoteQuantity,
		placedAt:      r.TransactTime,
	}.toOrder()
}

func orderFromBinance(r *binance.Order) (exchange.Order, error) {
	return orderFields{
		orderID:       r.OrderID,
		clientOrderID: r.ClientOrderID,
		symbol:        r.Symbol,
		side:          string(r.Side),
		typ:           string(r.Type),
		status:        string(r.Status),
		price:         r.Price,
		stopPrice:     r.StopPrice,
		origQty:       r.OrigQuantity,
		executedQty:   r.ExecutedQuantity,
		cumQuoteQty:   r.CummulativeQuoteQuantity,
		placedAt:      r.Time,
		updatedAt:     r.UpdateTime,
	}.toOrder()
}

func orderFromCancelResponse(r *binance.CancelOrderResponse) (exchange.Order, error) {
	return orderFields{
		orderID:       r.OrderID,
		clientOrderID: r.OrigClientOrderID,
		symbol:        r.Symbol,
		side:          string(r.Side),
		typ:           string(r.Type),
		status:        string(r.Status),
		price:         r.Price,
		origQty:       r.OrigQuantity,
		executedQty:   r.ExecutedQuantity,
		cumQuoteQty:   r.CummulativeQuoteQuantity,
		updatedAt:     r.TransactTime,
	}.toOrder()
}

func ocoFromBinance(r *binance.CreateOCOResponse) (exchange.OcoExit, error) {
	out := exchange.OcoExit{
		OrderListID:       r.OrderListID,
		ListClientOrderID: r.ListClientOrderID,
		Symbol:            strings.ToUpper(r.Symbol),
	}
	if out.OrderListID <= 0 {
		return out, fmt.Errorf("%w: oco without orderListId", exchange.ErrMalformed)
	}
	for _, rep := range r.OrderReports {
		if rep == nil {
			continue
		}
		o, err := orderFields{
			orderID:       rep.OrderID,
			clientOrderID: rep.ClientOrderID,
			orderListID:   rep.OrderListID,
			symbol:        rep.Symbol,
			side:          string(rep.Side),
			typ:           string(rep.Type),
			status:        string(rep.Status),
			price:         rep.Price,
			stopPrice:     rep.StopPrice,
			origQty:       rep.OrigQuantity,
			executedQty:   rep.ExecutedQuantity,
			cumQuoteQty:   rep.CummulativeQuoteQuantity,
			placedAt:      rep.TransactionTime,
		}.toOrder()
		if err != nil {
			return out, err
		}
		out.Orders = append(out.Orders, o)
	}
	if len(out.Orders) == 0 {
		// ACK-style response: only ids are known
		for _, o := range r.Orders {
			if o == nil {
				continue
			}
			out.Orders = append(out.Orders, exchange.Order{
				OrderID:       o.OrderID,
				ClientOrderID: o.ClientOrderID,
				OrderListID:   out.OrderListID,
				Symbol:        strings.ToUpper(o.Symbol),
				Status:        exchange.StatusNew,
			})
		}
	}
	return out, nil
}
