package store

import (
	"context"
	"errors"
	"time"

	"spotpilot/internal/decision"
	"spotpilot/internal/gateway/exchange"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("recommendation not found")
)

// ExitState is the persistence-level claim on OCO placement for a record.
type ExitState string

const (
	ExitNone    ExitState = ""
	ExitPlacing ExitState = "PLACING"
	ExitPlaced  ExitState = "PLACED"
)

// ExitOrder is the last observed state of one OCO child.
type ExitOrder struct {
	Status exchange.OrderStatus `json:"status"`
	Type   exchange.OrderType   `json:"type"`
}

// MaxExitOrders bounds the tracked OCO children per record.
const MaxExitOrders = 4

// MaxLastErrorLen 限制 last_error 长度，交易所错误体可能很长
const MaxLastErrorLen = 1024

// ExecutionResult summarises the filled entry.
type ExecutionResult struct {
	OrderID          int64                `json:"orderId"`
	ExecutedQuantity decimal.Decimal      `json:"executedQty"`
	AveragePrice     decimal.Decimal      `json:"avgPrice"`
	Status           exchange.OrderStatus `json:"status"`
}

func NewExecutionResult(o exchange.Order) *ExecutionResult {
	return &ExecutionResult{
		OrderID:          o.OrderID,
		ExecutedQuantity: o.ExecutedQuantity,
		AveragePrice:     o.AveragePrice(),
		Status:           o.Status,
	}
}

// Recommendation is a persisted proposal plus its order lifecycle.
type Recommendation struct {
	ID       int64             `json:"id"`
	Proposal decision.Proposal `json:"proposal"`

	Executed           bool                 `json:"executed"`
	EntryOrderID       int64                `json:"entryOrderId,omitempty"`
	EntryClientOrderID string               `json:"entryClientOrderId,omitempty"`
	EntryOrderStatus   exchange.OrderStatus `json:"entryOrderStatus,omitempty"`
	EntryOrderType     exchange.OrderType   `json:"entryOrderType,omitempty"`
	EntryPlacedAt      *time.Time           `json:"entryPlacedAt,omitempty"`

	OCOOrderListID  *int64              `json:"ocoOrderListId,omitempty"`
	ExitOrders      map[int64]ExitOrder `json:"exitOrders,omitempty"`
	ExitState       ExitState           `json:"exitState,omitempty"`
	ExecutionResult *ExecutionResult    `json:"executionResult,omitempty"`
	LastError       string              `json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (r Recommendation) HasEntryOrder() bool {
	return r.EntryOrderID > 0 || r.EntryClientOrderID != ""
}

func (r Recommendation) HasOCO() bool {
	return r.OCOOrderListID != nil
}

// ExpiryAnchor is the exchange placement time, or creation time when unknown.
func (r Recommendation) ExpiryAnchor() time.Time {
	if r.EntryPlacedAt != nil && !r.EntryPlacedAt.IsZero() {
		return *r.EntryPlacedAt
	}
	return r.CreatedAt
}

// EntryRef builds the exchange lookup key for the entry order.
func (r Recommendation) EntryRef() exchange.OrderRef {
	return exchange.OrderRef{
		Symbol:        r.Proposal.Symbol,
		OrderID:       r.EntryOrderID,
		ClientOrderID: r.EntryClientOrderID,
	}
}

// ApplyEntryOrder copies the observed entry order fields onto the record.
func (r *Recommendation) ApplyEntryOrder(o exchange.Order) {
	if o.OrderID > 0 {
		r.EntryOrderID = o.OrderID
	}
	if o.ClientOrderID != "" {
		r.EntryClientOrderID = o.ClientOrderID
	}
	if o.Status != "" {
		r.EntryOrderStatus = o.Status
	}
	if o.Type != "" {
		r.EntryOrderType = o.Type
	}
	if !o.PlacedAt.IsZero() && r.EntryPlacedAt == nil {
		placed := o.PlacedAt.UTC()
		r.EntryPlacedAt = &placed
	}
}

// Store persists recommendations. Implementations must make ClaimExit an
// atomic conditional update.
type Store interface {
	// Save inserts a new, unexecuted record for p.
	Save(ctx context.Context, p decision.Proposal) (Recommendation, error)
	// AttachExecution links order to the matching pending record (see
	// MatchPending) or inserts a new record when none matches.
	AttachExecution(ctx context.Context, p decision.Proposal, executed bool, order exchange.Order) (Recommendation, error)
	Get(ctx context.Context, id int64) (Recommendation, error)
	Update(ctx context.Context, rec *Recommendation) error

	// FindUnexecutedSince lists unexecuted records without an entry order, newest first.
	FindUnexecutedSince(ctx context.Context, since time.Time) ([]Recommendation, error)
	// FindWithOCOSince lists records with an OCO list id, oldest first.
	FindWithOCOSince(ctx context.Context, since time.Time) ([]Recommendation, error)
	// FindPendingEntries lists unexecuted records of signal with an entry
	// order of one of types (any type when empty), oldest first.
	FindPendingEntries(ctx context.Context, signal decision.Signal, since time.Time, types ...exchange.OrderType) ([]Recommendation, error)
	// FindAwaitingExit lists executed BUY records with exit targets, no OCO and no claim.
	FindAwaitingExit(ctx context.Context, since time.Time) ([]Recommendation, error)

	// ClaimExit marks the record PLACING if it has no OCO and no claim.
	// It reports false when another writer holds or completed the claim.
	ClaimExit(ctx context.Context, id int64) (bool, error)
	// ReleaseExit clears a PLACING claim after a failed placement.
	ReleaseExit(ctx context.Context, id int64) error

	ListRecent(ctx context.Context, limit int) ([]Recommendation, error)
	Close() error
}
