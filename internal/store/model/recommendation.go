package model

import "gorm.io/datatypes"

// RecommendationModel maps to the 'recommendations' table.
// Decimals are stored as their exact text form; "" means absent.
// Timestamps are unix millis; 0 means unknown.
type RecommendationModel struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`

	Symbol             string         `gorm:"column:symbol;index"`
	Signal             string         `gorm:"column:signal;index:idx_rec_signal_created,priority:1"`
	Confidence         string         `gorm:"column:confidence"`
	Amount             string         `gorm:"column:amount"`
	AmountUnit         string         `gorm:"column:amount_unit"`
	EntryType          string         `gorm:"column:entry_type"`
	EntryPrice         string         `gorm:"column:entry_price"`
	StopLoss           string         `gorm:"column:stop_loss"`
	TakeProfit1        string         `gorm:"column:take_profit_1"`
	TakeProfit2        string         `gorm:"column:take_profit_2"`
	ExpectedRiskReward string         `gorm:"column:expected_risk_reward"`
	TimeHorizonMinutes *int           `gorm:"column:time_horizon_minutes"`
	Reasoning          string         `gorm:"column:reasoning"`
	Memory             datatypes.JSON `gorm:"column:memory"`
	GeneratedAt        int64          `gorm:"column:generated_at"`

	Executed           bool   `gorm:"column:executed;index"`
	EntryOrderID       int64  `gorm:"column:entry_order_id;index"`
	EntryClientOrderID string `gorm:"column:entry_client_order_id"`
	EntryOrderStatus   string `gorm:"column:entry_order_status"`
	EntryOrderType     string `gorm:"column:entry_order_type"`
	EntryPlacedAt      int64  `gorm:"column:entry_placed_at"`

	// NULL until an OCO exists; sqlite allows many NULLs under a unique index.
	OCOOrderListID  *int64         `gorm:"column:oco_order_list_id;uniqueIndex"`
	ExitOrders      datatypes.JSON `gorm:"column:exit_orders"`
	ExitState       string         `gorm:"column:exit_state;not null;default:''"`
	ExecutionResult datatypes.JSON `gorm:"column:execution_result"`
	LastError       string         `gorm:"column:last_error"`

	CreatedAtUnix int64 `gorm:"column:created_at;index:idx_rec_signal_created,priority:2"`
	UpdatedAtUnix int64 `gorm:"column:updated_at"`
}

func (RecommendationModel) TableName() string { return "recommendations" }
