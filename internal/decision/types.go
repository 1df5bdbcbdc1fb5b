package decision

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// 中文说明：
// 本文件定义 AI 交易建议（Proposal）及其封闭枚举，所有外部字符串都经映射表解析。

type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

var signalTable = map[string]Signal{
	"BUY":  SignalBuy,
	"SELL": SignalSell,
	"HOLD": SignalHold,
}

func ParseSignal(raw string) (Signal, error) {
	if s, ok := signalTable[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown signal %q", raw)
}

type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

var confidenceTable = map[string]Confidence{
	"HIGH":   ConfidenceHigh,
	"MEDIUM": ConfidenceMedium,
	"LOW":    ConfidenceLow,
}

func ParseConfidence(raw string) (Confidence, error) {
	if c, ok := confidenceTable[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown confidence %q", raw)
}

// AmountUnit 表示 amount 的计价单位：QUOTE 为计价币（如 USDT），BASE 为标的币。
type AmountUnit string

const (
	UnitQuote AmountUnit = "QUOTE"
	UnitBase  AmountUnit = "BASE"
	UnitNone  AmountUnit = "NONE"
)

var amountUnitTable = map[string]AmountUnit{
	"":      UnitNone,
	"NONE":  UnitNone,
	"QUOTE": UnitQuote,
	"BASE":  UnitBase,
}

func ParseAmountUnit(raw string) (AmountUnit, error) {
	if u, ok := amountUnitTable[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return u, nil
	}
	return "", fmt.Errorf("unknown amount unit %q", raw)
}

type EntryType string

const (
	EntryNone   EntryType = ""
	EntryMarket EntryType = "MARKET"
	EntryLimit  EntryType = "LIMIT"
)

var entryTypeTable = map[string]EntryType{
	"":       EntryNone,
	"NONE":   EntryNone,
	"MARKET": EntryMarket,
	"LIMIT":  EntryLimit,
}

func ParseEntryType(raw string) (EntryType, error) {
	if e, ok := entryTypeTable[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return e, nil
	}
	return "", fmt.Errorf("unknown entry type %q", raw)
}

// MaxMemoryItems caps the carry-over notes a proposal may hold.
const MaxMemoryItems = 3

// Proposal is one trade recommendation produced by the decision source.
type Proposal struct {
	Symbol             string              `json:"symbol"`
	Signal             Signal              `json:"signal"`
	Confidence         Confidence          `json:"confidence"`
	Amount             decimal.NullDecimal `json:"amount"`
	AmountUnit         AmountUnit          `json:"amountUnit"`
	EntryType          EntryType           `json:"entryType,omitempty"`
	EntryPrice         decimal.NullDecimal `json:"entryPrice"`
	StopLoss           decimal.NullDecimal `json:"stopLoss"`
	TakeProfit1        decimal.NullDecimal `json:"takeProfit1"`
	TakeProfit2        decimal.NullDecimal `json:"takeProfit2"`
	ExpectedRiskReward decimal.NullDecimal `json:"expectedRiskReward"`
	TimeHorizonMinutes *int                `json:"timeHorizonMinutes,omitempty"`
	Reasoning          string              `json:"reasoning,omitempty"`
	Memory             []string            `json:"memory,omitempty"`
	GeneratedAt        time.Time           `json:"generatedAt"`
}

// DefaultMinRiskReward is the expectedRiskReward floor for actionable proposals.
var DefaultMinRiskReward = decimal.NewFromInt(2)

// HasAmount reports whether amount is present and strictly positive.
func (p Proposal) HasAmount() bool {
	return p.Amount.Valid && p.Amount.Decimal.IsPositive()
}

// TimeHorizon returns the configured horizon, or false when absent or non-positive.
func (p Proposal) TimeHorizon() (time.Duration, bool) {
	if p.TimeHorizonMinutes == nil || *p.TimeHorizonMinutes <= 0 {
		return 0, false
	}
	return time.Duration(*p.TimeHorizonMinutes) * time.Minute, true
}

// HasExitTargets reports whether both stop loss and first take profit are set.
func (p Proposal) HasExitTargets() bool {
	return validPositive(p.StopLoss) && validPositive(p.TakeProfit1)
}

// CheckActionable returns nil when the proposal can be executed, or an error
// naming the first structural defect.
func (p Proposal) CheckActionable(minRiskReward decimal.Decimal) error {
	if p.Signal != SignalBuy && p.Signal != SignalSell {
		return fmt.Errorf("signal %s is not tradable", p.Signal)
	}
	if !p.HasAmount() {
		return fmt.Errorf("amount must be > 0")
	}
	if !validPositive(p.StopLoss) {
		return fmt.Errorf("stopLoss is required")
	}
	if !validPositive(p.TakeProfit1) {
		return fmt.Errorf("takeProfit1 is required")
	}
	if !p.ExpectedRiskReward.Valid || p.ExpectedRiskReward.Decimal.LessThan(minRiskReward) {
		return fmt.Errorf("expectedRiskReward must be >= %s", minRiskReward.String())
	}
	if p.EntryType == EntryLimit && !validPositive(p.EntryPrice) {
		return fmt.Errorf("entryPrice is required for LIMIT entries")
	}
	return nil
}

func (p Proposal) IsActionable(minRiskReward decimal.Decimal) bool {
	return p.CheckActionable(minRiskReward) == nil
}

func validPositive(d decimal.NullDecimal) bool {
	return d.Valid && d.Decimal.IsPositive()
}
