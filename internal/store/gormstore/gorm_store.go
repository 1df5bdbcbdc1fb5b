package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"spotpilot/internal/decision"
	"spotpilot/internal/gateway/exchange"
	"spotpilot/internal/logger"
	"spotpilot/internal/pkg/text"
	"spotpilot/internal/store"
	storemodel "spotpilot/internal/store/model"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type recommendationModel = storemodel.RecommendationModel

var log = logger.Named("store")

// GormStore implements store.Store using Gorm + SQLite.
type GormStore struct {
	db     *gorm.DB
	nowFn  func() time.Time
	window time.Duration
}

type Option func(*GormStore)

// WithClock injects the time source used for created_at and dedup matching.
func WithClock(now func() time.Time) Option {
	return func(s *GormStore) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithDedupWindow sets how far back AttachExecution looks for a pending record.
func WithDedupWindow(d time.Duration) Option {
	return func(s *GormStore) {
		if d > 0 {
			s.window = d
		}
	}
}

// NewGormStore opens (and migrates) the sqlite database at path.
func NewGormStore(path string, opts ...Option) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&recommendationModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	s := &GormStore{db: db, nowFn: time.Now, window: store.DefaultDedupWindow}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB for shared connections.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

var _ store.Store = (*GormStore)(nil)

func (s *GormStore) Save(ctx context.Context, p decision.Proposal) (store.Recommendation, error) {
	if s == nil || s.db == nil {
		return store.Recommendation{}, fmt.Errorf("gorm store 未初始化")
	}
	now := s.nowFn().UTC()
	rec := store.Recommendation{Proposal: p, CreatedAt: now, UpdatedAt: now}
	m, err := newRecommendationModel(rec)
	if err != nil {
		return store.Recommendation{}, err
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return store.Recommendation{}, fmt.Errorf("save recommendation: %w", err)
	}
	rec.ID = m.ID
	return rec, nil
}

func (s *GormStore) AttachExecution(ctx context.Context, p decision.Proposal, executed bool, order exchange.Order) (store.Recommendation, error) {
	if s == nil || s.db == nil {
		return store.Recommendation{}, fmt.Errorf("gorm store 未初始化")
	}
	now := s.nowFn().UTC()
	var out store.Recommendation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidates, err := findRecords(tx.Where(unexecutedNoOrder, false).
			Where("created_at >= ?", now.Add(-s.window).UnixMilli()).
			Order("created_at DESC, id DESC"))
		if err != nil {
			return err
		}
		rec, found := store.MatchPending(candidates, p, now, s.window)
		if !found {
			log.Warnf("no pending recommendation matched %s %s %s, inserting a new record", p.Symbol, p.Signal, p.Confidence)
			rec = store.Recommendation{Proposal: p, CreatedAt: now}
		}
		rec.UpdatedAt = now
		rec.ApplyEntryOrder(order)
		if executed {
			rec.Executed = true
			rec.ExecutionResult = store.NewExecutionResult(order)
		}
		m, err := newRecommendationModel(rec)
		if err != nil {
			return err
		}
		if found {
			err = updateAll(tx, &m)
		} else {
			err = tx.Create(&m).Error
		}
		if err != nil {
			return err
		}
		rec.ID = m.ID
		out = rec
		return nil
	})
	if err != nil {
		return store.Recommendation{}, fmt.Errorf("attach execution: %w", err)
	}
	return out, nil
}

func (s *GormStore) Get(ctx context.Context, id int64) (store.Recommendation, error) {
	if s == nil || s.db == nil {
		return store.Recommendation{}, fmt.Errorf("gorm store 未初始化")
	}
	var m recommendationModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.Recommendation{}, store.ErrNotFound
		}
		return store.Recommendation{}, err
	}
	return recommendationModelToRecord(m)
}

func (s *GormStore) Update(ctx context.Context, rec *store.Recommendation) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if rec == nil || rec.ID <= 0 {
		return fmt.Errorf("update recommendation: missing id")
	}
	rec.UpdatedAt = s.nowFn().UTC()
	m, err := newRecommendationModel(*rec)
	if err != nil {
		return err
	}
	return updateAll(s.db.WithContext(ctx), &m)
}

const unexecutedNoOrder = "executed = ? AND entry_order_id = 0 AND entry_client_order_id = ''"

func (s *GormStore) FindUnexecutedSince(ctx context.Context, since time.Time) ([]store.Recommendation, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return findRecords(s.db.WithContext(ctx).
		Where(unexecutedNoOrder, false).
		Where("created_at >= ?", since.UnixMilli()).
		Order("created_at DESC, id DESC"))
}

func (s *GormStore) FindWithOCOSince(ctx context.Context, since time.Time) ([]store.Recommendation, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return findRecords(s.db.WithContext(ctx).
		Where("oco_order_list_id IS NOT NULL").
		Where("created_at >= ?", since.UnixMilli()).
		Order("created_at ASC, id ASC"))
}

func (s *GormStore) FindPendingEntries(ctx context.Context, signal decision.Signal, since time.Time, types ...exchange.OrderType) ([]store.Recommendation, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	query := s.db.WithContext(ctx).
		Where("executed = ? AND signal = ?", false, string(signal)).
		Where("(entry_order_id > 0 OR entry_client_order_id != '')").
		Where("entry_order_status NOT IN ?", terminalStatuses()).
		Where("created_at >= ?", since.UnixMilli())
	if len(types) > 0 {
		names := make([]string, 0, len(types))
		for _, t := range types {
			names = append(names, string(t))
		}
		query = query.Where("entry_order_type IN ?", names)
	}
	return findRecords(query.Order("created_at ASC, id ASC"))
}

func (s *GormStore) FindAwaitingExit(ctx context.Context, since time.Time) ([]store.Recommendation, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return findRecords(s.db.WithContext(ctx).
		Where("executed = ? AND signal = ?", true, string(decision.SignalBuy)).
		Where("oco_order_list_id IS NULL AND exit_state = ''").
		Where("stop_loss != '' AND take_profit_1 != ''").
		Where("created_at >= ?", since.UnixMilli()).
		Order("created_at ASC, id ASC"))
}

func (s *GormStore) ClaimExit(ctx context.Context, id int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("gorm store 未初始化")
	}
	res := s.db.WithContext(ctx).Model(&recommendationModel{}).
		Where("id = ? AND exit_state = '' AND oco_order_list_id IS NULL", id).
		Updates(map[string]interface{}{
			"exit_state": string(store.ExitPlacing),
			"updated_at": s.nowFn().UnixMilli(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim exit %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ReleaseExit(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return s.db.WithContext(ctx).Model(&recommendationModel{}).
		Where("id = ? AND exit_state = ? AND oco_order_list_id IS NULL", id, string(store.ExitPlacing)).
		Updates(map[string]interface{}{
			"exit_state": string(store.ExitNone),
			"updated_at": s.nowFn().UnixMilli(),
		}).Error
}

func (s *GormStore) ListRecent(ctx context.Context, limit int) ([]store.Recommendation, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 {
		limit = 50
	}
	return findRecords(s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit))
}

// --------------------------- Model Helpers ------------------------------

func findRecords(query *gorm.DB) ([]store.Recommendation, error) {
	var models []recommendationModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.Recommendation, 0, len(models))
	for _, m := range models {
		rec, err := recommendationModelToRecord(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func updateAll(tx *gorm.DB, m *recommendationModel) error {
	res := tx.Model(&recommendationModel{}).
		Where("id = ?", m.ID).
		Select("*").Omit("id", "created_at").
		Updates(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func terminalStatuses() []string {
	return []string{
		string(exchange.StatusFilled),
		string(exchange.StatusCanceled),
		string(exchange.StatusExpired),
		string(exchange.StatusRejected),
	}
}

func newRecommendationModel(rec store.Recommendation) (recommendationModel, error) {
	p := rec.Proposal
	memory, err := json.Marshal(p.Memory)
	if err != nil {
		return recommendationModel{}, err
	}
	m := recommendationModel{
		ID:                 rec.ID,
		Symbol:             strings.ToUpper(strings.TrimSpace(p.Symbol)),
		Signal:             string(p.Signal),
		Confidence:         string(p.Confidence),
		Amount:             decimalText(p.Amount),
		AmountUnit:         string(p.AmountUnit),
		EntryType:          string(p.EntryType),
		EntryPrice:         decimalText(p.EntryPrice),
		StopLoss:           decimalText(p.StopLoss),
		TakeProfit1:        decimalText(p.TakeProfit1),
		TakeProfit2:        decimalText(p.TakeProfit2),
		ExpectedRiskReward: decimalText(p.ExpectedRiskReward),
		TimeHorizonMinutes: p.TimeHorizonMinutes,
		Reasoning:          p.Reasoning,
		Memory:             datatypes.JSON(memory),
		GeneratedAt:        timeToMillis(&p.GeneratedAt),
		Executed:           rec.Executed,
		EntryOrderID:       rec.EntryOrderID,
		EntryClientOrderID: rec.EntryClientOrderID,
		EntryOrderStatus:   string(rec.EntryOrderStatus),
		EntryOrderType:     string(rec.EntryOrderType),
		EntryPlacedAt:      timeToMillis(rec.EntryPlacedAt),
		OCOOrderListID:     rec.OCOOrderListID,
		ExitState:          string(rec.ExitState),
		LastError:          text.Truncate(rec.LastError, store.MaxLastErrorLen),
		CreatedAtUnix:      timeToMillis(&rec.CreatedAt),
		UpdatedAtUnix:      timeToMillis(&rec.UpdatedAt),
	}
	if len(rec.ExitOrders) > 0 {
		if len(rec.ExitOrders) > store.MaxExitOrders {
			return recommendationModel{}, fmt.Errorf("recommendation %d tracks %d exit orders, max %d", rec.ID, len(rec.ExitOrders), store.MaxExitOrders)
		}
		raw, err := json.Marshal(rec.ExitOrders)
		if err != nil {
			return recommendationModel{}, err
		}
		m.ExitOrders = datatypes.JSON(raw)
	}
	if rec.ExecutionResult != nil {
		raw, err := json.Marshal(rec.ExecutionResult)
		if err != nil {
			return recommendationModel{}, err
		}
		m.ExecutionResult = datatypes.JSON(raw)
	}
	return m, nil
}

func recommendationModelToRecord(m recommendationModel) (store.Recommendation, error) {
	p := decision.Proposal{
		Symbol:             m.Symbol,
		Signal:             decision.Signal(m.Signal),
		Confidence:         decision.Confidence(m.Confidence),
		AmountUnit:         decision.AmountUnit(m.AmountUnit),
		EntryType:          decision.EntryType(m.EntryType),
		TimeHorizonMinutes: m.TimeHorizonMinutes,
		Reasoning:          m.Reasoning,
		GeneratedAt:        millisToTime(m.GeneratedAt),
	}
	var err error
	for _, f := range []struct {
		dst *decimal.NullDecimal
		raw string
	}{
		{&p.Amount, m.Amount},
		{&p.EntryPrice, m.EntryPrice},
		{&p.StopLoss, m.StopLoss},
		{&p.TakeProfit1, m.TakeProfit1},
		{&p.TakeProfit2, m.TakeProfit2},
		{&p.ExpectedRiskReward, m.ExpectedRiskReward},
	} {
		if *f.dst, err = parseDecimalText(f.raw); err != nil {
			return store.Recommendation{}, fmt.Errorf("recommendation %d: %w", m.ID, err)
		}
	}
	if len(m.Memory) > 0 && string(m.Memory) != "null" {
		if err := json.Unmarshal(m.Memory, &p.Memory); err != nil {
			return store.Recommendation{}, fmt.Errorf("recommendation %d memory: %w", m.ID, err)
		}
	}
	rec := store.Recommendation{
		ID:                 m.ID,
		Proposal:           p,
		Executed:           m.Executed,
		EntryOrderID:       m.EntryOrderID,
		EntryClientOrderID: m.EntryClientOrderID,
		EntryOrderStatus:   exchange.OrderStatus(m.EntryOrderStatus),
		EntryOrderType:     exchange.OrderType(m.EntryOrderType),
		OCOOrderListID:     m.OCOOrderListID,
		ExitState:          store.ExitState(m.ExitState),
		LastError:          m.LastError,
		CreatedAt:          millisToTime(m.CreatedAtUnix),
		UpdatedAt:          millisToTime(m.UpdatedAtUnix),
	}
	if m.EntryPlacedAt > 0 {
		placed := millisToTime(m.EntryPlacedAt)
		rec.EntryPlacedAt = &placed
	}
	if len(m.ExitOrders) > 0 && string(m.ExitOrders) != "null" {
		if err := json.Unmarshal(m.ExitOrders, &rec.ExitOrders); err != nil {
			return store.Recommendation{}, fmt.Errorf("recommendation %d exit orders: %w", m.ID, err)
		}
	}
	if len(m.ExecutionResult) > 0 && string(m.ExecutionResult) != "null" {
		var res store.ExecutionResult
		if err := json.Unmarshal(m.ExecutionResult, &res); err != nil {
			return store.Recommendation{}, fmt.Errorf("recommendation %d execution result: %w", m.ID, err)
		}
		rec.ExecutionResult = &res
	}
	return rec, nil
}

// --------------------------- Helper Functions ------------------------------------

func decimalText(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func parseDecimalText(raw string) (decimal.NullDecimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func timeToMillis(t *time.Time) int64 {
	if t == nil || t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

func ensureDir(path string) error {
	dir := filepathDir(path)
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func filepathDir(path string) string {
	last := strings.LastIndex(path, "/")
	if last == -1 {
		last = strings.LastIndex(path, "\\")
	}
	if last == -1 {
		return ""
	}
	return path[:last]
}
