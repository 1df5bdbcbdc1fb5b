// Package eventlog journals lifecycle notifications in sqlite so the HTTP API
// can replay them.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"spotpilot/internal/gateway/notifier"

	_ "modernc.org/sqlite"
)

// Store 管理通知事件日志，方便后续排查。
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	ownsDB bool
}

// Record is one journaled event.
type Record struct {
	ID int64 `json:"id"`
	notifier.Event
}

// Query filters List. Zero values mean no filter.
type Query struct {
	Kind             notifier.Kind
	Symbol           string
	RecommendationID int64
	Since            time.Time
	Limit            int
	Offset           int
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("event log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path, ownsDB: true}, nil
}

// UseExternalDB switches the journal onto a shared connection (e.g. the
// recommendation store's) and closes the one it owned.
func (s *Store) UseExternalDB(db *sql.DB) error {
	if s == nil {
		return fmt.Errorf("event log store 未初始化")
	}
	if db == nil {
		return fmt.Errorf("external db 不能为空")
	}
	if err := ensureSchema(db); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ownsDB && s.db != nil && s.db != db {
		_ = s.db.Close()
	}
	s.db = db
	s.ownsDB = false
	return nil
}

// Close 关闭底层 DB。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if !s.ownsDB {
		s.db = nil
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS lifecycle_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			kind TEXT NOT NULL,
			symbol TEXT,
			recommendation_id INTEGER,
			message TEXT,
			fields_json TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_events_ts_id ON lifecycle_events(ts DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_events_rec ON lifecycle_events(recommendation_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("event log schema: %w", err)
		}
	}
	return nil
}

func (s *Store) conn() (*sql.DB, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("event log store 未初始化")
	}
	return db, nil
}

// Append journals evt and returns its row id.
func (s *Store) Append(ctx context.Context, evt notifier.Event) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	at := evt.At
	if at.IsZero() {
		at = time.Now()
	}
	fields := ""
	if len(evt.Fields) > 0 {
		b, err := json.Marshal(evt.Fields)
		if err != nil {
			return 0, err
		}
		fields = string(b)
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO lifecycle_events (ts, kind, symbol, recommendation_id, message, fields_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		at.UnixMilli(),
		string(evt.Kind),
		strings.ToUpper(strings.TrimSpace(evt.Symbol)),
		evt.RecommendationID,
		evt.Message,
		fields,
	)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// Notify makes the journal a notifier.Sink.
func (s *Store) Notify(ctx context.Context, evt notifier.Event) error {
	_, err := s.Append(ctx, evt)
	return err
}

var _ notifier.Sink = (*Store)(nil)

// List returns events newest first.
func (s *Store) List(ctx context.Context, q Query) ([]Record, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	var (
		clauses []string
		args    []interface{}
	)
	if q.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if sym := strings.ToUpper(strings.TrimSpace(q.Symbol)); sym != "" {
		clauses = append(clauses, "symbol = ?")
		args = append(args, sym)
	}
	if q.RecommendationID > 0 {
		clauses = append(clauses, "recommendation_id = ?")
		args = append(args, q.RecommendationID)
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "ts >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	var sb strings.Builder
	sb.WriteString(`SELECT id, ts, kind, symbol, recommendation_id, message, fields_json FROM lifecycle_events`)
	if len(clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
	}
	sb.WriteString(" ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Record
	for rows.Next() {
		var (
			rec    Record
			ts     int64
			kind   string
			symbol sql.NullString
			recID  sql.NullInt64
			msg    sql.NullString
			fields sql.NullString
		)
		if err := rows.Scan(&rec.ID, &ts, &kind, &symbol, &recID, &msg, &fields); err != nil {
			return nil, err
		}
		rec.At = time.UnixMilli(ts).UTC()
		rec.Kind = notifier.Kind(kind)
		rec.Symbol = symbol.String
		rec.RecommendationID = recID.Int64
		rec.Message = msg.String
		if fields.Valid && fields.String != "" {
			if err := json.Unmarshal([]byte(fields.String), &rec.Fields); err != nil {
				return nil, fmt.Errorf("event %d fields: %w", rec.ID, err)
			}
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}
