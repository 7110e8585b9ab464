// Package store persists trade records in SQLite.
//
// The schema is one wide trades table indexed by venue, market, strategy,
// status, and creation time — the exact filters the ledger issues. The pure
// Go driver (modernc.org/sqlite) keeps the gateway a single static binary.
// All writes are serialized by the ledger; the store adds its own mutex so
// direct callers cannot corrupt concurrent statements either.
package store

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

	_ "modernc.org/sqlite"

	"tradegate/pkg/types"
)

// SQLite is the persistent TradeStore implementation.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id               TEXT PRIMARY KEY,
	venue            TEXT NOT NULL,
	market_id        TEXT NOT NULL,
	outcome          TEXT NOT NULL,
	question         TEXT NOT NULL DEFAULT '',
	side             TEXT NOT NULL,
	order_kind       TEXT NOT NULL,
	price            REAL NOT NULL,
	size             REAL NOT NULL,
	filled           REAL NOT NULL DEFAULT 0,
	cost             REAL NOT NULL DEFAULT 0,
	fees             REAL NOT NULL DEFAULT 0,
	status           TEXT NOT NULL,
	strategy_id      TEXT NOT NULL DEFAULT '',
	strategy_name    TEXT NOT NULL DEFAULT '',
	tags             TEXT NOT NULL DEFAULT '[]',
	entry_trade_id   TEXT NOT NULL DEFAULT '',
	exit_trade_id    TEXT NOT NULL DEFAULT '',
	realized_pnl     REAL,
	realized_pnl_pct REAL,
	created_at       INTEGER NOT NULL,
	filled_at        INTEGER,
	meta             TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_trades_venue      ON trades(venue);
CREATE INDEX IF NOT EXISTS idx_trades_market     ON trades(market_id);
CREATE INDEX IF NOT EXISTS idx_trades_strategy   ON trades(strategy_id);
CREATE INDEX IF NOT EXISTS idx_trades_status     ON trades(status);
CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades(created_at);

CREATE TABLE IF NOT EXISTS strategy_configs (
	id         TEXT PRIMARY KEY,
	config     TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ticks (
	venue      TEXT NOT NULL,
	market_id  TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	price      REAL NOT NULL,
	size       REAL NOT NULL DEFAULT 0,
	ts         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ticks_market_ts ON ticks(venue, market_id, outcome, ts);
`

// Open creates (or opens) the SQLite database at path and applies the schema.
func Open(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes per connection; one connection avoids
	// table-lock churn under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// OpenMemory opens an in-memory store, used by tests and isolated backtests.
func OpenMemory() (*SQLite, error) {
	return Open(":memory:")
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Insert writes a new trade row.
func (s *SQLite) Insert(ctx context.Context, t types.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags, meta, err := encodeBags(t)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trades (
			id, venue, market_id, outcome, question, side, order_kind,
			price, size, filled, cost, fees, status,
			strategy_id, strategy_name, tags, entry_trade_id, exit_trade_id,
			realized_pnl, realized_pnl_pct, created_at, filled_at, meta
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, string(t.Venue), t.MarketID, t.Outcome, t.Question,
		string(t.Side), string(t.OrderKind),
		t.Price, t.Size, t.Filled, t.Cost, t.Fees, string(t.Status),
		t.StrategyID, t.StrategyName, tags, t.EntryTradeID, t.ExitTradeID,
		nullFloat(t.RealizedPnL), nullFloat(t.RealizedPnLPct),
		t.CreatedAt.UnixNano(), nullTime(t.FilledAt), meta,
	)
	if err != nil {
		return fmt.Errorf("%w: insert trade %s: %v", types.ErrStorage, t.ID, err)
	}
	return nil
}

// Update replaces every mutable column of an existing trade row.
func (s *SQLite) Update(ctx context.Context, t types.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags, meta, err := encodeBags(t)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE trades SET
			filled = ?, cost = ?, fees = ?, status = ?,
			tags = ?, entry_trade_id = ?, exit_trade_id = ?,
			realized_pnl = ?, realized_pnl_pct = ?, filled_at = ?, meta = ?
		WHERE id = ?`,
		t.Filled, t.Cost, t.Fees, string(t.Status),
		tags, t.EntryTradeID, t.ExitTradeID,
		nullFloat(t.RealizedPnL), nullFloat(t.RealizedPnLPct),
		nullTime(t.FilledAt), meta, t.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: update trade %s: %v", types.ErrStorage, t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: trade %s", types.ErrNotFound, t.ID)
	}
	return nil
}

// Get returns the trade with the given id, or nil when unknown.
func (s *SQLite) Get(ctx context.Context, id string) (*types.Trade, error) {
	rows, err := s.db.QueryContext(ctx, selectCols+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("%w: get trade: %v", types.ErrStorage, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	t, err := scanTrade(rows)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const selectCols = `
	SELECT id, venue, market_id, outcome, question, side, order_kind,
	       price, size, filled, cost, fees, status,
	       strategy_id, strategy_name, tags, entry_trade_id, exit_trade_id,
	       realized_pnl, realized_pnl_pct, created_at, filled_at, meta
	FROM trades`

// Query returns trades matching the conjunctive filter, newest first.
func (s *SQLite) Query(ctx context.Context, f types.TradeFilter) ([]types.Trade, error) {
	var conds []string
	var args []any

	add := func(cond string, v any) {
		conds = append(conds, cond)
		args = append(args, v)
	}
	if f.Venue != "" {
		add("venue = ?", string(f.Venue))
	}
	if f.MarketID != "" {
		add("market_id = ?", f.MarketID)
	}
	if f.Outcome != "" {
		add("outcome = ?", f.Outcome)
	}
	if f.StrategyID != "" {
		add("strategy_id = ?", f.StrategyID)
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if f.Side != "" {
		add("side = ?", string(f.Side))
	}
	if !f.From.IsZero() {
		add("created_at >= ?", f.From.UnixNano())
	}
	if !f.To.IsZero() {
		add("created_at <= ?", f.To.UnixNano())
	}

	q := selectCols
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
		if f.Offset > 0 {
			q += fmt.Sprintf(" OFFSET %d", f.Offset)
		}
	} else if f.Offset > 0 {
		q += fmt.Sprintf(" LIMIT -1 OFFSET %d", f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query trades: %v", types.ErrStorage, err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DailyPnL sums realized P&L of closed trades per calendar day (local time)
// for the trailing window.
func (s *SQLite) DailyPnL(ctx context.Context, days int) ([]types.DailyPnL, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	rows, err := s.db.QueryContext(ctx, `
		SELECT realized_pnl, created_at FROM trades
		WHERE realized_pnl IS NOT NULL AND created_at >= ?
		ORDER BY created_at ASC`, cutoff.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("%w: daily pnl: %v", types.ErrStorage, err)
	}
	defer rows.Close()

	byDay := make(map[string]*types.DailyPnL)
	var order []string
	for rows.Next() {
		var pnl float64
		var createdNs int64
		if err := rows.Scan(&pnl, &createdNs); err != nil {
			return nil, fmt.Errorf("%w: scan daily pnl: %v", types.ErrStorage, err)
		}
		day := time.Unix(0, createdNs).Format("2006-01-02")
		entry, ok := byDay[day]
		if !ok {
			entry = &types.DailyPnL{Date: day}
			byDay[day] = entry
			order = append(order, day)
		}
		entry.PnL += pnl
		entry.Trades++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: daily pnl rows: %v", types.ErrStorage, err)
	}

	out := make([]types.DailyPnL, 0, len(order))
	for _, day := range order {
		out = append(out, *byDay[day])
	}
	return out, nil
}

// Delete removes the given trade ids. Missing ids are ignored.
func (s *SQLite) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM trades WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("%w: delete trades: %v", types.ErrStorage, err)
	}
	return nil
}

// SaveStrategyConfig persists the serialized config for a strategy id.
func (s *SQLite) SaveStrategyConfig(ctx context.Context, cfg types.StrategyConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal strategy config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO strategy_configs (id, config, updated_at) VALUES (?,?,?)
		ON CONFLICT(id) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		cfg.ID, string(raw), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("%w: save strategy config %s: %v", types.ErrStorage, cfg.ID, err)
	}
	return nil
}

// LoadStrategyConfigs returns every persisted strategy config, oldest first.
func (s *SQLite) LoadStrategyConfigs(ctx context.Context) ([]types.StrategyConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT config FROM strategy_configs ORDER BY updated_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: load strategy configs: %v", types.ErrStorage, err)
	}
	defer rows.Close()

	var out []types.StrategyConfig
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%w: scan strategy config: %v", types.ErrStorage, err)
		}
		var cfg types.StrategyConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal strategy config: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// DeleteStrategyConfig removes a persisted config.
func (s *SQLite) DeleteStrategyConfig(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM strategy_configs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete strategy config %s: %v", types.ErrStorage, id, err)
	}
	return nil
}

// RecordTick appends one tick to the recorder table.
func (s *SQLite) RecordTick(ctx context.Context, tick types.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ticks (venue, market_id, outcome, price, size, ts) VALUES (?,?,?,?,?,?)`,
		string(tick.Venue), tick.MarketID, tick.Outcome, tick.Price, tick.Size, tick.Time.UnixNano())
	if err != nil {
		return fmt.Errorf("%w: record tick: %v", types.ErrStorage, err)
	}
	return nil
}

// LoadTicks returns recorded ticks for a market triple within the window,
// in ascending timestamp order.
func (s *SQLite) LoadTicks(ctx context.Context, key types.MarketKey, from, to time.Time) ([]types.Tick, error) {
	q := `SELECT price, size, ts FROM ticks WHERE venue = ? AND market_id = ? AND outcome = ?`
	args := []any{string(key.Venue), key.MarketID, key.Outcome}
	if !from.IsZero() {
		q += ` AND ts >= ?`
		args = append(args, from.UnixNano())
	}
	if !to.IsZero() {
		q += ` AND ts <= ?`
		args = append(args, to.UnixNano())
	}
	q += ` ORDER BY ts ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: load ticks: %v", types.ErrStorage, err)
	}
	defer rows.Close()

	var out []types.Tick
	for rows.Next() {
		var price, size float64
		var ts int64
		if err := rows.Scan(&price, &size, &ts); err != nil {
			return nil, fmt.Errorf("%w: scan tick: %v", types.ErrStorage, err)
		}
		out = append(out, types.Tick{
			Time:     time.Unix(0, ts),
			Venue:    key.Venue,
			MarketID: key.MarketID,
			Outcome:  key.Outcome,
			Price:    price,
			Size:     size,
		})
	}
	return out, rows.Err()
}

func encodeBags(t types.Trade) (tags, meta string, err error) {
	rawTags, err := json.Marshal(t.Tags)
	if err != nil {
		return "", "", fmt.Errorf("marshal tags: %w", err)
	}
	rawMeta, err := json.Marshal(t.Meta)
	if err != nil {
		return "", "", fmt.Errorf("marshal meta: %w", err)
	}
	return string(rawTags), string(rawMeta), nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UnixNano()
}

func scanTrade(rows *sql.Rows) (types.Trade, error) {
	var t types.Trade
	var venue, side, kind, status, tags, meta string
	var pnl, pnlPct sql.NullFloat64
	var createdNs int64
	var filledNs sql.NullInt64

	err := rows.Scan(
		&t.ID, &venue, &t.MarketID, &t.Outcome, &t.Question, &side, &kind,
		&t.Price, &t.Size, &t.Filled, &t.Cost, &t.Fees, &status,
		&t.StrategyID, &t.StrategyName, &tags, &t.EntryTradeID, &t.ExitTradeID,
		&pnl, &pnlPct, &createdNs, &filledNs, &meta,
	)
	if err != nil {
		return t, fmt.Errorf("%w: scan trade: %v", types.ErrStorage, err)
	}

	t.Venue = types.Venue(venue)
	t.Side = types.Side(side)
	t.OrderKind = types.OrderKind(kind)
	t.Status = types.TradeStatus(status)
	t.CreatedAt = time.Unix(0, createdNs)
	if filledNs.Valid {
		at := time.Unix(0, filledNs.Int64)
		t.FilledAt = &at
	}
	if pnl.Valid {
		v := pnl.Float64
		t.RealizedPnL = &v
	}
	if pnlPct.Valid {
		v := pnlPct.Float64
		t.RealizedPnLPct = &v
	}
	if tags != "" && tags != "null" {
		if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
			return t, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if meta != "" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &t.Meta); err != nil {
			return t, fmt.Errorf("unmarshal meta: %w", err)
		}
	}
	return t, nil
}
