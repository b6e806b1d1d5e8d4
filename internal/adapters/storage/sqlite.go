package storage

// sqlite.go: persistencia del ledger.
//
// Tablas:
//   - `snapshots`: estado versionado del ledger como JSON. Solo interesa el
//     último; se guardan unos pocos para poder inspeccionar regresiones.
//   - `trades`: historial append-only de aperturas y cierres.
//   - Prune al arrancar: snapshots más allá de los últimos keepSnapshots y
//     trades de más de 90 días.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    version  INTEGER  NOT NULL,
    saved_at DATETIME NOT NULL,
    state    TEXT     NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    id           TEXT PRIMARY KEY,
    position_id  TEXT     NOT NULL,
    event        TEXT     NOT NULL,
    mode         TEXT     NOT NULL,
    strategy     TEXT     NOT NULL,
    market_key   TEXT     NOT NULL,
    condition_id TEXT     NOT NULL,
    source       TEXT     NOT NULL DEFAULT '',
    side         TEXT     NOT NULL,
    entry_price  REAL     NOT NULL DEFAULT 0,
    stake        REAL     NOT NULL DEFAULT 0,
    shares       REAL     NOT NULL DEFAULT 0,
    exit_reason  TEXT     NOT NULL DEFAULT '',
    exit_price   REAL     NOT NULL DEFAULT 0,
    payout       REAL     NOT NULL DEFAULT 0,
    pnl          REAL     NOT NULL DEFAULT 0,
    degraded     INTEGER  NOT NULL DEFAULT 0,
    at           DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_at ON snapshots(saved_at DESC);
CREATE INDEX IF NOT EXISTS idx_trades_at    ON trades(at DESC);
CREATE INDEX IF NOT EXISTS idx_trades_key   ON trades(market_key);
`

const (
	keepSnapshots   = 20
	retentionTrades = 90 * 24 * time.Hour
)

// DailyPnL es el resultado realizado de un día (UTC).
type DailyPnL struct {
	Day    string
	Closed int
	Wins   int
	PnL    float64
}

// SQLiteStore implementa ports.SnapshotStore y ports.TradeLog usando SQLite
// (pure Go, sin CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore abre (o crea) la base de datos en la ruta dada, aplica el
// schema y limpia datos antiguos.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveSnapshot guarda el estado del ledger. Los snapshots viejos se podan
// en la misma transacción.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, st ledger.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("storage.SaveSnapshot: marshal: %w", err)
	}
	savedAt := st.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveSnapshot: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (version, saved_at, state) VALUES (?, ?, ?)`,
		st.Version, savedAt.UTC(), string(data),
	); err != nil {
		return fmt.Errorf("storage.SaveSnapshot: insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`,
		keepSnapshots,
	); err != nil {
		return fmt.Errorf("storage.SaveSnapshot: prune: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveSnapshot: commit: %w", err)
	}
	return nil
}

// LoadSnapshot devuelve el último snapshot. found=false si no hay ninguno.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (ledger.State, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM snapshots ORDER BY id DESC LIMIT 1`,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.State{}, false, nil
	}
	if err != nil {
		return ledger.State{}, false, fmt.Errorf("storage.LoadSnapshot: query: %w", err)
	}

	var st ledger.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return ledger.State{}, false, fmt.Errorf("storage.LoadSnapshot: decode: %w", err)
	}
	return st, true, nil
}

// Record implementa ports.TradeLog. Un ID repetido se ignora.
func (s *SQLiteStore) Record(rec domain.TradeRecord) error {
	p := rec.Position
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO trades
			(id, position_id, event, mode, strategy, market_key, condition_id, source,
			 side, entry_price, stake, shares, exit_reason, exit_price, payout, pnl,
			 degraded, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, p.ID, string(rec.Event), rec.Mode, rec.Strategy, p.MarketKey, p.ConditionID, p.Source,
		string(p.Side), p.EntryPrice, p.Stake, p.Shares, string(p.ExitReason), p.ExitPrice, p.Payout, p.PnL,
		boolToInt(p.Degraded), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.Record %s: %w", rec.ID, err)
	}
	return nil
}

// ClosedTrades devuelve los cierres en [from, to], más recientes primero.
func (s *SQLiteStore) ClosedTrades(ctx context.Context, from, to time.Time) ([]domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, position_id, mode, strategy, market_key, condition_id, source, side,
		       entry_price, stake, shares, exit_reason, exit_price, payout, pnl, degraded, at
		FROM trades
		WHERE event = ? AND at BETWEEN ? AND ?
		ORDER BY at DESC
	`, string(domain.TradeClosed), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("storage.ClosedTrades: query: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var (
			rec          domain.TradeRecord
			side, reason string
			degraded     int
		)
		p := &rec.Position
		if err := rows.Scan(
			&rec.ID, &p.ID, &rec.Mode, &rec.Strategy, &p.MarketKey, &p.ConditionID, &p.Source, &side,
			&p.EntryPrice, &p.Stake, &p.Shares, &reason, &p.ExitPrice, &p.Payout, &p.PnL, &degraded, &rec.At,
		); err != nil {
			return nil, fmt.Errorf("storage.ClosedTrades: scan row: %w", err)
		}
		rec.Event = domain.TradeClosed
		p.Side = domain.Side(side)
		p.ExitReason = domain.ExitReason(reason)
		p.Degraded = degraded == 1
		p.Status = domain.StatusClosed
		p.ClosedAt = rec.At
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DailyPnL agrega los cierres por día UTC, más reciente primero.
func (s *SQLiteStore) DailyPnL(ctx context.Context, days int) ([]DailyPnL, error) {
	if days <= 0 {
		days = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT substr(at, 1, 10) AS day,
		       COUNT(*),
		       SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END),
		       COALESCE(SUM(pnl), 0)
		FROM trades
		WHERE event = ?
		GROUP BY day
		ORDER BY day DESC
		LIMIT ?
	`, string(domain.TradeClosed), days)
	if err != nil {
		return nil, fmt.Errorf("storage.DailyPnL: query: %w", err)
	}
	defer rows.Close()

	var out []DailyPnL
	for rows.Next() {
		var d DailyPnL
		if err := rows.Scan(&d.Day, &d.Closed, &d.Wins, &d.PnL); err != nil {
			return nil, fmt.Errorf("storage.DailyPnL: scan row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// pruneOld elimina trades antiguos para mantener la DB ligera.
func (s *SQLiteStore) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionTrades)
	s.db.ExecContext(ctx, `DELETE FROM trades WHERE at < ?`, cutoff)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
