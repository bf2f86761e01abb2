package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/betbot/iqblitz/internal/metrics"
	"github.com/betbot/iqblitz/pkg/sdk/iqoption"
)

var journalLog = logrus.WithField("component", "journal")

// Entry is one recorded settlement.
type Entry struct {
	ID         int64           `json:"id"`
	LocalID    string          `json:"local_id"`
	PositionID string          `json:"position_id"`
	ActiveID   int64           `json:"active_id"`
	Direction  string          `json:"direction"`
	Amount     decimal.Decimal `json:"amount"`
	Duration   int             `json:"duration"`
	State      string          `json:"state"`
	Result     string          `json:"result"`
	PnL        decimal.Decimal `json:"pnl"`
	ServerPnL  decimal.Decimal `json:"server_pnl"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Journal appends trade settlements to a sqlite file. It is an audit log;
// nothing is read back into the client.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	journalLog.Infof("settlement journal at %s", path)
	return j, nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS settlements (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  local_id TEXT NOT NULL,
  position_id TEXT,
  active_id INTEGER NOT NULL,
  direction TEXT NOT NULL,
  amount TEXT NOT NULL,
  duration INTEGER NOT NULL,
  state TEXT NOT NULL,
  result TEXT NOT NULL,
  pnl TEXT NOT NULL,
  server_pnl TEXT NOT NULL,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_settlements_created ON settlements(created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

// Record appends s. Money is stored as decimal text to avoid float rounding.
func (j *Journal) Record(ctx context.Context, s *iqoption.Settlement) error {
	if s == nil {
		return fmt.Errorf("record: nil settlement")
	}
	o := s.Order
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO settlements (local_id, position_id, active_id, direction, amount, duration, state, result, pnl, server_pnl, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`, o.LocalID, s.PositionID, o.ActiveID, string(o.Direction), o.Amount.String(), o.Duration,
		s.State.String(), string(s.Result), s.PnL.String(), s.ServerPnL.String(),
		createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		metrics.JournalErrors.Add(1)
		return fmt.Errorf("insert settlement: %w", err)
	}
	metrics.JournalWrites.Add(1)
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 2000 {
		limit = 200
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, local_id, COALESCE(position_id, ''), active_id, direction, amount, duration, state, result, pnl, server_pnl, created_at
FROM settlements
ORDER BY id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                      Entry
			amount, pnl, serverPnL string
			createdAt              string
		)
		if err := rows.Scan(&e.ID, &e.LocalID, &e.PositionID, &e.ActiveID, &e.Direction, &amount,
			&e.Duration, &e.State, &e.Result, &pnl, &serverPnL, &createdAt); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("entry %d amount: %w", e.ID, err)
		}
		if e.PnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("entry %d pnl: %w", e.ID, err)
		}
		if e.ServerPnL, err = decimal.NewFromString(serverPnL); err != nil {
			return nil, fmt.Errorf("entry %d server pnl: %w", e.ID, err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("entry %d created_at: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
