package observer

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// EventIndex is the durable record of observed on-chain settlement events.
// It is a side-effect log for operators and the /api/events endpoint; it
// never feeds back into the game ledger.
type EventIndex struct {
	db *sql.DB
}

// SettlementRecord is one decoded GameSettled event.
type SettlementRecord struct {
	ID          int64     `json:"id"`
	TxHash      string    `json:"txHash"`
	BlockNumber uint64    `json:"blockNumber"`
	Player      string    `json:"player"`
	BetAmount   string    `json:"betAmount"` // 1e18 fixed-point, stored as decimal string
	Threshold   string    `json:"threshold"`
	GuessHigher bool      `json:"guessHigher"`
	Won         bool      `json:"won"`
	Payout      string    `json:"payout"`
	ObservedAt  time.Time `json:"observedAt"`
}

func OpenEventIndex(dbPath string) (*EventIndex, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	idx := &EventIndex{db: db}
	if err := idx.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *EventIndex) migrate() error {
	_, err := idx.db.Exec(`
CREATE TABLE IF NOT EXISTS settlement_events (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  tx_hash      TEXT NOT NULL,
  block_number INTEGER NOT NULL,
  player       TEXT NOT NULL,
  bet_amount   TEXT NOT NULL,
  threshold    TEXT NOT NULL,
  guess_higher INTEGER NOT NULL,
  won          INTEGER NOT NULL,
  payout       TEXT NOT NULL,
  observed_at  TEXT NOT NULL,
  UNIQUE(tx_hash, player, block_number)
);
CREATE INDEX IF NOT EXISTS idx_settlement_player ON settlement_events(player);
`)
	if err != nil {
		return fmt.Errorf("migrate settlement_events: %w", err)
	}
	return nil
}

func (idx *EventIndex) Close() error {
	if idx == nil || idx.db == nil {
		return nil
	}
	return idx.db.Close()
}

// Insert stores a decoded event; duplicate deliveries are ignored.
func (idx *EventIndex) Insert(ctx context.Context, r SettlementRecord) error {
	_, err := idx.db.ExecContext(ctx, `
INSERT OR IGNORE INTO settlement_events
  (tx_hash, block_number, player, bet_amount, threshold, guess_higher, won, payout, observed_at)
VALUES (?,?,?,?,?,?,?,?,?)
`, r.TxHash, r.BlockNumber, r.Player, r.BetAmount, r.Threshold,
		boolToInt(r.GuessHigher), boolToInt(r.Won), r.Payout,
		r.ObservedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// Recent returns the newest events, most recent first.
func (idx *EventIndex) Recent(ctx context.Context, limit int) ([]SettlementRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := idx.db.QueryContext(ctx, `
SELECT id, tx_hash, block_number, player, bet_amount, threshold, guess_higher, won, payout, observed_at
FROM settlement_events ORDER BY id DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SettlementRecord
	for rows.Next() {
		var r SettlementRecord
		var guess, won int
		var observed string
		if err := rows.Scan(&r.ID, &r.TxHash, &r.BlockNumber, &r.Player, &r.BetAmount,
			&r.Threshold, &guess, &won, &r.Payout, &observed); err != nil {
			return nil, err
		}
		r.GuessHigher = guess != 0
		r.Won = won != 0
		r.ObservedAt, _ = time.Parse(time.RFC3339Nano, observed)
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
