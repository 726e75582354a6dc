// Package ledger is the transaction log: an append-only, ordered
// record of BUY/SELL events. It is the single source of truth the Lot
// Engine (internal/lots) replays — lots are never persisted directly.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/finrisk/valuation-service/internal/database"
	"github.com/finrisk/valuation-service/internal/domain"
)

// timestampLayout is RFC 3339 with a fixed nine-digit fraction, so the
// stored text sorts in the same order as the times it encodes.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Repository provides insert, list, and clear over the transactions table.
type Repository struct {
	db *database.DB
}

func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Append inserts a new transaction and returns it with its assigned ID
// and timestamp. Transactions are immutable once appended.
func (r *Repository) Append(ctx context.Context, kind domain.TransactionKind, symbol string, quantity, price float64) (domain.Transaction, error) {
	if quantity <= 0 {
		return domain.Transaction{}, domain.NewError(domain.InvalidInstrument, "quantity must be positive", nil)
	}
	tx := domain.Transaction{
		ID:        uuid.NewString(),
		Kind:      kind,
		Symbol:    symbol,
		Quantity:  quantity,
		Price:     price,
		Timestamp: time.Now().UTC(),
	}
	_, err := r.db.Conn.ExecContext(ctx,
		`INSERT INTO transactions (id, type, symbol, quantity, price, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		tx.ID, string(tx.Kind), tx.Symbol, tx.Quantity, tx.Price, tx.Timestamp.Format(timestampLayout),
	)
	if err != nil {
		return domain.Transaction{}, domain.NewError(domain.Serialization, "append transaction", err)
	}
	return tx, nil
}

// All returns the full transaction log ordered by (timestamp, id) — the
// total order the Lot Engine replays over.
func (r *Repository) All(ctx context.Context) ([]domain.Transaction, error) {
	return r.query(ctx, `SELECT id, type, symbol, quantity, price, timestamp FROM transactions ORDER BY timestamp, id`)
}

// Recent returns at most limit transactions, most recent first, matching
// GET /transactions (capped at 200 by the caller).
func (r *Repository) Recent(ctx context.Context, limit int) ([]domain.Transaction, error) {
	rows, err := r.query(ctx, `SELECT id, type, symbol, quantity, price, timestamp FROM transactions ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	return rows, err
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.db.Conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, domain.NewError(domain.Serialization, "query transactions", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var kind, ts string
		var price sql.NullFloat64
		if err := rows.Scan(&tx.ID, &kind, &tx.Symbol, &tx.Quantity, &price, &ts); err != nil {
			return nil, domain.NewError(domain.Serialization, "scan transaction", err)
		}
		tx.Kind = domain.TransactionKind(kind)
		tx.Price = price.Float64
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, domain.NewError(domain.DateTime, fmt.Sprintf("parse transaction timestamp %q", ts), err)
		}
		tx.Timestamp = parsed
		out = append(out, tx)
	}
	return out, rows.Err()
}

// ClearAll removes every transaction — the only mutation the log permits
// besides appending.
func (r *Repository) ClearAll(ctx context.Context) error {
	if _, err := r.db.Conn.ExecContext(ctx, `DELETE FROM transactions`); err != nil {
		return domain.NewError(domain.Serialization, "clear transactions", err)
	}
	return nil
}
