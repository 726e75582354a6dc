// Package instruments provides the Instrument Registry — the mapping
// from symbol to latest observed price — and Tick History, the
// append-only (symbol, price, t) time series ingest writes to.
package instruments

import (
	"context"
	"time"

	"github.com/finrisk/valuation-service/internal/database"
	"github.com/finrisk/valuation-service/internal/domain"
)

// Registry is the Instrument Registry.
type Registry struct {
	db *database.DB
}

func NewRegistry(db *database.DB) *Registry {
	return &Registry{db: db}
}

// Upsert records the latest observed trade price for symbol.
func (r *Registry) Upsert(ctx context.Context, symbol string, price float64) error {
	_, err := r.db.Conn.ExecContext(ctx,
		`INSERT INTO instruments (symbol, price) VALUES (?, ?)
		 ON CONFLICT(symbol) DO UPDATE SET price = excluded.price`,
		symbol, price,
	)
	if err != nil {
		return domain.NewError(domain.Serialization, "upsert instrument", err)
	}
	return nil
}

// Prices returns the full symbol -> price map, the second input the
// portfolio builder needs alongside the lot map.
func (r *Registry) Prices(ctx context.Context) (map[string]float64, error) {
	rows, err := r.db.Conn.QueryContext(ctx, `SELECT symbol, price FROM instruments`)
	if err != nil {
		return nil, domain.NewError(domain.Serialization, "query instruments", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var symbol string
		var price float64
		if err := rows.Scan(&symbol, &price); err != nil {
			return nil, domain.NewError(domain.Serialization, "scan instrument", err)
		}
		out[symbol] = price
	}
	return out, rows.Err()
}

// List returns every instrument row, for GET /instruments.
func (r *Registry) List(ctx context.Context) ([]domain.InstrumentQuote, error) {
	rows, err := r.db.Conn.QueryContext(ctx, `SELECT symbol, price FROM instruments ORDER BY symbol`)
	if err != nil {
		return nil, domain.NewError(domain.Serialization, "list instruments", err)
	}
	defer rows.Close()

	var out []domain.InstrumentQuote
	for rows.Next() {
		var ins domain.InstrumentQuote
		if err := rows.Scan(&ins.Symbol, &ins.Price); err != nil {
			return nil, domain.NewError(domain.Serialization, "scan instrument", err)
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}

// OpenQuantityFunc lets Delete check whether symbol currently has open
// lots without this package depending on the lot engine directly.
type OpenQuantityFunc func(ctx context.Context, symbol string) (float64, error)

// Delete removes symbol's instrument row. An instrument row may only be
// deleted when no open lots reference its symbol.
func (r *Registry) Delete(ctx context.Context, symbol string, openQty OpenQuantityFunc) error {
	qty, err := openQty(ctx, symbol)
	if err != nil {
		return err
	}
	if qty > 0 {
		return domain.NewError(domain.Portfolio, "symbol has open lots", nil)
	}
	res, err := r.db.Conn.ExecContext(ctx, `DELETE FROM instruments WHERE symbol = ?`, symbol)
	if err != nil {
		return domain.NewError(domain.Serialization, "delete instrument", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewError(domain.Portfolio, "instrument not found", nil)
	}
	return nil
}

// tsLayout is RFC 3339 in UTC with a fixed nine-digit fraction, so stored
// ts values and cutoffs compare as text in the same order as in time.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// History is the tick history writer/reader.
type History struct {
	db *database.DB
}

func NewHistory(db *database.DB) *History {
	return &History{db: db}
}

// Append writes a tick row. Never de-duplicated.
func (h *History) Append(ctx context.Context, tick domain.TickPoint) error {
	_, err := h.db.Conn.ExecContext(ctx,
		`INSERT INTO price_history (symbol, price, ts) VALUES (?, ?, ?)`,
		tick.Symbol, tick.Price, tick.Timestamp.UTC().Format(tsLayout),
	)
	if err != nil {
		return domain.NewError(domain.Serialization, "append tick", err)
	}
	return nil
}

// OlderThan returns every tick with ts < cutoff, ordered the same way as
// Since, for an archival job to read before the retention cleanup job
// deletes them.
func (h *History) OlderThan(ctx context.Context, cutoff time.Time) ([]domain.TickPoint, error) {
	rows, err := h.db.Conn.QueryContext(ctx,
		`SELECT symbol, price, ts FROM price_history WHERE ts < ? ORDER BY ts, id`,
		cutoff.UTC().Format(tsLayout),
	)
	if err != nil {
		return nil, domain.NewError(domain.Serialization, "query aged tick history", err)
	}
	defer rows.Close()

	var out []domain.TickPoint
	for rows.Next() {
		var tp domain.TickPoint
		var ts string
		if err := rows.Scan(&tp.Symbol, &tp.Price, &ts); err != nil {
			return nil, domain.NewError(domain.Serialization, "scan aged tick", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, domain.NewError(domain.DateTime, "parse aged tick timestamp", err)
		}
		tp.Timestamp = parsed
		out = append(out, tp)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes every tick with ts < cutoff, the retention
// window's enforcement point, and reports how many rows were removed.
func (h *History) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := h.db.Conn.ExecContext(ctx,
		`DELETE FROM price_history WHERE ts < ?`,
		cutoff.UTC().Format(tsLayout),
	)
	if err != nil {
		return 0, domain.NewError(domain.Serialization, "delete aged tick history", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Since returns symbol's ticks from the last `since` duration, ordered by
// ts then insertion id: monotonic per symbol modulo same-millisecond
// ties, which retain insertion order via the id tiebreak.
func (h *History) Since(ctx context.Context, symbol string, since time.Duration) ([]domain.TickPoint, error) {
	cutoff := time.Now().UTC().Add(-since).Format(tsLayout)
	rows, err := h.db.Conn.QueryContext(ctx,
		`SELECT symbol, price, ts FROM price_history WHERE symbol = ? AND ts >= ? ORDER BY ts, id`,
		symbol, cutoff,
	)
	if err != nil {
		return nil, domain.NewError(domain.Serialization, "query tick history", err)
	}
	defer rows.Close()

	var out []domain.TickPoint
	for rows.Next() {
		var tp domain.TickPoint
		var ts string
		if err := rows.Scan(&tp.Symbol, &tp.Price, &ts); err != nil {
			return nil, domain.NewError(domain.Serialization, "scan tick", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, domain.NewError(domain.DateTime, "parse tick timestamp", err)
		}
		tp.Timestamp = parsed
		out = append(out, tp)
	}
	return out, rows.Err()
}
