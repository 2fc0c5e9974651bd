package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sawpanic/momentumscan/internal/stream"
)

// Archive mirrors continuous signals into Postgres for long-range queries
// the day-files are too slow for. Optional; enabled by a DSN in config.
type Archive struct {
	db *sqlx.DB
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS stream_signals (
	id          BIGSERIAL PRIMARY KEY,
	symbol      TEXT        NOT NULL,
	exchange    TEXT        NOT NULL,
	style       TEXT        NOT NULL,
	timeframe   TEXT        NOT NULL,
	signal_type TEXT        NOT NULL,
	price       DOUBLE PRECISION NOT NULL,
	combined    DOUBLE PRECISION NOT NULL,
	payload     JSONB       NOT NULL,
	ts          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS stream_signals_symbol_ts ON stream_signals (symbol, ts DESC);
`

// NewArchive connects and ensures the schema.
func NewArchive(dsn string) (*Archive, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect archive: %w", err)
	}
	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure archive schema: %w", err)
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error { return a.db.Close() }

// InsertSignal stores one signal row with its full payload as JSONB.
func (a *Archive) InsertSignal(ctx context.Context, symbol string, sig stream.Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO stream_signals
			(symbol, exchange, style, timeframe, signal_type, price, combined, payload, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		symbol, sig.Exchange, sig.Style, string(sig.Timeframe), sig.SignalType,
		sig.Price, sig.Combined, payload, sig.Timestamp)
	return err
}

// RecentSignals returns the newest rows for one symbol, newest first.
func (a *Archive) RecentSignals(ctx context.Context, symbol string, limit int) ([]stream.Signal, error) {
	if limit <= 0 {
		limit = 100
	}
	var payloads [][]byte
	err := a.db.SelectContext(ctx, &payloads,
		`SELECT payload FROM stream_signals WHERE symbol = $1 ORDER BY ts DESC LIMIT $2`,
		symbol, limit)
	if err != nil {
		return nil, err
	}
	out := make([]stream.Signal, 0, len(payloads))
	for _, p := range payloads {
		var sig stream.Signal
		if err := json.Unmarshal(p, &sig); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}
