package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/waterfall-engine/internal/engine"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS executions (
	id           TEXT PRIMARY KEY,
	deal_id      TEXT NOT NULL,
	period       INTEGER NOT NULL,
	payment_date DATETIME NOT NULL,
	phase        TEXT NOT NULL,
	strategy     TEXT NOT NULL,
	collections  TEXT NOT NULL,
	total_paid   TEXT NOT NULL,
	total_deferred TEXT NOT NULL,
	accelerated  INTEGER NOT NULL DEFAULT 0,
	result       TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS payment_records (
	execution_id TEXT NOT NULL REFERENCES executions(id),
	seq_no       INTEGER NOT NULL,
	step         TEXT NOT NULL,
	kind         TEXT NOT NULL,
	target       TEXT,
	amount_due        TEXT NOT NULL,
	amount_paid       TEXT NOT NULL,
	amount_deferred   TEXT NOT NULL,
	amount_capitalized TEXT NOT NULL,
	skipped      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (execution_id, seq_no)
);

CREATE INDEX IF NOT EXISTS idx_executions_deal ON executions(deal_id, period);
CREATE INDEX IF NOT EXISTS idx_payment_records_execution ON payment_records(execution_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SavePeriod(ctx context.Context, res *engine.PeriodResult) error {
	exec := res.Execution
	blob, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal period result")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO executions (id, deal_id, period, payment_date, phase, strategy, collections, total_paid, total_deferred, accelerated, result, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID.String(), res.DealID, res.Period, exec.PaymentDate.UTC(), string(exec.Phase), exec.Strategy,
		exec.Collections.String(), exec.TotalPaid.String(), exec.TotalDeferred.String(), exec.Accelerated,
		string(blob), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert execution %s", exec.ID)
	}

	for i, r := range exec.Records {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO payment_records (execution_id, seq_no, step, kind, target, amount_due, amount_paid, amount_deferred, amount_capitalized, skipped)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			exec.ID.String(), i, r.Step, string(r.Kind), r.Target,
			r.AmountDue.String(), r.AmountPaid.String(), r.AmountDeferred.String(), r.AmountCapitalized.String(), r.Skipped,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert payment record %d for %s", i, exec.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, dealID string, limit int) ([]ExecutionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, deal_id, period, payment_date, phase, collections, total_paid, total_deferred, accelerated, created_at
		 FROM executions WHERE deal_id = ? ORDER BY period ASC LIMIT ?`,
		dealID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list executions for %s", dealID)
	}
	defer rows.Close()

	var out []ExecutionSummary
	for rows.Next() {
		var s ExecutionSummary
		if err := rows.Scan(&s.ID, &s.DealID, &s.Period, &s.PaymentDate, &s.Phase, &s.Collections, &s.TotalPaid, &s.TotalDeferred, &s.Accelerated, &s.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan execution")
		}
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate executions")
}

func (s *SQLiteStore) GetPeriod(ctx context.Context, executionID string) (*engine.PeriodResult, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM executions WHERE id = ?`, executionID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get execution %s", executionID)
	}

	var res engine.PeriodResult
	if err := json.Unmarshal([]byte(blob), &res); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal execution %s", executionID)
	}
	return &res, nil
}
