package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/waterfall-engine/internal/db"
	"github.com/sells-group/waterfall-engine/internal/engine"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS executions (
	id           TEXT PRIMARY KEY,
	deal_id      TEXT NOT NULL,
	period       INTEGER NOT NULL,
	payment_date TIMESTAMPTZ NOT NULL,
	phase        TEXT NOT NULL,
	strategy     TEXT NOT NULL,
	collections  NUMERIC NOT NULL,
	total_paid   NUMERIC NOT NULL,
	total_deferred NUMERIC NOT NULL,
	accelerated  BOOLEAN NOT NULL DEFAULT FALSE,
	result       JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payment_records (
	execution_id TEXT NOT NULL REFERENCES executions(id),
	seq_no       INTEGER NOT NULL,
	step         TEXT NOT NULL,
	kind         TEXT NOT NULL,
	target       TEXT,
	amount_due        NUMERIC NOT NULL,
	amount_paid       NUMERIC NOT NULL,
	amount_deferred   NUMERIC NOT NULL,
	amount_capitalized NUMERIC NOT NULL,
	skipped      BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (execution_id, seq_no)
);

CREATE INDEX IF NOT EXISTS idx_executions_deal ON executions(deal_id, period);
`

var paymentRecordColumns = []string{
	"execution_id", "seq_no", "step", "kind", "target",
	"amount_due", "amount_paid", "amount_deferred", "amount_capitalized", "skipped",
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SavePeriod(ctx context.Context, res *engine.PeriodResult) error {
	exec := res.Execution
	blob, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal period result")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO executions (id, deal_id, period, payment_date, phase, strategy, collections, total_paid, total_deferred, accelerated, result, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		exec.ID.String(), res.DealID, res.Period, exec.PaymentDate.UTC(), string(exec.Phase), exec.Strategy,
		exec.Collections.String(), exec.TotalPaid.String(), exec.TotalDeferred.String(), exec.Accelerated,
		blob, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert execution %s", exec.ID)
	}

	rows := make([][]any, 0, len(exec.Records))
	for i, r := range exec.Records {
		rows = append(rows, []any{
			exec.ID.String(), i, r.Step, string(r.Kind), r.Target,
			r.AmountDue.String(), r.AmountPaid.String(), r.AmountDeferred.String(), r.AmountCapitalized.String(), r.Skipped,
		})
	}
	if _, err := db.CopyFrom(ctx, s.pool, "payment_records", paymentRecordColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: copy payment records for %s", exec.ID)
	}
	return nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, dealID string, limit int) ([]ExecutionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, deal_id, period, payment_date, phase, collections, total_paid, total_deferred, accelerated, created_at
		 FROM executions WHERE deal_id = $1 ORDER BY period ASC LIMIT $2`,
		dealID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list executions for %s", dealID)
	}
	defer rows.Close()

	var out []ExecutionSummary
	for rows.Next() {
		var s ExecutionSummary
		if err := rows.Scan(&s.ID, &s.DealID, &s.Period, &s.PaymentDate, &s.Phase, &s.Collections, &s.TotalPaid, &s.TotalDeferred, &s.Accelerated, &s.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan execution")
		}
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate executions")
}

func (s *PostgresStore) GetPeriod(ctx context.Context, executionID string) (*engine.PeriodResult, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx,
		`SELECT result FROM executions WHERE id = $1`, executionID,
	).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get execution %s", executionID)
	}

	var res engine.PeriodResult
	if err := json.Unmarshal(blob, &res); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal execution %s", executionID)
	}
	return &res, nil
}
