package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"calmie/internal/config"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Postgres keeps keys in a table partitioned by namespace so several clients
// can share one database.
type Postgres struct {
	pool      *pgxpool.Pool
	table     string
	namespace string
}

func NewPostgresPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	if cfg.MaxOpen > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpen)
	}
	if cfg.MaxIdle > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdle)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolConfig.HealthCheckPeriod = 30 * time.Second

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w: %v", ErrUnavailable, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w: %v", ErrUnavailable, err)
	}

	return pool, nil
}

func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*Postgres, error) {
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("postgres storage: invalid table name %q", cfg.Table)
	}

	pool, err := NewPostgresPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store := &Postgres{pool: pool, table: cfg.Table, namespace: cfg.Namespace}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			namespace  TEXT        NOT NULL,
			key        TEXT        NOT NULL,
			value      TEXT        NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (namespace, key)
		)
	`, p.table)

	if _, err := p.pool.Exec(ctx, query); err != nil {
		return classifyPostgresError("ensure schema", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(`SELECT key, value FROM %s WHERE namespace = $1 AND key = ANY($2)`, p.table)
	rows, err := p.pool.Query(ctx, query, p.namespace, keys)
	if err != nil {
		return nil, classifyPostgresError("get", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, classifyPostgresError("scan", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgresError("get", err)
	}
	return out, nil
}

func (p *Postgres) Set(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (namespace, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (namespace, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, p.table)

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for k, v := range entries {
			if _, err := tx.Exec(ctx, query, p.namespace, k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return classifyPostgresError("set", err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE namespace = $1 AND key = ANY($2)`, p.table)
	if _, err := p.pool.Exec(ctx, query, p.namespace, keys); err != nil {
		return classifyPostgresError("delete", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func classifyPostgresError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "53100", "53200", "54000":
			// disk_full, out_of_memory, program_limit_exceeded
			return fmt.Errorf("postgres storage: %s: %w: %v", op, ErrQuotaExceeded, err)
		case "25006", "57P01", "57P03":
			// read_only_sql_transaction, admin_shutdown, cannot_connect_now
			return fmt.Errorf("postgres storage: %s: %w: %v", op, ErrUnavailable, err)
		}
		return fmt.Errorf("postgres storage: %s: %w", op, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("postgres storage: %s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("postgres storage: %s: %w", op, err)
}
