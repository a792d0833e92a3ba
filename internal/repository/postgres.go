// Package repository хранит записи конфигурации интеграции в PostgreSQL или в YAML-файле.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/modernmilkman/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrEntryNotFound возвращается, если запись конфигурации ещё не создана.
	ErrEntryNotFound = errors.New("config entry not found")
	// ErrEntryExists возвращается при попытке создать вторую запись с тем же идентификатором.
	ErrEntryExists = errors.New("config entry already exists")
)

const maxRetries = 3

// PostgresRepository хранит одну запись конфигурации в PostgreSQL.
type PostgresRepository struct {
	pool    *pgxpool.Pool
	entryID string
	backoff func() retry.Backoff
}

// NewPostgresRepository создаёт репозиторий для записи entryID и применяет миграции.
func NewPostgresRepository(dsn, entryID string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, entryID: entryID, backoff: defaultBackoff}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func defaultBackoff() retry.Backoff {
	return retry.WithMaxRetries(maxRetries, retry.NewFibonacci(time.Second))
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected ||
			pgerrcode.IsConnectionException(pgErr.Code)
	}

	return pgconn.SafeToRetry(err) || isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Entry возвращает запись конфигурации.
func (r *PostgresRepository) Entry(ctx context.Context) (model.ConfigEntry, error) {
	var e model.ConfigEntry
	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx,
			`SELECT entry_id, title, username, password, calendars, uids
			 FROM config_entries
			 WHERE entry_id = $1`,
			r.entryID,
		).Scan(&e.EntryID, &e.Title, &e.Username, &e.Password, &e.Calendars, &e.UIDs)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ConfigEntry{}, ErrEntryNotFound
		}
		return model.ConfigEntry{}, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// CreateEntry сохраняет новую запись конфигурации.
func (r *PostgresRepository) CreateEntry(ctx context.Context, entry model.ConfigEntry) error {
	entry.EntryID = r.entryID
	err := r.withRetry(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO config_entries (entry_id, title, username, password, calendars, uids)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			entry.EntryID, entry.Title, entry.Username, entry.Password,
			nonNil(entry.Calendars), nonNil(entry.UIDs),
		)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrEntryExists, entry.EntryID)
		}
		return fmt.Errorf("create entry: %w", err)
	}
	return nil
}

// UpdateUIDs заменяет список UID созданных событий.
func (r *PostgresRepository) UpdateUIDs(ctx context.Context, uids []string) error {
	return r.update(ctx, "uids", uids)
}

// UpdateCalendars заменяет список целевых календарей.
func (r *PostgresRepository) UpdateCalendars(ctx context.Context, calendars []string) error {
	return r.update(ctx, "calendars", calendars)
}

func (r *PostgresRepository) update(ctx context.Context, column string, values []string) error {
	query := fmt.Sprintf(`UPDATE config_entries SET %s = $2, updated_at = now() WHERE entry_id = $1`, column)

	var affected int64
	err := r.withRetry(ctx, func(ctx context.Context) error {
		tag, err := r.pool.Exec(ctx, query, r.entryID, nonNil(values))
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	if affected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
