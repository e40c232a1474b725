// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package syncledger

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	// registers the pgx database driver.
	_ "github.com/jackc/pgx/v5/stdlib"
	// registers the sqlite3 database driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/casper2020/casper-nginx-broker-sub001/internal/errs2"
)

//go:embed migrations/sqlite3/*.sql migrations/postgres/*.sql
var migrations embed.FS

// DB is a Sink storing rows in a SQL database.
type DB struct {
	log    *zap.Logger
	db     *sql.DB
	driver string
}

var _ Sink = (*DB)(nil)

// Open opens the ledger database of driver, which is sqlite3 or pgx.
func Open(log *zap.Logger, driver, dsn string) (*DB, error) {
	if _, err := dialectOf(driver); err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return NewDB(log, db, driver), nil
}

// NewDB wraps an open database of driver.
func NewDB(log *zap.Logger, db *sql.DB, driver string) *DB {
	return &DB{log: log, db: db, driver: driver}
}

func dialectOf(driver string) (goose.Dialect, error) {
	switch driver {
	case "sqlite3":
		return goose.DialectSQLite3, nil
	case "pgx":
		return goose.DialectPostgres, nil
	default:
		return "", Error.New("unsupported driver %q", driver)
	}
}

// Migrate brings the schema up to date.
func (db *DB) Migrate(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	dialect, err := dialectOf(db.driver)
	if err != nil {
		return err
	}
	dir := "migrations/sqlite3"
	if dialect == goose.DialectPostgres {
		dir = "migrations/postgres"
	}
	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return Error.Wrap(err)
	}

	provider, err := goose.NewProvider(dialect, db.db, fsys)
	if err != nil {
		return Error.Wrap(err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return Error.Wrap(err)
	}
	for _, result := range results {
		db.log.Info("applied migration", zap.String("source", result.Source.Path), zap.Duration("duration", result.Duration))
	}
	return nil
}

// Close closes the database.
func (db *DB) Close() error {
	return Error.Wrap(db.db.Close())
}

// rebind rewrites ? placeholders for drivers that number them.
func (db *DB) rebind(query string) string {
	if db.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Insert implements Sink.
func (db *DB) Insert(ctx context.Context, row Row) (id int64, err error) {
	defer mon.Task()(&ctx)(&err)

	slaves, err := json.Marshal(row.Slaves)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	err = db.db.QueryRowContext(ctx, db.rebind(`
		INSERT INTO sync_ledger (
			correlation, operation, payload, delta, unaccounted, billing_id, slaves, status, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		row.Correlation.String(), string(row.Operation), string(row.Payload), row.Delta, row.Unaccounted,
		row.BillingID, string(slaves), string(row.Status), row.CreatedAt, row.ExpiresAt,
	).Scan(&id)
	return id, Error.Wrap(err)
}

// Get returns the row with id.
func (db *DB) Get(ctx context.Context, id int64) (_ Row, err error) {
	defer mon.Task()(&ctx)(&err)

	var (
		row         Row
		correlation string
		operation   string
		payload     string
		slaves      string
		status      string
	)
	err = db.db.QueryRowContext(ctx, db.rebind(`
		SELECT id, correlation, operation, payload, delta, unaccounted, billing_id, slaves, status, created_at, expires_at
		FROM sync_ledger WHERE id = ?`), id,
	).Scan(&row.ID, &correlation, &operation, &payload, &row.Delta, &row.Unaccounted,
		&row.BillingID, &slaves, &status, &row.CreatedAt, &row.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, errs2.NotFound.Wrap(Error.New("row %d", id))
	}
	if err != nil {
		return Row{}, Error.Wrap(err)
	}

	row.Correlation, err = uuid.Parse(correlation)
	if err != nil {
		return Row{}, Error.Wrap(err)
	}
	row.Operation = Operation(operation)
	row.Payload = json.RawMessage(payload)
	row.Status = Status(status)
	if err := json.Unmarshal([]byte(slaves), &row.Slaves); err != nil {
		return Row{}, Error.Wrap(err)
	}
	row.CreatedAt = row.CreatedAt.UTC()
	row.ExpiresAt = row.ExpiresAt.UTC()
	return row, nil
}

// Advance moves the row with id to status, checking the transition is valid.
func (db *DB) Advance(ctx context.Context, id int64, status Status) (err error) {
	defer mon.Task()(&ctx)(&err)

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, Error.Wrap(ignoreDone(tx.Rollback())))
			return
		}
		err = Error.Wrap(tx.Commit())
	}()

	var current string
	err = tx.QueryRowContext(ctx, db.rebind(`SELECT status FROM sync_ledger WHERE id = ?`), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return errs2.NotFound.Wrap(Error.New("row %d", id))
	}
	if err != nil {
		return Error.Wrap(err)
	}
	if err := Status(current).Next(status); err != nil {
		return errs2.Conflict.Wrap(err)
	}

	_, err = tx.ExecContext(ctx, db.rebind(`UPDATE sync_ledger SET status = ? WHERE id = ?`), string(status), id)
	return Error.Wrap(err)
}

// Expired returns the ids of rows that are not done and expired before now.
func (db *DB) Expired(ctx context.Context, now time.Time) (ids []int64, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, db.rebind(`
		SELECT id FROM sync_ledger WHERE status <> ? AND expires_at < ? ORDER BY id`),
		string(StatusDone), now.UTC())
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, Error.Wrap(err)
		}
		ids = append(ids, id)
	}
	return ids, Error.Wrap(rows.Err())
}

func ignoreDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
