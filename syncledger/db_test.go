// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package syncledger_test

import (
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/casper2020/casper-nginx-broker-sub001/internal/errs2"
	"github.com/casper2020/casper-nginx-broker-sub001/internal/testcontext"
	"github.com/casper2020/casper-nginx-broker-sub001/syncledger"
)

func testRow() syncledger.Row {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return syncledger.Row{
		Correlation: uuid.MustParse("6f1c2d3e-4a5b-4c6d-8e7f-001122334455"),
		Operation:   syncledger.OperationCreate,
		Payload:     []byte(`{"operation":"create"}`),
		Delta:       42,
		BillingID:   "acme",
		Slaves:      []syncledger.SlaveStatus{{Slave: "node-b", Status: syncledger.StatusPending}},
		Status:      syncledger.StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
}

func TestInsertPlaceholders(t *testing.T) {
	for driver, placeholder := range map[string]string{
		"sqlite3": "?",
		"pgx":     "$10",
	} {
		t.Run(driver, func(t *testing.T) {
			ctx := testcontext.New(t)
			defer ctx.Cleanup()

			conn, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer func() { _ = conn.Close() }()

			row := testRow()
			mock.ExpectQuery(regexp.QuoteMeta(placeholder) + `\)\s+RETURNING id`).
				WithArgs(row.Correlation.String(), "create", `{"operation":"create"}`, int64(42), false,
					"acme", `[{"slave":"node-b","status":"pending"}]`, "pending", row.CreatedAt, row.ExpiresAt).
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

			db := syncledger.NewDB(zaptest.NewLogger(t), conn, driver)
			id, err := db.Insert(ctx, row)
			require.NoError(t, err)
			assert.Equal(t, int64(7), id)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAdvanceMock(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM sync_ledger`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectRollback()

	db := syncledger.NewDB(zaptest.NewLogger(t), conn, "pgx")
	err = db.Advance(ctx, 3, syncledger.StatusDone)
	require.Error(t, err)
	assert.True(t, errs2.Conflict.Has(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, err := syncledger.Open(zaptest.NewLogger(t), "sqlite3", ctx.File("ledger.db"))
	require.NoError(t, err)
	defer ctx.Check(db.Close)

	require.NoError(t, db.Migrate(ctx))
	// migrating again is a no-op
	require.NoError(t, db.Migrate(ctx))

	ledger := syncledger.New(zaptest.NewLogger(t), db, syncledger.Config{
		Origin:   "node-a",
		Slaves:   []string{"node-b"},
		TTR:      time.Minute,
		Validity: time.Minute,
	})
	row, err := ledger.Register(ctx, syncledger.OperationCreate, syncledger.Data{
		New:       &syncledger.Object{ID: "uAb00000g", URI: "users/000/000/000/000/uAb00000g", Size: 10},
		BillingID: "acme",
	})
	require.NoError(t, err)
	require.NotZero(t, row.ID)

	stored, err := db.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, row.Correlation, stored.Correlation)
	assert.Equal(t, row.Delta, stored.Delta)
	assert.Equal(t, row.Slaves, stored.Slaves)
	assert.JSONEq(t, string(row.Payload), string(stored.Payload))
	assert.WithinDuration(t, row.ExpiresAt, stored.ExpiresAt, time.Second)

	expired, err := db.Expired(ctx, row.ExpiresAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []int64{row.ID}, expired)

	require.NoError(t, db.Advance(ctx, row.ID, syncledger.StatusScheduled))
	require.NoError(t, db.Advance(ctx, row.ID, syncledger.StatusInProgress))
	err = db.Advance(ctx, row.ID, syncledger.StatusScheduled)
	require.Error(t, err)
	assert.True(t, errs2.Conflict.Has(err))
	require.NoError(t, db.Advance(ctx, row.ID, syncledger.StatusDone))

	expired, err = db.Expired(ctx, row.ExpiresAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, expired)

	_, err = db.Get(ctx, row.ID+100)
	require.Error(t, err)
	assert.True(t, errs2.NotFound.Has(err))

	_, err = syncledger.Open(zaptest.NewLogger(t), "mysql", "")
	require.Error(t, err)
}
