// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package syncledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/casper2020/casper-nginx-broker-sub001/internal/errs2"
	"github.com/casper2020/casper-nginx-broker-sub001/internal/testcontext"
	"github.com/casper2020/casper-nginx-broker-sub001/syncledger"
)

type memorySink struct {
	rows []syncledger.Row
	err  error
}

func (sink *memorySink) Insert(ctx context.Context, row syncledger.Row) (int64, error) {
	if sink.err != nil {
		return 0, sink.err
	}
	sink.rows = append(sink.rows, row)
	return int64(len(sink.rows)), nil
}

func TestDelta(t *testing.T) {
	for _, tt := range []struct {
		operation syncledger.Operation
		data      syncledger.Data
		delta     int64
	}{
		{syncledger.OperationCreate, syncledger.Data{New: &syncledger.Object{Size: 120}}, 120},
		{syncledger.OperationMove, syncledger.Data{New: &syncledger.Object{Size: 7}}, 7},
		{syncledger.OperationUpdate, syncledger.Data{Old: &syncledger.Object{Size: 100}, New: &syncledger.Object{Size: 150}}, 50},
		{syncledger.OperationUpdate, syncledger.Data{Old: &syncledger.Object{Size: 150}, New: &syncledger.Object{Size: 100}}, -50},
		{syncledger.OperationPatch, syncledger.Data{Old: &syncledger.Object{Size: 10}, New: &syncledger.Object{Size: 10}}, 0},
		{syncledger.OperationDelete, syncledger.Data{Old: &syncledger.Object{Size: 150}}, -150},
	} {
		delta, err := syncledger.Delta(tt.operation, tt.data)
		require.NoError(t, err, tt.operation)
		assert.Equal(t, tt.delta, delta, tt.operation)
	}

	_, err := syncledger.Delta("rename", syncledger.Data{})
	require.Error(t, err)
	assert.True(t, errs2.Internal.Has(err))

	_, err = syncledger.Delta(syncledger.OperationUpdate, syncledger.Data{New: &syncledger.Object{Size: 1}})
	require.Error(t, err)
	assert.True(t, errs2.BadRequest.Has(err))
}

func TestRegister(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	correlation := uuid.MustParse("6f1c2d3e-4a5b-4c6d-8e7f-001122334455")

	sink := &memorySink{}
	ledger := syncledger.New(zaptest.NewLogger(t), sink, syncledger.Config{
		Origin:   "node-a",
		Slaves:   []string{"node-b", "node-c"},
		TTR:      time.Hour,
		Validity: 24 * time.Hour,
	})
	ledger.SetNow(func() time.Time { return now })
	ledger.SetNewID(func() uuid.UUID { return correlation })

	row, err := ledger.Register(ctx, syncledger.OperationUpdate, syncledger.Data{
		Old:         &syncledger.Object{ID: "uAb00000g", URI: "users/000/000/000/000/uAb00000g", Size: 100},
		New:         &syncledger.Object{ID: "uAb00000g", URI: "users/000/000/000/000/uAb00000g", Size: 150},
		Headers:     map[string]string{"X-CASPER-USER-ID": "alice"},
		XAttrs:      map[string]string{"md5": "abc"},
		BillingID:   "acme",
		Unaccounted: true,
	})
	require.NoError(t, err)
	require.Len(t, sink.rows, 1)

	assert.Equal(t, int64(1), row.ID)
	assert.Equal(t, int64(50), row.Delta)
	assert.True(t, row.Unaccounted)
	assert.Equal(t, "acme", row.BillingID)
	assert.Equal(t, syncledger.StatusPending, row.Status)
	assert.Equal(t, []syncledger.SlaveStatus{
		{Slave: "node-b", Status: syncledger.StatusPending},
		{Slave: "node-c", Status: syncledger.StatusPending},
	}, row.Slaves)
	assert.Equal(t, now, row.CreatedAt)
	assert.Equal(t, now.Add(25*time.Hour), row.ExpiresAt)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(row.Payload, &payload))
	assert.Equal(t, correlation.String(), payload["correlation"])
	assert.Equal(t, "update", payload["operation"])
	assert.Equal(t, "node-a", payload["origin"])
	assert.Equal(t, map[string]interface{}{"X-CASPER-USER-ID": "alice"}, payload["headers"])
	assert.Equal(t, map[string]interface{}{"md5": "abc"}, payload["xattrs"])
	assert.Equal(t, float64(100), payload["old"].(map[string]interface{})["size"])

	row, err = ledger.Register(ctx, syncledger.OperationDelete, syncledger.Data{
		Old: &syncledger.Object{ID: "uAb00000g", Size: 150},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-150), row.Delta)

	_, err = ledger.Register(ctx, "unknown", syncledger.Data{})
	require.Error(t, err)
	assert.Len(t, sink.rows, 2)

	sink.err = errors.New("database unavailable")
	_, err = ledger.Register(ctx, syncledger.OperationCreate, syncledger.Data{New: &syncledger.Object{Size: 1}})
	require.Error(t, err)
	assert.True(t, syncledger.Error.Has(err))
}

func TestStatusNext(t *testing.T) {
	require.NoError(t, syncledger.StatusPending.Next(syncledger.StatusScheduled))
	require.NoError(t, syncledger.StatusScheduled.Next(syncledger.StatusInProgress))
	require.NoError(t, syncledger.StatusInProgress.Next(syncledger.StatusDone))

	require.Error(t, syncledger.StatusPending.Next(syncledger.StatusDone))
	require.Error(t, syncledger.StatusScheduled.Next(syncledger.StatusPending))
	require.Error(t, syncledger.StatusDone.Next(syncledger.StatusPending))
	require.Error(t, syncledger.Status("bogus").Next(syncledger.StatusScheduled))
}
