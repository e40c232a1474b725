// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package broker_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/casper2020/casper-nginx-broker-sub001/archive"
	"github.com/casper2020/casper-nginx-broker-sub001/archive/xattr"
	"github.com/casper2020/casper-nginx-broker-sub001/billing"
	"github.com/casper2020/casper-nginx-broker-sub001/broker"
	"github.com/casper2020/casper-nginx-broker-sub001/internal/errs2"
	"github.com/casper2020/casper-nginx-broker-sub001/internal/redisserver"
	"github.com/casper2020/casper-nginx-broker-sub001/internal/testcontext"
	"github.com/casper2020/casper-nginx-broker-sub001/permission"
	"github.com/casper2020/casper-nginx-broker-sub001/replication"
	"github.com/casper2020/casper-nginx-broker-sub001/syncledger"
)

const userHeader = "X-CASPER-USER-ID"

const h2eFile = `{
	// users live under users/
	"X-CASPER-USER-ID": "users",
	"X-CASPER-ENTITY-ID": "entities"
}`

const templateFile = `{
	"variables": {"owner": "X-CASPER-USER-ID"},
	"read": "!('permissions.owner' in attrs) || ('owner' in vars && attrs['permissions.owner'] == vars['owner'])",
	"write": "!('permissions.owner' in attrs) || ('owner' in vars && attrs['permissions.owner'] == vars['owner'])",
	"delete": "'owner' in vars && attrs['permissions.owner'] == vars['owner']"
}`

func newPeer(t *testing.T, ctx *testcontext.Context, redisAddress string) *broker.Peer {
	root := ctx.Dir("root")
	if !xattr.Supported(root) {
		t.Skip("filesystem does not support user extended attributes")
	}

	h2ePath := ctx.WriteFile([]byte(h2eFile), "config", "h2e.json")
	templatePath := ctx.WriteFile([]byte(templateFile), "config", "permissions.json")

	peer, err := broker.Open(ctx, zaptest.NewLogger(t), broker.Config{
		H2E:      h2ePath,
		Readback: []string{"content-type"},
		Quarantine: broker.QuarantineConfig{
			Validity: 48 * time.Hour,
		},
		Archive: archive.Config{
			Root:          root,
			QuarantineDir: ctx.Dir("quarantine"),
			Archivist:     "test-archivist",
			SealKeying:    "test keying material",
		},
		Permission: permission.Config{Template: templatePath, HeaderPrefix: "X-CASPER-"},
		Ledger: syncledger.Config{
			Origin:   "node-a",
			Slaves:   []string{"peer-a"},
			TTR:      time.Hour,
			Validity: 24 * time.Hour,
			Driver:   "sqlite3",
			DSN:      ctx.File("ledger.db"),
		},
		Billing:     billing.Config{Path: ctx.File("billing.db")},
		Replication: replication.Config{Address: redisAddress, Key: "test:replication"},
	})
	require.NoError(t, err)
	return peer
}

func usageOf(t *testing.T, ctx *testcontext.Context, peer *broker.Peer, id string) billing.Usage {
	document, err := peer.Billing.Get(ctx, id)
	require.NoError(t, err)
	var usage billing.Usage
	require.NoError(t, json.Unmarshal(document, &usage))
	return usage
}

func TestService(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	addr, cleanup, err := redisserver.Mini()
	require.NoError(t, err)
	defer cleanup()

	peer := newPeer(t, ctx, addr)
	defer ctx.Check(peer.Close)
	service := peer.Service

	alice := broker.Request{
		Headers:   map[string]string{userHeader: "alice"},
		BillingID: "account-1",
	}
	mallory := broker.Request{
		Headers: map[string]string{userHeader: "mallory"},
	}

	// create
	created, err := service.Create(ctx, alice, broker.CreateRequest{
		CreateRequest: archive.CreateRequest{Header: userHeader, NumericID: 42, Size: 5},
		Attrs:         map[string]string{"content-type": "text/plain"},
		Content:       strings.NewReader("hello"),
	})
	require.NoError(t, err)
	uri := created.Info.New.URI
	require.NotEmpty(t, uri)
	assert.EqualValues(t, 5, created.Row.Delta)
	contentType, ok := created.Info.ReadbackValue("content-type")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", contentType)

	row, err := peer.Ledger.DB.Get(ctx, created.Row.ID)
	require.NoError(t, err)
	assert.Equal(t, syncledger.OperationCreate, row.Operation)
	assert.Equal(t, syncledger.StatusPending, row.Status)
	assert.Contains(t, string(row.Payload), `"alice"`)
	assert.Contains(t, string(row.Payload), `"text/plain"`)
	assert.Equal(t, []syncledger.SlaveStatus{{Slave: "peer-a", Status: syncledger.StatusPending}}, row.Slaves)

	assert.Equal(t, billing.Usage{Accounted: 5}, usageOf(t, ctx, peer, "account-1"))

	job, err := peer.Queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, created.Row.ID, job.LedgerID)
	assert.Equal(t, uri, job.URI)
	assert.Equal(t, []string{"peer-a"}, job.Slaves)

	// get
	var content bytes.Buffer
	attrs, err := service.Get(ctx, alice, uri, &content)
	require.NoError(t, err)
	assert.Equal(t, "hello", content.String())
	assert.Equal(t, "alice", attrs["permissions.owner"])

	_, err = service.Get(ctx, mallory, uri, &content)
	require.Error(t, err)
	assert.True(t, errs2.Forbidden.Has(err))

	// update
	updated, err := service.Update(ctx, alice, archive.UpdateRequest{
		URI:        uri,
		Content:    strings.NewReader("hello world"),
		Size:       11,
		ArchivedBy: "alice",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 6, updated.Row.Delta)

	// patch
	patched, err := service.Patch(ctx, alice, archive.PatchRequest{
		URI:   uri,
		Attrs: map[string]string{"content-type": "text/markdown"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 0, patched.Row.Delta)
	contentType, _ = patched.Info.ReadbackValue("content-type")
	assert.Equal(t, "text/markdown", contentType)

	require.NoError(t, service.Validate(ctx, alice, archive.ValidateRequest{URI: uri}))

	_, err = service.Delete(ctx, mallory, uri)
	require.Error(t, err)
	assert.True(t, errs2.Forbidden.Has(err))

	// delete
	deleted, err := service.Delete(ctx, alice, uri)
	require.NoError(t, err)
	assert.EqualValues(t, -11, deleted.Row.Delta)
	assert.FileExists(t, deleted.Info.New.URI)

	assert.Equal(t, billing.Usage{Accounted: 0}, usageOf(t, ctx, peer, "account-1"))

	length, err := peer.Queue.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, length)

	jobs, err := peer.Queue.Peek(ctx, 3)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, string(syncledger.OperationDelete), jobs[2].Operation)
	assert.Equal(t, uri, jobs[2].URI)
}

func TestServiceMove(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	addr, cleanup, err := redisserver.Mini()
	require.NoError(t, err)
	defer cleanup()

	peer := newPeer(t, ctx, addr)
	defer ctx.Check(peer.Close)

	source := ctx.WriteFile([]byte("moved content"), "incoming", "upload.bin")

	request := broker.Request{
		Headers:     map[string]string{userHeader: "alice"},
		BillingID:   "account-2",
		Unaccounted: true,
	}
	moved, err := peer.Service.Move(ctx, request, archive.MoveRequest{
		From:      source,
		Header:    userHeader,
		NumericID: 7,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 13, moved.Row.Delta)
	assert.True(t, moved.Row.Unaccounted)
	assert.NoFileExists(t, source)
	assert.Equal(t, billing.Usage{Unaccounted: 13}, usageOf(t, ctx, peer, "account-2"))
}

func TestServiceCreateFailure(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	addr, cleanup, err := redisserver.Mini()
	require.NoError(t, err)
	defer cleanup()

	peer := newPeer(t, ctx, addr)
	defer ctx.Check(peer.Close)

	broken := errors.New("connection reset")
	_, err = peer.Service.Create(ctx, broker.Request{BillingID: "account-3"}, broker.CreateRequest{
		CreateRequest: archive.CreateRequest{Header: userHeader, NumericID: 9, Size: -1},
		Content:       iotest.ErrReader(broken),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, broken))

	_, err = peer.Ledger.DB.Get(ctx, 1)
	assert.True(t, errs2.NotFound.Has(err))
	_, err = peer.Billing.Get(ctx, "account-3")
	assert.True(t, errs2.NotFound.Has(err))

	length, err := peer.Queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, length)

	entries, err := os.ReadDir(filepath.Join(peer.Config.Root, "users"))
	if err == nil {
		for _, entry := range entries {
			assert.True(t, entry.IsDir(), entry.Name())
		}
	}
}
