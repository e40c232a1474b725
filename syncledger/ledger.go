// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package syncledger records every committed archive mutation as a row that external workers
// use to propagate billing deltas and replicate objects to peers.
package syncledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/casper2020/casper-nginx-broker-sub001/internal/errs2"
)

var (
	// Error is the default syncledger error class.
	Error = errs.Class("syncledger")

	mon = monkit.Package()
)

// Operation is the kind of mutation a row records.
type Operation string

const (
	// OperationCreate records a new object.
	OperationCreate Operation = "create"
	// OperationUpdate records replaced content.
	OperationUpdate Operation = "update"
	// OperationPatch records replaced attributes.
	OperationPatch Operation = "patch"
	// OperationDelete records a removed object.
	OperationDelete Operation = "delete"
	// OperationMove records a file moved into the archive.
	OperationMove Operation = "move"
)

// Status is the propagation state of a row or of one slave.
type Status string

const (
	// StatusPending rows have not been picked up.
	StatusPending Status = "pending"
	// StatusScheduled rows have a job queued.
	StatusScheduled Status = "scheduled"
	// StatusInProgress rows are being propagated.
	StatusInProgress Status = "in-progress"
	// StatusDone rows have been propagated.
	StatusDone Status = "done"
)

// Next checks that status may advance to next.
func (status Status) Next(next Status) error {
	var expected Status
	switch status {
	case StatusPending:
		expected = StatusScheduled
	case StatusScheduled:
		expected = StatusInProgress
	case StatusInProgress:
		expected = StatusDone
	}
	if expected == "" || next != expected {
		return Error.New("invalid transition from %q to %q", status, next)
	}
	return nil
}

// Object identifies one side of a mutation.
type Object struct {
	ID   string `json:"id"`
	URI  string `json:"uri"`
	Size int64  `json:"size"`
}

// Data is what a mutation is registered with.
type Data struct {
	Old *Object
	New *Object
	// Headers are the request headers the mutation was made with.
	Headers map[string]string
	// XAttrs are attributes read back from the resulting object.
	XAttrs map[string]string

	BillingID   string
	Unaccounted bool
}

// SlaveStatus is the propagation state of a row on one peer.
type SlaveStatus struct {
	Slave  string `json:"slave"`
	Status Status `json:"status"`
}

// Row is one ledger entry.
type Row struct {
	ID          int64
	Correlation uuid.UUID
	Operation   Operation
	Payload     json.RawMessage
	Delta       int64
	Unaccounted bool
	BillingID   string
	Slaves      []SlaveStatus
	Status      Status
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// payload is the JSON snapshot stored with a row.
type payload struct {
	Correlation string            `json:"correlation"`
	Operation   Operation         `json:"operation"`
	Origin      string            `json:"origin"`
	Old         *Object           `json:"old,omitempty"`
	New         *Object           `json:"new,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	XAttrs      map[string]string `json:"xattrs,omitempty"`
	BillingID   string            `json:"billing_id,omitempty"`
	Unaccounted bool              `json:"unaccounted,omitempty"`
}

// Sink stores rows.
type Sink interface {
	// Insert stores row and returns its id.
	Insert(ctx context.Context, row Row) (int64, error)
}

// Config defines the ledger rows a node produces.
type Config struct {
	Origin   string        `help:"name of this node in ledger rows" default:"casper-archive"`
	Slaves   []string      `help:"peers every mutation is propagated to" default:""`
	TTR      time.Duration `help:"time a propagation job may take" default:"1h0m0s"`
	Validity time.Duration `help:"time a propagation job stays valid after its ttr" default:"24h0m0s"`
	Driver   string        `help:"database driver of the ledger, sqlite3 or pgx" default:"sqlite3" validate:"oneof=sqlite3 pgx"`
	DSN      string        `help:"data source name of the ledger database" default:"$CONFDIR/ledger.db" validate:"required"`
}

// Ledger registers mutations.
type Ledger struct {
	log    *zap.Logger
	sink   Sink
	config Config

	now   func() time.Time
	newID func() uuid.UUID
}

// New creates a ledger inserting rows into sink.
func New(log *zap.Logger, sink Sink, config Config) *Ledger {
	return &Ledger{
		log:    log,
		sink:   sink,
		config: config,
		now:    time.Now,
		newID:  uuid.New,
	}
}

// Delta returns the change in stored bytes a mutation causes.
func Delta(operation Operation, data Data) (int64, error) {
	size := func(object *Object, side string) (int64, error) {
		if object == nil {
			return 0, errs2.BadRequest.Wrap(Error.New("%s requires the %s object", operation, side))
		}
		return object.Size, nil
	}

	switch operation {
	case OperationCreate, OperationMove:
		return size(data.New, "new")
	case OperationUpdate, OperationPatch:
		newSize, err := size(data.New, "new")
		if err != nil {
			return 0, err
		}
		oldSize, err := size(data.Old, "old")
		if err != nil {
			return 0, err
		}
		return newSize - oldSize, nil
	case OperationDelete:
		oldSize, err := size(data.Old, "old")
		return -oldSize, err
	default:
		return 0, errs2.Internal.Wrap(Error.New("unknown operation %q", operation))
	}
}

// Register builds the row of a committed mutation and inserts it.
func (ledger *Ledger) Register(ctx context.Context, operation Operation, data Data) (_ Row, err error) {
	defer mon.Task()(&ctx)(&err)

	delta, err := Delta(operation, data)
	if err != nil {
		return Row{}, err
	}

	now := ledger.now().UTC()
	correlation := ledger.newID()
	encoded, err := json.Marshal(payload{
		Correlation: correlation.String(),
		Operation:   operation,
		Origin:      ledger.config.Origin,
		Old:         data.Old,
		New:         data.New,
		Headers:     data.Headers,
		XAttrs:      data.XAttrs,
		BillingID:   data.BillingID,
		Unaccounted: data.Unaccounted,
	})
	if err != nil {
		return Row{}, Error.Wrap(err)
	}

	slaves := make([]SlaveStatus, 0, len(ledger.config.Slaves))
	for _, slave := range ledger.config.Slaves {
		slaves = append(slaves, SlaveStatus{Slave: slave, Status: StatusPending})
	}

	row := Row{
		Correlation: correlation,
		Operation:   operation,
		Payload:     encoded,
		Delta:       delta,
		Unaccounted: data.Unaccounted,
		BillingID:   data.BillingID,
		Slaves:      slaves,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ledger.config.TTR + ledger.config.Validity),
	}
	row.ID, err = ledger.sink.Insert(ctx, row)
	if err != nil {
		return Row{}, Error.Wrap(err)
	}
	mon.IntVal("syncledger_delta").Observe(delta)

	ledger.log.Debug("registered",
		zap.Int64("id", row.ID),
		zap.String("operation", string(operation)),
		zap.Int64("delta", delta))
	return row, nil
}
