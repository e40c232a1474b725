// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package broker runs archive operations on behalf of requests and records every committed
// mutation in the sync ledger, the billing store and the replication queue.
package broker

import (
	"context"
	"io"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/casper2020/casper-nginx-broker-sub001/archive"
	"github.com/casper2020/casper-nginx-broker-sub001/billing"
	"github.com/casper2020/casper-nginx-broker-sub001/permission"
	"github.com/casper2020/casper-nginx-broker-sub001/replication"
	"github.com/casper2020/casper-nginx-broker-sub001/syncledger"
)

var (
	// Error is the default broker error class.
	Error = errs.Class("broker")

	mon = monkit.Package()
)

// Request carries what every operation is made with.
type Request struct {
	// Headers are the request headers, used for permissions and recorded in the ledger.
	Headers map[string]string
	// BillingID names the billing document the size delta is applied to, none when empty.
	BillingID   string
	Unaccounted bool
}

// Result is the outcome of a mutation.
type Result struct {
	Info archive.RInfo
	// Row is the ledger row the mutation was registered with.
	Row syncledger.Row
}

// CreateRequest describes a new object and its content.
type CreateRequest struct {
	archive.CreateRequest
	Attrs   map[string]string
	Content io.Reader
}

// Service runs archive operations.
type Service struct {
	log      *zap.Logger
	config   *archive.Config
	template *permission.Template
	ledger   *syncledger.Ledger
	billing  *billing.Store
	queue    *replication.Queue

	readback   []string
	quarantine *archive.Quarantine
}

// NewService creates a service. template, billing and queue may be nil.
func NewService(log *zap.Logger, config *archive.Config, template *permission.Template, ledger *syncledger.Ledger, billing *billing.Store, queue *replication.Queue, options Options) *Service {
	service := &Service{
		log:      log,
		config:   config,
		template: template,
		ledger:   ledger,
		billing:  billing,
		queue:    queue,
		readback: append([]string(nil), options.Readback...),
	}
	if options.QuarantineValidity > 0 {
		service.quarantine = &archive.Quarantine{
			Validity:   options.QuarantineValidity,
			Preserving: options.QuarantinePreserving,
		}
	}
	return service
}

func (service *Service) archive(request Request) *archive.Archive {
	var access archive.Access = archive.AllowAll{}
	if service.template != nil {
		access = service.template.Evaluator(request.Headers)
	}
	return archive.New(service.log.Named("archive"), service.config, access)
}

func (service *Service) info() archive.RInfo {
	info := archive.RInfo{}
	for _, name := range service.readback {
		if name == archive.AttrMD5 {
			continue
		}
		info.Readback = append(info.Readback, archive.Readback{Name: name})
	}
	info.Readback = append(info.Readback, archive.Readback{Name: archive.AttrMD5, Required: true})
	return info
}

// Create stores a new object.
func (service *Service) Create(ctx context.Context, request Request, create CreateRequest) (_ Result, err error) {
	defer mon.Task()(&ctx)(&err)

	handle := service.archive(request)
	if err := handle.Create(ctx, create.CreateRequest); err != nil {
		return Result{}, err
	}
	if _, err := io.CopyBuffer(handle, create.Content, make([]byte, service.config.BufferSize)); err != nil {
		return Result{}, errs.Combine(Error.Wrap(err), handle.Destroy(ctx))
	}

	info := service.info()
	if err := handle.Commit(ctx, create.Attrs, nil, &info); err != nil {
		return Result{}, err
	}
	return service.record(ctx, syncledger.OperationCreate, request, info)
}

// Get copies the content of an object to w and returns its attributes.
func (service *Service) Get(ctx context.Context, request Request, uri string, w io.Writer) (_ map[string]string, err error) {
	defer mon.Task()(&ctx)(&err)

	handle := service.archive(request)
	if err := handle.Open(ctx, uri, archive.Fixed(archive.ModeRead)); err != nil {
		return nil, err
	}
	defer handle.Reset()

	attrs, err := handle.Attributes()
	if err != nil {
		return nil, err
	}
	if _, err := io.CopyBuffer(w, handle, make([]byte, service.config.BufferSize)); err != nil {
		return nil, Error.Wrap(err)
	}
	return attrs, nil
}

// Patch replaces attributes of an object.
func (service *Service) Patch(ctx context.Context, request Request, patch archive.PatchRequest) (_ Result, err error) {
	defer mon.Task()(&ctx)(&err)

	info := service.info()
	if err := service.archive(request).Patch(ctx, patch, &info); err != nil {
		return Result{}, err
	}
	return service.record(ctx, syncledger.OperationPatch, request, info)
}

// Update replaces the content and attributes of an object.
func (service *Service) Update(ctx context.Context, request Request, update archive.UpdateRequest) (_ Result, err error) {
	defer mon.Task()(&ctx)(&err)

	info := service.info()
	if err := service.archive(request).Update(ctx, update, &info); err != nil {
		return Result{}, err
	}
	return service.record(ctx, syncledger.OperationUpdate, request, info)
}

// Move relocates an external file into the archive.
func (service *Service) Move(ctx context.Context, request Request, move archive.MoveRequest) (_ Result, err error) {
	defer mon.Task()(&ctx)(&err)

	info := service.info()
	if err := service.archive(request).Move(ctx, move, &info); err != nil {
		return Result{}, err
	}
	return service.record(ctx, syncledger.OperationMove, request, info)
}

// Delete removes an object, quarantining a copy when a quarantine validity is configured.
func (service *Service) Delete(ctx context.Context, request Request, uri string) (_ Result, err error) {
	defer mon.Task()(&ctx)(&err)

	info := archive.RInfo{}
	if err := service.archive(request).Delete(ctx, uri, service.quarantine, &info); err != nil {
		return Result{}, err
	}
	return service.record(ctx, syncledger.OperationDelete, request, info)
}

// Validate checks the integrity of an object.
func (service *Service) Validate(ctx context.Context, request Request, validate archive.ValidateRequest) (err error) {
	defer mon.Task()(&ctx)(&err)
	return service.archive(request).Validate(ctx, validate)
}

// record registers a committed mutation with the ledger, applies its billing delta and
// queues its replication.
func (service *Service) record(ctx context.Context, operation syncledger.Operation, request Request, info archive.RInfo) (Result, error) {
	xattrs := map[string]string{}
	for _, readback := range info.Readback {
		if readback.Present {
			xattrs[readback.Name] = readback.Value
		}
	}

	data := syncledger.Data{
		Old:         object(info.Old),
		New:         object(info.New),
		Headers:     request.Headers,
		XAttrs:      xattrs,
		BillingID:   request.BillingID,
		Unaccounted: request.Unaccounted,
	}
	row, err := service.ledger.Register(ctx, operation, data)
	if err != nil {
		return Result{}, err
	}
	result := Result{Info: info, Row: row}

	if service.billing != nil && request.BillingID != "" {
		usage, err := service.billing.Apply(ctx, request.BillingID, row.Delta, request.Unaccounted)
		if err != nil {
			return result, err
		}
		service.log.Debug("billing applied",
			zap.String("billing_id", request.BillingID),
			zap.Int64("accounted", usage.Accounted),
			zap.Int64("unaccounted", usage.Unaccounted))
	}

	if service.queue != nil && len(row.Slaves) > 0 {
		uri := info.New.URI
		if uri == "" || operation == syncledger.OperationDelete {
			uri = info.Old.URI
		}
		slaves := make([]string, 0, len(row.Slaves))
		for _, slave := range row.Slaves {
			slaves = append(slaves, slave.Slave)
		}
		err := service.queue.Enqueue(ctx, replication.Job{
			LedgerID:    row.ID,
			Correlation: row.Correlation.String(),
			Operation:   string(operation),
			URI:         uri,
			Slaves:      slaves,
			Deadline:    row.ExpiresAt,
		})
		if err != nil {
			return result, err
		}
	}

	service.log.Info(string(operation),
		zap.String("uri", info.New.URI),
		zap.String("old", info.Old.URI),
		zap.Int64("ledger", row.ID))
	return result, nil
}

func object(entry archive.Entry) *syncledger.Object {
	if entry.IsZero() {
		return nil
	}
	return &syncledger.Object{ID: entry.ID, URI: entry.URI, Size: entry.Size}
}
