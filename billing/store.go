// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package billing keeps one JSON document per billing id with the bytes each one has stored.
package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/casper2020/casper-nginx-broker-sub001/internal/errs2"
)

var (
	// Error is the default billing error class.
	Error = errs.Class("billing")

	mon = monkit.Package()
)

const (
	// fileMode sets permissions so owner can read and write
	fileMode = 0600

	defaultTimeout = time.Second
)

var bucket = []byte("billing")

// Config defines where billing documents are stored.
type Config struct {
	Path string `help:"path of the billing database" default:"$CONFDIR/billing.db" validate:"required"`
}

// Usage are the counters Apply maintains in a billing document.
type Usage struct {
	Accounted   int64 `json:"accounted"`
	Unaccounted int64 `json:"unaccounted"`
}

// Store is a bolt backed store of billing documents.
type Store struct {
	log  *zap.Logger
	db   *bolt.DB
	Path string
}

// Open opens or creates the store at path.
func Open(log *zap.Logger, path string) (*Store, error) {
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, errs.Combine(Error.Wrap(err), Error.Wrap(db.Close()))
	}
	return &Store{log: log, db: db, Path: path}, nil
}

// Close closes the store.
func (store *Store) Close() error {
	return Error.Wrap(store.db.Close())
}

// Get returns the document of id.
func (store *Store) Get(ctx context.Context, id string) (_ json.RawMessage, err error) {
	defer mon.Task()(&ctx)(&err)

	var document json.RawMessage
	err = store.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucket).Get([]byte(id))
		if value == nil {
			return errs2.NotFound.Wrap(Error.New("billing id %q", id))
		}
		document = append(json.RawMessage(nil), value...)
		return nil
	})
	return document, err
}

// Create stores the document of a new id.
func (store *Store) Create(ctx context.Context, id string, document json.RawMessage) (_ json.RawMessage, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := checkID(id); err != nil {
		return nil, err
	}
	if !json.Valid(document) {
		return nil, errs2.BadRequest.Wrap(Error.New("invalid document"))
	}
	err = store.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b.Get([]byte(id)) != nil {
			return errs2.Conflict.Wrap(Error.New("billing id %q exists", id))
		}
		return Error.Wrap(b.Put([]byte(id), document))
	})
	if err != nil {
		return nil, err
	}
	return document, nil
}

// Update applies an RFC 7386 merge patch to the document of id.
func (store *Store) Update(ctx context.Context, id string, patch json.RawMessage) (_ json.RawMessage, err error) {
	defer mon.Task()(&ctx)(&err)

	var document json.RawMessage
	err = store.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		current := b.Get([]byte(id))
		if current == nil {
			return errs2.NotFound.Wrap(Error.New("billing id %q", id))
		}
		merged, err := jsonpatch.MergePatch(current, patch)
		if err != nil {
			return errs2.BadRequest.Wrap(Error.Wrap(err))
		}
		document = merged
		return Error.Wrap(b.Put([]byte(id), merged))
	})
	if err != nil {
		return nil, err
	}
	return document, nil
}

// Apply adds delta to the accounted or unaccounted usage of id, creating the document when
// it does not exist yet.
func (store *Store) Apply(ctx context.Context, id string, delta int64, unaccounted bool) (_ Usage, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := checkID(id); err != nil {
		return Usage{}, err
	}

	var usage Usage
	err = store.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		current := b.Get([]byte(id))
		if current == nil {
			current = []byte("{}")
		}
		if err := json.Unmarshal(current, &usage); err != nil {
			return Error.Wrap(err)
		}
		if unaccounted {
			usage.Unaccounted += delta
		} else {
			usage.Accounted += delta
		}

		patch, err := json.Marshal(usage)
		if err != nil {
			return Error.Wrap(err)
		}
		merged, err := jsonpatch.MergePatch(current, patch)
		if err != nil {
			return Error.Wrap(err)
		}
		return Error.Wrap(b.Put([]byte(id), merged))
	})
	if err != nil {
		return Usage{}, err
	}

	store.log.Debug("applied",
		zap.String("billing id", id),
		zap.Int64("delta", delta),
		zap.Bool("unaccounted", unaccounted))
	return usage, nil
}

func checkID(id string) error {
	if id == "" {
		return errs2.BadRequest.Wrap(Error.New("empty billing id"))
	}
	return nil
}
