// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package broker

import (
	"context"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/casper2020/casper-nginx-broker-sub001/archive"
	"github.com/casper2020/casper-nginx-broker-sub001/archive/objectid"
	"github.com/casper2020/casper-nginx-broker-sub001/billing"
	"github.com/casper2020/casper-nginx-broker-sub001/permission"
	"github.com/casper2020/casper-nginx-broker-sub001/replication"
	"github.com/casper2020/casper-nginx-broker-sub001/syncledger"
)

// Config is the configuration of a broker peer.
type Config struct {
	H2E      string   `help:"path of the header to directory map" default:"$CONFDIR/h2e.json"`
	Readback []string `help:"attributes recorded with every ledger row" default:"content-type,filename"`

	Quarantine  QuarantineConfig
	Archive     archive.Config
	Permission  permission.Config
	Ledger      syncledger.Config
	Billing     billing.Config
	Replication replication.Config
}

// QuarantineConfig defines how deleted objects are quarantined.
type QuarantineConfig struct {
	Validity   time.Duration `help:"how long a copy of a deleted object is kept, zero disables quarantine" default:"0s"`
	Preserving []string      `help:"attributes kept on quarantined copies, all when empty" default:""`
}

// Options are the service settings that are not components.
type Options struct {
	Readback             []string
	QuarantineValidity   time.Duration
	QuarantinePreserving []string
}

// Peer is a broker with all of its components open.
type Peer struct {
	Log    *zap.Logger
	Config *archive.Config

	Ledger struct {
		DB     *syncledger.DB
		Ledger *syncledger.Ledger
	}
	Billing *billing.Store
	Queue   *replication.Queue

	Service *Service
}

// Open opens every component configured in config. The ledger database is migrated.
func Open(ctx context.Context, log *zap.Logger, config Config) (_ *Peer, err error) {
	defer mon.Task()(&ctx)(&err)

	peer := &Peer{Log: log}
	defer func() {
		if err != nil {
			err = errs.Combine(err, peer.Close())
		}
	}()

	h2e, err := objectid.LoadH2E(config.H2E)
	if err != nil {
		return nil, err
	}
	if len(config.Archive.Replication.Slaves) == 0 {
		config.Archive.Replication.Slaves = config.Ledger.Slaves
	}
	peer.Config, err = archive.NewConfig(config.Archive, h2e)
	if err != nil {
		return nil, err
	}

	var template *permission.Template
	if config.Permission.Template != "" {
		template, err = permission.LoadTemplate(config.Permission.Template, config.Permission.HeaderPrefix)
		if err != nil {
			return nil, err
		}
	}

	{ // setup ledger
		peer.Ledger.DB, err = syncledger.Open(log.Named("ledger:db"), config.Ledger.Driver, config.Ledger.DSN)
		if err != nil {
			return nil, err
		}
		if err := peer.Ledger.DB.Migrate(ctx); err != nil {
			return nil, err
		}
		peer.Ledger.Ledger = syncledger.New(log.Named("ledger"), peer.Ledger.DB, config.Ledger)
	}

	if config.Billing.Path != "" {
		peer.Billing, err = billing.Open(log.Named("billing"), config.Billing.Path)
		if err != nil {
			return nil, err
		}
	}

	if config.Replication.Address != "" {
		peer.Queue, err = replication.Open(log.Named("replication"), config.Replication)
		if err != nil {
			return nil, err
		}
	}

	peer.Service = NewService(log.Named("broker"), peer.Config, template, peer.Ledger.Ledger, peer.Billing, peer.Queue, Options{
		Readback:             config.Readback,
		QuarantineValidity:   config.Quarantine.Validity,
		QuarantinePreserving: config.Quarantine.Preserving,
	})
	return peer, nil
}

// Close closes all the open components.
func (peer *Peer) Close() error {
	var group errs.Group
	if peer.Queue != nil {
		group.Add(peer.Queue.Close())
	}
	if peer.Billing != nil {
		group.Add(peer.Billing.Close())
	}
	if peer.Ledger.DB != nil {
		group.Add(peer.Ledger.DB.Close())
	}
	return group.Err()
}
