// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package archive

import (
	"github.com/go-playground/validator/v10"

	"github.com/casper2020/casper-nginx-broker-sub001/archive/objectid"
	"github.com/casper2020/casper-nginx-broker-sub001/archive/seal"
)

const defaultBufferSize = 32 * 1024

// Config defines parameters for the archive.
type Config struct {
	Root          string `help:"directory objects are archived under" default:"$CONFDIR/archive" validate:"required"`
	QuarantineDir string `help:"directory deleted objects are quarantined under" default:"$CONFDIR/quarantine" validate:"required"`
	Archivist     string `help:"name recorded as the archivist of new objects" default:"casper-archive" validate:"required"`
	SealKeying    string `help:"keying material the attribute seals are derived from" default:"" validate:"required,min=16"`
	History       bool   `help:"keep a history of modifications on every object" default:"false"`
	BufferSize    int    `help:"size in bytes of the write buffer" default:"32768" validate:"gte=0"`

	Replication ReplicationConfig

	h2e *objectid.H2E
	key seal.Key
}

// ReplicationConfig defines which peers objects are replicated to.
type ReplicationConfig struct {
	Identity string   `help:"identity of this node in replication tags, empty disables replication attributes" default:""`
	Slaves   []string `help:"peers every mutation is replicated to" default:""`
}

// NewConfig validates config and returns the immutable configuration of an archive.
func NewConfig(config Config, h2e *objectid.H2E) (*Config, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, Error.Wrap(err)
	}
	if h2e == nil {
		return nil, Error.New("missing header to directory map")
	}
	key, err := seal.DeriveKey([]byte(config.SealKeying))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if config.BufferSize == 0 {
		config.BufferSize = defaultBufferSize
	}
	config.Replication.Slaves = append([]string(nil), config.Replication.Slaves...)
	config.h2e = h2e
	config.key = key
	return &config, nil
}

// H2E returns the header to directory map objects are allocated with.
func (config *Config) H2E() *objectid.H2E { return config.h2e }
