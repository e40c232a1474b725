// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package syncledger

import (
	"time"

	"github.com/google/uuid"
)

// SetNow replaces the clock.
func (ledger *Ledger) SetNow(fn func() time.Time) { ledger.now = fn }

// SetNewID replaces the correlation id generator.
func (ledger *Ledger) SetNewID(fn func() uuid.UUID) { ledger.newID = fn }
