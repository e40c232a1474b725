// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package archive

import (
	"io"
	"time"
)

// SetRename replaces the function used to rename replacements over objects.
func (archive *Archive) SetRename(fn func(oldpath, newpath string) error) { archive.rename = fn }

// SetNow replaces the clock.
func (archive *Archive) SetNow(fn func() time.Time) { archive.now = fn }

// SetRandom replaces the source of id suffixes.
func (archive *Archive) SetRandom(source io.Reader) { archive.random = source }
