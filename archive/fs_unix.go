// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

//go:build !windows

package archive

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isCrossDevice returns whether a rename failed because source and destination are on
// different filesystems.
func isCrossDevice(err error) bool {
	return errors.Is(err, unix.EXDEV)
}
