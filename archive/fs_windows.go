// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package archive

import (
	"errors"

	"golang.org/x/sys/windows"
)

// isCrossDevice returns whether a rename failed because source and destination are on
// different volumes.
func isCrossDevice(err error) bool {
	return errors.Is(err, windows.ERROR_NOT_SAME_DEVICE)
}
