// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

//go:build !linux

package xattr

import (
	"errors"
	"os"
)

var (
	errNoData       = errors.New("no such attribute")
	errNotSupported = errors.ErrUnsupported
)

func get(path, name string) ([]byte, error) {
	return nil, &os.PathError{Op: "getxattr", Path: path, Err: errNotSupported}
}

func set(path, name string, value []byte) error {
	return &os.PathError{Op: "setxattr", Path: path, Err: errNotSupported}
}

func remove(path, name string) error {
	return &os.PathError{Op: "removexattr", Path: path, Err: errNotSupported}
}

func list(path string) ([]string, error) {
	return nil, &os.PathError{Op: "listxattr", Path: path, Err: errNotSupported}
}
