// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

//go:build linux

package xattr

import (
	"bytes"
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

var (
	errNoData       error = unix.ENODATA
	errNotSupported error = unix.ENOTSUP
)

func get(path, name string) ([]byte, error) {
	size := 128
	for {
		buf := make([]byte, size)
		n, err := unix.Getxattr(path, name, buf)
		if errors.Is(err, unix.ERANGE) {
			// the value grew between calls or did not fit, ask for its size
			needed, err := unix.Getxattr(path, name, nil)
			if err != nil {
				return nil, &os.PathError{Op: "getxattr", Path: path, Err: err}
			}
			size = needed + 1
			continue
		}
		if err != nil {
			return nil, &os.PathError{Op: "getxattr", Path: path, Err: err}
		}
		return buf[:n], nil
	}
}

func set(path, name string, value []byte) error {
	if err := unix.Setxattr(path, name, value, 0); err != nil {
		return &os.PathError{Op: "setxattr", Path: path, Err: err}
	}
	return nil
}

func remove(path, name string) error {
	if err := unix.Removexattr(path, name); err != nil {
		return &os.PathError{Op: "removexattr", Path: path, Err: err}
	}
	return nil
}

func list(path string) ([]string, error) {
	size, err := unix.Listxattr(path, nil)
	if err != nil {
		return nil, &os.PathError{Op: "listxattr", Path: path, Err: err}
	}
	if size < 64 {
		// names added after the first call must still make the buffer grow
		size = 64
	}
	for {
		buf := make([]byte, size)
		n, err := unix.Listxattr(path, buf)
		if errors.Is(err, unix.ERANGE) {
			size *= 2
			continue
		}
		if err != nil {
			return nil, &os.PathError{Op: "listxattr", Path: path, Err: err}
		}
		var names []string
		for _, name := range bytes.Split(buf[:n], []byte{0}) {
			if len(name) > 0 {
				names = append(names, string(name))
			}
		}
		return names, nil
	}
}
