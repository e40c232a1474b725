// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package archive

import (
	"github.com/casper2020/casper-nginx-broker-sub001/internal/errs2"
)

// Mode is the operation a handle is currently performing.
type Mode int

const (
	// ModeNotSet is the idle mode.
	ModeNotSet Mode = iota
	// ModeRead reads an existing object.
	ModeRead
	// ModeCreate writes a new object.
	ModeCreate
	// ModeModify replaces the content of an object.
	ModeModify
	// ModePatch replaces the attributes of an object.
	ModePatch
	// ModeMove relocates an external file into the archive.
	ModeMove
	// ModeDelete removes or quarantines an object.
	ModeDelete
	// ModeValidate checks the integrity of an object.
	ModeValidate
)

// String implements fmt.Stringer.
func (mode Mode) String() string {
	switch mode {
	case ModeNotSet:
		return "not-set"
	case ModeRead:
		return "read"
	case ModeCreate:
		return "create"
	case ModeModify:
		return "modify"
	case ModePatch:
		return "patch"
	case ModeMove:
		return "move"
	case ModeDelete:
		return "delete"
	case ModeValidate:
		return "validate"
	default:
		return "unknown"
	}
}

// Selector picks the mode an object is opened in, given the header its type maps to.
// Returning ModeNotSet aborts the open.
type Selector func(header string) Mode

// Fixed returns a selector that always picks mode.
func Fixed(mode Mode) Selector {
	return func(string) Mode { return mode }
}

// Mode returns the current mode of the handle.
func (archive *Archive) Mode() Mode { return archive.mode }

func (archive *Archive) requireIdle() error {
	if archive.mode != ModeNotSet {
		return errs2.MethodNotAllowed.Wrap(Error.New("handle busy in %s mode", archive.mode))
	}
	return nil
}

func (archive *Archive) requireMode(modes ...Mode) error {
	for _, mode := range modes {
		if archive.mode == mode {
			return nil
		}
	}
	return errs2.MethodNotAllowed.Wrap(Error.New("operation not allowed in %s mode", archive.mode))
}

func (archive *Archive) requireAccessor() error {
	if archive.attrs == nil {
		return errs2.Internal.Wrap(Error.New("no attribute accessor in %s mode", archive.mode))
	}
	return nil
}

func (archive *Archive) requireURI() error {
	if archive.local.uri == "" {
		return errs2.Internal.Wrap(Error.New("no object resolved in %s mode", archive.mode))
	}
	return nil
}

func (archive *Archive) requireWriter() error {
	if archive.writer == nil {
		return errs2.Internal.Wrap(Error.New("no writer open in %s mode", archive.mode))
	}
	return nil
}
