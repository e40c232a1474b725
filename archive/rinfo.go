// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package archive

import (
	"github.com/casper2020/casper-nginx-broker-sub001/internal/errs2"
)

// Entry identifies one stored object.
type Entry struct {
	ID   string
	URI  string
	Size int64
}

// IsZero returns whether the entry is unset.
func (entry Entry) IsZero() bool { return entry.URI == "" }

// Readback requests the value of an attribute of the resulting object.
type Readback struct {
	Name     string
	Required bool

	Value   string
	Present bool
}

// RInfo describes the outcome of a mutation.
type RInfo struct {
	New Entry
	// Old is set when an object was replaced, moved or removed.
	Old Entry

	Readback []Readback
}

// ReadbackValue returns the value read back for name.
func (info *RInfo) ReadbackValue(name string) (string, bool) {
	for _, readback := range info.Readback {
		if readback.Name == name {
			return readback.Value, readback.Present
		}
	}
	return "", false
}

// fill records the outcome and the requested attribute values.
func (info *RInfo) fill(newEntry, oldEntry Entry, attrs map[string]string) error {
	if info == nil {
		return nil
	}
	info.New = newEntry
	info.Old = oldEntry
	for i := range info.Readback {
		readback := &info.Readback[i]
		readback.Value, readback.Present = attrs[readback.Name]
		if readback.Required && !readback.Present {
			return errs2.Internal.Wrap(Error.New("required attribute %q missing", readback.Name))
		}
	}
	return nil
}
