// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package archive

import (
	"context"
)

// Permission is an operation class an object's permissions grant.
type Permission int

const (
	// PermissionRead allows reading content and attributes.
	PermissionRead Permission = iota + 1
	// PermissionWrite allows replacing content or attributes.
	PermissionWrite
	// PermissionDelete allows deleting.
	PermissionDelete
)

// String implements fmt.Stringer.
func (permission Permission) String() string {
	switch permission {
	case PermissionRead:
		return "read"
	case PermissionWrite:
		return "write"
	case PermissionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Access decides whether the current requester may operate on an object.
type Access interface {
	// Allowed evaluates permission against the stored attributes of an object.
	Allowed(ctx context.Context, permission Permission, attrs map[string]string) (bool, error)
	// Compile emits the permission values stored on new objects, named without the
	// permissions prefix.
	Compile(ctx context.Context, emit func(name, value string)) error
}

// AllowAll grants every permission and stores none.
type AllowAll struct{}

// Allowed implements Access.
func (AllowAll) Allowed(context.Context, Permission, map[string]string) (bool, error) {
	return true, nil
}

// Compile implements Access.
func (AllowAll) Compile(context.Context, func(name, value string)) error { return nil }
