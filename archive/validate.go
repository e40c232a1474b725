// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package archive

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/google/go-cmp/cmp"

	"github.com/casper2020/casper-nginx-broker-sub001/archive/objectid"
	"github.com/casper2020/casper-nginx-broker-sub001/archive/seal"
	"github.com/casper2020/casper-nginx-broker-sub001/internal/errs2"
)

// ValidateRequest names an object and, optionally, what it is expected to contain.
type ValidateRequest struct {
	URI string
	// MD5 is the expected content digest.
	MD5 string
	// ID is the expected id, derived from the filename when empty.
	ID string
	// Attrs, when not nil, must equal the stored attributes apart from the replication ones.
	Attrs map[string]string
}

// Validate checks the integrity of an object: its id, its content length and digest, its seal
// and optionally its attributes. The first failing check is returned.
func (archive *Archive) Validate(ctx context.Context, request ValidateRequest) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := archive.requireIdle(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return Error.Wrap(err)
	}
	defer archive.finish()

	resolved, err := archive.resolve(request.URI)
	if err != nil {
		return err
	}
	if err := archive.open(ctx, resolved, ModeValidate); err != nil {
		return err
	}
	stored, err := archive.attrs.All()
	if err != nil {
		return Error.Wrap(err)
	}

	expectedID := request.ID
	if expectedID == "" {
		filename := filepath.Base(resolved.path)
		if len(filename) < objectid.Length {
			return errs2.Internal.Wrap(Error.New("filename %q is shorter than an id", filename))
		}
		expectedID = filename[:objectid.Length]
	}
	if stored[AttrID] != expectedID {
		return errs2.Internal.Wrap(Error.New("id %q does not match %q", stored[AttrID], expectedID))
	}

	if length := strconv.FormatInt(resolved.size, 10); stored[AttrContentLength] != length {
		return errs2.Internal.Wrap(Error.New("content length %q does not match file size %s", stored[AttrContentLength], length))
	}

	digest, _, err := hashFile(resolved.path)
	if err != nil {
		return err
	}
	if stored[AttrMD5] != digest {
		return errs2.Internal.Wrap(Error.New("stored digest %q does not match content digest %s", stored[AttrMD5], digest))
	}
	if request.MD5 != "" && request.MD5 != digest {
		return errs2.Internal.Wrap(Error.New("expected digest %q does not match content digest %s", request.MD5, digest))
	}

	if err := seal.Verify(archive.config.key, stored, seal.Primary); err != nil {
		return errs2.Internal.Wrap(Error.Wrap(err))
	}
	if _, ok := stored[seal.ReplicationName]; ok || archive.config.Replication.Identity != "" {
		if err := seal.Verify(archive.config.key, stored, seal.Replication); err != nil {
			return errs2.Internal.Wrap(Error.Wrap(err))
		}
	}

	if request.Attrs != nil {
		if diff := cmp.Diff(stripDerived(request.Attrs), stripDerived(stored)); diff != "" {
			return errs2.Internal.Wrap(Error.New("attributes differ (-expected +stored):\n%s", diff))
		}
	}
	return nil
}
