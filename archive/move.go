// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package archive

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/casper2020/casper-nginx-broker-sub001/archive/xattr"
	"github.com/casper2020/casper-nginx-broker-sub001/internal/errs2"
)

// MoveRequest describes the relocation of an external file into the archive.
type MoveRequest struct {
	// From is the absolute path of the file to move.
	From       string
	Header     string
	NumericID  uint64
	ReservedID string
	Attrs      map[string]string
	Preserving []string
	// Backup copies the file and leaves it in place.
	Backup bool
	// MD5 optionally states the digest the content is expected to have.
	MD5        string
	ArchivedBy string
}

// Move relocates an external file into the archive. The content is hashed again rather than
// trusting any digest the caller has, and the placeholder object is erased when anything fails.
func (archive *Archive) Move(ctx context.Context, request MoveRequest, out *RInfo) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := archive.requireIdle(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return Error.Wrap(err)
	}
	defer archive.finish()

	if err := checkUntrusted(request.Attrs); err != nil {
		return err
	}
	if !filepath.IsAbs(request.From) {
		return errs2.BadRequest.Wrap(Error.New("source %q is not absolute", request.From))
	}
	info, err := os.Stat(request.From)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errs2.NotFound.Wrap(Error.New("%s", request.From))
		}
		return Error.Wrap(err)
	}
	if !info.Mode().IsRegular() {
		return errs2.BadRequest.Wrap(Error.New("source %q is not a regular file", request.From))
	}

	digest, size, err := hashFile(request.From)
	if err != nil {
		return err
	}
	if request.MD5 != "" && request.MD5 != digest {
		return errs2.BadRequest.Wrap(Error.New("content digest %s does not match %s", digest, request.MD5))
	}

	original, err := xattr.New(request.From).All()
	if err != nil && !xattr.ErrUnsupported.Has(err) {
		return Error.Wrap(err)
	}
	preserved := map[string]string{}
	for _, name := range request.Preserving {
		if value, ok := original[name]; ok && !reserved(name) {
			preserved[name] = value
		}
	}

	location, err := archive.allocate(request.Header, request.NumericID, request.ReservedID)
	if err != nil {
		return err
	}
	file, err := archive.createExclusive(location)
	if err != nil {
		return err
	}
	placeholder := file.Name()
	if err := file.Close(); err != nil {
		archive.erase(placeholder)
		return Error.Wrap(err)
	}
	moved := false
	defer func() {
		if err == nil {
			return
		}
		if moved && !request.Backup {
			if rerr := archive.rename(placeholder, request.From); rerr != nil {
				archive.log.Error("unable to restore moved file",
					zap.String("from", placeholder), zap.String("to", request.From), zap.Error(rerr))
				return
			}
			if rerr := restoreAttributes(xattr.New(request.From), original); rerr != nil {
				archive.log.Error("unable to restore attributes of moved file",
					zap.String("path", request.From), zap.Error(rerr))
			}
			return
		}
		archive.erase(placeholder)
	}()

	archive.begin(ModeMove, location, placeholder, nil, size)
	archive.by = request.ArchivedBy
	// preserved source values win over request attributes
	attrs := layer(layer(request.Attrs, preserved, nil), map[string]string{
		AttrMD5:           digest,
		AttrContentLength: strconv.FormatInt(size, 10),
	}, nil)
	entry, _, err := archive.close(ctx, attrs, closeOptions{trusted: true})
	if err != nil {
		return err
	}

	values, err := archive.transfer(request.From, placeholder, request.Backup, true, entry.URI, func() { moved = true })
	if err != nil {
		return err
	}
	entry.Size = size
	return out.fill(entry, Entry{URI: request.From, Size: size}, values)
}

// Rename moves the file at from over to, keeping the attributes to already has, and reseals
// the result. With backup the file is copied instead.
func (archive *Archive) Rename(ctx context.Context, from, to string, backup bool, out *RInfo) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := archive.requireIdle(); err != nil {
		return err
	}
	if !filepath.IsAbs(from) || !filepath.IsAbs(to) {
		return errs2.BadRequest.Wrap(Error.New("paths must be absolute"))
	}
	info, err := os.Stat(from)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errs2.NotFound.Wrap(Error.New("%s", from))
		}
		return Error.Wrap(err)
	}

	values, err := archive.transfer(from, to, backup, false, to, nil)
	if err != nil {
		return err
	}
	return out.fill(Entry{URI: to, Size: info.Size()}, Entry{URI: from, Size: info.Size()}, values)
}

// Copy copies the content and attributes of from to to. Attributes to already has win over
// the copied ones. The attributes of the copy are stored in outAttrs when it is not nil.
func (archive *Archive) Copy(ctx context.Context, from, to string, overwrite bool, outAttrs map[string]string) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := archive.requireIdle(); err != nil {
		return err
	}
	if !filepath.IsAbs(from) || !filepath.IsAbs(to) {
		return errs2.BadRequest.Wrap(Error.New("paths must be absolute"))
	}
	if _, err := os.Stat(from); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errs2.NotFound.Wrap(Error.New("%s", from))
		}
		return Error.Wrap(err)
	}
	if !overwrite {
		if _, err := os.Stat(to); err == nil {
			return errs2.Conflict.Wrap(Error.New("%s already exists", to))
		}
	}

	values, err := archive.copyObject(from, to, nil, to)
	if err != nil {
		return err
	}
	if outAttrs != nil {
		for name, value := range values {
			outAttrs[name] = value
		}
	}
	return nil
}

// transfer renames or copies from over to, restores the attributes to had and reseals. With
// strip the attributes from carried that to did not have are dropped. A rename across
// filesystems falls back to copy and remove.
func (archive *Archive) transfer(from, to string, backup, strip bool, uri string, renamed func()) (_ map[string]string, err error) {
	if backup {
		return archive.copyContent(from, to, uri)
	}

	destination := xattr.New(to)
	snapshot, err := snapshotIfExists(destination)
	if err != nil {
		return nil, err
	}
	var source map[string]string
	if strip {
		source, err = xattr.New(from).All()
		if err != nil && !xattr.ErrUnsupported.Has(err) {
			return nil, Error.Wrap(err)
		}
	}

	err = archive.rename(from, to)
	switch {
	case err == nil:
	case isCrossDevice(err):
		archive.log.Debug("rename across filesystems, copying", zap.String("from", from), zap.String("to", to))
		if err := copyFile(from, to); err != nil {
			return nil, err
		}
		if err := os.Remove(from); err != nil {
			return nil, Error.Wrap(err)
		}
	default:
		return nil, Error.Wrap(err)
	}
	if renamed != nil {
		renamed()
	}

	for name := range source {
		if _, ok := snapshot[name]; ok {
			continue
		}
		if err := destination.Remove(name); err != nil {
			return nil, Error.Wrap(err)
		}
	}
	return archive.restoreAndSeal(destination, snapshot, uri)
}

// copyContent copies the content of from over to, restores the attributes to had and reseals.
func (archive *Archive) copyContent(from, to, uri string) (map[string]string, error) {
	destination := xattr.New(to)
	snapshot, err := snapshotIfExists(destination)
	if err != nil {
		return nil, err
	}
	if err := copyFile(from, to); err != nil {
		return nil, err
	}
	return archive.restoreAndSeal(destination, snapshot, uri)
}

// copyObject copies content and the attributes named by names, or all attributes when names
// is empty, from from to to. Attributes to had before are restored over the copied ones.
func (archive *Archive) copyObject(from, to string, names []string, uri string) (map[string]string, error) {
	destination := xattr.New(to)
	snapshot, err := snapshotIfExists(destination)
	if err != nil {
		return nil, err
	}
	copied, err := xattr.New(from).Snapshot(names...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := copyFile(from, to); err != nil {
		return nil, err
	}
	if err := destination.Restore(copied); err != nil {
		return nil, Error.Wrap(err)
	}
	return archive.restoreAndSeal(destination, snapshot, uri)
}

func (archive *Archive) restoreAndSeal(destination *xattr.Attributes, snapshot map[string]string, uri string) (map[string]string, error) {
	if err := destination.Restore(snapshot); err != nil {
		return nil, Error.Wrap(err)
	}
	if err := archive.reseal(destination, uri); err != nil {
		return nil, err
	}
	values, err := destination.All()
	return values, Error.Wrap(err)
}

// restoreAttributes makes the attributes of a file equal to snapshot.
func restoreAttributes(attrs *xattr.Attributes, snapshot map[string]string) error {
	current, err := attrs.All()
	if err != nil {
		if xattr.ErrUnsupported.Has(err) {
			return nil
		}
		return Error.Wrap(err)
	}
	for name := range current {
		if _, ok := snapshot[name]; ok {
			continue
		}
		if err := attrs.Remove(name); err != nil {
			return Error.Wrap(err)
		}
	}
	return Error.Wrap(attrs.Restore(snapshot))
}

// snapshotIfExists returns the attributes of a file, or nothing when it does not exist.
func snapshotIfExists(attrs *xattr.Attributes) (map[string]string, error) {
	if _, err := os.Stat(attrs.Path()); errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	snapshot, err := attrs.All()
	return snapshot, Error.Wrap(err)
}

// copyFile copies the content of from into to, truncating to when it exists.
func copyFile(from, to string) (err error) {
	source, err := os.Open(from)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(source.Close())) }()

	destination, err := os.OpenFile(to, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(destination.Close())) }()

	if _, err := io.Copy(destination, source); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(destination.Sync())
}

// hashFile returns the hex md5 digest and size of a file.
func hashFile(path string) (_ string, _ int64, err error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(file.Close())) }()

	digest := md5.New()
	size, err := io.Copy(digest, file)
	if err != nil {
		return "", 0, Error.Wrap(err)
	}
	return hex.EncodeToString(digest.Sum(nil)), size, nil
}
