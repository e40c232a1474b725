// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package archive

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/casper2020/casper-nginx-broker-sub001/archive/objectid"
	"github.com/casper2020/casper-nginx-broker-sub001/internal/errs2"
)

// UpdateRequest describes the replacement of the content and attributes of an object.
type UpdateRequest struct {
	URI   string
	Attrs map[string]string
	// Preserving names attributes whose current value wins over Attrs.
	Preserving []string
	// Backup keeps the old object and stores the replacement under a new id.
	Backup     bool
	ArchivedBy string
	// Requestee is recorded as the party the modification was made for.
	Requestee string
	// NumericID and ReservedID allocate the replacement when Backup is set.
	NumericID  uint64
	ReservedID string

	Content io.Reader
	// Size is the declared content length, negative when unknown.
	Size int64
}

// historyEntry is one element of the modification history attribute.
type historyEntry struct {
	By    string `json:"by"`
	At    string `json:"at"`
	Count int    `json:"count"`
}

// Update replaces the content and attributes of an object. Without backup the replacement is
// renamed over the old file, which stays unchanged when anything fails.
func (archive *Archive) Update(ctx context.Context, request UpdateRequest, out *RInfo) (err error) {
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
	if request.Content == nil {
		return errs2.BadRequest.Wrap(Error.New("missing content"))
	}

	resolved, err := archive.resolve(request.URI)
	if err != nil {
		return err
	}
	if err := archive.open(ctx, resolved, ModeModify); err != nil {
		return err
	}
	old, err := archive.attrs.All()
	if err != nil {
		return Error.Wrap(err)
	}
	oldEntry := Entry{ID: resolved.id.String(), URI: resolved.uri, Size: resolved.size}

	merged := layer(stripDerived(old, AttrID, AttrMD5, AttrContentLength), request.Attrs, request.Preserving)
	excluding, err := archive.bookkeeping(merged, old, request.ArchivedBy, request.Requestee)
	if err != nil {
		return err
	}

	// the old object is only read from
	archive.finish()

	var (
		location objectid.Location
		file     *os.File
	)
	if request.Backup {
		location, err = archive.allocate(resolved.header, request.NumericID, request.ReservedID)
		if err != nil {
			return err
		}
		file, err = archive.createExclusive(location)
		if err != nil {
			return err
		}
	} else {
		location = objectid.Location{Header: resolved.header, Dir: resolved.dir, ID: resolved.id}
		file, err = os.CreateTemp(filepath.Dir(resolved.path), "."+resolved.id.String()+".*.tmp")
		if err != nil {
			return Error.Wrap(err)
		}
	}
	temp := file.Name()
	defer func() {
		if err != nil {
			archive.erase(temp)
		}
	}()
	if !request.Backup {
		// the replacement takes over the mode of the file it is renamed over
		if err := file.Chmod(resolved.mode); err != nil {
			_ = file.Close()
			return Error.Wrap(err)
		}
	}

	archive.begin(ModeModify, location, temp, file, request.Size)
	archive.by = request.ArchivedBy
	if _, err := io.Copy(writerFunc(archive.Write), request.Content); err != nil {
		return Error.Wrap(err)
	}

	entry, values, err := archive.close(ctx, merged, closeOptions{excluding: excluding, trusted: true, seal: true})
	if err != nil {
		return err
	}

	if !request.Backup {
		if err := archive.rename(temp, resolved.path); err != nil {
			return errs2.Internal.Wrap(Error.Wrap(err))
		}
		archive.log.Debug("replaced", zap.String("uri", resolved.uri), zap.Int64("size", entry.Size))
	}
	return out.fill(entry, oldEntry, values)
}

// bookkeeping records a modification of the object whose current attributes are old. It
// returns the names the modified object must not carry.
func (archive *Archive) bookkeeping(merged, old map[string]string, by, requestee string) (excluding []string, err error) {
	if by == "" {
		by = archive.config.Archivist
	}
	at := archive.now().UTC().Format(time.RFC3339)

	count := 0
	if value, ok := old[AttrModifiedCount]; ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return nil, errs2.Internal.Wrap(Error.New("invalid %s %q", AttrModifiedCount, value))
		}
		count = parsed
	}
	count++

	merged[AttrModifiedBy] = by
	merged[AttrModifiedAt] = at
	merged[AttrModifiedCount] = strconv.Itoa(count)
	if requestee != "" {
		merged[AttrModifiedRequestee] = requestee
	} else {
		excluding = append(excluding, AttrModifiedRequestee)
	}

	if archive.config.History {
		var history []historyEntry
		if value, ok := old[AttrModifiedHistory]; ok && value != "" {
			if err := json.Unmarshal([]byte(value), &history); err != nil {
				return nil, errs2.Internal.Wrap(Error.New("invalid %s: %v", AttrModifiedHistory, err))
			}
		}
		history = append(history, historyEntry{By: by, At: at, Count: count})
		data, err := json.Marshal(history)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		merged[AttrModifiedHistory] = string(data)
	}
	return excluding, nil
}

// PatchRequest describes the replacement of the attributes of an object.
type PatchRequest struct {
	URI   string
	Attrs map[string]string
	// Preserving names attributes whose current value wins over Attrs.
	Preserving []string
	// Backup keeps the old object and stores the patched copy under a new id.
	Backup bool
	// NumericID and ReservedID allocate the copy when Backup is set.
	NumericID  uint64
	ReservedID string
}

// Patch replaces attributes of an object and reseals it. With backup the patched object is a
// copy under a new id and the old object is left untouched.
func (archive *Archive) Patch(ctx context.Context, request PatchRequest, out *RInfo) (err error) {
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
	resolved, err := archive.resolve(request.URI)
	if err != nil {
		return err
	}
	if err := archive.open(ctx, resolved, ModePatch); err != nil {
		return err
	}
	oldEntry := Entry{ID: resolved.id.String(), URI: resolved.uri, Size: resolved.size}

	if !request.Backup {
		entry, values, err := archive.close(ctx, request.Attrs, closeOptions{preserving: request.Preserving, seal: true})
		if err != nil {
			return err
		}
		return out.fill(entry, oldEntry, values)
	}

	old, err := archive.attrs.All()
	if err != nil {
		return Error.Wrap(err)
	}
	archive.finish()

	location, err := archive.allocate(resolved.header, request.NumericID, request.ReservedID)
	if err != nil {
		return err
	}
	file, err := archive.createExclusive(location)
	if err != nil {
		return err
	}
	destination := file.Name()
	if err := file.Close(); err != nil {
		archive.erase(destination)
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			archive.erase(destination)
		}
	}()

	archive.begin(ModePatch, location, destination, nil, resolved.size)
	merged := layer(stripDerived(old, AttrID), request.Attrs, request.Preserving)
	entry, _, err := archive.close(ctx, merged, closeOptions{trusted: true, seal: true})
	if err != nil {
		return err
	}

	values, err := archive.copyContent(resolved.path, destination, entry.URI)
	if err != nil {
		return err
	}
	entry.Size = resolved.size
	return out.fill(entry, oldEntry, values)
}

// writerFunc adapts a write method to io.Writer.
type writerFunc func(p []byte) (int, error)

func (fn writerFunc) Write(p []byte) (int, error) { return fn(p) }
