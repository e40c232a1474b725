// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/casper2020/casper-nginx-broker-sub001/internal/date"
)

// Quarantine keeps a copy of a deleted object for a while.
type Quarantine struct {
	// Validity is how long the copy is kept.
	Validity time.Duration
	// Preserving names the attributes copied along, all of them when empty.
	Preserving []string
}

// QuarantinePath returns where a copy of the object at uri quarantined at now is stored.
func (archive *Archive) QuarantinePath(now time.Time, validity time.Duration, uri string) string {
	return filepath.Join(archive.config.QuarantineDir, date.QuarantineDay(now, validity), filepath.FromSlash(uri))
}

// Delete removes an object. With a quarantine the object is copied to the quarantine
// directory of the day the copy expires and the original is kept.
func (archive *Archive) Delete(ctx context.Context, uri string, quarantine *Quarantine, out *RInfo) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := archive.requireIdle(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return Error.Wrap(err)
	}
	defer archive.finish()

	resolved, err := archive.resolve(uri)
	if err != nil {
		return err
	}
	if err := archive.open(ctx, resolved, ModeDelete); err != nil {
		return err
	}
	values, err := archive.attrs.All()
	if err != nil {
		return Error.Wrap(err)
	}
	oldEntry := Entry{ID: resolved.id.String(), URI: resolved.uri, Size: resolved.size}
	archive.finish()

	if quarantine == nil {
		if err := os.Remove(resolved.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Error.Wrap(err)
		}
		archive.log.Debug("deleted", zap.String("uri", resolved.uri))
		return out.fill(Entry{}, oldEntry, values)
	}

	target := archive.QuarantinePath(archive.now(), quarantine.Validity,
		filepath.Join(resolved.dir, filepath.Base(resolved.path)))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return Error.Wrap(err)
	}
	copied, err := archive.copyObject(resolved.path, target, quarantine.Preserving, resolved.uri)
	if err != nil {
		archive.erase(target)
		return err
	}
	archive.log.Debug("quarantined", zap.String("uri", resolved.uri), zap.String("copy", target))
	return out.fill(Entry{ID: resolved.id.String(), URI: target, Size: resolved.size}, oldEntry, copied)
}
