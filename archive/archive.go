// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package archive stores objects as plain files whose metadata lives in sealed extended
// attributes.
package archive

import (
	"bufio"
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"hash"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/casper2020/casper-nginx-broker-sub001/archive/objectid"
	"github.com/casper2020/casper-nginx-broker-sub001/archive/seal"
	"github.com/casper2020/casper-nginx-broker-sub001/archive/xattr"
	"github.com/casper2020/casper-nginx-broker-sub001/internal/errs2"
)

var (
	// Error is the default archive error class.
	Error = errs.Class("archive")

	mon = monkit.Package()
)

// local is the object a handle currently works on.
type local struct {
	header string
	dir    string
	id     objectid.ID
	// path is the file the handle writes to, which is not the object path for replacements.
	path string
	uri  string
	size int64
	mode os.FileMode
}

// Archive is a single-operation handle on the archive. A handle is not safe for concurrent use.
type Archive struct {
	log    *zap.Logger
	config *Config
	access Access

	mode    Mode
	local   local
	by      string
	file    *os.File
	writer  *bufio.Writer
	written int64
	digest  hash.Hash
	attrs   *xattr.Attributes

	now    func() time.Time
	random io.Reader
	rename func(oldpath, newpath string) error
}

// New creates an idle handle. A nil access grants everything.
func New(log *zap.Logger, config *Config, access Access) *Archive {
	if access == nil {
		access = AllowAll{}
	}
	return &Archive{
		log:    log,
		config: config,
		access: access,
		now:    time.Now,
		random: rand.Reader,
		rename: os.Rename,
	}
}

// finish returns the handle to idle, releasing everything it holds.
func (archive *Archive) finish() {
	if archive.file != nil {
		if err := archive.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			archive.log.Debug("closing file failed", zap.String("path", archive.local.path), zap.Error(err))
		}
	}
	archive.mode = ModeNotSet
	archive.local = local{}
	archive.by = ""
	archive.file = nil
	archive.writer = nil
	archive.written = 0
	archive.digest = nil
	archive.attrs = nil
}

// Reset aborts whatever the handle is doing without removing anything.
func (archive *Archive) Reset() {
	archive.finish()
}

// objectPath returns the absolute path of a location.
func (archive *Archive) objectPath(dir string, id objectid.ID) string {
	return filepath.Join(archive.config.Root, filepath.FromSlash(dir), id.Filename())
}

// resolve finds the file storing uri, preferring a legacy extension-qualified filename.
func (archive *Archive) resolve(uri string) (local, error) {
	location, _, err := objectid.Parse(archive.config.h2e, uri)
	if err != nil {
		return local{}, err
	}

	base := filepath.Join(archive.config.Root, filepath.FromSlash(location.Dir))
	var candidates []string
	if location.ID.Ext != "" {
		candidates = append(candidates, filepath.Join(base, location.ID.Filename()))
	}
	legacy, err := filepath.Glob(filepath.Join(base, location.ID.String()+".*"))
	if err != nil {
		return local{}, Error.Wrap(err)
	}
	candidates = append(candidates, legacy...)
	candidates = append(candidates, filepath.Join(base, location.ID.String()))

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return local{}, Error.Wrap(err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		id := location.ID
		id.Ext = ""
		if filename := filepath.Base(candidate); filename != id.String() {
			id.Ext = filename[len(id.String())+1:]
		}
		return local{
			header: location.Header,
			dir:    location.Dir,
			id:     id,
			path:   candidate,
			uri:    path.Join(location.Dir, id.String()),
			size:   info.Size(),
			mode:   info.Mode().Perm(),
		}, nil
	}
	return local{}, errs2.NotFound.Wrap(Error.New("%s", uri))
}

// Open resolves uri and enters the mode picked by selector after checking the permission the
// mode requires. Selecting ModeNotSet leaves the handle idle.
func (archive *Archive) Open(ctx context.Context, uri string, selector Selector) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := archive.requireIdle(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return Error.Wrap(err)
	}

	resolved, err := archive.resolve(uri)
	if err != nil {
		return err
	}
	mode := selector(resolved.header)
	if mode == ModeNotSet {
		return nil
	}
	return archive.open(ctx, resolved, mode)
}

func (archive *Archive) open(ctx context.Context, resolved local, mode Mode) (err error) {
	defer func() {
		if err != nil {
			archive.finish()
		}
	}()

	var permission Permission
	switch mode {
	case ModeRead:
		permission = PermissionRead
	case ModeModify, ModePatch:
		permission = PermissionWrite
	case ModeDelete:
		permission = PermissionDelete
	case ModeValidate:
	default:
		return errs2.MethodNotAllowed.Wrap(Error.New("objects cannot be opened in %s mode", mode))
	}

	archive.mode = mode
	archive.local = resolved
	archive.attrs = xattr.New(resolved.path)

	if permission != 0 {
		attrs, err := archive.attrs.All()
		if err != nil {
			return Error.Wrap(err)
		}
		// permissions are only trusted once the seal covering them holds
		if err := seal.Verify(archive.config.key, attrs, seal.Primary); err != nil {
			return errs2.Internal.Wrap(Error.Wrap(err))
		}
		allowed, err := archive.access.Allowed(ctx, permission, attrs)
		if err != nil {
			return Error.Wrap(err)
		}
		if !allowed {
			return errs2.Forbidden.Wrap(Error.New("%s denied on %s", permission, resolved.uri))
		}
	}

	if mode == ModeRead {
		archive.file, err = os.Open(resolved.path)
		if err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

// CreateRequest describes a new object.
type CreateRequest struct {
	// Header selects the directory and type prefix of the object.
	Header    string
	NumericID uint64
	// Size is the declared content length, negative when unknown.
	Size int64
	// ReservedID optionally fixes the id suffix.
	ReservedID string
	// ArchivedBy is recorded as the creator, defaulting to the archivist.
	ArchivedBy string
}

// Create allocates a new object and enters ModeCreate. Content is streamed with Write and
// persisted with Commit or discarded with Destroy.
func (archive *Archive) Create(ctx context.Context, request CreateRequest) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := archive.requireIdle(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			archive.finish()
		}
	}()

	location, err := archive.allocate(request.Header, request.NumericID, request.ReservedID)
	if err != nil {
		return err
	}
	file, err := archive.createExclusive(location)
	if err != nil {
		return err
	}

	archive.begin(ModeCreate, location, file.Name(), file, request.Size)
	archive.by = request.ArchivedBy
	return nil
}

// allocate derives a location that is not taken yet.
func (archive *Archive) allocate(header string, numeric uint64, reserved string) (objectid.Location, error) {
	location, err := objectid.Allocate(archive.config.h2e, header, numeric, reserved, archive.random)
	if err != nil {
		return objectid.Location{}, err
	}
	dir := filepath.Join(archive.config.Root, filepath.FromSlash(location.Dir))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return objectid.Location{}, Error.Wrap(err)
	}
	taken, err := filepath.Glob(filepath.Join(dir, location.ID.String()+".*"))
	if err != nil {
		return objectid.Location{}, Error.Wrap(err)
	}
	if _, err := os.Stat(filepath.Join(dir, location.ID.String())); err == nil {
		taken = append(taken, location.ID.String())
	}
	if len(taken) > 0 {
		return objectid.Location{}, errs2.Conflict.Wrap(Error.New("%s already exists", location.URI()))
	}
	return location, nil
}

// createExclusive creates the empty file of a location, failing when it exists.
func (archive *Archive) createExclusive(location objectid.Location) (*os.File, error) {
	file, err := os.OpenFile(archive.objectPath(location.Dir, location.ID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, errs2.Conflict.Wrap(Error.New("%s already exists", location.URI()))
		}
		return nil, Error.Wrap(err)
	}
	return file, nil
}

// begin enters mode writing to file on behalf of location.
func (archive *Archive) begin(mode Mode, location objectid.Location, path string, file *os.File, size int64) {
	archive.mode = mode
	archive.local = local{
		header: location.Header,
		dir:    location.Dir,
		id:     location.ID,
		path:   path,
		uri:    location.URI(),
		size:   size,
	}
	archive.attrs = xattr.New(path)
	archive.file = file
	if file != nil {
		archive.writer = bufio.NewWriterSize(file, archive.config.BufferSize)
		archive.digest = md5.New()
		archive.written = 0
	}
}

// Write streams content into the object being created or replaced. A failed write keeps the
// handle in its mode so the caller can Destroy it.
func (archive *Archive) Write(p []byte) (n int, err error) {
	if err := archive.requireMode(ModeCreate, ModeModify); err != nil {
		return 0, err
	}
	if err := archive.requireWriter(); err != nil {
		return 0, err
	}
	n, err = archive.writer.Write(p)
	if err != nil {
		return n, Error.Wrap(err)
	}
	_, _ = archive.digest.Write(p)
	archive.written += int64(n)
	mon.Meter("archive_bytes_written").Mark(n)
	return n, nil
}

// Flush writes buffered content to the file.
func (archive *Archive) Flush() error {
	if err := archive.requireMode(ModeCreate, ModeModify); err != nil {
		return err
	}
	if err := archive.requireWriter(); err != nil {
		return err
	}
	return Error.Wrap(archive.writer.Flush())
}

// Commit finishes a ModeCreate: the content is checked against the declared size and the
// attributes are written and sealed. On failure the new object is removed.
func (archive *Archive) Commit(ctx context.Context, attrs map[string]string, preserving []string, out *RInfo) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := archive.requireMode(ModeCreate); err != nil {
		return err
	}
	path := archive.local.path
	defer func() {
		if err != nil {
			archive.erase(path)
		}
	}()

	entry, values, err := archive.close(ctx, attrs, closeOptions{preserving: preserving, seal: true})
	if err != nil {
		return err
	}
	return out.fill(entry, Entry{}, values)
}

// Destroy discards the object being created.
func (archive *Archive) Destroy(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := archive.requireMode(ModeCreate); err != nil {
		return err
	}
	path := archive.local.path
	archive.finish()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Error.Wrap(err)
	}
	return nil
}

// erase removes a file left behind by a failed operation.
func (archive *Archive) erase(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		archive.log.Warn("unable to erase file", zap.String("path", path), zap.Error(err))
	}
}

type closeOptions struct {
	preserving []string
	excluding  []string
	trusted    bool
	seal       bool
}

// close finishes a ModeCreate, ModeModify, ModeMove or ModePatch by writing the attributes of
// the object and sealing them. The handle is idle afterwards.
func (archive *Archive) close(ctx context.Context, attrs map[string]string, options closeOptions) (_ Entry, _ map[string]string, err error) {
	defer archive.finish()

	if err := archive.requireMode(ModeCreate, ModeModify, ModeMove, ModePatch); err != nil {
		return Entry{}, nil, err
	}
	if err := archive.requireAccessor(); err != nil {
		return Entry{}, nil, err
	}
	if err := archive.requireURI(); err != nil {
		return Entry{}, nil, err
	}
	if !options.trusted {
		if err := checkUntrusted(attrs); err != nil {
			return Entry{}, nil, err
		}
	}

	derived := map[string]string{}
	if archive.writer != nil {
		if err := archive.writer.Flush(); err != nil {
			return Entry{}, nil, Error.Wrap(err)
		}
		err := archive.file.Close()
		archive.file = nil
		if err != nil {
			return Entry{}, nil, Error.Wrap(err)
		}
		info, err := os.Stat(archive.local.path)
		if err != nil {
			return Entry{}, nil, Error.Wrap(err)
		}
		if info.Size() != archive.written || (archive.local.size >= 0 && archive.local.size != archive.written) {
			return Entry{}, nil, errs2.Internal.Wrap(Error.New("wrote %d bytes, file has %d, declared %d",
				archive.written, info.Size(), archive.local.size))
		}
		derived[AttrMD5] = hex.EncodeToString(archive.digest.Sum(nil))
		derived[AttrContentLength] = strconv.FormatInt(archive.written, 10)
	}

	info, err := os.Stat(archive.local.path)
	if err != nil {
		return Entry{}, nil, Error.Wrap(err)
	}

	for _, name := range sortedKeys(attrs) {
		if contains(options.preserving, name) {
			exists, err := archive.attrs.Exists(name)
			if err != nil {
				return Entry{}, nil, Error.Wrap(err)
			}
			if exists {
				continue
			}
		}
		if err := archive.attrs.Set(name, attrs[name]); err != nil {
			return Entry{}, nil, Error.Wrap(err)
		}
	}
	if err := archive.attrs.SetAll(derived); err != nil {
		return Entry{}, nil, Error.Wrap(err)
	}
	for _, name := range options.excluding {
		if err := archive.attrs.Remove(name); err != nil {
			return Entry{}, nil, Error.Wrap(err)
		}
	}

	by := archive.by
	if by == "" {
		by = archive.config.Archivist
	}
	if err := archive.backfill(map[string]string{
		AttrID:            archive.local.id.String(),
		AttrContentLength: strconv.FormatInt(info.Size(), 10),
		AttrArchivist:     archive.config.Archivist,
		AttrArchivedBy:    by,
		AttrCreatedBy:     by,
		AttrCreatedAt:     archive.now().UTC().Format(time.RFC3339),
	}); err != nil {
		return Entry{}, nil, err
	}
	if err := archive.compilePermissions(ctx); err != nil {
		return Entry{}, nil, err
	}

	if options.seal {
		if err := archive.reseal(archive.attrs, archive.local.uri); err != nil {
			return Entry{}, nil, err
		}
	}

	values, err := archive.attrs.All()
	if err != nil {
		return Entry{}, nil, Error.Wrap(err)
	}
	archive.log.Debug("closed",
		zap.Stringer("mode", archive.mode),
		zap.String("uri", archive.local.uri),
		zap.Int64("size", info.Size()))
	return Entry{ID: archive.local.id.String(), URI: archive.local.uri, Size: info.Size()}, values, nil
}

// backfill sets the attributes that are missing.
func (archive *Archive) backfill(defaults map[string]string) error {
	for _, name := range sortedKeys(defaults) {
		exists, err := archive.attrs.Exists(name)
		if err != nil {
			return Error.Wrap(err)
		}
		if exists {
			continue
		}
		if err := archive.attrs.Set(name, defaults[name]); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

// compilePermissions stores the permission values of the requester unless the object has some.
func (archive *Archive) compilePermissions(ctx context.Context) error {
	names, err := archive.attrs.Names()
	if err != nil {
		return Error.Wrap(err)
	}
	for _, name := range names {
		if strings.HasPrefix(name, PermissionsPrefix) {
			return nil
		}
	}

	compiled := map[string]string{}
	if err := archive.access.Compile(ctx, func(name, value string) {
		compiled[PermissionsPrefix+name] = value
	}); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(archive.attrs.SetAll(compiled))
}

// replicationData is stored in the replication data attribute.
type replicationData struct {
	Origin string   `json:"origin"`
	Slaves []string `json:"slaves"`
	URI    string   `json:"uri"`
	MD5    string   `json:"md5,omitempty"`
}

// reseal recomputes the primary seal and, when replication is configured, the replication
// attributes and their seal.
func (archive *Archive) reseal(attrs *xattr.Attributes, uri string) error {
	if _, err := attrs.Seal(archive.config.key, seal.Primary); err != nil {
		return errs2.Internal.Wrap(Error.Wrap(err))
	}

	identity := archive.config.Replication.Identity
	if identity == "" {
		return nil
	}
	digest, err := attrs.Get(AttrMD5)
	if err != nil && !xattr.ErrNotFound.Has(err) {
		return Error.Wrap(err)
	}
	slaves := archive.config.Replication.Slaves
	if slaves == nil {
		slaves = []string{}
	}
	data, err := json.Marshal(replicationData{Origin: identity, Slaves: slaves, URI: uri, MD5: digest})
	if err != nil {
		return Error.Wrap(err)
	}
	if err := attrs.SetAll(map[string]string{
		AttrReplicationTag:  identity,
		AttrReplicationData: string(data),
	}); err != nil {
		return Error.Wrap(err)
	}
	if _, err := attrs.Seal(archive.config.key, seal.Replication); err != nil {
		return errs2.Internal.Wrap(Error.Wrap(err))
	}
	return nil
}

// Read reads content of an object opened in ModeRead.
func (archive *Archive) Read(p []byte) (int, error) {
	if err := archive.requireMode(ModeRead); err != nil {
		return 0, err
	}
	if archive.file == nil {
		return 0, errs2.Internal.Wrap(Error.New("no file open"))
	}
	n, err := archive.file.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, Error.Wrap(err)
	}
	return n, err
}

// Size returns the content length of the open object.
func (archive *Archive) Size() (int64, error) {
	if err := archive.requireURI(); err != nil {
		return 0, err
	}
	if archive.mode == ModeCreate || archive.mode == ModeModify {
		return archive.written, nil
	}
	return archive.local.size, nil
}

// URI returns the uri of the open object.
func (archive *Archive) URI() string { return archive.local.uri }

// Attributes returns the stored attributes of the open object.
func (archive *Archive) Attributes() (map[string]string, error) {
	if err := archive.requireAccessor(); err != nil {
		return nil, err
	}
	values, err := archive.attrs.All()
	return values, Error.Wrap(err)
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
