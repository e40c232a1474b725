// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package archive_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casper2020/casper-nginx-broker-sub001/archive"
	"github.com/casper2020/casper-nginx-broker-sub001/internal/errs2"
	"github.com/casper2020/casper-nginx-broker-sub001/internal/testcontext"
)

func TestUpdateInPlace(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	config := newConfig(t, ctx, "node-a")
	handle := newArchive(t, config, nil)

	created := create(ctx, t, handle, 2000, []byte("first version"), map[string]string{
		archive.AttrFilename:    "v1.txt",
		archive.AttrContentType: "text/plain",
	})

	require.NoError(t, os.Chmod(pathOf(config, created.New.URI), 0640))

	later := testNow.Add(time.Hour)
	handle.SetNow(func() time.Time { return later })

	content := []byte("the second, longer version")
	var info archive.RInfo
	require.NoError(t, handle.Update(ctx, archive.UpdateRequest{
		URI:        created.New.URI,
		Attrs:      map[string]string{archive.AttrFilename: "v2.txt", archive.AttrContentType: "text/markdown"},
		Preserving: []string{archive.AttrContentType},
		ArchivedBy: "bob",
		Requestee:  "carol",
		Content:    bytes.NewReader(content),
		Size:       int64(len(content)),
	}, &info))
	assert.Equal(t, archive.ModeNotSet, handle.Mode())

	assert.Equal(t, created.New.URI, info.New.URI)
	assert.Equal(t, created.New.ID, info.New.ID)
	assert.Equal(t, int64(len(content)), info.New.Size)
	assert.Equal(t, created.New.URI, info.Old.URI)
	assert.Equal(t, int64(len("first version")), info.Old.Size)

	path := pathOf(config, created.New.URI)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	stat, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), stat.Mode().Perm())

	stored := attributesOf(t, path)
	assert.Equal(t, "v2.txt", stored[archive.AttrFilename])
	assert.Equal(t, "text/plain", stored[archive.AttrContentType])
	assert.Equal(t, digestOf(content), stored[archive.AttrMD5])
	assert.Equal(t, testNow.Format(time.RFC3339), stored[archive.AttrCreatedAt])
	assert.Equal(t, "bob", stored[archive.AttrModifiedBy])
	assert.Equal(t, later.Format(time.RFC3339), stored[archive.AttrModifiedAt])
	assert.Equal(t, "1", stored[archive.AttrModifiedCount])
	assert.Equal(t, "carol", stored[archive.AttrModifiedRequestee])
	assert.Contains(t, stored[archive.AttrModifiedHistory], `"by":"bob"`)

	require.NoError(t, handle.Validate(ctx, archive.ValidateRequest{URI: created.New.URI, MD5: digestOf(content)}))

	// a second update bumps the count and drops the requestee
	require.NoError(t, handle.Update(ctx, archive.UpdateRequest{
		URI:     created.New.URI,
		Content: bytes.NewReader(nil),
		Size:    0,
	}, nil))
	stored = attributesOf(t, path)
	assert.Equal(t, "2", stored[archive.AttrModifiedCount])
	assert.Equal(t, "test-archivist", stored[archive.AttrModifiedBy])
	assert.NotContains(t, stored, archive.AttrModifiedRequestee)
	require.NoError(t, handle.Validate(ctx, archive.ValidateRequest{URI: created.New.URI}))
}

func TestUpdateRenameFailureLeavesOriginal(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	config := newConfig(t, ctx, "")
	handle := newArchive(t, config, nil)

	original := []byte("must survive")
	created := create(ctx, t, handle, 2001, original, map[string]string{archive.AttrFilename: "keep.txt"})
	path := pathOf(config, created.New.URI)
	before := attributesOf(t, path)

	renameErr := errors.New("rename failed")
	handle.SetRename(func(oldpath, newpath string) error { return renameErr })

	err := handle.Update(ctx, archive.UpdateRequest{
		URI:     created.New.URI,
		Attrs:   map[string]string{archive.AttrFilename: "changed.txt"},
		Content: strings.NewReader("replacement"),
		Size:    int64(len("replacement")),
	}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, renameErr))
	assert.True(t, errs2.Internal.Has(err))
	assert.Equal(t, archive.ModeNotSet, handle.Mode())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, data)
	assert.Equal(t, before, attributesOf(t, path))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(path), entries[0].Name())

	require.NoError(t, handle.Validate(ctx, archive.ValidateRequest{URI: created.New.URI}))
}

func TestUpdateSizeMismatchLeavesOriginal(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	config := newConfig(t, ctx, "")
	handle := newArchive(t, config, nil)

	created := create(ctx, t, handle, 2002, []byte("stays"), nil)
	err := handle.Update(ctx, archive.UpdateRequest{
		URI:     created.New.URI,
		Content: strings.NewReader("short"),
		Size:    100,
	}, nil)
	require.Error(t, err)
	assert.True(t, errs2.Internal.Has(err))

	entries, err := os.ReadDir(filepath.Dir(pathOf(config, created.New.URI)))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	require.NoError(t, handle.Validate(ctx, archive.ValidateRequest{URI: created.New.URI}))

	err = handle.Update(ctx, archive.UpdateRequest{
		URI:     created.New.URI,
		Attrs:   map[string]string{archive.AttrMD5: "forged"},
		Content: strings.NewReader(""),
	}, nil)
	require.Error(t, err)
	assert.True(t, errs2.BadRequest.Has(err))
}

func TestUpdateBackup(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	config := newConfig(t, ctx, "")
	handle := newArchive(t, config, nil)

	created := create(ctx, t, handle, 2003, []byte("old content"), map[string]string{archive.AttrFilename: "a.txt"})

	var info archive.RInfo
	require.NoError(t, handle.Update(ctx, archive.UpdateRequest{
		URI:       created.New.URI,
		Backup:    true,
		NumericID: 2004,
		Content:   strings.NewReader("new content!"),
		Size:      int64(len("new content!")),
	}, &info))

	assert.Equal(t, created.New, info.Old)
	assert.NotEqual(t, created.New.URI, info.New.URI)
	assert.NotEqual(t, created.New.ID, info.New.ID)

	old, err := os.ReadFile(pathOf(config, info.Old.URI))
	require.NoError(t, err)
	assert.Equal(t, []byte("old content"), old)
	replaced, err := os.ReadFile(pathOf(config, info.New.URI))
	require.NoError(t, err)
	assert.Equal(t, []byte("new content!"), replaced)

	stored := attributesOf(t, pathOf(config, info.New.URI))
	assert.Equal(t, info.New.ID, stored[archive.AttrID])
	assert.Equal(t, "a.txt", stored[archive.AttrFilename])

	require.NoError(t, handle.Validate(ctx, archive.ValidateRequest{URI: info.Old.URI}))
	require.NoError(t, handle.Validate(ctx, archive.ValidateRequest{URI: info.New.URI}))
}

func TestUpdateBackupDropsRequestee(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	config := newConfig(t, ctx, "")
	handle := newArchive(t, config, nil)

	created := create(ctx, t, handle, 2005, []byte("v1"), nil)
	require.NoError(t, handle.Update(ctx, archive.UpdateRequest{
		URI:       created.New.URI,
		Requestee: "carol",
		Content:   strings.NewReader("v2"),
		Size:      -1,
	}, nil))

	var info archive.RInfo
	require.NoError(t, handle.Update(ctx, archive.UpdateRequest{
		URI:       created.New.URI,
		Backup:    true,
		NumericID: 2006,
		Content:   strings.NewReader("v3"),
		Size:      -1,
	}, &info))

	assert.Equal(t, "carol", attributesOf(t, pathOf(config, info.Old.URI))[archive.AttrModifiedRequestee])
	stored := attributesOf(t, pathOf(config, info.New.URI))
	assert.NotContains(t, stored, archive.AttrModifiedRequestee)
	assert.Equal(t, "2", stored[archive.AttrModifiedCount])

	require.NoError(t, handle.Validate(ctx, archive.ValidateRequest{URI: info.Old.URI}))
	require.NoError(t, handle.Validate(ctx, archive.ValidateRequest{URI: info.New.URI}))
}

func TestPatchInPlace(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	config := newConfig(t, ctx, "")
	handle := newArchive(t, config, nil)

	created := create(ctx, t, handle, 3000, []byte("content"), map[string]string{
		archive.AttrFilename:    "a.txt",
		archive.AttrContentType: "text/plain",
	})

	var info archive.RInfo
	require.NoError(t, handle.Patch(ctx, archive.PatchRequest{
		URI:        created.New.URI,
		Attrs:      map[string]string{archive.AttrFilename: "b.txt", archive.AttrContentType: "text/html", "label": "x"},
		Preserving: []string{archive.AttrContentType},
	}, &info))
	assert.Equal(t, created.New, info.New)
	assert.Equal(t, created.New, info.Old)

	stored := attributesOf(t, pathOf(config, created.New.URI))
	assert.Equal(t, "b.txt", stored[archive.AttrFilename])
	assert.Equal(t, "text/plain", stored[archive.AttrContentType])
	assert.Equal(t, "x", stored["label"])
	require.NoError(t, handle.Validate(ctx, archive.ValidateRequest{URI: created.New.URI}))

	err := handle.Patch(ctx, archive.PatchRequest{
		URI:   created.New.URI,
		Attrs: map[string]string{archive.AttrContentLength: "0"},
	}, nil)
	require.Error(t, err)
	assert.True(t, errs2.BadRequest.Has(err))
	require.NoError(t, handle.Validate(ctx, archive.ValidateRequest{URI: created.New.URI}))
}

func TestPatchBackup(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	config := newConfig(t, ctx, "node-a")
	handle := newArchive(t, config, nil)

	content := []byte("content shared by both objects")
	created := create(ctx, t, handle, 3001, content, map[string]string{
		archive.AttrFilename:    "a.txt",
		archive.AttrContentType: "text/plain",
	})
	oldPath := pathOf(config, created.New.URI)
	before := attributesOf(t, oldPath)

	var info archive.RInfo
	require.NoError(t, handle.Patch(ctx, archive.PatchRequest{
		URI:       created.New.URI,
		Attrs:     map[string]string{archive.AttrFilename: "b.txt"},
		Backup:    true,
		NumericID: 3002,
	}, &info))
	assert.Equal(t, created.New, info.Old)
	assert.NotEqual(t, created.New.URI, info.New.URI)
	assert.Equal(t, int64(len(content)), info.New.Size)

	// the old object is untouched
	assert.Equal(t, before, attributesOf(t, oldPath))
	old, err := os.ReadFile(oldPath)
	require.NoError(t, err)
	assert.Equal(t, content, old)
	require.NoError(t, handle.Validate(ctx, archive.ValidateRequest{URI: info.Old.URI}))

	// the new object carries the old attributes plus the override
	newPath := pathOf(config, info.New.URI)
	patched, err := os.ReadFile(newPath)
	require.NoError(t, err)
	assert.Equal(t, content, patched)

	after := attributesOf(t, newPath)
	for name, value := range before {
		switch {
		case name == archive.AttrID:
			assert.Equal(t, info.New.ID, after[name])
		case name == archive.AttrFilename:
			assert.Equal(t, "b.txt", after[name])
		case name == "xattrs.seal" || strings.HasPrefix(name, "replication."):
			assert.NotEmpty(t, after[name], name)
		default:
			assert.Equal(t, value, after[name], name)
		}
	}
	require.NoError(t, handle.Validate(ctx, archive.ValidateRequest{URI: info.New.URI, MD5: digestOf(content)}))
}
