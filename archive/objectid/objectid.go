// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package objectid allocates short opaque object identifiers and the sharded paths that
// store them.
package objectid

import (
	"io"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/zeebo/errs"

	"github.com/casper2020/casper-nginx-broker-sub001/internal/errs2"
)

const (
	// Length is the length of a short id, without extension.
	Length = 9
	// KeyLength is the length of the type prefix plus the random suffix.
	KeyLength = 3

	suffixLength = KeyLength - 1
	tailLength   = Length - KeyLength

	// shardDigits is the number of decimal digits a numeric id is padded to.
	shardDigits = 15
	// shardLevels is the number of 3-digit directory levels.
	shardLevels = 4
	// MaxNumeric is the first numeric id that no longer fits the shard path format.
	MaxNumeric uint64 = 1_000_000_000_000_000

	tailAlphabet   = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	suffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// tailModulus is 62^6, the number of distinct tails.
const tailModulus uint64 = 62 * 62 * 62 * 62 * 62 * 62

// Error is the default objectid error class.
var Error = errs.Class("objectid")

var reservedPattern = regexp.MustCompile(`^[a-z][A-Za-z]{2}[A-Za-z0-9]{6}(\.[A-Za-z0-9]+)?$`)

// ID is a short object identifier.
type ID struct {
	Prefix byte
	Suffix string
	Tail   string
	// Ext is the optional extension, without the dot.
	Ext string
}

// String returns the id without extension.
func (id ID) String() string {
	if id.Prefix == 0 {
		return ""
	}
	return string(id.Prefix) + id.Suffix + id.Tail
}

// Filename returns the id with its extension, if any.
func (id ID) Filename() string {
	if id.Ext == "" {
		return id.String()
	}
	return id.String() + "." + id.Ext
}

// IsZero returns whether the id is unset.
func (id ID) IsZero() bool { return id.Prefix == 0 }

// ParseID parses a short id, optionally followed by an extension.
func ParseID(s string) (ID, error) {
	if !reservedPattern.MatchString(s) {
		return ID{}, errs2.BadRequest.Wrap(Error.New("invalid id %q", s))
	}
	id := ID{
		Prefix: s[0],
		Suffix: s[1:KeyLength],
		Tail:   s[KeyLength:Length],
	}
	if len(s) > Length {
		id.Ext = s[Length+1:]
	}
	return id, nil
}

// ShardPath returns the 4-level directory path for the numeric id.
func ShardPath(numeric uint64) (string, error) {
	if numeric >= MaxNumeric {
		return "", errs2.Internal.Wrap(Error.New("numeric id %d overflows the path format", numeric))
	}
	padded := strconv.FormatUint(numeric, 10)
	padded = strings.Repeat("0", shardDigits-len(padded)) + padded

	groups := make([]string, 0, shardLevels)
	for level := 0; level < shardLevels; level++ {
		groups = append(groups, padded[level*3:level*3+3])
	}
	return path.Join(groups...), nil
}

// Tail returns the 6 character tail derived from the numeric id.
func Tail(numeric uint64) string {
	value := numeric % tailModulus
	var tail [tailLength]byte
	for i := tailLength - 1; i >= 0; i-- {
		tail[i] = tailAlphabet[value%62]
		value /= 62
	}
	return string(tail[:])
}

func tailValue(tail string) (uint64, error) {
	if len(tail) != tailLength {
		return 0, errs2.BadRequest.Wrap(Error.New("invalid tail %q", tail))
	}
	var value uint64
	for i := 0; i < len(tail); i++ {
		digit := strings.IndexByte(tailAlphabet, tail[i])
		if digit < 0 {
			return 0, errs2.BadRequest.Wrap(Error.New("invalid tail %q", tail))
		}
		value = value*62 + uint64(digit)
	}
	return value, nil
}

// suffixLimit is the largest multiple of the suffix alphabet that fits a byte. Bytes at or
// above it are rejected so every letter is equally likely.
const suffixLimit = 256 / len(suffixAlphabet) * len(suffixAlphabet)

// RandomSuffix reads a random 2 letter suffix from source.
func RandomSuffix(source io.Reader) (string, error) {
	var (
		suffix [suffixLength]byte
		buf    [suffixLength]byte
	)
	for filled := 0; filled < len(suffix); {
		if _, err := io.ReadFull(source, buf[:]); err != nil {
			return "", Error.Wrap(err)
		}
		for _, b := range buf {
			if int(b) >= suffixLimit || filled == len(suffix) {
				continue
			}
			suffix[filled] = suffixAlphabet[int(b)%len(suffixAlphabet)]
			filled++
		}
	}
	return string(suffix[:]), nil
}

// Location is an allocated object location.
type Location struct {
	// Header is the header token the object type was resolved from.
	Header string
	// Dir is the directory relative to the archive root.
	Dir string
	ID  ID
}

// URI returns the object uri relative to the archive root.
func (loc Location) URI() string {
	return path.Join(loc.Dir, loc.ID.String())
}

// Allocate derives the location of a new object of the header type for the numeric id. When
// reserved is not empty its suffix is used instead of a random one.
func Allocate(h2e *H2E, header string, numeric uint64, reserved string, source io.Reader) (Location, error) {
	prefix, err := h2e.Prefix(header)
	if err != nil {
		return Location{}, err
	}
	shard, err := ShardPath(numeric)
	if err != nil {
		return Location{}, err
	}

	id := ID{Prefix: prefix, Tail: Tail(numeric)}
	if reserved != "" {
		parsed, err := ParseID(reserved)
		if err != nil {
			return Location{}, err
		}
		if parsed.Prefix != prefix {
			return Location{}, errs2.BadRequest.Wrap(Error.New("reserved id %q does not match prefix %q", reserved, string(prefix)))
		}
		if parsed.Tail != id.Tail {
			return Location{}, errs2.BadRequest.Wrap(Error.New("reserved id %q does not belong to numeric id %d: tail must be %q",
				reserved, numeric, id.Tail))
		}
		id.Suffix = parsed.Suffix
		id.Ext = parsed.Ext
	} else {
		id.Suffix, err = RandomSuffix(source)
		if err != nil {
			return Location{}, err
		}
	}

	return Location{
		Header: header,
		Dir:    path.Join(h2e.headers[header], shard),
		ID:     id,
	}, nil
}

// Parse resolves a uri of the form <dir>/<ddd>/<ddd>/<ddd>/<ddd>/<id>[.ext] into its location
// and the numeric id it was allocated from.
func Parse(h2e *H2E, uri string) (_ Location, numeric uint64, err error) {
	clean := path.Clean("/" + uri)[1:]
	parts := strings.Split(clean, "/")
	if len(parts) != shardLevels+2 {
		return Location{}, 0, errs2.BadRequest.Wrap(Error.New("invalid uri %q", uri))
	}

	id, err := ParseID(parts[len(parts)-1])
	if err != nil {
		return Location{}, 0, err
	}
	dir, header, err := h2e.Dir(id.Prefix)
	if err != nil {
		return Location{}, 0, err
	}
	if parts[0] != dir {
		return Location{}, 0, errs2.BadRequest.Wrap(Error.New("uri %q does not belong to %q", uri, dir))
	}

	var quotient uint64
	for _, group := range parts[1 : shardLevels+1] {
		value, err := strconv.ParseUint(group, 10, 64)
		if err != nil || len(group) != 3 {
			return Location{}, 0, errs2.BadRequest.Wrap(Error.New("invalid shard %q in %q", group, uri))
		}
		quotient = quotient*1000 + value
	}

	tail, err := tailValue(id.Tail)
	if err != nil {
		return Location{}, 0, err
	}
	base := quotient * 1000
	remainder := (tail + tailModulus - base%tailModulus) % tailModulus
	if remainder >= 1000 {
		return Location{}, 0, errs2.BadRequest.Wrap(Error.New("tail of %q does not match its shard", uri))
	}

	return Location{
		Header: header,
		Dir:    path.Join(parts[:shardLevels+1]...),
		ID:     id,
	}, base + remainder, nil
}
