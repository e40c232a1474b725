// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package seal computes and verifies keyed integrity tags over attribute sets.
package seal

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"io"
	"sort"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
	"github.com/zeebo/errs"
	"golang.org/x/crypto/hkdf"
)

const (
	// PrimaryName is the attribute storing the seal over everything but replication.
	PrimaryName = "xattrs.seal"
	// ReplicationName is the attribute storing the seal over the replication family.
	ReplicationName = "replication.seal"
	// ReplicationFamily is the name prefix of replication attributes.
	ReplicationFamily = "replication."
)

var (
	// Error is the default seal error class.
	Error = errs.Class("seal")
	// ErrMissing is returned when the seal attribute is absent.
	ErrMissing = errs.Class("seal missing")
	// ErrMismatch is returned when the stored seal does not match the attributes.
	ErrMismatch = errs.Class("seal mismatch")
)

// Policy names the attributes a seal covers: everything in Family (or everything, when Family
// is empty) minus the names and name prefixes in Exclude. The seal attribute itself is never
// covered.
type Policy struct {
	Name    string
	Family  string
	Exclude []string
}

// Primary covers every attribute except the replication family.
var Primary = Policy{
	Name:    PrimaryName,
	Exclude: []string{ReplicationFamily},
}

// Replication covers only the replication family.
var Replication = Policy{
	Name:   ReplicationName,
	Family: ReplicationFamily,
}

// Without returns a copy of the policy that additionally excludes names.
func (policy Policy) Without(names ...string) Policy {
	exclude := make([]string, 0, len(policy.Exclude)+len(names))
	exclude = append(exclude, policy.Exclude...)
	exclude = append(exclude, names...)
	policy.Exclude = exclude
	return policy
}

// Covers returns whether name is covered by the policy.
func (policy Policy) Covers(name string) bool {
	if name == policy.Name || name == PrimaryName || name == ReplicationName {
		return false
	}
	if policy.Family != "" && !strings.HasPrefix(name, policy.Family) {
		return false
	}
	for _, excluded := range policy.Exclude {
		if name == excluded {
			return false
		}
		if strings.HasSuffix(excluded, ".") && strings.HasPrefix(name, excluded) {
			return false
		}
	}
	return true
}

// Covered returns the sorted names of attrs covered by the policy.
func (policy Policy) Covered(attrs map[string]string) []string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		if policy.Covers(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Key is the secret a seal is computed with.
type Key [32]byte

// DeriveKey derives a seal key from keying material.
func DeriveKey(keying []byte) (key Key, err error) {
	if len(keying) == 0 {
		return key, Error.New("empty keying material")
	}
	reader := hkdf.New(sha256.New, keying, nil, []byte("casper archive xattrs seal v1"))
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return key, Error.Wrap(err)
	}
	return key, nil
}

// Compute returns the seal of attrs under policy.
func Compute(key Key, attrs map[string]string, policy Policy) (string, error) {
	mac, err := blake3.NewKeyed(key[:])
	if err != nil {
		return "", Error.Wrap(err)
	}

	var frame [binary.MaxVarintLen64]byte
	write := func(s string) {
		n := binary.PutUvarint(frame[:], uint64(len(s)))
		_, _ = mac.Write(frame[:n])
		_, _ = mac.Write([]byte(s))
	}

	write(policy.Name)
	for _, name := range policy.Covered(attrs) {
		write(name)
		write(attrs[name])
	}
	return base58.Encode(mac.Sum(nil)), nil
}

// Verify checks the seal stored in attrs under policy.
func Verify(key Key, attrs map[string]string, policy Policy) error {
	stored, ok := attrs[policy.Name]
	if !ok {
		return ErrMissing.New("%s", policy.Name)
	}
	expected, err := Compute(key, attrs, policy)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(expected)) != 1 {
		return ErrMismatch.New("%s", policy.Name)
	}
	return nil
}
