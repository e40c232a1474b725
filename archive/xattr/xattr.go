// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package xattr stores object metadata as extended attributes in a private namespace.
package xattr

import (
	"errors"
	"os"
	"sort"
	"strings"

	"github.com/zeebo/errs"

	"github.com/casper2020/casper-nginx-broker-sub001/archive/seal"
)

// Namespace is the prefix every attribute managed by this package is stored under.
const Namespace = "user.casper."

var (
	// Error is the default xattr error class.
	Error = errs.Class("xattr")
	// ErrNotFound is returned when an attribute does not exist.
	ErrNotFound = errs.Class("xattr not found")
	// ErrUnsupported is returned when the filesystem does not support extended attributes.
	ErrUnsupported = errs.Class("xattr unsupported")
)

// Attributes accesses the attributes of one file.
type Attributes struct {
	path string
}

// New returns an accessor for the attributes of the file at path.
func New(path string) *Attributes {
	return &Attributes{path: path}
}

// Path returns the file the accessor is bound to.
func (attrs *Attributes) Path() string { return attrs.path }

// Exists returns whether the attribute name is set.
func (attrs *Attributes) Exists(name string) (bool, error) {
	_, err := attrs.Get(name)
	if ErrNotFound.Has(err) {
		return false, nil
	}
	return err == nil, err
}

// Get returns the value of attribute name.
func (attrs *Attributes) Get(name string) (string, error) {
	value, err := get(attrs.path, Namespace+name)
	if err != nil {
		if errors.Is(err, errNoData) {
			return "", ErrNotFound.New("%s", name)
		}
		return "", wrap(err)
	}
	return string(value), nil
}

// Set sets attribute name to value.
func (attrs *Attributes) Set(name, value string) error {
	if name == "" {
		return Error.New("empty attribute name")
	}
	return wrap(set(attrs.path, Namespace+name, []byte(value)))
}

// SetAll sets every attribute in values.
func (attrs *Attributes) SetAll(values map[string]string) error {
	for _, name := range sortedNames(values) {
		if err := attrs.Set(name, values[name]); err != nil {
			return err
		}
	}
	return nil
}

// Remove removes attribute name. Removing a missing attribute is not an error.
func (attrs *Attributes) Remove(name string) error {
	err := remove(attrs.path, Namespace+name)
	if errors.Is(err, errNoData) {
		return nil
	}
	return wrap(err)
}

// Names returns the sorted names of every attribute in the namespace.
func (attrs *Attributes) Names() ([]string, error) {
	raw, err := list(attrs.path)
	if err != nil {
		return nil, wrap(err)
	}
	var names []string
	for _, name := range raw {
		if strings.HasPrefix(name, Namespace) && len(name) > len(Namespace) {
			names = append(names, strings.TrimPrefix(name, Namespace))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Iterate calls fn for every attribute in name order and stops at the first error.
func (attrs *Attributes) Iterate(fn func(name, value string) error) error {
	names, err := attrs.Names()
	if err != nil {
		return err
	}
	for _, name := range names {
		value, err := attrs.Get(name)
		if ErrNotFound.Has(err) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(name, value); err != nil {
			return err
		}
	}
	return nil
}

// All returns every attribute in the namespace.
func (attrs *Attributes) All() (map[string]string, error) {
	values := map[string]string{}
	err := attrs.Iterate(func(name, value string) error {
		values[name] = value
		return nil
	})
	return values, err
}

// Snapshot returns the values of the named attributes that exist.
// Without names every attribute is returned.
func (attrs *Attributes) Snapshot(names ...string) (map[string]string, error) {
	if len(names) == 0 {
		return attrs.All()
	}
	values := map[string]string{}
	for _, name := range names {
		value, err := attrs.Get(name)
		if ErrNotFound.Has(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		values[name] = value
	}
	return values, nil
}

// Restore writes back a snapshot.
func (attrs *Attributes) Restore(snapshot map[string]string) error {
	return attrs.SetAll(snapshot)
}

// Seal computes the seal of the attributes covered by policy and stores it.
func (attrs *Attributes) Seal(key seal.Key, policy seal.Policy) (string, error) {
	values, err := attrs.All()
	if err != nil {
		return "", err
	}
	value, err := seal.Compute(key, values, policy)
	if err != nil {
		return "", err
	}
	return value, attrs.Set(policy.Name, value)
}

// Validate verifies the seal stored under policy.
func (attrs *Attributes) Validate(key seal.Key, policy seal.Policy) error {
	values, err := attrs.All()
	if err != nil {
		return err
	}
	return seal.Verify(key, values, policy)
}

// Supported returns whether files in dir can carry attributes in the namespace.
func Supported(dir string) bool {
	file, err := os.CreateTemp(dir, ".xattr-check-*")
	if err != nil {
		return false
	}
	path := file.Name()
	defer func() { _ = os.Remove(path) }()
	if err := file.Close(); err != nil {
		return false
	}
	return set(path, Namespace+"check", []byte("1")) == nil
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errNotSupported) {
		return ErrUnsupported.Wrap(err)
	}
	return Error.Wrap(err)
}

func sortedNames(values map[string]string) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
