// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package objectid

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/tidwall/jsonc"

	"github.com/casper2020/casper-nginx-broker-sub001/internal/errs2"
)

// H2E maps header tokens to the directory component their objects are stored under. The
// first character of a directory component is the id prefix of its objects.
type H2E struct {
	headers  map[string]string
	prefixes map[byte]string
}

// NewH2E validates mapping and returns the h2e map.
func NewH2E(mapping map[string]string) (*H2E, error) {
	if len(mapping) == 0 {
		return nil, errs2.BadRequest.Wrap(Error.New("empty h2e map"))
	}

	h2e := &H2E{
		headers:  make(map[string]string, len(mapping)),
		prefixes: make(map[byte]string, len(mapping)),
	}
	for _, header := range sortedKeys(mapping) {
		dir := mapping[header]
		if header == "" || dir == "" {
			return nil, errs2.BadRequest.Wrap(Error.New("invalid h2e entry %q: %q", header, dir))
		}
		prefix := dir[0]
		if prefix < 'a' || prefix > 'z' {
			return nil, errs2.BadRequest.Wrap(Error.New("directory %q must start with a lowercase letter", dir))
		}
		if other, ok := h2e.prefixes[prefix]; ok {
			return nil, errs2.BadRequest.Wrap(Error.New("ambiguous h2e map: %q and %q share prefix %q", other, header, string(prefix)))
		}
		h2e.prefixes[prefix] = header
		h2e.headers[header] = dir
	}
	return h2e, nil
}

// LoadH2E reads a h2e map from a JSON file. Comments are allowed.
func LoadH2E(path string) (*H2E, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	var mapping map[string]string
	if err := json.Unmarshal(jsonc.ToJSON(data), &mapping); err != nil {
		return nil, errs2.BadRequest.Wrap(Error.New("invalid h2e file %q: %v", path, err))
	}
	return NewH2E(mapping)
}

// Prefix returns the id prefix of the objects of header.
func (h2e *H2E) Prefix(header string) (byte, error) {
	dir, ok := h2e.headers[header]
	if !ok {
		return 0, errs2.BadRequest.Wrap(Error.New("unknown header %q", header))
	}
	return dir[0], nil
}

// Dir returns the directory component and header token of prefix.
func (h2e *H2E) Dir(prefix byte) (dir, header string, err error) {
	header, ok := h2e.prefixes[prefix]
	if !ok {
		return "", "", errs2.BadRequest.Wrap(Error.New("unknown prefix %q", string(prefix)))
	}
	return h2e.headers[header], header, nil
}

// Headers returns the known header tokens in sorted order.
func (h2e *H2E) Headers() []string {
	return sortedKeys(h2e.headers)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
