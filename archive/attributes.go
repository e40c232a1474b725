// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package archive

import (
	"sort"
	"strings"

	"github.com/casper2020/casper-nginx-broker-sub001/archive/seal"
	"github.com/casper2020/casper-nginx-broker-sub001/internal/errs2"
)

// Names of the attributes the archive manages.
const (
	AttrID                = "id"
	AttrFilename          = "filename"
	AttrContentType       = "content-type"
	AttrContentLength     = "content-length"
	AttrMD5               = "md5"
	AttrArchivist         = "archivist"
	AttrArchivedBy        = "archived.by"
	AttrCreatedBy         = "created.by"
	AttrCreatedAt         = "created.at"
	AttrModifiedBy        = "modified.by"
	AttrModifiedAt        = "modified.at"
	AttrModifiedCount     = "modified.count"
	AttrModifiedHistory   = "modified.history"
	AttrModifiedRequestee = "modified.requestee"
	AttrReplicationTag    = "replication.tag"
	AttrReplicationData   = "replication.data"

	// PermissionsPrefix prefixes the compiled permission values.
	PermissionsPrefix = "permissions."
	modifiedPrefix    = "modified."
)

// reserved returns whether only the archive itself may set name.
func reserved(name string) bool {
	switch name {
	case AttrID, AttrMD5, AttrContentLength, AttrArchivist, seal.PrimaryName, seal.ReplicationName:
		return true
	}
	return strings.HasPrefix(name, seal.ReplicationFamily) ||
		strings.HasPrefix(name, PermissionsPrefix) ||
		strings.HasPrefix(name, modifiedPrefix)
}

// checkUntrusted rejects attribute maps that carry reserved names.
func checkUntrusted(attrs map[string]string) error {
	var names []string
	for name := range attrs {
		if name == "" || reserved(name) {
			names = append(names, name)
		}
	}
	if len(names) > 0 {
		sort.Strings(names)
		return errs2.BadRequest.Wrap(Error.New("reserved attributes %q", names))
	}
	return nil
}

// stripDerived returns a copy of attrs without the seals and the values every close recomputes.
func stripDerived(attrs map[string]string, names ...string) map[string]string {
	out := make(map[string]string, len(attrs))
	for name, value := range attrs {
		if name == seal.PrimaryName || name == seal.ReplicationName ||
			strings.HasPrefix(name, seal.ReplicationFamily) {
			continue
		}
		out[name] = value
	}
	for _, name := range names {
		delete(out, name)
	}
	return out
}

// layer returns base overlaid with overrides, keeping base values of the preserving names.
func layer(base, overrides map[string]string, preserving []string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for name, value := range base {
		out[name] = value
	}
	for name, value := range overrides {
		out[name] = value
	}
	for _, name := range preserving {
		if value, ok := base[name]; ok {
			out[name] = value
		}
	}
	return out
}

func contains(names []string, name string) bool {
	for _, candidate := range names {
		if candidate == name {
			return true
		}
	}
	return false
}
