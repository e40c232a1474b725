// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package errs2 classifies archive errors by the HTTP status a front-end should answer with.
package errs2

import (
	"net/http"

	"github.com/zeebo/errs"
)

var (
	// BadRequest is the class of malformed input, configuration or identifiers.
	BadRequest = errs.Class("bad request")
	// Forbidden is the class of permission denials.
	Forbidden = errs.Class("forbidden")
	// NotFound is the class of missing objects.
	NotFound = errs.Class("not found")
	// Conflict is the class of identifier collisions.
	Conflict = errs.Class("conflict")
	// MethodNotAllowed is the class of operations not valid for the current mode.
	MethodNotAllowed = errs.Class("method not allowed")
	// NotImplemented is the class of operations that are not supported at all.
	NotImplemented = errs.Class("not implemented")
	// Internal is the class of violated invariants.
	Internal = errs.Class("internal server error")
)

// CodeMap maps an error class to a status code.
type CodeMap map[*errs.Class]int

// DefaultCodeMap is the mapping used by Status.
var DefaultCodeMap = CodeMap{
	&BadRequest:       http.StatusBadRequest,
	&Forbidden:        http.StatusForbidden,
	&NotFound:         http.StatusNotFound,
	&Conflict:         http.StatusConflict,
	&MethodNotAllowed: http.StatusMethodNotAllowed,
	&NotImplemented:   http.StatusNotImplemented,
	&Internal:         http.StatusInternalServerError,
}

// Code returns the status code of the first class in the map that err belongs to.
//
// When err is wrapped by several classes the most specific (non internal) one wins.
func (codes CodeMap) Code(err error) (int, bool) {
	if err == nil {
		return http.StatusOK, true
	}
	internal := false
	for class, code := range codes {
		if !class.Has(err) {
			continue
		}
		if code == http.StatusInternalServerError {
			internal = true
			continue
		}
		return code, true
	}
	if internal {
		return http.StatusInternalServerError, true
	}
	return 0, false
}

// Status returns the HTTP status code for err, defaulting to 500.
func Status(err error) int {
	if code, ok := DefaultCodeMap.Code(err); ok {
		return code
	}
	return http.StatusInternalServerError
}
