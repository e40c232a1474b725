// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package errs2_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zeebo/errs"

	"github.com/casper2020/casper-nginx-broker-sub001/internal/errs2"
)

func TestStatus(t *testing.T) {
	wrapper := errs.Class("wrapper")

	for _, tt := range []struct {
		err  error
		code int
	}{
		{nil, http.StatusOK},
		{errs2.BadRequest.New("bad"), http.StatusBadRequest},
		{errs2.Forbidden.New("denied"), http.StatusForbidden},
		{wrapper.Wrap(errs2.NotFound.New("gone")), http.StatusNotFound},
		{errs2.Conflict.New("taken"), http.StatusConflict},
		{errs2.MethodNotAllowed.New("mode"), http.StatusMethodNotAllowed},
		{errs2.NotImplemented.New("nope"), http.StatusNotImplemented},
		{errs2.Internal.New("broken"), http.StatusInternalServerError},
		{errs2.Internal.Wrap(errs2.Conflict.New("taken")), http.StatusConflict},
		{errors.New("plain"), http.StatusInternalServerError},
	} {
		assert.Equal(t, tt.code, errs2.Status(tt.err), "%v", tt.err)
	}
}
