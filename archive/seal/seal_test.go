// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package seal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casper2020/casper-nginx-broker-sub001/archive/seal"
)

func TestPolicyCoverage(t *testing.T) {
	for name, primary := range map[string]bool{
		"id":                true,
		"md5":               true,
		"permissions.owner": true,
		"replicationx":      true,
		"xattrs.seal":       false,
		"replication.tag":   false,
		"replication.data":  false,
		"replication.seal":  false,
	} {
		assert.Equal(t, primary, seal.Primary.Covers(name), name)
	}

	assert.True(t, seal.Replication.Covers("replication.tag"))
	assert.True(t, seal.Replication.Covers("replication.data"))
	assert.False(t, seal.Replication.Covers("replication.seal"))
	assert.False(t, seal.Replication.Covers("md5"))

	without := seal.Primary.Without("modified.history", "permissions.")
	assert.False(t, without.Covers("modified.history"))
	assert.False(t, without.Covers("permissions.owner"))
	assert.True(t, without.Covers("modified.at"))
	assert.True(t, seal.Primary.Covers("permissions.owner"), "Without must not alter the original")

	assert.Equal(t, []string{"a", "b"}, seal.Primary.Covered(map[string]string{
		"b": "", "a": "", "xattrs.seal": "", "replication.tag": "",
	}))
}

func TestComputeVerify(t *testing.T) {
	key, err := seal.DeriveKey([]byte("some keying material"))
	require.NoError(t, err)

	attrs := map[string]string{
		"id":             "uAb00000g",
		"md5":            "d41d8cd98f00b204e9800998ecf8427e",
		"content-length": "0",
	}

	value, err := seal.Compute(key, attrs, seal.Primary)
	require.NoError(t, err)
	attrs[seal.PrimaryName] = value
	require.NoError(t, seal.Verify(key, attrs, seal.Primary))

	// replication attributes are outside of the primary seal
	attrs["replication.tag"] = "node-a"
	require.NoError(t, seal.Verify(key, attrs, seal.Primary))

	// but covered attributes are not
	attrs["content-length"] = "1"
	err = seal.Verify(key, attrs, seal.Primary)
	require.Error(t, err)
	assert.True(t, seal.ErrMismatch.Has(err))

	// neither are removed or added ones
	attrs["content-length"] = "0"
	require.NoError(t, seal.Verify(key, attrs, seal.Primary))
	attrs["permissions.owner"] = "forged"
	require.Error(t, seal.Verify(key, attrs, seal.Primary))
	delete(attrs, "permissions.owner")
	delete(attrs, "md5")
	require.Error(t, seal.Verify(key, attrs, seal.Primary))

	err = seal.Verify(key, map[string]string{"id": "x"}, seal.Primary)
	require.Error(t, err)
	assert.True(t, seal.ErrMissing.Has(err))
}

func TestSealsAreNotInterchangeable(t *testing.T) {
	key, err := seal.DeriveKey([]byte("keying"))
	require.NoError(t, err)
	other, err := seal.DeriveKey([]byte("other keying"))
	require.NoError(t, err)
	require.NotEqual(t, key, other)

	attrs := map[string]string{"replication.tag": "a", "replication.data": "{}"}
	primary, err := seal.Compute(key, attrs, seal.Policy{Name: seal.PrimaryName, Family: seal.ReplicationFamily})
	require.NoError(t, err)
	replication, err := seal.Compute(key, attrs, seal.Replication)
	require.NoError(t, err)
	assert.NotEqual(t, primary, replication)

	attrs[seal.ReplicationName] = replication
	require.NoError(t, seal.Verify(key, attrs, seal.Replication))
	require.Error(t, seal.Verify(other, attrs, seal.Replication))

	// value boundaries are framed
	a, err := seal.Compute(key, map[string]string{"ab": "c"}, seal.Primary)
	require.NoError(t, err)
	b, err := seal.Compute(key, map[string]string{"a": "bc"}, seal.Primary)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = seal.DeriveKey(nil)
	require.Error(t, err)
}
