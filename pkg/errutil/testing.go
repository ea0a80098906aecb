// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode fails t unless err carries code.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err, "expected an error with code %s", code)
	assert.Equal(t, code, Code(err), "error: %v", err)
}

// AssertErrorContext fails t unless err's oops context holds key = value.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected an oops error, got %T: %v", err, err)
	got, found := oopsErr.Context()[key]
	require.True(t, found, "context has no %q", key)
	assert.Equal(t, value, got)
}
