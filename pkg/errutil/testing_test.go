// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/bastionbot/bastion/pkg/errutil"
)

func TestAssertErrorCode_Wrapped(t *testing.T) {
	inner := oops.Code("MEMBER_NOT_FOUND").Errorf("member 42 not found")
	errutil.AssertErrorCode(t, oops.With("guild_id", "1").Wrap(inner), "MEMBER_NOT_FOUND")
}

func TestAssertErrorContext_Merged(t *testing.T) {
	err := oops.With("guild_id", "1").Wrap(oops.With("member_id", "42").Errorf("lookup failed"))
	errutil.AssertErrorContext(t, err, "guild_id", "1")
	errutil.AssertErrorContext(t, err, "member_id", "42")
}
