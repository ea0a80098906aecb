// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package errutil_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/bastionbot/bastion/pkg/errutil"
)

func TestCode(t *testing.T) {
	assert.Equal(t, "STRATEGY_MISCONFIGURED", errutil.Code(oops.Code("STRATEGY_MISCONFIGURED").Errorf("boom")))
	assert.Equal(t, "", errutil.Code(errors.New("plain")))
	assert.Equal(t, "", errutil.Code(nil))
}

func TestHasCode(t *testing.T) {
	err := oops.Code("PERSISTENCE_FAILED").Wrap(errors.New("conn reset"))
	assert.True(t, errutil.HasCode(err, "PERSISTENCE_FAILED"))
	assert.False(t, errutil.HasCode(err, "OTHER"))
	assert.False(t, errutil.HasCode(nil, "PERSISTENCE_FAILED"))
}
