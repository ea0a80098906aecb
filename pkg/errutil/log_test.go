// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package errutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionbot/bastion/internal/logging"
	"github.com/bastionbot/bastion/pkg/errutil"
)

func logRecord(t *testing.T, ctx context.Context, err error) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := logging.Setup("bastion-test", "v0", "json", &buf)
	errutil.LogError(ctx, logger, "level refresh failed", err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	return rec
}

func TestLogError_CarriesGuildScope(t *testing.T) {
	ctx := logging.WithGuild(context.Background(), "1001", "2002")
	err := oops.In("store").Code("PERSISTENCE_FAILED").With("operation", "find levels").Errorf("connection reset")

	rec := logRecord(t, ctx, err)
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "level refresh failed", rec["msg"])
	assert.Equal(t, "1001", rec["guild_id"])
	assert.Equal(t, "2002", rec["member_id"])
	assert.Equal(t, "PERSISTENCE_FAILED", rec["code"])
	assert.Equal(t, "store", rec["domain"])
	assert.Equal(t, map[string]any{"operation": "find levels"}, rec["context"])
}

func TestLogError_PlainError(t *testing.T) {
	rec := logRecord(t, context.Background(), errors.New("dial tcp: refused"))
	assert.Contains(t, rec["error"], "refused")
	assert.NotContains(t, rec, "code")
	assert.NotContains(t, rec, "guild_id")
}

func TestAttrs(t *testing.T) {
	wrapped := oops.Code("LEVEL_SYNC_FAILED").Wrap(oops.Code("PERSISTENCE_FAILED").Errorf("boom"))
	attrs := errutil.Attrs(wrapped)
	require.GreaterOrEqual(t, len(attrs), 4)
	assert.Equal(t, []any{"error", wrapped.Error(), "code", "PERSISTENCE_FAILED"}, attrs[:4])
}
