// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// Attrs flattens err into log attributes: the message, then the oops code,
// domain and context when err carries them.
func Attrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := Code(err); code != "" {
		attrs = append(attrs, "code", code)
	}
	if domain := oopsErr.Domain(); domain != "" {
		attrs = append(attrs, "domain", domain)
	}
	if kv := oopsErr.Context(); len(kv) > 0 {
		attrs = append(attrs, "context", kv)
	}
	return attrs
}

// LogError logs err at error level through ctx, so scope set with
// logging.WithGuild and the active trace reach the record. A nil logger
// means slog.Default().
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, msg, Attrs(err)...)
}
