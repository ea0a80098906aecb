// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package logging provides structured logging with OpenTelemetry trace context
// and the guild scope of the request being authorized.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type scopeKey struct{}

type scope struct {
	guildID  string
	memberID string
}

// WithGuild returns a context whose log records carry guild_id and member_id.
// Empty values are omitted.
func WithGuild(ctx context.Context, guildID, memberID string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope{guildID: guildID, memberID: memberID})
}

// contextHandler decorates records with service metadata, trace context and
// guild scope.
type contextHandler struct {
	handler slog.Handler
	service string
	version string
}

// Handle adds service, trace and guild attributes to the record.
func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(
		slog.String("service", h.service),
		slog.String("version", h.version),
	)

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}

	if s, ok := ctx.Value(scopeKey{}).(scope); ok {
		if s.guildID != "" {
			r.AddAttrs(slog.String("guild_id", s.guildID))
		}
		if s.memberID != "" {
			r.AddAttrs(slog.String("member_id", s.memberID))
		}
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.handler.Handle(ctx, r)
}

// Enabled returns true if the level is enabled.
func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// WithAttrs returns a new handler with the given attributes.
func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{handler: h.handler.WithAttrs(attrs), service: h.service, version: h.version}
}

// WithGroup returns a new handler with the given group.
func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{handler: h.handler.WithGroup(name), service: h.service, version: h.version}
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup creates a configured slog.Logger.
// format: "json" or "text" (defaults to "json" if empty)
// If w is nil, writes to os.Stderr.
func Setup(service, version, format string, w io.Writer) *slog.Logger {
	return SetupWithLevel(service, version, format, slog.LevelDebug, w)
}

// SetupWithLevel is Setup with an explicit minimum level.
func SetupWithLevel(service, version, format string, level slog.Level, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}

	var base slog.Handler
	if format == "text" {
		base = slog.NewTextHandler(w, opts)
	} else {
		base = slog.NewJSONHandler(w, opts)
	}

	return slog.New(&contextHandler{handler: base, service: service, version: version})
}

// SetDefault sets up and configures the default logger.
func SetDefault(service, version, format string, level slog.Level) {
	slog.SetDefault(SetupWithLevel(service, version, format, level, nil))
}
