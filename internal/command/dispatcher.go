// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package command

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bastionbot/bastion/internal/access/capability"
	"github.com/bastionbot/bastion/internal/guild"
)

var tracer = otel.Tracer("bastion/command")

// Authorizer answers permission checks. *access.Engine implements it.
type Authorizer interface {
	HasPermissions(ctx context.Context, actor guild.Actor, required guild.Permissions, caps ...string) (bool, error)
	Registry() *capability.Registry
}

// Dispatcher parses input, gates commands by their declared permissions and
// runs them.
type Dispatcher struct {
	registry    *Registry
	auth        Authorizer
	prefix      string
	rateLimiter *RateLimiter // optional, can be nil
}

// DispatcherOption configures a Dispatcher during construction.
type DispatcherOption func(*Dispatcher)

// WithPrefix requires input to start with prefix.
func WithPrefix(prefix string) DispatcherOption {
	return func(d *Dispatcher) { d.prefix = prefix }
}

// WithRateLimiter enables per-user rate limiting. Actors holding
// CapabilityRateLimitBypass are exempt.
func WithRateLimiter(rl *RateLimiter) DispatcherOption {
	return func(d *Dispatcher) { d.rateLimiter = rl }
}

// NewDispatcher creates a dispatcher. Returns an error if registry or auth
// is nil.
func NewDispatcher(registry *Registry, auth Authorizer, opts ...DispatcherOption) (*Dispatcher, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	if auth == nil {
		return nil, ErrNilAuthorizer
	}
	d := &Dispatcher{registry: registry, auth: auth}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch parses and executes a command on behalf of exec.Actor.
func (d *Dispatcher) Dispatch(ctx context.Context, input string, exec *Execution) (err error) {
	metrics := newMetricsRecorder()
	defer metrics.record()

	parsed, err := Parse(d.prefix, input)
	if err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "command.execute",
		trace.WithAttributes(
			attribute.String("command.name", parsed.Name),
			attribute.String("command.user_id", exec.Actor.UserID()),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	entry, ok := d.registry.Get(parsed.Name)
	if !ok {
		return ErrUnknownCommand(parsed.Name)
	}
	metrics.name, metrics.source = entry.Name, entry.Source
	span.SetAttributes(attribute.String("command.source", entry.Source))

	if d.rateLimiter != nil && !d.bypassesRateLimit(ctx, exec.Actor) {
		if allowed, cooldownMs := d.rateLimiter.Allow(exec.Actor.UserID()); !allowed {
			span.SetAttributes(attribute.Bool("command.rate_limited", true))
			span.SetAttributes(attribute.Int64("command.cooldown_ms", cooldownMs))
			metrics.status = StatusRateLimited
			return ErrRateLimited(cooldownMs)
		}
	}

	if err := d.Authorize(ctx, entry, exec.Actor); err != nil {
		metrics.status = StatusPermissionDenied
		return err
	}

	exec.Args = parsed.Args
	exec.InvokedAs = parsed.Name
	if err := entry.Handler(ctx, exec); err != nil {
		slog.WarnContext(ctx, "command execution failed",
			"command", entry.Name,
			"user_id", exec.Actor.UserID(),
			"error", err,
		)
		return err
	}
	metrics.status = StatusSuccess
	return nil
}

// Authorize checks actor against entry's declared permissions. The
// declaration is decomposed once per entry; names that are neither native
// permissions nor registered capabilities always deny.
func (d *Dispatcher) Authorize(ctx context.Context, entry Entry, actor guild.Actor) error {
	if entry.GuildOnly {
		if _, ok := actor.AsMember(); !ok {
			RecordPermissionDenial(entry.Name, "guild_only")
			return ErrGuildOnly(entry.Name)
		}
	}

	req := entry.Requirement()
	if req == nil {
		req = newRequirement(entry.Permissions)
	}
	if req.Empty() {
		return nil
	}

	native, caps, unknown := req.Decompose(d.auth.Registry())
	if len(unknown) > 0 {
		slog.WarnContext(ctx, "command requires unregistered capabilities",
			"command", entry.Name, "capabilities", unknown)
		RecordPermissionDenial(entry.Name, "unknown_capability")
		return ErrPermissionDenied(entry.Name, unknown...)
	}

	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.Name()
	}
	ok, err := d.auth.HasPermissions(ctx, actor, native, names...)
	if err != nil {
		RecordPermissionDenial(entry.Name, "error")
		return ErrAuthorization(entry.Name, err)
	}
	if !ok {
		RecordPermissionDenial(entry.Name, "missing")
		return ErrPermissionDenied(entry.Name, req.Names()...)
	}
	return nil
}

// bypassesRateLimit fails closed: a resolution error applies the limit.
func (d *Dispatcher) bypassesRateLimit(ctx context.Context, actor guild.Actor) bool {
	ok, err := d.auth.HasPermissions(ctx, actor, 0, CapabilityRateLimitBypass)
	if err != nil {
		slog.ErrorContext(ctx, "rate limit bypass check failed",
			"user_id", actor.UserID(), "error", err)
		return false
	}
	return ok
}
