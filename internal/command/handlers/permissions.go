// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package handlers holds the bot's built-in commands.
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/command"
	"github.com/bastionbot/bastion/internal/guild"
)

// Resolver resolves an actor's permission set. *access.Engine implements it.
type Resolver interface {
	GetPermissions(ctx context.Context, actor guild.Actor, requested ...string) (types.ResolvedSet, error)
}

// Register adds the built-in commands to reg.
func Register(reg *command.Registry, resolver Resolver) error {
	return reg.Register(command.Entry{
		Name:    "perms",
		Handler: PermissionsHandler(resolver),
		Help:    "Show your resolved permissions",
		Usage:   "perms",
		Source:  "core",
	})
}

// PermissionsHandler writes the invoking actor's resolved permission set.
func PermissionsHandler(resolver Resolver) command.Handler {
	return func(ctx context.Context, exec *command.Execution) error {
		set, err := resolver.GetPermissions(ctx, exec.Actor)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(exec.Output, FormatResolvedSet(set))
		return err
	}
}

// FormatResolvedSet renders set as plain text, one field per line.
func FormatResolvedSet(set types.ResolvedSet) string {
	var b strings.Builder
	if set.Level != nil {
		fmt.Fprintf(&b, "Level: %d\n", *set.Level)
	}
	fmt.Fprintf(&b, "Native: %s\n", orNone(strings.Join(set.Native.Names(), ", ")))
	fmt.Fprintf(&b, "Capabilities: %s\n", orNone(strings.Join(set.Capabilities.Names(), ", ")))
	if set.Profiles != nil {
		fmt.Fprintf(&b, "Profiles: %s\n", orNone(strings.Join(set.Profiles, ", ")))
	}
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
