// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package command provides the bot's command registry, parser, and
// permission-gated dispatch.
package command

import (
	"context"
	"io"

	"github.com/bastionbot/bastion/internal/guild"
)

// Handler is the function signature for command handlers.
type Handler func(ctx context.Context, exec *Execution) error

// Entry is a registered command.
type Entry struct {
	Name    string  // canonical name (e.g., "ban")
	Handler Handler // executes the command
	// Permissions lists every requirement (AND logic). Each name is either
	// a native permission such as "BanMembers" or a capability name.
	Permissions []string
	// GuildOnly refuses invocations without guild context.
	GuildOnly bool
	Help      string // short description (one line)
	Usage     string // usage pattern (e.g., "ban <user> [reason]")
	Source    string // "core" or the registering module

	req *Requirement
}

// Requirement returns the entry's permission decomposition. It is nil until
// the entry is registered.
func (e Entry) Requirement() *Requirement { return e.req }

// Execution carries one invocation of a command.
type Execution struct {
	Actor     guild.Actor
	ChannelID string
	Args      string
	InvokedAs string
	Output    io.Writer
}

// Member returns the invoking member, or nil for invocations without guild
// context.
func (e *Execution) Member() *guild.Member {
	m, _ := e.Actor.AsMember()
	return m
}
