// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package command

import (
	"errors"

	"github.com/samber/oops"

	"github.com/bastionbot/bastion/pkg/errutil"
)

// Error codes for command dispatch failures.
const (
	CodeUnknownCommand   = "UNKNOWN_COMMAND"
	CodePermissionDenied = "COMMAND_PERMISSION_DENIED"
	CodeGuildOnly        = "COMMAND_GUILD_ONLY"
	CodeInvalidArgs      = "INVALID_ARGS"
	CodeRateLimited      = "RATE_LIMITED"
	CodeEmptyInput       = "EMPTY_INPUT"
	CodeInvalidName      = "INVALID_NAME"
	CodeNilHandler       = "NIL_HANDLER"
	CodeAuthorization    = "AUTHORIZATION_FAILED"
)

// Construction errors.
var (
	ErrNilRegistry   = errors.New("command registry is required")
	ErrNilAuthorizer = errors.New("authorizer is required")
)

// ErrUnknownCommand creates an error for an unknown command.
func ErrUnknownCommand(cmd string) error {
	return oops.Code(CodeUnknownCommand).
		With("command", cmd).
		Errorf("unknown command: %s", cmd)
}

// ErrPermissionDenied creates an error for a failed permission gate.
// missing names the requirement that could not be satisfied, when known.
func ErrPermissionDenied(cmd string, missing ...string) error {
	return oops.Code(CodePermissionDenied).
		With("command", cmd).
		With("missing", missing).
		Errorf("permission denied for command %s", cmd)
}

// ErrGuildOnly creates an error for a guild-only command used outside a guild.
func ErrGuildOnly(cmd string) error {
	return oops.Code(CodeGuildOnly).
		With("command", cmd).
		Errorf("command %s can only be used in a guild", cmd)
}

// ErrAuthorization wraps a resolution failure. The command is refused.
func ErrAuthorization(cmd string, cause error) error {
	return oops.Code(CodeAuthorization).
		With("command", cmd).
		Wrapf(cause, "authorize command %s", cmd)
}

// ErrInvalidArgs creates an error for invalid arguments.
func ErrInvalidArgs(cmd, usage string) error {
	return oops.Code(CodeInvalidArgs).
		With("command", cmd).
		With("usage", usage).
		Errorf("invalid arguments")
}

// ErrRateLimited creates an error for rate limiting.
func ErrRateLimited(cooldownMs int64) error {
	return oops.Code(CodeRateLimited).
		With("cooldown_ms", cooldownMs).
		Errorf("too many commands, slow down")
}

// ErrNilHandler creates an error for a command registered without a handler.
func ErrNilHandler(cmd string) error {
	return oops.Code(CodeNilHandler).
		With("command", cmd).
		Errorf("command %s has no handler", cmd)
}

// UserMessage extracts a user-facing message from an error.
func UserMessage(err error) string {
	const fallback = "Something went wrong. Try again."
	if err == nil {
		return fallback
	}

	switch errutil.Code(err) {
	case CodeUnknownCommand:
		return "Unknown command. Try 'help'."
	case CodePermissionDenied:
		return "You don't have permission to do that."
	case CodeGuildOnly:
		return "This command can only be used in a server."
	case CodeInvalidArgs:
		oopsErr, _ := oops.AsOops(err)
		if usage, ok := oopsErr.Context()["usage"].(string); ok && usage != "" {
			return "Usage: " + usage
		}
		return "Invalid arguments."
	case CodeRateLimited:
		return "Too many commands. Please slow down."
	default:
		return fallback
	}
}
