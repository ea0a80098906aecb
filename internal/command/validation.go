// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package command

import (
	"regexp"

	"github.com/samber/oops"
)

// MaxNameLength is the maximum length for command names.
const MaxNameLength = 32

// namePattern: a lower-case letter followed by lower-case letters, digits,
// '-' or '_'.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// ValidateCommandName validates a command name.
func ValidateCommandName(name string) error {
	if name == "" {
		return oops.Code(CodeInvalidName).Errorf("command name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return oops.Code(CodeInvalidName).
			With("length", len(name)).
			With("max", MaxNameLength).
			Errorf("command name exceeds maximum length of %d", MaxNameLength)
	}
	if !namePattern.MatchString(name) {
		return oops.Code(CodeInvalidName).
			With("name", name).
			Errorf("command name must start with a lower-case letter and contain only a-z, 0-9, '-' or '_'")
	}
	return nil
}
