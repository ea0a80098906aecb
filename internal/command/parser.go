// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package command

import (
	"strings"

	"github.com/samber/oops"
)

// ParsedCommand represents a parsed command input.
type ParsedCommand struct {
	Name string // command name, lower-cased, without the prefix
	Args string // unparsed argument string (preserves internal whitespace)
	Raw  string // original input
}

// Parse strips prefix from input and splits the rest into a command name
// and arguments. An empty prefix accepts any input.
func Parse(prefix, input string) (*ParsedCommand, error) {
	trimmed := strings.TrimSpace(input)
	if prefix != "" {
		rest, ok := strings.CutPrefix(trimmed, prefix)
		if !ok {
			return nil, oops.Code(CodeEmptyInput).With("prefix", prefix).
				Errorf("input does not start with %q", prefix)
		}
		trimmed = strings.TrimLeft(rest, " \t")
	}
	if trimmed == "" {
		return nil, oops.Code(CodeEmptyInput).Errorf("no command provided")
	}

	name, args, _ := strings.Cut(trimmed, " ")
	if i := strings.IndexByte(name, '\t'); i >= 0 {
		name, args = name[:i], trimmed[i+1:]
	}

	return &ParsedCommand{
		Name: strings.ToLower(name),
		Args: strings.TrimLeft(args, " \t"),
		Raw:  input,
	}, nil
}
