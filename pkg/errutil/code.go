// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package errutil

import (
	"fmt"

	"github.com/samber/oops"
)

// Code returns the oops error code carried by err, or "" when there is none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code := oopsErr.Code()
	if code == nil {
		return ""
	}
	return fmt.Sprint(code)
}

// HasCode reports whether err carries the given oops code.
func HasCode(err error, code string) bool {
	return err != nil && Code(err) == code
}
