// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package utils

import "strings"

// IsEmpty reports whether the string is blank after trimming whitespace.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

// TrimmedLen returns the rune length of the string after trimming.
func TrimmedLen(s string) int {
	return len([]rune(strings.TrimSpace(s)))
}
