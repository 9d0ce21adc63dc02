// Package enums holds the string enums persisted as Postgres enum types.
// Every value list here must match its CREATE TYPE in the migrations.
package enums

import (
	"fmt"
	"slices"
	"strings"
)

// parse matches value against valid after trimming surrounding whitespace.
func parse[T ~string](value string, valid []T, kind string) (T, error) {
	candidate := T(strings.TrimSpace(value))
	if slices.Contains(valid, candidate) {
		return candidate, nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, value)
}
