// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"fmt"
	"strings"
)

// Pattern selects event types. "*" matches every type, "session.*" every
// type in the session family and "*.expired" every type ending in
// ".expired". Anything else must equal the type.
type Pattern string

// ParsePattern checks that s is a usable pattern.
func ParsePattern(s string) (Pattern, error) {
	switch {
	case s == "":
		return "", fmt.Errorf("events: empty pattern")
	case s == "*":
	case strings.Count(s, "*") > 1:
		return "", fmt.Errorf("events: pattern %q has more than one wildcard", s)
	case strings.Contains(s, "*") && !strings.HasPrefix(s, "*.") && !strings.HasSuffix(s, ".*"):
		return "", fmt.Errorf("events: wildcard in %q must be a whole segment at either end", s)
	}
	return Pattern(s), nil
}

// Match reports whether eventType is selected by p.
func (p Pattern) Match(eventType string) bool {
	if p == "" || eventType == "" {
		return false
	}
	s := string(p)
	switch {
	case s == "*":
		return true
	case strings.HasSuffix(s, ".*"):
		return strings.HasPrefix(eventType, s[:len(s)-1])
	case strings.HasPrefix(s, "*."):
		return strings.HasSuffix(eventType, s[1:])
	}
	return s == eventType
}

// matchAny reports whether eventType matches one of patterns. Malformed
// patterns match nothing.
func matchAny(eventType string, patterns []string) bool {
	for _, s := range patterns {
		if p, err := ParsePattern(s); err == nil && p.Match(eventType) {
			return true
		}
	}
	return false
}
