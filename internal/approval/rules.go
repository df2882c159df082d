// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Rule is a remembered permission pattern. Patterns take three forms:
//
//	Tool            any call to Tool
//	Tool(arg)       Tool whose primary argument equals arg
//	Tool(prefix:*)  Tool whose primary argument starts with prefix
type Rule struct {
	ID        int64     `json:"id,omitempty"`
	Pattern   string    `json:"pattern"`
	Scope     Scope     `json:"scope"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	tool   string
	arg    string
	prefix bool
}

// RuleStore persists remembered rules. Rules returns the rules that apply to
// sessionID: its session-scoped rules plus every always-scoped rule.
type RuleStore interface {
	SaveRule(ctx context.Context, rule Rule) error
	Rules(ctx context.Context, sessionID string) ([]Rule, error)
}

// ParseRule validates pattern and returns a Rule for it.
func ParseRule(pattern string) (Rule, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return Rule{}, fmt.Errorf("empty rule pattern")
	}

	r := Rule{Pattern: pattern}
	open := strings.IndexByte(pattern, '(')
	if open < 0 {
		r.tool = pattern
		return r, nil
	}
	if !strings.HasSuffix(pattern, ")") || open == 0 {
		return Rule{}, fmt.Errorf("malformed rule pattern %q", pattern)
	}
	r.tool = pattern[:open]
	r.arg = pattern[open+1 : len(pattern)-1]
	if strings.HasSuffix(r.arg, ":*") {
		r.prefix = true
		r.arg = strings.TrimSuffix(r.arg, ":*")
	}
	if r.arg == "" && !r.prefix {
		return Rule{}, fmt.Errorf("empty argument in rule pattern %q", pattern)
	}
	return r, nil
}

// Matches reports whether a call to toolName with input is covered.
func (r Rule) Matches(toolName string, input json.RawMessage) bool {
	if r.tool == "" {
		parsed, err := ParseRule(r.Pattern)
		if err != nil {
			return false
		}
		r.tool, r.arg, r.prefix = parsed.tool, parsed.arg, parsed.prefix
	}
	if r.tool != toolName {
		return false
	}
	if r.arg == "" && !r.prefix {
		return true
	}
	arg, ok := primaryArg(input)
	if !ok {
		return false
	}
	if r.prefix {
		return strings.HasPrefix(arg, r.arg)
	}
	return arg == r.arg
}

// primaryArg extracts the argument a rule pattern is matched against.
func primaryArg(input json.RawMessage) (string, bool) {
	if len(input) == 0 {
		return "", false
	}
	var fields struct {
		Command  *string `json:"command"`
		FilePath *string `json:"file_path"`
		Path     *string `json:"path"`
		URL      *string `json:"url"`
	}
	if err := json.Unmarshal(input, &fields); err != nil {
		return "", false
	}
	for _, v := range []*string{fields.Command, fields.FilePath, fields.Path, fields.URL} {
		if v != nil {
			return strings.TrimSpace(*v), true
		}
	}
	return "", false
}

// MemoryRules is a RuleStore kept in memory.
type MemoryRules struct {
	mu    sync.Mutex
	rules []Rule
}

// NewMemoryRules returns an empty in-memory rule store.
func NewMemoryRules() *MemoryRules {
	return &MemoryRules{}
}

// SaveRule implements RuleStore.
func (m *MemoryRules) SaveRule(_ context.Context, rule Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule.ID = int64(len(m.rules) + 1)
	m.rules = append(m.rules, rule)
	return nil
}

// Rules implements RuleStore.
func (m *MemoryRules) Rules(_ context.Context, sessionID string) ([]Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Rule
	for _, r := range m.rules {
		if r.Scope == ScopeAlways || r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}
