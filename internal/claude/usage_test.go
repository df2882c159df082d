// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUsageAccumulator_Defaults(t *testing.T) {
	u := NewUsageAccumulator()
	snap := u.Snapshot()
	assert.Equal(t, DefaultContextWindow, snap.ContextWindow)
	assert.Zero(t, snap.InputTokens)
	assert.Zero(t, snap.ContextPercent)
}

func TestUsageAccumulator_MessageDeltaFoldsOnlyGrowth(t *testing.T) {
	u := NewUsageAccumulator()
	u.BeginMessage("claude-sonnet", TokenUsage{InputTokens: 100, OutputTokens: 1, CacheReadInputTokens: 50})

	u.UpdateMessage(TokenUsage{OutputTokens: 10})
	u.UpdateMessage(TokenUsage{OutputTokens: 25})
	// A stale or repeated report never lowers the count.
	u.UpdateMessage(TokenUsage{OutputTokens: 20})

	snap := u.Snapshot()
	assert.Equal(t, "claude-sonnet", snap.Model)
	assert.Equal(t, int64(100), snap.InputTokens)
	assert.Equal(t, int64(25), snap.OutputTokens)
	assert.Equal(t, int64(50), snap.CacheReadTokens)
	assert.Equal(t, 175, snap.ContextTokens)
}

func TestUsageAccumulator_ContextPercent(t *testing.T) {
	u := NewUsageAccumulator()
	u.BeginMessage("", TokenUsage{InputTokens: 1000, CacheCreationInputTokens: 2000, CacheReadInputTokens: 2990})
	u.UpdateMessage(TokenUsage{OutputTokens: 10})
	// 6000 / 200000 = 3%
	assert.Equal(t, 3, u.ContextPercent())

	u.ApplyResult(0.01, 1000000)
	// 6000 / 1000000 = 0.6% rounds to 1
	assert.Equal(t, 1, u.ContextPercent())

	// A zero window leaves the reported window in place.
	u.ApplyResult(0.02, 0)
	assert.Equal(t, 1000000, u.Snapshot().ContextWindow)
}

func TestUsageAccumulator_ContextTracksLatestCall(t *testing.T) {
	u := NewUsageAccumulator()
	u.BeginMessage("", TokenUsage{InputTokens: 10000})
	u.BeginMessage("", TokenUsage{InputTokens: 3000})

	snap := u.Snapshot()
	assert.Equal(t, int64(13000), snap.InputTokens)
	assert.Equal(t, 3000, snap.ContextTokens)
}

func TestUsageAccumulator_CountersMonotonic(t *testing.T) {
	u := NewUsageAccumulator()
	var prev UsageSnapshot

	steps := []func(){
		func() { u.BeginMessage("m", TokenUsage{InputTokens: 5, OutputTokens: 1}) },
		func() { u.UpdateMessage(TokenUsage{OutputTokens: 7}) },
		func() { u.ApplyResult(0.5, 0) },
		func() { u.BeginMessage("m", TokenUsage{InputTokens: 3, CacheReadInputTokens: 9}) },
		func() { u.UpdateMessage(TokenUsage{OutputTokens: 2}) },
		func() { u.ApplyResult(0.25, 0) }, // lower cumulative cost must not decrease
		func() { u.ApplyResult(0.75, 0) },
	}
	for i, step := range steps {
		step()
		snap := u.Snapshot()
		assert.GreaterOrEqual(t, snap.InputTokens, prev.InputTokens, "step %d", i)
		assert.GreaterOrEqual(t, snap.OutputTokens, prev.OutputTokens, "step %d", i)
		assert.GreaterOrEqual(t, snap.CacheReadTokens, prev.CacheReadTokens, "step %d", i)
		assert.GreaterOrEqual(t, snap.CacheCreationTokens, prev.CacheCreationTokens, "step %d", i)
		assert.GreaterOrEqual(t, snap.CostUSD, prev.CostUSD, "step %d", i)
		assert.GreaterOrEqual(t, snap.Turns, prev.Turns, "step %d", i)
		prev = snap
	}
	assert.Equal(t, int64(3), prev.Turns)
	assert.InDelta(t, 0.75, prev.CostUSD, 1e-9)
	assert.Equal(t, int64(9), prev.OutputTokens)
}

func TestUsageAccumulator_Reset(t *testing.T) {
	u := NewUsageAccumulator()
	u.BeginMessage("m", TokenUsage{InputTokens: 5, OutputTokens: 1})
	u.ApplyResult(1.5, 500000)

	u.Reset()
	snap := u.Snapshot()
	assert.Equal(t, UsageSnapshot{ContextWindow: DefaultContextWindow}, snap)
}
