// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"math"
	"sync"
)

// DefaultContextWindow is used until the agent reports a model-specific window.
const DefaultContextWindow = 200000

// TokenUsage is the usage block reported by the Messages API.
type TokenUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// Total sums every token class.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
}

// UsageSnapshot is a point-in-time copy of a session's usage counters.
type UsageSnapshot struct {
	Model               string  `json:"model,omitempty"`
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CacheReadTokens     int64   `json:"cache_read_tokens"`
	CacheCreationTokens int64   `json:"cache_creation_tokens"`
	CostUSD             float64 `json:"cost_usd"`
	Turns               int64   `json:"turns"`
	ContextTokens       int     `json:"context_tokens"`
	ContextWindow       int     `json:"context_window"`
	ContextPercent      int     `json:"context_percent"`
}

// UsageAccumulator folds protocol usage reports into running totals for one
// process lifetime. Cumulative counters never decrease until Reset.
type UsageAccumulator struct {
	mu sync.Mutex

	model         string
	input         int64
	output        int64
	cacheRead     int64
	cacheCreation int64
	costUSD       float64
	turns         int64

	// Output tokens already folded for the message in flight. message_delta
	// reports output as a running total for the message.
	messageOutput int

	context       TokenUsage
	contextWindow int
}

// NewUsageAccumulator returns an accumulator with the default context window.
func NewUsageAccumulator() *UsageAccumulator {
	return &UsageAccumulator{contextWindow: DefaultContextWindow}
}

// BeginMessage records the usage reported when an API call starts.
func (u *UsageAccumulator) BeginMessage(model string, usage TokenUsage) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if model != "" {
		u.model = model
	}
	u.input += int64(max(usage.InputTokens, 0))
	u.cacheRead += int64(max(usage.CacheReadInputTokens, 0))
	u.cacheCreation += int64(max(usage.CacheCreationInputTokens, 0))
	u.output += int64(max(usage.OutputTokens, 0))
	u.messageOutput = max(usage.OutputTokens, 0)
	u.context = usage
}

// UpdateMessage folds a message_delta usage report. Only growth in output
// tokens relative to what this message already reported is counted.
func (u *UsageAccumulator) UpdateMessage(usage TokenUsage) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if usage.OutputTokens > u.messageOutput {
		u.output += int64(usage.OutputTokens - u.messageOutput)
		u.messageOutput = usage.OutputTokens
		u.context.OutputTokens = usage.OutputTokens
	}
}

// ApplyResult folds the terminal result of a turn. costUSD is cumulative for
// the process. A window of zero leaves the current context window unchanged.
func (u *UsageAccumulator) ApplyResult(costUSD float64, window int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.turns++
	u.costUSD = math.Max(u.costUSD, costUSD)
	if window > 0 {
		u.contextWindow = window
	}
	u.messageOutput = 0
}

// ContextPercent returns the share of the context window used by the latest
// API call, rounded to the nearest percent.
func (u *UsageAccumulator) ContextPercent() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.contextPercentLocked()
}

func (u *UsageAccumulator) contextPercentLocked() int {
	if u.contextWindow <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(u.context.Total()) / float64(u.contextWindow)))
}

// Snapshot returns a copy of the current counters.
func (u *UsageAccumulator) Snapshot() UsageSnapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	return UsageSnapshot{
		Model:               u.model,
		InputTokens:         u.input,
		OutputTokens:        u.output,
		CacheReadTokens:     u.cacheRead,
		CacheCreationTokens: u.cacheCreation,
		CostUSD:             u.costUSD,
		Turns:               u.turns,
		ContextTokens:       u.context.Total(),
		ContextWindow:       u.contextWindow,
		ContextPercent:      u.contextPercentLocked(),
	}
}

// Reset zeroes every counter. Called when a process is respawned.
func (u *UsageAccumulator) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.model = ""
	u.input, u.output, u.cacheRead, u.cacheCreation, u.turns = 0, 0, 0, 0, 0
	u.costUSD = 0
	u.messageOutput = 0
	u.context = TokenUsage{}
	u.contextWindow = DefaultContextWindow
}
