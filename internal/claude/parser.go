// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
)

// ParseState is the parser's position within the current content block.
type ParseState int

const (
	StateIdle ParseState = iota
	StateStreamingText
	StateAccumulatingToolInput
)

func (s ParseState) String() string {
	switch s {
	case StateStreamingText:
		return "streaming_text"
	case StateAccumulatingToolInput:
		return "accumulating_tool_input"
	default:
		return "idle"
	}
}

// Tool names with structured side events.
const (
	toolTodoWrite = "TodoWrite"
	toolTask      = "Task"
	toolAgent     = "Agent"
)

// Parser turns the agent's raw stdout bytes into normalized events. A Parser
// is owned by one process and is not safe for concurrent use.
type Parser struct {
	sessionID string
	usage     *UsageAccumulator
	log       *slog.Logger
	now       func() time.Time

	buf []byte

	state     ParseState
	text      strings.Builder
	toolName  string
	toolID    string
	toolInput strings.Builder
	agentType string
	thinking  bool

	agentSessionID string
	model          string

	// Set once any stream_event arrives. Full assistant messages are only
	// expanded into events when the agent is not streaming partials.
	streamed bool
	// Whether the current turn reported usage through message_start.
	turnUsage bool
}

// NewParser returns a parser for one process lifetime of sessionID.
func NewParser(sessionID string, usage *UsageAccumulator) *Parser {
	if usage == nil {
		usage = NewUsageAccumulator()
	}
	return &Parser{
		sessionID: sessionID,
		usage:     usage,
		log:       slog.With("session", sessionID),
		now:       time.Now,
	}
}

// State returns the current sub-state.
func (p *Parser) State() ParseState { return p.state }

// AgentSessionID returns the agent's own session handle, once announced.
func (p *Parser) AgentSessionID() string { return p.agentSessionID }

// Model returns the most recently declared model.
func (p *Parser) Model() string { return p.model }

// Thinking reports whether the agent is working between visible output.
func (p *Parser) Thinking() bool { return p.thinking }

// AgentType returns the sub-agent type while a sub-agent tool is active.
func (p *Parser) AgentType() string { return p.agentType }

// Feed consumes a chunk of output. Incomplete trailing lines are held until
// the next call, so any split of the stream yields the same events.
func (p *Parser) Feed(data []byte) []Event {
	p.buf = append(p.buf, data...)

	var events []Event
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := p.buf[:i]
		events = append(events, p.handleLine(line)...)
		p.buf = p.buf[i+1:]
	}

	// Compact so the backing array does not grow without bound.
	if len(p.buf) == 0 {
		p.buf = nil
	} else {
		p.buf = append([]byte(nil), p.buf...)
	}
	return events
}

// Flush parses any trailing fragment left when the stream ends.
func (p *Parser) Flush() []Event {
	if len(p.buf) == 0 {
		return nil
	}
	line := p.buf
	p.buf = nil
	return p.handleLine(line)
}

// Interrupt finalizes any streaming text as an interrupted message, drops a
// partially accumulated tool call, and clears the thinking indicator.
func (p *Parser) Interrupt() []Event {
	var events []Event
	if p.text.Len() > 0 {
		ev := p.event(EventMessageComplete)
		ev.Text = p.text.String()
		ev.Interrupted = true
		events = append(events, ev)
	}
	p.resetBlock()
	p.agentType = ""
	return append(events, p.forceThinking(false))
}

func (p *Parser) handleLine(line []byte) []Event {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	env, err := DecodeEnvelope(line)
	if err != nil {
		p.log.Debug("claude: non-protocol output", "error", err)
		ev := p.event(EventRaw)
		ev.Text = string(line)
		return []Event{ev}
	}
	return p.handle(env, line)
}

func (p *Parser) handle(env Envelope, line []byte) []Event {
	var events []Event

	switch env.Kind {
	case EnvelopeInit:
		if p.agentSessionID == "" {
			p.agentSessionID = env.SessionID
		}
		if env.Model != "" {
			p.model = env.Model
		}
		ev := p.event(EventSessionInit)
		ev.AgentSessionID = p.agentSessionID
		ev.Model = p.model
		ev.SlashCommands = env.SlashCommands
		events = append(events, ev)

	case EnvelopeSystem:
		p.log.Debug("claude: system event", "subtype", env.Subtype)

	case EnvelopeTurnBegin:
		p.streamed = true
		if env.Model != "" {
			p.model = env.Model
		}
		events = p.appendThinking(events, false)
		p.usage.BeginMessage(env.Model, env.Usage)
		p.turnUsage = true
		ev := p.event(EventMessageStarted)
		ev.Model = p.model
		events = append(events, ev, p.usageEvent())

	case EnvelopeBlockStart:
		p.streamed = true
		switch env.BlockType {
		case BlockToolUse:
			events = append(events, p.flushText()...)
			p.resetBlock()
			p.state = StateAccumulatingToolInput
			p.toolName = env.ToolName
			p.toolID = env.ToolID
			ev := p.event(EventToolStarted)
			ev.ToolName = env.ToolName
			ev.ToolUseID = env.ToolID
			events = append(events, ev)
			events = p.appendThinking(events, true)
		case BlockText:
			events = append(events, p.flushText()...)
			p.resetBlock()
			p.state = StateStreamingText
			p.agentType = ""
			events = p.appendThinking(events, false)
		}

	case EnvelopeBlockDelta:
		p.streamed = true
		switch env.DeltaType {
		case DeltaText:
			if env.Text == "" {
				break
			}
			p.state = StateStreamingText
			p.text.WriteString(env.Text)
			ev := p.event(EventTextDelta)
			ev.Text = env.Text
			events = append(events, ev)
		case DeltaInputJSON:
			if p.state == StateAccumulatingToolInput {
				p.toolInput.WriteString(env.JSON)
			}
		}

	case EnvelopeBlockStop:
		p.streamed = true
		switch p.state {
		case StateStreamingText:
			events = append(events, p.flushText()...)
		case StateAccumulatingToolInput:
			events = append(events, p.finishTool()...)
		}
		p.resetBlock()

	case EnvelopeTurnDelta:
		p.streamed = true
		if env.StopReason == "tool_use" {
			events = append(events, p.flushText()...)
			events = append(events, p.forceThinking(true))
		}
		if env.HasUsage {
			p.usage.UpdateMessage(env.Usage)
			events = append(events, p.usageEvent())
		}

	case EnvelopeTurnStop:
		p.streamed = true

	case EnvelopeResult:
		events = append(events, p.flushText()...)
		p.resetBlock()
		p.agentType = ""
		if p.agentSessionID == "" && env.SessionID != "" && !env.IsError {
			p.agentSessionID = env.SessionID
		}
		if !p.turnUsage && env.HasUsage {
			p.usage.BeginMessage(p.model, env.Usage)
		}
		p.turnUsage = false
		p.usage.ApplyResult(env.CostUSD, env.ContextWindow())
		events = append(events, p.usageEvent(), p.forceThinking(false))
		ev := p.event(EventTurnEnded)
		ev.StopReason = env.Subtype
		ev.IsError = env.IsError
		ev.Errors = env.Errors
		events = append(events, ev)

	case EnvelopeAssistant:
		if env.Model != "" {
			p.model = env.Model
		}
		if !p.streamed {
			events = append(events, p.expandAssistant(env.Content)...)
		}

	case EnvelopeUser:
		for _, block := range env.Content {
			if block.Type != "tool_result" {
				continue
			}
			ev := p.event(EventToolResult)
			ev.ToolUseID = block.ToolUseID
			ev.Text = toolResultText(block.Content)
			ev.IsError = block.IsError
			events = append(events, ev)
		}

	case EnvelopeControlRequest:
		if env.Request.Subtype != "can_use_tool" {
			p.log.Debug("claude: ignoring control request", "subtype", env.Request.Subtype)
			break
		}
		ev := p.event(EventPermissionRequest)
		ev.RequestID = env.RequestID
		ev.ToolName = env.Request.ToolName
		ev.ToolUseID = env.Request.ToolUseID
		ev.ToolInput = env.Request.Input
		events = append(events, ev)

	case EnvelopeControlResponse:
		// Acknowledgements of our own control requests.

	default:
		p.log.Debug("claude: unknown envelope", "line", string(line))
		ev := p.event(EventRaw)
		ev.Text = string(line)
		events = append(events, ev)
	}
	return events
}

// expandAssistant produces message and tool events from a complete assistant
// message when partial streaming is unavailable.
func (p *Parser) expandAssistant(blocks []ContentBlock) []Event {
	var events []Event
	for _, block := range blocks {
		switch BlockType(block.Type) {
		case BlockText:
			if block.Text == "" {
				continue
			}
			p.agentType = ""
			ev := p.event(EventMessageComplete)
			ev.Text = block.Text
			events = append(events, ev)
		case BlockToolUse:
			started := p.event(EventToolStarted)
			started.ToolName = block.Name
			started.ToolUseID = block.ID
			events = append(events, started)
			p.toolName = block.Name
			p.toolID = block.ID
			p.toolInput.Write(block.Input)
			events = append(events, p.finishTool()...)
			p.resetBlock()
		}
	}
	return events
}

// flushText emits message_complete for any accumulated text.
func (p *Parser) flushText() []Event {
	if p.text.Len() == 0 {
		return nil
	}
	ev := p.event(EventMessageComplete)
	ev.Text = p.text.String()
	p.text.Reset()
	if p.state == StateStreamingText {
		p.state = StateIdle
	}
	return []Event{ev}
}

// finishTool closes the tool call being accumulated.
func (p *Parser) finishTool() []Event {
	name, id := p.toolName, p.toolID
	raw := strings.TrimSpace(p.toolInput.String())

	done := p.event(EventToolCompleted)
	done.ToolName = name
	done.ToolUseID = id
	if raw != "" {
		if json.Valid([]byte(raw)) {
			done.ToolInput = json.RawMessage(raw)
		} else {
			p.log.Warn("claude: malformed tool input", "tool", name, "tool_use_id", id)
			return []Event{done}
		}
	}
	events := []Event{done}

	switch name {
	case toolTodoWrite:
		var input struct {
			Todos []Todo `json:"todos"`
		}
		if err := json.Unmarshal(done.ToolInput, &input); err != nil {
			p.log.Warn("claude: unreadable todo list", "tool_use_id", id, "error", err)
			break
		}
		ev := p.event(EventTodosReplaced)
		ev.ToolUseID = id
		ev.Todos = input.Todos
		if ev.Todos == nil {
			ev.Todos = []Todo{}
		}
		events = append(events, ev)

	case toolTask, toolAgent:
		var input struct {
			SubagentType string `json:"subagent_type"`
		}
		if err := json.Unmarshal(done.ToolInput, &input); err != nil {
			p.log.Warn("claude: unreadable sub-agent input", "tool_use_id", id, "error", err)
			break
		}
		p.agentType = input.SubagentType
		ev := p.event(EventSubagentStarted)
		ev.ToolUseID = id
		ev.AgentType = input.SubagentType
		events = append(events, ev)
	}
	return events
}

func (p *Parser) resetBlock() {
	p.state = StateIdle
	p.text.Reset()
	p.toolName = ""
	p.toolID = ""
	p.toolInput.Reset()
}

// appendThinking records the thinking indicator and emits it only on change.
func (p *Parser) appendThinking(events []Event, thinking bool) []Event {
	if p.thinking == thinking {
		return events
	}
	return append(events, p.forceThinking(thinking))
}

func (p *Parser) forceThinking(thinking bool) Event {
	p.thinking = thinking
	ev := p.event(EventThinking)
	ev.Thinking = boolPtr(thinking)
	return ev
}

func (p *Parser) usageEvent() Event {
	snap := p.usage.Snapshot()
	ev := p.event(EventUsageUpdated)
	ev.Usage = &snap
	return ev
}

func (p *Parser) event(kind EventKind) Event {
	return Event{Kind: kind, SessionID: p.sessionID, Timestamp: p.now()}
}

// toolResultText flattens a tool_result content field, which is either a
// string or a list of content blocks.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var blocks []ContentBlock
	if json.Unmarshal(raw, &blocks) == nil {
		var sb strings.Builder
		for _, b := range blocks {
			if b.Type == "text" {
				if sb.Len() > 0 {
					sb.WriteByte('\n')
				}
				sb.WriteString(b.Text)
			}
		}
		return sb.String()
	}
	return string(raw)
}
