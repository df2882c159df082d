// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"encoding/json"
	"fmt"
)

// EnvelopeKind classifies one line of the agent's stream-json output.
type EnvelopeKind int

const (
	EnvelopeUnknown EnvelopeKind = iota
	EnvelopeInit
	EnvelopeSystem
	EnvelopeTurnBegin
	EnvelopeBlockStart
	EnvelopeBlockDelta
	EnvelopeBlockStop
	EnvelopeTurnDelta
	EnvelopeTurnStop
	EnvelopeResult
	EnvelopeAssistant
	EnvelopeUser
	EnvelopeControlRequest
	EnvelopeControlResponse
)

var envelopeKindNames = [...]string{
	EnvelopeUnknown:         "unknown",
	EnvelopeInit:            "init",
	EnvelopeSystem:          "system",
	EnvelopeTurnBegin:       "turn_begin",
	EnvelopeBlockStart:      "block_start",
	EnvelopeBlockDelta:      "block_delta",
	EnvelopeBlockStop:       "block_stop",
	EnvelopeTurnDelta:       "turn_delta",
	EnvelopeTurnStop:        "turn_stop",
	EnvelopeResult:          "result",
	EnvelopeAssistant:       "assistant",
	EnvelopeUser:            "user",
	EnvelopeControlRequest:  "control_request",
	EnvelopeControlResponse: "control_response",
}

func (k EnvelopeKind) String() string {
	if int(k) < len(envelopeKindNames) {
		return envelopeKindNames[k]
	}
	return fmt.Sprintf("EnvelopeKind(%d)", int(k))
}

// BlockType is the type of a streamed content block.
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockToolUse  BlockType = "tool_use"
	BlockThinking BlockType = "thinking"
)

// DeltaType is the type of a content_block_delta payload.
type DeltaType string

const (
	DeltaText      DeltaType = "text_delta"
	DeltaInputJSON DeltaType = "input_json_delta"
)

// ContentBlock mirrors a Messages API content block.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Source    *ImageSource    `json:"source,omitempty"`
}

// ImageSource is the inline source of an image content block.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ModelUsage is one entry of a result's per-model usage breakdown.
type ModelUsage struct {
	InputTokens   int     `json:"inputTokens"`
	OutputTokens  int     `json:"outputTokens"`
	CostUSD       float64 `json:"costUSD"`
	ContextWindow int     `json:"contextWindow"`
}

// ControlRequest is the body of a control_request sent by the agent.
type ControlRequest struct {
	Subtype   string          `json:"subtype"`
	ToolName  string          `json:"tool_name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
}

// Envelope is the decoded form of one output line. Only the fields relevant
// to Kind are populated.
type Envelope struct {
	Kind EnvelopeKind

	SessionID     string
	Model         string
	Subtype       string
	SlashCommands []string

	Usage      TokenUsage
	HasUsage   bool
	StopReason string

	BlockType  BlockType
	BlockIndex int
	ToolID     string
	ToolName   string
	DeltaType  DeltaType
	Text       string
	JSON       string

	Content []ContentBlock

	IsError    bool
	Errors     []string
	CostUSD    float64
	ModelUsage map[string]ModelUsage

	RequestID string
	Request   ControlRequest
}

// wireLine is the union of every top-level field the decoder inspects.
type wireLine struct {
	Type          string                `json:"type"`
	Subtype       string                `json:"subtype,omitempty"`
	SessionID     string                `json:"session_id,omitempty"`
	Model         string                `json:"model,omitempty"`
	SlashCommands []string              `json:"slash_commands,omitempty"`
	Message       json.RawMessage       `json:"message,omitempty"`
	Event         json.RawMessage       `json:"event,omitempty"`
	IsError       bool                  `json:"is_error,omitempty"`
	Errors        []string              `json:"errors,omitempty"`
	Result        string                `json:"result,omitempty"`
	Cost          float64               `json:"total_cost_usd,omitempty"`
	Usage         *TokenUsage           `json:"usage,omitempty"`
	ModelUsage    map[string]ModelUsage `json:"modelUsage,omitempty"`
	RequestID     string                `json:"request_id,omitempty"`
	Request       json.RawMessage       `json:"request,omitempty"`
}

// wireStreamEvent is the inner event of a stream_event line.
type wireStreamEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	Message      json.RawMessage `json:"message,omitempty"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"content_block,omitempty"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *TokenUsage `json:"usage,omitempty"`
}

type wireMessage struct {
	Model   string         `json:"model,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
	Usage   *TokenUsage    `json:"usage,omitempty"`
}

// DecodeEnvelope classifies one complete line. It returns an error only when
// the line is not JSON; unrecognised but well-formed lines decode as
// EnvelopeUnknown.
func DecodeEnvelope(line []byte) (Envelope, error) {
	var w wireLine
	if err := json.Unmarshal(line, &w); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	env := Envelope{SessionID: w.SessionID}

	switch w.Type {
	case "system":
		env.Subtype = w.Subtype
		if w.Subtype == "init" {
			env.Kind = EnvelopeInit
			env.Model = w.Model
			env.SlashCommands = w.SlashCommands
		} else {
			env.Kind = EnvelopeSystem
		}

	case "stream_event":
		if err := decodeStreamEvent(w.Event, &env); err != nil {
			return Envelope{}, err
		}

	case "assistant", "user":
		env.Kind = EnvelopeAssistant
		if w.Type == "user" {
			env.Kind = EnvelopeUser
		}
		if len(w.Message) > 0 {
			var msg wireMessage
			if err := json.Unmarshal(w.Message, &msg); err != nil {
				return Envelope{}, fmt.Errorf("decode %s message: %w", w.Type, err)
			}
			env.Model = msg.Model
			env.Content = msg.Content
		}

	case "result":
		env.Kind = EnvelopeResult
		env.Subtype = w.Subtype
		env.IsError = w.IsError
		env.Errors = w.Errors
		if w.IsError && len(w.Errors) == 0 && w.Result != "" {
			env.Errors = []string{w.Result}
		}
		env.CostUSD = w.Cost
		env.ModelUsage = w.ModelUsage
		if w.Usage != nil {
			env.Usage = *w.Usage
			env.HasUsage = true
		}

	case "control_request":
		env.Kind = EnvelopeControlRequest
		env.RequestID = w.RequestID
		if len(w.Request) > 0 {
			if err := json.Unmarshal(w.Request, &env.Request); err != nil {
				return Envelope{}, fmt.Errorf("decode control request: %w", err)
			}
		}

	case "control_response":
		env.Kind = EnvelopeControlResponse

	default:
		env.Kind = EnvelopeUnknown
	}
	return env, nil
}

func decodeStreamEvent(raw json.RawMessage, env *Envelope) error {
	if len(raw) == 0 {
		env.Kind = EnvelopeUnknown
		return nil
	}
	var ev wireStreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("decode stream event: %w", err)
	}

	env.BlockIndex = ev.Index
	switch ev.Type {
	case "message_start":
		env.Kind = EnvelopeTurnBegin
		if len(ev.Message) > 0 {
			var msg wireMessage
			if err := json.Unmarshal(ev.Message, &msg); err != nil {
				return fmt.Errorf("decode message_start: %w", err)
			}
			env.Model = msg.Model
			if msg.Usage != nil {
				env.Usage = *msg.Usage
				env.HasUsage = true
			}
		}

	case "content_block_start":
		env.Kind = EnvelopeBlockStart
		if ev.ContentBlock != nil {
			env.BlockType = BlockType(ev.ContentBlock.Type)
			env.ToolID = ev.ContentBlock.ID
			env.ToolName = ev.ContentBlock.Name
		}

	case "content_block_delta":
		env.Kind = EnvelopeBlockDelta
		if ev.Delta != nil {
			env.DeltaType = DeltaType(ev.Delta.Type)
			env.Text = ev.Delta.Text
			env.JSON = ev.Delta.PartialJSON
		}

	case "content_block_stop":
		env.Kind = EnvelopeBlockStop

	case "message_delta":
		env.Kind = EnvelopeTurnDelta
		if ev.Delta != nil {
			env.StopReason = ev.Delta.StopReason
		}
		if ev.Usage != nil {
			env.Usage = *ev.Usage
			env.HasUsage = true
		}

	case "message_stop":
		env.Kind = EnvelopeTurnStop

	default:
		env.Kind = EnvelopeUnknown
	}
	return nil
}

// ContextWindow returns the largest context window reported in a result's
// model usage, or zero when none was reported.
func (e Envelope) ContextWindow() int {
	window := 0
	for _, mu := range e.ModelUsage {
		if mu.ContextWindow > window {
			window = mu.ContextWindow
		}
	}
	return window
}
