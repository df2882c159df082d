// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/wingedpig/warden/pkg/client"
)

// Exit statuses of the approve command. Agent hooks treat 2 as a block.
const (
	exitAllow = 0
	exitDeny  = 2
)

// hookInput is the subset of a PreToolUse hook event the helper reads.
type hookInput struct {
	SessionID     string          `json:"session_id"`
	HookEventName string          `json:"hook_event_name"`
	ToolName      string          `json:"tool_name"`
	ToolInput     json.RawMessage `json:"tool_input"`
}

// hookOutput is printed for hook callers.
type hookOutput struct {
	HookSpecificOutput hookDecision `json:"hookSpecificOutput"`
}

type hookDecision struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
}

func newApproveCmd() *cobra.Command {
	var (
		kind     string
		toolName string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Ask the session's human for approval (satellite helper)",
		Long: `Submit an approval request for the session this process runs in and wait
for the answer. Reads WARDEN_URL, WARDEN_SESSION_ID and WARDEN_HELPER_TOKEN
from the environment the server gives agent processes.

Stdin is either a PreToolUse hook event, whose tool_name and tool_input are
used, or a JSON payload for --kind plan, question or commit.

Exits 0 when approved and 2 when denied, timed out or unreachable. For
hook events a hookSpecificOutput decision is printed on stdout; otherwise
the resolution is printed as JSON.

  {
    "hooks": {
      "PreToolUse": [{"matcher": "Bash", "hooks": [{"type": "command", "command": "warden approve"}]}]
    }
  }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
			req, hook, err := buildApprovalRequest(input, kind, toolName)
			if err != nil {
				return err
			}

			res := requestApproval(cmd, req, timeout)
			out := cmd.OutOrStdout()
			if hook != nil {
				decision := hookDecision{
					HookEventName:            hook.HookEventName,
					PermissionDecision:       "allow",
					PermissionDecisionReason: res.Reason,
				}
				if decision.HookEventName == "" {
					decision.HookEventName = "PreToolUse"
				}
				if !res.Approved {
					decision.PermissionDecision = "deny"
				}
				if err := printJSON(out, hookOutput{HookSpecificOutput: decision}); err != nil {
					return err
				}
			} else if err := printJSON(out, res); err != nil {
				return err
			}

			if res.Approved {
				return nil
			}
			reason := res.Reason
			if reason == "" {
				reason = "denied"
			}
			return &exitError{code: exitDeny, msg: reason}
		},
	}

	cmd.Flags().StringVar(&kind, "kind", client.KindPermission, "Request kind: permission, plan, question or commit")
	cmd.Flags().StringVar(&toolName, "tool", "", "Tool name when stdin is not a hook event")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait (default: server setting for the kind)")
	return cmd
}

// buildApprovalRequest turns stdin into a request. The returned hook is
// non-nil when stdin was a hook event.
func buildApprovalRequest(input []byte, kind, toolName string) (client.ApprovalRequest, *hookInput, error) {
	req := client.ApprovalRequest{Kind: kind, ToolName: toolName}
	input = bytes.TrimSpace(input)
	if len(input) == 0 {
		return req, nil, nil
	}
	if !json.Valid(input) {
		return req, nil, fmt.Errorf("stdin is not valid JSON")
	}

	var hook hookInput
	if err := json.Unmarshal(input, &hook); err == nil && hook.ToolName != "" {
		req.ToolName = hook.ToolName
		req.Payload = hook.ToolInput
		return req, &hook, nil
	}
	req.Payload = json.RawMessage(input)
	return req, nil, nil
}

// requestApproval submits req and waits. Any failure is a denial so a
// broken link never lets a tool run unreviewed.
func requestApproval(cmd *cobra.Command, req client.ApprovalRequest, timeout time.Duration) client.Resolution {
	c, sessionID, err := client.FromEnv()
	if err != nil {
		return client.Resolution{Reason: err.Error()}
	}
	req.SessionID = sessionID

	ctx := cmd.Context()
	id, err := c.Helper.Submit(ctx, req)
	if err != nil {
		return client.Resolution{Reason: fmt.Sprintf("submit failed: %v", err)}
	}
	res, err := c.Helper.Await(ctx, id, timeout)
	if err != nil {
		return client.Resolution{Reason: fmt.Sprintf("await failed: %v", err)}
	}
	return *res
}
