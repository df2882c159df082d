// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wingedpig/warden/pkg/client"
)

func newRespondCmd(opts *globalOptions) *cobra.Command {
	var (
		allow        bool
		deny         bool
		reason       string
		pattern      string
		scope        string
		push         bool
		answers      []string
		updatedInput string
	)

	cmd := &cobra.Command{
		Use:   "respond <request-id>",
		Short: "Answer a pending approval request",
		Long: `Answer a pending approval request.

Examples:
  warden respond 3f1c... --allow
  warden respond 3f1c... --allow --pattern 'Bash(make:*)' --scope session
  warden respond 3f1c... --deny --reason "use the staging database"
  warden respond 3f1c... --allow --answer "Which database?=postgres"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := client.Resolution{
				Approved: allow && !deny,
				Reason:   reason,
				Pattern:  pattern,
				Scope:    scope,
				Push:     push,
			}
			if len(answers) > 0 {
				res.Answers = make(map[string]string, len(answers))
				for _, a := range answers {
					q, v, ok := strings.Cut(a, "=")
					if !ok {
						return fmt.Errorf("invalid --answer %q (want question=answer)", a)
					}
					res.Answers[q] = v
				}
			}
			if updatedInput != "" {
				if !json.Valid([]byte(updatedInput)) {
					return fmt.Errorf("--input is not valid JSON")
				}
				res.UpdatedInput = json.RawMessage(updatedInput)
			}

			result, err := opts.client().Approvals.Respond(cmd.Context(), args[0], res)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, result)
			}
			switch result.Status {
			case client.ActionResolved:
				if result.Action != nil && result.Action.Resolution != nil && !sameDecision(*result.Action.Resolution, res) {
					fmt.Fprintf(out, "%s was already answered\n", result.RequestID)
					return nil
				}
				verb := "Denied"
				if res.Approved {
					verb = "Approved"
				}
				fmt.Fprintf(out, "%s %s\n", verb, result.RequestID)
			case "unknown":
				return fmt.Errorf("no pending request %s", args[0])
			default:
				fmt.Fprintf(out, "%s: %s\n", result.RequestID, result.Status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&allow, "allow", false, "Approve the request")
	cmd.Flags().BoolVar(&deny, "deny", false, "Deny the request")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason passed back to the agent")
	cmd.Flags().StringVar(&pattern, "pattern", "", "Remember this permission rule, e.g. 'Bash(make:*)'")
	cmd.Flags().StringVar(&scope, "scope", client.ScopeOnce, "Rule scope: session or always")
	cmd.Flags().BoolVar(&push, "push", false, "Push after committing (commit requests)")
	cmd.Flags().StringArrayVar(&answers, "answer", nil, "Question answer as question=answer (repeatable)")
	cmd.Flags().StringVar(&updatedInput, "input", "", "Replacement tool input as JSON")
	cmd.MarkFlagsMutuallyExclusive("allow", "deny")
	cmd.MarkFlagsOneRequired("allow", "deny")
	return cmd
}

func sameDecision(a, b client.Resolution) bool {
	return a.Approved == b.Approved && a.Reason == b.Reason
}
