// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/wingedpig/warden/pkg/client"
)

func newPendingCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending [session-id]",
		Short: "List pending approval requests",
		Long: `List approval requests waiting for an answer, oldest first. Without a
session id, every session you own is checked. Plans are rendered as
markdown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := opts.client()

			var ids []string
			if len(args) == 1 {
				ids = args
			} else {
				sessions, err := c.Sessions.List(ctx)
				if err != nil {
					return err
				}
				for _, s := range sessions {
					ids = append(ids, s.ID)
				}
			}

			actions := []client.Action{}
			for _, id := range ids {
				pending, err := c.Sessions.Approvals(ctx, id)
				if err != nil {
					return err
				}
				actions = append(actions, pending...)
			}
			sort.SliceStable(actions, func(i, j int) bool {
				return actions[i].CreatedAt.Before(actions[j].CreatedAt)
			})

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, actions)
			}
			if len(actions) == 0 {
				fmt.Fprintln(out, "No pending approvals")
				return nil
			}
			now := time.Now()
			for _, a := range actions {
				writeAction(out, a, now)
			}
			return nil
		},
	}
}
