// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wingedpig/warden/pkg/client"
)

func newEventsCmd(opts *globalOptions) *cobra.Command {
	var (
		limit   int
		session string
		types   []string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent server events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := opts.client().Events.List(cmd.Context(), &client.ListOptions{
				Limit:   limit,
				Types:   types,
				Session: session,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, events)
			}

			fmt.Fprintf(out, "%-20s %-24s %-36s %s\n", "TIME", "TYPE", "SESSION", "DETAILS")
			fmt.Fprintln(out, strings.Repeat("-", 100))
			for _, evt := range events {
				fmt.Fprintf(out, "%-20s %-24s %-36s %s\n",
					evt.Timestamp.Local().Format("2006-01-02 15:04:05"),
					evt.Type,
					evt.Session,
					eventDetails(evt.Payload),
				)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of events to show")
	cmd.Flags().StringVar(&session, "session", "", "Only events for this session")
	cmd.Flags().StringArrayVar(&types, "type", nil, "Only events of this type (repeatable)")
	return cmd
}

func eventDetails(payload map[string]interface{}) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, payload[k]))
	}
	return strings.Join(parts, " ")
}
