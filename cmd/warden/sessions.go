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

func newSessionsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List your sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := opts.client().Sessions.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, sessions)
			}

			sort.Slice(sessions, func(i, j int) bool {
				return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
			})
			fmt.Fprintf(out, "%-36s %-8s %-18s %s\n", "SESSION", "STATUS", "MODE", "WORKDIR")
			fmt.Fprintln(out, strings.Repeat("-", 90))
			for _, s := range sessions {
				fmt.Fprintf(out, "%-36s %-8s %-18s %s\n", s.ID, statusLabel(s), s.Mode, s.WorkDir)
			}
			return nil
		},
	}
}

func statusLabel(s client.Session) string {
	if s.Status == client.StatusError && s.LastError != "" {
		return "error*"
	}
	return s.Status
}
