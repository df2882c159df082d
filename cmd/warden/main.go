// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// warden runs the session supervisor and talks to a running instance.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wingedpig/warden/pkg/client"
)

var version = "0.1.0"

const defaultAPIURL = "http://127.0.0.1:7420"

// Environment variables read by the user-facing commands.
const (
	envAPI   = "WARDEN_API"
	envToken = "WARDEN_TOKEN"
)

// exitError ends the process with a specific status and no usage dump.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	apiURL     string
	token      string
	jsonOutput bool
}

func (o *globalOptions) client() *client.Client {
	opts := []client.Option{}
	if o.token != "" {
		opts = append(opts, client.WithToken(o.token))
	}
	return client.New(o.apiURL, opts...)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "warden",
		Short: "Supervise agent sessions and gate their tool use",
		Long: `warden runs one agent process per chat session, streams its output to
connected clients and holds risky tool calls until a human approves them.

Run "warden serve" to start the server. The other commands talk to a running
server at --url (or $WARDEN_API).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	apiURL := os.Getenv(envAPI)
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "url", strings.TrimSuffix(apiURL, "/"), "Warden API URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv(envToken), "Bearer token")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Print JSON output")

	root.AddCommand(
		newServeCmd(),
		newApproveCmd(),
		newPendingCmd(opts),
		newRespondCmd(opts),
		newSessionsCmd(opts),
		newEventsCmd(opts),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(os.Stderr, ee.msg)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// printJSON outputs any value as formatted JSON
func printJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(out))
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the warden version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "warden %s\n", version)
		},
	}
}
