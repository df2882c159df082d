// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// EventClient provides access to event history.
type EventClient struct {
	c *Client
}

// ListOptions filters an event listing. Types accept the bus wildcard
// forms "session.*" and "*.expired".
type ListOptions struct {
	Limit   int // newest Limit events
	Types   []string
	Session string

	// After returns only events published after the one with this Seq,
	// for polling without gaps.
	After uint64

	Since time.Time
	Until time.Time
}

// List returns the caller's events matching the given options.
func (e *EventClient) List(ctx context.Context, opts *ListOptions) ([]Event, error) {
	path := "/api/v1/events"
	if opts != nil {
		params := url.Values{}
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
		for _, t := range opts.Types {
			params.Add("type", t)
		}
		if opts.Session != "" {
			params.Set("session", opts.Session)
		}
		if opts.After > 0 {
			params.Set("after", strconv.FormatUint(opts.After, 10))
		}
		if !opts.Since.IsZero() {
			params.Set("since", opts.Since.Format(time.RFC3339))
		}
		if !opts.Until.IsZero() {
			params.Set("until", opts.Until.Format(time.RFC3339))
		}
		if len(params) > 0 {
			path += "?" + params.Encode()
		}
	}

	data, err := e.c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var events []Event
	if err := decode(data, &events, "events"); err != nil {
		return nil, err
	}
	return events, nil
}
