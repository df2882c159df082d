// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// awaitSlack is added to the HTTP timeout of an await so the server's own
// timeout answers first.
const awaitSlack = 10 * time.Second

// HelperClient files approval requests on behalf of a session's process.
// It requires [WithHelperToken].
type HelperClient struct {
	c *Client
}

// Submit queues req and returns its request id.
func (h *HelperClient) Submit(ctx context.Context, req ApprovalRequest) (string, error) {
	data, err := h.c.postJSON(ctx, "/api/v1/helper/approvals", req)
	if err != nil {
		return "", err
	}
	var resp struct {
		RequestID string `json:"requestId"`
	}
	if err := decode(data, &resp, "submit response"); err != nil {
		return "", err
	}
	return resp.RequestID, nil
}

// Await blocks until the request is answered or timeout passes. The server
// caps the wait and denies requests that time out. A zero timeout uses the
// server default.
func (h *HelperClient) Await(ctx context.Context, requestID string, timeout time.Duration) (*Resolution, error) {
	path := "/api/v1/helper/approvals/" + url.PathEscape(requestID)
	if timeout > 0 {
		path += "?timeout=" + url.QueryEscape(timeout.String())
	}

	hc := *h.c.httpClient
	if hc.Timeout > 0 {
		wait := timeout
		if wait <= 0 {
			wait = 2 * time.Minute
		}
		hc.Timeout += wait + awaitSlack
	}

	data, err := h.c.do(ctx, &hc, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var res Resolution
	if err := decode(data, &res, "resolution"); err != nil {
		return nil, err
	}
	return &res, nil
}
