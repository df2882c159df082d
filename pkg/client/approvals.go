// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"net/url"
)

// ApprovalClient answers approval requests.
type ApprovalClient struct {
	c *Client
}

// Respond resolves a pending request. Answering a request that is unknown
// or already answered is not an error; inspect RespondResult.Status.
func (a *ApprovalClient) Respond(ctx context.Context, requestID string, res Resolution) (*RespondResult, error) {
	data, err := a.c.postJSON(ctx, "/api/v1/approvals/"+url.PathEscape(requestID)+"/respond", res)
	if err != nil {
		return nil, err
	}
	var result RespondResult
	if err := decode(data, &result, "respond result"); err != nil {
		return nil, err
	}
	return &result, nil
}
