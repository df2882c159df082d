// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client provides a Go client library for the Warden API.
//
// Warden supervises one agent process per chat session and gates the agent's
// tool use behind human approvals. This client library provides typed access
// to the session, approval and event endpoints, plus the helper endpoints
// that satellite processes running inside a session use.
//
// # Getting Started
//
// Create a client pointing to your Warden server:
//
//	c := client.New("http://localhost:7420", client.WithToken(token))
//
//	sess, err := c.Sessions.Create(ctx, client.CreateSessionRequest{WorkDir: "/src/app"})
//	err = c.Sessions.Send(ctx, sess.ID, "run the tests", nil)
//
//	pending, err := c.Sessions.Approvals(ctx, sess.ID)
//	_, err = c.Approvals.Respond(ctx, pending[0].RequestID, client.Resolution{Approved: true})
//
// # Satellite Helpers
//
// Processes started by the agent inherit WARDEN_URL, WARDEN_SESSION_ID and
// WARDEN_HELPER_TOKEN. [FromEnv] builds a client from them:
//
//	c, sessionID, err := client.FromEnv()
//	id, err := c.Helper.Submit(ctx, client.ApprovalRequest{SessionID: sessionID, Kind: client.KindCommit})
//	res, err := c.Helper.Await(ctx, id, 2*time.Minute)
//
// # Error Handling
//
// API errors are returned as *APIError values, which include an error code
// and message:
//
//	_, err := c.Sessions.Get(ctx, "unknown")
//	if client.IsCode(err, client.CodeNotFound) {
//	    ...
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Environment variables the server exports to agent processes.
const (
	EnvURL         = "WARDEN_URL"
	EnvSessionID   = "WARDEN_SESSION_ID"
	EnvHelperToken = "WARDEN_HELPER_TOKEN"
)

// HelperTokenHeader carries a satellite helper's token.
const HelperTokenHeader = "X-Warden-Helper-Token"

// Client is a Warden API client.
//
// The Client is safe for concurrent use by multiple goroutines.
type Client struct {
	baseURL     string
	version     string
	token       string
	helperToken string
	httpClient  *http.Client

	// Sessions manages sessions and their processes.
	Sessions *SessionClient

	// Approvals answers pending approval requests.
	Approvals *ApprovalClient

	// Helper files and awaits approvals on behalf of a session's process.
	Helper *HelperClient

	// Events reads the server's event history.
	Events *EventClient
}

// Option configures a [Client].
type Option func(*Client)

// New creates a new Warden API client with the given base URL and options.
//
// By default, the client uses the latest API version ([LatestVersion]) and
// a 30-second HTTP timeout.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		version: LatestVersion,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Sessions = &SessionClient{c: c}
	c.Approvals = &ApprovalClient{c: c}
	c.Helper = &HelperClient{c: c}
	c.Events = &EventClient{c: c}

	return c
}

// FromEnv builds a helper client from the environment of an agent process
// and returns it with the session id it serves.
func FromEnv(opts ...Option) (*Client, string, error) {
	baseURL := os.Getenv(EnvURL)
	sessionID := os.Getenv(EnvSessionID)
	token := os.Getenv(EnvHelperToken)
	if baseURL == "" || sessionID == "" || token == "" {
		return nil, "", fmt.Errorf("%s, %s and %s must be set", EnvURL, EnvSessionID, EnvHelperToken)
	}
	opts = append([]Option{WithHelperToken(token)}, opts...)
	return New(baseURL, opts...), sessionID, nil
}

// WithVersion sets the API version to use for all requests.
func WithVersion(v string) Option {
	return func(c *Client) {
		c.version = v
	}
}

// WithToken sets the bearer token sent with user requests.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHelperToken sets the helper token sent with helper requests.
func WithHelperToken(token string) Option {
	return func(c *Client) {
		c.helperToken = token
	}
}

// WithHTTPClient sets a custom HTTP client for making requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the HTTP client timeout for all requests. Helper awaits
// extend it by their own wait.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// Version returns the API version being used.
func (c *Client) Version() string {
	return c.version
}

// BaseURL returns the base URL of the API.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	data, err := c.get(ctx, "/healthz")
	if err != nil {
		return nil, err
	}
	var h Health
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to parse health: %w", err)
	}
	return &h, nil
}

// apiResponse is the standard API response envelope.
type apiResponse struct {
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error"`
}

// Error codes returned by the server.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeBadRequest   = "BAD_REQUEST"
	CodeConflict     = "CONFLICT"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeInternal     = "INTERNAL_ERROR"
)

// APIError represents an error response from the Warden API.
type APIError struct {
	// Code is a machine-readable error code (e.g., "NOT_FOUND").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details contains additional error information, if available.
	Details map[string]interface{} `json:"details,omitempty"`

	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// IsCode reports whether err is an *APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, c.httpClient, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, c.httpClient, http.MethodPost, path, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, c.httpClient, http.MethodPost, path, bytes.NewReader(data))
}

func (c *Client) delete(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, c.httpClient, http.MethodDelete, path, nil)
}

// do performs an HTTP request and parses the response.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(VersionHeader, c.version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.helperToken != "" {
		req.Header.Set(HelperTokenHeader, c.helperToken)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp)
}

// parseResponse reads and parses an API response.
func (c *Client) parseResponse(resp *http.Response) (json.RawMessage, error) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, &APIError{
				Message:    fmt.Sprintf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
				StatusCode: resp.StatusCode,
			}
		}
		return respBody, nil
	}

	if apiResp.Error != nil {
		apiResp.Error.StatusCode = resp.StatusCode
		return nil, apiResp.Error
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{Message: fmt.Sprintf("request failed with status %d", resp.StatusCode), StatusCode: resp.StatusCode}
	}

	return apiResp.Data, nil
}

// decode unmarshals data into v, naming what in the error.
func decode(data json.RawMessage, v interface{}, what string) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", what, err)
	}
	return nil
}
