// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud implements the HTTP client for the legal-assistant
// backend: the streaming chat endpoint, action-outcome reporting, file
// upload, document generation, and conversation CRUD.
//
// All non-streaming responses arrive in a common envelope
// {code, data, msg}; code 1 means success. Streaming responses are raw
// SSE bodies handed to the protocol package untouched.
package cloud

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Configuration constants for the backend API.
const (
	// DefaultBaseURL is the development backend address.
	DefaultBaseURL = "http://localhost:10244"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the retry budget for transient errors on
	// non-streaming requests.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay caps the exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize bounds non-streaming response bodies.
	MaxResponseSize = 10 * 1024 * 1024

	// envelopeOK is the backend's success code.
	envelopeOK = 1
)

// Backend endpoint paths.
const (
	pathChatStream       = "/admin-api/lawyer-ai/chat/stream"
	pathActionResponse   = "/admin-api/lawyer-ai/action-response"
	pathConversations    = "/admin-api/lawyer-ai/conversations"
	pathFileUpload       = "/support/file/upload"
	pathGenerateDocument = "/admin-api/legal-document/generate"
)

var (
	// Shared clients with connection pooling. The streaming client has
	// no overall timeout; stream lifetime is controlled via context.
	sharedHTTPClient = &http.Client{
		Transport: newPooledTransport(),
		Timeout:   DefaultTimeout,
	}

	sharedStreamingClient = &http.Client{
		Transport: newPooledTransport(),
	}
)

// newPooledTransport builds the shared transport settings.
func newPooledTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured is returned when the client has no base URL.
	ErrNotConfigured = errors.New("backend not configured")

	// ErrAuthExpired is returned for the backend's session-expired
	// codes (30007, 30008).
	ErrAuthExpired = errors.New("authentication expired")
)

// APIError is a non-success response from the backend, either an HTTP
// error status or an envelope with a non-success code.
type APIError struct {
	Status int    // HTTP status, 0 when the envelope carried the error
	Code   int    // envelope code
	Msg    string // backend-supplied message
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend error: status %d: %s", e.Status, e.Msg)
	}
	return fmt.Sprintf("backend error: code %d: %s", e.Code, e.Msg)
}

// Is allows comparing auth-expiry errors with ErrAuthExpired.
func (e *APIError) Is(target error) bool {
	if target == ErrAuthExpired {
		return e.Code == 30007 || e.Code == 30008 || e.Status == http.StatusUnauthorized
	}
	return false
}

// retryable reports whether the request may be retried. Client errors
// (4xx) are never retried; 5xx and transport failures are.
func (e *APIError) retryable() bool {
	return e.Status >= 500
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the legal-assistant backend.
type Client struct {
	baseURL    string
	token      string
	maxRetries int
}

// NewClient creates a backend client. The token may be empty for
// endpoints that allow anonymous access.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		maxRetries: DefaultMaxRetries,
	}
}

// IsConfigured reports whether the client has a usable base URL.
func (c *Client) IsConfigured() bool {
	u, err := url.Parse(c.baseURL)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// SetToken updates the bearer token (after login/refresh).
func (c *Client) SetToken(token string) {
	c.token = token
}

// setHeaders applies common headers to a request.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// =============================================================================
// ENVELOPE HANDLING
// =============================================================================

// envelope is the backend's common response wrapper.
type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
	Msg  string          `json:"msg"`
}

// decodeEnvelope parses a response body and unmarshals the data payload
// into out (which may be nil when no payload is expected).
func decodeEnvelope(body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("malformed response envelope: %w", err)
	}
	if env.Code != 0 && env.Code != envelopeOK {
		return &APIError{Code: env.Code, Msg: env.Msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("malformed response data: %w", err)
		}
	}
	return nil
}

// =============================================================================
// REQUEST EXECUTION
// =============================================================================

// doJSON performs a JSON request with retry for transient failures and
// decodes the envelope payload into out.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(calculateBackoff(attempt)):
			}
		}

		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(req)

		resp, err := sharedHTTPClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := &APIError{Status: resp.StatusCode, Msg: strings.TrimSpace(string(raw))}
			if !apiErr.retryable() {
				return apiErr
			}
			lastErr = apiErr
			continue
		}

		return decodeEnvelope(raw, out)
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff returns the capped exponential backoff delay for an
// attempt number.
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay << (attempt - 1)
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
