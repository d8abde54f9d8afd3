// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// =============================================================================
// FILE UPLOAD
// =============================================================================

// UploadResult is the backend's record of an uploaded file.
type UploadResult struct {
	URL string `json:"url"`
}

// UploadFile sends a file to the backend's upload endpoint as multipart
// form data and returns its stored URL.
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader) (*UploadResult, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathFileUpload, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Msg: strings.TrimSpace(string(raw))}
	}

	var result UploadResult
	if err := decodeEnvelope(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// =============================================================================
// DOCUMENT GENERATION
// =============================================================================

// Document is a generated legal document.
type Document struct {
	Content  string `json:"content"`
	FileName string `json:"fileName,omitempty"`
}

// generateDocumentRequest is the wire payload for document generation.
type generateDocumentRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

// GenerateDocument asks the backend to draft a legal document from the
// conversation context. Generation is slow; the caller guards against
// duplicate in-flight submissions.
func (c *Client) GenerateDocument(ctx context.Context, conversationID, prompt string) (*Document, error) {
	var doc Document
	req := generateDocumentRequest{ConversationID: conversationID, Message: prompt}
	if err := c.doJSON(ctx, http.MethodPost, pathGenerateDocument, req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
