// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"net/http"
	"net/url"
)

// =============================================================================
// CONVERSATION CRUD
// =============================================================================

// ConversationSummary is one entry of the backend's conversation list.
type ConversationSummary struct {
	ID              string `json:"id"`
	UserID          string `json:"userId"`
	Title           string `json:"title"`
	CreatedTime     string `json:"createdTime"`
	LastMessageTime string `json:"lastMessageTime"`
	Status          int    `json:"status"`
}

// RemoteMessage is one message of a stored backend conversation.
// Historical assistant messages may still embed legacy [ACTION:...]
// markers in their content; callers run them through the classifier.
type RemoteMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	MessageID string `json:"messageId,omitempty"`
}

// ConversationDetail is the full history of one backend conversation.
type ConversationDetail struct {
	Conversation ConversationSummary `json:"conversation"`
	Messages     []RemoteMessage     `json:"messages"`
}

// ListConversations fetches the user's conversation history list.
func (c *Client) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	var list []ConversationSummary
	if err := c.doJSON(ctx, http.MethodGet, pathConversations, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetConversationDetail fetches one conversation with its messages.
func (c *Client) GetConversationDetail(ctx context.Context, id string) (*ConversationDetail, error) {
	var detail ConversationDetail
	path := pathConversations + "/" + url.PathEscape(id)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// DeleteConversation removes a conversation on the backend.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	path := pathConversations + "/" + url.PathEscape(id)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}
