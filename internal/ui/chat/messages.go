// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexforge/lexchat/internal/cloud"
	"github.com/lexforge/lexchat/internal/model"
	"github.com/lexforge/lexchat/internal/storage"
)

// =============================================================================
// BUBBLE TEA MESSAGES
// =============================================================================

// ConversationMsg carries a fresh conversation snapshot from the session
// controller.
type ConversationMsg struct {
	Conv *model.Conversation
}

// NavigateMsg is emitted when a resolved action asks for navigation to
// another surface (e.g. the lawyer directory).
type NavigateMsg struct {
	Destination string
}

// StatusMsg sets a transient status line.
type StatusMsg string

// HistoryMsg carries the locally cached conversation list.
type HistoryMsg struct {
	Items []storage.Meta
	Err   error
}

// HistoryDetailMsg carries a conversation fetched from the backend.
type HistoryDetailMsg struct {
	Detail *cloud.ConversationDetail
}

// HistoryLocalMsg carries a conversation loaded from the local cache
// when the backend is unreachable.
type HistoryLocalMsg struct {
	Conv *model.Conversation
}

// SaveDoneMsg reports the outcome of a background cache save.
type SaveDoneMsg struct {
	Err error
}

// =============================================================================
// COMMANDS
// =============================================================================

// loadHistoryCmd lists cached conversations.
func loadHistoryCmd(store *storage.Store, limit int) tea.Cmd {
	return func() tea.Msg {
		items, err := store.List(limit)
		return HistoryMsg{Items: items, Err: err}
	}
}

// openHistoryCmd fetches a conversation from the backend, falling back
// to the local cache when the backend is unreachable.
func openHistoryCmd(client *cloud.Client, store *storage.Store, id string) tea.Cmd {
	return func() tea.Msg {
		if client != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if detail, err := client.GetConversationDetail(ctx, id); err == nil {
				return HistoryDetailMsg{Detail: detail}
			}
		}
		if store != nil {
			if conv, err := store.Load(id); err == nil {
				return HistoryLocalMsg{Conv: conv}
			}
		}
		return StatusMsg("无法加载会话记录")
	}
}

// saveCmd persists a conversation snapshot to the local cache.
func saveCmd(store *storage.Store, conv *model.Conversation) tea.Cmd {
	return func() tea.Msg {
		return SaveDoneMsg{Err: store.Save(conv)}
	}
}
