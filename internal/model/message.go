// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and
// messages, including the per-message streaming state machine.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/lexforge/lexchat/internal/protocol"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// ACTION STATUS
// =============================================================================

// ActionStatus tracks the lifecycle of an action directive on its owning
// message. The empty value means no status has been assigned yet, which
// the UI treats as pending.
type ActionStatus string

const (
	ActionStatusPending     ActionStatus = "pending"
	ActionStatusConfirmed   ActionStatus = "confirmed"
	ActionStatusCancelled   ActionStatus = "cancelled"
	ActionStatusCompleted   ActionStatus = "completed"
	ActionStatusUploading   ActionStatus = "uploading"
	ActionStatusUploaded    ActionStatus = "uploaded"
	ActionStatusDownloading ActionStatus = "downloading"
	ActionStatusDownloaded  ActionStatus = "downloaded"
)

// =============================================================================
// FALLBACK NOTICES
// =============================================================================

// Fixed user-facing notices for degraded outcomes. Partial content always
// wins over a notice; these only fill messages that would otherwise end
// empty.
const (
	// NoticeNoResponse replaces an empty body when the stream ends
	// without delivering any text or action.
	NoticeNoResponse = "抱歉，未收到AI响应数据，请检查网络连接或稍后再试。"

	// NoticeReadError replaces an empty body when the stream read fails
	// mid-response.
	NoticeReadError = "抱歉，流式读取出现错误，请稍后再试。"

	// NoticeSendError replaces an empty body when the stream cannot be
	// opened at all.
	NoticeSendError = "抱歉，发送消息时出现错误，请稍后再试。"
)

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
//
// An assistant message is created open (IsStreaming=true) the moment a
// user message is dispatched, mutated only by classified stream events,
// and sealed exactly once. Once sealed it never changes again: late or
// duplicate events are dropped, not applied.
type Message struct {
	// Identity. ID is the client-generated token, stable for the
	// message's lifetime; ServerMessageID arrives asynchronously from
	// the backend and may be overwritten only by a later non-empty
	// value.
	ID              string    `json:"id"`
	ServerMessageID string    `json:"server_message_id,omitempty"`
	Role            Role      `json:"role"`
	Timestamp       time.Time `json:"timestamp"`

	// Content is append-only while open, immutable once sealed.
	Content     string `json:"content"`
	IsStreaming bool   `json:"-"`

	// Action surface. At most one directive per message; the first one
	// attached stays authoritative for side-effect dispatch.
	ActionData     *protocol.ActionDirective `json:"action_data,omitempty"`
	ActionStatus   ActionStatus              `json:"action_status,omitempty"`
	ActionResponse string                    `json:"action_response,omitempty"`
	ActionMetadata map[string]any            `json:"action_metadata,omitempty"`

	// DroppedDirectives counts directives that arrived after the first
	// one and were ignored. Diagnostic only.
	DroppedDirectives int `json:"-"`
}

// NewUserMessage creates a sealed user message.
func NewUserMessage(content string) *Message {
	return &Message{
		ID:        newMessageID(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewAssistantMessage creates an open assistant message ready to receive
// stream events.
func NewAssistantMessage() *Message {
	return &Message{
		ID:          newMessageID(),
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}
}

// =============================================================================
// MESSAGE STATE TRANSITIONS
// =============================================================================

// AppendText appends streamed text to an open message. Text arriving
// after the seal is dropped.
func (m *Message) AppendText(text string) {
	if !m.IsStreaming {
		return
	}
	m.Content += text
}

// AttachDirective attaches an action directive to an open message.
// The first directive wins; later ones are counted and ignored, since
// only one action surface exists per message. Returns true if the
// directive was attached.
func (m *Message) AttachDirective(d *protocol.ActionDirective) bool {
	if !m.IsStreaming || d == nil {
		return false
	}
	if m.ActionData != nil {
		m.DroppedDirectives++
		return false
	}
	m.ActionData = d
	return true
}

// SetServerMessageID records the backend's id for this message. Empty
// values never overwrite; later non-empty values do (the completion
// marker's id takes precedence over any interim value).
func (m *Message) SetServerMessageID(id string) {
	if id != "" {
		m.ServerMessageID = id
	}
}

// AuthoritativeID returns the id to use when reporting about this
// message to the backend: the server id when known, the client id
// otherwise.
func (m *Message) AuthoritativeID() string {
	if m.ServerMessageID != "" {
		return m.ServerMessageID
	}
	return m.ID
}

// Seal transitions the message to its terminal state. Idempotent.
func (m *Message) Seal() {
	m.IsStreaming = false
}

// Sealed reports whether the message has reached its terminal state.
func (m *Message) Sealed() bool {
	return !m.IsStreaming
}

// Empty reports whether the message received no text and no directive.
func (m *Message) Empty() bool {
	return m.Content == "" && m.ActionData == nil
}

// Preview returns a truncated single-line preview of the content.
// Rune-based truncation keeps multi-byte text intact.
func (m *Message) Preview(maxLen int) string {
	runes := []rune(m.Content)
	if len(runes) <= maxLen {
		return m.Content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	cp := *m
	if m.ActionData != nil {
		d := *m.ActionData
		cp.ActionData = &d
	}
	if m.ActionMetadata != nil {
		cp.ActionMetadata = make(map[string]any, len(m.ActionMetadata))
		for k, v := range m.ActionMetadata {
			cp.ActionMetadata[k] = v
		}
	}
	return &cp
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// newMessageID creates a unique client-side message id.
func newMessageID() string {
	return "msg_" + uuid.NewString()
}
