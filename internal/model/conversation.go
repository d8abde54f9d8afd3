// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/lexforge/lexchat/internal/protocol"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds the ordered message list for one chat view.
//
// Messages are kept in insertion order and never reordered. At most one
// message is open (receiving stream events) at any time. The conversation
// id is empty until the backend assigns one during the first stream of a
// brand-new conversation; it is set exactly once.
type Conversation struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Messages  []*Message `json:"messages"`
}

// NewConversation creates an empty conversation. The id stays empty for a
// brand-new chat until the backend assigns one mid-stream.
func NewConversation(id string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]*Message, 0),
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddUserMessage appends a sealed user message.
func (c *Conversation) AddUserMessage(content string) *Message {
	msg := NewUserMessage(content)
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	c.updateTitle()
	return msg
}

// OpenAssistantMessage appends a new open assistant message. Any message
// still open is sealed first so the single-open invariant holds.
func (c *Conversation) OpenAssistantMessage() *Message {
	if open := c.OpenMessage(); open != nil {
		open.Seal()
	}
	msg := NewAssistantMessage()
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	return msg
}

// AddMessage appends an already-built message (history loading).
func (c *Conversation) AddMessage(msg *Message) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	c.updateTitle()
}

// MessageByID returns the message with the given client id, or nil.
func (c *Conversation) MessageByID(id string) *Message {
	for _, msg := range c.Messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// MessageByAnyID resolves a message by client id or server id.
func (c *Conversation) MessageByAnyID(id string) *Message {
	for _, msg := range c.Messages {
		if msg.ID == id || (msg.ServerMessageID != "" && msg.ServerMessageID == id) {
			return msg
		}
	}
	return nil
}

// OpenMessage returns the message currently receiving stream events, or
// nil when none is open.
func (c *Conversation) OpenMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].IsStreaming {
			return c.Messages[i]
		}
	}
	return nil
}

// LastUserMessage returns the most recent user message, or nil.
func (c *Conversation) LastUserMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i]
		}
	}
	return nil
}

// TruncateAfterLastUser drops everything after the last user message and
// returns that message. Used by regeneration so the retried send does not
// duplicate the user turn. Returns nil when no user message exists.
func (c *Conversation) TruncateAfterLastUser() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			c.Messages = c.Messages[:i+1]
			c.UpdatedAt = time.Now()
			return c.Messages[i]
		}
	}
	return nil
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// IsEmpty returns true if there are no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// =============================================================================
// IDENTITY
// =============================================================================

// AssignID sets the backend-assigned conversation id. First writer wins;
// later assignments to a non-empty id are ignored.
func (c *Conversation) AssignID(id string) {
	if c.ID == "" && id != "" {
		c.ID = id
	}
}

// =============================================================================
// EVENT APPLICATION (STATE MACHINE)
// =============================================================================

// Apply drives the state machine with one classified event targeting the
// message with the given client id. Events for sealed or unknown messages
// degrade to identifier updates only; nothing is ever re-opened.
func (c *Conversation) Apply(msgID string, ev protocol.Event) {
	c.AssignID(ev.ConversationID)

	msg := c.MessageByID(msgID)
	if msg == nil {
		return
	}
	msg.SetServerMessageID(ev.ServerMessageID)

	switch ev.Kind {
	case protocol.EventText:
		msg.AppendText(ev.Text)
	case protocol.EventAction:
		msg.AttachDirective(ev.Directive)
	case protocol.EventCompletion:
		msg.Seal()
	case protocol.EventControl:
		// Identifier updates only, handled above.
	}
	c.UpdatedAt = time.Now()
}

// SealStreamEnd seals the message when the stream ends without an
// explicit completion marker. A message that received no useful events
// gets the fixed no-response notice instead of staying empty. Idempotent:
// a second end (or an end after completion) changes nothing.
func (c *Conversation) SealStreamEnd(msgID string) {
	msg := c.MessageByID(msgID)
	if msg == nil || msg.Sealed() {
		return
	}
	if msg.Empty() {
		msg.Content = NoticeNoResponse
	}
	msg.Seal()
	c.UpdatedAt = time.Now()
}

// SealError seals the message after a read error. Partial content
// survives; only a still-empty body is replaced with the notice.
func (c *Conversation) SealError(msgID, notice string) {
	msg := c.MessageByID(msgID)
	if msg == nil || msg.Sealed() {
		return
	}
	if msg.Content == "" {
		msg.Content = notice
	}
	msg.Seal()
	c.UpdatedAt = time.Now()
}

// SealCancelled seals the message after user cancellation, preserving
// whatever content has arrived. Not an error.
func (c *Conversation) SealCancelled(msgID string) {
	msg := c.MessageByID(msgID)
	if msg == nil || msg.Sealed() {
		return
	}
	msg.Seal()
	c.UpdatedAt = time.Now()
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// Snapshot returns a deep copy for observers. The UI only ever sees
// complete, non-torn snapshots; the live message list is never shared.
func (c *Conversation) Snapshot() *Conversation {
	cp := &Conversation{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Messages:  make([]*Message, len(c.Messages)),
	}
	for i, msg := range c.Messages {
		cp.Messages[i] = msg.Clone()
	}
	return cp
}

// =============================================================================
// TITLE MANAGEMENT
// =============================================================================

// updateTitle derives a title from the first user message if unset.
func (c *Conversation) updateTitle() {
	if c.Title != "" {
		return
	}
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			c.Title = msg.Preview(50)
			return
		}
	}
}

// SetTitle manually sets the conversation title.
func (c *Conversation) SetTitle(title string) {
	c.Title = title
	c.UpdatedAt = time.Now()
}
