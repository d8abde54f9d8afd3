// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import "encoding/json"

// =============================================================================
// ACTION DIRECTIVE
// =============================================================================

// Known action directive types. Unrecognized types are accepted and
// carried through; they render and act as no-ops downstream.
const (
	ActionDialog       = "dialog"
	ActionPersonalInfo = "personal_info"
	ActionUpload       = "upload"
	ActionDownload     = "download"
	ActionConfirm      = "confirm"
	ActionWarning      = "warning"
	ActionInfo         = "info"
	ActionProgress     = "progress"
	ActionLawsuit      = "lawsuit"
	ActionFindLawyer   = "find_lawyer"
)

// ActionDirective is a structured instruction from the backend asking the
// client to present an interactive affordance (upload prompt, confirmation
// card, warning, ...).
//
// A directive is attached to exactly one message and is immutable once
// attached; only the owning message's action status changes over time.
// Data is an opaque payload passed back verbatim when the action outcome
// is reported.
type ActionDirective struct {
	Type    string          `json:"type"`
	Title   string          `json:"title"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// =============================================================================
// STREAM CHUNK (CURRENT WIRE SHAPE)
// =============================================================================

// StreamChunk is the current JSON payload shape of one streaming frame.
// Both finishReason spellings and both conversation id spellings occur in
// the wild and are accepted.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string           `json:"role,omitempty"`
			Content *string          `json:"content"`
			Action  *ActionDirective `json:"action"`
		} `json:"delta"`
		FinishReason      string `json:"finishReason"`
		FinishReasonSnake string `json:"finish_reason"`
	} `json:"choices"`
	ConversationID      string `json:"conversationId"`
	ConversationIDSnake string `json:"conversation_id"`
	MessageID           string `json:"messageId"`
}

// finished reports whether the first choice carries a "stop" finish
// reason under either spelling.
func (c *StreamChunk) finished() bool {
	if len(c.Choices) == 0 {
		return false
	}
	return c.Choices[0].FinishReason == "stop" || c.Choices[0].FinishReasonSnake == "stop"
}

// conversationID returns the conversation id, preferring the camelCase
// field when both spellings are present.
func (c *StreamChunk) conversationID() string {
	if c.ConversationID != "" {
		return c.ConversationID
	}
	return c.ConversationIDSnake
}

// =============================================================================
// CLASSIFIED EVENTS
// =============================================================================

// EventKind identifies the application-level meaning of a classified
// frame.
type EventKind int

const (
	// EventText carries appendable assistant text.
	EventText EventKind = iota

	// EventAction carries an action directive to attach to the open
	// message.
	EventAction

	// EventCompletion marks the backend as finished with the current
	// assistant message (finish reason "stop"; distinct from the
	// transport-level [DONE]).
	EventCompletion

	// EventControl carries no content, only identifier updates
	// (server message id, conversation id) delivered on an otherwise
	// empty frame.
	EventControl
)

// String returns the kind name for diagnostics.
func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventAction:
		return "action"
	case EventCompletion:
		return "completion"
	case EventControl:
		return "control"
	default:
		return "unknown"
	}
}

// Event is one classified application event.
//
// ServerMessageID and ConversationID ride along on any event kind: the
// backend may deliver them on content frames, control frames, or the
// completion marker, and the state machine applies whichever is present.
type Event struct {
	Kind      EventKind
	Text      string
	Directive *ActionDirective

	ServerMessageID string
	ConversationID  string
}
