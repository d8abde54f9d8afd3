// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/json"
	"regexp"
	"strings"
)

// =============================================================================
// LEGACY MARKER SYNTAX
// =============================================================================

// The oldest backend encoding embeds action markers directly in plain
// text. Three historical forms are still accepted:
//
//	[ACTION:TYPE:{json}]                 generic, JSON payload
//	[ACTION:PERSONAL_INFO:title:message] personal-info shorthand
//	[ACTION:UPLOAD:title:message]        upload shorthand
//	[ACTION:DOWNLOAD:title:message]      download shorthand
var (
	actionMarkerRe       = regexp.MustCompile(`\[ACTION:([A-Z_]+):(\{[^}]+\})\]`)
	legacyPersonalInfoRe = regexp.MustCompile(`\[ACTION:PERSONAL_INFO:([^\]]+)\]`)
	legacyUploadRe       = regexp.MustCompile(`\[ACTION:UPLOAD:([^:\]]+):([^\]]+)\]`)
	legacyDownloadRe     = regexp.MustCompile(`\[ACTION:DOWNLOAD:([^:\]]+):([^\]]+)\]`)
)

// Defaults for the personal-info shorthand when the payload cannot be
// split into title and message.
const (
	defaultPersonalInfoTitle   = "个人信息确认"
	defaultPersonalInfoMessage = "我希望获取您的个人信息，您是否同意？"
)

// =============================================================================
// CLASSIFIER
// =============================================================================

// Classify parses one decoded frame into application events.
//
// The priority ladder is deterministic and total; the first matching rule
// wins:
//
//  1. Structured chat-completion chunk (a JSON object with choices[0]):
//     delta.action, then delta.content, then finish reason "stop". A
//     chunk with none of those is a valid control frame, not an error.
//     A chunk pairing a delta with finish reason "stop" yields the
//     delta event followed by the completion event, preserving the
//     single-frame pairing for downstream auto-dispatch.
//  2. Bare action object (top-level "type" field, no choices wrapper).
//  3. Legacy inline [ACTION:...] markers embedded in plain text; any
//     non-marker text in the frame is emitted as a text delta before the
//     action event.
//
// Returns ok=false when no rule matches; such frames are dropped by the
// caller with diagnostic logging only. A JSON parse failure at any rung
// means "this rung did not match" and never propagates.
func Classify(frame string) (events []Event, ok bool) {
	// Rung 1: structured chunk.
	var chunk StreamChunk
	if err := json.Unmarshal([]byte(frame), &chunk); err == nil && len(chunk.Choices) > 0 {
		return classifyChunk(&chunk), true
	}

	// Rung 2: bare action object.
	var bare ActionDirective
	if err := json.Unmarshal([]byte(frame), &bare); err == nil && bare.Type != "" {
		return []Event{{Kind: EventAction, Directive: &bare}}, true
	}

	// Rung 3: legacy inline markers.
	if evts := classifyLegacy(frame); evts != nil {
		return evts, true
	}

	return nil, false
}

// classifyChunk maps a structured chunk onto events. The delta produces
// at most one event (action beats content); a finish reason on the same
// chunk appends the completion event after it. Identifier fields ride
// along on every event produced.
func classifyChunk(chunk *StreamChunk) []Event {
	ids := Event{
		ServerMessageID: chunk.MessageID,
		ConversationID:  chunk.conversationID(),
	}
	delta := chunk.Choices[0].Delta

	var events []Event
	switch {
	case delta.Action != nil && delta.Action.Type != "":
		ev := ids
		ev.Kind = EventAction
		ev.Directive = delta.Action
		events = append(events, ev)

	case delta.Content != nil && *delta.Content != "":
		ev := ids
		ev.Kind = EventText
		ev.Text = *delta.Content
		events = append(events, ev)
	}

	if chunk.finished() {
		ev := ids
		ev.Kind = EventCompletion
		return append(events, ev)
	}
	if len(events) > 0 {
		return events
	}

	if ids.ServerMessageID != "" || ids.ConversationID != "" {
		// Null/absent content is a valid no-op control frame; still
		// deliver any identifiers it carries.
		ev := ids
		ev.Kind = EventControl
		return []Event{ev}
	}
	return nil
}

// classifyLegacy extracts the first inline marker from a plain-text frame.
// Returns nil when the frame carries no marker.
func classifyLegacy(frame string) []Event {
	var (
		directive *ActionDirective
		cleaned   string
	)

	switch {
	case actionMarkerRe.MatchString(frame):
		m := actionMarkerRe.FindStringSubmatch(frame)
		directive = directiveFromPayload(strings.ToLower(m[1]), m[2])
		cleaned = actionMarkerRe.ReplaceAllString(frame, "")

	case legacyPersonalInfoRe.MatchString(frame):
		m := legacyPersonalInfoRe.FindStringSubmatch(frame)
		directive = personalInfoFromPayload(m[1])
		cleaned = legacyPersonalInfoRe.ReplaceAllString(frame, "")

	case legacyUploadRe.MatchString(frame):
		m := legacyUploadRe.FindStringSubmatch(frame)
		directive = shorthandDirective(ActionUpload, m[1], m[2])
		cleaned = legacyUploadRe.ReplaceAllString(frame, "")

	case legacyDownloadRe.MatchString(frame):
		m := legacyDownloadRe.FindStringSubmatch(frame)
		directive = shorthandDirective(ActionDownload, m[1], m[2])
		cleaned = legacyDownloadRe.ReplaceAllString(frame, "")

	default:
		return nil
	}

	var events []Event
	// Text logically precedes the directive in display order.
	if text := strings.TrimSpace(cleaned); text != "" {
		events = append(events, Event{Kind: EventText, Text: text})
	}
	events = append(events, Event{Kind: EventAction, Directive: directive})
	return events
}

// directiveFromPayload builds a directive from the generic marker form.
// The payload is parsed as JSON first; on failure it degrades to a naive
// colon split.
func directiveFromPayload(actionType, payload string) *ActionDirective {
	var fields struct {
		Title   string `json:"title"`
		Message string `json:"message"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		title, message, _ := strings.Cut(payload, ":")
		return &ActionDirective{Type: actionType, Title: title, Message: message}
	}

	message := fields.Message
	if message == "" {
		message = fields.Content
	}
	return &ActionDirective{
		Type:    actionType,
		Title:   fields.Title,
		Message: message,
		Data:    json.RawMessage(payload),
	}
}

// personalInfoFromPayload handles the PERSONAL_INFO shorthand, whose
// payload may be JSON or a bare "title:message" pair. Missing fields fall
// back to the fixed prompt strings the old backend relied on.
func personalInfoFromPayload(payload string) *ActionDirective {
	d := directiveFromPayload(ActionPersonalInfo, payload)
	if d.Title == "" {
		d.Title = defaultPersonalInfoTitle
	}
	if d.Message == "" {
		d.Message = defaultPersonalInfoMessage
	}
	return d
}

// shorthandDirective builds a directive from the title:message shorthand
// forms. The pair is round-tripped through the opaque data payload the
// way the original encoding carried it.
func shorthandDirective(actionType, title, message string) *ActionDirective {
	data, _ := json.Marshal(map[string]string{"title": title, "content": message})
	return &ActionDirective{Type: actionType, Title: title, Message: message, Data: data}
}
