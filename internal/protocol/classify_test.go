// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// STRUCTURED CHUNK CLASSIFICATION
// =============================================================================

func TestClassify_TextDelta(t *testing.T) {
	events, ok := Classify(`{"choices":[{"delta":{"content":"你好"}}]}`)
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, EventText, events[0].Kind)
	assert.Equal(t, "你好", events[0].Text)
}

func TestClassify_StructuredAction(t *testing.T) {
	frame := `{"choices":[{"delta":{"action":{"type":"upload","title":"上传","message":"请上传文件"}}}]}`
	events, ok := Classify(frame)
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, EventAction, events[0].Kind)
	require.NotNil(t, events[0].Directive)
	assert.Equal(t, ActionUpload, events[0].Directive.Type)
	assert.Equal(t, "上传", events[0].Directive.Title)
}

func TestClassify_Completion(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"camelCase", `{"choices":[{"delta":{},"finishReason":"stop"}],"messageId":"m1"}`},
		{"snake_case", `{"choices":[{"delta":{},"finish_reason":"stop"}],"messageId":"m1"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			events, ok := Classify(tc.frame)
			require.True(t, ok)
			require.Len(t, events, 1)
			assert.Equal(t, EventCompletion, events[0].Kind)
			assert.Equal(t, "m1", events[0].ServerMessageID)
		})
	}
}

func TestClassify_ConversationIDSpellings(t *testing.T) {
	// camelCase preferred when both spellings are present.
	frame := `{"choices":[{"delta":{"content":"x"}}],"conversationId":"c1","conversation_id":"c2"}`
	events, ok := Classify(frame)
	require.True(t, ok)
	assert.Equal(t, "c1", events[0].ConversationID)

	frame = `{"choices":[{"delta":{"content":"x"}}],"conversation_id":"c2"}`
	events, ok = Classify(frame)
	require.True(t, ok)
	assert.Equal(t, "c2", events[0].ConversationID)
}

func TestClassify_NullContentIsControlFrame(t *testing.T) {
	// content:null with no finish reason is a no-op, not an error; any
	// identifiers it carries are still delivered.
	events, ok := Classify(`{"choices":[{"delta":{"content":null}}],"messageId":"m9"}`)
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, EventControl, events[0].Kind)
	assert.Equal(t, "m9", events[0].ServerMessageID)

	// Without identifiers the frame produces nothing at all.
	events, ok = Classify(`{"choices":[{"delta":{"content":null}}]}`)
	require.True(t, ok)
	assert.Empty(t, events)
}

func TestClassify_ActionBeatsContent(t *testing.T) {
	frame := `{"choices":[{"delta":{"content":"text","action":{"type":"info","title":"t","message":"m"}}}]}`
	events, ok := Classify(frame)
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, EventAction, events[0].Kind)
}

func TestClassify_DeltaWithFinishEmitsCompletionToo(t *testing.T) {
	// The pairing of a delta and the finish marker in one frame must
	// survive classification: the action (or text) event comes first,
	// the completion event follows, both carrying the frame's ids.
	frame := `{"choices":[{"delta":{"action":{"type":"progress","title":"t","message":"m"}},"finishReason":"stop"}],"messageId":"m7"}`
	events, ok := Classify(frame)
	require.True(t, ok)
	require.Len(t, events, 2)
	assert.Equal(t, EventAction, events[0].Kind)
	assert.Equal(t, EventCompletion, events[1].Kind)
	assert.Equal(t, "m7", events[1].ServerMessageID)

	frame = `{"choices":[{"delta":{"content":"，世界"},"finishReason":"stop"}],"messageId":"m1"}`
	events, ok = Classify(frame)
	require.True(t, ok)
	require.Len(t, events, 2)
	assert.Equal(t, EventText, events[0].Kind)
	assert.Equal(t, "，世界", events[0].Text)
	assert.Equal(t, EventCompletion, events[1].Kind)
}

// =============================================================================
// LEGACY ENCODINGS
// =============================================================================

func TestClassify_BareActionObject(t *testing.T) {
	events, ok := Classify(`{"type":"warning","title":"提示","message":"注意风险"}`)
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, EventAction, events[0].Kind)
	assert.Equal(t, ActionWarning, events[0].Directive.Type)
}

func TestClassify_InlineMarkerWithText(t *testing.T) {
	// Scenario C: plain text plus an embedded marker yields the text
	// delta first, then the action event.
	frame := `我帮您查一下。[ACTION:WARNING:{"title":"提示","message":"注意风险"}]`
	events, ok := Classify(frame)
	require.True(t, ok)
	require.Len(t, events, 2)

	assert.Equal(t, EventText, events[0].Kind)
	assert.Equal(t, "我帮您查一下。", events[0].Text)

	assert.Equal(t, EventAction, events[1].Kind)
	assert.Equal(t, ActionWarning, events[1].Directive.Type)
	assert.Equal(t, "提示", events[1].Directive.Title)
	assert.Equal(t, "注意风险", events[1].Directive.Message)
}

func TestClassify_InlineMarkerAlone(t *testing.T) {
	events, ok := Classify(`[ACTION:INFO:{"title":"建议","content":"请咨询律师"}]`)
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, EventAction, events[0].Kind)
	assert.Equal(t, ActionInfo, events[0].Directive.Type)
	// "content" doubles as the message field in old payloads.
	assert.Equal(t, "请咨询律师", events[0].Directive.Message)
}

func TestClassify_LegacyShorthands(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		wantType  string
		wantTitle string
	}{
		{"upload", "[ACTION:UPLOAD:上传合同:请上传您的合同文件]", ActionUpload, "上传合同"},
		{"download", "[ACTION:DOWNLOAD:下载模板:点击下载法律文档模板]", ActionDownload, "下载模板"},
		{"personal info", "[ACTION:PERSONAL_INFO:个人信息确认:我希望获取你的个人信息，是否同意？]", ActionPersonalInfo, "个人信息确认"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			events, ok := Classify(tc.frame)
			require.True(t, ok)
			require.Len(t, events, 1)
			assert.Equal(t, EventAction, events[0].Kind)
			assert.Equal(t, tc.wantType, events[0].Directive.Type)
			assert.Equal(t, tc.wantTitle, events[0].Directive.Title)
		})
	}
}

// =============================================================================
// PRIORITY AND FAILURE SEMANTICS
// =============================================================================

func TestClassify_StructuredPathWinsOverInlineMarker(t *testing.T) {
	// P5: a frame matching the structured shape is classified via the
	// structured path even if its raw text also contains an inline
	// marker substring.
	frame := `{"choices":[{"delta":{"content":"[ACTION:WARNING:{\"title\":\"x\"}]"}}]}`
	events, ok := Classify(frame)
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, EventText, events[0].Kind)
}

func TestClassify_Unparseable(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"broken json", `{"choices":[`},
		{"plain text without marker", "just some words"},
		{"json without type or choices", `{"foo":1}`},
		{"json array", `[1,2,3]`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			events, ok := Classify(tc.frame)
			assert.False(t, ok)
			assert.Empty(t, events)
		})
	}
}

func TestClassify_UnknownActionTypeAccepted(t *testing.T) {
	events, ok := Classify(`{"choices":[{"delta":{"action":{"type":"mystery","title":"?","message":"?"}}}]}`)
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, "mystery", events[0].Directive.Type)
}
