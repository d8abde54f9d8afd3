// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexforge/lexchat/internal/model"
	"github.com/lexforge/lexchat/internal/protocol"
	"github.com/lexforge/lexchat/internal/session"
	"github.com/lexforge/lexchat/internal/storage"
	"github.com/lexforge/lexchat/internal/ui/styles"
)

func newTestModel(t *testing.T) Model {
	t.Helper()
	ctrl := session.NewController(session.Config{})
	return New(Config{
		Controller: ctrl,
		Theme:      styles.New("dark"),
	})
}

func convWithAction(status model.ActionStatus, streaming bool) *model.Conversation {
	conv := model.NewConversation("conv-1")
	conv.AddUserMessage("帮我看看合同")
	msg := conv.OpenAssistantMessage()
	msg.AppendText("请上传合同文件。")
	msg.AttachDirective(&protocol.ActionDirective{Type: protocol.ActionUpload, Title: "上传合同"})
	msg.ActionStatus = status
	if !streaming {
		msg.Seal()
	}
	return conv
}

func TestPendingActionDetection(t *testing.T) {
	m := newTestModel(t)

	m.conv = convWithAction("", false)
	if m.pendingAction() == nil {
		t.Error("sealed message with unresolved action should be pending")
	}

	m.conv = convWithAction(model.ActionStatusPending, false)
	if m.pendingAction() == nil {
		t.Error("explicit pending status should be pending")
	}

	m.conv = convWithAction("", true)
	if m.pendingAction() != nil {
		t.Error("streaming message should not offer a decision yet")
	}

	m.conv = convWithAction(model.ActionStatusCompleted, false)
	if m.pendingAction() != nil {
		t.Error("resolved action should not be pending")
	}

	m.conv = model.NewConversation("")
	if m.pendingAction() != nil {
		t.Error("empty conversation has no pending action")
	}
}

func TestHistoryNavigation(t *testing.T) {
	m := newTestModel(t)
	m.mode = modeHistory
	m.historyItems = []storage.Meta{
		{ID: "a", UpdatedAt: time.Now()},
		{ID: "b", UpdatedAt: time.Now()},
		{ID: "c", UpdatedAt: time.Now()},
	}

	next, _ := m.handleHistoryKey("down", tea.KeyMsg{})
	m = next.(Model)
	next, _ = m.handleHistoryKey("down", tea.KeyMsg{})
	m = next.(Model)
	if m.historyIndex != 2 {
		t.Errorf("index = %d, want 2", m.historyIndex)
	}

	// Bounded at the end.
	next, _ = m.handleHistoryKey("down", tea.KeyMsg{})
	m = next.(Model)
	if m.historyIndex != 2 {
		t.Errorf("index = %d, want 2 after overshoot", m.historyIndex)
	}

	next, _ = m.handleHistoryKey("up", tea.KeyMsg{})
	m = next.(Model)
	if m.historyIndex != 1 {
		t.Errorf("index = %d, want 1", m.historyIndex)
	}

	next, _ = m.handleHistoryKey("esc", tea.KeyMsg{})
	m = next.(Model)
	if m.mode != modeChat {
		t.Error("esc should return to chat mode")
	}
}

func TestUploadModePromptAndExit(t *testing.T) {
	m := newTestModel(t)
	m.conv = convWithAction("", false)
	pending := m.pendingAction()

	handled, next, _ := m.handleActionKey("y", pending)
	if !handled {
		t.Fatal("y should be handled for an upload action")
	}
	m = next.(Model)
	if m.mode != modeUpload {
		t.Fatal("y on upload action should enter upload mode")
	}
	if m.uploadMsgID != pending.ID {
		t.Errorf("uploadMsgID = %q, want %q", m.uploadMsgID, pending.ID)
	}

	next, _ = m.handleUploadKey("esc", tea.KeyMsg{})
	m = next.(Model)
	if m.mode != modeChat || m.uploadMsgID != "" {
		t.Error("esc should abandon the upload prompt")
	}
	if m.input.Prompt != "> " {
		t.Errorf("prompt = %q after exit", m.input.Prompt)
	}
}

func TestCancelDecisionResolvesLocally(t *testing.T) {
	ctrl := session.NewController(session.Config{})
	m := New(Config{Controller: ctrl, Theme: styles.New("dark")})

	// Seed the controller's conversation through history restore so the
	// decision can find its message.
	conv := convWithAction("", false)
	ctrl.Restore(conv)
	m.conv = ctrl.Conversation()

	pending := m.pendingAction()
	handled, _, _ := m.handleActionKey("n", pending)
	if !handled {
		t.Fatal("n should be handled")
	}
	ctrl.Wait()

	got := ctrl.Conversation().MessageByAnyID(pending.ID)
	if got.ActionStatus != model.ActionStatusCancelled {
		t.Errorf("status = %q, want cancelled", got.ActionStatus)
	}
	if got.ActionResponse != "用户拒绝上传文件" {
		t.Errorf("response = %q", got.ActionResponse)
	}
}

func TestStatusLabels(t *testing.T) {
	tests := []struct {
		status model.ActionStatus
		want   string
	}{
		{"", "待处理"},
		{model.ActionStatusPending, "待处理"},
		{model.ActionStatusConfirmed, "已确认"},
		{model.ActionStatusCancelled, "已取消"},
		{model.ActionStatusCompleted, "已完成"},
		{model.ActionStatusUploaded, "已上传"},
		{model.ActionStatusDownloaded, "已下载"},
	}
	for _, tc := range tests {
		if got := statusLabel(tc.status); got != tc.want {
			t.Errorf("statusLabel(%q) = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestActionTypeLabelsFallback(t *testing.T) {
	if got := actionTypeLabel(protocol.ActionLawsuit); got != "发起诉讼" {
		t.Errorf("lawsuit label = %q", got)
	}
	if got := actionTypeLabel("mystery"); got != "操作请求" {
		t.Errorf("unknown label = %q", got)
	}
}
