// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lexforge/lexchat/internal/model"
	"github.com/lexforge/lexchat/internal/protocol"
	"github.com/lexforge/lexchat/internal/session"
	"github.com/lexforge/lexchat/internal/util"
)

// View renders the chat view.
func (m Model) View() string {
	if m.mode == modeHistory {
		return m.renderHistory()
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderActionHint())
	b.WriteString("\n")
	b.WriteString(m.renderInputLine())
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

// refreshViewport re-renders the conversation into the viewport.
func (m *Model) refreshViewport() {
	m.viewport.SetContent(m.renderMessages())
}

// =============================================================================
// HEADER AND STATUS BAR
// =============================================================================

func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render("lexchat")
	sub := ""
	if m.conv != nil && m.conv.Title != "" {
		sub = "  " + m.theme.Timestamp.Render(util.TruncateWidth(m.conv.Title, 40))
	}
	return m.theme.Header.Width(m.width).Render(title + sub)
}

func (m Model) renderStatusBar() string {
	var parts []string

	switch m.controller.Phase() {
	case session.PhaseOpening:
		parts = append(parts, m.theme.StatusPhase.Render(m.spinner.View()+"连接中"))
	case session.PhaseStreaming:
		parts = append(parts, m.theme.StatusPhase.Render(m.spinner.View()+"回复中"))
	}

	if m.statusMsg != "" {
		parts = append(parts, m.theme.ErrorText.Render(m.statusMsg))
	}

	hints := [][2]string{
		{"enter", "发送"},
		{"esc", "停止"},
		{"^r", "重新生成"},
		{"^n", "新会话"},
		{"^o", "历史"},
		{"^c", "退出"},
	}
	var hintParts []string
	for _, h := range hints {
		hintParts = append(hintParts,
			m.theme.StatusKey.Render(h[0])+m.theme.StatusDesc.Render(" "+h[1]))
	}
	parts = append(parts, strings.Join(hintParts, "  "))

	return m.theme.StatusBar.Width(m.width).Render(strings.Join(parts, "  "))
}

func (m Model) renderInputLine() string {
	return m.input.View()
}

// =============================================================================
// MESSAGES
// =============================================================================

func (m Model) renderMessages() string {
	if m.conv == nil || len(m.conv.Messages) == 0 {
		return m.theme.Timestamp.Render("\n  输入您的法律问题开始咨询。")
	}

	var b strings.Builder
	for i, msg := range m.conv.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderMessage(msg *model.Message) string {
	var b strings.Builder

	label := m.theme.AssistantLabel
	name := "法律助手"
	if msg.Role == model.RoleUser {
		label = m.theme.UserLabel
		name = "我"
	}
	ts := m.theme.Timestamp.Render(msg.Timestamp.Format("15:04"))
	b.WriteString(label.Render(name) + " " + ts + "\n")

	content := msg.Content
	if content != "" {
		if msg.Role == model.RoleAssistant && !msg.IsStreaming && m.markdown != nil {
			content = m.markdown.Render(content)
		}
		b.WriteString(m.theme.MessageBody.Render(content))
		b.WriteString("\n")
	}
	if msg.IsStreaming && content == "" {
		b.WriteString(m.theme.Timestamp.Render("..."))
		b.WriteString("\n")
	}

	if msg.ActionData != nil {
		b.WriteString(m.renderActionCard(msg))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) renderActionCard(msg *model.Message) string {
	d := msg.ActionData

	var lines []string
	title := d.Title
	if title == "" {
		title = actionTypeLabel(d.Type)
	}
	lines = append(lines, m.theme.ActionTitle.Render(title))
	if d.Message != "" {
		lines = append(lines, m.theme.ActionMessage.Render(d.Message))
	}

	badge := m.theme.StatusStyle(string(msg.ActionStatus)).
		Render(statusLabel(msg.ActionStatus))
	if msg.ActionResponse != "" {
		badge += "  " + m.theme.Timestamp.Render(msg.ActionResponse)
	}
	lines = append(lines, badge)

	return m.theme.ActionCard.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// renderActionHint shows the decision keys for a pending action.
func (m Model) renderActionHint() string {
	if m.mode == modeUpload {
		return m.theme.ActionPending.Render("  输入文件路径后按 enter 上传，esc 取消")
	}
	pending := m.pendingAction()
	if pending == nil {
		return ""
	}
	switch pending.ActionData.Type {
	case protocol.ActionWarning, protocol.ActionInfo:
		return m.theme.ActionPending.Render("  按 enter 确认已知悉")
	case protocol.ActionProgress:
		return m.theme.ActionPending.Render("  按 enter 查看详情")
	default:
		return m.theme.ActionPending.Render("  按 y 确认，n 取消")
	}
}

// =============================================================================
// HISTORY LIST
// =============================================================================

func (m Model) renderHistory() string {
	var b strings.Builder
	b.WriteString(m.theme.ListTitle.Render("历史会话"))
	b.WriteString("\n\n")

	if len(m.historyItems) == 0 {
		b.WriteString(m.theme.ListMeta.Render("  暂无本地会话记录"))
	}

	for i, item := range m.historyItems {
		style := m.theme.ListItem
		marker := "  "
		if i == m.historyIndex {
			style = m.theme.ListItemSelected
			marker = "> "
		}
		title := item.Title
		if title == "" {
			title = item.Preview
		}
		if title == "" {
			title = item.ID
		}
		line := fmt.Sprintf("%s%s", marker, util.TruncateWidth(title, 50))
		meta := fmt.Sprintf("  %s · %d条消息",
			item.UpdatedAt.Format("2006-01-02 15:04"), item.MessageCount)
		b.WriteString(style.Render(line))
		b.WriteString(m.theme.ListMeta.Render(meta))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.theme.StatusDesc.Render("  enter 打开  d 删除  esc 返回"))
	return b.String()
}

// =============================================================================
// LABELS
// =============================================================================

// statusLabel returns the user-facing label for an action status.
func statusLabel(s model.ActionStatus) string {
	switch s {
	case model.ActionStatusConfirmed:
		return "已确认"
	case model.ActionStatusCancelled:
		return "已取消"
	case model.ActionStatusCompleted:
		return "已完成"
	case model.ActionStatusUploading:
		return "上传中"
	case model.ActionStatusUploaded:
		return "已上传"
	case model.ActionStatusDownloading:
		return "下载中"
	case model.ActionStatusDownloaded:
		return "已下载"
	default:
		return "待处理"
	}
}

// actionTypeLabel returns a fallback card title per directive type.
func actionTypeLabel(t string) string {
	switch t {
	case protocol.ActionUpload:
		return "文件上传"
	case protocol.ActionDownload:
		return "文件下载"
	case protocol.ActionDialog, protocol.ActionPersonalInfo:
		return "信息确认"
	case protocol.ActionConfirm:
		return "操作确认"
	case protocol.ActionWarning:
		return "法律风险提醒"
	case protocol.ActionInfo:
		return "法律建议"
	case protocol.ActionProgress:
		return "案件进度"
	case protocol.ActionLawsuit:
		return "发起诉讼"
	case protocol.ActionFindLawyer:
		return "寻找律师"
	default:
		return "操作请求"
	}
}
