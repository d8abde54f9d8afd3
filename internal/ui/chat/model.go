// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
package chat

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexforge/lexchat/internal/action"
	"github.com/lexforge/lexchat/internal/cloud"
	"github.com/lexforge/lexchat/internal/config"
	"github.com/lexforge/lexchat/internal/model"
	"github.com/lexforge/lexchat/internal/protocol"
	"github.com/lexforge/lexchat/internal/session"
	"github.com/lexforge/lexchat/internal/storage"
	"github.com/lexforge/lexchat/internal/ui/styles"
)

// =============================================================================
// VIEW MODES
// =============================================================================

// viewMode selects which surface the chat view is showing.
type viewMode int

const (
	modeChat    viewMode = iota // Normal conversation view
	modeHistory                 // Cached conversation list
	modeUpload                  // Waiting for a file path
)

// =============================================================================
// CHAT MODEL
// =============================================================================

// Config wires the chat model.
type Config struct {
	Controller *session.Controller
	Store      *storage.Store // optional local cache
	Client     *cloud.Client  // optional, for history fetch
	Theme      *styles.Theme
	App        *config.Config
}

// Model is the Bubble Tea model for the chat view.
type Model struct {
	theme      *styles.Theme
	app        *config.Config
	controller *session.Controller
	store      *storage.Store
	client     *cloud.Client

	// Latest conversation snapshot from the controller.
	conv *model.Conversation

	mode   viewMode
	width  int
	height int

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	markdown *markdownRenderer

	spinning  bool
	statusMsg string

	// History list state.
	historyItems []storage.Meta
	historyIndex int

	// Upload prompt state: message whose upload action awaits a path.
	uploadMsgID string
}

// New creates a chat model.
func New(cfg Config) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "请输入您的法律问题..."
	ti.CharLimit = 4096
	ti.Focus()

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = cfg.Theme.Spinner

	var md *markdownRenderer
	if cfg.App == nil || cfg.App.UI.Markdown {
		md = newMarkdownRenderer(78, cfg.Theme.IsDark)
	}

	return Model{
		theme:      cfg.Theme,
		app:        cfg.App,
		controller: cfg.Controller,
		store:      cfg.Store,
		client:     cfg.Client,
		conv:       cfg.Controller.Conversation(),
		viewport:   vp,
		input:      ti,
		spinner:    sp,
		markdown:   md,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case ConversationMsg:
		return m.handleConversation(msg)

	case NavigateMsg:
		m.statusMsg = "正在为您跳转至律师列表..."
		return m, nil

	case StatusMsg:
		m.statusMsg = string(msg)
		return m, nil

	case HistoryMsg:
		if msg.Err != nil {
			m.statusMsg = "历史记录加载失败"
			m.mode = modeChat
			return m, nil
		}
		m.historyItems = msg.Items
		m.historyIndex = 0
		return m, nil

	case HistoryDetailMsg:
		m.mode = modeChat
		m.controller.LoadHistory(msg.Detail)
		return m, nil

	case HistoryLocalMsg:
		m.mode = modeChat
		m.controller.Restore(msg.Conv)
		return m, nil

	case SaveDoneMsg:
		if msg.Err != nil {
			m.statusMsg = "本地缓存保存失败"
		}
		return m, nil

	case spinner.TickMsg:
		if !m.spinning {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// =============================================================================
// MESSAGE HANDLERS
// =============================================================================

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height

	// Header + action hint + input + status bar.
	const reserved = 6
	vpHeight := m.height - reserved
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = m.width
	m.viewport.Height = vpHeight

	inputWidth := m.width - 6
	if inputWidth < 10 {
		inputWidth = 10
	}
	m.input.Width = inputWidth

	m.theme.SetSize(m.width, m.height)
	if m.markdown != nil {
		m.markdown.SetWidth(m.width - 4)
	}
	m.refreshViewport()
	return m, nil
}

func (m Model) handleConversation(msg ConversationMsg) (tea.Model, tea.Cmd) {
	m.conv = msg.Conv
	m.refreshViewport()
	m.viewport.GotoBottom()

	var cmds []tea.Cmd

	busy := m.controller.Busy()
	if busy && !m.spinning {
		m.spinning = true
		cmds = append(cmds, m.spinner.Tick)
	} else if !busy {
		m.spinning = false
	}

	// Persist to the local cache once the exchange has settled.
	if m.store != nil && m.conv.ID != "" && !busy {
		cmds = append(cmds, saveCmd(m.store, m.conv))
	}

	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+q" {
		m.shutdown()
		return m, tea.Quit
	}

	switch m.mode {
	case modeHistory:
		return m.handleHistoryKey(key, msg)
	case modeUpload:
		return m.handleUploadKey(key, msg)
	}

	switch key {
	case "ctrl+c":
		if m.controller.Busy() {
			m.controller.Cancel()
			return m, nil
		}
		m.shutdown()
		return m, tea.Quit

	case "esc":
		if m.controller.Busy() {
			m.controller.Cancel()
		}
		return m, nil

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.statusMsg = ""
		if err := m.controller.Send(text); err != nil {
			m.statusMsg = err.Error()
		}
		return m, nil

	case "ctrl+r":
		if err := m.controller.RegenerateLast(); err != nil {
			m.statusMsg = "没有可重新生成的消息"
		}
		return m, nil

	case "ctrl+n":
		m.controller.Reset()
		m.statusMsg = ""
		return m, nil

	case "ctrl+o":
		if m.store == nil {
			m.statusMsg = "本地缓存未启用"
			return m, nil
		}
		m.mode = modeHistory
		limit := 100
		if m.app != nil {
			limit = m.app.Chat.HistoryLimit
		}
		return m, loadHistoryCmd(m.store, limit)

	case "pgup":
		m.viewport.HalfViewUp()
		return m, nil

	case "pgdown":
		m.viewport.HalfViewDown()
		return m, nil
	}

	// Pending action decisions take single-key answers while the input
	// line is empty, so typing a message never triggers one by accident.
	if pending := m.pendingAction(); pending != nil && m.input.Value() == "" {
		if handled, next, cmd := m.handleActionKey(key, pending); handled {
			return next, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// shutdown drains controller goroutines so pending outcome reports and
// cache writes finish before the terminal is restored.
func (m *Model) shutdown() {
	m.controller.Cancel()
	m.controller.Wait()
	if m.store != nil && m.conv != nil && m.conv.ID != "" {
		m.store.Save(m.controller.Conversation())
	}
}

// =============================================================================
// ACTION DECISIONS
// =============================================================================

// pendingAction returns the most recent sealed message whose action
// still awaits a user decision.
func (m Model) pendingAction() *model.Message {
	if m.conv == nil {
		return nil
	}
	for i := len(m.conv.Messages) - 1; i >= 0; i-- {
		msg := m.conv.Messages[i]
		if msg.ActionData == nil || msg.IsStreaming {
			continue
		}
		if msg.ActionStatus == "" || msg.ActionStatus == model.ActionStatusPending {
			return msg
		}
		return nil
	}
	return nil
}

func (m Model) handleActionKey(key string, msg *model.Message) (bool, tea.Model, tea.Cmd) {
	switch msg.ActionData.Type {
	case protocol.ActionWarning, protocol.ActionInfo:
		if key == "enter" || key == "y" {
			m.controller.ResolveAction(msg.ID, action.DecisionAcknowledged)
			return true, m, nil
		}

	case protocol.ActionProgress:
		if key == "enter" || key == "y" {
			m.controller.ResolveAction(msg.ID, action.DecisionViewDetails)
			return true, m, nil
		}

	case protocol.ActionUpload:
		switch key {
		case "y":
			m.mode = modeUpload
			m.uploadMsgID = msg.ID
			m.input.Reset()
			m.input.Prompt = "文件路径: "
			m.input.Placeholder = "/path/to/file"
			return true, m, nil
		case "n":
			m.controller.ResolveAction(msg.ID, action.DecisionCancelled)
			return true, m, nil
		}

	default:
		switch key {
		case "y":
			m.controller.ResolveAction(msg.ID, action.DecisionConfirmed)
			return true, m, nil
		case "n":
			m.controller.ResolveAction(msg.ID, action.DecisionCancelled)
			return true, m, nil
		}
	}
	return false, m, nil
}

func (m Model) handleUploadKey(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case "esc":
		m.exitUploadMode()
		return m, nil

	case "enter":
		path := strings.TrimSpace(m.input.Value())
		msgID := m.uploadMsgID
		m.exitUploadMode()
		if path == "" {
			return m, nil
		}
		controller := m.controller
		return m, func() tea.Msg {
			f, err := os.Open(path)
			if err != nil {
				return StatusMsg("无法打开文件: " + path)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return StatusMsg("无法读取文件: " + path)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			controller.ResolveUploadAction(ctx, msgID, filepath.Base(path), info.Size(), f)
			return nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) exitUploadMode() {
	m.mode = modeChat
	m.uploadMsgID = ""
	m.input.Reset()
	m.input.Prompt = "> "
	m.input.Placeholder = "请输入您的法律问题..."
}

// =============================================================================
// HISTORY LIST
// =============================================================================

func (m Model) handleHistoryKey(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case "esc", "ctrl+o":
		m.mode = modeChat
		return m, nil

	case "up", "k":
		if m.historyIndex > 0 {
			m.historyIndex--
		}
		return m, nil

	case "down", "j":
		if m.historyIndex < len(m.historyItems)-1 {
			m.historyIndex++
		}
		return m, nil

	case "enter":
		if m.historyIndex < len(m.historyItems) {
			id := m.historyItems[m.historyIndex].ID
			return m, openHistoryCmd(m.client, m.store, id)
		}
		return m, nil

	case "d":
		if m.historyIndex < len(m.historyItems) {
			id := m.historyItems[m.historyIndex].ID
			m.historyItems = append(m.historyItems[:m.historyIndex:m.historyIndex], m.historyItems[m.historyIndex+1:]...)
			if m.historyIndex >= len(m.historyItems) && m.historyIndex > 0 {
				m.historyIndex--
			}
			store := m.store
			client := m.client
			return m, func() tea.Msg {
				store.Delete(id)
				if client != nil {
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					client.DeleteConversation(ctx, id)
				}
				return StatusMsg("会话已删除")
			}
		}
		return m, nil
	}
	return m, nil
}
