// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

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
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(styles.Indigo).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary)

	warningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	errorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose).
			Bold(true)
)

// =============================================================================
// SESSION
// =============================================================================

// Session holds the state for one interactive REPL session.
type Session struct {
	Config     *config.Config
	Controller *session.Controller
	Store      *storage.Store // optional
	Client     *cloud.Client  // optional, history fetch
	Input      *Input

	printer *printer
}

// Run drives the REPL until the user exits.
func (s *Session) Run() error {
	s.Input = NewInput()
	defer s.Input.Close()

	fmt.Println(assistantStyle.Render("lexchat") + infoStyle.Render(" - 法律咨询助手"))
	fmt.Println(infoStyle.Render("输入 /help 查看命令，exit 退出。"))
	fmt.Println()

	// Ctrl+C during streaming cancels the exchange; liner handles it at
	// the prompt itself.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			s.Controller.Cancel()
		}
	}()

	for {
		input, err := s.Input.Read(promptStyle.Render("lexchat> "))
		if err != nil {
			// Ctrl+C or Ctrl+D at the prompt ends the session.
			if !errors.Is(err, liner.ErrPromptAborted) {
				fmt.Println()
			}
			s.shutdown()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			s.shutdown()
			return nil
		}
		if strings.HasPrefix(input, "/") {
			keepGoing, err := s.handleCommand(input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[错误]"), err)
			}
			if !keepGoing {
				s.shutdown()
				return nil
			}
			continue
		}

		s.exchange(func() error { return s.Controller.Send(input) })
	}
}

// shutdown drains in-flight work and saves the conversation cache.
func (s *Session) shutdown() {
	s.Controller.Cancel()
	s.Controller.Wait()
	s.saveConversation()
}

func (s *Session) saveConversation() {
	if s.Store == nil {
		return
	}
	conv := s.Controller.Conversation()
	if conv.ID == "" {
		return
	}
	if err := s.Store.Save(conv); err != nil {
		fmt.Fprintf(os.Stderr, "%s 本地缓存保存失败: %v\n", warningStyle.Render("[警告]"), err)
	}
}

// =============================================================================
// EXCHANGE
// =============================================================================

// exchange runs one send (or regenerate), printing the reply as it
// streams, then offers any pending action decision.
func (s *Session) exchange(start func() error) {
	p := newPrinter()
	s.printer = p

	if err := start(); err != nil {
		s.printer = nil
		fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[错误]"), err)
		return
	}

	<-p.done
	s.printer = nil
	s.saveConversation()

	if msg := pendingAction(s.Controller.Conversation()); msg != nil {
		s.promptAction(msg)
	}
}

// NavigateTo satisfies action.Navigator. A line REPL has no lawyer
// directory surface, so the intent is announced instead.
func (s *Session) NavigateTo(destination string) {
	fmt.Println(infoStyle.Render("正在为您跳转至律师列表..."))
}

// OnUpdate receives controller snapshots. Wired as the controller's
// OnUpdate callback; called from controller goroutines.
func (s *Session) OnUpdate(conv *model.Conversation) {
	if p := s.printer; p != nil {
		p.apply(conv)
	}
}

// printer incrementally writes the open assistant message to stdout.
type printer struct {
	mu      sync.Mutex
	msgID   string
	printed int // bytes of the open message already written
	done    chan struct{}
	closed  bool
}

func newPrinter() *printer {
	return &printer{done: make(chan struct{})}
}

func (p *printer) apply(conv *model.Conversation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	open := conv.OpenMessage()
	if open != nil {
		if open.ID != p.msgID {
			p.msgID = open.ID
			p.printed = 0
			fmt.Print(assistantStyle.Render("法律助手") + " ")
		}
		if len(open.Content) > p.printed {
			fmt.Print(open.Content[p.printed:])
			p.printed = len(open.Content)
		}
		return
	}

	// No open message: the exchange has settled. The reply may have
	// sealed before we ever saw it streaming.
	target := conv.MessageByID(p.msgID)
	if target == nil {
		if n := len(conv.Messages); n > 0 && conv.Messages[n-1].Role == model.RoleAssistant {
			target = conv.Messages[n-1]
			p.msgID = target.ID
			fmt.Print(assistantStyle.Render("法律助手") + " ")
		}
	}
	if target != nil && len(target.Content) > p.printed {
		fmt.Print(target.Content[p.printed:])
		p.printed = len(target.Content)
	}
	p.finish(target)
}

func (p *printer) finish(msg *model.Message) {
	if msg != nil {
		fmt.Println()
		if msg.ActionData != nil {
			printActionCard(msg)
		}
	}
	p.closed = true
	close(p.done)
}

// =============================================================================
// ACTION DECISIONS
// =============================================================================

// pendingAction returns the newest sealed message whose action awaits a
// decision.
func pendingAction(conv *model.Conversation) *model.Message {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		msg := conv.Messages[i]
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

func printActionCard(msg *model.Message) {
	d := msg.ActionData
	title := d.Title
	if title == "" {
		title = d.Type
	}
	fmt.Println(warningStyle.Render("[操作] ") + title)
	if d.Message != "" {
		fmt.Println(infoStyle.Render("  " + d.Message))
	}
}

// promptAction asks for and applies the user's decision.
func (s *Session) promptAction(msg *model.Message) {
	switch msg.ActionData.Type {
	case protocol.ActionWarning, protocol.ActionInfo, protocol.ActionProgress:
		if _, err := s.Input.Read(warningStyle.Render("按回车确认已知悉: ")); err != nil {
			return
		}
		decision := action.DecisionAcknowledged
		if msg.ActionData.Type == protocol.ActionProgress {
			decision = action.DecisionViewDetails
		}
		s.resolveAndWait(msg.ID, decision)

	case protocol.ActionUpload:
		answer, err := s.Input.Read(warningStyle.Render("确认上传? (y/n): "))
		if err != nil || !strings.EqualFold(strings.TrimSpace(answer), "y") {
			s.resolveAndWait(msg.ID, action.DecisionCancelled)
			return
		}
		s.promptUpload(msg)

	default:
		answer, err := s.Input.Read(warningStyle.Render("确认执行? (y/n): "))
		if err != nil || !strings.EqualFold(strings.TrimSpace(answer), "y") {
			s.resolveAndWait(msg.ID, action.DecisionCancelled)
			return
		}
		s.resolveAndWait(msg.ID, action.DecisionConfirmed)
	}
}

func (s *Session) promptUpload(msg *model.Message) {
	path, err := s.Input.Read("文件路径: ")
	if err != nil {
		return
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s 无法打开文件: %v\n", errorStyle.Render("[错误]"), err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s 无法读取文件: %v\n", errorStyle.Render("[错误]"), err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	s.Controller.ResolveUploadAction(ctx, msg.ID, filepath.Base(path), info.Size(), f)
	s.Controller.Wait()
	s.printOutcome(msg.ID)
}

func (s *Session) resolveAndWait(msgID string, d action.Decision) {
	s.Controller.ResolveAction(msgID, d)
	s.Controller.Wait()
	s.printOutcome(msgID)
	s.saveConversation()
}

func (s *Session) printOutcome(msgID string) {
	conv := s.Controller.Conversation()
	if msg := conv.MessageByAnyID(msgID); msg != nil && msg.ActionResponse != "" {
		fmt.Println(infoStyle.Render("  " + msg.ActionResponse))
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (s *Session) handleCommand(input string) (bool, error) {
	fields := strings.Fields(input)
	cmd := strings.ToLower(fields[0])

	switch cmd {
	case "/help", "/h":
		printHelp()
		return true, nil

	case "/new", "/n":
		s.saveConversation()
		s.Controller.Reset()
		fmt.Println(infoStyle.Render("已开始新会话。"))
		return true, nil

	case "/retry", "/r":
		s.exchange(func() error { return s.Controller.RegenerateLast() })
		return true, nil

	case "/history":
		return true, s.listHistory()

	case "/open":
		if len(fields) < 2 {
			return true, fmt.Errorf("用法: /open <编号>")
		}
		return true, s.openHistory(fields[1])

	case "/delete":
		if len(fields) < 2 {
			return true, fmt.Errorf("用法: /delete <编号>")
		}
		return true, s.deleteHistory(fields[1])

	case "/quit", "/q", "/exit":
		return false, nil

	default:
		return true, fmt.Errorf("未知命令 %s，输入 /help 查看帮助", cmd)
	}
}

func printHelp() {
	help := [][2]string{
		{"/help", "显示本帮助"},
		{"/new", "开始新会话"},
		{"/retry", "重新生成上一条回复"},
		{"/history", "列出本地会话记录"},
		{"/open <编号>", "打开历史会话"},
		{"/delete <编号>", "删除历史会话"},
		{"/quit", "退出"},
	}
	for _, h := range help {
		fmt.Printf("  %-16s %s\n", h[0], infoStyle.Render(h[1]))
	}
}

// listHistory prints the cached conversation list, numbered for /open.
func (s *Session) listHistory() error {
	if s.Store == nil {
		return fmt.Errorf("本地缓存未启用")
	}
	items, err := s.Store.List(s.Config.Chat.HistoryLimit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println(infoStyle.Render("暂无本地会话记录。"))
		return nil
	}
	for i, item := range items {
		title := item.Title
		if title == "" {
			title = item.Preview
		}
		fmt.Printf("  %2d. %s %s\n", i+1, title,
			infoStyle.Render(fmt.Sprintf("(%s, %d条消息)",
				item.UpdatedAt.Format("2006-01-02 15:04"), item.MessageCount)))
	}
	return nil
}

func (s *Session) nthHistoryID(arg string) (string, error) {
	if s.Store == nil {
		return "", fmt.Errorf("本地缓存未启用")
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return "", fmt.Errorf("无效的编号: %s", arg)
	}
	items, err := s.Store.List(s.Config.Chat.HistoryLimit)
	if err != nil {
		return "", err
	}
	if n > len(items) {
		return "", fmt.Errorf("编号超出范围: %d", n)
	}
	return items[n-1].ID, nil
}

// openHistory loads a conversation, preferring the backend copy and
// falling back to the local cache.
func (s *Session) openHistory(arg string) error {
	id, err := s.nthHistoryID(arg)
	if err != nil {
		return err
	}

	if s.Client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if detail, err := s.Client.GetConversationDetail(ctx, id); err == nil {
			s.Controller.LoadHistory(detail)
			s.printConversation()
			return nil
		}
	}

	conv, err := s.Store.Load(id)
	if err != nil {
		return err
	}
	s.Controller.Restore(conv)
	s.printConversation()
	return nil
}

func (s *Session) deleteHistory(arg string) error {
	id, err := s.nthHistoryID(arg)
	if err != nil {
		return err
	}
	if err := s.Store.Delete(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if s.Client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Client.DeleteConversation(ctx, id)
	}
	fmt.Println(infoStyle.Render("会话已删除。"))
	return nil
}

func (s *Session) printConversation() {
	conv := s.Controller.Conversation()
	fmt.Println()
	for _, msg := range conv.Messages {
		label := assistantStyle.Render("法律助手")
		if msg.Role == model.RoleUser {
			label = promptStyle.Render("我")
		}
		fmt.Printf("%s %s\n", label, infoStyle.Render(msg.Timestamp.Format("2006-01-02 15:04")))
		if msg.Content != "" {
			fmt.Println(msg.Content)
		}
		if msg.ActionData != nil {
			printActionCard(msg)
			if msg.ActionResponse != "" {
				fmt.Println(infoStyle.Render("  " + msg.ActionResponse))
			}
		}
		fmt.Println()
	}
}
