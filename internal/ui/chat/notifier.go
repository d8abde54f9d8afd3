// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexforge/lexchat/internal/model"
)

// Notifier bridges session controller callbacks into the Bubble Tea
// event loop. Controller goroutines call it concurrently; messages sent
// before Attach are dropped, which only loses repaints of the initial
// empty conversation.
type Notifier struct {
	mu sync.Mutex
	p  *tea.Program
}

// NewNotifier creates an unattached notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Attach binds the notifier to a running program.
func (n *Notifier) Attach(p *tea.Program) {
	n.mu.Lock()
	n.p = p
	n.mu.Unlock()
}

func (n *Notifier) send(msg tea.Msg) {
	n.mu.Lock()
	p := n.p
	n.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// ConversationUpdated forwards a controller snapshot to the UI. Wired as
// the controller's OnUpdate callback.
func (n *Notifier) ConversationUpdated(conv *model.Conversation) {
	n.send(ConversationMsg{Conv: conv})
}

// NavigateTo satisfies action.Navigator.
func (n *Notifier) NavigateTo(destination string) {
	n.send(NavigateMsg{Destination: destination})
}
