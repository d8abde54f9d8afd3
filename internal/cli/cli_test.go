// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"path/filepath"
	"testing"

	"github.com/lexforge/lexchat/internal/config"
	"github.com/lexforge/lexchat/internal/model"
	"github.com/lexforge/lexchat/internal/protocol"
	"github.com/lexforge/lexchat/internal/session"
	"github.com/lexforge/lexchat/internal/storage"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return &Session{
		Config:     config.Default(),
		Controller: session.NewController(session.Config{}),
		Store:      store,
	}
}

func seedConversation(t *testing.T, s *Session, id, question string) {
	t.Helper()
	conv := model.NewConversation(id)
	conv.AddUserMessage(question)
	msg := conv.OpenAssistantMessage()
	msg.AppendText("好的。")
	msg.Seal()
	if err := s.Store.Save(conv); err != nil {
		t.Fatal(err)
	}
}

func TestPendingActionSkipsResolved(t *testing.T) {
	conv := model.NewConversation("c1")
	msg := conv.OpenAssistantMessage()
	msg.AttachDirective(&protocol.ActionDirective{Type: protocol.ActionConfirm})
	msg.Seal()

	if pendingAction(conv) == nil {
		t.Error("unresolved action should be pending")
	}

	msg.ActionStatus = model.ActionStatusCancelled
	if pendingAction(conv) != nil {
		t.Error("resolved action should not be pending")
	}
}

func TestPendingActionIgnoresStreamingMessage(t *testing.T) {
	conv := model.NewConversation("c1")
	msg := conv.OpenAssistantMessage()
	msg.AttachDirective(&protocol.ActionDirective{Type: protocol.ActionConfirm})

	if pendingAction(conv) != nil {
		t.Error("open message should not offer a decision yet")
	}
}

func TestHandleCommandErrors(t *testing.T) {
	s := newTestSession(t)

	if _, err := s.handleCommand("/open"); err == nil {
		t.Error("missing argument should error")
	}
	if _, err := s.handleCommand("/bogus"); err == nil {
		t.Error("unknown command should error")
	}
	keepGoing, err := s.handleCommand("/quit")
	if err != nil || keepGoing {
		t.Errorf("quit = (%v, %v)", keepGoing, err)
	}
}

func TestNthHistoryID(t *testing.T) {
	s := newTestSession(t)
	seedConversation(t, s, "conv-1", "劳动合同问题")

	id, err := s.nthHistoryID("1")
	if err != nil {
		t.Fatal(err)
	}
	if id != "conv-1" {
		t.Errorf("id = %q", id)
	}

	if _, err := s.nthHistoryID("2"); err == nil {
		t.Error("out-of-range index should error")
	}
	if _, err := s.nthHistoryID("zero"); err == nil {
		t.Error("non-numeric index should error")
	}
}

func TestDeleteHistoryRemovesFromStore(t *testing.T) {
	s := newTestSession(t)
	seedConversation(t, s, "conv-1", "咨询")

	if err := s.deleteHistory("1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Store.Load("conv-1"); err == nil {
		t.Error("conversation should be gone")
	}
}
