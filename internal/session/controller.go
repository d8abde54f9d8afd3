// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session drives one streaming chat exchange end to end: it
// opens the stream, feeds raw bytes through the frame decoder and the
// event classifier, applies classified events to the conversation state
// machine, and seals the exchange exactly once on any outcome.
package session

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lexforge/lexchat/internal/action"
	"github.com/lexforge/lexchat/internal/cloud"
	"github.com/lexforge/lexchat/internal/model"
	"github.com/lexforge/lexchat/internal/protocol"
)

// =============================================================================
// PHASES
// =============================================================================

// Phase is the lifecycle state of the streaming session.
type Phase int

const (
	// PhaseIdle means no exchange is in flight.
	PhaseIdle Phase = iota
	// PhaseOpening means the request has been dispatched but no frame
	// has arrived yet.
	PhaseOpening
	// PhaseStreaming means the response body is open and frames are
	// being applied.
	PhaseStreaming
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOpening:
		return "opening"
	case PhaseStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyMessage is returned when a send has no content after
	// trimming.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoUserMessage is returned when regeneration finds nothing to
	// retry.
	ErrNoUserMessage = errors.New("no user message to regenerate")
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// StreamOpener opens a streaming chat exchange. *cloud.Client satisfies
// this; tests substitute scripted streams.
type StreamOpener interface {
	OpenStream(ctx context.Context, req cloud.ChatRequest) (io.ReadCloser, error)
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Config wires a Controller.
type Config struct {
	// Opener is required.
	Opener StreamOpener

	// OnUpdate receives a deep snapshot after every visible state
	// change. Called from controller goroutines; must not call back
	// into the controller synchronously.
	OnUpdate func(*model.Conversation)

	// Action side-effect collaborators, all optional.
	Reporter      action.Reporter
	Uploader      action.Uploader
	Generator     action.DocumentGenerator
	Downloader    action.Downloader
	Documents     action.DocumentSink
	Navigator     action.Navigator
	NavigateDelay time.Duration

	Logger *log.Logger
}

// Controller owns one conversation and at most one in-flight stream.
//
// A new send cancels the previous exchange first, so the single-open
// message invariant holds across rapid resubmits. All conversation
// mutation happens under one mutex; observers only ever see snapshots.
type Controller struct {
	opener  StreamOpener
	actions *action.Manager
	logger  *log.Logger

	onUpdate func(*model.Conversation)

	mu          sync.Mutex
	conv        *model.Conversation
	phase       Phase
	cancel      context.CancelFunc
	streamMsgID string // client id of the open assistant message
	gen         int    // session generation; stale goroutines stand down

	wg sync.WaitGroup
}

// NewController creates a session controller for a fresh conversation.
func NewController(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	c := &Controller{
		opener:   cfg.Opener,
		logger:   logger,
		onUpdate: cfg.OnUpdate,
		conv:     model.NewConversation(""),
		phase:    PhaseIdle,
	}
	c.actions = action.NewManager(action.Config{
		Status:        c,
		Reporter:      cfg.Reporter,
		Uploader:      cfg.Uploader,
		Generator:     cfg.Generator,
		Downloader:    cfg.Downloader,
		Documents:     cfg.Documents,
		Navigator:     cfg.Navigator,
		Logger:        logger,
		NavigateDelay: cfg.NavigateDelay,
	})
	return c
}

// Conversation returns a deep snapshot of the current conversation.
func (c *Controller) Conversation() *model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.Snapshot()
}

// Phase returns the current session phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Busy reports whether an exchange is in flight.
func (c *Controller) Busy() bool {
	return c.Phase() != PhaseIdle
}

// Wait blocks until all controller goroutines have finished. Used on
// shutdown and in tests.
func (c *Controller) Wait() {
	c.wg.Wait()
	c.actions.Wait()
}

// =============================================================================
// SENDING
// =============================================================================

// Send dispatches a user message and starts streaming the reply. An
// exchange already in flight is cancelled first; its partial content is
// kept and sealed.
func (c *Controller) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	c.start(text, true)
	return nil
}

// RegenerateLast retries the last user turn: everything after it is
// dropped and the same text is sent again without duplicating the user
// message.
func (c *Controller) RegenerateLast() error {
	c.mu.Lock()
	c.cancelLocked()
	last := c.conv.TruncateAfterLastUser()
	c.mu.Unlock()

	if last == nil {
		c.notify()
		return ErrNoUserMessage
	}
	c.start(last.Content, false)
	return nil
}

// Cancel aborts the in-flight exchange, if any. Partial content is
// sealed in place; cancellation is not an error and produces no notice.
func (c *Controller) Cancel() {
	c.mu.Lock()
	c.cancelLocked()
	c.mu.Unlock()
	c.notify()
}

// cancelLocked aborts the current stream. Caller holds c.mu.
func (c *Controller) cancelLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	c.conv.SealCancelled(c.streamMsgID)
	c.phase = PhaseIdle
}

// start begins a new exchange. When addUser is false the last user
// message is being retried and only the assistant side is appended.
func (c *Controller) start(text string, addUser bool) {
	c.mu.Lock()
	c.cancelLocked()

	if addUser {
		c.conv.AddUserMessage(text)
	}
	msg := c.conv.OpenAssistantMessage()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.streamMsgID = msg.ID
	c.phase = PhaseOpening
	c.gen++
	gen := c.gen

	req := cloud.ChatRequest{Message: text, ConversationID: c.conv.ID}
	c.mu.Unlock()

	c.notify()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, gen, msg.ID, req)
	}()
}

// =============================================================================
// STREAM PIPELINE
// =============================================================================

// run performs one exchange: open, read, decode, classify, apply, seal.
func (c *Controller) run(ctx context.Context, gen int, msgID string, req cloud.ChatRequest) {
	body, err := c.opener.OpenStream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return // cancelled while opening; already sealed
		}
		c.logger.Printf("failed to open stream: %v", err)
		c.finishError(gen, msgID, model.NoticeSendError)
		return
	}
	defer body.Close()

	c.setPhase(gen, PhaseStreaming)
	c.notify()

	var dec protocol.FrameDecoder
	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if frames := dec.Write(buf[:n]); len(frames) > 0 {
				c.applyFrames(gen, msgID, frames)
			}
		}
		if dec.Done() {
			break
		}
		if readErr == io.EOF {
			// Lenient: a final frame without its newline still counts.
			if frames := dec.Flush(); len(frames) > 0 {
				c.applyFrames(gen, msgID, frames)
			}
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return // cancelled mid-read; already sealed
			}
			c.logger.Printf("stream read failed: %v", readErr)
			c.finishError(gen, msgID, model.NoticeReadError)
			return
		}
	}

	c.finishClean(gen, msgID)
}

// applyFrames classifies decoded frames and applies their events under
// the lock, then publishes one snapshot for the batch.
func (c *Controller) applyFrames(gen int, msgID string, frames []string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	var autoComplete *protocol.ActionDirective
	var reportID string
	for _, frame := range frames {
		events, ok := protocol.Classify(frame)
		if !ok {
			c.logger.Printf("dropping unparseable frame: %.80s", frame)
			continue
		}

		for _, ev := range events {
			c.conv.Apply(msgID, ev)
			if ev.Kind != protocol.EventCompletion {
				continue
			}
			// The completion marker settles any directive still awaiting
			// a decision, whether it arrived with this marker or frames
			// earlier. A stream that ends without a marker leaves the
			// directive pending for the user instead.
			if msg := c.conv.MessageByID(msgID); msg != nil && msg.ActionData != nil && msg.ActionStatus == "" {
				autoComplete = msg.ActionData
				reportID = msg.AuthoritativeID()
			}
		}
	}
	c.actions.SetConversationID(c.conv.ID)
	c.mu.Unlock()

	c.notify()

	if autoComplete != nil {
		c.actions.AutoComplete(autoComplete, reportID)
	}
}

// finishClean seals the exchange after a normal stream end.
func (c *Controller) finishClean(gen int, msgID string) {
	c.mu.Lock()
	if gen == c.gen {
		c.conv.SealStreamEnd(msgID)
		c.phase = PhaseIdle
		c.cancel = nil
	}
	c.mu.Unlock()
	c.notify()
}

// finishError seals the exchange after a failure, keeping partial
// content and falling back to the notice only for an empty body.
func (c *Controller) finishError(gen int, msgID, notice string) {
	c.mu.Lock()
	if gen == c.gen {
		c.conv.SealError(msgID, notice)
		c.phase = PhaseIdle
		c.cancel = nil
	}
	c.mu.Unlock()
	c.notify()
}

// setPhase transitions the phase if the session is still current.
func (c *Controller) setPhase(gen int, p Phase) {
	c.mu.Lock()
	if gen == c.gen {
		c.phase = p
	}
	c.mu.Unlock()
}

// notify publishes a snapshot to the observer, outside the lock.
func (c *Controller) notify() {
	if c.onUpdate == nil {
		return
	}
	c.onUpdate(c.Conversation())
}

// =============================================================================
// ACTION RESOLUTION
// =============================================================================

// ResolveAction commits the user's decision on the action attached to
// the given message (client or server id accepted). The local state
// change is synchronous; reporting and side effects are not.
func (c *Controller) ResolveAction(messageID string, decision action.Decision) {
	d, authID := c.directiveFor(messageID)
	if d == nil {
		return
	}
	c.actions.Resolve(d, authID, decision)
}

// ResolveUploadAction handles a confirmed upload with the user's chosen
// file. Runs the transfer in the calling goroutine.
func (c *Controller) ResolveUploadAction(ctx context.Context, messageID, fileName string, size int64, r io.Reader) {
	d, authID := c.directiveFor(messageID)
	if d == nil {
		return
	}
	c.actions.ResolveUpload(ctx, d, authID, fileName, size, r)
}

// directiveFor resolves a message's directive and authoritative id.
func (c *Controller) directiveFor(messageID string) (*protocol.ActionDirective, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.conv.MessageByAnyID(messageID)
	if msg == nil || msg.ActionData == nil {
		return nil, ""
	}
	return msg.ActionData, msg.AuthoritativeID()
}

// UpdateActionStatus implements action.StatusApplier: it commits a
// decision to the owning message and publishes a snapshot.
func (c *Controller) UpdateActionStatus(messageID string, status model.ActionStatus, response string, metadata map[string]any) {
	c.mu.Lock()
	if msg := c.conv.MessageByAnyID(messageID); msg != nil {
		msg.ActionStatus = status
		msg.ActionResponse = response
		msg.ActionMetadata = metadata
		c.conv.UpdatedAt = time.Now()
	}
	c.mu.Unlock()
	c.notify()
}

// =============================================================================
// HISTORY LOADING
// =============================================================================

// LoadHistory replaces the conversation with a stored one from the
// backend. Assistant messages are run through the classifier so legacy
// inline action markers are stripped into proper directives; historical
// actions arrive already resolved.
func (c *Controller) LoadHistory(detail *cloud.ConversationDetail) {
	conv := model.NewConversation(detail.Conversation.ID)
	conv.Title = detail.Conversation.Title

	for _, rm := range detail.Messages {
		var msg *model.Message
		switch rm.Role {
		case model.RoleUser.String():
			msg = model.NewUserMessage(rm.Content)
		default:
			msg = model.NewAssistantMessage()
			msg.SetServerMessageID(rm.MessageID)
			if events, ok := protocol.Classify(rm.Content); ok {
				for _, ev := range events {
					switch ev.Kind {
					case protocol.EventText:
						msg.AppendText(ev.Text)
					case protocol.EventAction:
						if msg.AttachDirective(ev.Directive) {
							msg.ActionStatus = model.ActionStatusCompleted
						}
					}
				}
			} else {
				msg.AppendText(rm.Content)
			}
			msg.Seal()
		}
		if rm.Timestamp > 0 {
			msg.Timestamp = time.UnixMilli(rm.Timestamp)
		}
		conv.AddMessage(msg)
	}

	c.mu.Lock()
	c.cancelLocked()
	c.conv = conv
	c.mu.Unlock()

	c.actions.SetConversationID(detail.Conversation.ID)
	c.notify()
}

// Restore replaces the conversation with one loaded from the local
// cache. The snapshot was classified when it was first streamed, so no
// re-classification happens here.
func (c *Controller) Restore(conv *model.Conversation) {
	c.mu.Lock()
	c.cancelLocked()
	c.conv = conv
	c.mu.Unlock()

	c.actions.SetConversationID(conv.ID)
	c.notify()
}

// Reset clears the controller back to a brand-new conversation.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.cancelLocked()
	c.conv = model.NewConversation("")
	c.mu.Unlock()

	c.actions.SetConversationID("")
	c.notify()
}
