// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package action manages the lifecycle of interactive action directives:
// the user's decision is committed to local message state first, then
// reported to the backend best-effort, then any side effect (upload,
// download, document generation, lawyer matching) runs asynchronously.
package action

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/lexforge/lexchat/internal/cloud"
	"github.com/lexforge/lexchat/internal/model"
	"github.com/lexforge/lexchat/internal/protocol"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// reportTimeout bounds a single best-effort outcome report.
	reportTimeout = 30 * time.Second

	// generateTimeout bounds a document generation round trip.
	generateTimeout = 120 * time.Second

	// defaultNavigateDelay is the pause before switching to the lawyer
	// list after a confirmed find_lawyer action. The switch is a
	// convenience, not a synchronization point.
	defaultNavigateDelay = 1500 * time.Millisecond

	// Fixed document template served for download actions.
	downloadTemplateURL  = "https://example.com/sample-document.pdf"
	downloadTemplateName = "法律文档模板.pdf"

	// lawsuitPrompt asks the backend to draft a filing from the
	// conversation context.
	lawsuitPrompt = "请根据我们的对话内容生成诉讼文书"

	// defaultLawsuitName names the generated filing when the backend
	// does not supply one.
	defaultLawsuitName = "诉讼文书.txt"

	// NavigationLawyers is the destination passed to the navigator after
	// a confirmed find_lawyer action.
	NavigationLawyers = "lawyers"
)

// Transient user-facing notices for side effects in progress or failed.
const (
	noticeUploading      = "正在上传文件..."
	noticeUploadFailed   = "文件上传失败，请重试"
	noticeDownloading    = "正在下载文件..."
	noticeDownloadFailed = "文件下载失败，请重试"
	noticeGenerateFailed = "诉讼文书生成失败，请稍后再试。"
)

// =============================================================================
// DECISIONS
// =============================================================================

// Decision is the user's resolution of an action directive.
type Decision string

const (
	DecisionConfirmed    Decision = "confirmed"
	DecisionCancelled    Decision = "cancelled"
	DecisionCompleted    Decision = "completed"
	DecisionAcknowledged Decision = "acknowledged"
	DecisionViewDetails  Decision = "view_details"
	DecisionUploaded     Decision = "uploaded"
	DecisionDownloaded   Decision = "downloaded"
)

// statusForDecision maps a decision to the message action status it
// commits. Acknowledgement-style decisions close the action surface.
func statusForDecision(d Decision) model.ActionStatus {
	switch d {
	case DecisionConfirmed:
		return model.ActionStatusConfirmed
	case DecisionCancelled:
		return model.ActionStatusCancelled
	case DecisionUploaded:
		return model.ActionStatusUploaded
	case DecisionDownloaded:
		return model.ActionStatusDownloaded
	default:
		return model.ActionStatusCompleted
	}
}

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// StatusApplier commits an action decision to the owning message's local
// state. Implementations must be safe for concurrent use; side effects
// call back from their own goroutines.
type StatusApplier interface {
	UpdateActionStatus(messageID string, status model.ActionStatus, response string, metadata map[string]any)
}

// Reporter delivers resolved action outcomes to the backend.
type Reporter interface {
	ReportActionOutcome(ctx context.Context, outcome cloud.ActionOutcome, messageID string) error
}

// Uploader sends a user-selected file to the backend.
type Uploader interface {
	UploadFile(ctx context.Context, name string, r io.Reader) (*cloud.UploadResult, error)
}

// DocumentGenerator drafts a legal document from conversation context.
type DocumentGenerator interface {
	GenerateDocument(ctx context.Context, conversationID, prompt string) (*cloud.Document, error)
}

// Downloader fetches a remote file to local storage and returns the
// saved path.
type Downloader interface {
	Download(ctx context.Context, url, fileName string) (string, error)
}

// DocumentSink persists a generated document and returns the saved path.
type DocumentSink interface {
	SaveDocument(fileName, content string) (string, error)
}

// Navigator switches the UI to another view.
type Navigator interface {
	NavigateTo(destination string)
}

// =============================================================================
// MANAGER
// =============================================================================

// Config wires a Manager's collaborators. Status is required; every
// other collaborator is optional and its side effect is skipped when
// absent.
type Config struct {
	Status        StatusApplier
	Reporter      Reporter
	Uploader      Uploader
	Generator     DocumentGenerator
	Downloader    Downloader
	Documents     DocumentSink
	Navigator     Navigator
	Logger        *log.Logger
	NavigateDelay time.Duration
}

// Manager resolves action directives.
//
// Resolution order is fixed: the local status commit happens
// synchronously before anything touches the network, the outcome report
// is fire-and-forget, and side effects run in background goroutines.
// A failed report or side effect never rolls the committed decision
// back.
type Manager struct {
	status        StatusApplier
	reporter      Reporter
	uploader      Uploader
	generator     DocumentGenerator
	downloader    Downloader
	documents     DocumentSink
	navigator     Navigator
	logger        *log.Logger
	navigateDelay time.Duration

	wg sync.WaitGroup

	mu             sync.Mutex
	conversationID string
	generating     map[string]struct{}
}

// NewManager creates an action manager from its collaborators.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	delay := cfg.NavigateDelay
	if delay == 0 {
		delay = defaultNavigateDelay
	}
	return &Manager{
		status:        cfg.Status,
		reporter:      cfg.Reporter,
		uploader:      cfg.Uploader,
		generator:     cfg.Generator,
		downloader:    cfg.Downloader,
		documents:     cfg.Documents,
		navigator:     cfg.Navigator,
		logger:        logger,
		navigateDelay: delay,
		generating:    make(map[string]struct{}),
	}
}

// SetConversationID records the active conversation for side effects
// that need it (document generation).
func (m *Manager) SetConversationID(id string) {
	m.mu.Lock()
	m.conversationID = id
	m.mu.Unlock()
}

// Wait blocks until all in-flight reports and side effects finish.
// Used on shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolve commits the user's decision on a directive.
//
// The local status update is synchronous and unconditional; the outcome
// report and any confirmed side effect follow asynchronously. messageID
// must be the message's authoritative id.
func (m *Manager) Resolve(d *protocol.ActionDirective, messageID string, decision Decision) {
	if d == nil || messageID == "" {
		return
	}

	desc := describeOutcome(d.Type, decision, nil)
	m.status.UpdateActionStatus(messageID, statusForDecision(decision), desc, nil)
	m.report(d, messageID, decision, nil)

	if decision != DecisionConfirmed {
		return
	}
	switch d.Type {
	case protocol.ActionLawsuit:
		m.generateLawsuit(d, messageID)
	case protocol.ActionFindLawyer:
		m.scheduleNavigation()
	case protocol.ActionDownload:
		m.downloadTemplate(d, messageID)
	}
}

// AutoComplete marks a directive settled by stream completion as
// already handled, so the backend's record matches the client's.
func (m *Manager) AutoComplete(d *protocol.ActionDirective, messageID string) {
	m.Resolve(d, messageID, DecisionCompleted)
}

// ResolveUpload handles a confirmed upload action with the user's
// chosen file. The transfer itself runs synchronously in the caller's
// goroutine; on failure the action reverts to pending so the user can
// retry.
func (m *Manager) ResolveUpload(ctx context.Context, d *protocol.ActionDirective, messageID, fileName string, size int64, r io.Reader) {
	if d == nil || messageID == "" {
		return
	}
	if m.uploader == nil {
		m.logger.Printf("upload requested but no uploader configured")
		return
	}

	m.status.UpdateActionStatus(messageID, model.ActionStatusUploading, noticeUploading, nil)

	result, err := m.uploader.UploadFile(ctx, fileName, r)
	if err != nil {
		m.logger.Printf("file upload failed: %v", err)
		m.status.UpdateActionStatus(messageID, model.ActionStatusPending, noticeUploadFailed, nil)
		return
	}

	meta := map[string]any{
		"fileUrl":  result.URL,
		"fileName": fileName,
		"fileSize": size,
	}
	desc := describeOutcome(d.Type, DecisionUploaded, meta)
	m.status.UpdateActionStatus(messageID, model.ActionStatusUploaded, desc, meta)
	m.report(d, messageID, DecisionUploaded, meta)
}

// =============================================================================
// OUTCOME REPORTING
// =============================================================================

// report delivers the outcome in the background. Failures are logged
// and never undo the locally committed state.
func (m *Manager) report(d *protocol.ActionDirective, messageID string, decision Decision, meta map[string]any) {
	if m.reporter == nil {
		return
	}
	outcome := cloud.ActionOutcome{
		Action:   d,
		Status:   string(decision),
		Metadata: meta,
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		defer cancel()
		if err := m.reporter.ReportActionOutcome(ctx, outcome, messageID); err != nil {
			m.logger.Printf("action outcome report failed (message %s): %v", messageID, err)
		}
	}()
}

// =============================================================================
// SIDE EFFECTS
// =============================================================================

// generateLawsuit drafts the filing in the background. At most one
// generation per message may be in flight; repeated confirms while one
// is running are dropped.
func (m *Manager) generateLawsuit(d *protocol.ActionDirective, messageID string) {
	if m.generator == nil {
		return
	}
	if !m.beginGeneration(messageID) {
		m.logger.Printf("document generation already in flight for message %s", messageID)
		return
	}

	m.mu.Lock()
	convID := m.conversationID
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.endGeneration(messageID)

		ctx, cancel := context.WithTimeout(context.Background(), generateTimeout)
		defer cancel()

		doc, err := m.generator.GenerateDocument(ctx, convID, lawsuitPrompt)
		if err != nil {
			m.logger.Printf("document generation failed: %v", err)
			m.status.UpdateActionStatus(messageID, model.ActionStatusConfirmed, noticeGenerateFailed, nil)
			return
		}

		name := doc.FileName
		if name == "" {
			name = defaultLawsuitName
		}
		meta := map[string]any{"fileName": name}
		if m.documents != nil {
			path, err := m.documents.SaveDocument(name, doc.Content)
			if err != nil {
				m.logger.Printf("failed to save generated document: %v", err)
			} else {
				meta["savedTo"] = path
			}
		}
		m.status.UpdateActionStatus(messageID, model.ActionStatusCompleted, "诉讼文书已生成："+name, meta)
	}()
}

// downloadTemplate fetches the fixed document template in the
// background. On failure the action reverts to pending for retry.
func (m *Manager) downloadTemplate(d *protocol.ActionDirective, messageID string) {
	if m.downloader == nil {
		return
	}

	m.status.UpdateActionStatus(messageID, model.ActionStatusDownloading, noticeDownloading, nil)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), generateTimeout)
		defer cancel()

		path, err := m.downloader.Download(ctx, downloadTemplateURL, downloadTemplateName)
		if err != nil {
			m.logger.Printf("template download failed: %v", err)
			m.status.UpdateActionStatus(messageID, model.ActionStatusPending, noticeDownloadFailed, nil)
			return
		}

		meta := map[string]any{
			"fileName": downloadTemplateName,
			"savedTo":  path,
		}
		desc := describeOutcome(d.Type, DecisionDownloaded, meta)
		m.status.UpdateActionStatus(messageID, model.ActionStatusDownloaded, desc, meta)
		m.report(d, messageID, DecisionDownloaded, meta)
	}()
}

// scheduleNavigation switches to the lawyer list after a short pause so
// the confirmation feedback stays visible first.
func (m *Manager) scheduleNavigation() {
	if m.navigator == nil {
		return
	}
	m.wg.Add(1)
	time.AfterFunc(m.navigateDelay, func() {
		defer m.wg.Done()
		m.navigator.NavigateTo(NavigationLawyers)
	})
}

// =============================================================================
// GENERATION GUARD
// =============================================================================

func (m *Manager) beginGeneration(messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.generating[messageID]; busy {
		return false
	}
	m.generating[messageID] = struct{}{}
	return true
}

func (m *Manager) endGeneration(messageID string) {
	m.mu.Lock()
	delete(m.generating, messageID)
	m.mu.Unlock()
}

// formatFileSize renders a byte count as megabytes for outcome text.
func formatFileSize(size int64) string {
	return fmt.Sprintf("%.2fMB", float64(size)/1024/1024)
}
