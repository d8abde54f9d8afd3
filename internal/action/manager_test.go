// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package action

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lexforge/lexchat/internal/cloud"
	"github.com/lexforge/lexchat/internal/model"
	"github.com/lexforge/lexchat/internal/protocol"
)

// =============================================================================
// FAKES
// =============================================================================

type statusUpdate struct {
	messageID string
	status    model.ActionStatus
	response  string
	metadata  map[string]any
}

type statusRecorder struct {
	mu      sync.Mutex
	updates []statusUpdate
}

func (r *statusRecorder) UpdateActionStatus(messageID string, status model.ActionStatus, response string, metadata map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, statusUpdate{messageID, status, response, metadata})
}

func (r *statusRecorder) all() []statusUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]statusUpdate(nil), r.updates...)
}

func (r *statusRecorder) last() statusUpdate {
	updates := r.all()
	if len(updates) == 0 {
		return statusUpdate{}
	}
	return updates[len(updates)-1]
}

type fakeReporter struct {
	mu       sync.Mutex
	outcomes []cloud.ActionOutcome
	ids      []string
	err      error
	gate     chan struct{} // when non-nil, blocks delivery until closed
}

func (f *fakeReporter) ReportActionOutcome(ctx context.Context, outcome cloud.ActionOutcome, messageID string) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
	f.ids = append(f.ids, messageID)
	return f.err
}

func (f *fakeReporter) delivered() []cloud.ActionOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cloud.ActionOutcome(nil), f.outcomes...)
}

type fakeUploader struct {
	mu    sync.Mutex
	calls int
	url   string
	err   error
}

func (f *fakeUploader) UploadFile(ctx context.Context, name string, r io.Reader) (*cloud.UploadResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &cloud.UploadResult{URL: f.url}, nil
}

func (f *fakeUploader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	doc   *cloud.Document
	err   error
	gate  chan struct{}
}

func (f *fakeGenerator) GenerateDocument(ctx context.Context, conversationID, prompt string) (*cloud.Document, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDownloader struct {
	path string
	err  error
}

func (f *fakeDownloader) Download(ctx context.Context, url, fileName string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.path + "/" + fileName, nil
}

type fakeSink struct {
	mu      sync.Mutex
	name    string
	content string
}

func (f *fakeSink) SaveDocument(fileName, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.name = fileName
	f.content = content
	return "/tmp/docs/" + fileName, nil
}

type fakeNavigator struct {
	mu   sync.Mutex
	dest string
}

func (f *fakeNavigator) NavigateTo(destination string) {
	f.mu.Lock()
	f.dest = destination
	f.mu.Unlock()
}

func (f *fakeNavigator) destination() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dest
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func directive(actionType string) *protocol.ActionDirective {
	return &protocol.ActionDirective{Type: actionType, Title: "t", Message: "m"}
}

// =============================================================================
// RESOLUTION ORDER
// =============================================================================

func TestResolveCommitsLocallyBeforeReport(t *testing.T) {
	status := &statusRecorder{}
	reporter := &fakeReporter{gate: make(chan struct{})}
	m := NewManager(Config{Status: status, Reporter: reporter, Logger: quietLogger()})

	m.Resolve(directive(protocol.ActionConfirm), "msg-1", DecisionConfirmed)

	// The local commit is visible before the report can possibly have
	// been delivered; the reporter is still blocked.
	last := status.last()
	if last.status != model.ActionStatusConfirmed {
		t.Fatalf("status = %q, want confirmed", last.status)
	}
	if last.response != "用户已确认执行操作" {
		t.Errorf("response = %q", last.response)
	}
	if got := reporter.delivered(); len(got) != 0 {
		t.Fatalf("report delivered before release: %v", got)
	}

	close(reporter.gate)
	m.Wait()

	got := reporter.delivered()
	if len(got) != 1 {
		t.Fatalf("delivered %d reports, want 1", len(got))
	}
	if got[0].Status != string(DecisionConfirmed) {
		t.Errorf("reported status = %q", got[0].Status)
	}
}

func TestReportFailureKeepsDecision(t *testing.T) {
	status := &statusRecorder{}
	reporter := &fakeReporter{err: errors.New("backend down")}
	m := NewManager(Config{Status: status, Reporter: reporter, Logger: quietLogger()})

	m.Resolve(directive(protocol.ActionWarning), "msg-1", DecisionAcknowledged)
	m.Wait()

	updates := status.all()
	if len(updates) != 1 {
		t.Fatalf("got %d status updates, want 1 (no rollback)", len(updates))
	}
	if updates[0].status != model.ActionStatusCompleted {
		t.Errorf("status = %q, want completed", updates[0].status)
	}
	if updates[0].response != "用户已知悉法律风险提醒" {
		t.Errorf("response = %q", updates[0].response)
	}
}

func TestCancelledUploadSkipsTransfer(t *testing.T) {
	status := &statusRecorder{}
	reporter := &fakeReporter{}
	uploader := &fakeUploader{url: "https://cdn/file"}
	m := NewManager(Config{Status: status, Reporter: reporter, Uploader: uploader, Logger: quietLogger()})

	m.Resolve(directive(protocol.ActionUpload), "msg-1", DecisionCancelled)
	m.Wait()

	if uploader.callCount() != 0 {
		t.Fatal("uploader invoked for a cancelled action")
	}
	last := status.last()
	if last.status != model.ActionStatusCancelled {
		t.Errorf("status = %q, want cancelled", last.status)
	}
	if last.response != "用户拒绝上传文件" {
		t.Errorf("response = %q", last.response)
	}
	got := reporter.delivered()
	if len(got) != 1 || got[0].Status != string(DecisionCancelled) {
		t.Errorf("reported outcomes = %v", got)
	}
}

// =============================================================================
// UPLOAD LIFECYCLE
// =============================================================================

func TestUploadLifecycle(t *testing.T) {
	status := &statusRecorder{}
	reporter := &fakeReporter{}
	uploader := &fakeUploader{url: "https://cdn/evidence.pdf"}
	m := NewManager(Config{Status: status, Reporter: reporter, Uploader: uploader, Logger: quietLogger()})

	m.ResolveUpload(context.Background(), directive(protocol.ActionUpload), "msg-1",
		"evidence.pdf", 2*1024*1024, strings.NewReader("pdf bytes"))
	m.Wait()

	updates := status.all()
	if len(updates) != 2 {
		t.Fatalf("got %d status updates, want uploading then uploaded", len(updates))
	}
	if updates[0].status != model.ActionStatusUploading {
		t.Errorf("first status = %q", updates[0].status)
	}
	last := updates[1]
	if last.status != model.ActionStatusUploaded {
		t.Errorf("final status = %q", last.status)
	}
	if last.response != "用户已确认上传文件：evidence.pdf(2.00MB)" {
		t.Errorf("response = %q", last.response)
	}
	if last.metadata["fileUrl"] != "https://cdn/evidence.pdf" {
		t.Errorf("metadata = %v", last.metadata)
	}

	got := reporter.delivered()
	if len(got) != 1 || got[0].Status != string(DecisionUploaded) {
		t.Fatalf("reported outcomes = %v", got)
	}
	if got[0].Metadata["fileName"] != "evidence.pdf" {
		t.Errorf("report metadata = %v", got[0].Metadata)
	}
}

func TestUploadFailureRevertsToPending(t *testing.T) {
	status := &statusRecorder{}
	reporter := &fakeReporter{}
	uploader := &fakeUploader{err: errors.New("connection reset")}
	m := NewManager(Config{Status: status, Reporter: reporter, Uploader: uploader, Logger: quietLogger()})

	m.ResolveUpload(context.Background(), directive(protocol.ActionUpload), "msg-1",
		"evidence.pdf", 1024, strings.NewReader("x"))
	m.Wait()

	last := status.last()
	if last.status != model.ActionStatusPending {
		t.Fatalf("status = %q, want pending for retry", last.status)
	}
	if last.response != noticeUploadFailed {
		t.Errorf("response = %q", last.response)
	}
	if got := reporter.delivered(); len(got) != 0 {
		t.Errorf("failed upload reported as outcome: %v", got)
	}
}

// =============================================================================
// DOCUMENT GENERATION
// =============================================================================

func TestLawsuitGenerationFlow(t *testing.T) {
	status := &statusRecorder{}
	reporter := &fakeReporter{}
	generator := &fakeGenerator{doc: &cloud.Document{Content: "兹有...", FileName: "起诉状.txt"}}
	sink := &fakeSink{}
	m := NewManager(Config{
		Status: status, Reporter: reporter,
		Generator: generator, Documents: sink,
		Logger: quietLogger(),
	})
	m.SetConversationID("conv-9")

	m.Resolve(directive(protocol.ActionLawsuit), "msg-1", DecisionConfirmed)
	m.Wait()

	updates := status.all()
	if len(updates) != 2 {
		t.Fatalf("got %d status updates, want confirm then completion", len(updates))
	}
	if updates[0].response != "用户已确认发起诉讼，正在生成诉讼文书" {
		t.Errorf("confirm response = %q", updates[0].response)
	}
	last := updates[1]
	if last.status != model.ActionStatusCompleted {
		t.Errorf("final status = %q", last.status)
	}
	if last.response != "诉讼文书已生成：起诉状.txt" {
		t.Errorf("final response = %q", last.response)
	}
	if last.metadata["savedTo"] != "/tmp/docs/起诉状.txt" {
		t.Errorf("metadata = %v", last.metadata)
	}
	if sink.name != "起诉状.txt" {
		t.Errorf("saved document name = %q", sink.name)
	}
}

func TestLawsuitGenerationInFlightGuard(t *testing.T) {
	status := &statusRecorder{}
	generator := &fakeGenerator{doc: &cloud.Document{Content: "..."}, gate: make(chan struct{})}
	m := NewManager(Config{Status: status, Generator: generator, Logger: quietLogger()})

	d := directive(protocol.ActionLawsuit)
	m.Resolve(d, "msg-1", DecisionConfirmed)
	m.Resolve(d, "msg-1", DecisionConfirmed)

	close(generator.gate)
	m.Wait()

	if got := generator.callCount(); got != 1 {
		t.Fatalf("generator called %d times, want 1", got)
	}
}

func TestLawsuitGenerationFailure(t *testing.T) {
	status := &statusRecorder{}
	generator := &fakeGenerator{err: errors.New("timeout")}
	m := NewManager(Config{Status: status, Generator: generator, Logger: quietLogger()})

	m.Resolve(directive(protocol.ActionLawsuit), "msg-1", DecisionConfirmed)
	m.Wait()

	last := status.last()
	if last.status != model.ActionStatusConfirmed {
		t.Errorf("status = %q, want confirmed retained", last.status)
	}
	if last.response != noticeGenerateFailed {
		t.Errorf("response = %q", last.response)
	}
}

// =============================================================================
// DOWNLOAD AND NAVIGATION
// =============================================================================

func TestDownloadTemplate(t *testing.T) {
	status := &statusRecorder{}
	reporter := &fakeReporter{}
	dl := &fakeDownloader{path: "/tmp/downloads"}
	m := NewManager(Config{Status: status, Reporter: reporter, Downloader: dl, Logger: quietLogger()})

	m.Resolve(directive(protocol.ActionDownload), "msg-1", DecisionConfirmed)
	m.Wait()

	updates := status.all()
	// confirmed, downloading, downloaded
	if len(updates) != 3 {
		t.Fatalf("got %d status updates: %v", len(updates), updates)
	}
	last := updates[2]
	if last.status != model.ActionStatusDownloaded {
		t.Errorf("final status = %q", last.status)
	}
	if last.metadata["savedTo"] != "/tmp/downloads/"+downloadTemplateName {
		t.Errorf("metadata = %v", last.metadata)
	}

	got := reporter.delivered()
	if len(got) != 2 {
		t.Fatalf("delivered %d reports, want confirmed and downloaded", len(got))
	}
}

func TestFindLawyerNavigates(t *testing.T) {
	status := &statusRecorder{}
	nav := &fakeNavigator{}
	m := NewManager(Config{
		Status: status, Navigator: nav,
		NavigateDelay: time.Millisecond,
		Logger:        quietLogger(),
	})

	m.Resolve(directive(protocol.ActionFindLawyer), "msg-1", DecisionConfirmed)
	m.Wait()

	if nav.destination() != NavigationLawyers {
		t.Fatalf("navigated to %q", nav.destination())
	}
	if status.last().response != "用户已确认寻找律师，正在匹配合适的律师" {
		t.Errorf("response = %q", status.last().response)
	}
}

// =============================================================================
// DESCRIPTIONS
// =============================================================================

func TestAutoCompleteUsesGenericDescription(t *testing.T) {
	status := &statusRecorder{}
	reporter := &fakeReporter{}
	m := NewManager(Config{Status: status, Reporter: reporter, Logger: quietLogger()})

	m.AutoComplete(directive(protocol.ActionProgress), "msg-1")
	m.Wait()

	last := status.last()
	if last.status != model.ActionStatusCompleted {
		t.Errorf("status = %q", last.status)
	}
	if last.response != "用户操作：completed" {
		t.Errorf("response = %q", last.response)
	}
}

func TestDescribeOutcome(t *testing.T) {
	meta := map[string]any{"fileName": "合同.pdf", "fileSize": int64(3 * 1024 * 1024)}
	tests := []struct {
		actionType string
		decision   Decision
		meta       map[string]any
		want       string
	}{
		{protocol.ActionUpload, DecisionUploaded, meta, "用户已确认上传文件：合同.pdf(3.00MB)"},
		{protocol.ActionUpload, DecisionConfirmed, nil, "用户已确认上传文件"},
		{protocol.ActionUpload, DecisionCancelled, nil, "用户拒绝上传文件"},
		{protocol.ActionDownload, DecisionDownloaded, nil, "用户已确认下载文件"},
		{protocol.ActionDownload, DecisionCancelled, nil, "用户拒绝下载文件"},
		{protocol.ActionDialog, DecisionConfirmed, nil, "用户已同意提供个人信息"},
		{protocol.ActionPersonalInfo, DecisionCancelled, nil, "用户拒绝提供个人信息"},
		{protocol.ActionConfirm, DecisionConfirmed, nil, "用户已确认执行操作"},
		{protocol.ActionConfirm, DecisionCancelled, nil, "用户已取消操作"},
		{protocol.ActionWarning, DecisionAcknowledged, nil, "用户已知悉法律风险提醒"},
		{protocol.ActionInfo, DecisionAcknowledged, nil, "用户已查看法律建议"},
		{protocol.ActionProgress, DecisionViewDetails, nil, "用户已查看案件进度详情"},
		{protocol.ActionLawsuit, DecisionConfirmed, nil, "用户已确认发起诉讼，正在生成诉讼文书"},
		{protocol.ActionLawsuit, DecisionCancelled, nil, "用户取消发起诉讼"},
		{protocol.ActionFindLawyer, DecisionConfirmed, nil, "用户已确认寻找律师，正在匹配合适的律师"},
		{protocol.ActionFindLawyer, DecisionCancelled, nil, "用户取消寻找律师"},
		{"mystery", DecisionConfirmed, nil, "用户操作：confirmed"},
		{protocol.ActionWarning, DecisionCancelled, nil, "用户操作：cancelled"},
	}
	for _, tt := range tests {
		got := describeOutcome(tt.actionType, tt.decision, tt.meta)
		if got != tt.want {
			t.Errorf("describeOutcome(%s, %s) = %q, want %q", tt.actionType, tt.decision, got, tt.want)
		}
	}
}
