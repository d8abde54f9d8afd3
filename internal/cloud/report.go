// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/lexforge/lexchat/internal/protocol"
)

// =============================================================================
// ACTION OUTCOME REPORTING
// =============================================================================

// reportLimiter bounds action-outcome traffic. Reports are best-effort
// fire-and-forget; a burst of user decisions must not hammer the backend.
var reportLimiter = rate.NewLimiter(rate.Limit(5), 10)

// ActionOutcome describes a resolved action for the backend: the
// original directive, the user's decision, and any side-effect metadata
// (uploaded file url, generated document name, ...).
type ActionOutcome struct {
	Action   *protocol.ActionDirective `json:"action"`
	Status   string                    `json:"status"`
	Metadata map[string]any            `json:"extraData,omitempty"`
}

// actionReportRequest is the wire payload of the action-response
// endpoint. ActionID carries the directive's opaque data verbatim,
// JSON-encoded; Response carries the full outcome envelope.
type actionReportRequest struct {
	ActionID  string `json:"actionId"`
	Response  string `json:"response"`
	MessageID string `json:"messageId"`
}

// ReportActionOutcome delivers a resolved action to the backend.
//
// The call is best-effort: callers log failures and never roll back the
// locally committed action state, and the report is never retried beyond
// the standard transient-error budget.
func (c *Client) ReportActionOutcome(ctx context.Context, outcome ActionOutcome, messageID string) error {
	if err := reportLimiter.Wait(ctx); err != nil {
		return err
	}

	actionID, err := json.Marshal(outcome.Action.Data)
	if err != nil {
		return err
	}
	response, err := json.Marshal(outcome)
	if err != nil {
		return err
	}

	req := actionReportRequest{
		ActionID:  string(actionID),
		Response:  string(response),
		MessageID: messageID,
	}
	return c.doJSON(ctx, http.MethodPost, pathActionResponse, req, nil)
}
