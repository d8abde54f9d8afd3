// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package action

import "github.com/lexforge/lexchat/internal/protocol"

// =============================================================================
// OUTCOME DESCRIPTIONS
// =============================================================================

// describeOutcome renders the user-facing (and backend-reported)
// description of a resolved action. Unknown type/decision pairs fall
// through to a generic line so forward-compatible action types still
// produce a readable record.
func describeOutcome(actionType string, decision Decision, meta map[string]any) string {
	switch actionType {
	case protocol.ActionUpload:
		switch decision {
		case DecisionConfirmed, DecisionUploaded:
			s := "用户已确认上传文件"
			if name, ok := meta["fileName"].(string); ok && name != "" {
				s += "：" + name
				if size, ok := meta["fileSize"].(int64); ok && size > 0 {
					s += "(" + formatFileSize(size) + ")"
				}
			}
			return s
		case DecisionCancelled:
			return "用户拒绝上传文件"
		}
	case protocol.ActionDownload:
		switch decision {
		case DecisionConfirmed, DecisionDownloaded:
			return "用户已确认下载文件"
		case DecisionCancelled:
			return "用户拒绝下载文件"
		}
	case protocol.ActionDialog, protocol.ActionPersonalInfo:
		switch decision {
		case DecisionConfirmed:
			return "用户已同意提供个人信息"
		case DecisionCancelled:
			return "用户拒绝提供个人信息"
		}
	case protocol.ActionConfirm:
		switch decision {
		case DecisionConfirmed:
			return "用户已确认执行操作"
		case DecisionCancelled:
			return "用户已取消操作"
		}
	case protocol.ActionWarning:
		if decision == DecisionAcknowledged {
			return "用户已知悉法律风险提醒"
		}
	case protocol.ActionInfo:
		if decision == DecisionAcknowledged {
			return "用户已查看法律建议"
		}
	case protocol.ActionProgress:
		if decision == DecisionViewDetails {
			return "用户已查看案件进度详情"
		}
	case protocol.ActionLawsuit:
		switch decision {
		case DecisionConfirmed:
			return "用户已确认发起诉讼，正在生成诉讼文书"
		case DecisionCancelled:
			return "用户取消发起诉讼"
		}
	case protocol.ActionFindLawyer:
		switch decision {
		case DecisionConfirmed:
			return "用户已确认寻找律师，正在匹配合适的律师"
		case DecisionCancelled:
			return "用户取消寻找律师"
		}
	}
	return "用户操作：" + string(decision)
}
