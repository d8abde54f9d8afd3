// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol implements the wire protocol of the legal-assistant
// streaming chat backend.
//
// The backend delivers assistant responses as an SSE-flavored byte stream:
// line-oriented frames, each prefixed with "data:", carrying either a JSON
// chat-completion chunk, a bare action object, plain text with embedded
// [ACTION:...] markers (two historical encodings), or the literal [DONE]
// end marker.
//
// The package provides two layers:
//
//   - FrameDecoder turns raw byte chunks into logical text frames,
//     tolerating lines and multi-byte UTF-8 characters split across
//     chunk boundaries.
//   - Classify turns one frame into typed application events (text
//     deltas, action directives, completion markers).
//
// Malformed frames are never fatal: classification falls through the
// priority ladder and ultimately reports the frame as unparseable, which
// callers drop with diagnostic logging only.
package protocol
