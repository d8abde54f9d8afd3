// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"bytes"
	"strings"
)

// =============================================================================
// FRAME DECODER
// =============================================================================

// dataPrefix marks an SSE data line.
const dataPrefix = "data:"

// doneMarker is the transport-level end-of-stream marker.
const doneMarker = "[DONE]"

// FrameDecoder reassembles logical text frames from a sequence of raw
// byte chunks.
//
// Chunks are buffered at the byte level and split on '\n', so a line (or a
// multi-byte UTF-8 character) divided across chunk boundaries is simply
// carried over until its terminating newline arrives. Splitting on the
// newline byte is UTF-8 safe: 0x0A never occurs inside a multi-byte
// sequence.
//
// The decoder never fails on malformed input; frames are handed to the
// classifier as-is and malformation is detected there.
type FrameDecoder struct {
	buf  []byte
	done bool
}

// NewFrameDecoder creates an empty frame decoder.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{}
}

// Done reports whether the [DONE] end marker has been seen.
// Once done, all further input is discarded.
func (d *FrameDecoder) Done() bool {
	return d.done
}

// Write feeds one raw chunk into the decoder and returns the complete
// frames it unlocked, in order. The trailing undelimited remainder is
// retained for the next chunk.
//
// Blank lines are discarded. A "data:" prefix is stripped and the payload
// whitespace-trimmed; lines without the prefix are passed through as
// best-effort raw candidates (lenient backends omit the prefix). The
// literal [DONE] marker, with or without the prefix, terminates the
// decoder and discards any buffered bytes.
func (d *FrameDecoder) Write(chunk []byte) []string {
	if d.done {
		return nil
	}

	d.buf = append(d.buf, chunk...)

	var frames []string
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(d.buf[:idx])
		d.buf = d.buf[idx+1:]

		frame, ok := d.decodeLine(line)
		if !ok {
			continue
		}
		if frame == doneMarker {
			d.done = true
			d.buf = nil
			return frames
		}
		frames = append(frames, frame)
	}

	return frames
}

// Flush emits any trailing undelimited remainder as a final frame.
// Call on clean end-of-stream so that a backend that does not
// newline-terminate its last data line still gets its frame delivered.
func (d *FrameDecoder) Flush() []string {
	if d.done || len(d.buf) == 0 {
		return nil
	}
	line := string(d.buf)
	d.buf = nil

	frame, ok := d.decodeLine(line)
	if !ok {
		return nil
	}
	if frame == doneMarker {
		d.done = true
		return nil
	}
	return []string{frame}
}

// decodeLine strips the data prefix and trims one raw line.
// Returns false for blank lines.
func (d *FrameDecoder) decodeLine(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", false
	}
	if strings.HasPrefix(trimmed, dataPrefix) {
		trimmed = strings.TrimSpace(trimmed[len(dataPrefix):])
		if trimmed == "" {
			return "", false
		}
	}
	return trimmed, true
}
