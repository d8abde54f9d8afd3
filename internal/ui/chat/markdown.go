// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// markdownRenderer renders sealed assistant messages as terminal
// markdown. Streaming text is shown raw; re-rendering partial markdown
// on every token flickers badly.
type markdownRenderer struct {
	width int
	dark  bool
	tr    *glamour.TermRenderer
}

func newMarkdownRenderer(width int, dark bool) *markdownRenderer {
	r := &markdownRenderer{dark: dark}
	r.SetWidth(width)
	return r
}

// SetWidth rebuilds the underlying renderer for a new wrap width.
func (r *markdownRenderer) SetWidth(width int) {
	if width < 20 {
		width = 20
	}
	if r.tr != nil && r.width == width {
		return
	}
	r.width = width

	style := "light"
	if r.dark {
		style = "dark"
	}
	tr, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		r.tr = nil
		return
	}
	r.tr = tr
}

// Render returns the markdown rendering of content, or the raw content
// when rendering is unavailable.
func (r *markdownRenderer) Render(content string) string {
	if r.tr == nil {
		return content
	}
	out, err := r.tr.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}
