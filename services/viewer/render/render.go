// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package render turns a load result into what the display boundary draws:
// gutter numbers, highlight lines and a scroll target, in whichever line
// space is active.
package render

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/AleutianAI/scriptlens/services/viewer/ast"
	"github.com/AleutianAI/scriptlens/services/viewer/finding"
	"github.com/AleutianAI/scriptlens/services/viewer/focus"
)

// HiddenMarker is the gutter label of separator lines.
const HiddenMarker = "⋯"

// Mode selects which view is rendered.
type Mode int

const (
	// ModeFull renders the whole generated text.
	ModeFull Mode = iota

	// ModeFocused renders the reachable projection.
	ModeFocused
)

// String returns the mode name used in query state.
func (m Mode) String() string {
	if m == ModeFocused {
		return "focused"
	}
	return "full"
}

// ParseMode parses a mode name. The empty string is ModeFocused.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "focused", "focus":
		return ModeFocused, nil
	case "full":
		return ModeFull, nil
	default:
		return ModeFull, fmt.Errorf("unknown view mode %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Highlight is a line to emphasize, in generated coordinates.
type Highlight struct {
	Line     int              `json:"line"`
	Severity finding.Severity `json:"severity"`
}

// Line is one displayed line.
type Line struct {
	// Number is the 1-based display line.
	Number int `json:"number"`

	// Generated is the generated line shown, or focus.Elided.
	Generated int `json:"generated"`

	// Gutter is the label drawn next to the line.
	Gutter string `json:"gutter"`

	Text        string           `json:"text"`
	Hidden      bool             `json:"hidden,omitempty"`
	Highlighted bool             `json:"highlighted,omitempty"`
	Severity    finding.Severity `json:"severity,omitempty"`

	// Tokens are the clickable names on the line.
	Tokens []Token `json:"tokens,omitempty"`
}

// Token is a clickable function name on a displayed line.
type Token struct {
	Name string        `json:"name"`
	Kind ast.TokenKind `json:"kind"`

	// Column is the 0-based byte column of the name.
	Column int `json:"column"`

	// Local is true when the applied graph defines Name, so navigation stays
	// in the current source.
	Local bool `json:"local"`
}

// Model is the render contract handed to the display boundary.
type Model struct {
	Mode  Mode   `json:"mode"`
	Lines []Line `json:"lines"`

	// Highlights are in display coordinates, one per line, sorted.
	Highlights []Highlight `json:"highlights"`

	// ScrollTarget is the display line to scroll to, 0 when there is none.
	ScrollTarget int `json:"scroll_target"`

	// Remap is the active remap. Identity in full mode.
	Remap *focus.LineRemap `json:"-"`
}

// HighlightedLines returns the display lines carrying a highlight.
func (m *Model) HighlightedLines() []int {
	out := make([]int, 0, len(m.Highlights))
	for _, h := range m.Highlights {
		out = append(out, h.Line)
	}
	return out
}

// Render resolves highlights, gutter labels and the scroll target of text
// through remap.
//
// Description:
//
//	A nil remap is the identity over text's lines. Highlights whose line is
//	not shown are dropped; several highlights on one display line collapse
//	into the most severe. The scroll target is the display line showing
//	target, falling back to the first visible highlight.
//
// Inputs:
//
//	text       - The displayed text (focused or full).
//	remap      - Display-to-generated remap, or nil for the full view.
//	highlights - Highlights in generated coordinates.
//	target     - Requested scroll line in generated coordinates, or 0.
//
// Outputs:
//
//	*Model - Never nil.
func Render(text string, remap *focus.LineRemap, highlights []Highlight, target int) *Model {
	return RenderLines(focus.SplitLines(text), remap, highlights, target)
}

// RenderLines is Render over text already split into lines.
func RenderLines(lines []string, remap *focus.LineRemap, highlights []Highlight, target int) *Model {
	if remap == nil {
		remap = focus.Identity(len(lines))
	}

	model := &Model{
		Mode:  ModeFull,
		Lines: make([]Line, len(lines)),
		Remap: remap,
	}
	if !remap.IsIdentity() {
		model.Mode = ModeFocused
	}

	bySeverity := make(map[int]finding.Severity, len(highlights))
	firstHighlight := 0
	for _, h := range highlights {
		f, ok := remap.Focused(h.Line)
		if !ok || f > len(lines) {
			continue
		}
		if firstHighlight == 0 {
			firstHighlight = f
		}
		if cur, seen := bySeverity[f]; !seen || h.Severity > cur {
			bySeverity[f] = h.Severity
		}
	}

	for i, content := range lines {
		n := i + 1
		g := remap.Generated(n)
		line := Line{
			Number:    n,
			Generated: g,
			Text:      content,
		}
		if g == focus.Elided {
			line.Hidden = true
			line.Gutter = HiddenMarker
		} else {
			line.Gutter = strconv.Itoa(g)
		}
		if sev, ok := bySeverity[n]; ok {
			line.Highlighted = true
			line.Severity = sev
		}
		model.Lines[i] = line
	}

	model.Highlights = make([]Highlight, 0, len(bySeverity))
	for f, sev := range bySeverity {
		model.Highlights = append(model.Highlights, Highlight{Line: f, Severity: sev})
	}
	sort.Slice(model.Highlights, func(i, j int) bool {
		return model.Highlights[i].Line < model.Highlights[j].Line
	})

	if target > 0 {
		if f, ok := remap.Focused(target); ok && f <= len(lines) {
			model.ScrollTarget = f
		}
	}
	if model.ScrollTarget == 0 {
		model.ScrollTarget = firstHighlight
	}

	return model
}
