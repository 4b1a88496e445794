// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package render

import (
	"errors"
	"sync"

	"github.com/AleutianAI/scriptlens/services/viewer/ast"
	"github.com/AleutianAI/scriptlens/services/viewer/focus"
	"github.com/AleutianAI/scriptlens/services/viewer/graph"
)

var (
	// ErrDefinitionNotLocal is returned when the current graph has no
	// definition for a name. Callers fall back to the remote lookup.
	ErrDefinitionNotLocal = errors.New("definition not in current source")

	// ErrFocusUnavailable is returned when focused mode is requested for a
	// load that produced no focused view.
	ErrFocusUnavailable = errors.New("focused view unavailable")
)

// View is the render input of one applied load.
type View struct {
	// Generated is the full generated text.
	Generated string

	// Focused is the projection, or nil when no focus is available.
	Focused *focus.FocusedView

	// Graph resolves local definitions. May be empty.
	Graph *graph.CodeGraph

	// Highlights are in generated coordinates.
	Highlights []Highlight

	// Target is the initially requested line in generated coordinates.
	Target int

	// Tokens are the function-name tokens of the generated text.
	Tokens []ast.Token
}

// Coordinator tracks the active mode for one load and recomputes the render
// model on every transition.
//
// Description:
//
//	The model is never patched: Toggle, SetMode and NavigateToDefinition
//	all re-render against the remap that becomes active, so switching back
//	and forth always yields the same model for the same mode and target.
//
// Thread Safety: Safe for concurrent use.
type Coordinator struct {
	mu     sync.Mutex
	view   View
	tokens map[int][]Token
	mode   Mode
	target int
	model  *Model
}

// NewCoordinator creates a Coordinator. A request for ModeFocused without a
// focused view starts in ModeFull.
func NewCoordinator(view View, mode Mode) *Coordinator {
	c := &Coordinator{
		view:   view,
		tokens: tokensByLine(view.Tokens, view.Graph),
		target: view.Target,
	}
	if mode == ModeFocused && view.Focused == nil {
		mode = ModeFull
	}
	c.mode = mode
	c.model = c.renderLocked()
	return c
}

// Mode returns the active mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Model returns the current render model.
func (c *Coordinator) Model() *Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// FocusAvailable reports whether the load produced a focused view.
func (c *Coordinator) FocusAvailable() bool {
	return c.view.Focused != nil
}

// Toggle switches between focused and full view. Without a focused view it
// stays in full view.
func (c *Coordinator) Toggle() *Model {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeFocused {
		c.mode = ModeFull
	} else if c.view.Focused != nil {
		c.mode = ModeFocused
	}
	c.model = c.renderLocked()
	return c.model
}

// SetMode activates mode.
func (c *Coordinator) SetMode(mode Mode) (*Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if mode == ModeFocused && c.view.Focused == nil {
		return c.model, ErrFocusUnavailable
	}
	c.mode = mode
	c.model = c.renderLocked()
	return c.model, nil
}

// NavigateToDefinition scrolls to the local definition of name.
//
// Description:
//
//	When the definition line is hidden by the focused view, the coordinator
//	switches to the full view first so navigation never silently fails.
//
// Outputs:
//
//	*Model - The model after navigation.
//	error  - ErrDefinitionNotLocal when the graph has no such name.
func (c *Coordinator) NavigateToDefinition(name string) (*Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, ok := c.view.Graph.Definition(name)
	if !ok {
		return c.model, ErrDefinitionNotLocal
	}

	if c.mode == ModeFocused {
		if _, shown := c.view.Focused.Remap.Focused(line); !shown {
			c.mode = ModeFull
		}
	}
	c.target = line
	c.model = c.renderLocked()
	return c.model, nil
}

// ScrollTo sets the scroll target in generated coordinates.
func (c *Coordinator) ScrollTo(line int) *Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = line
	c.model = c.renderLocked()
	return c.model
}

func (c *Coordinator) renderLocked() *Model {
	var m *Model
	if c.mode == ModeFocused && c.view.Focused != nil {
		m = RenderLines(c.view.Focused.Lines, c.view.Focused.Remap, c.view.Highlights, c.target)
	} else {
		m = Render(c.view.Generated, nil, c.view.Highlights, c.target)
	}
	for i := range m.Lines {
		if !m.Lines[i].Hidden {
			m.Lines[i].Tokens = c.tokens[m.Lines[i].Generated]
		}
	}
	return m
}

// tokensByLine groups tokens by generated line.
func tokensByLine(tokens []ast.Token, g *graph.CodeGraph) map[int][]Token {
	out := make(map[int][]Token)
	for _, t := range tokens {
		_, local := g.Definition(t.Name)
		out[t.Line] = append(out[t.Line], Token{
			Name:   t.Name,
			Kind:   t.Kind,
			Column: t.Column,
			Local:  local,
		})
	}
	return out
}
