// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package focus projects reachable line ranges into a compact view with
// elision separators and a bidirectional line remap.
package focus

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MergeGap is the largest number of hidden lines absorbed into a neighboring
// group instead of being elided.
const MergeGap = 1

var (
	// ErrNoRanges is returned when no range overlaps the text.
	ErrNoRanges = errors.New("no ranges inside text")

	// ErrRemapMismatch is returned by Verify when a focused line does not
	// match the generated line it claims to show.
	ErrRemapMismatch = errors.New("focused line does not match generated line")
)

// Range is an inclusive 1-based line span in generated coordinates.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Lines returns the number of lines in the range.
func (r Range) Lines() int {
	return r.End - r.Start + 1
}

// FocusedView is a line-pruned projection of generated text.
type FocusedView struct {
	// Text is Lines joined with newlines.
	Text string

	// Lines are the focused lines, separators included.
	Lines []string

	// Remap maps each focused line to its generated line or Elided.
	Remap *LineRemap

	// Groups are the merged ranges in order.
	Groups []Range

	// HiddenLines is the total count of generated lines not shown.
	HiddenLines int
}

// Separator returns the elision line for n hidden lines.
func Separator(n int) string {
	if n == 1 {
		return "// ... 1 line hidden ..."
	}
	return fmt.Sprintf("// ... %d lines hidden ...", n)
}

// SplitLines splits text into lines. A trailing newline does not produce an
// extra empty line.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Merge clamps ranges to 1..total, sorts them and merges neighbors.
//
// Description:
//
//	Two ranges merge when the next one starts no more than MergeGap hidden
//	lines after the previous one ends, i.e. next.Start <= prev.End+2.
//	Inverted and fully out-of-bounds ranges are dropped.
func Merge(ranges []Range, total int) []Range {
	clamped := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		if r.End < r.Start {
			continue
		}
		if r.Start < 1 {
			r.Start = 1
		}
		if r.End > total {
			r.End = total
		}
		if r.Start > r.End {
			continue
		}
		clamped = append(clamped, r)
	}
	if len(clamped) == 0 {
		return nil
	}

	sort.SliceStable(clamped, func(i, j int) bool {
		return clamped[i].Start < clamped[j].Start
	})

	merged := []Range{clamped[0]}
	for _, r := range clamped[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End+MergeGap+1 {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Project builds the focused view of lines restricted to ranges.
//
// Description:
//
//	Emits each merged group's raw lines in order, separated by a line stating
//	how many lines were hidden between groups. A leading separator is added
//	when the first group starts after line 1, and a trailing one when the
//	last group ends before the last line.
//
// Inputs:
//
//	ranges - Unmerged relevant ranges in generated coordinates.
//	lines  - Full generated text, one entry per line.
//
// Outputs:
//
//	*FocusedView - The projection. Its remap is total over every focused line.
//	error        - ErrNoRanges when nothing overlaps lines.
func Project(ranges []Range, lines []string) (*FocusedView, error) {
	groups := Merge(ranges, len(lines))
	if len(groups) == 0 {
		return nil, ErrNoRanges
	}

	out := make([]string, 0, len(lines))
	remap := make([]int, 0, len(lines))
	hidden := 0

	emitSeparator := func(n int) {
		out = append(out, Separator(n))
		remap = append(remap, Elided)
		hidden += n
	}

	if before := groups[0].Start - 1; before > 0 {
		emitSeparator(before)
	}

	prevEnd := 0
	for i, g := range groups {
		if i > 0 {
			emitSeparator(g.Start - prevEnd - 1)
		}
		for line := g.Start; line <= g.End; line++ {
			out = append(out, lines[line-1])
			remap = append(remap, line)
		}
		prevEnd = g.End
	}

	if after := len(lines) - prevEnd; after > 0 {
		emitSeparator(after)
	}

	return &FocusedView{
		Text:        strings.Join(out, "\n"),
		Lines:       out,
		Remap:       newRemap(remap),
		Groups:      groups,
		HiddenLines: hidden,
	}, nil
}

// Verify checks that every non-separator focused line equals the generated
// line it maps to.
func Verify(view *FocusedView, lines []string) error {
	if view == nil {
		return errors.New("nil view")
	}
	if view.Remap.Len() != len(view.Lines) {
		return fmt.Errorf("remap covers %d lines, view has %d", view.Remap.Len(), len(view.Lines))
	}
	for f := 1; f <= len(view.Lines); f++ {
		g := view.Remap.Generated(f)
		if g == Elided {
			continue
		}
		if g < 1 || g > len(lines) {
			return fmt.Errorf("%w: focused line %d maps outside text (%d)", ErrRemapMismatch, f, g)
		}
		if view.Lines[f-1] != lines[g-1] {
			return fmt.Errorf("%w: focused line %d, generated line %d", ErrRemapMismatch, f, g)
		}
	}
	return nil
}
