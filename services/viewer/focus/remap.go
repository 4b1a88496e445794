// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package focus

// Elided is the remap value for separator lines. Generated lines are 1-based,
// so 0 never collides with real code.
const Elided = 0

// LineRemap maps focused line numbers to generated line numbers.
//
// Description:
//
//	Total over 1..Len(): every focused line maps to a generated line or to
//	Elided. The reverse direction is kept alongside so scroll targets and
//	definition jumps resolve in O(1).
//
// Thread Safety: Immutable after construction; safe for concurrent reads.
type LineRemap struct {
	generated []int
	focused   map[int]int
	identity  bool
}

// Identity returns the remap of an unpruned view with n lines.
func Identity(n int) *LineRemap {
	if n < 0 {
		n = 0
	}
	gen := make([]int, n)
	for i := range gen {
		gen[i] = i + 1
	}
	return &LineRemap{generated: gen, identity: true}
}

func newRemap(generated []int) *LineRemap {
	r := &LineRemap{
		generated: generated,
		focused:   make(map[int]int, len(generated)),
	}
	for i, g := range generated {
		if g != Elided {
			r.focused[g] = i + 1
		}
	}
	return r
}

// Len returns the number of focused lines.
func (r *LineRemap) Len() int {
	if r == nil {
		return 0
	}
	return len(r.generated)
}

// IsIdentity reports whether the remap belongs to a full view.
func (r *LineRemap) IsIdentity() bool {
	return r == nil || r.identity
}

// Generated returns the generated line for focused line f, or Elided when f
// is a separator or out of range.
func (r *LineRemap) Generated(f int) int {
	if r == nil {
		return f
	}
	if f < 1 || f > len(r.generated) {
		return Elided
	}
	return r.generated[f-1]
}

// IsElided reports whether focused line f is a separator.
func (r *LineRemap) IsElided(f int) bool {
	return r.Generated(f) == Elided
}

// Focused returns the focused line showing generated line g.
func (r *LineRemap) Focused(g int) (int, bool) {
	if r == nil {
		return g, g >= 1
	}
	if r.identity {
		if g >= 1 && g <= len(r.generated) {
			return g, true
		}
		return 0, false
	}
	f, ok := r.focused[g]
	return f, ok
}

// Entries returns a copy of the focused-to-generated table, index f-1.
func (r *LineRemap) Entries() []int {
	if r == nil {
		return nil
	}
	out := make([]int, len(r.generated))
	copy(out, r.generated)
	return out
}
