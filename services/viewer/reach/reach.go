// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reach computes which functions are reachable from findings through
// the name-based call graph.
package reach

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/scriptlens/services/viewer/finding"
	"github.com/AleutianAI/scriptlens/services/viewer/focus"
	"github.com/AleutianAI/scriptlens/services/viewer/graph"
)

var tracer = otel.Tracer("viewer.reach")

// DefaultMaxDepth is the default bound on call hops from a seed.
const DefaultMaxDepth = 10

// ErrNoFocus is returned when no finding lies inside any function range.
// Callers present the unpruned view.
var ErrNoFocus = errors.New("no finding inside a function range")

// VisitedFunction is a named function reached by the traversal.
type VisitedFunction struct {
	// Name is the function name.
	Name string `json:"name"`

	// Depth is the number of call hops from the nearest seed (1 for a
	// direct callee of a seed).
	Depth int `json:"depth"`

	// Range is the function's line span.
	Range focus.Range `json:"range"`
}

// Result is the outcome of one reachability analysis.
type Result struct {
	// Seeds are the innermost ranges containing at least one finding, in
	// first-hit order and without duplicates.
	Seeds []*graph.FunctionRange

	// Visited are the named functions reached from the seeds, in BFS order.
	Visited []VisitedFunction

	// Ranges are the seed ranges followed by every visited range, unmerged.
	Ranges []focus.Range

	// Unplaced counts findings outside every function range.
	Unplaced int

	// Truncated is true when the depth bound stopped the traversal while
	// unvisited callees remained.
	Truncated bool
}

// Analyzer runs bounded breadth-first reachability over a CodeGraph.
//
// Thread Safety: Stateless after construction; safe for concurrent use.
type Analyzer struct {
	// MaxDepth bounds call hops from a seed. Values < 1 use DefaultMaxDepth.
	MaxDepth int
}

// NewAnalyzer creates an Analyzer with the given depth bound.
func NewAnalyzer(maxDepth int) *Analyzer {
	return &Analyzer{MaxDepth: maxDepth}
}

func (a *Analyzer) maxDepth() int {
	if a == nil || a.MaxDepth < 1 {
		return DefaultMaxDepth
	}
	return a.MaxDepth
}

// Innermost returns the smallest range in ranges containing line.
//
// Description:
//
//	Smallest means the least EndLine-StartLine. On a tie the range that
//	comes first in ranges wins.
//
// Outputs:
//
//	*graph.FunctionRange - The innermost range, or nil when none contains line.
func Innermost(line int, ranges []*graph.FunctionRange) *graph.FunctionRange {
	var best *graph.FunctionRange
	for _, r := range ranges {
		if !r.Contains(line) {
			continue
		}
		if best == nil || r.Span() < best.Span() {
			best = r
		}
	}
	return best
}

type queued struct {
	name  string
	depth int
}

// Analyze seeds from the findings and expands through the call graph.
//
// Description:
//
//	Each finding selects its innermost containing range as a seed. The union
//	of the seeds' callee names starts a breadth-first traversal over
//	g.FuncMap. Every name is visited at most once, so cycles terminate. A
//	seed that is itself registered in FuncMap under its name counts as
//	visited and is not reported again.
//
// Inputs:
//
//	ctx      - Context for tracing.
//	findings - Findings in generated coordinates.
//	g        - The code graph. A nil or empty graph yields ErrNoFocus.
//
// Outputs:
//
//	*Result - Seeds, visited functions and the unmerged ranges to show.
//	error   - ErrNoFocus when no finding produced a seed.
func (a *Analyzer) Analyze(ctx context.Context, findings []finding.Mapped, g *graph.CodeGraph) (*Result, error) {
	_, span := tracer.Start(ctx, "reach.Analyzer.Analyze")
	defer span.End()

	maxDepth := a.maxDepth()
	span.SetAttributes(
		attribute.Int("findings", len(findings)),
		attribute.Int("max_depth", maxDepth),
	)

	if g.Empty() {
		return nil, ErrNoFocus
	}

	result := &Result{}
	seeded := make(map[*graph.FunctionRange]struct{})
	for _, f := range findings {
		r := Innermost(f.Line, g.AllRanges)
		if r == nil {
			result.Unplaced++
			continue
		}
		if _, dup := seeded[r]; dup {
			continue
		}
		seeded[r] = struct{}{}
		result.Seeds = append(result.Seeds, r)
	}

	if len(result.Seeds) == 0 {
		span.SetAttributes(attribute.Bool("no_focus", true))
		return nil, ErrNoFocus
	}

	visited := make(map[string]struct{}, len(g.FuncMap))
	for _, s := range result.Seeds {
		if s.Name != "" && g.FuncMap[s.Name] == s {
			visited[s.Name] = struct{}{}
		}
		result.Ranges = append(result.Ranges, focus.Range{Start: s.StartLine, End: s.EndLine})
	}

	var queue []queued
	enqueue := func(r *graph.FunctionRange, depth int) {
		for _, name := range r.CalleeNames() {
			if _, seen := visited[name]; seen {
				continue
			}
			if _, ok := g.FuncMap[name]; !ok {
				continue
			}
			if depth > maxDepth {
				result.Truncated = true
				return
			}
			visited[name] = struct{}{}
			queue = append(queue, queued{name: name, depth: depth})
		}
	}

	for _, s := range result.Seeds {
		enqueue(s, 1)
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		fn := g.FuncMap[item.name]
		rng := focus.Range{Start: fn.StartLine, End: fn.EndLine}
		result.Visited = append(result.Visited, VisitedFunction{
			Name:  item.name,
			Depth: item.depth,
			Range: rng,
		})
		result.Ranges = append(result.Ranges, rng)

		enqueue(fn, item.depth+1)
	}

	span.SetAttributes(
		attribute.Int("seeds", len(result.Seeds)),
		attribute.Int("visited", len(result.Visited)),
		attribute.Int("unplaced", result.Unplaced),
		attribute.Bool("truncated", result.Truncated),
	)
	if result.Truncated {
		slog.Debug("reachability truncated at depth bound",
			slog.Int("max_depth", maxDepth),
			slog.Int("visited", len(result.Visited)),
		)
	}

	return result, nil
}
