// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph builds a name-based call graph over reformatted program text.
//
// Names are textual: two functions with the same name collapse onto the last
// one encountered. No lexical binding resolution is attempted.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/scriptlens/services/viewer/ast"
)

var tracer = otel.Tracer("viewer.graph")

// FunctionRange is the line span of one function-like node and the names it calls.
//
// Lines are 1-based and inclusive. Name is empty for anonymous expressions.
type FunctionRange struct {
	StartLine int
	EndLine   int
	Name      string
	Kind      ast.FunctionKind
	Callees   map[string]struct{}
}

// Span returns the number of lines covered by the range.
func (r *FunctionRange) Span() int {
	return r.EndLine - r.StartLine
}

// Contains reports whether line lies inside the range.
func (r *FunctionRange) Contains(line int) bool {
	return r.StartLine <= line && line <= r.EndLine
}

// Calls reports whether name is one of the range's callees.
func (r *FunctionRange) Calls(name string) bool {
	_, ok := r.Callees[name]
	return ok
}

// CalleeNames returns the callee names sorted.
func (r *FunctionRange) CalleeNames() []string {
	out := make([]string, 0, len(r.Callees))
	for c := range r.Callees {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// CodeGraph is the immutable call graph for one reformatted text.
//
// Thread Safety: A CodeGraph is never mutated after Build returns and is safe
// for concurrent reads.
type CodeGraph struct {
	// DefMap maps a function name to its 1-based start line. Last write wins.
	DefMap map[string]int

	// FuncMap maps a function name to its range. Last write wins.
	FuncMap map[string]*FunctionRange

	// AllRanges holds every function-like range, named or not, in pre-order.
	AllRanges []*FunctionRange

	// SourceHash is the SHA256 of the text the graph was built from.
	SourceHash string

	// BuiltAtMilli is when the graph was built.
	BuiltAtMilli int64
}

// NewEmpty returns a graph with no functions.
func NewEmpty() *CodeGraph {
	return &CodeGraph{
		DefMap:  make(map[string]int),
		FuncMap: make(map[string]*FunctionRange),
	}
}

// Empty reports whether the graph has no ranges. A nil graph is empty.
func (g *CodeGraph) Empty() bool {
	return g == nil || len(g.AllRanges) == 0
}

// Definition returns the start line of the named function.
func (g *CodeGraph) Definition(name string) (int, bool) {
	if g == nil {
		return 0, false
	}
	line, ok := g.DefMap[name]
	return line, ok
}

// Function returns the range registered under name.
func (g *CodeGraph) Function(name string) (*FunctionRange, bool) {
	if g == nil {
		return nil, false
	}
	r, ok := g.FuncMap[name]
	return r, ok
}

// Stats summarizes the graph for logging and debug output.
type Stats struct {
	Ranges    int `json:"ranges"`
	Named     int `json:"named"`
	Anonymous int `json:"anonymous"`
	Edges     int `json:"edges"`
}

// Stats returns graph counts.
func (g *CodeGraph) Stats() Stats {
	var s Stats
	if g == nil {
		return s
	}
	s.Ranges = len(g.AllRanges)
	s.Named = len(g.FuncMap)
	for _, r := range g.AllRanges {
		if r.Name == "" {
			s.Anonymous++
		}
		s.Edges += len(r.Callees)
	}
	return s
}

// Parser is the subset of ast.JavaScriptParser the builder needs.
type Parser interface {
	Parse(ctx context.Context, content []byte) (*ast.ParseResult, error)
}

// Builder produces CodeGraphs from program text.
//
// Thread Safety: Safe for concurrent use if the Parser is.
type Builder struct {
	parser Parser
	logger *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithParser replaces the default JavaScript parser.
func WithParser(p Parser) BuilderOption {
	return func(b *Builder) {
		b.parser = p
	}
}

// WithLogger sets the builder's logger.
func WithLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = l
	}
}

// NewBuilder creates a Builder backed by the tree-sitter JavaScript parser.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		parser: ast.NewJavaScriptParser(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build parses text and assembles its CodeGraph.
//
// Description:
//
//	Every function-like node becomes a FunctionRange in AllRanges. Named
//	nodes also populate DefMap and FuncMap; a later node with the same name
//	overwrites an earlier one. Callees are the distinct names called anywhere
//	in the node's subtree, nested functions included.
//
// Inputs:
//
//	ctx  - Context for cancellation and tracing.
//	text - Reformatted program text.
//
// Outputs:
//
//	*CodeGraph - Never nil. On parse failure this is an empty graph.
//	error      - The wrapped parse failure. Callers treat it as a soft
//	             failure: focus and definition lookup are disabled but the
//	             load continues.
func (b *Builder) Build(ctx context.Context, text string) (*CodeGraph, error) {
	ctx, span := tracer.Start(ctx, "graph.Builder.Build")
	defer span.End()

	g := NewEmpty()
	g.BuiltAtMilli = time.Now().UnixMilli()

	result, err := b.parser.Parse(ctx, []byte(text))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		b.logger.Warn("graph build failed, continuing with empty graph",
			slog.Int("text_bytes", len(text)),
			slog.String("error", err.Error()),
		)
		return g, fmt.Errorf("building code graph: %w", err)
	}

	g.SourceHash = result.Hash
	g.AllRanges = make([]*FunctionRange, 0, len(result.Functions))
	for i := range result.Functions {
		fn := &result.Functions[i]
		r := &FunctionRange{
			StartLine: fn.StartLine,
			EndLine:   fn.EndLine,
			Name:      fn.Name,
			Kind:      fn.Kind,
			Callees:   make(map[string]struct{}, len(fn.Callees)),
		}
		for _, c := range fn.Callees {
			r.Callees[c] = struct{}{}
		}
		g.AllRanges = append(g.AllRanges, r)

		if fn.Named() {
			g.DefMap[fn.Name] = fn.StartLine
			g.FuncMap[fn.Name] = r
		}
	}

	stats := g.Stats()
	span.SetAttributes(
		attribute.Int("ranges", stats.Ranges),
		attribute.Int("named", stats.Named),
		attribute.Int("edges", stats.Edges),
		attribute.Int("error_nodes", result.ErrorNodes),
	)
	b.logger.Debug("code graph built",
		slog.Int("ranges", stats.Ranges),
		slog.Int("named", stats.Named),
		slog.Int("error_nodes", result.ErrorNodes),
	)

	return g, nil
}
